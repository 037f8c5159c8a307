// Package domain defines the staging records the approval workflow
// produces: which NPCs occupy a region, how that list was derived, and
// how long it stays valid on the in-world clock.
package domain

import "time"

// Source records how a staging list was produced.
type Source string

const (
	// SourceRuleBased lists NPCs whose schedule places them in the region.
	SourceRuleBased Source = "rule_based"
	// SourceLLM lists NPCs proposed by the generative client.
	SourceLLM Source = "llm"
	// SourceCustom is a list the DM assembled by hand.
	SourceCustom Source = "custom"
	// SourcePreStaged was approved before any player entered the region.
	SourcePreStaged Source = "prestaged"
	// SourceAuto was applied without DM review.
	SourceAuto Source = "auto"
)

// StagedNPC is one entry in an approved or proposed staging list.
type StagedNPC struct {
	CharacterID string
	Name        string
	// Present means the NPC is in the region at all. Hidden NPCs are
	// present but not revealed to players until the DM chooses to.
	Present   bool
	Hidden    bool
	Mood      string
	Reasoning string
}

// Staging is an NPC placement for a region. Validity is measured on the
// in-world clock: the record expires when the session's game time passes
// GameTime + TTL, regardless of how much real time elapsed.
type Staging struct {
	ID        string
	RegionID  string
	SessionID string
	NPCs      []StagedNPC
	Source    Source
	// GameTime is the in-world time at which the staging was approved.
	GameTime time.Time
	// TTL is the in-world duration the staging stays valid for. Zero
	// means the staging never expires on its own.
	TTL time.Duration
	// ApprovedBy is the DM user that resolved the proposal, empty for
	// auto-applied stagings.
	ApprovedBy string
	CreatedAt  time.Time
	// Current marks the staging players see when they enter the region.
	// At most one staging per region is current.
	Current bool
}

// Expired reports whether the staging is stale at the given in-world time.
func (s Staging) Expired(gameTime time.Time) bool {
	if s.TTL == 0 {
		return false
	}
	return !gameTime.Before(s.GameTime.Add(s.TTL))
}

// VisibleNPCs returns the entries players may be shown: present and not
// hidden.
func (s Staging) VisibleNPCs() []StagedNPC {
	var out []StagedNPC
	for _, n := range s.NPCs {
		if n.Present && !n.Hidden {
			out = append(out, n)
		}
	}
	return out
}

// PresentNPCs returns every entry physically in the region, hidden or not.
func (s Staging) PresentNPCs() []StagedNPC {
	var out []StagedNPC
	for _, n := range s.NPCs {
		if n.Present {
			out = append(out, n)
		}
	}
	return out
}
