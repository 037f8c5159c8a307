package storage

import (
	"context"
	"errors"
	"time"

	narrative "github.com/louisbranch/tessera/internal/narrative/domain"
	staging "github.com/louisbranch/tessera/internal/staging/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// Region is a navigable area of a world.
type Region struct {
	ID          string
	WorldID     string
	Name        string
	Description string
}

// RegionNPC is an NPC whose schedule places it in a region. It seeds the
// rule-based candidate list when a staging proposal is built.
type RegionNPC struct {
	RegionID    string
	CharacterID string
	Name        string
	Mood        string
	Schedule    string
	Present     bool
	Hidden      bool
}

// LocationStore reads world reference data.
type LocationStore interface {
	GetRegion(ctx context.Context, id string) (Region, error)
	RegionNPCs(ctx context.Context, regionID string) ([]RegionNPC, error)
}

// StagingStore persists staging decisions. At most one staging per
// region is current; Save with Current set must demote any previous
// current record for the same region.
type StagingStore interface {
	SaveStaging(ctx context.Context, s staging.Staging) error
	CurrentStaging(ctx context.Context, regionID string) (staging.Staging, error)
	ClearCurrentStaging(ctx context.Context, regionID string) error
	StagingHistory(ctx context.Context, regionID string, limit int) ([]staging.Staging, error)
}

// NarrativeEventStore persists DM-authored narrative events. PutEvent
// overwrites by ID, so trigger bookkeeping is saved with it as well.
type NarrativeEventStore interface {
	PutEvent(ctx context.Context, e narrative.Event) error
	GetEvent(ctx context.Context, id string) (narrative.Event, error)
	ListActiveEvents(ctx context.Context, worldID string) ([]narrative.Event, error)
	SetEventActive(ctx context.Context, id string, active bool) error
}

// RelationshipStore persists directed character relationships.
// GetRelationship returns ErrNotFound when no relationship exists yet.
type RelationshipStore interface {
	GetRelationship(ctx context.Context, fromCharacter, toCharacter string) (narrative.Relationship, error)
	SaveRelationship(ctx context.Context, r narrative.Relationship) error
}

// Item is an inventory entry owned by a player character.
type Item struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	Quantity    int
}

// InventoryStore persists player-character inventories. TakeItem
// returns ErrNotFound when the named item is absent.
type InventoryStore interface {
	GiveItem(ctx context.Context, ownerID string, item Item) error
	TakeItem(ctx context.Context, ownerID, itemName string, quantity int) error
	ListItems(ctx context.Context, ownerID string) ([]Item, error)
}

// ChallengeStore flips challenge availability.
type ChallengeStore interface {
	SetEnabled(ctx context.Context, challengeID string, enabled bool) error
}

// JournalEntry is revealed information persisted for a player character.
type JournalEntry struct {
	ID        string
	OwnerID   string
	Entry     string
	CreatedAt time.Time
}

// JournalStore persists revealed information players can re-read.
type JournalStore interface {
	AppendJournal(ctx context.Context, entry JournalEntry) error
	ListJournal(ctx context.Context, ownerID string, limit int) ([]JournalEntry, error)
}

// StatStore adjusts numeric character-sheet values by a signed delta.
type StatStore interface {
	ModifyStat(ctx context.Context, ownerID, stat string, delta int) error
}

// StoryEvent is an append-only record of something that happened during
// a session: an approved action, a fired narrative event, a DM takeover.
type StoryEvent struct {
	ID        string
	SessionID string
	Kind      string
	Summary   string
	CreatedAt time.Time
}

// StoryEventStore persists the session timeline.
type StoryEventStore interface {
	AppendStoryEvent(ctx context.Context, e StoryEvent) error
	ListStoryEvents(ctx context.Context, sessionID string, limit int) ([]StoryEvent, error)
}
