// Package service evaluates narrative event triggers against live
// session context and executes outcome effects across the engine's
// collaborators. Effects fail independently; the caller always gets a
// full summary.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/louisbranch/tessera/internal/narrative/domain"
	"github.com/louisbranch/tessera/internal/platform/id"
	"github.com/louisbranch/tessera/internal/storage"
)

// SceneChanger flips the active scene of a session. Implemented by the
// session registry.
type SceneChanger interface {
	SetSceneID(sessionID, sceneID string) error
}

// Result reports one effect's execution. RequiresDM marks effects the
// engine cannot apply itself and hands to the DM instead.
type Result struct {
	Description string
	Success     bool
	Err         string
	RequiresDM  bool
}

// Summary aggregates the results of one outcome's effect list.
type Summary struct {
	EventID      string
	OutcomeName  string
	Results      []Result
	SuccessCount int
	// FailureCount excludes effects that merely require DM action.
	FailureCount     int
	PendingDMActions []string
}

// ExecContext names who and where effects apply to.
type ExecContext struct {
	SessionID         string
	WorldID           string
	PlayerCharacterID string
	SceneID           string
}

// Executor applies outcome effects. Any collaborator may be nil; effects
// needing it report failure instead of panicking.
type Executor struct {
	inventory     storage.InventoryStore
	challenges    storage.ChallengeStore
	events        storage.NarrativeEventStore
	relationships storage.RelationshipStore
	journal       storage.JournalStore
	stats         storage.StatStore
	scenes        SceneChanger

	clock      func() time.Time
	idGenerate func() string
}

// NewExecutor wires an effect executor.
func NewExecutor(inventory storage.InventoryStore, challenges storage.ChallengeStore, events storage.NarrativeEventStore, relationships storage.RelationshipStore, journal storage.JournalStore, stats storage.StatStore, scenes SceneChanger) *Executor {
	return &Executor{
		inventory:     inventory,
		challenges:    challenges,
		events:        events,
		relationships: relationships,
		journal:       journal,
		stats:         stats,
		scenes:        scenes,
		clock:         time.Now,
		idGenerate:    id.MustNewID,
	}
}

// Execute runs every effect in order. A failing effect never aborts the
// rest of the list.
func (e *Executor) Execute(ctx context.Context, eventID, outcomeName string, effects []domain.Effect, ec ExecContext) Summary {
	sum := Summary{EventID: eventID, OutcomeName: outcomeName}
	for _, eff := range effects {
		res := e.executeOne(ctx, eff, ec)
		if res.RequiresDM {
			sum.PendingDMActions = append(sum.PendingDMActions, res.Description)
		}
		if res.Success {
			sum.SuccessCount++
		} else if !res.RequiresDM {
			sum.FailureCount++
		}
		sum.Results = append(sum.Results, res)
	}
	log.Printf("executed %d effects for event %s outcome %s: %d ok, %d failed, %d pending DM",
		len(sum.Results), eventID, outcomeName, sum.SuccessCount, sum.FailureCount, len(sum.PendingDMActions))
	return sum
}

func (e *Executor) executeOne(ctx context.Context, eff domain.Effect, ec ExecContext) Result {
	switch eff.Kind {
	case domain.EffectGiveItem:
		return e.giveItem(ctx, eff, ec)
	case domain.EffectTakeItem:
		return e.takeItem(ctx, eff, ec)
	case domain.EffectEnableChallenge:
		return e.setChallenge(ctx, eff, true)
	case domain.EffectDisableChallenge:
		return e.setChallenge(ctx, eff, false)
	case domain.EffectEnableEvent:
		return e.setEvent(ctx, eff, true)
	case domain.EffectDisableEvent:
		return e.setEvent(ctx, eff, false)
	case domain.EffectModifyRelationship:
		return e.modifyRelationship(ctx, eff)
	case domain.EffectRevealInformation:
		return e.revealInformation(ctx, eff, ec)
	case domain.EffectModifyStat:
		return e.modifyStat(ctx, eff, ec)
	case domain.EffectTriggerScene:
		return e.triggerScene(eff, ec)
	case domain.EffectSetFlag, domain.EffectStartCombat, domain.EffectAddReward:
		// Extension points: the engine has no flag, combat, or reward
		// system yet, so these always go to the DM.
		return Result{
			Description: fmt.Sprintf("%s: %s (manual DM handling needed)", eff.Kind, describeUnimplemented(eff)),
			Err:         string(eff.Kind) + " is not implemented",
			RequiresDM:  true,
		}
	case domain.EffectCustom:
		return Result{
			Description: "custom effect: " + eff.Description,
			Success:     true,
			RequiresDM:  eff.RequiresDMAgent,
		}
	default:
		return Result{
			Description: "unknown effect kind " + string(eff.Kind),
			Err:         "unknown effect kind",
		}
	}
}

func describeUnimplemented(eff domain.Effect) string {
	switch eff.Kind {
	case domain.EffectSetFlag:
		return fmt.Sprintf("set flag %q to %v", eff.FlagName, eff.FlagValue)
	case domain.EffectStartCombat:
		return "start combat: " + eff.Description
	case domain.EffectAddReward:
		return fmt.Sprintf("add %d %s: %s", eff.Amount, eff.RewardType, eff.Description)
	}
	return eff.Description
}

func (e *Executor) giveItem(ctx context.Context, eff domain.Effect, ec ExecContext) Result {
	if e.inventory == nil {
		return Result{Description: "give " + eff.ItemName, Err: "inventory unavailable"}
	}
	qty := eff.Quantity
	if qty <= 0 {
		qty = 1
	}
	item := storage.Item{
		ID:          e.idGenerate(),
		OwnerID:     ec.PlayerCharacterID,
		Name:        eff.ItemName,
		Description: eff.ItemDescription,
		Quantity:    qty,
	}
	if err := e.inventory.GiveItem(ctx, ec.PlayerCharacterID, item); err != nil {
		return Result{Description: "failed to give " + eff.ItemName, Err: err.Error()}
	}
	return Result{Description: fmt.Sprintf("gave %s x%d to player", eff.ItemName, qty), Success: true}
}

// takeItem removes an item from the player's inventory. Taking an item
// the player does not hold is a failed no-op, never an abort.
func (e *Executor) takeItem(ctx context.Context, eff domain.Effect, ec ExecContext) Result {
	if e.inventory == nil {
		return Result{Description: "take " + eff.ItemName, Err: "inventory unavailable"}
	}
	qty := eff.Quantity
	if qty <= 0 {
		qty = 1
	}
	if err := e.inventory.TakeItem(ctx, ec.PlayerCharacterID, eff.ItemName, qty); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return Result{Description: fmt.Sprintf("player does not have %s", eff.ItemName), Err: "item not in inventory"}
		}
		return Result{Description: "failed to take " + eff.ItemName, Err: err.Error()}
	}
	return Result{Description: fmt.Sprintf("took %s x%d from player", eff.ItemName, qty), Success: true}
}

func (e *Executor) setChallenge(ctx context.Context, eff domain.Effect, enabled bool) Result {
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	if e.challenges == nil {
		return Result{Description: verb + " challenge " + eff.ChallengeName, Err: "challenges unavailable"}
	}
	if err := e.challenges.SetEnabled(ctx, eff.ChallengeID, enabled); err != nil {
		return Result{Description: "failed to set challenge " + eff.ChallengeName, Err: err.Error()}
	}
	return Result{Description: verb + " challenge: " + eff.ChallengeName, Success: true}
}

func (e *Executor) setEvent(ctx context.Context, eff domain.Effect, active bool) Result {
	verb := "disabled"
	if active {
		verb = "enabled"
	}
	if e.events == nil {
		return Result{Description: verb + " event " + eff.EventName, Err: "event store unavailable"}
	}
	if err := e.events.SetEventActive(ctx, eff.EventID, active); err != nil {
		return Result{Description: "failed to set event " + eff.EventName, Err: err.Error()}
	}
	return Result{Description: verb + " narrative event: " + eff.EventName, Success: true}
}

// modifyRelationship reads or creates the directed relationship, applies
// the clamped sentiment delta, and appends a timestamped history entry.
func (e *Executor) modifyRelationship(ctx context.Context, eff domain.Effect) Result {
	if e.relationships == nil {
		return Result{Description: "modify relationship", Err: "relationships unavailable"}
	}
	if math.IsNaN(eff.SentimentChange) || math.IsInf(eff.SentimentChange, 0) {
		return Result{
			Description: fmt.Sprintf("invalid sentiment change %v", eff.SentimentChange),
			Err:         "sentiment change is not finite",
		}
	}

	rel, err := e.relationships.GetRelationship(ctx, eff.FromCharacter, eff.ToCharacter)
	created := false
	if err != nil {
		if !stderrors.Is(err, storage.ErrNotFound) {
			return Result{Description: fmt.Sprintf("failed to load relationship %s -> %s", eff.FromName, eff.ToName), Err: err.Error()}
		}
		rel = domain.NewRelationship(eff.FromCharacter, eff.ToCharacter)
		created = true
	}

	before := rel.Sentiment
	rel.Adjust(eff.SentimentChange, eff.Reason, e.clock())
	if err := e.relationships.SaveRelationship(ctx, rel); err != nil {
		return Result{Description: fmt.Sprintf("failed to save relationship %s -> %s", eff.FromName, eff.ToName), Err: err.Error()}
	}

	action := "modified"
	if created {
		action = "created"
	}
	return Result{
		Description: fmt.Sprintf("%s relationship %s -> %s (sentiment %.2f -> %.2f: %s)",
			action, eff.FromName, eff.ToName, before, rel.Sentiment, eff.Reason),
		Success: true,
	}
}

// revealInformation optionally persists to the player journal; without
// persistence the reveal is ephemeral and still succeeds.
func (e *Executor) revealInformation(ctx context.Context, eff domain.Effect, ec ExecContext) Result {
	if !eff.PersistToJournal {
		return Result{
			Description: fmt.Sprintf("revealed %s %q: %s (not persisted)", eff.InfoType, eff.Title, eff.Content),
			Success:     true,
		}
	}
	if e.journal == nil {
		return Result{Description: "reveal " + eff.Title, Err: "journal unavailable"}
	}
	entry := storage.JournalEntry{
		ID:        e.idGenerate(),
		OwnerID:   ec.PlayerCharacterID,
		Entry:     fmt.Sprintf("[%s] %s: %s", eff.InfoType, eff.Title, eff.Content),
		CreatedAt: e.clock(),
	}
	if err := e.journal.AppendJournal(ctx, entry); err != nil {
		return Result{Description: "failed to save revealed info " + eff.Title, Err: err.Error()}
	}
	return Result{Description: fmt.Sprintf("revealed %s %q (saved to journal)", eff.InfoType, eff.Title), Success: true}
}

func (e *Executor) modifyStat(ctx context.Context, eff domain.Effect, ec ExecContext) Result {
	if e.stats == nil {
		return Result{Description: "modify stat " + eff.StatName, Err: "stats unavailable"}
	}
	if err := e.stats.ModifyStat(ctx, ec.PlayerCharacterID, eff.StatName, eff.Modifier); err != nil {
		return Result{Description: fmt.Sprintf("failed to modify stat %s for %s", eff.StatName, eff.CharacterName), Err: err.Error()}
	}
	return Result{Description: fmt.Sprintf("modified stat %s by %+d for %s", eff.StatName, eff.Modifier, eff.CharacterName), Success: true}
}

func (e *Executor) triggerScene(eff domain.Effect, ec ExecContext) Result {
	if e.scenes == nil {
		return Result{Description: "trigger scene " + eff.SceneName, Err: "scene changes unavailable"}
	}
	if err := e.scenes.SetSceneID(ec.SessionID, eff.SceneID); err != nil {
		return Result{Description: "failed to trigger scene " + eff.SceneName, Err: err.Error()}
	}
	return Result{Description: "triggered scene: " + eff.SceneName, Success: true}
}
