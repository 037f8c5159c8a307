package service

import (
	"context"
	"sort"
	"time"

	"github.com/louisbranch/tessera/internal/errors"
	"github.com/louisbranch/tessera/internal/narrative/domain"
	"github.com/louisbranch/tessera/internal/storage"
)

// Fired is one narrative event that triggered, with the effects that ran.
type Fired struct {
	Event domain.Event
	// SceneDirection is surfaced to the DM when the event fires.
	SceneDirection string
	Summary        Summary
}

// Triggers evaluates a world's active events against session context and
// runs the effects of the ones that fire.
type Triggers struct {
	events   storage.NarrativeEventStore
	executor *Executor
	clock    func() time.Time
}

// NewTriggers wires a trigger service around an executor.
func NewTriggers(events storage.NarrativeEventStore, executor *Executor) *Triggers {
	return &Triggers{events: events, executor: executor, clock: time.Now}
}

// Evaluate checks every active, not-yet-triggered event of the world
// against the context, highest priority first. Each satisfied event is
// marked triggered (repeatable events immediately reset), its outcome is
// chosen, and its effects run. The DM selects outcomes interactively for
// branching events; automatic evaluation takes the default outcome and
// falls back to the first one.
func (t *Triggers) Evaluate(ctx context.Context, worldID string, nctx domain.Context, ec ExecContext) ([]Fired, error) {
	events, err := t.events.ListActiveEvents(ctx, worldID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageError, "list narrative events", err)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Priority > events[j].Priority })

	var fired []Fired
	for i := range events {
		ev := events[i]
		if ev.Triggered && !ev.Repeatable {
			continue
		}
		if !ev.Evaluate(nctx).Triggered {
			continue
		}

		outcome := ev.OutcomeByName("")
		if outcome == nil && len(ev.Outcomes) > 0 {
			outcome = &ev.Outcomes[0]
		}
		outcomeName := ""
		if outcome != nil {
			outcomeName = outcome.Name
		}

		now := t.clock()
		ev.MarkTriggered(outcomeName, now)
		if ev.Repeatable {
			ev.ResetTriggered(now)
		}
		if err := t.events.PutEvent(ctx, ev); err != nil {
			return fired, errors.Wrap(errors.CodeStorageError, "save triggered event", err)
		}

		f := Fired{Event: ev, SceneDirection: ev.SceneDirection}
		if outcome != nil {
			f.Summary = t.executor.Execute(ctx, ev.ID, outcomeName, outcome.Effects, ec)
		}
		fired = append(fired, f)
	}
	return fired, nil
}

// OnRegionEntered is the principal qualifying event: a player character
// arriving in a region.
func (t *Triggers) OnRegionEntered(ctx context.Context, worldID, regionID string, nctx domain.Context, ec ExecContext) ([]Fired, error) {
	nctx.RegionID = regionID
	return t.Evaluate(ctx, worldID, nctx, ec)
}
