// Package approval implements the DM moderation queue: AI-proposed
// dialogue and tool calls wait here until the DM accepts, modifies,
// rejects, or takes over the response.
package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/tessera/internal/errors"
	"github.com/louisbranch/tessera/internal/generative"
)

// Status is the queue lifecycle state of an item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Item is one AI-proposed response awaiting DM review.
type Item struct {
	ID        string
	SessionID string
	WorldID   string
	// RequestID ties the item back to the originating player action.
	RequestID string

	PlayerCharacterID string
	NPCID             string
	NPCName           string
	PlayerAction      string

	ProposedDialogue string
	Reasoning        string
	Tools            []generative.ToolProposal

	RetryCount int
	Status     Status
	FailReason string

	CreatedAt time.Time
	// DelayedUntil defers reprocessing of a rejected item. Zero means
	// the item is immediately actionable.
	DelayedUntil time.Time
	ResolvedAt   time.Time
}

// Queue persists approval items. Implementations must be safe for
// concurrent use.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Get(ctx context.Context, id string) (Item, error)
	ListPending(ctx context.Context, sessionID string) ([]Item, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, reason string) error
	Delay(ctx context.Context, id string, until time.Time) error
	IncrementRetry(ctx context.Context, id string) (int, error)
	History(ctx context.Context, sessionID string, limit int) ([]Item, error)
	// ExpireOlderThan fails every pending item created before the cutoff
	// and returns how many were expired.
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryQueue is the in-process Queue used by the engine. Items live for
// the process lifetime; the session timeline is what persists decisions.
type MemoryQueue struct {
	mu    sync.Mutex
	items map[string]*Item
	clock func() time.Time
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items: make(map[string]*Item),
		clock: time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item.Status == "" {
		item.Status = StatusPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = q.clock()
	}
	q.items[item.ID] = &item
	return nil
}

func (q *MemoryQueue) Get(_ context.Context, id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return Item{}, errors.New(errors.CodeNotFound, "approval item "+id+" not found")
	}
	return *it, nil
}

func (q *MemoryQueue) ListPending(_ context.Context, sessionID string) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Item
	for _, it := range q.items {
		if it.SessionID == sessionID && it.Status == StatusPending {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *MemoryQueue) Complete(_ context.Context, id string) error {
	return q.resolve(id, StatusCompleted, "")
}

func (q *MemoryQueue) Fail(_ context.Context, id, reason string) error {
	return q.resolve(id, StatusFailed, reason)
}

func (q *MemoryQueue) resolve(id string, status Status, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return errors.New(errors.CodeNotFound, "approval item "+id+" not found")
	}
	it.Status = status
	it.FailReason = reason
	it.ResolvedAt = q.clock()
	return nil
}

func (q *MemoryQueue) Delay(_ context.Context, id string, until time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return errors.New(errors.CodeNotFound, "approval item "+id+" not found")
	}
	it.DelayedUntil = until
	return nil
}

func (q *MemoryQueue) IncrementRetry(_ context.Context, id string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return 0, errors.New(errors.CodeNotFound, "approval item "+id+" not found")
	}
	it.RetryCount++
	return it.RetryCount, nil
}

func (q *MemoryQueue) History(_ context.Context, sessionID string, limit int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Item
	for _, it := range q.items {
		if it.SessionID == sessionID && it.Status != StatusPending {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.After(out[j].ResolvedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryQueue) ExpireOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	expired := 0
	now := q.clock()
	for _, it := range q.items {
		if it.Status == StatusPending && it.CreatedAt.Before(cutoff) {
			it.Status = StatusFailed
			it.FailReason = "expired"
			it.ResolvedAt = now
			expired++
		}
	}
	return expired, nil
}
