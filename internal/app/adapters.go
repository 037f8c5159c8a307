package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/louisbranch/tessera/internal/narrative/domain"
	"github.com/louisbranch/tessera/internal/platform/id"
	"github.com/louisbranch/tessera/internal/session"
	"github.com/louisbranch/tessera/internal/storage"
)

// itemGranter adapts the inventory store to the moderation queue's
// give_item tool.
type itemGranter struct {
	inventory  storage.InventoryStore
	idGenerate func() string
}

func newItemGranter(inventory storage.InventoryStore) *itemGranter {
	return &itemGranter{inventory: inventory, idGenerate: id.MustNewID}
}

func (g *itemGranter) GiveItem(ctx context.Context, ownerID, itemName, description string) error {
	return g.inventory.GiveItem(ctx, ownerID, storage.Item{
		ID:          g.idGenerate(),
		OwnerID:     ownerID,
		Name:        itemName,
		Description: description,
		Quantity:    1,
	})
}

// infoRevealer pushes revealed lore to the session's players.
type infoRevealer struct {
	sessions *session.Manager
}

func (r *infoRevealer) RevealInfo(_ context.Context, sessionID, infoType, content, importance string) error {
	payload := encodeFrame("info.revealed", "", map[string]string{
		"info_type":  infoType,
		"content":    content,
		"importance": importance,
	})
	if payload == nil {
		return fmt.Errorf("encode info reveal")
	}
	r.sessions.BroadcastToPlayers(sessionID, payload)
	return nil
}

// relationshipModifier applies sentiment deltas through the relationship
// store, creating the relationship on first contact.
type relationshipModifier struct {
	store storage.RelationshipStore
	clock func() time.Time
}

func newRelationshipModifier(store storage.RelationshipStore) *relationshipModifier {
	return &relationshipModifier{store: store, clock: time.Now}
}

func (m *relationshipModifier) ChangeRelationship(ctx context.Context, npcID, pcID string, delta float64, reason string) error {
	rel, err := m.store.GetRelationship(ctx, npcID, pcID)
	if err != nil {
		if !stderrors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load relationship: %w", err)
		}
		rel = domain.NewRelationship(npcID, pcID)
	}
	rel.Adjust(delta, reason, m.clock())
	if err := m.store.SaveRelationship(ctx, rel); err != nil {
		return fmt.Errorf("save relationship: %w", err)
	}
	return nil
}

// eventTrigger records model-proposed world events on the session
// timeline and alerts the DM.
type eventTrigger struct {
	story      storage.StoryEventStore
	sessions   *session.Manager
	clock      func() time.Time
	idGenerate func() string
}

func newEventTrigger(story storage.StoryEventStore, sessions *session.Manager) *eventTrigger {
	return &eventTrigger{story: story, sessions: sessions, clock: time.Now, idGenerate: id.MustNewID}
}

func (t *eventTrigger) TriggerEvent(ctx context.Context, sessionID, eventType, description string) error {
	err := t.story.AppendStoryEvent(ctx, storage.StoryEvent{
		ID:        t.idGenerate(),
		SessionID: sessionID,
		Kind:      eventType,
		Summary:   description,
		CreatedAt: t.clock(),
	})
	if err != nil {
		return fmt.Errorf("record triggered event: %w", err)
	}
	t.sessions.SendToDM(sessionID, encodeFrame("narrative.triggered", "", map[string]string{
		"event_name":  eventType,
		"description": description,
	}))
	return nil
}
