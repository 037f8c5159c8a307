package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	narrative "github.com/louisbranch/tessera/internal/narrative/domain"
	"github.com/louisbranch/tessera/internal/storage"
)

// Narrative events carry nested trigger and outcome structures, so the
// full record is stored as a JSON payload with the queryable columns
// (world, active, triggered) mirrored alongside it.

// PutEvent inserts or replaces a narrative event.
func (s *Store) PutEvent(ctx context.Context, e narrative.Event) error {
	if e.ID == "" || e.WorldID == "" {
		return fmt.Errorf("event id and world id are required")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode narrative event: %w", err)
	}
	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO narrative_events (id, world_id, name, payload, active, triggered, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   world_id = excluded.world_id,
		   name = excluded.name,
		   payload = excluded.payload,
		   active = excluded.active,
		   triggered = excluded.triggered,
		   updated_at = excluded.updated_at`,
		e.ID,
		e.WorldID,
		e.Name,
		string(payload),
		boolToInt(e.Active),
		boolToInt(e.Triggered),
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("put narrative event: %w", err)
	}
	return nil
}

// GetEvent loads one narrative event.
func (s *Store) GetEvent(ctx context.Context, id string) (narrative.Event, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT payload FROM narrative_events WHERE id = ?`, id)
	var payload string
	err := row.Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return narrative.Event{}, storage.ErrNotFound
	}
	if err != nil {
		return narrative.Event{}, fmt.Errorf("get narrative event: %w", err)
	}
	var e narrative.Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return narrative.Event{}, fmt.Errorf("decode narrative event: %w", err)
	}
	return e, nil
}

// ListActiveEvents lists a world's active events.
func (s *Store) ListActiveEvents(ctx context.Context, worldID string) ([]narrative.Event, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT payload FROM narrative_events WHERE world_id = ? AND active = 1`,
		worldID,
	)
	if err != nil {
		return nil, fmt.Errorf("list narrative events: %w", err)
	}
	defer rows.Close()

	var out []narrative.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan narrative event: %w", err)
		}
		var e narrative.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode narrative event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetEventActive flips an event's active flag in both the payload and the
// queryable column.
func (s *Store) SetEventActive(ctx context.Context, id string, active bool) error {
	e, err := s.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	e.Active = active
	e.UpdatedAt = time.Now().UTC()
	return s.PutEvent(ctx, e)
}

// Relationship store.

// GetRelationship is the storage.RelationshipStore Get.
func (s *Store) GetRelationship(ctx context.Context, fromCharacter, toCharacter string) (narrative.Relationship, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT from_character, to_character, kind, sentiment, history
		 FROM relationships WHERE from_character = ? AND to_character = ?`,
		fromCharacter,
		toCharacter,
	)
	var r narrative.Relationship
	var history string
	err := row.Scan(&r.FromCharacter, &r.ToCharacter, &r.Kind, &r.Sentiment, &history)
	if errors.Is(err, sql.ErrNoRows) {
		return narrative.Relationship{}, storage.ErrNotFound
	}
	if err != nil {
		return narrative.Relationship{}, fmt.Errorf("get relationship: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &r.History); err != nil {
		return narrative.Relationship{}, fmt.Errorf("decode relationship history: %w", err)
	}
	return r, nil
}

// SaveRelationship upserts a directed relationship.
func (s *Store) SaveRelationship(ctx context.Context, r narrative.Relationship) error {
	if r.FromCharacter == "" || r.ToCharacter == "" {
		return fmt.Errorf("relationship characters are required")
	}
	history, err := json.Marshal(r.History)
	if err != nil {
		return fmt.Errorf("encode relationship history: %w", err)
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO relationships (from_character, to_character, kind, sentiment, history)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(from_character, to_character) DO UPDATE SET
		   kind = excluded.kind,
		   sentiment = excluded.sentiment,
		   history = excluded.history`,
		r.FromCharacter,
		r.ToCharacter,
		r.Kind,
		r.Sentiment,
		string(history),
	)
	if err != nil {
		return fmt.Errorf("save relationship: %w", err)
	}
	return nil
}
