package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/tessera/internal/storage"
)

// GiveItem adds an item to a character's inventory. When the owner
// already holds an item with the same name, quantities merge instead of
// creating a second row.
func (s *Store) GiveItem(ctx context.Context, ownerID string, item storage.Item) error {
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("owner id is required")
	}
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("item name is required")
	}
	quantity := item.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin give item: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE items SET quantity = quantity + ? WHERE owner_id = ? AND name = ?`,
		quantity,
		ownerID,
		item.Name,
	)
	if err != nil {
		return fmt.Errorf("merge item quantity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("merge item quantity: %w", err)
	}
	if affected == 0 {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO items (id, owner_id, name, description, quantity)
			 VALUES (?, ?, ?, ?, ?)`,
			item.ID,
			ownerID,
			item.Name,
			item.Description,
			quantity,
		)
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit give item: %w", err)
	}
	return nil
}

// TakeItem removes quantity units of a named item from a character's
// inventory. The row is deleted once the quantity reaches zero. Taking
// an item the character does not hold returns storage.ErrNotFound.
func (s *Store) TakeItem(ctx context.Context, ownerID, itemName string, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin take item: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(
		ctx,
		`SELECT id, quantity FROM items WHERE owner_id = ? AND name = ?`,
		ownerID,
		itemName,
	)
	var id string
	var held int
	err = row.Scan(&id, &held)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find item: %w", err)
	}

	if held <= quantity {
		_, err = tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE items SET quantity = quantity - ? WHERE id = ?`, quantity, id)
	}
	if err != nil {
		return fmt.Errorf("take item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit take item: %w", err)
	}
	return nil
}

// ListItems lists a character's inventory, ordered by item name.
func (s *Store) ListItems(ctx context.Context, ownerID string) ([]storage.Item, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, owner_id, name, description, quantity
		 FROM items WHERE owner_id = ? ORDER BY name`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []storage.Item
	for rows.Next() {
		var item storage.Item
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Name, &item.Description, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// AppendJournal records a journal entry for a character.
func (s *Store) AppendJournal(ctx context.Context, entry storage.JournalEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("journal entry id is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO journal_entries (id, owner_id, entry, created_at)
		 VALUES (?, ?, ?, ?)`,
		entry.ID,
		entry.OwnerID,
		entry.Entry,
		toMillis(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// ListJournal lists a character's journal entries, newest first. A
// non-positive limit defaults to 50.
func (s *Store) ListJournal(ctx context.Context, ownerID string, limit int) ([]storage.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, owner_id, entry, created_at
		 FROM journal_entries WHERE owner_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		ownerID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var out []storage.JournalEntry
	for rows.Next() {
		var entry storage.JournalEntry
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.Entry, &createdAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.CreatedAt = fromMillis(createdAt)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ModifyStat applies a delta to a character stat, creating the stat at
// the delta value on first use.
func (s *Store) ModifyStat(ctx context.Context, ownerID, stat string, delta int) error {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(stat) == "" {
		return fmt.Errorf("owner id and stat are required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO character_stats (owner_id, stat, value) VALUES (?, ?, ?)
		 ON CONFLICT(owner_id, stat) DO UPDATE SET value = value + excluded.value`,
		ownerID,
		stat,
		delta,
	)
	if err != nil {
		return fmt.Errorf("modify stat: %w", err)
	}
	return nil
}

// StatValue reads a character stat. Unknown stats read as zero.
func (s *Store) StatValue(ctx context.Context, ownerID, stat string) (int, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT value FROM character_stats WHERE owner_id = ? AND stat = ?`,
		ownerID,
		stat,
	)
	var value int
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get stat: %w", err)
	}
	return value, nil
}

// AppendStoryEvent records a session story beat.
func (s *Store) AppendStoryEvent(ctx context.Context, e storage.StoryEvent) error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("story event id is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO story_events (id, session_id, kind, summary, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID,
		e.SessionID,
		e.Kind,
		e.Summary,
		toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append story event: %w", err)
	}
	return nil
}

// ListStoryEvents lists a session's story beats, newest first. A
// non-positive limit defaults to 50.
func (s *Store) ListStoryEvents(ctx context.Context, sessionID string, limit int) ([]storage.StoryEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, session_id, kind, summary, created_at
		 FROM story_events WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list story events: %w", err)
	}
	defer rows.Close()

	var out []storage.StoryEvent
	for rows.Next() {
		var e storage.StoryEvent
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Summary, &createdAt); err != nil {
			return nil, fmt.Errorf("scan story event: %w", err)
		}
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
