package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	staging "github.com/louisbranch/tessera/internal/staging/domain"
	"github.com/louisbranch/tessera/internal/storage"
)

// SaveStaging persists a staging decision. When the record is current, any
// previous current staging for the region is demoted in the same
// transaction.
func (s *Store) SaveStaging(ctx context.Context, st staging.Staging) error {
	if st.ID == "" || st.RegionID == "" {
		return fmt.Errorf("staging id and region id are required")
	}
	npcs, err := json.Marshal(st.NPCs)
	if err != nil {
		return fmt.Errorf("encode staged npcs: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin staging save: %w", err)
	}
	if st.Current {
		if _, err := tx.ExecContext(ctx, `UPDATE stagings SET current = 0 WHERE region_id = ?`, st.RegionID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("demote current staging: %w", err)
		}
	}
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO stagings (id, region_id, session_id, npcs, source, game_time, ttl_ms, approved_by, created_at, current)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID,
		st.RegionID,
		st.SessionID,
		string(npcs),
		string(st.Source),
		toMillis(st.GameTime),
		st.TTL.Milliseconds(),
		st.ApprovedBy,
		toMillis(st.CreatedAt),
		boolToInt(st.Current),
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert staging: %w", err)
	}
	return tx.Commit()
}

// CurrentStaging returns the region's current staging.
func (s *Store) CurrentStaging(ctx context.Context, regionID string) (staging.Staging, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, region_id, session_id, npcs, source, game_time, ttl_ms, approved_by, created_at, current
		 FROM stagings WHERE region_id = ? AND current = 1`,
		regionID,
	)
	st, err := scanStaging(row)
	if errors.Is(err, sql.ErrNoRows) {
		return staging.Staging{}, storage.ErrNotFound
	}
	if err != nil {
		return staging.Staging{}, fmt.Errorf("get current staging: %w", err)
	}
	return st, nil
}

// ClearCurrentStaging demotes the region's current staging, if any.
func (s *Store) ClearCurrentStaging(ctx context.Context, regionID string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `UPDATE stagings SET current = 0 WHERE region_id = ?`, regionID); err != nil {
		return fmt.Errorf("clear current staging: %w", err)
	}
	return nil
}

// StagingHistory lists the region's stagings, newest first.
func (s *Store) StagingHistory(ctx context.Context, regionID string, limit int) ([]staging.Staging, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, region_id, session_id, npcs, source, game_time, ttl_ms, approved_by, created_at, current
		 FROM stagings WHERE region_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		regionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list staging history: %w", err)
	}
	defer rows.Close()

	var out []staging.Staging
	for rows.Next() {
		st, err := scanStaging(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staging: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStaging(row rowScanner) (staging.Staging, error) {
	var st staging.Staging
	var npcs, source string
	var gameTime, ttlMillis, createdAt int64
	var current int
	err := row.Scan(&st.ID, &st.RegionID, &st.SessionID, &npcs, &source, &gameTime, &ttlMillis, &st.ApprovedBy, &createdAt, &current)
	if err != nil {
		return staging.Staging{}, err
	}
	if err := json.Unmarshal([]byte(npcs), &st.NPCs); err != nil {
		return staging.Staging{}, fmt.Errorf("decode staged npcs: %w", err)
	}
	st.Source = staging.Source(source)
	st.GameTime = fromMillis(gameTime)
	st.TTL = time.Duration(ttlMillis) * time.Millisecond
	st.CreatedAt = fromMillis(createdAt)
	st.Current = current != 0
	return st, nil
}
