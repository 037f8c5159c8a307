package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/tessera/internal/storage"
)

// PutRegion inserts or replaces a region record. Used by world seeding.
func (s *Store) PutRegion(ctx context.Context, region storage.Region) error {
	if strings.TrimSpace(region.ID) == "" {
		return fmt.Errorf("region id is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO regions (id, world_id, name, description)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   world_id = excluded.world_id,
		   name = excluded.name,
		   description = excluded.description`,
		region.ID,
		region.WorldID,
		region.Name,
		region.Description,
	)
	if err != nil {
		return fmt.Errorf("put region: %w", err)
	}
	return nil
}

// GetRegion loads one region.
func (s *Store) GetRegion(ctx context.Context, id string) (storage.Region, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, world_id, name, description FROM regions WHERE id = ?`,
		id,
	)
	var region storage.Region
	err := row.Scan(&region.ID, &region.WorldID, &region.Name, &region.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Region{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Region{}, fmt.Errorf("get region: %w", err)
	}
	return region, nil
}

// PutRegionNPC inserts or replaces a region roster entry.
func (s *Store) PutRegionNPC(ctx context.Context, npc storage.RegionNPC) error {
	if npc.RegionID == "" || npc.CharacterID == "" {
		return fmt.Errorf("region id and character id are required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO region_npcs (region_id, character_id, name, mood, schedule, present, hidden)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(region_id, character_id) DO UPDATE SET
		   name = excluded.name,
		   mood = excluded.mood,
		   schedule = excluded.schedule,
		   present = excluded.present,
		   hidden = excluded.hidden`,
		npc.RegionID,
		npc.CharacterID,
		npc.Name,
		npc.Mood,
		npc.Schedule,
		boolToInt(npc.Present),
		boolToInt(npc.Hidden),
	)
	if err != nil {
		return fmt.Errorf("put region npc: %w", err)
	}
	return nil
}

// RegionNPCs lists the NPCs scheduled for a region.
func (s *Store) RegionNPCs(ctx context.Context, regionID string) ([]storage.RegionNPC, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT region_id, character_id, name, mood, schedule, present, hidden
		 FROM region_npcs WHERE region_id = ? ORDER BY name`,
		regionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list region npcs: %w", err)
	}
	defer rows.Close()

	var out []storage.RegionNPC
	for rows.Next() {
		var npc storage.RegionNPC
		var present, hidden int
		if err := rows.Scan(&npc.RegionID, &npc.CharacterID, &npc.Name, &npc.Mood, &npc.Schedule, &present, &hidden); err != nil {
			return nil, fmt.Errorf("scan region npc: %w", err)
		}
		npc.Present = present != 0
		npc.Hidden = hidden != 0
		out = append(out, npc)
	}
	return out, rows.Err()
}

// SetEnabled flips a challenge's availability, creating the record on
// first use.
func (s *Store) SetEnabled(ctx context.Context, challengeID string, enabled bool) error {
	if strings.TrimSpace(challengeID) == "" {
		return fmt.Errorf("challenge id is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO challenges (id, enabled) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET enabled = excluded.enabled`,
		challengeID,
		boolToInt(enabled),
	)
	if err != nil {
		return fmt.Errorf("set challenge enabled: %w", err)
	}
	return nil
}

// ChallengeEnabled reports a challenge's availability. Unknown
// challenges default to enabled.
func (s *Store) ChallengeEnabled(ctx context.Context, challengeID string) (bool, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT enabled FROM challenges WHERE id = ?`, challengeID)
	var enabled int
	err := row.Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get challenge: %w", err)
	}
	return enabled != 0, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
