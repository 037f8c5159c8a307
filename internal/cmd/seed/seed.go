// Package seed parses seed command flags and loads world content files
// into the engine store.
package seed

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	narrservice "github.com/louisbranch/tessera/internal/narrative/service"
	entrypoint "github.com/louisbranch/tessera/internal/platform/cmd"
	"github.com/louisbranch/tessera/internal/storage"
	"github.com/louisbranch/tessera/internal/storage/sqlite"
)

// Config holds seed command configuration. Positional arguments are the
// YAML files to import: world files (regions plus rosters) and event
// decks, distinguished by their top-level keys.
type Config struct {
	DBPath string `env:"TESSERA_DB_PATH" envDefault:"tessera.db"`

	Files []string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Files = fs.Args()
	if len(cfg.Files) == 0 {
		return Config{}, fmt.Errorf("no content files given")
	}
	return cfg, nil
}

// Run imports every content file into the store.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSeed, func(context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() {
			_ = store.Close()
		}()

		for _, path := range cfg.Files {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			n, err := importFile(ctx, store, f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("import %s: %w", path, err)
			}
			log.Printf("seed: imported %d entries from %s", n, path)
		}
		return nil
	})
}

type contentFile struct {
	WorldID string             `yaml:"world_id"`
	Regions []regionDefinition `yaml:"regions"`
	Events  []yaml.Node        `yaml:"events"`
}

type regionDefinition struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	NPCs        []npcDefinition `yaml:"npcs"`
}

type npcDefinition struct {
	CharacterID string `yaml:"character_id"`
	Name        string `yaml:"name"`
	Mood        string `yaml:"mood"`
	Schedule    string `yaml:"schedule"`
	Present     bool   `yaml:"present"`
	Hidden      bool   `yaml:"hidden"`
}

// importFile loads one YAML content file. Region definitions and event
// decks may share a file; regions import first so decks can reference
// them.
func importFile(ctx context.Context, store *sqlite.Store, r io.Reader) (int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	var file contentFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("decode content file: %w", err)
	}
	if file.WorldID == "" {
		return 0, fmt.Errorf("content file missing world_id")
	}

	imported := 0
	for i, region := range file.Regions {
		if region.ID == "" || region.Name == "" {
			return imported, fmt.Errorf("region %d needs id and name", i)
		}
		err := store.PutRegion(ctx, storage.Region{
			ID:          region.ID,
			WorldID:     file.WorldID,
			Name:        region.Name,
			Description: region.Description,
		})
		if err != nil {
			return imported, fmt.Errorf("store region %s: %w", region.ID, err)
		}
		imported++

		for _, npc := range region.NPCs {
			if npc.CharacterID == "" {
				return imported, fmt.Errorf("region %s has an NPC without character_id", region.ID)
			}
			err := store.PutRegionNPC(ctx, storage.RegionNPC{
				RegionID:    region.ID,
				CharacterID: npc.CharacterID,
				Name:        npc.Name,
				Mood:        npc.Mood,
				Schedule:    npc.Schedule,
				Present:     npc.Present,
				Hidden:      npc.Hidden,
			})
			if err != nil {
				return imported, fmt.Errorf("store NPC %s: %w", npc.CharacterID, err)
			}
			imported++
		}
	}

	if len(file.Events) > 0 {
		n, err := narrservice.ImportDeck(ctx, store, bytes.NewReader(raw), time.Now())
		if err != nil {
			return imported, err
		}
		imported += n
	}
	return imported, nil
}
