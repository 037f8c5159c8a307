package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/tessera/internal/narrative/domain"
	"github.com/louisbranch/tessera/internal/platform/id"
	"github.com/louisbranch/tessera/internal/storage"
)

// Event decks are DM-authored YAML files seeding a world's narrative
// events.

type deckFile struct {
	WorldID string      `yaml:"world_id"`
	Events  []deckEvent `yaml:"events"`
}

type deckEvent struct {
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description"`
	Tags           []string      `yaml:"tags"`
	Logic          string        `yaml:"logic"`
	AtLeast        int           `yaml:"at_least"`
	Triggers       []deckTrigger `yaml:"triggers"`
	SceneDirection string        `yaml:"scene_direction"`
	Outcomes       []deckOutcome `yaml:"outcomes"`
	DefaultOutcome string        `yaml:"default_outcome"`
	Repeatable     bool          `yaml:"repeatable"`
	Priority       int           `yaml:"priority"`
}

type deckTrigger struct {
	Kind            string   `yaml:"kind"`
	Description     string   `yaml:"description"`
	Required        bool     `yaml:"required"`
	RegionID        string   `yaml:"region_id"`
	FlagName        string   `yaml:"flag_name"`
	ItemName        string   `yaml:"item_name"`
	Quantity        int      `yaml:"quantity"`
	EventID         string   `yaml:"event_id"`
	OutcomeName     string   `yaml:"outcome_name"`
	Turns           int      `yaml:"turns"`
	ChallengeID     string   `yaml:"challenge_id"`
	RequiresSuccess *bool    `yaml:"requires_success"`
	Keywords        []string `yaml:"keywords"`
}

type deckOutcome struct {
	Name            string       `yaml:"name"`
	Label           string       `yaml:"label"`
	Description     string       `yaml:"description"`
	TimelineSummary string       `yaml:"timeline_summary"`
	Effects         []deckEffect `yaml:"effects"`
}

type deckEffect struct {
	Kind             string  `yaml:"kind"`
	ItemName         string  `yaml:"item_name"`
	ItemDescription  string  `yaml:"item_description"`
	Quantity         int     `yaml:"quantity"`
	ChallengeID      string  `yaml:"challenge_id"`
	ChallengeName    string  `yaml:"challenge_name"`
	EventID          string  `yaml:"event_id"`
	EventName        string  `yaml:"event_name"`
	FromCharacter    string  `yaml:"from_character"`
	FromName         string  `yaml:"from_name"`
	ToCharacter      string  `yaml:"to_character"`
	ToName           string  `yaml:"to_name"`
	SentimentChange  float64 `yaml:"sentiment_change"`
	Reason           string  `yaml:"reason"`
	InfoType         string  `yaml:"info_type"`
	Title            string  `yaml:"title"`
	Content          string  `yaml:"content"`
	PersistToJournal bool    `yaml:"persist_to_journal"`
	CharacterID      string  `yaml:"character_id"`
	CharacterName    string  `yaml:"character_name"`
	StatName         string  `yaml:"stat_name"`
	Modifier         int     `yaml:"modifier"`
	SceneID          string  `yaml:"scene_id"`
	SceneName        string  `yaml:"scene_name"`
	FlagName         string  `yaml:"flag_name"`
	FlagValue        bool    `yaml:"flag_value"`
	RewardType       string  `yaml:"reward_type"`
	Amount           int     `yaml:"amount"`
	Description      string  `yaml:"description"`
	RequiresDMAgent  bool    `yaml:"requires_dm_action"`
}

// ParseDeck decodes an event deck. Events get fresh IDs and start active.
func ParseDeck(r io.Reader, now time.Time) (string, []domain.Event, error) {
	var file deckFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return "", nil, fmt.Errorf("decode event deck: %w", err)
	}
	if file.WorldID == "" {
		return "", nil, fmt.Errorf("event deck missing world_id")
	}

	events := make([]domain.Event, 0, len(file.Events))
	for i, de := range file.Events {
		if de.Name == "" {
			return "", nil, fmt.Errorf("event %d has no name", i)
		}
		ev := domain.Event{
			ID:             id.MustNewID(),
			WorldID:        file.WorldID,
			Name:           de.Name,
			Description:    de.Description,
			Tags:           de.Tags,
			Logic:          parseLogic(de.Logic, de.AtLeast),
			SceneDirection: de.SceneDirection,
			DefaultOutcome: de.DefaultOutcome,
			Repeatable:     de.Repeatable,
			Priority:       de.Priority,
			Active:         true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		for j, dt := range de.Triggers {
			ev.Triggers = append(ev.Triggers, domain.Trigger{
				ID:              fmt.Sprintf("%s-t%d", ev.ID, j),
				Kind:            domain.TriggerKind(dt.Kind),
				Description:     dt.Description,
				Required:        dt.Required,
				RegionID:        dt.RegionID,
				FlagName:        dt.FlagName,
				ItemName:        dt.ItemName,
				Quantity:        dt.Quantity,
				EventID:         dt.EventID,
				OutcomeName:     dt.OutcomeName,
				Turns:           dt.Turns,
				ChallengeID:     dt.ChallengeID,
				RequiresSuccess: dt.RequiresSuccess,
				Keywords:        dt.Keywords,
			})
		}
		for _, do := range de.Outcomes {
			out := domain.Outcome{
				Name:            do.Name,
				Label:           do.Label,
				Description:     do.Description,
				TimelineSummary: do.TimelineSummary,
			}
			for _, df := range do.Effects {
				out.Effects = append(out.Effects, domain.Effect{
					Kind:             domain.EffectKind(df.Kind),
					ItemName:         df.ItemName,
					ItemDescription:  df.ItemDescription,
					Quantity:         df.Quantity,
					ChallengeID:      df.ChallengeID,
					ChallengeName:    df.ChallengeName,
					EventID:          df.EventID,
					EventName:        df.EventName,
					FromCharacter:    df.FromCharacter,
					FromName:         df.FromName,
					ToCharacter:      df.ToCharacter,
					ToName:           df.ToName,
					SentimentChange:  df.SentimentChange,
					Reason:           df.Reason,
					InfoType:         df.InfoType,
					Title:            df.Title,
					Content:          df.Content,
					PersistToJournal: df.PersistToJournal,
					CharacterID:      df.CharacterID,
					CharacterName:    df.CharacterName,
					StatName:         df.StatName,
					Modifier:         df.Modifier,
					SceneID:          df.SceneID,
					SceneName:        df.SceneName,
					FlagName:         df.FlagName,
					FlagValue:        df.FlagValue,
					RewardType:       df.RewardType,
					Amount:           df.Amount,
					Description:      df.Description,
					RequiresDMAgent:  df.RequiresDMAgent,
				})
			}
			ev.Outcomes = append(ev.Outcomes, out)
		}
		events = append(events, ev)
	}
	return file.WorldID, events, nil
}

func parseLogic(mode string, atLeast int) domain.TriggerLogic {
	switch mode {
	case "any":
		return domain.TriggerLogic{Mode: domain.TriggerAny}
	case "at_least":
		return domain.TriggerLogic{Mode: domain.TriggerAtLeast, AtLeast: atLeast}
	default:
		return domain.TriggerLogic{Mode: domain.TriggerAll}
	}
}

// ImportDeck parses a deck and stores its events.
func ImportDeck(ctx context.Context, store storage.NarrativeEventStore, r io.Reader, now time.Time) (int, error) {
	_, events, err := ParseDeck(r, now)
	if err != nil {
		return 0, err
	}
	for _, ev := range events {
		if err := store.PutEvent(ctx, ev); err != nil {
			return 0, fmt.Errorf("store event %q: %w", ev.Name, err)
		}
	}
	return len(events), nil
}
