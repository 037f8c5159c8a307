// Package domain defines narrative events: DM-authored records whose
// trigger conditions are evaluated against live session context and whose
// outcomes declare ordered effect lists.
package domain

import "time"

// TriggerMode selects how multiple trigger conditions combine.
type TriggerMode string

const (
	// TriggerAll requires every condition to match.
	TriggerAll TriggerMode = "all"
	// TriggerAny requires a single condition to match.
	TriggerAny TriggerMode = "any"
	// TriggerAtLeast requires Logic.AtLeast conditions to match.
	TriggerAtLeast TriggerMode = "at_least"
)

// TriggerLogic combines an event's conditions.
type TriggerLogic struct {
	Mode TriggerMode
	// AtLeast is the match count required when Mode is TriggerAtLeast.
	AtLeast int
}

// TriggerKind identifies what a single condition tests.
type TriggerKind string

const (
	TriggerRegionEntered      TriggerKind = "region_entered"
	TriggerFlagSet            TriggerKind = "flag_set"
	TriggerFlagNotSet         TriggerKind = "flag_not_set"
	TriggerHasItem            TriggerKind = "has_item"
	TriggerMissingItem        TriggerKind = "missing_item"
	TriggerEventCompleted     TriggerKind = "event_completed"
	TriggerTurnCount          TriggerKind = "turn_count"
	TriggerChallengeCompleted TriggerKind = "challenge_completed"
	TriggerDialogueTopic      TriggerKind = "dialogue_topic"
	// TriggerCustom needs human or model judgement and never matches
	// during automatic evaluation.
	TriggerCustom TriggerKind = "custom"
)

// Trigger is a single condition. Only the fields relevant to Kind are set.
type Trigger struct {
	ID          string
	Kind        TriggerKind
	Description string
	// Required forces this condition to match regardless of Mode.
	Required bool

	RegionID        string
	FlagName        string
	ItemName        string
	Quantity        int
	EventID         string
	OutcomeName     string
	Turns           int
	ChallengeID     string
	RequiresSuccess *bool
	Keywords        []string
}

// Context carries the session state a trigger is evaluated against.
type Context struct {
	RegionID            string
	SceneID             string
	Flags               map[string]bool
	Inventory           []string
	CompletedEvents     map[string]string
	TurnCount           int
	CompletedChallenges map[string]bool
	DialogueTopics      []string
}

// EffectKind identifies what an effect does when its outcome is executed.
type EffectKind string

const (
	EffectGiveItem           EffectKind = "give_item"
	EffectTakeItem           EffectKind = "take_item"
	EffectEnableChallenge    EffectKind = "enable_challenge"
	EffectDisableChallenge   EffectKind = "disable_challenge"
	EffectEnableEvent        EffectKind = "enable_event"
	EffectDisableEvent       EffectKind = "disable_event"
	EffectModifyRelationship EffectKind = "modify_relationship"
	EffectRevealInformation  EffectKind = "reveal_information"
	EffectModifyStat         EffectKind = "modify_stat"
	EffectTriggerScene       EffectKind = "trigger_scene"
	EffectSetFlag            EffectKind = "set_flag"
	EffectStartCombat        EffectKind = "start_combat"
	EffectAddReward          EffectKind = "add_reward"
	EffectCustom             EffectKind = "custom"
)

// Effect is one entry in an outcome's ordered effect list. Only the
// fields relevant to Kind are set.
type Effect struct {
	Kind EffectKind

	ItemName        string
	ItemDescription string
	Quantity        int

	ChallengeID   string
	ChallengeName string

	EventID   string
	EventName string

	FromCharacter   string
	FromName        string
	ToCharacter     string
	ToName          string
	SentimentChange float64
	Reason          string

	InfoType         string
	Title            string
	Content          string
	PersistToJournal bool

	CharacterID   string
	CharacterName string
	StatName      string
	Modifier      int

	SceneID   string
	SceneName string

	FlagName  string
	FlagValue bool

	RewardType string
	Amount     int

	Description     string
	RequiresDMAgent bool
}

// Outcome is one branch of a triggered event.
type Outcome struct {
	Name            string
	Label           string
	Description     string
	Effects         []Effect
	TimelineSummary string
}

// Event is a DM-authored narrative event tied to a world.
type Event struct {
	ID          string
	WorldID     string
	Name        string
	Description string
	Tags        []string

	Triggers []Trigger
	Logic    TriggerLogic

	// SceneDirection is shown to the DM when the event fires.
	SceneDirection   string
	SuggestedOpening string

	Outcomes       []Outcome
	DefaultOutcome string

	Active          bool
	Triggered       bool
	TriggeredAt     time.Time
	SelectedOutcome string
	Repeatable      bool
	TriggerCount    int

	Priority  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Evaluation reports how an event's conditions fared against a context.
type Evaluation struct {
	Triggered bool
	Matched   []string
	Unmatched []string
	Total     int
}

// Evaluate checks the event's conditions against ctx. An event with no
// conditions never fires automatically. Required conditions must match
// even when the combination mode is already satisfied.
func (e *Event) Evaluate(ctx Context) Evaluation {
	ev := Evaluation{Total: len(e.Triggers)}
	if ev.Total == 0 {
		return ev
	}

	requiredMet := true
	for _, t := range e.Triggers {
		if t.matches(ctx) {
			ev.Matched = append(ev.Matched, t.ID)
		} else {
			ev.Unmatched = append(ev.Unmatched, t.ID)
			if t.Required {
				requiredMet = false
			}
		}
	}

	switch e.Logic.Mode {
	case TriggerAny:
		ev.Triggered = len(ev.Matched) > 0
	case TriggerAtLeast:
		ev.Triggered = len(ev.Matched) >= e.Logic.AtLeast
	default:
		ev.Triggered = len(ev.Matched) == ev.Total
	}
	ev.Triggered = ev.Triggered && requiredMet
	return ev
}

func (t Trigger) matches(ctx Context) bool {
	switch t.Kind {
	case TriggerRegionEntered:
		return t.RegionID != "" && ctx.RegionID == t.RegionID
	case TriggerFlagSet:
		return ctx.Flags[t.FlagName]
	case TriggerFlagNotSet:
		return !ctx.Flags[t.FlagName]
	case TriggerHasItem:
		want := t.Quantity
		if want <= 0 {
			want = 1
		}
		count := 0
		for _, item := range ctx.Inventory {
			if item == t.ItemName {
				count++
			}
		}
		return count >= want
	case TriggerMissingItem:
		for _, item := range ctx.Inventory {
			if item == t.ItemName {
				return false
			}
		}
		return true
	case TriggerEventCompleted:
		outcome, ok := ctx.CompletedEvents[t.EventID]
		if !ok {
			return false
		}
		return t.OutcomeName == "" || outcome == t.OutcomeName
	case TriggerTurnCount:
		return ctx.TurnCount >= t.Turns
	case TriggerChallengeCompleted:
		success, ok := ctx.CompletedChallenges[t.ChallengeID]
		if !ok {
			return false
		}
		return t.RequiresSuccess == nil || success == *t.RequiresSuccess
	case TriggerDialogueTopic:
		for _, k := range t.Keywords {
			for _, topic := range ctx.DialogueTopics {
				if topic == k {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

// MarkTriggered records a firing with the selected outcome at the given
// time. Non-repeatable events deactivate.
func (e *Event) MarkTriggered(outcome string, at time.Time) {
	e.Triggered = true
	e.TriggeredAt = at
	e.SelectedOutcome = outcome
	e.TriggerCount++
	e.UpdatedAt = at
	if !e.Repeatable {
		e.Active = false
	}
}

// ResetTriggered clears the triggered state so a repeatable event can
// fire again.
func (e *Event) ResetTriggered(at time.Time) {
	e.Triggered = false
	e.TriggeredAt = time.Time{}
	e.SelectedOutcome = ""
	e.UpdatedAt = at
}

// OutcomeByName returns the named outcome, or the default outcome when
// name is empty, or nil when neither resolves.
func (e *Event) OutcomeByName(name string) *Outcome {
	if name == "" {
		name = e.DefaultOutcome
	}
	for i := range e.Outcomes {
		if e.Outcomes[i].Name == name {
			return &e.Outcomes[i]
		}
	}
	return nil
}
