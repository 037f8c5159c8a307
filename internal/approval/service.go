package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/tessera/internal/errors"
	"github.com/louisbranch/tessera/internal/generative"
	"github.com/louisbranch/tessera/internal/platform/id"
	"github.com/louisbranch/tessera/internal/storage"
)

// DecisionKind is the DM's verdict on a queued item.
type DecisionKind string

const (
	// DecisionAccept broadcasts the proposal as-is and executes every
	// proposed tool.
	DecisionAccept DecisionKind = "accept"
	// DecisionAcceptModified broadcasts edited dialogue and executes
	// only the tools the DM approved.
	DecisionAcceptModified DecisionKind = "accept_modified"
	// DecisionReject sends the item back for regeneration with feedback,
	// until the retry limit escalates it to the DM.
	DecisionReject DecisionKind = "reject"
	// DecisionTakeOver broadcasts the DM's own response instead and
	// executes no tools.
	DecisionTakeOver DecisionKind = "take_over"
)

// Decision carries the DM's verdict and its parameters.
type Decision struct {
	Kind DecisionKind
	// ModifiedDialogue replaces the proposal for DecisionAcceptModified.
	ModifiedDialogue string
	// ApprovedTools lists tool IDs to execute for DecisionAcceptModified.
	// Tools not listed are skipped.
	ApprovedTools []string
	// ItemRecipients maps a give_item tool ID to the player characters
	// receiving the item. A give_item with no recipients is not given.
	ItemRecipients map[string][]string
	// Feedback accompanies DecisionReject.
	Feedback string
	// DMResponse is the dialogue for DecisionTakeOver.
	DMResponse string
}

// OutcomeKind classifies what happened to a decided item.
type OutcomeKind string

const (
	// OutcomeBroadcast means dialogue reached the players.
	OutcomeBroadcast OutcomeKind = "broadcast"
	// OutcomeRejected means the item was sent back for regeneration.
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomeMaxRetriesExceeded means the retry limit is exhausted and
	// the DM must take over or discard.
	OutcomeMaxRetriesExceeded OutcomeKind = "max_retries_exceeded"
)

// ToolResult reports one proposed tool's execution.
type ToolResult struct {
	ToolID      string
	Name        string
	Description string
	Executed    bool
	Err         string
}

// Outcome is the result of Decide.
type Outcome struct {
	Kind     OutcomeKind
	Dialogue string
	Feedback string
	// ReprocessAt is when a rejected item becomes actionable again.
	ReprocessAt time.Time
	Tools       []ToolResult
}

// Sessions is the slice of the session registry the service needs:
// delivering approved dialogue and keeping conversation history.
type Sessions interface {
	Broadcast(sessionID string, payload []byte)
	AppendTurn(sessionID, speaker, text string, isPlayer bool) error
}

// ItemGranter hands an item to a player character.
type ItemGranter interface {
	GiveItem(ctx context.Context, ownerID, itemName, description string) error
}

// InfoRevealer surfaces revealed information to the session.
type InfoRevealer interface {
	RevealInfo(ctx context.Context, sessionID, infoType, content, importance string) error
}

// RelationshipModifier adjusts an NPC's sentiment toward a player
// character.
type RelationshipModifier interface {
	ChangeRelationship(ctx context.Context, npcID, pcID string, delta float64, reason string) error
}

// EventTrigger fires a world event proposed by the model.
type EventTrigger interface {
	TriggerEvent(ctx context.Context, sessionID, eventType, description string) error
}

// Config tunes the moderation workflow.
type Config struct {
	// MaxRetries is how many rejections an item survives before it
	// escalates to the DM.
	MaxRetries int
	// RetryDelay defers reprocessing of a rejected item.
	RetryDelay time.Duration
}

// DefaultConfig mirrors the engine defaults.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, RetryDelay: time.Second}
}

// Service drives the moderation workflow over a Queue.
type Service struct {
	queue         Queue
	sessions      Sessions
	items         ItemGranter
	info          InfoRevealer
	relationships RelationshipModifier
	events        EventTrigger
	story         storage.StoryEventStore
	cfg           Config

	clock      func() time.Time
	idGenerate func() string
}

// New wires the moderation service. Tool collaborators may be nil; a
// proposed tool without its collaborator reports a failed execution
// instead of panicking.
func New(queue Queue, sessions Sessions, items ItemGranter, info InfoRevealer, relationships RelationshipModifier, events EventTrigger, story storage.StoryEventStore, cfg Config) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Service{
		queue:         queue,
		sessions:      sessions,
		items:         items,
		info:          info,
		relationships: relationships,
		events:        events,
		story:         story,
		cfg:           cfg,
		clock:         time.Now,
		idGenerate:    id.MustNewID,
	}
}

// Enqueue registers a proposed response for DM review and returns the
// stored item.
func (s *Service) Enqueue(ctx context.Context, item Item) (Item, error) {
	if item.ID == "" {
		item.ID = s.idGenerate()
	}
	item.Status = StatusPending
	item.CreatedAt = s.clock()
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return Item{}, errors.Wrap(errors.CodeQueueError, "enqueue approval", err)
	}
	return item, nil
}

// Pending lists a session's items awaiting review, oldest first.
func (s *Service) Pending(ctx context.Context, sessionID string) ([]Item, error) {
	items, err := s.queue.ListPending(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeQueueError, "list pending approvals", err)
	}
	return items, nil
}

// Get returns one item by ID.
func (s *Service) Get(ctx context.Context, itemID string) (Item, error) {
	return s.queue.Get(ctx, itemID)
}

// Decide applies the DM's verdict to an item. Accepting (in any form)
// broadcasts dialogue, records the conversation turn and story event,
// and executes tools; each tool fails independently. Rejecting defers
// the item for regeneration until the retry limit escalates it.
func (s *Service) Decide(ctx context.Context, itemID string, decision Decision) (Outcome, error) {
	item, err := s.queue.Get(ctx, itemID)
	if err != nil {
		return Outcome{}, err
	}
	if item.Status != StatusPending {
		return Outcome{}, errors.New(errors.CodeApprovalError, "approval item "+itemID+" already resolved")
	}

	switch decision.Kind {
	case DecisionAccept:
		return s.accept(ctx, item, item.ProposedDialogue, nil, decision.ItemRecipients)
	case DecisionAcceptModified:
		return s.accept(ctx, item, decision.ModifiedDialogue, decision.ApprovedTools, decision.ItemRecipients)
	case DecisionTakeOver:
		out, err := s.deliver(ctx, item, decision.DMResponse)
		if err != nil {
			return Outcome{}, err
		}
		s.recordStoryEvent(ctx, item, "dm_takeover", decision.DMResponse)
		if err := s.queue.Complete(ctx, item.ID); err != nil {
			return Outcome{}, errors.Wrap(errors.CodeQueueError, "complete approval", err)
		}
		return out, nil
	case DecisionReject:
		return s.reject(ctx, item, decision.Feedback)
	default:
		return Outcome{}, errors.New(errors.CodeInvalidArgument, "unknown decision kind "+string(decision.Kind))
	}
}

// Discard fails an item without reprocessing. Used when the DM dismisses
// a proposal outright.
func (s *Service) Discard(ctx context.Context, itemID, reason string) error {
	if reason == "" {
		reason = "discarded by DM"
	}
	if err := s.queue.Fail(ctx, itemID, reason); err != nil {
		return errors.Wrap(errors.CodeQueueError, "discard approval", err)
	}
	return nil
}

// History lists resolved items for a session, newest first.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]Item, error) {
	items, err := s.queue.History(ctx, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(errors.CodeQueueError, "approval history", err)
	}
	return items, nil
}

// ExpireOld fails pending items older than the given age and returns how
// many were expired.
func (s *Service) ExpireOld(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.queue.ExpireOlderThan(ctx, s.clock().Add(-olderThan))
	if err != nil {
		return 0, errors.Wrap(errors.CodeQueueError, "expire approvals", err)
	}
	return n, nil
}

func (s *Service) accept(ctx context.Context, item Item, dialogue string, approvedTools []string, recipients map[string][]string) (Outcome, error) {
	out, err := s.deliver(ctx, item, dialogue)
	if err != nil {
		return Outcome{}, err
	}
	s.recordStoryEvent(ctx, item, "dialogue", dialogue)

	tools := s.selectTools(item, approvedTools)
	results := make([]ToolResult, 0, len(tools))
	for _, tool := range tools {
		results = append(results, s.executeTool(ctx, item, tool, recipients[tool.ID]))
	}
	out.Tools = results

	if err := s.queue.Complete(ctx, item.ID); err != nil {
		return Outcome{}, errors.Wrap(errors.CodeQueueError, "complete approval", err)
	}
	return out, nil
}

func (s *Service) reject(ctx context.Context, item Item, feedback string) (Outcome, error) {
	if item.RetryCount >= s.cfg.MaxRetries {
		if err := s.queue.Fail(ctx, item.ID, "rejected by DM"); err != nil {
			return Outcome{}, errors.Wrap(errors.CodeQueueError, "fail approval", err)
		}
		return Outcome{Kind: OutcomeMaxRetriesExceeded, Feedback: feedback}, nil
	}
	if _, err := s.queue.IncrementRetry(ctx, item.ID); err != nil {
		return Outcome{}, errors.Wrap(errors.CodeQueueError, "increment retry", err)
	}
	reprocessAt := s.clock().Add(s.cfg.RetryDelay)
	if err := s.queue.Delay(ctx, item.ID, reprocessAt); err != nil {
		return Outcome{}, errors.Wrap(errors.CodeQueueError, "delay approval", err)
	}
	return Outcome{Kind: OutcomeRejected, Feedback: feedback, ReprocessAt: reprocessAt}, nil
}

// deliver broadcasts dialogue to the session and appends it to the
// conversation history.
func (s *Service) deliver(_ context.Context, item Item, dialogue string) (Outcome, error) {
	payload, err := json.Marshal(map[string]any{
		"type":         "dialogue_response",
		"speaker_id":   item.NPCID,
		"speaker_name": item.NPCName,
		"text":         dialogue,
	})
	if err != nil {
		return Outcome{}, errors.Wrap(errors.CodeApprovalError, "encode dialogue", err)
	}
	s.sessions.Broadcast(item.SessionID, payload)
	if err := s.sessions.AppendTurn(item.SessionID, item.NPCName, dialogue, false); err != nil {
		log.Printf("conversation history append failed for session %s: %v", item.SessionID, err)
	}
	return Outcome{Kind: OutcomeBroadcast, Dialogue: dialogue}, nil
}

// recordStoryEvent persists the exchange on the session timeline.
// Failures are logged; they never fail the approval flow.
func (s *Service) recordStoryEvent(ctx context.Context, item Item, kind, dialogue string) {
	if s.story == nil {
		return
	}
	err := s.story.AppendStoryEvent(ctx, storage.StoryEvent{
		ID:        s.idGenerate(),
		SessionID: item.SessionID,
		Kind:      kind,
		Summary:   fmt.Sprintf("%s: %s", item.NPCName, dialogue),
		CreatedAt: s.clock(),
	})
	if err != nil {
		log.Printf("story event for approval %s not recorded: %v", item.ID, err)
	}
}

// selectTools returns the tools to execute: all of them for a plain
// accept, or only the approved IDs for a modified accept.
func (s *Service) selectTools(item Item, approvedTools []string) []generative.ToolProposal {
	if approvedTools == nil {
		return item.Tools
	}
	var out []generative.ToolProposal
	for _, tool := range item.Tools {
		for _, toolID := range approvedTools {
			if tool.ID == toolID {
				out = append(out, tool)
				break
			}
		}
	}
	return out
}

// Sentiment deltas for change_relationship amounts, on the [-1, 1]
// sentiment scale.
const (
	deltaSlight      = 0.10
	deltaModerate    = 0.25
	deltaSignificant = 0.50
)

func (s *Service) executeTool(ctx context.Context, item Item, tool generative.ToolProposal, recipients []string) ToolResult {
	res := ToolResult{ToolID: tool.ID, Name: tool.Name}

	var args map[string]any
	if len(tool.Arguments) > 0 {
		if err := json.Unmarshal(tool.Arguments, &args); err != nil {
			res.Err = fmt.Sprintf("decode arguments: %v", err)
			return res
		}
	}
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}

	switch tool.Name {
	case "give_item":
		itemName := str("item_name")
		if itemName == "" {
			res.Err = "missing item_name"
			return res
		}
		if len(recipients) == 0 {
			// The DM chose not to hand the item out. That is a decision,
			// not a failure.
			res.Executed = true
			res.Description = fmt.Sprintf("%s not given (no recipients)", itemName)
			return res
		}
		if s.items == nil {
			res.Err = "item granting unavailable"
			return res
		}
		given := 0
		for _, pcID := range recipients {
			if err := s.items.GiveItem(ctx, pcID, itemName, str("description")); err != nil {
				log.Printf("give_item %s to %s failed: %v", itemName, pcID, err)
				continue
			}
			given++
		}
		if given == 0 {
			res.Err = fmt.Sprintf("could not give %s to any recipient", itemName)
			return res
		}
		res.Executed = true
		res.Description = fmt.Sprintf("gave %s to %d character(s)", itemName, given)
		if err := s.sessions.AppendTurn(item.SessionID, "System", fmt.Sprintf("[ITEM RECEIVED] %s", itemName), false); err != nil {
			log.Printf("item history append failed for session %s: %v", item.SessionID, err)
		}

	case "reveal_info":
		if s.info == nil {
			res.Err = "info reveal unavailable"
			return res
		}
		importance := str("importance")
		if importance == "" {
			importance = "minor"
		}
		if err := s.info.RevealInfo(ctx, item.SessionID, str("info_type"), str("content"), importance); err != nil {
			res.Err = err.Error()
			return res
		}
		res.Executed = true
		res.Description = "revealed " + str("info_type")

	case "change_relationship":
		if s.relationships == nil {
			res.Err = "relationship changes unavailable"
			return res
		}
		delta := deltaSlight
		switch str("amount") {
		case "moderate":
			delta = deltaModerate
		case "significant":
			delta = deltaSignificant
		}
		if str("change") == "worsen" {
			delta = -delta
		}
		if err := s.relationships.ChangeRelationship(ctx, item.NPCID, item.PlayerCharacterID, delta, str("reason")); err != nil {
			res.Err = err.Error()
			return res
		}
		res.Executed = true
		res.Description = fmt.Sprintf("relationship %s by %.2f", str("change"), delta)

	case "trigger_event":
		if s.events == nil {
			res.Err = "event triggering unavailable"
			return res
		}
		if err := s.events.TriggerEvent(ctx, item.SessionID, str("event_type"), str("description")); err != nil {
			res.Err = err.Error()
			return res
		}
		res.Executed = true
		res.Description = "triggered " + str("event_type")

	default:
		res.Err = "unknown tool " + tool.Name
	}
	return res
}
