package app

import (
	"encoding/json"
	"log"
	"time"

	"github.com/louisbranch/tessera/internal/approval"
	"github.com/louisbranch/tessera/internal/errors"
	"github.com/louisbranch/tessera/internal/staging/domain"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Client-to-engine payloads.

type joinPayload struct {
	WorldID     string `json:"world_id"`
	WorldName   string `json:"world_name,omitempty"`
	Role        string `json:"role"`
	CharacterID string `json:"character_id,omitempty"`
}

type regionEnterPayload struct {
	RegionID string `json:"region_id"`
}

type playerActionPayload struct {
	Action      string `json:"action"`
	NPCID       string `json:"npc_id"`
	NPCName     string `json:"npc_name"`
	CharacterID string `json:"character_id"`
}

type approvalDecidePayload struct {
	ItemID           string              `json:"item_id"`
	Decision         string              `json:"decision"`
	ModifiedDialogue string              `json:"modified_dialogue,omitempty"`
	ApprovedTools    []string            `json:"approved_tools,omitempty"`
	ItemRecipients   map[string][]string `json:"item_recipients,omitempty"`
	Feedback         string              `json:"feedback,omitempty"`
	DMResponse       string              `json:"dm_response,omitempty"`
}

type approvalDiscardPayload struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason,omitempty"`
}

type approvalHistoryPayload struct {
	Limit int `json:"limit,omitempty"`
}

type approvalExpirePayload struct {
	OlderThanMinutes int `json:"older_than_minutes"`
}

type stagedNPCPayload struct {
	CharacterID string `json:"character_id"`
	Name        string `json:"name"`
	Present     bool   `json:"present"`
	Hidden      bool   `json:"hidden,omitempty"`
	Mood        string `json:"mood,omitempty"`
	Reasoning   string `json:"reasoning,omitempty"`
}

type stagingResolvePayload struct {
	ProposalID string             `json:"proposal_id"`
	NPCs       []stagedNPCPayload `json:"npcs"`
	TTLHours   int                `json:"ttl_hours,omitempty"`
	Source     string             `json:"source,omitempty"`
}

type stagingRegeneratePayload struct {
	ProposalID string `json:"proposal_id"`
	Guidance   string `json:"guidance,omitempty"`
}

type stagingPrestagePayload struct {
	RegionID string             `json:"region_id"`
	NPCs     []stagedNPCPayload `json:"npcs"`
	TTLHours int                `json:"ttl_hours,omitempty"`
}

type stagingHistoryPayload struct {
	RegionID string `json:"region_id"`
	Limit    int    `json:"limit,omitempty"`
}

type timeAdvancePayload struct {
	Hours int `json:"hours"`
}

// Engine-to-client payloads.

type joinedPayload struct {
	SessionID string `json:"session_id"`
	WorldID   string `json:"world_id"`
	WorldName string `json:"world_name,omitempty"`
	SceneID   string `json:"scene_id,omitempty"`
	GameTime  string `json:"game_time"`
	Role      string `json:"role"`
}

type actionAckPayload struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type sceneUpdatePayload struct {
	RegionID string             `json:"region_id"`
	NPCs     []stagedNPCPayload `json:"npcs"`
	Source   string             `json:"source"`
	GameTime string             `json:"game_time"`
}

type stagingPendingPayload struct {
	ProposalID string             `json:"proposal_id"`
	RegionID   string             `json:"region_id"`
	RegionName string             `json:"region_name,omitempty"`
	RuleBased  []stagedNPCPayload `json:"rule_based,omitempty"`
	LLMBased   []stagedNPCPayload `json:"llm_based,omitempty"`
	Waiting    int                `json:"waiting"`
}

type approvalRequiredPayload struct {
	ItemID           string        `json:"item_id"`
	RequestID        string        `json:"request_id,omitempty"`
	PlayerAction     string        `json:"player_action"`
	NPCID            string        `json:"npc_id"`
	NPCName          string        `json:"npc_name"`
	ProposedDialogue string        `json:"proposed_dialogue"`
	Reasoning        string        `json:"reasoning,omitempty"`
	Tools            []toolPayload `json:"tools,omitempty"`
	RetryCount       int           `json:"retry_count"`
}

type toolPayload struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type approvalResolvedPayload struct {
	ItemID      string              `json:"item_id"`
	Outcome     string              `json:"outcome"`
	Dialogue    string              `json:"dialogue,omitempty"`
	Feedback    string              `json:"feedback,omitempty"`
	ReprocessAt string              `json:"reprocess_at,omitempty"`
	Tools       []toolResultPayload `json:"tools,omitempty"`
}

type toolResultPayload struct {
	ToolID      string `json:"tool_id"`
	Name        string `json:"name"`
	Executed    bool   `json:"executed"`
	Description string `json:"description,omitempty"`
	Err         string `json:"error,omitempty"`
}

type narrativeTriggeredPayload struct {
	EventID          string   `json:"event_id"`
	EventName        string   `json:"event_name"`
	SceneDirection   string   `json:"scene_direction,omitempty"`
	Outcome          string   `json:"outcome,omitempty"`
	SuccessCount     int      `json:"success_count"`
	FailureCount     int      `json:"failure_count"`
	PendingDMActions []string `json:"pending_dm_actions,omitempty"`
}

type splitPartyPayload struct {
	RegionID string              `json:"region_id"`
	MovedBy  string              `json:"moved_by"`
	Regions  map[string][]string `json:"regions"`
}

type timeAdvancedPayload struct {
	GameTime string `json:"game_time"`
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

func encodeFrame(frameType, requestID string, payload any) []byte {
	b, err := json.Marshal(wsFrame{Type: frameType, RequestID: requestID, Payload: mustJSON(payload)})
	if err != nil {
		log.Printf("failed to marshal websocket frame: %v", err)
		return nil
	}
	return b
}

// invalidFrameError reports a transport-level problem with a frame.
func invalidFrameError(requestID, message string) []byte {
	return encodeFrame("engine.error", requestID, wsErrorEnvelope{
		Error: wsError{
			Code:    string(errors.CodeInvalidArgument),
			Message: message,
		},
	})
}

// errorFrame builds the error envelope. Players receive the sanitized
// message; the DM variant carries dependency detail.
func errorFrame(requestID string, err error, forDM bool) []byte {
	message := errors.PlayerMessage(err)
	if forDM {
		message = errors.DMMessage(err)
	}
	return encodeFrame("engine.error", requestID, wsErrorEnvelope{
		Error: wsError{
			Code:    string(errors.CodeOf(err)),
			Message: message,
		},
	})
}

func stagedNPCsToPayload(npcs []domain.StagedNPC) []stagedNPCPayload {
	out := make([]stagedNPCPayload, 0, len(npcs))
	for _, npc := range npcs {
		out = append(out, stagedNPCPayload{
			CharacterID: npc.CharacterID,
			Name:        npc.Name,
			Present:     npc.Present,
			Hidden:      npc.Hidden,
			Mood:        npc.Mood,
			Reasoning:   npc.Reasoning,
		})
	}
	return out
}

func stagedNPCsFromPayload(npcs []stagedNPCPayload) []domain.StagedNPC {
	out := make([]domain.StagedNPC, 0, len(npcs))
	for _, npc := range npcs {
		out = append(out, domain.StagedNPC{
			CharacterID: npc.CharacterID,
			Name:        npc.Name,
			Present:     npc.Present,
			Hidden:      npc.Hidden,
			Mood:        npc.Mood,
			Reasoning:   npc.Reasoning,
		})
	}
	return out
}

func sceneUpdateFrame(st domain.Staging, visibleOnly bool) []byte {
	npcs := st.NPCs
	if visibleOnly {
		npcs = st.VisibleNPCs()
	}
	return encodeFrame("scene.update", "", sceneUpdatePayload{
		RegionID: st.RegionID,
		NPCs:     stagedNPCsToPayload(npcs),
		Source:   string(st.Source),
		GameTime: st.GameTime.UTC().Format(time.RFC3339),
	})
}

func approvalRequiredFrame(item approval.Item) []byte {
	tools := make([]toolPayload, 0, len(item.Tools))
	for _, tool := range item.Tools {
		tools = append(tools, toolPayload{ID: tool.ID, Name: tool.Name, Arguments: tool.Arguments})
	}
	return encodeFrame("approval.required", item.RequestID, approvalRequiredPayload{
		ItemID:           item.ID,
		RequestID:        item.RequestID,
		PlayerAction:     item.PlayerAction,
		NPCID:            item.NPCID,
		NPCName:          item.NPCName,
		ProposedDialogue: item.ProposedDialogue,
		Reasoning:        item.Reasoning,
		Tools:            tools,
		RetryCount:       item.RetryCount,
	})
}
