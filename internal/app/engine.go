// Package app runs the engine process: a websocket transport over the
// session registry, the staging workflow, the moderation queue, and the
// narrative trigger executor.
package app

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/tessera/internal/approval"
	"github.com/louisbranch/tessera/internal/errors"
	"github.com/louisbranch/tessera/internal/generative"
	narrdomain "github.com/louisbranch/tessera/internal/narrative/domain"
	narrservice "github.com/louisbranch/tessera/internal/narrative/service"
	"github.com/louisbranch/tessera/internal/session"
	stagingdomain "github.com/louisbranch/tessera/internal/staging/domain"
	stagingservice "github.com/louisbranch/tessera/internal/staging/service"
	"github.com/louisbranch/tessera/internal/storage"
)

// engine owns the frame handlers. One engine serves every connection;
// per-connection state lives in wsClient.
type engine struct {
	sessions  *session.Manager
	staging   *stagingservice.Service
	approvals *approval.Service
	triggers  *narrservice.Triggers
	gen       generative.Client
	inventory storage.InventoryStore

	clock func() time.Time
}

// wsClient is the engine-side state of one websocket connection.
type wsClient struct {
	connID      string
	userID      string
	role        session.Role
	characterID string
	peer        session.Sender
}

func (c *wsClient) send(payload []byte) {
	if payload == nil {
		return
	}
	if err := c.peer.Send(payload); err != nil {
		log.Printf("engine: failed to send to connection %s: %v", c.connID, err)
	}
}

func (c *wsClient) sendError(requestID string, err error) {
	c.send(errorFrame(requestID, err, c.role == session.RoleDM))
}

// handleFrame dispatches one decoded frame.
func (e *engine) handleFrame(ctx context.Context, c *wsClient, frame wsFrame) {
	switch frame.Type {
	case "world.join":
		e.handleWorldJoin(c, frame)
	case "region.enter":
		e.handleRegionEnter(ctx, c, frame)
	case "player.action":
		e.handlePlayerAction(ctx, c, frame)
	case "approval.decide":
		e.handleApprovalDecide(ctx, c, frame)
	case "approval.discard":
		e.handleApprovalDiscard(ctx, c, frame)
	case "approval.pending":
		e.handleApprovalPending(ctx, c, frame)
	case "approval.history":
		e.handleApprovalHistory(ctx, c, frame)
	case "approval.expire":
		e.handleApprovalExpire(ctx, c, frame)
	case "staging.resolve":
		e.handleStagingResolve(ctx, c, frame)
	case "staging.regenerate":
		e.handleStagingRegenerate(ctx, c, frame)
	case "staging.prestage":
		e.handleStagingPrestage(ctx, c, frame)
	case "staging.history":
		e.handleStagingHistory(ctx, c, frame)
	case "time.advance":
		e.handleTimeAdvance(c, frame)
	default:
		c.sendError(frame.RequestID, errors.New(errors.CodeInvalidArgument, "unsupported frame type "+frame.Type))
	}
}

// handleDisconnect tears down the connection's session membership.
func (e *engine) handleDisconnect(c *wsClient) {
	if info, ok := e.sessions.LeaveSession(c.connID); ok {
		log.Printf("engine: connection %s left session %s (removed=%t)", c.connID, info.SessionID, info.SessionRemoved)
	}
}

func (e *engine) handleWorldJoin(c *wsClient, frame wsFrame) {
	var payload joinPayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	if strings.TrimSpace(payload.WorldID) == "" {
		c.sendError(frame.RequestID, errors.New(errors.CodeNoWorld, "world_id is required"))
		return
	}
	role, err := session.ParseRole(payload.Role)
	if err != nil {
		c.sendError(frame.RequestID, errors.New(errors.CodeInvalidArgument, err.Error()))
		return
	}

	sessionID, ok := e.sessions.FindSessionForWorld(payload.WorldID)
	if !ok {
		sessionID, err = e.sessions.CreateSession(payload.WorldID, session.WorldSnapshot{
			WorldID:   payload.WorldID,
			WorldName: payload.WorldName,
		})
		if err != nil {
			c.sendError(frame.RequestID, errors.Wrap(errors.CodeUnknown, "create session", err))
			return
		}
	}

	snapshot, err := e.sessions.JoinSession(sessionID, c.connID, c.userID, role, c.peer)
	if err != nil {
		if stderrors.Is(err, session.ErrDMAlreadyPresent) {
			c.sendError(frame.RequestID, errors.New(errors.CodeDmAlreadyPresent, "another DM already runs this session"))
			return
		}
		c.sendError(frame.RequestID, errors.Wrap(errors.CodeUnknown, "join session", err))
		return
	}
	c.role = role
	c.characterID = payload.CharacterID

	gameTime, err := e.sessions.GameTime(sessionID)
	if err != nil {
		gameTime = e.clock()
	}
	c.send(encodeFrame("session.joined", frame.RequestID, joinedPayload{
		SessionID: sessionID,
		WorldID:   snapshot.WorldID,
		WorldName: snapshot.WorldName,
		SceneID:   snapshot.SceneID,
		GameTime:  gameTime.UTC().Format(time.RFC3339),
		Role:      string(role),
	}))
}

func (e *engine) handleRegionEnter(ctx context.Context, c *wsClient, frame wsFrame) {
	var payload regionEnterPayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	if strings.TrimSpace(payload.RegionID) == "" {
		c.sendError(frame.RequestID, errors.New(errors.CodeInvalidArgument, "region_id is required"))
		return
	}
	sessionID, ok := e.sessions.SessionOfConnection(c.connID)
	if !ok {
		c.sendError(frame.RequestID, errors.New(errors.CodeNotConnected, "join a world first"))
		return
	}
	worldID, ok := e.sessions.WorldOfSession(sessionID)
	if !ok {
		c.sendError(frame.RequestID, errors.New(errors.CodeNotConnected, "session is gone"))
		return
	}
	gameTime, err := e.sessions.GameTime(sessionID)
	if err != nil {
		c.sendError(frame.RequestID, errors.Wrap(errors.CodeUnknown, "read game time", err))
		return
	}

	if err := e.sessions.SetParticipantRegion(c.connID, payload.RegionID); err != nil {
		c.sendError(frame.RequestID, errors.Wrap(errors.CodeNotConnected, "track region", err))
		return
	}
	e.notifySplitParty(sessionID, payload.RegionID, c.userID)

	res, err := e.staging.EnterRegion(ctx, worldID, sessionID, payload.RegionID, c.connID, gameTime)
	if err != nil {
		c.sendError(frame.RequestID, err)
		return
	}

	switch res.Status {
	case stagingservice.StatusReady:
		c.send(sceneUpdateFrame(res.Staging, c.role != session.RoleDM))
		e.fireRegionTriggers(ctx, c, sessionID, worldID, payload.RegionID)
	case stagingservice.StatusPending:
		c.send(encodeFrame("staging.pending", frame.RequestID, stagingPendingPayload{
			ProposalID: res.Proposal.ID,
			RegionID:   res.Proposal.RegionID,
			RegionName: res.Proposal.RegionName,
			Waiting:    len(res.Proposal.Waiters()),
		}))
		if !res.Attached {
			e.sessions.SendToDM(sessionID, encodeFrame("staging.pending", "", stagingPendingPayload{
				ProposalID: res.Proposal.ID,
				RegionID:   res.Proposal.RegionID,
				RegionName: res.Proposal.RegionName,
				RuleBased:  stagedNPCsToPayload(res.Proposal.RuleBased),
				LLMBased:   stagedNPCsToPayload(res.Proposal.LLMBased),
				Waiting:    len(res.Proposal.Waiters()),
			}))
		}
	}
}

// notifySplitParty alerts the DM when players occupy more than one region.
func (e *engine) notifySplitParty(sessionID, regionID, movedBy string) {
	regions := make(map[string][]string)
	for _, p := range e.sessions.Participants(sessionID) {
		if p.Role != session.RolePlayer || p.CurrentRegion == "" {
			continue
		}
		regions[p.CurrentRegion] = append(regions[p.CurrentRegion], p.UserID)
	}
	if len(regions) < 2 {
		return
	}
	e.sessions.SendToDM(sessionID, encodeFrame("party.split", "", splitPartyPayload{
		RegionID: regionID,
		MovedBy:  movedBy,
		Regions:  regions,
	}))
}

// fireRegionTriggers evaluates narrative events for a region entry and
// reports fired events to the DM.
func (e *engine) fireRegionTriggers(ctx context.Context, c *wsClient, sessionID, worldID, regionID string) {
	nctx := narrdomain.Context{}
	if c.characterID != "" && e.inventory != nil {
		items, err := e.inventory.ListItems(ctx, c.characterID)
		if err != nil {
			log.Printf("engine: inventory lookup for %s failed: %v", c.characterID, err)
		}
		for _, item := range items {
			nctx.Inventory = append(nctx.Inventory, item.Name)
		}
	}
	sceneID, _ := e.sessions.SceneID(sessionID)
	nctx.SceneID = sceneID

	fired, err := e.triggers.OnRegionEntered(ctx, worldID, regionID, nctx, narrservice.ExecContext{
		SessionID:         sessionID,
		WorldID:           worldID,
		PlayerCharacterID: c.characterID,
		SceneID:           sceneID,
	})
	if err != nil {
		log.Printf("engine: narrative evaluation for region %s failed: %v", regionID, err)
	}
	for _, f := range fired {
		e.sessions.SendToDM(sessionID, encodeFrame("narrative.triggered", "", narrativeTriggeredPayload{
			EventID:          f.Event.ID,
			EventName:        f.Event.Name,
			SceneDirection:   f.SceneDirection,
			Outcome:          f.Summary.OutcomeName,
			SuccessCount:     f.Summary.SuccessCount,
			FailureCount:     f.Summary.FailureCount,
			PendingDMActions: f.Summary.PendingDMActions,
		}))
	}
}

const npcSystemPrompt = "You play a non-player character in a tabletop RPG " +
	"session. Respond with a JSON object with fields dialogue, reasoning, " +
	"and tools (an array of {name, arguments}). Stay in character; the " +
	"dungeon master reviews everything before players see it."

func (e *engine) handlePlayerAction(ctx context.Context, c *wsClient, frame wsFrame) {
	var payload playerActionPayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	if strings.TrimSpace(payload.Action) == "" {
		c.sendError(frame.RequestID, errors.New(errors.CodeInvalidArgument, "action is required"))
		return
	}
	sessionID, ok := e.sessions.SessionOfConnection(c.connID)
	if !ok {
		c.sendError(frame.RequestID, errors.New(errors.CodeNotConnected, "join a world first"))
		return
	}
	characterID := payload.CharacterID
	if characterID == "" {
		characterID = c.characterID
	}
	if characterID == "" {
		c.sendError(frame.RequestID, errors.New(errors.CodeNoPC, "no player character for this connection"))
		return
	}
	worldID, ok := e.sessions.WorldOfSession(sessionID)
	if !ok {
		c.sendError(frame.RequestID, errors.New(errors.CodeNotConnected, "session is gone"))
		return
	}

	c.send(encodeFrame("action.received", frame.RequestID, actionAckPayload{RequestID: frame.RequestID, Status: "received"}))
	if err := e.sessions.AppendTurn(sessionID, characterID, payload.Action, true); err != nil {
		log.Printf("engine: conversation append failed for session %s: %v", sessionID, err)
	}

	history, err := e.sessions.RecentHistory(sessionID, 10)
	if err != nil {
		history = nil
	}
	resp, err := e.gen.Generate(ctx, generative.Request{
		SystemPrompt: npcSystemPrompt,
		Prompt:       buildActionPrompt(payload.NPCName, history, payload.Action),
	})
	if err != nil {
		c.sendError(frame.RequestID, err)
		e.sessions.SendToDM(sessionID, errorFrame(frame.RequestID, err, true))
		return
	}

	item, err := e.approvals.Enqueue(ctx, approval.Item{
		SessionID:         sessionID,
		WorldID:           worldID,
		RequestID:         frame.RequestID,
		PlayerCharacterID: characterID,
		NPCID:             payload.NPCID,
		NPCName:           payload.NPCName,
		PlayerAction:      payload.Action,
		ProposedDialogue:  resp.Dialogue,
		Reasoning:         resp.Reasoning,
		Tools:             resp.Tools,
	})
	if err != nil {
		c.sendError(frame.RequestID, err)
		return
	}

	e.sessions.SendToDM(sessionID, approvalRequiredFrame(item))
	c.send(encodeFrame("action.queued", frame.RequestID, actionAckPayload{RequestID: frame.RequestID, Status: "awaiting DM review"}))
}

func buildActionPrompt(npcName string, history []session.ConversationTurn, action string) string {
	var b strings.Builder
	if npcName != "" {
		fmt.Fprintf(&b, "You are %s.\n", npcName)
	}
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Speaker, turn.Text)
		}
	}
	fmt.Fprintf(&b, "Player action: %s\n", action)
	b.WriteString("Respond in character.")
	return b.String()
}

// requireDM resolves the connection's session and enforces the DM role.
func (e *engine) requireDM(c *wsClient, requestID string) (string, bool) {
	sessionID, ok := e.sessions.SessionOfConnection(c.connID)
	if !ok {
		c.sendError(requestID, errors.New(errors.CodeNotConnected, "join a world first"))
		return "", false
	}
	if !e.sessions.IsDM(c.connID) {
		c.sendError(requestID, errors.New(errors.CodeNotAuthorized, "only the DM may do this"))
		return "", false
	}
	return sessionID, true
}

func (e *engine) handleApprovalDecide(ctx context.Context, c *wsClient, frame wsFrame) {
	if _, ok := e.requireDM(c, frame.RequestID); !ok {
		return
	}
	var payload approvalDecidePayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}

	decision := approval.Decision{
		Kind:             approval.DecisionKind(payload.Decision),
		ModifiedDialogue: payload.ModifiedDialogue,
		ApprovedTools:    payload.ApprovedTools,
		ItemRecipients:   payload.ItemRecipients,
		Feedback:         payload.Feedback,
		DMResponse:       payload.DMResponse,
	}
	out, err := e.approvals.Decide(ctx, payload.ItemID, decision)
	if err != nil {
		c.sendError(frame.RequestID, err)
		return
	}

	resolved := approvalResolvedPayload{
		ItemID:   payload.ItemID,
		Outcome:  string(out.Kind),
		Dialogue: out.Dialogue,
		Feedback: out.Feedback,
	}
	if !out.ReprocessAt.IsZero() {
		resolved.ReprocessAt = out.ReprocessAt.UTC().Format(time.RFC3339)
	}
	for _, tool := range out.Tools {
		resolved.Tools = append(resolved.Tools, toolResultPayload{
			ToolID:      tool.ToolID,
			Name:        tool.Name,
			Executed:    tool.Executed,
			Description: tool.Description,
			Err:         tool.Err,
		})
	}
	c.send(encodeFrame("approval.resolved", frame.RequestID, resolved))
}

func (e *engine) handleApprovalDiscard(ctx context.Context, c *wsClient, frame wsFrame) {
	if _, ok := e.requireDM(c, frame.RequestID); !ok {
		return
	}
	var payload approvalDiscardPayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	if err := e.approvals.Discard(ctx, payload.ItemID, payload.Reason); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	c.send(encodeFrame("approval.resolved", frame.RequestID, approvalResolvedPayload{
		ItemID:  payload.ItemID,
		Outcome: "discarded",
	}))
}

func (e *engine) handleApprovalPending(ctx context.Context, c *wsClient, frame wsFrame) {
	sessionID, ok := e.requireDM(c, frame.RequestID)
	if !ok {
		return
	}
	items, err := e.approvals.Pending(ctx, sessionID)
	if err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	entries := make([]approvalRequiredPayload, 0, len(items))
	for _, item := range items {
		tools := make([]toolPayload, 0, len(item.Tools))
		for _, tool := range item.Tools {
			tools = append(tools, toolPayload{ID: tool.ID, Name: tool.Name, Arguments: tool.Arguments})
		}
		entries = append(entries, approvalRequiredPayload{
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
	c.send(encodeFrame("approval.pending", frame.RequestID, map[string]any{"items": entries}))
}

func (e *engine) handleApprovalHistory(ctx context.Context, c *wsClient, frame wsFrame) {
	sessionID, ok := e.requireDM(c, frame.RequestID)
	if !ok {
		return
	}
	var payload approvalHistoryPayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	items, err := e.approvals.History(ctx, sessionID, payload.Limit)
	if err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	entries := make([]map[string]any, 0, len(items))
	for _, item := range items {
		entries = append(entries, map[string]any{
			"item_id":     item.ID,
			"npc_name":    item.NPCName,
			"status":      string(item.Status),
			"fail_reason": item.FailReason,
			"retry_count": item.RetryCount,
			"resolved_at": item.ResolvedAt.UTC().Format(time.RFC3339),
		})
	}
	c.send(encodeFrame("approval.history", frame.RequestID, map[string]any{"items": entries}))
}

func (e *engine) handleApprovalExpire(ctx context.Context, c *wsClient, frame wsFrame) {
	if _, ok := e.requireDM(c, frame.RequestID); !ok {
		return
	}
	var payload approvalExpirePayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	if payload.OlderThanMinutes <= 0 {
		c.sendError(frame.RequestID, errors.New(errors.CodeInvalidArgument, "older_than_minutes must be positive"))
		return
	}
	n, err := e.approvals.ExpireOld(ctx, time.Duration(payload.OlderThanMinutes)*time.Minute)
	if err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	c.send(encodeFrame("approval.expired", frame.RequestID, map[string]int{"expired": n}))
}

func (e *engine) handleStagingResolve(ctx context.Context, c *wsClient, frame wsFrame) {
	sessionID, ok := e.requireDM(c, frame.RequestID)
	if !ok {
		return
	}
	var payload stagingResolvePayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	gameTime, err := e.sessions.GameTime(sessionID)
	if err != nil {
		c.sendError(frame.RequestID, errors.Wrap(errors.CodeUnknown, "read game time", err))
		return
	}

	source := stagingdomain.SourceCustom
	switch stagingdomain.Source(payload.Source) {
	case stagingdomain.SourceRuleBased, stagingdomain.SourceLLM, stagingdomain.SourceAuto:
		source = stagingdomain.Source(payload.Source)
	}

	st, waiters, err := e.staging.Resolve(ctx, payload.ProposalID, stagedNPCsFromPayload(payload.NPCs), payload.TTLHours, c.userID, source, gameTime)
	if err != nil {
		c.sendError(frame.RequestID, err)
		return
	}

	// Every waiter receives the identical resolved scene.
	ready := encodeFrame("staging.ready", "", sceneUpdatePayload{
		RegionID: st.RegionID,
		NPCs:     stagedNPCsToPayload(st.VisibleNPCs()),
		Source:   string(st.Source),
		GameTime: st.GameTime.UTC().Format(time.RFC3339),
	})
	for _, connID := range waiters {
		if err := e.sessions.SendToConnection(connID, ready); err != nil {
			log.Printf("engine: staging fan-out to %s failed: %v", connID, err)
		}
	}
	c.send(sceneUpdateFrame(st, false))
}

func (e *engine) handleStagingRegenerate(ctx context.Context, c *wsClient, frame wsFrame) {
	if _, ok := e.requireDM(c, frame.RequestID); !ok {
		return
	}
	var payload stagingRegeneratePayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	p, err := e.staging.Regenerate(ctx, payload.ProposalID, payload.Guidance)
	if err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	c.send(encodeFrame("staging.regenerated", frame.RequestID, stagingPendingPayload{
		ProposalID: p.ID,
		RegionID:   p.RegionID,
		RegionName: p.RegionName,
		RuleBased:  stagedNPCsToPayload(p.RuleBased),
		LLMBased:   stagedNPCsToPayload(p.LLMBased),
		Waiting:    len(p.Waiters()),
	}))
}

func (e *engine) handleStagingPrestage(ctx context.Context, c *wsClient, frame wsFrame) {
	sessionID, ok := e.requireDM(c, frame.RequestID)
	if !ok {
		return
	}
	var payload stagingPrestagePayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	if strings.TrimSpace(payload.RegionID) == "" {
		c.sendError(frame.RequestID, errors.New(errors.CodeInvalidArgument, "region_id is required"))
		return
	}
	gameTime, err := e.sessions.GameTime(sessionID)
	if err != nil {
		c.sendError(frame.RequestID, errors.Wrap(errors.CodeUnknown, "read game time", err))
		return
	}

	st, waiters, err := e.staging.PreStage(ctx, sessionID, payload.RegionID, stagedNPCsFromPayload(payload.NPCs), payload.TTLHours, c.userID, gameTime)
	if err != nil {
		c.sendError(frame.RequestID, err)
		return
	}

	ready := encodeFrame("staging.ready", "", sceneUpdatePayload{
		RegionID: st.RegionID,
		NPCs:     stagedNPCsToPayload(st.VisibleNPCs()),
		Source:   string(st.Source),
		GameTime: st.GameTime.UTC().Format(time.RFC3339),
	})
	for _, connID := range waiters {
		if err := e.sessions.SendToConnection(connID, ready); err != nil {
			log.Printf("engine: staging fan-out to %s failed: %v", connID, err)
		}
	}
	c.send(sceneUpdateFrame(st, false))
}

func (e *engine) handleStagingHistory(ctx context.Context, c *wsClient, frame wsFrame) {
	if _, ok := e.requireDM(c, frame.RequestID); !ok {
		return
	}
	var payload stagingHistoryPayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	history, err := e.staging.History(ctx, payload.RegionID, payload.Limit)
	if err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	entries := make([]map[string]any, 0, len(history))
	for _, st := range history {
		entries = append(entries, map[string]any{
			"staging_id":  st.ID,
			"region_id":   st.RegionID,
			"source":      string(st.Source),
			"approved_by": st.ApprovedBy,
			"game_time":   st.GameTime.UTC().Format(time.RFC3339),
			"ttl_hours":   int(st.TTL.Hours()),
			"current":     st.Current,
			"npcs":        stagedNPCsToPayload(st.NPCs),
		})
	}
	c.send(encodeFrame("staging.history", frame.RequestID, map[string]any{"entries": entries}))
}

func (e *engine) handleTimeAdvance(c *wsClient, frame wsFrame) {
	sessionID, ok := e.requireDM(c, frame.RequestID)
	if !ok {
		return
	}
	var payload timeAdvancePayload
	if err := decodePayload(frame, &payload); err != nil {
		c.sendError(frame.RequestID, err)
		return
	}
	if payload.Hours <= 0 {
		c.sendError(frame.RequestID, errors.New(errors.CodeInvalidArgument, "hours must be positive"))
		return
	}
	gameTime, err := e.sessions.AdvanceGameTime(sessionID, time.Duration(payload.Hours)*time.Hour)
	if err != nil {
		c.sendError(frame.RequestID, errors.Wrap(errors.CodeUnknown, "advance game time", err))
		return
	}
	e.sessions.Broadcast(sessionID, encodeFrame("time.advanced", "", timeAdvancedPayload{
		GameTime: gameTime.UTC().Format(time.RFC3339),
	}))
}

func decodePayload(frame wsFrame, target any) error {
	if len(frame.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(frame.Payload, target); err != nil {
		return errors.Wrap(errors.CodeInvalidArgument, "invalid payload", err)
	}
	return nil
}
