package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/tessera/internal/approval"
	"github.com/louisbranch/tessera/internal/generative"
	narrservice "github.com/louisbranch/tessera/internal/narrative/service"
	"github.com/louisbranch/tessera/internal/session"
	stagingservice "github.com/louisbranch/tessera/internal/staging/service"
	"github.com/louisbranch/tessera/internal/storage"
	"github.com/louisbranch/tessera/internal/storage/sqlite"
)

// recordingSender captures frames routed to one connection.
type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingSender) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.frames = append(r.frames, cp)
	return nil
}

func (r *recordingSender) decoded(t *testing.T) []wsFrame {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wsFrame, 0, len(r.frames))
	for _, raw := range r.frames {
		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Dialogue broadcasts are flat payloads, not frames.
			out = append(out, wsFrame{Type: "raw", Payload: raw})
			continue
		}
		out = append(out, frame)
	}
	return out
}

func (r *recordingSender) ofType(t *testing.T, frameType string) []wsFrame {
	t.Helper()
	var out []wsFrame
	for _, frame := range r.decoded(t) {
		if frame.Type == frameType {
			out = append(out, frame)
		}
	}
	return out
}

func (r *recordingSender) requireType(t *testing.T, frameType string) wsFrame {
	t.Helper()
	frames := r.ofType(t, frameType)
	if len(frames) == 0 {
		t.Fatalf("no %q frame received, got %v", frameType, r.frameTypes(t))
	}
	return frames[len(frames)-1]
}

func (r *recordingSender) frameTypes(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, frame := range r.decoded(t) {
		out = append(out, frame.Type)
	}
	return out
}

type fakeGen struct {
	mu    sync.Mutex
	resp  generative.Response
	err   error
	calls int
}

func (f *fakeGen) Generate(_ context.Context, _ generative.Request) (generative.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return generative.Response{}, f.err
	}
	return f.resp, nil
}

func newTestEngine(t *testing.T, gen generative.Client) (*engine, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	sessions := session.NewManager(0)
	stagingSvc := stagingservice.New(store, store, gen, stagingservice.Config{DefaultTTLHours: 3})
	approvals := approval.New(
		approval.NewMemoryQueue(),
		sessions,
		newItemGranter(store),
		&infoRevealer{sessions: sessions},
		newRelationshipModifier(store),
		newEventTrigger(store, sessions),
		store,
		approval.DefaultConfig(),
	)
	executor := narrservice.NewExecutor(store, store, store, store, store, store, sessions)
	triggers := narrservice.NewTriggers(store, executor)

	return &engine{
		sessions:  sessions,
		staging:   stagingSvc,
		approvals: approvals,
		triggers:  triggers,
		gen:       gen,
		inventory: store,
		clock:     time.Now,
	}, store
}

func clientFrame(frameType, requestID string, payload any) wsFrame {
	return wsFrame{Type: frameType, RequestID: requestID, Payload: mustJSON(payload)}
}

var connSeq int

func newClient(userID string) (*wsClient, *recordingSender) {
	connSeq++
	sender := &recordingSender{}
	return &wsClient{
		connID: fmt.Sprintf("conn-%s-%d", userID, connSeq),
		userID: userID,
		peer:   sender,
	}, sender
}

func joinWorld(t *testing.T, e *engine, c *wsClient, worldID, role, characterID string) {
	t.Helper()
	e.handleFrame(context.Background(), c, clientFrame("world.join", "join-1", joinPayload{
		WorldID:     worldID,
		Role:        role,
		CharacterID: characterID,
	}))
}

func seedRegion(t *testing.T, store *sqlite.Store, regionID string, npcs ...storage.RegionNPC) {
	t.Helper()
	ctx := context.Background()
	err := store.PutRegion(ctx, storage.Region{ID: regionID, WorldID: "world-1", Name: "The Broken Anvil"})
	if err != nil {
		t.Fatalf("put region: %v", err)
	}
	for _, npc := range npcs {
		npc.RegionID = regionID
		if err := store.PutRegionNPC(ctx, npc); err != nil {
			t.Fatalf("put region npc %s: %v", npc.CharacterID, err)
		}
	}
}

func TestWorldJoinAssignsSharedSession(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	dm, dmSender := newClient("dm-user")
	joinWorld(t, e, dm, "world-1", "dm", "")

	frame := dmSender.requireType(t, "session.joined")
	var joined joinedPayload
	if err := json.Unmarshal(frame.Payload, &joined); err != nil {
		t.Fatalf("decode joined payload: %v", err)
	}
	if joined.SessionID == "" || joined.Role != "dm" {
		t.Fatalf("joined = %+v, want session id and dm role", joined)
	}

	player, playerSender := newClient("player-user")
	joinWorld(t, e, player, "world-1", "player", "pc-1")

	var playerJoined joinedPayload
	if err := json.Unmarshal(playerSender.requireType(t, "session.joined").Payload, &playerJoined); err != nil {
		t.Fatalf("decode player joined payload: %v", err)
	}
	if playerJoined.SessionID != joined.SessionID {
		t.Fatalf("player session = %s, want %s", playerJoined.SessionID, joined.SessionID)
	}
}

func TestWorldJoinRejectsSecondDM(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	dm, _ := newClient("dm-user")
	joinWorld(t, e, dm, "world-1", "dm", "")

	intruder, intruderSender := newClient("other-dm")
	joinWorld(t, e, intruder, "world-1", "dm", "")

	frame := intruderSender.requireType(t, "engine.error")
	var envelope wsErrorEnvelope
	if err := json.Unmarshal(frame.Payload, &envelope); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if envelope.Error.Code != "DM_ALREADY_PRESENT" {
		t.Fatalf("error code = %s, want DM_ALREADY_PRESENT", envelope.Error.Code)
	}
}

func TestRegionEnterCreatesProposalAndAttachesLaterEntrants(t *testing.T) {
	e, store := newTestEngine(t, nil)
	seedRegion(t, store, "region-1",
		storage.RegionNPC{CharacterID: "npc-1", Name: "Mira", Present: true},
	)

	dm, dmSender := newClient("dm-user")
	joinWorld(t, e, dm, "world-1", "dm", "")
	first, firstSender := newClient("player-one")
	joinWorld(t, e, first, "world-1", "player", "pc-1")
	second, secondSender := newClient("player-two")
	joinWorld(t, e, second, "world-1", "player", "pc-2")

	ctx := context.Background()
	e.handleFrame(ctx, first, clientFrame("region.enter", "enter-1", regionEnterPayload{RegionID: "region-1"}))
	e.handleFrame(ctx, second, clientFrame("region.enter", "enter-2", regionEnterPayload{RegionID: "region-1"}))

	firstSender.requireType(t, "staging.pending")

	// The attached entrant's notice names the region even though the
	// proposal was created by somebody else.
	var attachedPending stagingPendingPayload
	if err := json.Unmarshal(secondSender.requireType(t, "staging.pending").Payload, &attachedPending); err != nil {
		t.Fatalf("decode attached pending payload: %v", err)
	}
	if attachedPending.RegionName != "The Broken Anvil" {
		t.Fatalf("attached pending region name = %q, want The Broken Anvil", attachedPending.RegionName)
	}

	dmFrames := dmSender.ofType(t, "staging.pending")
	if len(dmFrames) != 1 {
		t.Fatalf("DM received %d staging.pending frames, want 1", len(dmFrames))
	}
	var pending stagingPendingPayload
	if err := json.Unmarshal(dmFrames[0].Payload, &pending); err != nil {
		t.Fatalf("decode pending payload: %v", err)
	}
	if pending.ProposalID == "" {
		t.Fatal("pending proposal has no id")
	}
	if len(pending.RuleBased) != 1 || pending.RuleBased[0].CharacterID != "npc-1" {
		t.Fatalf("rule based candidates = %+v, want npc-1", pending.RuleBased)
	}

	proposal, ok := e.staging.Pending("region-1")
	if !ok {
		t.Fatal("no pending proposal after entries")
	}
	if proposal.WorldID != "world-1" {
		t.Fatalf("proposal world = %q, want world-1", proposal.WorldID)
	}
}

func TestStagingResolveNotifiesEveryWaiter(t *testing.T) {
	e, store := newTestEngine(t, nil)
	seedRegion(t, store, "region-1",
		storage.RegionNPC{CharacterID: "npc-1", Name: "Mira", Present: true},
	)

	dm, dmSender := newClient("dm-user")
	joinWorld(t, e, dm, "world-1", "dm", "")
	first, firstSender := newClient("player-one")
	joinWorld(t, e, first, "world-1", "player", "pc-1")
	second, secondSender := newClient("player-two")
	joinWorld(t, e, second, "world-1", "player", "pc-2")

	ctx := context.Background()
	e.handleFrame(ctx, first, clientFrame("region.enter", "enter-1", regionEnterPayload{RegionID: "region-1"}))
	e.handleFrame(ctx, second, clientFrame("region.enter", "enter-2", regionEnterPayload{RegionID: "region-1"}))

	var pending stagingPendingPayload
	if err := json.Unmarshal(dmSender.requireType(t, "staging.pending").Payload, &pending); err != nil {
		t.Fatalf("decode pending payload: %v", err)
	}

	e.handleFrame(ctx, dm, clientFrame("staging.resolve", "resolve-1", stagingResolvePayload{
		ProposalID: pending.ProposalID,
		NPCs: []stagedNPCPayload{
			{CharacterID: "npc-1", Name: "Mira", Present: true},
			{CharacterID: "npc-2", Name: "Lurker", Present: true, Hidden: true},
		},
	}))

	firstReady := firstSender.requireType(t, "staging.ready")
	secondReady := secondSender.requireType(t, "staging.ready")
	if string(firstReady.Payload) != string(secondReady.Payload) {
		t.Fatalf("waiters received different scenes:\n%s\n%s", firstReady.Payload, secondReady.Payload)
	}

	var scene sceneUpdatePayload
	if err := json.Unmarshal(firstReady.Payload, &scene); err != nil {
		t.Fatalf("decode scene payload: %v", err)
	}
	if len(scene.NPCs) != 1 || scene.NPCs[0].CharacterID != "npc-1" {
		t.Fatalf("player scene NPCs = %+v, want only visible npc-1", scene.NPCs)
	}

	var dmScene sceneUpdatePayload
	if err := json.Unmarshal(dmSender.requireType(t, "scene.update").Payload, &dmScene); err != nil {
		t.Fatalf("decode DM scene payload: %v", err)
	}
	if len(dmScene.NPCs) != 2 {
		t.Fatalf("DM scene NPCs = %+v, want hidden npc included", dmScene.NPCs)
	}
}

func TestRegionEnterReadyAfterPrestage(t *testing.T) {
	e, store := newTestEngine(t, nil)
	seedRegion(t, store, "region-1")

	dm, _ := newClient("dm-user")
	joinWorld(t, e, dm, "world-1", "dm", "")

	ctx := context.Background()
	e.handleFrame(ctx, dm, clientFrame("staging.prestage", "pre-1", stagingPrestagePayload{
		RegionID: "region-1",
		NPCs: []stagedNPCPayload{
			{CharacterID: "npc-1", Name: "Mira", Present: true},
		},
	}))

	player, playerSender := newClient("player-user")
	joinWorld(t, e, player, "world-1", "player", "pc-1")
	e.handleFrame(ctx, player, clientFrame("region.enter", "enter-1", regionEnterPayload{RegionID: "region-1"}))

	var scene sceneUpdatePayload
	if err := json.Unmarshal(playerSender.requireType(t, "scene.update").Payload, &scene); err != nil {
		t.Fatalf("decode scene payload: %v", err)
	}
	if scene.Source != "prestaged" {
		t.Fatalf("scene source = %s, want prestaged", scene.Source)
	}
	if len(playerSender.ofType(t, "staging.pending")) != 0 {
		t.Fatal("player waited on a proposal despite a prestaged scene")
	}
}

func TestPlayerActionQueuesApprovalForDM(t *testing.T) {
	gen := &fakeGen{resp: generative.Response{
		Dialogue:  "The ale is on the house tonight.",
		Reasoning: "Mira likes the party.",
	}}
	e, _ := newTestEngine(t, gen)

	dm, dmSender := newClient("dm-user")
	joinWorld(t, e, dm, "world-1", "dm", "")
	player, playerSender := newClient("player-user")
	joinWorld(t, e, player, "world-1", "player", "pc-1")

	ctx := context.Background()
	e.handleFrame(ctx, player, clientFrame("player.action", "act-1", playerActionPayload{
		Action:  "I ask Mira about the cellar noises.",
		NPCID:   "npc-1",
		NPCName: "Mira",
	}))

	playerSender.requireType(t, "action.received")
	playerSender.requireType(t, "action.queued")
	if len(playerSender.ofType(t, "approval.required")) != 0 {
		t.Fatal("player saw the proposed dialogue before DM review")
	}

	var required approvalRequiredPayload
	if err := json.Unmarshal(dmSender.requireType(t, "approval.required").Payload, &required); err != nil {
		t.Fatalf("decode approval payload: %v", err)
	}
	if required.ProposedDialogue != "The ale is on the house tonight." {
		t.Fatalf("proposed dialogue = %q", required.ProposedDialogue)
	}
	if required.Reasoning == "" {
		t.Fatal("DM payload is missing the model reasoning")
	}
	if gen.calls != 1 {
		t.Fatalf("generate calls = %d, want 1", gen.calls)
	}
}

func TestApprovalDecideAcceptBroadcastsDialogue(t *testing.T) {
	gen := &fakeGen{resp: generative.Response{Dialogue: "Stay out of the cellar."}}
	e, _ := newTestEngine(t, gen)

	dm, dmSender := newClient("dm-user")
	joinWorld(t, e, dm, "world-1", "dm", "")
	player, playerSender := newClient("player-user")
	joinWorld(t, e, player, "world-1", "player", "pc-1")

	ctx := context.Background()
	e.handleFrame(ctx, player, clientFrame("player.action", "act-1", playerActionPayload{
		Action: "I pry at the cellar door.", NPCID: "npc-1", NPCName: "Mira",
	}))

	var required approvalRequiredPayload
	if err := json.Unmarshal(dmSender.requireType(t, "approval.required").Payload, &required); err != nil {
		t.Fatalf("decode approval payload: %v", err)
	}

	e.handleFrame(ctx, dm, clientFrame("approval.decide", "dec-1", approvalDecidePayload{
		ItemID:   required.ItemID,
		Decision: "accept",
	}))

	var resolved approvalResolvedPayload
	if err := json.Unmarshal(dmSender.requireType(t, "approval.resolved").Payload, &resolved); err != nil {
		t.Fatalf("decode resolved payload: %v", err)
	}
	if resolved.Outcome != "broadcast" || resolved.Dialogue != "Stay out of the cellar." {
		t.Fatalf("resolved = %+v", resolved)
	}

	found := false
	for _, raw := range playerSender.frames {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if m["type"] == "dialogue_response" && m["text"] == "Stay out of the cellar." {
			found = true
		}
	}
	if !found {
		t.Fatal("player never received the approved dialogue")
	}
}

func TestApprovalDecideRejectDefersItem(t *testing.T) {
	gen := &fakeGen{resp: generative.Response{Dialogue: "Begone."}}
	e, _ := newTestEngine(t, gen)

	dm, dmSender := newClient("dm-user")
	joinWorld(t, e, dm, "world-1", "dm", "")
	player, _ := newClient("player-user")
	joinWorld(t, e, player, "world-1", "player", "pc-1")

	ctx := context.Background()
	e.handleFrame(ctx, player, clientFrame("player.action", "act-1", playerActionPayload{
		Action: "I greet the guard.", NPCID: "npc-1", NPCName: "Guard",
	}))

	var required approvalRequiredPayload
	if err := json.Unmarshal(dmSender.requireType(t, "approval.required").Payload, &required); err != nil {
		t.Fatalf("decode approval payload: %v", err)
	}

	e.handleFrame(ctx, dm, clientFrame("approval.decide", "dec-1", approvalDecidePayload{
		ItemID:   required.ItemID,
		Decision: "reject",
		Feedback: "too hostile for a town guard",
	}))

	var resolved approvalResolvedPayload
	if err := json.Unmarshal(dmSender.requireType(t, "approval.resolved").Payload, &resolved); err != nil {
		t.Fatalf("decode resolved payload: %v", err)
	}
	if resolved.Outcome != "rejected" {
		t.Fatalf("outcome = %s, want rejected", resolved.Outcome)
	}
	if resolved.ReprocessAt == "" {
		t.Fatal("rejected item has no reprocess time")
	}
}

func TestApprovalEndpointsRequireDM(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	dm, _ := newClient("dm-user")
	joinWorld(t, e, dm, "world-1", "dm", "")
	player, playerSender := newClient("player-user")
	joinWorld(t, e, player, "world-1", "player", "pc-1")

	e.handleFrame(context.Background(), player, clientFrame("approval.decide", "dec-1", approvalDecidePayload{
		ItemID:   "item-1",
		Decision: "accept",
	}))

	var envelope wsErrorEnvelope
	if err := json.Unmarshal(playerSender.requireType(t, "engine.error").Payload, &envelope); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if envelope.Error.Code != "NOT_AUTHORIZED" {
		t.Fatalf("error code = %s, want NOT_AUTHORIZED", envelope.Error.Code)
	}
}

func TestTimeAdvanceBroadcasts(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	dm, dmSender := newClient("dm-user")
	joinWorld(t, e, dm, "world-1", "dm", "")
	player, playerSender := newClient("player-user")
	joinWorld(t, e, player, "world-1", "player", "pc-1")

	e.handleFrame(context.Background(), dm, clientFrame("time.advance", "time-1", timeAdvancePayload{Hours: 5}))

	dmSender.requireType(t, "time.advanced")
	var advanced timeAdvancedPayload
	if err := json.Unmarshal(playerSender.requireType(t, "time.advanced").Payload, &advanced); err != nil {
		t.Fatalf("decode time payload: %v", err)
	}
	if advanced.GameTime == "" {
		t.Fatal("time.advanced carries no game time")
	}
}

func TestSplitPartyAlertsDM(t *testing.T) {
	e, store := newTestEngine(t, nil)
	seedRegion(t, store, "region-1")
	seedRegion(t, store, "region-2")

	dm, dmSender := newClient("dm-user")
	joinWorld(t, e, dm, "world-1", "dm", "")
	first, _ := newClient("player-one")
	joinWorld(t, e, first, "world-1", "player", "pc-1")
	second, _ := newClient("player-two")
	joinWorld(t, e, second, "world-1", "player", "pc-2")

	ctx := context.Background()
	e.handleFrame(ctx, first, clientFrame("region.enter", "enter-1", regionEnterPayload{RegionID: "region-1"}))
	if len(dmSender.ofType(t, "party.split")) != 0 {
		t.Fatal("party.split fired with a single occupied region")
	}

	e.handleFrame(ctx, second, clientFrame("region.enter", "enter-2", regionEnterPayload{RegionID: "region-2"}))

	var split splitPartyPayload
	if err := json.Unmarshal(dmSender.requireType(t, "party.split").Payload, &split); err != nil {
		t.Fatalf("decode split payload: %v", err)
	}
	if len(split.Regions) != 2 {
		t.Fatalf("split regions = %+v, want 2 regions", split.Regions)
	}
	if split.MovedBy != "player-two" {
		t.Fatalf("moved by = %s, want player-two", split.MovedBy)
	}
}

func TestUnsupportedFrameTypeReturnsError(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	c, sender := newClient("player-user")

	e.handleFrame(context.Background(), c, clientFrame("world.unknown", "req-1", nil))

	var envelope wsErrorEnvelope
	if err := json.Unmarshal(sender.requireType(t, "engine.error").Payload, &envelope); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if envelope.Error.Code != "INVALID_ARGUMENT" {
		t.Fatalf("error code = %s, want INVALID_ARGUMENT", envelope.Error.Code)
	}
}
