package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/louisbranch/tessera/internal/narrative/domain"
	"github.com/louisbranch/tessera/internal/storage"
)

type fakeInventory struct {
	items map[string][]storage.Item
	err   error
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{items: make(map[string][]storage.Item)}
}

func (f *fakeInventory) GiveItem(_ context.Context, ownerID string, item storage.Item) error {
	if f.err != nil {
		return f.err
	}
	f.items[ownerID] = append(f.items[ownerID], item)
	return nil
}

func (f *fakeInventory) TakeItem(_ context.Context, ownerID, itemName string, _ int) error {
	for i, it := range f.items[ownerID] {
		if it.Name == itemName {
			f.items[ownerID] = append(f.items[ownerID][:i], f.items[ownerID][i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeInventory) ListItems(_ context.Context, ownerID string) ([]storage.Item, error) {
	return f.items[ownerID], nil
}

type fakeChallenges struct {
	enabled map[string]bool
}

func (f *fakeChallenges) SetEnabled(_ context.Context, id string, enabled bool) error {
	if f.enabled == nil {
		f.enabled = make(map[string]bool)
	}
	f.enabled[id] = enabled
	return nil
}

type fakeEventStore struct {
	events map[string]domain.Event
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[string]domain.Event)}
}

func (f *fakeEventStore) PutEvent(_ context.Context, e domain.Event) error {
	f.events[e.ID] = e
	return nil
}

func (f *fakeEventStore) GetEvent(_ context.Context, id string) (domain.Event, error) {
	e, ok := f.events[id]
	if !ok {
		return domain.Event{}, storage.ErrNotFound
	}
	return e, nil
}

func (f *fakeEventStore) ListActiveEvents(_ context.Context, worldID string) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range f.events {
		if e.WorldID == worldID && e.Active {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventStore) SetEventActive(_ context.Context, id string, active bool) error {
	e, ok := f.events[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.Active = active
	f.events[id] = e
	return nil
}

type fakeRelationshipStore struct {
	rels map[string]domain.Relationship
}

func newFakeRelationshipStore() *fakeRelationshipStore {
	return &fakeRelationshipStore{rels: make(map[string]domain.Relationship)}
}

func (f *fakeRelationshipStore) GetRelationship(_ context.Context, from, to string) (domain.Relationship, error) {
	r, ok := f.rels[from+"/"+to]
	if !ok {
		return domain.Relationship{}, storage.ErrNotFound
	}
	return r, nil
}

func (f *fakeRelationshipStore) SaveRelationship(_ context.Context, r domain.Relationship) error {
	f.rels[r.FromCharacter+"/"+r.ToCharacter] = r
	return nil
}

type fakeJournal struct {
	entries []storage.JournalEntry
}

func (f *fakeJournal) AppendJournal(_ context.Context, e storage.JournalEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeJournal) ListJournal(_ context.Context, _ string, _ int) ([]storage.JournalEntry, error) {
	return f.entries, nil
}

type fakeStats struct {
	mods []string
}

func (f *fakeStats) ModifyStat(_ context.Context, ownerID, stat string, delta int) error {
	f.mods = append(f.mods, fmt.Sprintf("%s/%s/%+d", ownerID, stat, delta))
	return nil
}

type fakeScenes struct {
	sceneID string
}

func (f *fakeScenes) SetSceneID(_, sceneID string) error {
	f.sceneID = sceneID
	return nil
}

type executorFixture struct {
	executor  *Executor
	inventory *fakeInventory
	challenge *fakeChallenges
	events    *fakeEventStore
	rels      *fakeRelationshipStore
	journal   *fakeJournal
	stats     *fakeStats
	scenes    *fakeScenes
}

func newExecutorFixture() *executorFixture {
	fx := &executorFixture{
		inventory: newFakeInventory(),
		challenge: &fakeChallenges{},
		events:    newFakeEventStore(),
		rels:      newFakeRelationshipStore(),
		journal:   &fakeJournal{},
		stats:     &fakeStats{},
		scenes:    &fakeScenes{},
	}
	fx.executor = NewExecutor(fx.inventory, fx.challenge, fx.events, fx.rels, fx.journal, fx.stats, fx.scenes)
	fx.executor.clock = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	n := 0
	fx.executor.idGenerate = func() string { n++; return fmt.Sprintf("id-%d", n) }
	return fx
}

var execCtx = ExecContext{SessionID: "sess", WorldID: "w1", PlayerCharacterID: "pc-1"}

func TestExecuteIsolatesFailures(t *testing.T) {
	fx := newExecutorFixture()
	effects := []domain.Effect{
		{Kind: domain.EffectTakeItem, ItemName: "ghost dagger"}, // not in inventory
		{Kind: domain.EffectGiveItem, ItemName: "healing potion"},
		{Kind: domain.EffectSetFlag, FlagName: "gate_open", FlagValue: true},
		{Kind: domain.EffectCustom, Description: "thunder rolls"},
	}

	sum := fx.executor.Execute(context.Background(), "ev1", "main", effects, execCtx)
	if sum.SuccessCount != 2 {
		t.Fatalf("success count = %d, want 2 (give + custom)", sum.SuccessCount)
	}
	if sum.FailureCount != 1 {
		t.Fatalf("failure count = %d, want 1 (take of absent item)", sum.FailureCount)
	}
	if len(sum.PendingDMActions) != 1 {
		t.Fatalf("pending DM actions = %v, want the set_flag extension point", sum.PendingDMActions)
	}
	if len(fx.inventory.items["pc-1"]) != 1 {
		t.Fatalf("inventory = %+v, want the potion despite earlier failure", fx.inventory.items)
	}
}

func TestTakeAbsentItemIsFailedNoOp(t *testing.T) {
	fx := newExecutorFixture()
	res := fx.executor.executeOne(context.Background(), domain.Effect{Kind: domain.EffectTakeItem, ItemName: "rope"}, execCtx)
	if res.Success || res.RequiresDM {
		t.Fatalf("result = %+v, want plain failure", res)
	}
	if res.Err != "item not in inventory" {
		t.Fatalf("err = %q", res.Err)
	}
}

func TestModifyRelationshipCreatesAndClamps(t *testing.T) {
	fx := newExecutorFixture()
	eff := domain.Effect{
		Kind:            domain.EffectModifyRelationship,
		FromCharacter:   "npc-a",
		FromName:        "Aldric",
		ToCharacter:     "pc-1",
		ToName:          "Brynn",
		SentimentChange: 1.7,
		Reason:          "saved his life",
	}

	res := fx.executor.executeOne(context.Background(), eff, execCtx)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	rel := fx.rels.rels["npc-a/pc-1"]
	if rel.Sentiment != 1 {
		t.Fatalf("sentiment = %v, want clamped to 1", rel.Sentiment)
	}
	if len(rel.History) != 1 || rel.History[0].Description != "saved his life" {
		t.Fatalf("history = %+v", rel.History)
	}
	if rel.History[0].At.IsZero() {
		t.Fatal("history entry not timestamped")
	}

	// Second modification reads the stored relationship back.
	eff.SentimentChange = -0.5
	eff.Reason = "lied to him"
	if res := fx.executor.executeOne(context.Background(), eff, execCtx); !res.Success {
		t.Fatalf("second modify failed: %+v", res)
	}
	rel = fx.rels.rels["npc-a/pc-1"]
	if rel.Sentiment != 0.5 || len(rel.History) != 2 {
		t.Fatalf("after second modify: %+v", rel)
	}
}

func TestModifyRelationshipRejectsNonFinite(t *testing.T) {
	fx := newExecutorFixture()
	nan := 0.0
	nan = nan / nan
	res := fx.executor.executeOne(context.Background(), domain.Effect{
		Kind:            domain.EffectModifyRelationship,
		SentimentChange: nan,
	}, execCtx)
	if res.Success {
		t.Fatalf("NaN sentiment change accepted: %+v", res)
	}
	if len(fx.rels.rels) != 0 {
		t.Fatal("relationship written despite invalid delta")
	}
}

func TestRevealInformationJournalAndEphemeral(t *testing.T) {
	fx := newExecutorFixture()

	persisted := domain.Effect{
		Kind:             domain.EffectRevealInformation,
		InfoType:         "lore",
		Title:            "The Sunken Bell",
		Content:          "It rings at low tide.",
		PersistToJournal: true,
	}
	if res := fx.executor.executeOne(context.Background(), persisted, execCtx); !res.Success {
		t.Fatalf("persisted reveal failed: %+v", res)
	}
	if len(fx.journal.entries) != 1 || fx.journal.entries[0].OwnerID != "pc-1" {
		t.Fatalf("journal = %+v", fx.journal.entries)
	}

	ephemeral := persisted
	ephemeral.PersistToJournal = false
	if res := fx.executor.executeOne(context.Background(), ephemeral, execCtx); !res.Success {
		t.Fatalf("ephemeral reveal failed: %+v", res)
	}
	if len(fx.journal.entries) != 1 {
		t.Fatal("ephemeral reveal was persisted")
	}
}

func TestChallengeEventStatAndSceneEffects(t *testing.T) {
	fx := newExecutorFixture()
	fx.events.events["ev2"] = domain.Event{ID: "ev2", WorldID: "w1", Active: false}

	effects := []domain.Effect{
		{Kind: domain.EffectEnableChallenge, ChallengeID: "ch1", ChallengeName: "Locked Door"},
		{Kind: domain.EffectEnableEvent, EventID: "ev2", EventName: "Ambush"},
		{Kind: domain.EffectModifyStat, StatName: "courage", Modifier: -2, CharacterName: "Brynn"},
		{Kind: domain.EffectTriggerScene, SceneID: "scene-9", SceneName: "The Cellar"},
	}
	sum := fx.executor.Execute(context.Background(), "ev1", "main", effects, execCtx)
	if sum.SuccessCount != 4 || sum.FailureCount != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if !fx.challenge.enabled["ch1"] {
		t.Fatal("challenge not enabled")
	}
	if !fx.events.events["ev2"].Active {
		t.Fatal("event not enabled")
	}
	if len(fx.stats.mods) != 1 || fx.stats.mods[0] != "pc-1/courage/-2" {
		t.Fatalf("stat mods = %v", fx.stats.mods)
	}
	if fx.scenes.sceneID != "scene-9" {
		t.Fatalf("scene = %q", fx.scenes.sceneID)
	}
}

func TestUnimplementedEffectsRequireDM(t *testing.T) {
	fx := newExecutorFixture()
	for _, kind := range []domain.EffectKind{domain.EffectSetFlag, domain.EffectStartCombat, domain.EffectAddReward} {
		res := fx.executor.executeOne(context.Background(), domain.Effect{Kind: kind}, execCtx)
		if res.Success || !res.RequiresDM {
			t.Fatalf("%s: result = %+v, want requires-DM failure", kind, res)
		}
	}
}

func TestCustomEffectAlwaysSucceeds(t *testing.T) {
	fx := newExecutorFixture()
	res := fx.executor.executeOne(context.Background(), domain.Effect{
		Kind:            domain.EffectCustom,
		Description:     "a raven lands nearby",
		RequiresDMAgent: true,
	}, execCtx)
	if !res.Success || !res.RequiresDM {
		t.Fatalf("result = %+v, want success with DM follow-up", res)
	}
}
