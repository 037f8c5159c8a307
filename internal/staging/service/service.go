// Package service implements the staging approval workflow: cached NPC
// placements per region, proposal generation for DM review, and the
// waiting list for players who arrive while a proposal is pending.
package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/tessera/internal/errors"
	"github.com/louisbranch/tessera/internal/generative"
	"github.com/louisbranch/tessera/internal/platform/id"
	"github.com/louisbranch/tessera/internal/staging/domain"
	"github.com/louisbranch/tessera/internal/storage"
)

// Status reports how a region entry resolved.
type Status string

const (
	// StatusReady means a valid staging was found and the entrant can be
	// shown the region immediately.
	StatusReady Status = "ready"
	// StatusPending means a proposal is with the DM and the entrant is
	// on the waiting list.
	StatusPending Status = "pending"
)

// Config tunes proposal generation.
type Config struct {
	// DefaultTTLHours is the in-world validity used when the DM does not
	// override it.
	DefaultTTLHours int
	// UseLLM enables generative candidate lists alongside rule-based ones.
	UseLLM bool
	// Temperature for generative staging queries. Low values keep the
	// lists stable.
	Temperature float64
}

// DefaultConfig matches the behavior DMs expect out of the box.
func DefaultConfig() Config {
	return Config{DefaultTTLHours: 3, UseLLM: true, Temperature: 0.3}
}

// Proposal is a staging awaiting DM review. At most one proposal exists
// per region; later entrants attach to it instead of creating another.
type Proposal struct {
	ID         string
	WorldID    string
	SessionID  string
	RegionID   string
	RegionName string
	// RuleBased lists candidates derived from NPC schedules.
	RuleBased []domain.StagedNPC
	// LLMBased lists generative candidates, or mirrors RuleBased when
	// the generative call failed or is disabled.
	LLMBased []domain.StagedNPC
	TTLHours int
	Guidance string
	// RequestedBy is the connection that first entered the region.
	RequestedBy string
	CreatedAt   time.Time

	waiters []string
}

// Waiters returns the connections to notify when the proposal resolves,
// including the original requester.
func (p *Proposal) Waiters() []string {
	out := make([]string, 0, len(p.waiters)+1)
	out = append(out, p.RequestedBy)
	out = append(out, p.waiters...)
	return out
}

// Result is the outcome of a region entry.
type Result struct {
	Status  Status
	Staging domain.Staging
	// Proposal is set when Status is StatusPending.
	Proposal *Proposal
	// Attached means the entrant joined an existing proposal's waiting
	// list rather than creating one.
	Attached bool
}

// Service drives the staging workflow. Proposals live in memory for the
// process lifetime; resolved stagings persist through the store.
type Service struct {
	store     storage.StagingStore
	locations storage.LocationStore
	gen       generative.Client
	cfg       Config

	mu         sync.Mutex
	byRegion   map[string]*Proposal
	byID       map[string]*Proposal
	clock      func() time.Time
	idGenerate func() string
}

// New wires a staging service. gen may be nil when generative staging is
// disabled.
func New(store storage.StagingStore, locations storage.LocationStore, gen generative.Client, cfg Config) *Service {
	if cfg.DefaultTTLHours <= 0 {
		cfg.DefaultTTLHours = DefaultConfig().DefaultTTLHours
	}
	return &Service{
		store:      store,
		locations:  locations,
		gen:        gen,
		cfg:        cfg,
		byRegion:   make(map[string]*Proposal),
		byID:       make(map[string]*Proposal),
		clock:      time.Now,
		idGenerate: id.MustNewID,
	}
}

// Current returns the region's staging when one exists and is still
// valid at the given in-world time.
func (s *Service) Current(ctx context.Context, regionID string, gameTime time.Time) (domain.Staging, bool, error) {
	cur, err := s.store.CurrentStaging(ctx, regionID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return domain.Staging{}, false, nil
		}
		return domain.Staging{}, false, errors.Wrap(errors.CodeStorageError, "load current staging", err)
	}
	if cur.Expired(gameTime) {
		return domain.Staging{}, false, nil
	}
	return cur, true, nil
}

// EnterRegion resolves a player's arrival in a region. A valid cached
// staging returns immediately as ready. Otherwise the entrant either
// creates a proposal for DM review or attaches to the one already
// pending for the region.
func (s *Service) EnterRegion(ctx context.Context, worldID, sessionID, regionID, connID string, gameTime time.Time) (Result, error) {
	cur, ok, err := s.Current(ctx, regionID, gameTime)
	if err != nil {
		return Result{}, err
	}
	if ok {
		return Result{Status: StatusReady, Staging: cur}, nil
	}

	s.mu.Lock()
	if p, found := s.byRegion[regionID]; found {
		p.waiters = append(p.waiters, connID)
		snapshot := *p
		s.mu.Unlock()
		return Result{Status: StatusPending, Proposal: &snapshot, Attached: true}, nil
	}
	s.mu.Unlock()

	// Candidate generation touches stores and the generative client, so
	// it runs outside the lock and before the proposal is registered.
	// Nobody can attach to a proposal whose build may still fail, and
	// attached waiters always see a fully populated snapshot.
	ruleBased, llmBased, regionName, err := s.buildCandidates(ctx, regionID, "")
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, found := s.byRegion[regionID]; found {
		// A concurrent entrant registered the proposal while candidates
		// were building.
		p.waiters = append(p.waiters, connID)
		snapshot := *p
		return Result{Status: StatusPending, Proposal: &snapshot, Attached: true}, nil
	}
	p := &Proposal{
		ID:          s.idGenerate(),
		WorldID:     worldID,
		SessionID:   sessionID,
		RegionID:    regionID,
		RegionName:  regionName,
		RuleBased:   ruleBased,
		LLMBased:    llmBased,
		TTLHours:    s.cfg.DefaultTTLHours,
		RequestedBy: connID,
		CreatedAt:   s.clock(),
	}
	s.byRegion[regionID] = p
	s.byID[p.ID] = p
	snapshot := *p
	return Result{Status: StatusPending, Proposal: &snapshot}, nil
}

// Pending returns the proposal currently awaiting review for a region.
func (s *Service) Pending(regionID string) (*Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byRegion[regionID]
	if !ok {
		return nil, false
	}
	snapshot := *p
	return &snapshot, true
}

// Resolve applies the DM's decision on a proposal: the approved NPC list
// becomes the region's current staging and the waiting list is returned
// so the caller can fan out the ready notification. ttlHours <= 0 keeps
// the proposal's default.
func (s *Service) Resolve(ctx context.Context, proposalID string, approved []domain.StagedNPC, ttlHours int, approvedBy string, source domain.Source, gameTime time.Time) (domain.Staging, []string, error) {
	s.mu.Lock()
	p, ok := s.byID[proposalID]
	if !ok {
		s.mu.Unlock()
		return domain.Staging{}, nil, errors.New(errors.CodeNotFound, "no pending staging proposal "+proposalID)
	}
	delete(s.byID, proposalID)
	delete(s.byRegion, p.RegionID)
	waiters := p.Waiters()
	regionID := p.RegionID
	sessionID := p.SessionID
	if ttlHours <= 0 {
		ttlHours = p.TTLHours
	}
	s.mu.Unlock()

	st, err := s.apply(ctx, regionID, sessionID, approved, ttlHours, approvedBy, source, gameTime)
	if err != nil {
		return domain.Staging{}, nil, err
	}
	return st, waiters, nil
}

// PreStage installs a staging before any player arrives. A pending
// proposal for the region, if any, is superseded and its waiting list is
// returned.
func (s *Service) PreStage(ctx context.Context, sessionID, regionID string, npcs []domain.StagedNPC, ttlHours int, dmUserID string, gameTime time.Time) (domain.Staging, []string, error) {
	s.mu.Lock()
	var waiters []string
	if p, ok := s.byRegion[regionID]; ok {
		waiters = p.Waiters()
		delete(s.byID, p.ID)
		delete(s.byRegion, regionID)
	}
	s.mu.Unlock()

	if ttlHours <= 0 {
		ttlHours = s.cfg.DefaultTTLHours
	}
	st, err := s.apply(ctx, regionID, sessionID, npcs, ttlHours, dmUserID, domain.SourcePreStaged, gameTime)
	if err != nil {
		return domain.Staging{}, nil, err
	}
	return st, waiters, nil
}

// Regenerate rebuilds the generative candidate list of a pending
// proposal with fresh DM guidance. Rule-based candidates are untouched.
func (s *Service) Regenerate(ctx context.Context, proposalID, guidance string) (*Proposal, error) {
	s.mu.Lock()
	p, ok := s.byID[proposalID]
	if !ok {
		s.mu.Unlock()
		return nil, errors.New(errors.CodeNotFound, "no pending staging proposal "+proposalID)
	}
	regionID := p.RegionID
	s.mu.Unlock()

	_, llmBased, _, err := s.buildCandidates(ctx, regionID, guidance)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok = s.byID[proposalID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "staging proposal "+proposalID+" resolved during regeneration")
	}
	p.LLMBased = llmBased
	p.Guidance = guidance
	snapshot := *p
	return &snapshot, nil
}

// Invalidate drops the region's current staging so the next entry
// produces a fresh proposal.
func (s *Service) Invalidate(ctx context.Context, regionID string) error {
	if err := s.store.ClearCurrentStaging(ctx, regionID); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		return errors.Wrap(errors.CodeStorageError, "invalidate staging", err)
	}
	return nil
}

// History lists past stagings for a region, newest first.
func (s *Service) History(ctx context.Context, regionID string, limit int) ([]domain.Staging, error) {
	list, err := s.store.StagingHistory(ctx, regionID, limit)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageError, "staging history", err)
	}
	return list, nil
}

func (s *Service) apply(ctx context.Context, regionID, sessionID string, npcs []domain.StagedNPC, ttlHours int, approvedBy string, source domain.Source, gameTime time.Time) (domain.Staging, error) {
	if err := s.store.ClearCurrentStaging(ctx, regionID); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		return domain.Staging{}, errors.Wrap(errors.CodeStorageError, "clear current staging", err)
	}
	st := domain.Staging{
		ID:         s.idGenerate(),
		RegionID:   regionID,
		SessionID:  sessionID,
		NPCs:       npcs,
		Source:     source,
		GameTime:   gameTime,
		TTL:        time.Duration(ttlHours) * time.Hour,
		ApprovedBy: approvedBy,
		CreatedAt:  s.clock(),
		Current:    true,
	}
	if err := s.store.SaveStaging(ctx, st); err != nil {
		return domain.Staging{}, errors.Wrap(errors.CodeStorageError, "save staging", err)
	}
	return st, nil
}

// buildCandidates derives the rule-based list from NPC schedules and,
// when enabled, asks the generative client to refine it. A generative
// failure falls back to the rule-based list.
func (s *Service) buildCandidates(ctx context.Context, regionID, guidance string) (ruleBased, llmBased []domain.StagedNPC, regionName string, err error) {
	region, err := s.locations.GetRegion(ctx, regionID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, nil, "", errors.New(errors.CodeNotFound, "region "+regionID+" not found")
		}
		return nil, nil, "", errors.Wrap(errors.CodeStorageError, "load region", err)
	}

	roster, err := s.locations.RegionNPCs(ctx, regionID)
	if err != nil {
		return nil, nil, "", errors.Wrap(errors.CodeStorageError, "load region NPCs", err)
	}
	for _, npc := range roster {
		ruleBased = append(ruleBased, domain.StagedNPC{
			CharacterID: npc.CharacterID,
			Name:        npc.Name,
			Present:     npc.Present,
			Hidden:      npc.Hidden,
			Mood:        npc.Mood,
			Reasoning:   "scheduled: " + npc.Schedule,
		})
	}

	llmBased = ruleBased
	if s.cfg.UseLLM && s.gen != nil && len(ruleBased) > 0 {
		refined, llmErr := s.generateLLMCandidates(ctx, region, ruleBased, guidance)
		if llmErr != nil {
			log.Printf("generative staging for region %s failed, using rule-based list: %v", regionID, llmErr)
		} else {
			llmBased = refined
		}
	}
	return ruleBased, llmBased, region.Name, nil
}

func (s *Service) generateLLMCandidates(ctx context.Context, region storage.Region, ruleBased []domain.StagedNPC, guidance string) ([]domain.StagedNPC, error) {
	resp, err := s.gen.Generate(ctx, generative.Request{
		SystemPrompt: stagingSystemPrompt,
		Prompt:       buildStagingPrompt(region, ruleBased, guidance),
		Temperature:  s.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return parseStagedNPCs(resp.Dialogue, ruleBased)
}

const stagingSystemPrompt = "You decide which NPCs are present when players " +
	"enter a location. Respond with a JSON array only; one object per NPC " +
	"with fields name, is_present, is_hidden_from_players, and reasoning."

func buildStagingPrompt(region storage.Region, ruleBased []domain.StagedNPC, guidance string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: %s\n", region.Name)
	if region.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", region.Description)
	}
	b.WriteString("NPCs scheduled here:\n")
	for _, npc := range ruleBased {
		fmt.Fprintf(&b, "- %s (%s)\n", npc.Name, npc.Reasoning)
	}
	if guidance != "" {
		fmt.Fprintf(&b, "DM guidance: %s\n", guidance)
	}
	b.WriteString("Decide presence, visibility, and mood for each NPC.")
	return b.String()
}

type llmStagedNPC struct {
	Name      string `json:"name"`
	IsPresent bool   `json:"is_present"`
	IsHidden  bool   `json:"is_hidden_from_players"`
	Mood      string `json:"mood"`
	Reasoning string `json:"reasoning"`
}

// parseStagedNPCs maps the model's list back onto the rule-based roster
// by name. NPCs the model skipped keep their rule-based entry; names the
// model invented are ignored.
func parseStagedNPCs(content string, ruleBased []domain.StagedNPC) ([]domain.StagedNPC, error) {
	raw, ok := extractJSONArray(content)
	if !ok {
		return nil, fmt.Errorf("no JSON array in staging response")
	}
	var results []llmStagedNPC
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, fmt.Errorf("decode staging response: %w", err)
	}

	out := make([]domain.StagedNPC, 0, len(ruleBased))
	for _, base := range ruleBased {
		npc := base
		for _, r := range results {
			if strings.EqualFold(r.Name, base.Name) {
				npc.Present = r.IsPresent
				npc.Hidden = r.IsHidden
				if r.Mood != "" {
					npc.Mood = r.Mood
				}
				npc.Reasoning = r.Reasoning
				break
			}
		}
		out = append(out, npc)
	}
	return out, nil
}

func extractJSONArray(text string) (string, bool) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
