package app

import (
	"time"

	"github.com/louisbranch/tessera/internal/approval"
	"github.com/louisbranch/tessera/internal/breaker"
	"github.com/louisbranch/tessera/internal/generative"
	narrservice "github.com/louisbranch/tessera/internal/narrative/service"
	"github.com/louisbranch/tessera/internal/session"
	stagingservice "github.com/louisbranch/tessera/internal/staging/service"
	"github.com/louisbranch/tessera/internal/storage/sqlite"
)

// Options configures the engine server.
type Options struct {
	// HTTPAddr is the listen address for /ws and /up.
	HTTPAddr string
	// Store backs regions, stagings, narrative events, and player state.
	Store *sqlite.Store
	// Gen proposes NPC dialogue and staging lists. nil disables
	// generative proposals; rule-based staging still works.
	Gen generative.Client
	// JWTSecret signs connection tokens. Empty disables websocket auth.
	JWTSecret string

	MaxHistory         int
	StagingTTLHours    int
	StagingTemperature float64
	ApprovalMaxRetries int
	ApprovalRetryDelay time.Duration
	Breaker            breaker.Config
}

// New wires the full engine: session registry, staging workflow,
// moderation queue, narrative triggers, and the websocket server.
func New(opts Options) *Server {
	gen := opts.Gen
	if gen != nil {
		brCfg := opts.Breaker
		if brCfg.FailureThreshold == 0 {
			brCfg = breaker.DefaultConfig()
		}
		gen = generative.NewGuarded(gen, breaker.New(brCfg))
	}

	sessions := session.NewManager(opts.MaxHistory)
	store := opts.Store

	stagingSvc := stagingservice.New(store, store, gen, stagingservice.Config{
		DefaultTTLHours: opts.StagingTTLHours,
		UseLLM:          gen != nil,
		Temperature:     opts.StagingTemperature,
	})

	approvals := approval.New(
		approval.NewMemoryQueue(),
		sessions,
		newItemGranter(store),
		&infoRevealer{sessions: sessions},
		newRelationshipModifier(store),
		newEventTrigger(store, sessions),
		store,
		approval.Config{MaxRetries: opts.ApprovalMaxRetries, RetryDelay: opts.ApprovalRetryDelay},
	)

	executor := narrservice.NewExecutor(store, store, store, store, store, store, sessions)
	triggers := narrservice.NewTriggers(store, executor)

	eng := &engine{
		sessions:  sessions,
		staging:   stagingSvc,
		approvals: approvals,
		triggers:  triggers,
		gen:       gen,
		inventory: store,
		clock:     time.Now,
	}

	var authorizer wsAuthorizer
	if opts.JWTSecret != "" {
		authorizer = newJWTAuthorizer(opts.JWTSecret)
	}
	return NewServer(opts.HTTPAddr, eng, authorizer)
}
