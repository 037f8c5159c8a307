package generative

import (
	"context"
	"fmt"

	"github.com/louisbranch/tessera/internal/breaker"
	"github.com/louisbranch/tessera/internal/errors"
)

// Guarded wraps a Client with a circuit breaker. Every generative call in the
// engine goes through this wrapper; the inner client is never invoked while
// the circuit is open.
type Guarded struct {
	inner Client
	br    *breaker.Breaker
}

// NewGuarded wraps client with br.
func NewGuarded(client Client, br *breaker.Breaker) *Guarded {
	return &Guarded{inner: client, br: br}
}

// Breaker exposes the underlying breaker for metrics and operational reset.
func (g *Guarded) Breaker() *breaker.Breaker {
	return g.br
}

// Generate asks the breaker for admission, performs the call, and records the
// outcome. Context cancellation counts as a failure: the dependency did not
// deliver in time.
func (g *Guarded) Generate(ctx context.Context, req Request) (Response, error) {
	if err := g.br.Allow(); err != nil {
		return Response{}, errors.Wrap(errors.CodeCircuitOpen, "generative backend is cooling down", err)
	}

	resp, err := g.inner.Generate(ctx, req)
	if err != nil {
		g.br.RecordFailure()
		return Response{}, fmt.Errorf("generate: %w", err)
	}
	g.br.RecordSuccess()
	return resp, nil
}
