// Package generative defines the port to the narrative-content backend and
// its breaker-guarded OpenAI implementation.
package generative

import (
	"context"
	"encoding/json"
)

// ToolProposal is one tool invocation proposed by the backend. It is held for
// DM review; nothing executes until the moderation queue approves it.
type ToolProposal struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Request carries the structured context for one generation call.
type Request struct {
	SystemPrompt string
	Prompt       string
	Temperature  float64
}

// Response is the proposed content awaiting moderation.
type Response struct {
	Dialogue  string
	Reasoning string
	Tools     []ToolProposal
}

// Client produces proposed narrative content. Implementations must be safe
// for concurrent use; callers reach them only through the circuit breaker.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
