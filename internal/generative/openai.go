package generative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/louisbranch/tessera/internal/platform/id"
)

// OpenAIConfig configures the OpenAI chat-completions adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIClient implements Client against the OpenAI chat completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds an OpenAI-backed generative client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// modelOutput is the JSON document the model is instructed to return.
type modelOutput struct {
	Dialogue  string `json:"dialogue"`
	Reasoning string `json:"reasoning"`
	Tools     []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"tools"`
}

// Generate performs one chat completion and parses the structured result.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.Prompt),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, fmt.Errorf("chat completion returned no choices")
	}
	return parseModelContent(completion.Choices[0].Message.Content)
}

// parseModelContent extracts the structured document from the model output.
// Content that is not valid JSON is treated as plain dialogue.
func parseModelContent(content string) (Response, error) {
	doc := extractJSONObject(content)
	if doc == "" {
		return Response{Dialogue: strings.TrimSpace(content)}, nil
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return Response{Dialogue: strings.TrimSpace(content)}, nil
	}

	resp := Response{Dialogue: out.Dialogue, Reasoning: out.Reasoning}
	for _, tool := range out.Tools {
		if strings.TrimSpace(tool.Name) == "" {
			continue
		}
		toolID, err := id.NewID()
		if err != nil {
			return Response{}, fmt.Errorf("generate tool id: %w", err)
		}
		args := tool.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		resp.Tools = append(resp.Tools, ToolProposal{ID: toolID, Name: tool.Name, Arguments: args})
	}
	return resp, nil
}

// extractJSONObject returns the first top-level JSON object in s, tolerating
// surrounding prose and markdown fences.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
