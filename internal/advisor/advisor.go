// Package advisor asks an LLM about panes the rule table does not match.
//
// Advice is informational: it is printed for the operator and recorded in
// traces, but nothing in this package sends keys to a pane.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/timvw/pane-pilot/internal/logging"
	ppotel "github.com/timvw/pane-pilot/internal/otel"
	"github.com/timvw/pane-pilot/internal/prompt"
)

var (
	tracer = otel.Tracer(ppotel.ServiceName + "/advisor")
	log    = logging.ForComponent(logging.CompAdvisor)
)

// TokenUsage holds LLM token counts for one call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Advice is the LLM's reading of a pane.
type Advice struct {
	Assistant string `json:"assistant"`
	Waiting   bool   `json:"waiting"`
	// Kind is empty when the question fits none of the known prompt kinds.
	Kind              prompt.Kind `json:"-"`
	KindName          string      `json:"kind"`
	Question          string      `json:"question"`
	SuggestedResponse string      `json:"suggested_response"`
	Confidence        string      `json:"confidence"`
	Reason            string      `json:"reason"`

	Usage TokenUsage `json:"-"`
}

// Advisor sends pane content to an LLM and returns its advice.
type Advisor interface {
	Advise(ctx context.Context, content string) (*Advice, error)
	// Provider returns the provider name (e.g., "anthropic", "openai").
	Provider() string
	Model() string
}

// Config selects and configures a provider.
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int64
	// ExtraHeaders are additional HTTP headers (e.g., "api-key" for Azure).
	ExtraHeaders map[string]string
	Metrics      *ppotel.Metrics
}

// New returns the advisor for cfg.Provider.
func New(cfg Config) (Advisor, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicAdvisor(cfg), nil
	case "openai":
		return NewOpenAIAdvisor(cfg), nil
	}
	return nil, fmt.Errorf("unknown advisor provider %q (supported: anthropic, openai)", cfg.Provider)
}

// parseAdvice decodes the model's JSON answer.
func parseAdvice(raw string) (*Advice, error) {
	text := stripMarkdownFences(raw)
	var a Advice
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if k, err := prompt.ParseKind(strings.TrimSpace(a.KindName)); err == nil {
		a.Kind = k
	}
	if !a.Waiting {
		a.SuggestedResponse = ""
	}
	return &a, nil
}

func maxTokensOrDefault(n int64) int64 {
	if n <= 0 {
		return 1024
	}
	return n
}
