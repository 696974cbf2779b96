package advisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ppotel "github.com/timvw/pane-pilot/internal/otel"
)

// AnthropicAdvisor uses the Anthropic Messages API. Works with both the
// direct Anthropic API and Azure AI Foundry.
type AnthropicAdvisor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	metrics   *ppotel.Metrics
}

// NewAnthropicAdvisor creates an Anthropic advisor.
func NewAnthropicAdvisor(cfg Config) *AnthropicAdvisor {
	var opts []option.RequestOption
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	for k, v := range cfg.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}

	return &AnthropicAdvisor{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokensOrDefault(cfg.MaxTokens),
		metrics:   cfg.Metrics,
	}
}

func (a *AnthropicAdvisor) Provider() string { return "anthropic" }

func (a *AnthropicAdvisor) Model() string { return a.model }

// Advise sends pane content to the Anthropic API.
func (a *AnthropicAdvisor) Advise(ctx context.Context, content string) (*Advice, error) {
	userMessage := UserPromptTemplate + content

	// GenAI semantic conventions: span name is "{operation} {model}".
	ctx, span := tracer.Start(ctx, "chat "+a.model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", "anthropic"),
			attribute.String("gen_ai.request.model", a.model),
			attribute.Int64("gen_ai.request.max_tokens", a.maxTokens),
		),
	)
	defer span.End()

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	})
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}
	if len(resp.Content) == 0 {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("anthropic API returned empty response")
	}

	rawText := resp.Content[0].Text
	span.SetAttributes(
		attribute.String("gen_ai.response.model", string(resp.Model)),
		attribute.Int64("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	if string(resp.StopReason) != "" {
		span.SetAttributes(attribute.StringSlice("gen_ai.response.finish_reasons", []string{string(resp.StopReason)}))
	}
	if out, err := json.Marshal([]map[string]string{{"role": "assistant", "content": rawText}}); err == nil {
		span.SetAttributes(attribute.String("gen_ai.output.messages", string(out)))
	}
	a.metrics.RecordTokens(ctx, "anthropic", a.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	advice, err := parseAdvice(rawText)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "parse_error"))
		return nil, err
	}
	advice.Usage = TokenUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	log.Debug("advice", "provider", "anthropic", "model", a.model, "waiting", advice.Waiting, "kind", advice.KindName)
	return advice, nil
}
