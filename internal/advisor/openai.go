package advisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ppotel "github.com/timvw/pane-pilot/internal/otel"
)

// OpenAIAdvisor uses an OpenAI-compatible Chat Completions API. Works with
// OpenAI, Azure OpenAI, and any compatible endpoint.
type OpenAIAdvisor struct {
	client    openai.Client
	model     string
	maxTokens int64
	metrics   *ppotel.Metrics
}

// NewOpenAIAdvisor creates an OpenAI-compatible advisor.
func NewOpenAIAdvisor(cfg Config) *OpenAIAdvisor {
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

	return &OpenAIAdvisor{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokensOrDefault(cfg.MaxTokens),
		metrics:   cfg.Metrics,
	}
}

func (a *OpenAIAdvisor) Provider() string { return "openai" }

func (a *OpenAIAdvisor) Model() string { return a.model }

// Advise sends pane content to an OpenAI-compatible API.
func (a *OpenAIAdvisor) Advise(ctx context.Context, content string) (*Advice, error) {
	userMessage := UserPromptTemplate + content

	ctx, span := tracer.Start(ctx, "chat "+a.model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", "openai"),
			attribute.String("gen_ai.request.model", a.model),
			attribute.Int64("gen_ai.request.max_tokens", a.maxTokens),
		),
	)
	defer span.End()

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(userMessage),
		},
		MaxCompletionTokens: openai.Int(a.maxTokens),
	})
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, fmt.Errorf("openai API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("openai API returned empty response")
	}

	rawText := resp.Choices[0].Message.Content
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.String("gen_ai.response.id", resp.ID),
		attribute.Int64("gen_ai.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int64("gen_ai.usage.output_tokens", resp.Usage.CompletionTokens),
	)
	if resp.Choices[0].FinishReason != "" {
		span.SetAttributes(attribute.StringSlice("gen_ai.response.finish_reasons", []string{string(resp.Choices[0].FinishReason)}))
	}
	if out, err := json.Marshal([]map[string]string{{"role": "assistant", "content": rawText}}); err == nil {
		span.SetAttributes(attribute.String("gen_ai.output.messages", string(out)))
	}
	a.metrics.RecordTokens(ctx, "openai", a.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	advice, err := parseAdvice(rawText)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "parse_error"))
		return nil, err
	}
	advice.Usage = TokenUsage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	log.Debug("advice", "provider", "openai", "model", a.model, "waiting", advice.Waiting, "kind", advice.KindName)
	return advice, nil
}
