package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all OTEL metric instruments for pane-pilot.
// All counters are cumulative and safe for concurrent use. Record methods
// are nil-safe so components can run without telemetry.
type Metrics struct {
	// Controller loop
	Polls       metric.Int64Counter
	Matches     metric.Int64Counter // by prompt kind
	Transitions metric.Int64Counter // by target state

	// Dispatcher
	Dispatches metric.Int64Counter // by outcome: ok, pane_not_found, send_failed, canceled

	// Session cache
	CacheHits          metric.Int64Counter
	CacheMisses        metric.Int64Counter
	CacheInvalidations metric.Int64Counter
	CacheRefreshErrors metric.Int64Counter

	// Advisor LLM token counters (by provider + model)
	InputTokens  metric.Int64Counter
	OutputTokens metric.Int64Counter
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(ServiceName)
	m := &Metrics{}

	counters := []struct {
		dst         *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&m.Polls, "controller.polls", "Pane polls performed by session controllers", ""},
		{&m.Matches, "controller.matches", "Prompts classified, partitioned by kind", ""},
		{&m.Transitions, "controller.transitions", "Controller state transitions, partitioned by target state", ""},
		{&m.Dispatches, "dispatch.total", "Keystroke dispatches, partitioned by outcome", ""},
		{&m.CacheHits, "session_cache.hits", "Topology reads served from the cache", ""},
		{&m.CacheMisses, "session_cache.misses", "Topology reads that required a fetch", ""},
		{&m.CacheInvalidations, "session_cache.invalidations", "Explicit topology cache invalidations", ""},
		{&m.CacheRefreshErrors, "session_cache.refresh_errors", "Failed topology fetches", ""},
		{&m.InputTokens, "llm.tokens.input", "Total advisor LLM input tokens consumed", "{token}"},
		{&m.OutputTokens, "llm.tokens.output", "Total advisor LLM output tokens consumed", "{token}"},
	}
	for _, c := range counters {
		opts := []metric.Int64CounterOption{metric.WithDescription(c.description)}
		if c.unit != "" {
			opts = append(opts, metric.WithUnit(c.unit))
		}
		counter, err := meter.Int64Counter(c.name, opts...)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

// RecordPoll records one controller poll for a session.
func (m *Metrics) RecordPoll(ctx context.Context, session string) {
	if m == nil {
		return
	}
	m.Polls.Add(ctx, 1, metric.WithAttributes(attribute.String("session", session)))
}

// RecordMatch records a classified prompt.
func (m *Metrics) RecordMatch(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Matches.Add(ctx, 1, metric.WithAttributes(attribute.String("prompt.kind", kind)))
}

// RecordTransition records a controller entering state.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.Transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("controller.state", state)))
}

// RecordDispatch records a dispatch with the given outcome.
func (m *Metrics) RecordDispatch(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("dispatch.outcome", outcome)))
}

// RecordCacheHit records a session cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a session cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

// RecordCacheInvalidation records an explicit cache invalidation.
func (m *Metrics) RecordCacheInvalidation(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheInvalidations.Add(ctx, 1)
}

// RecordCacheRefreshError records a failed topology fetch.
func (m *Metrics) RecordCacheRefreshError(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheRefreshErrors.Add(ctx, 1)
}

// RecordTokens records advisor LLM token usage.
func (m *Metrics) RecordTokens(ctx context.Context, provider, model string, input, output int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	m.InputTokens.Add(ctx, input, attrs)
	m.OutputTokens.Add(ctx, output, attrs)
}
