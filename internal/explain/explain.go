package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"secuflow/config"
	"secuflow/pkg/models"
)

const promptPreamble = "You are a security analyst. You receive a summary of Windows event logs. " +
	"Explain in clear, concise language what is going on and whether anything " +
	"looks suspicious. Don't invent facts; base everything only on the summary."

// Explainer renders a summary as human-readable text. Implementations never fail;
// errors are folded into the returned text.
type Explainer interface {
	Explain(ctx context.Context, s models.Summary) string
	Name() string
}

// Observer is notified of every explanation attempt.
type Observer func(provider, status string)

// Option customizes an explainer.
type Option func(*options)

type options struct {
	observer Observer
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

// New returns the OpenAI explainer when an API key is configured and the fallback otherwise.
func New(cfg config.ExplainerConfig, opts ...Option) Explainer {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NewFallback(opts...)
	}
	o, err := NewOpenAI(OpenAIConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}, opts...)
	if err != nil {
		return NewFallback(opts...)
	}
	return o
}

// Fallback formats the summary deterministically without any external call.
type Fallback struct {
	observer Observer
}

// NewFallback creates the no-credential explainer.
func NewFallback(opts ...Option) *Fallback {
	o := collect(opts)
	return &Fallback{observer: o.observer}
}

// Explain returns the summary as plain text.
func (f *Fallback) Explain(_ context.Context, s models.Summary) string {
	if f.observer != nil {
		f.observer(f.Name(), "fallback")
	}
	return "AI explanation not available (no API key configured). Summary:\n" +
		fmt.Sprintf("- Total events analyzed: %d\n", s.TotalEventsAnalyzed) +
		fmt.Sprintf("- Top event IDs: %s\n", compactJSON(s.TopEventIDs)) +
		fmt.Sprintf("- Top sources: %s\n", compactJSON(s.TopSources)) +
		fmt.Sprintf("- Notes: %s", compactJSON(s.Notes))
}

// Name identifies the explainer.
func (f *Fallback) Name() string {
	return "fallback"
}

// BuildPrompt embeds the summary as indented JSON after the fixed instructions.
func BuildPrompt(s models.Summary) string {
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		body = []byte(compactJSON(s))
	}
	return promptPreamble + "\n\nSummary JSON:\n" + string(body)
}

func failureText(err error, s models.Summary) string {
	return fmt.Sprintf("Failed to generate AI explanation. Error: %v. Fallback summary: %s", err, compactJSON(s))
}

func compactJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
