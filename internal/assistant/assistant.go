// Package assistant provides best-effort owner-name cleanup and run summaries
// from a language model. Callers must fall back to deterministic values on
// any error or empty result.
package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/parcelpicker/pkg/anthropic"
)

// Assistant is the text assistant collaborator.
type Assistant interface {
	// Available reports whether calls can be made at all.
	Available() bool
	NormalizeOwnerName(ctx context.Context, raw string) (string, error)
	// Summarize returns "" when no summary could be produced.
	Summarize(ctx context.Context, in SummaryInput) (string, error)
}

// SummaryInput carries the counts a summary may mention.
type SummaryInput struct {
	InputAddress   string
	RingsRequested int
	ParcelCount    int
	OwnerCount     int
}

const systemPrompt = "You are a precise data-normalization assistant."

// Config configures the Anthropic-backed assistant.
type Config struct {
	Model     string
	MaxTokens int64
}

// Anthropic implements Assistant on the Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    Config
}

// NewAnthropic creates an Anthropic assistant.
func NewAnthropic(client anthropic.Client, cfg Config) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	return &Anthropic{client: client, cfg: cfg}
}

// Available reports true when a client is configured.
func (a *Anthropic) Available() bool { return a != nil && a.client != nil }

// NormalizeOwnerName asks for a grouping-friendly owner name. An empty
// answer returns the trimmed input.
func (a *Anthropic) NormalizeOwnerName(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !a.Available() {
		return raw, nil
	}

	prompt := "Normalize this parcel owner name for grouping without guessing new facts. " +
		"Keep legal identity intact (LLC, TRUST, INC), remove extra punctuation/spaces, " +
		"and return only the normalized owner name on one line. " +
		"Input: " + raw

	text, err := a.ask(ctx, prompt, "normalize_owner")
	if err != nil {
		return raw, err
	}
	if text = firstLine(text); text == "" {
		return raw, nil
	}
	return text, nil
}

// Summarize asks for a short run summary. It may rephrase but the counts
// come from the caller.
func (a *Anthropic) Summarize(ctx context.Context, in SummaryInput) (string, error) {
	if !a.Available() {
		return "", nil
	}

	prompt := fmt.Sprintf("Write a concise 1-2 sentence summary for a parcel lookup run. "+
		"Do not invent facts. Address: %s. Rings requested: %d. Parcels found: %d. Unique owners: %d.",
		in.InputAddress, in.RingsRequested, in.ParcelCount, in.OwnerCount)

	text, err := a.ask(ctx, prompt, "summarize")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (a *Anthropic) ask(ctx context.Context, prompt, purpose string) (string, error) {
	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrapf(err, "assistant: %s", purpose)
	}
	resp.Usage.LogCost(a.cfg.Model, purpose)
	return resp.Text(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
}

// Noop is the assistant used when augmentation is disabled.
type Noop struct{}

// Available always reports false.
func (Noop) Available() bool { return false }

// NormalizeOwnerName returns the trimmed input.
func (Noop) NormalizeOwnerName(_ context.Context, raw string) (string, error) {
	return strings.TrimSpace(raw), nil
}

// Summarize returns no summary.
func (Noop) Summarize(context.Context, SummaryInput) (string, error) {
	return "", nil
}
