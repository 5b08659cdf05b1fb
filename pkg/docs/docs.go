// Package docs runs the one-shot document tasks that surround a live voice
// session: extracting business context from uploaded material before a
// session, and summarizing the transcript after it.
package docs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/calliope-voice/calliope/pkg/voice"
)

// DefaultModel is the text model used for extraction and summaries. These
// are plain request/response calls, separate from the live session model.
const DefaultModel = "gemini-2.5-flash"

// emptySummary is returned without a remote call when the transcript holds
// nothing to summarize.
const emptySummary = "No conversation took place in this session."

// ContentGenerator is the slice of the genai client the document tasks need.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client runs document tasks against a content generator.
type Client struct {
	gen   ContentGenerator
	model string
	log   *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithModel overrides the text model.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a client backed by the Gemini API.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewWithGenerator(gc.Models, opts...), nil
}

// NewWithGenerator creates a client over an existing generator. Tests use
// this to avoid the network.
func NewWithGenerator(gen ContentGenerator, opts ...Option) *Client {
	c := &Client{gen: gen, model: DefaultModel, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExtractBusinessContext distills an uploaded document into the free-text
// business context a session agent is primed with.
func (c *Client) ExtractBusinessContext(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty document")
	}
	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(extractionPrompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := c.gen.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("extract business context: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("extraction produced no text")
	}
	c.log.Debug("business context extracted", "bytes", len(data), "chars", len(text))
	return text, nil
}

const extractionPrompt = `Extract the business-relevant facts from this document as plain text:
services offered, opening hours, location, pricing, policies, and anything a
phone receptionist would need. Keep it under 400 words. Output only the facts.`

// Summarize produces a short prose summary of a finished session's
// transcript. An empty transcript short-circuits locally.
func (c *Client) Summarize(ctx context.Context, segments []voice.TranscriptSegment) (string, error) {
	prompt := transcriptPrompt(segments)
	if prompt == "" {
		return emptySummary, nil
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}
	resp, err := c.gen.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("summarize transcript: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("summary produced no text")
	}
	return text, nil
}

// transcriptPrompt renders the transcript for the summary request. Returns
// "" when there is nothing worth sending.
func transcriptPrompt(segments []voice.TranscriptSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		switch seg.Speaker {
		case voice.SpeakerUser:
			b.WriteString("User: ")
		case voice.SpeakerAgent:
			b.WriteString("Agent: ")
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return ""
	}
	return "Summarize this phone conversation in 2-4 sentences, noting any " +
		"appointments made or follow-ups promised:\n\n" + b.String()
}
