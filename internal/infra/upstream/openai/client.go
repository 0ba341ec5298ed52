// Package openai generates seed artists from a free-text prompt using any
// OpenAI-compatible chat completions endpoint.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/upstream/httpx"
)

const (
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"
	// DefaultMaxSeeds caps how many artists one prompt yields.
	DefaultMaxSeeds = 5

	// maxLibraryContext bounds how many library artists are sent as context.
	maxLibraryContext = 40
)

// ErrNoArtists is returned when the reply holds no parseable artist list.
var ErrNoArtists = errors.New("openai: reply contained no artist list")

// Config configures the seeder.
type Config struct {
	APIKey string
	Model  string
	// ExtraHeaders are sent on every request, e.g. for OpenRouter.
	ExtraHeaders map[string]string
	MaxSeeds     int
	Temperature  float64
}

// Client calls the chat completions endpoint.
type Client struct {
	http *httpx.Client
	cfg  Config
}

// New creates a client.
func New(http *httpx.Client, cfg Config) *Client {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxSeeds <= 0 {
		cfg.MaxSeeds = DefaultMaxSeeds
	}
	return &Client{http: http, cfg: cfg}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

// GenerateSeeds asks the model for up to MaxSeeds artists matching prompt.
// library is offered as taste context.
func (c *Client) GenerateSeeds(ctx context.Context, prompt string, library []string) ([]string, error) {
	const op = "openai.complete"

	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.ExtraHeaders {
		header.Set(k, v)
	}

	req := completionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages: []message{
			{Role: "system", Content: c.systemPrompt()},
			{Role: "user", Content: userPrompt(prompt, library)},
		},
	}
	resp, err := c.http.Do(ctx, "complete", httpx.Request{
		Method: http.MethodPost,
		Path:   "/chat/completions",
		Header: header,
		Body:   req,
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, discovery.NewTransientError(op, err)
	}
	if len(body.Choices) == 0 {
		return nil, discovery.NewTransientError(op, ErrNoArtists)
	}

	names, err := ParseArtists(body.Choices[0].Message.Content)
	if err != nil {
		return nil, discovery.NewTransientError(op, err)
	}
	names = discovery.DedupeNames(names)
	if len(names) > c.cfg.MaxSeeds {
		names = names[:c.cfg.MaxSeeds]
	}
	return names, nil
}

func (c *Client) systemPrompt() string {
	return fmt.Sprintf("You are a music discovery assistant. Reply with only a JSON array of at most %d "+
		"real artist names that best match the request, for example [\"Artist One\", \"Artist Two\"]. "+
		"Do not include any other text.", c.cfg.MaxSeeds)
}

func userPrompt(prompt string, library []string) string {
	if len(library) == 0 {
		return prompt
	}
	if len(library) > maxLibraryContext {
		library = library[:maxLibraryContext]
	}
	return prompt + "\n\nArtists I already own (suggest others): " + strings.Join(library, ", ")
}

// ParseArtists extracts artist names from a model reply. The reply may wrap
// the JSON array in a markdown code fence or surrounding prose, and entries
// may be strings or objects with a name field.
func ParseArtists(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	start, end := strings.Index(content, "["), strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, ErrNoArtists
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoArtists, err)
	}

	names := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if json.Unmarshal(r, &s) == nil {
			names = append(names, s)
			continue
		}
		var obj struct {
			Name   string `json:"name"`
			Artist string `json:"artist"`
		}
		if json.Unmarshal(r, &obj) == nil {
			names = append(names, obj.Name+obj.Artist)
		}
	}
	names = discovery.DedupeNames(names)
	if len(names) == 0 {
		return nil, ErrNoArtists
	}
	return names, nil
}
