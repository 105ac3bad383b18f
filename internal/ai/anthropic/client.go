// Package anthropic implements ai.Generator on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/zulandar/callsheet/internal/ai"
)

const defaultMaxTokens = 2000

// Client is an Anthropic-backed ai.Generator.
type Client struct {
	api       sdk.Client
	model     string
	maxTokens int
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	APIKey     string
	Model      string
	MaxTokens  int    // defaults to 2000
	BaseURL    string // defaults to the SDK's production endpoint
	HTTPClient *http.Client
}

// New creates a Client. Timeouts come from the caller's context and the
// SDK's own retries are disabled: each Generate is a single attempt.
func New(opts ClientOpts) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	c := &Client{
		api:       sdk.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	return c, nil
}

var _ ai.Generator = (*Client)(nil)

// Generate sends one user message with an optional system prompt and
// returns the concatenated text blocks of the reply. A model name starting
// with "gpt-" or "whisper" belongs to another provider and is replaced by
// the client's own model.
func (c *Client) Generate(ctx context.Context, req ai.GenerateRequest) (string, error) {
	model := req.Model
	if model == "" || strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "whisper") {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.User))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("anthropic: api error %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("anthropic: api call: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
