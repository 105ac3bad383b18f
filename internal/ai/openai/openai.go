// Package openai implements the ai Transcriber and Generator on the OpenAI
// audio transcription and chat completions APIs.
package openai

import (
	"context"
	"fmt"
	"net/http"

	openaiapi "github.com/sashabaranov/go-openai"
	"github.com/zulandar/callsheet/internal/ai"
)

// chatClient abstracts the go-openai methods we use, enabling test doubles.
type chatClient interface {
	CreateTranscription(ctx context.Context, req openaiapi.AudioRequest) (openaiapi.AudioResponse, error)
	CreateChatCompletion(ctx context.Context, req openaiapi.ChatCompletionRequest) (openaiapi.ChatCompletionResponse, error)
}

// Client is an OpenAI-backed ai.Transcriber and ai.Generator.
type Client struct {
	api             chatClient
	transcribeModel string
	chatModel       string
	maxTokens       int
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	APIKey          string
	BaseURL         string // optional; for proxies and tests
	TranscribeModel string // defaults to whisper-1
	ChatModel       string // defaults to gpt-4o-mini
	MaxTokens       int    // defaults to 2000
	HTTPClient      *http.Client
}

// New creates a Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	cfg := openaiapi.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	c := &Client{
		api:             openaiapi.NewClientWithConfig(cfg),
		transcribeModel: opts.TranscribeModel,
		chatModel:       opts.ChatModel,
		maxTokens:       opts.MaxTokens,
	}
	if c.transcribeModel == "" {
		c.transcribeModel = openaiapi.Whisper1
	}
	if c.chatModel == "" {
		c.chatModel = openaiapi.GPT4oMini
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 2000
	}
	return c, nil
}

var (
	_ ai.Transcriber = (*Client)(nil)
	_ ai.Generator   = (*Client)(nil)
)

// Transcribe uploads the audio file at path and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openaiapi.AudioRequest{
		Model:    c.transcribeModel,
		FilePath: path,
	})
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return resp.Text, nil
}

// Generate runs a single chat completion with a system and a user message.
func (c *Client) Generate(ctx context.Context, req ai.GenerateRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.chatModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	var messages []openaiapi.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openaiapi.ChatCompletionMessage{
			Role:    openaiapi.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openaiapi.ChatCompletionMessage{
		Role:    openaiapi.ChatMessageRoleUser,
		Content: req.User,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openaiapi.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
