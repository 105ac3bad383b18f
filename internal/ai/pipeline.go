// Package ai wraps the speech-to-text and text-generation providers behind
// small interfaces and composes them into the transcribe-then-analyze
// pipeline used for call recordings.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/callsheet/internal/failure"
)

const (
	// Sentinel is returned when a recording yields no recognizable speech.
	Sentinel = "Could not recognize speech in the audio recording"
	// TranscriptLabel prefixes the raw transcript when analysis produced
	// nothing usable.
	TranscriptLabel = "Transcribed text: "
	// AnalyzePrefix introduces the transcript in the user message.
	AnalyzePrefix = "Analyze this call with the driver:\n\n"

	// DefaultTimeout bounds each transcription or generation call.
	DefaultTimeout = 120 * time.Second
)

// Transcriber converts a local audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Generator produces text from a system prompt and a user message.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GenerateRequest is a single generation call. Empty Model or zero
// MaxTokens mean the provider default.
type GenerateRequest struct {
	System    string
	User      string
	Model     string
	MaxTokens int
}

// Pipeline composes a Transcriber and a Generator with per-call timeouts.
type Pipeline struct {
	transcriber Transcriber
	generator   Generator
	timeout     time.Duration
	model       string
	maxTokens   int
	log         zerolog.Logger
}

// PipelineOpts holds parameters for creating a Pipeline.
type PipelineOpts struct {
	Transcriber Transcriber
	Generator   Generator
	Timeout     time.Duration // defaults to DefaultTimeout
	Model       string        // default analysis model
	MaxTokens   int           // default analysis token limit
	Logger      *zerolog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts PipelineOpts) (*Pipeline, error) {
	if opts.Transcriber == nil {
		return nil, fmt.Errorf("ai: pipeline: transcriber is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("ai: pipeline: generator is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "ai").Logger()
	}
	return &Pipeline{
		transcriber: opts.Transcriber,
		generator:   opts.Generator,
		timeout:     timeout,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		log:         log,
	}, nil
}

// CallOption adjusts a single Analyze call.
type CallOption func(*GenerateRequest)

// WithModel overrides the model and token limit for one call.
func WithModel(model string, maxTokens int) CallOption {
	return func(r *GenerateRequest) {
		if model != "" {
			r.Model = model
		}
		if maxTokens > 0 {
			r.MaxTokens = maxTokens
		}
	}
}

// WithUserPrefix replaces AnalyzePrefix for one call.
func WithUserPrefix(prefix string) CallOption {
	return func(r *GenerateRequest) {
		r.User = prefix + strings.TrimPrefix(r.User, AnalyzePrefix)
	}
}

// Transcribe runs speech-to-text on a local file. Failures, including the
// timeout, are returned as a TranscriptionError.
func (p *Pipeline) Transcribe(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	text, err := p.transcriber.Transcribe(ctx, path)
	if err != nil {
		return "", failure.New(failure.TranscriptionError, "transcribe", err)
	}
	p.log.Debug().Dur("took", time.Since(start)).Int("chars", len(text)).Msg("transcribed")
	return text, nil
}

// Analyze sends text to the generator with instruction as the system
// prompt. Blank text short-circuits to Sentinel without a remote call.
// Failures are returned as a GenerationError.
func (p *Pipeline) Analyze(ctx context.Context, text, instruction string, opts ...CallOption) (string, error) {
	if strings.TrimSpace(text) == "" {
		return Sentinel, nil
	}

	req := GenerateRequest{
		System:    instruction,
		User:      AnalyzePrefix + text,
		Model:     p.model,
		MaxTokens: p.maxTokens,
	}
	for _, o := range opts {
		o(&req)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	out, err := p.generator.Generate(ctx, req)
	if err != nil {
		return "", failure.New(failure.GenerationError, "analyze", err)
	}
	p.log.Debug().Dur("took", time.Since(start)).Str("model", req.Model).Int("chars", len(out)).Msg("analyzed")
	return out, nil
}

// TranscribeThenAnalyze transcribes the file and analyzes the transcript.
// An empty transcript yields Sentinel and skips analysis. If analysis
// fails or comes back blank, the labeled transcript is returned instead.
// Only a transcription failure is returned as an error. The result is
// never truncated.
func (p *Pipeline) TranscribeThenAnalyze(ctx context.Context, path, instruction string, opts ...CallOption) (string, error) {
	transcript, err := p.Transcribe(ctx, path)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(transcript) == "" {
		p.log.Warn().Str("path", path).Msg("empty transcript")
		return Sentinel, nil
	}

	analysis, err := p.Analyze(ctx, transcript, instruction, opts...)
	if err != nil {
		p.log.Warn().Err(err).Msg("analysis failed, returning transcript")
		return TranscriptLabel + transcript, nil
	}
	if strings.TrimSpace(analysis) == "" {
		p.log.Warn().Msg("empty analysis, returning transcript")
		return TranscriptLabel + transcript, nil
	}
	return analysis, nil
}
