// Package llm wraps the Ollama backend behind a chat engine and an
// embedder. All remote calls are bounded by the configured timeout and
// failures come back as typed errors rather than crashes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

type ChatConfig struct {
	BaseURL string
	Model   string
	// VisionModel answers image questions; empty disables ChatWithImage.
	VisionModel string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// ChatEngine generates chat responses through an Ollama model.
type ChatEngine struct {
	config ChatConfig
	model  llms.Model
	vision llms.Model
}

func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2, got %g", config.Temperature)
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative, got %d", config.MaxTokens)
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}

	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat model: %w", err)
	}

	engine := &ChatEngine{config: config, model: model}

	if config.VisionModel != "" {
		vision, err := ollama.New(
			ollama.WithModel(config.VisionModel),
			ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vision model: %w", err)
		}
		engine.vision = vision
	}

	return engine, nil
}

// NewWithModel builds an engine around an already-constructed model.
// Tests use it to substitute a deterministic fake.
func NewWithModel(model llms.Model, config ChatConfig) *ChatEngine {
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	return &ChatEngine{config: config, model: model, vision: model}
}

// Chat sends the messages and returns the model's text answer.
func (ce *ChatEngine) Chat(ctx context.Context, messages []llms.MessageContent) (string, error) {
	return ce.generate(ctx, ce.model, messages,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens))
}

// ChatJSON is Chat with the backend held to JSON output, for structured
// extraction.
func (ce *ChatEngine) ChatJSON(ctx context.Context, messages []llms.MessageContent) (string, error) {
	return ce.generate(ctx, ce.model, messages,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithJSONMode())
}

// ChatWithImage asks the vision model a question about the supplied
// image bytes.
func (ce *ChatEngine) ChatWithImage(ctx context.Context, question, mimeType string, image []byte) (string, error) {
	if ce.vision == nil {
		return "", errors.New("no vision model configured")
	}
	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, image),
				llms.TextPart(question),
			},
		},
	}
	return ce.generate(ctx, ce.vision, messages,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens))
}

func (ce *ChatEngine) generate(ctx context.Context, model llms.Model, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
	defer cancel()

	resp, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", wrapModelErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrModelUnavailable)
	}
	return resp.Choices[0].Content, nil
}

// Fragment is one piece of a streamed answer. A failed stream delivers
// Err in its last fragment; the channel closes when the stream ends
// either way.
type Fragment struct {
	Content string
	Err     error
}

// ChatStream sends the messages and delivers the answer incrementally.
// Cancelling ctx stops delivery and releases the underlying call.
func (ce *ChatEngine) ChatStream(ctx context.Context, messages []llms.MessageContent) <-chan Fragment {
	out := make(chan Fragment)

	go func() {
		defer close(out)

		// The error fragment below must only be suppressed by the caller
		// going away, never by the timeout ctx, which is already expired
		// when the error it caused is being reported.
		callerCtx := ctx
		ctx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
		defer cancel()

		_, err := ce.model.GenerateContent(ctx, messages,
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case out <- Fragment{Content: string(chunk)}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}))
		if err != nil && !errors.Is(err, context.Canceled) {
			select {
			case out <- Fragment{Err: wrapModelErr(err)}:
			case <-callerCtx.Done():
			}
		}
	}()

	return out
}

// SystemMessage, UserMessage and AIMessage build single-part messages
// in the shape GenerateContent expects.
func SystemMessage(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeSystem, text)
}

func UserMessage(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeHuman, text)
}

func AIMessage(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeAI, text)
}

// CollectStream drains a fragment channel into the full answer text,
// stopping at the first error.
func CollectStream(fragments <-chan Fragment) (string, error) {
	var b strings.Builder
	for f := range fragments {
		if f.Err != nil {
			return b.String(), f.Err
		}
		b.WriteString(f.Content)
	}
	return b.String(), nil
}
