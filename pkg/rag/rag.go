// Package rag answers questions over the vector store. Each request runs
// the same sequence: embed the query, retrieve context, build the
// prompt, call the model once. There is no retry loop; failures come
// back to the caller as typed errors.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"go.uber.org/zap"

	"github.com/xhad/lore/pkg/llm"
	"github.com/xhad/lore/pkg/store"
)

const defaultSystemPrompt = "You are a helpful assistant. Answer the question using the provided context. " +
	"If the context does not contain the answer, say so instead of guessing."

const defaultRefusal = "I'm sorry, I can't help with that request."

type Config struct {
	SystemPrompt string
	TopK         int
	Threshold    float64
	// Filter restricts retrieval with a metadata predicate expression;
	// a per-request filter overrides it.
	Filter string
	// MemoryWindow caps how many recent turns of a conversation are
	// included in the prompt. The full history stays recorded.
	MemoryWindow int
	// BannedPhrases short-circuit the request with RefusalMessage before
	// any model call.
	BannedPhrases  []string
	RefusalMessage string
}

// Embedder embeds the query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator produces the answer from the assembled prompt.
type Generator interface {
	Chat(ctx context.Context, messages []llms.MessageContent) (string, error)
	ChatStream(ctx context.Context, messages []llms.MessageContent) <-chan llm.Fragment
}

// Service wires embedder, vector store and chat model into the
// answer path.
type Service struct {
	config   Config
	embedder Embedder
	chat     Generator
	docs     store.VectorStore
	logger   *zap.Logger

	mu        sync.Mutex
	histories map[string]*conversation
}

// conversation pairs a history with its own lock. ChatMessageHistory is
// not safe for concurrent use, and nothing stops two requests from
// carrying the same conversation id at once.
type conversation struct {
	mu      sync.Mutex
	history *memory.ChatMessageHistory
}

func New(embedder Embedder, chat Generator, docs store.VectorStore, config Config, logger *zap.Logger) (*Service, error) {
	if embedder == nil || chat == nil || docs == nil {
		return nil, errors.New("rag service requires an embedder, a chat model and a vector store")
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
	}
	if config.TopK <= 0 {
		config.TopK = store.DefaultTopK
	}
	if config.MemoryWindow <= 0 {
		config.MemoryWindow = 10
	}
	if config.RefusalMessage == "" {
		config.RefusalMessage = defaultRefusal
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:    config,
		embedder:  embedder,
		chat:      chat,
		docs:      docs,
		logger:    logger,
		histories: make(map[string]*conversation),
	}, nil
}

type Request struct {
	Query string
	// ConversationID attaches the request to a conversation memory.
	// Empty means a one-off exchange with no history.
	ConversationID string
	// TopK, Threshold and Filter override the service defaults when set.
	TopK      int
	Threshold float64
	Filter    string
}

type Answer struct {
	Text    string
	Sources []store.SearchResult
}

// Answer runs the full retrieval-augmented exchange and returns the
// model's reply with the segments it saw.
func (s *Service) Answer(ctx context.Context, req Request) (*Answer, error) {
	if refused, msg := s.refuse(req.Query); refused {
		return &Answer{Text: msg}, nil
	}

	messages, sources, err := s.buildPrompt(ctx, req)
	if err != nil {
		return nil, err
	}

	text, err := s.chat.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}

	if err := s.record(ctx, req.ConversationID, req.Query, text); err != nil {
		return nil, err
	}

	s.logger.Debug("answered query",
		zap.String("conversation", req.ConversationID),
		zap.Int("sources", len(sources)))
	return &Answer{Text: text, Sources: sources}, nil
}

// AnswerStream is Answer with the reply delivered incrementally. The
// retrieved sources are returned up front; the conversation memory is
// updated once the stream completes.
func (s *Service) AnswerStream(ctx context.Context, req Request) (<-chan llm.Fragment, []store.SearchResult, error) {
	if refused, msg := s.refuse(req.Query); refused {
		out := make(chan llm.Fragment, 1)
		out <- llm.Fragment{Content: msg}
		close(out)
		return out, nil, nil
	}

	messages, sources, err := s.buildPrompt(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	fragments := s.chat.ChatStream(ctx, messages)

	out := make(chan llm.Fragment)
	go func() {
		defer close(out)
		var full strings.Builder
		failed := false
		for f := range fragments {
			if f.Err != nil {
				failed = true
			} else {
				full.WriteString(f.Content)
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
		if !failed {
			if err := s.record(ctx, req.ConversationID, req.Query, full.String()); err != nil {
				s.logger.Warn("failed to record conversation turn", zap.Error(err))
			}
		}
	}()

	return out, sources, nil
}

func (s *Service) refuse(query string) (bool, string) {
	lowered := strings.ToLower(query)
	for _, phrase := range s.config.BannedPhrases {
		if phrase != "" && strings.Contains(lowered, strings.ToLower(phrase)) {
			return true, s.config.RefusalMessage
		}
	}
	return false, ""
}

func (s *Service) buildPrompt(ctx context.Context, req Request) ([]llms.MessageContent, []store.SearchResult, error) {
	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding query: %w", err)
	}

	search := store.SearchRequest{
		Embedding: vector,
		TopK:      s.config.TopK,
		Threshold: s.config.Threshold,
		Filter:    s.config.Filter,
	}
	if req.TopK > 0 {
		search.TopK = req.TopK
	}
	if req.Threshold != 0 {
		search.Threshold = req.Threshold
	}
	if req.Filter != "" {
		search.Filter = req.Filter
	}

	sources, err := s.docs.Search(ctx, search)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieving context: %w", err)
	}

	messages := []llms.MessageContent{
		llm.SystemMessage(s.config.SystemPrompt + "\n\nContext:\n" + formatContext(sources)),
	}

	history, err := s.turns(ctx, req.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	messages = append(messages, history...)
	messages = append(messages, llm.UserMessage(req.Query))

	return messages, sources, nil
}

func formatContext(sources []store.SearchResult) string {
	if len(sources) == 0 {
		return "(no relevant documents found)"
	}
	var b strings.Builder
	for i, src := range sources {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(src.Content)
	}
	return b.String()
}

// turns returns the windowed prior turns for a conversation as prompt
// messages.
func (s *Service) turns(ctx context.Context, conversationID string) ([]llms.MessageContent, error) {
	if conversationID == "" {
		return nil, nil
	}

	s.mu.Lock()
	conv, ok := s.histories[conversationID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	conv.mu.Lock()
	recorded, err := conv.history.Messages(ctx)
	conv.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("reading conversation history: %w", err)
	}
	if len(recorded) > s.config.MemoryWindow {
		recorded = recorded[len(recorded)-s.config.MemoryWindow:]
	}

	messages := make([]llms.MessageContent, 0, len(recorded))
	for _, msg := range recorded {
		switch msg.GetType() {
		case llms.ChatMessageTypeAI:
			messages = append(messages, llm.AIMessage(msg.GetContent()))
		case llms.ChatMessageTypeHuman:
			messages = append(messages, llm.UserMessage(msg.GetContent()))
		}
	}
	return messages, nil
}

// record appends the exchange to the conversation history. Histories are
// keyed strictly by id so turns never cross conversations.
func (s *Service) record(ctx context.Context, conversationID, query, answer string) error {
	if conversationID == "" {
		return nil
	}

	s.mu.Lock()
	conv, ok := s.histories[conversationID]
	if !ok {
		conv = &conversation{history: memory.NewChatMessageHistory()}
		s.histories[conversationID] = conv
	}
	s.mu.Unlock()

	// Both halves of the exchange land under one hold so a concurrent
	// reader never sees a question without its answer.
	conv.mu.Lock()
	defer conv.mu.Unlock()
	if err := conv.history.AddUserMessage(ctx, query); err != nil {
		return fmt.Errorf("recording user turn: %w", err)
	}
	if err := conv.history.AddAIMessage(ctx, answer); err != nil {
		return fmt.Errorf("recording assistant turn: %w", err)
	}
	return nil
}
