// Package server exposes the ingestion and chat services over HTTP and
// a WebSocket streaming endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/xhad/lore/internal/models"
	"github.com/xhad/lore/pkg/extract"
	"github.com/xhad/lore/pkg/llm"
	"github.com/xhad/lore/pkg/loader"
	"github.com/xhad/lore/pkg/pipeline"
	"github.com/xhad/lore/pkg/rag"
	"github.com/xhad/lore/pkg/store"
	"github.com/xhad/lore/pkg/store/filter"
)

// maxBodyBytes bounds request bodies; image uploads are the largest
// expected payload.
const maxBodyBytes = 16 << 20

type Answerer interface {
	Answer(ctx context.Context, req rag.Request) (*rag.Answer, error)
	AnswerStream(ctx context.Context, req rag.Request) (<-chan llm.Fragment, []store.SearchResult, error)
}

type Ingestor interface {
	Ingest(ctx context.Context, source string, extra map[string]interface{}) (*pipeline.Result, error)
	IngestDocuments(ctx context.Context, docs []models.Document) (*pipeline.Result, error)
}

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Extractor interface {
	Extract(ctx context.Context, text string) (map[string]interface{}, error)
}

// ToolChatter is the slice of the chat engine the demo endpoints use.
type ToolChatter interface {
	ChatWithTools(ctx context.Context, messages []llms.MessageContent, belt *llm.ToolBelt) (string, error)
	ChatWithImage(ctx context.Context, question, mimeType string, image []byte) (string, error)
}

type Deps struct {
	RAG      Answerer
	Pipeline Ingestor
	Embedder Embedder
	Docs     store.VectorStore
	// Optional extras; their endpoints answer 501 when unset.
	Extractor Extractor
	Engine    ToolChatter
	Tools     *llm.ToolBelt
	Logger    *zap.Logger
}

type Server struct {
	deps   Deps
	logger *zap.Logger
}

func New(deps Deps) (*Server, error) {
	if deps.RAG == nil || deps.Pipeline == nil || deps.Embedder == nil || deps.Docs == nil {
		return nil, errors.New("server requires the rag service, pipeline, embedder and store")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{deps: deps, logger: deps.Logger}, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chatbot/{conversationID}", s.handleChatbot)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /extract", s.handleExtract)
	mux.HandleFunc("GET /embed", s.handleEmbed)
	mux.HandleFunc("GET /chat/books", s.handleChatBooks)
	mux.HandleFunc("POST /chat/image", s.handleChatImage)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /ingest/file", s.handleIngestFile)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	query, ok := s.readTextBody(w, r)
	if !ok {
		return
	}

	answer, err := s.deps.RAG.Answer(r.Context(), rag.Request{Query: query})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeText(w, answer.Text)
}

func (s *Server) handleChatbot(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	query, ok := s.readTextBody(w, r)
	if !ok {
		return
	}

	answer, err := s.deps.RAG.Answer(r.Context(), rag.Request{
		Query:          query,
		ConversationID: conversationID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeText(w, answer.Text)
}

type searchResult struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query, ok := s.readTextBody(w, r)
	if !ok {
		return
	}

	req := store.SearchRequest{Filter: r.URL.Query().Get("filter")}
	if v := r.URL.Query().Get("top_k"); v != "" {
		topK, err := strconv.Atoi(v)
		if err != nil || topK < 1 {
			writeErrorMessage(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		req.TopK = topK
	}
	if v := r.URL.Query().Get("threshold"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "threshold must be a number")
			return
		}
		req.Threshold = threshold
	}

	vector, err := s.deps.Embedder.EmbedQuery(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	req.Embedding = vector

	matches, err := s.deps.Docs.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	results := make([]searchResult, len(matches))
	for i, m := range matches {
		results[i] = searchResult{
			ID:       m.ID,
			Content:  m.Content,
			Score:    m.Score,
			Metadata: m.Metadata,
		}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.deps.Extractor == nil {
		writeErrorMessage(w, http.StatusNotImplemented, "extraction is not configured")
		return
	}
	text, ok := s.readTextBody(w, r)
	if !ok {
		return
	}

	record, err := s.deps.Extractor.Extract(r.Context(), text)
	if err != nil {
		// Best-effort policy: a partial record still goes out, with the
		// decode problem alongside it.
		if errors.Is(err, extract.ErrParseFailure) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"record":  record,
				"warning": err.Error(),
			})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"record": record})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeErrorMessage(w, http.StatusBadRequest, "text query parameter is required")
		return
	}

	vector, err := s.deps.Embedder.EmbedQuery(r.Context(), text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"dimension": len(vector)})
}

func (s *Server) handleChatBooks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil || s.deps.Tools == nil {
		writeErrorMessage(w, http.StatusNotImplemented, "tool calling is not configured")
		return
	}

	author := r.URL.Query().Get("author")
	if author == "" {
		author = "J.R.R. Tolkien"
	}

	prompt, err := llm.RenderTemplate(
		"What books written by {author} are available in the library?",
		map[string]string{"author": author})
	if err != nil {
		s.writeError(w, err)
		return
	}

	answer, err := s.deps.Engine.ChatWithTools(r.Context(),
		[]llms.MessageContent{llm.UserMessage(prompt)}, s.deps.Tools)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeText(w, answer)
}

func (s *Server) handleChatImage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeErrorMessage(w, http.StatusNotImplemented, "vision chat is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "expected multipart form with question and image")
		return
	}

	question := r.FormValue("question")
	if question == "" {
		question = "What do you see in this picture? Give a short answer"
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxBodyBytes))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "failed to read image")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/png"
	}

	answer, err := s.deps.Engine.ChatWithImage(r.Context(), question, mimeType, image)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeText(w, answer)
}

type ingestRequest struct {
	Source   string                 `json:"source"`
	Metadata map[string]interface{} `json:"metadata"`
}

type ingestResponse struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Stored    int `json:"stored"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Source == "" {
		writeErrorMessage(w, http.StatusBadRequest, "source is required")
		return
	}

	result, err := s.deps.Pipeline.Ingest(r.Context(), req.Source, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		Documents: result.Documents,
		Chunks:    result.Chunks,
		Stored:    result.Stored,
	})
}

// handleIngestFile accepts a direct upload, stages it in a temp file so
// the loader can detect the format from the name, and ingests it.
func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "expected multipart form with a file")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	staging, err := os.MkdirTemp("", "lore-upload-")
	if err != nil {
		writeErrorMessage(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}
	defer os.RemoveAll(staging)

	path := filepath.Join(staging, filepath.Base(header.Filename))
	out, err := os.Create(path)
	if err != nil {
		writeErrorMessage(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}
	if _, err := io.Copy(out, io.LimitReader(file, maxBodyBytes)); err != nil {
		out.Close()
		writeErrorMessage(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}
	out.Close()

	extra := map[string]interface{}{}
	for key, values := range r.MultipartForm.Value {
		if key == "question" || len(values) == 0 {
			continue
		}
		extra[key] = values[0]
	}

	result, err := s.deps.Pipeline.Ingest(r.Context(), path, extra)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		Documents: result.Documents,
		Chunks:    result.Chunks,
		Stored:    result.Stored,
	})
}

func (s *Server) readTextBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "failed to read request body")
		return "", false
	}
	if len(body) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "request body is required")
		return "", false
	}
	return string(body), true
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, llm.ErrModelUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, store.ErrIndexUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, loader.ErrSourceUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, filter.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, llm.ErrDimensionMismatch), errors.Is(err, store.ErrDimensionMismatch):
		status = http.StatusInternalServerError
	}
	s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	writeErrorMessage(w, status, err.Error())
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, text)
}
