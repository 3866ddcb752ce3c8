// Command lore ingests documents into the vector store and chats with
// them from the terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/xhad/lore/internal/app"
	"github.com/xhad/lore/pkg/config"
	"github.com/xhad/lore/pkg/llm"
	"github.com/xhad/lore/pkg/rag"
	"github.com/xhad/lore/pkg/store"
)

func main() {
	if err := run(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; explicit environment still applies.
	_ = godotenv.Load()

	var (
		configPath string
		ingest     string
		meta       string
		search     string
		filter     string
		topK       int
	)
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&ingest, "ingest", "", "Comma-separated files or URLs to ingest before chatting")
	flag.StringVar(&meta, "meta", "", "Metadata attached to ingested documents, e.g. location=North Pole,topic=bears")
	flag.StringVar(&search, "search", "", "Run a semantic search instead of chatting")
	flag.StringVar(&filter, "filter", "", "Metadata filter expression, e.g. location == 'North Pole'")
	flag.IntVar(&topK, "top-k", 0, "Number of results to retrieve (default from config)")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	ctx := context.Background()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	extra, err := parseMetadata(meta)
	if err != nil {
		return err
	}

	if ingest != "" {
		for _, source := range strings.Split(ingest, ",") {
			if err := ingestSource(ctx, application, strings.TrimSpace(source), extra); err != nil {
				return err
			}
		}
	}

	if search != "" {
		return runSearch(ctx, application, search, filter, topK)
	}

	return chatLoop(ctx, application, filter, topK)
}

func parseMetadata(meta string) (map[string]interface{}, error) {
	if meta == "" {
		return nil, nil
	}
	extra := make(map[string]interface{})
	for _, pair := range strings.Split(meta, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid metadata pair %q, expected key=value", pair)
		}
		extra[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return extra, nil
}

func ingestSource(ctx context.Context, application *app.App, source string, extra map[string]interface{}) error {
	color.Blue("Ingesting %s", source)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.BlueString("Embedding and storing chunks...")),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
	application.Pipeline.OnProgress(func(stored, total int) {
		bar.ChangeMax(total)
		bar.Set(stored)
	})
	defer application.Pipeline.OnProgress(nil)

	result, err := application.Pipeline.Ingest(ctx, source, extra)
	if err != nil {
		return err
	}
	bar.Finish()
	color.Green("\n✓ %d documents → %d chunks stored\n", result.Documents, result.Stored)
	return nil
}

func runSearch(ctx context.Context, application *app.App, query, filter string, topK int) error {
	vector, err := application.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return err
	}

	req := store.SearchRequest{
		Embedding: vector,
		TopK:      topK,
		Threshold: application.Config.Retrieval.Threshold,
		Filter:    filter,
	}
	if req.TopK <= 0 {
		req.TopK = application.Config.Retrieval.TopK
	}

	results, err := application.Docs.Search(ctx, req)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		color.Yellow("No matching segments.")
		return nil
	}

	for i, result := range results {
		color.Cyan("%d. [%.3f] %s", i+1, result.Score, result.ID)
		fmt.Println(strings.TrimSpace(result.Content))
		if len(result.Metadata) > 0 {
			color.HiBlack("   metadata: %v", result.Metadata)
		}
	}
	return nil
}

func chatLoop(ctx context.Context, application *app.App, filter string, topK int) error {
	color.Cyan("Chat with your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	// One conversation per CLI session keeps follow-up questions in
	// context without leaking across runs.
	const conversationID = "cli-session"

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			return nil
		}

		req := rag.Request{
			Query:          query,
			ConversationID: conversationID,
			Filter:         filter,
			TopK:           topK,
		}

		assistantPrompt("\nAssistant: ")
		if application.Config.UI.Streaming {
			fragments, _, err := application.RAG.AnswerStream(ctx, req)
			if err != nil {
				color.Red("\n%v", err)
				continue
			}
			if err := printStream(fragments); err != nil {
				color.Red("\n%v", err)
			}
		} else {
			answer, err := application.RAG.Answer(ctx, req)
			if err != nil {
				color.Red("\n%v", err)
				continue
			}
			fmt.Print(answer.Text)
		}
		fmt.Println()
	}
}

func printStream(fragments <-chan llm.Fragment) error {
	for f := range fragments {
		if f.Err != nil {
			return f.Err
		}
		fmt.Print(f.Content)
	}
	return nil
}
