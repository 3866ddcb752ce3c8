// Package splitter cuts documents into token-bounded chunks. Tokens are
// approximated as whitespace-delimited fields; the exact tokenizer lives
// server-side in the model, so the budget here is a sizing heuristic, not
// an accounting guarantee.
package splitter

import (
	"fmt"
	"strings"

	"github.com/xhad/lore/internal/models"
)

type Config struct {
	ChunkSize int // tokens per chunk
	// ChunkOverlap is how many tokens repeat from the previous chunk.
	// Zero means the default; a negative value disables overlap.
	ChunkOverlap int
}

type Splitter struct {
	config Config
}

func NewWithConfig(config Config) Splitter {
	if config.ChunkSize == 0 {
		config.ChunkSize = 250
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 25
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = 0
	}

	return Splitter{config: config}
}

// CountTokens returns the approximate token count of a text.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// Split cuts each document into chunks carrying the parent's metadata.
// A document that already fits the chunk budget passes through as a
// single chunk with its content untouched; blank documents produce no
// chunks at all.
func (s *Splitter) Split(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, doc := range docs {
		for i, piece := range s.splitContent(doc.Content) {
			chunks = append(chunks, models.Chunk{
				ID:         fmt.Sprintf("%s:%d", doc.ID, i),
				DocumentID: doc.ID,
				Index:      i,
				Content:    piece,
				Metadata:   doc.CloneMetadata(),
			})
		}
	}
	return chunks, nil
}

func (s *Splitter) splitContent(content string) []string {
	total := CountTokens(content)
	if total == 0 {
		return nil
	}
	if total <= s.config.ChunkSize {
		return []string{content}
	}

	// Oversized sentences are pre-cut so the packer below only ever sees
	// sentences that fit the budget.
	var sentences []string
	for _, sentence := range splitSentences(content) {
		sentences = append(sentences, hardSplit(sentence, s.config.ChunkSize)...)
	}

	var (
		chunks        []string
		current       []string
		currentTokens int
	)

	for _, sentence := range sentences {
		tokens := CountTokens(sentence)
		if currentTokens+tokens > s.config.ChunkSize && currentTokens > 0 {
			text := strings.Join(current, " ")
			chunks = append(chunks, text)

			current = current[:0]
			currentTokens = 0
			if s.config.ChunkOverlap > 0 {
				fields := strings.Fields(text)
				if len(fields) > s.config.ChunkOverlap {
					fields = fields[len(fields)-s.config.ChunkOverlap:]
				}
				// Skip the overlap seed when it would not leave room
				// for the sentence itself.
				if len(fields)+tokens <= s.config.ChunkSize {
					current = append(current, strings.Join(fields, " "))
					currentTokens = len(fields)
				}
			}
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	if currentTokens > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// splitSentences breaks text at ., ! or ? followed by whitespace. Text
// without terminators comes back as one sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(text) && !isSpace(text[i+1]) {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func hardSplit(sentence string, size int) []string {
	fields := strings.Fields(sentence)
	if len(fields) <= size {
		return []string{sentence}
	}
	var parts []string
	for start := 0; start < len(fields); start += size {
		end := min(start+size, len(fields))
		parts = append(parts, strings.Join(fields[start:end], " "))
	}
	return parts
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
