package splitter_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/lore/internal/models"
	"github.com/xhad/lore/pkg/splitter"
)

func TestShortDocumentPassesThrough(t *testing.T) {
	s := splitter.NewWithConfig(splitter.Config{ChunkSize: 50, ChunkOverlap: 10})

	doc := models.Document{
		ID:      "doc-1",
		Content: "A small   document.\nWith odd  spacing preserved.",
		Metadata: map[string]interface{}{
			"location": "North Pole",
		},
	}

	chunks, err := s.Split([]models.Document{doc})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "doc-1:0", chunks[0].ID)
	assert.Equal(t, "doc-1", chunks[0].DocumentID)
	assert.Zero(t, chunks[0].Index)
	assert.Equal(t, doc.Content, chunks[0].Content)
	assert.Equal(t, doc.Metadata, chunks[0].Metadata)
}

func TestChunkMetadataIsACopy(t *testing.T) {
	s := splitter.NewWithConfig(splitter.Config{ChunkSize: 50})

	doc := models.Document{
		ID:       "doc-1",
		Content:  "short",
		Metadata: map[string]interface{}{"location": "Italy"},
	}

	chunks, err := s.Split([]models.Document{doc})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunks[0].Metadata["location"] = "changed"
	assert.Equal(t, "Italy", doc.Metadata["location"])
}

func TestBlankDocumentYieldsNothing(t *testing.T) {
	s := splitter.NewWithConfig(splitter.Config{ChunkSize: 50})

	chunks, err := s.Split([]models.Document{
		{ID: "empty", Content: ""},
		{ID: "spaces", Content: "   \n\t  "},
	})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func sentence(n, tokens int) string {
	words := make([]string, tokens)
	for i := range words {
		words[i] = fmt.Sprintf("w%d_%d", n, i)
	}
	return strings.Join(words, " ") + "."
}

func TestSplitsAtSentenceBoundaries(t *testing.T) {
	s := splitter.NewWithConfig(splitter.Config{ChunkSize: 10, ChunkOverlap: 3})

	var sentences []string
	for i := 0; i < 5; i++ {
		sentences = append(sentences, sentence(i, 4))
	}
	doc := models.Document{ID: "doc-1", Content: strings.Join(sentences, " ")}

	chunks, err := s.Split([]models.Document{doc})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, splitter.CountTokens(chunk.Content), 10,
			"chunk %d exceeds the token budget", i)
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, fmt.Sprintf("doc-1:%d", i), chunk.ID)
		// The packer flushes at sentence ends.
		assert.True(t, strings.HasSuffix(chunk.Content, "."),
			"chunk %d does not end at a sentence boundary: %q", i, chunk.Content)
	}
}

func TestOverlapCarriesTrailingTokens(t *testing.T) {
	s := splitter.NewWithConfig(splitter.Config{ChunkSize: 10, ChunkOverlap: 3})

	var sentences []string
	for i := 0; i < 5; i++ {
		sentences = append(sentences, sentence(i, 4))
	}
	doc := models.Document{ID: "doc-1", Content: strings.Join(sentences, " ")}

	chunks, err := s.Split([]models.Document{doc})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	firstFields := strings.Fields(chunks[0].Content)
	tail := strings.Join(firstFields[len(firstFields)-3:], " ")
	assert.True(t, strings.HasPrefix(chunks[1].Content, tail),
		"second chunk %q does not start with the overlap %q", chunks[1].Content, tail)
}

func TestNegativeOverlapDisablesOverlap(t *testing.T) {
	// Zero falls back to the default, so an explicit no-overlap run is
	// requested with a negative value.
	s := splitter.NewWithConfig(splitter.Config{ChunkSize: 30, ChunkOverlap: -1})

	var sentences []string
	for i := 0; i < 12; i++ {
		sentences = append(sentences, sentence(i, 5))
	}
	doc := models.Document{ID: "doc-1", Content: strings.Join(sentences, " ")}

	chunks, err := s.Split([]models.Document{doc})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Every token is unique across the document, so any repetition
	// between adjacent chunks would be overlap.
	for i := 1; i < len(chunks); i++ {
		previous := strings.Fields(chunks[i-1].Content)
		seen := make(map[string]bool, len(previous))
		for _, word := range previous {
			seen[word] = true
		}
		for _, word := range strings.Fields(chunks[i].Content) {
			assert.False(t, seen[word], "token %q repeats from chunk %d", word, i-1)
		}
	}
}

func TestHardSplitWithoutSentenceBoundaries(t *testing.T) {
	s := splitter.NewWithConfig(splitter.Config{ChunkSize: 10, ChunkOverlap: 0})

	words := make([]string, 25)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	doc := models.Document{ID: "doc-1", Content: strings.Join(words, " ")}

	chunks, err := s.Split([]models.Document{doc})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 10, splitter.CountTokens(chunks[0].Content))
	assert.Equal(t, 10, splitter.CountTokens(chunks[1].Content))
	assert.Equal(t, 5, splitter.CountTokens(chunks[2].Content))

	// Order is reconstructable from the indexes.
	var rebuilt []string
	for _, chunk := range chunks {
		rebuilt = append(rebuilt, chunk.Content)
	}
	assert.Equal(t, doc.Content, strings.Join(rebuilt, " "))
}

func TestCountTokens(t *testing.T) {
	assert.Zero(t, splitter.CountTokens(""))
	assert.Zero(t, splitter.CountTokens("   "))
	assert.Equal(t, 3, splitter.CountTokens("one two three"))
	assert.Equal(t, 3, splitter.CountTokens("  one\ttwo\nthree  "))
}
