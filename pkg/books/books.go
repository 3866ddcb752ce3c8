// Package books holds the sample library catalog exposed to the model as
// a callable tool. The catalog is constructed and injected explicitly;
// there is no package-level book registry.
package books

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xhad/lore/pkg/llm"
)

type Book struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// Catalog answers author lookups over a fixed set of books.
type Catalog struct {
	books []Book
}

func NewCatalog(books ...Book) *Catalog {
	return &Catalog{books: books}
}

// DefaultCatalog returns the demo library.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Book{Title: "His Dark Materials", Author: "Philip Pullman"},
		Book{Title: "Narnia", Author: "C.S. Lewis"},
		Book{Title: "The Hobbit", Author: "J.R.R. Tolkien"},
		Book{Title: "The Lord of The Rings", Author: "J.R.R. Tolkien"},
		Book{Title: "The Silmarillion", Author: "J.R.R. Tolkien"},
	)
}

// ByAuthor returns the books whose author matches exactly.
func (c *Catalog) ByAuthor(author string) []Book {
	var matches []Book
	for _, book := range c.books {
		if book.Author == author {
			matches = append(matches, book)
		}
	}
	return matches
}

// Tool exposes the catalog as a booksByAuthor function the chat engine
// can offer to the model.
func (c *Catalog) Tool() llm.Tool {
	return llm.Tool{
		Name:        "booksByAuthor",
		Description: "Get the list of books written by the given author available in the library",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"author": map[string]interface{}{
					"type":        "string",
					"description": "Full name of the author",
				},
			},
			"required": []string{"author"},
		},
		Call: func(ctx context.Context, args map[string]interface{}) (string, error) {
			author, ok := args["author"].(string)
			if !ok {
				return "", fmt.Errorf("booksByAuthor requires an author argument")
			}
			matches := c.ByAuthor(author)
			if matches == nil {
				matches = []Book{}
			}
			encoded, err := json.Marshal(matches)
			if err != nil {
				return "", fmt.Errorf("encoding books: %w", err)
			}
			return string(encoded), nil
		},
	}
}
