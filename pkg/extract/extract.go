// Package extract turns free text into a structured record by asking the
// model for JSON and decoding it against a declared schema. Unknown
// fields are dropped, never fabricated; a record that cannot satisfy the
// schema comes back as a best-effort partial alongside ErrParseFailure.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/lore/pkg/llm"
)

// ErrParseFailure is returned when the model's output does not decode
// into the declared schema.
var ErrParseFailure = errors.New("structured output parse failure")

type FieldType string

const (
	TypeString     FieldType = "string"
	TypeNumber     FieldType = "number"
	TypeBool       FieldType = "bool"
	TypeStringList FieldType = "string_list"
)

type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
}

// Schema declares the record shape the extractor produces.
type Schema struct {
	Name   string
	Fields []Field
}

func (s Schema) validate() error {
	if len(s.Fields) == 0 {
		return errors.New("schema has no fields")
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return errors.New("schema field has no name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate schema field %s", f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case TypeString, TypeNumber, TypeBool, TypeStringList:
		default:
			return fmt.Errorf("field %s has unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}

// generator is the slice of the chat engine the extractor uses.
type generator interface {
	ChatJSON(ctx context.Context, messages []llms.MessageContent) (string, error)
}

type Extractor struct {
	model  generator
	schema Schema
	prompt string
}

func New(model generator, schema Schema) (*Extractor, error) {
	if model == nil {
		return nil, errors.New("extractor requires a model")
	}
	if err := schema.validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Extractor{
		model:  model,
		schema: schema,
		prompt: systemPrompt(schema),
	}, nil
}

func systemPrompt(schema Schema) string {
	var b strings.Builder
	b.WriteString("Extract a ")
	if schema.Name != "" {
		b.WriteString(schema.Name)
		b.WriteString(" record")
	} else {
		b.WriteString("record")
	}
	b.WriteString(" from the user's text. Respond with a single JSON object and nothing else.\nFields:\n")
	for _, f := range schema.Fields {
		fmt.Fprintf(&b, "- %q (%s", f.Name, jsonType(f.Type))
		if f.Required {
			b.WriteString(", required")
		}
		b.WriteString(")")
		if f.Description != "" {
			b.WriteString(": ")
			b.WriteString(f.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("Omit a field entirely when the text does not state its value. Never invent values.")
	return b.String()
}

func jsonType(t FieldType) string {
	if t == TypeStringList {
		return "array of strings"
	}
	return string(t)
}

// Extract asks the model for the record and decodes its reply. On
// ErrParseFailure the returned map holds whatever fields did decode.
func (e *Extractor) Extract(ctx context.Context, text string) (map[string]interface{}, error) {
	raw, err := e.model.ChatJSON(ctx, []llms.MessageContent{
		llm.SystemMessage(e.prompt),
		llm.UserMessage(text),
	})
	if err != nil {
		return nil, err
	}
	return Decode(raw, e.schema)
}

// Decode parses model output against the schema. Markdown fences around
// the JSON are tolerated, unknown fields are dropped, and a missing
// required field or a type mismatch yields the decoded-so-far record
// plus ErrParseFailure.
func Decode(raw string, schema Schema) (map[string]interface{}, error) {
	cleaned := stripFences(raw)

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrParseFailure, err)
	}

	record := make(map[string]interface{}, len(schema.Fields))
	var problems []string

	for _, field := range schema.Fields {
		value, ok := decoded[field.Name]
		if !ok || value == nil {
			if field.Required {
				problems = append(problems, fmt.Sprintf("missing required field %q", field.Name))
			}
			continue
		}
		converted, err := convert(value, field.Type)
		if err != nil {
			problems = append(problems, fmt.Sprintf("field %q: %v", field.Name, err))
			continue
		}
		record[field.Name] = converted
	}

	if len(problems) > 0 {
		return record, fmt.Errorf("%w: %s", ErrParseFailure, strings.Join(problems, "; "))
	}
	return record, nil
}

func convert(value interface{}, t FieldType) (interface{}, error) {
	switch t {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s, nil
	case TypeNumber:
		n, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", value)
		}
		return n, nil
	case TypeBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
		return b, nil
	case TypeStringList:
		items, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected array, got %T", value)
		}
		list := make([]string, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: expected string, got %T", i, item)
			}
			list[i] = s
		}
		return list, nil
	}
	return nil, fmt.Errorf("unknown type %q", t)
}

// stripFences removes a ```json ... ``` (or plain ```) wrapper some
// models insist on despite JSON mode.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
