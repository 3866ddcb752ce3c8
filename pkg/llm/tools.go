package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// Tool is a function the model may call during ChatWithTools. Parameters
// follows JSON Schema, the convention the chat API expects.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Call        func(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolBelt is an explicitly constructed tool registry handed to
// ChatWithTools. There is no process-wide registration.
type ToolBelt struct {
	tools  []Tool
	byName map[string]Tool
}

func NewToolBelt(tools ...Tool) (*ToolBelt, error) {
	belt := &ToolBelt{byName: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		if tool.Name == "" {
			return nil, fmt.Errorf("tool has no name")
		}
		if tool.Call == nil {
			return nil, fmt.Errorf("tool %s has no call function", tool.Name)
		}
		if _, dup := belt.byName[tool.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %s", tool.Name)
		}
		belt.byName[tool.Name] = tool
		belt.tools = append(belt.tools, tool)
	}
	return belt, nil
}

func (tb *ToolBelt) specs() []llms.Tool {
	specs := make([]llms.Tool, len(tb.tools))
	for i, tool := range tb.tools {
		specs[i] = llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return specs
}

// maxToolRounds bounds the call-tool-call loop so a model that keeps
// requesting tools cannot spin forever.
const maxToolRounds = 5

// ChatWithTools runs the conversation with the belt's tools offered to
// the model, executing requested calls and feeding results back until
// the model answers in text.
func (ce *ChatEngine) ChatWithTools(ctx context.Context, messages []llms.MessageContent, belt *ToolBelt) (string, error) {
	history := make([]llms.MessageContent, len(messages))
	copy(history, messages)

	for round := 0; round < maxToolRounds; round++ {
		callCtx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
		resp, err := ce.model.GenerateContent(callCtx, history,
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithTools(belt.specs()))
		cancel()
		if err != nil {
			return "", wrapModelErr(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: empty response", ErrModelUnavailable)
		}

		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			return choice.Content, nil
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, call := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, call)
		}
		history = append(history, assistant)

		for _, call := range choice.ToolCalls {
			result, err := belt.execute(ctx, call)
			if err != nil {
				return "", err
			}
			history = append(history, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: call.ID,
						Name:       call.FunctionCall.Name,
						Content:    result,
					},
				},
			})
		}
	}

	return "", fmt.Errorf("model did not answer within %d tool rounds", maxToolRounds)
}

func (tb *ToolBelt) execute(ctx context.Context, call llms.ToolCall) (string, error) {
	if call.FunctionCall == nil {
		return "", fmt.Errorf("tool call %s has no function", call.ID)
	}
	tool, ok := tb.byName[call.FunctionCall.Name]
	if !ok {
		return "", fmt.Errorf("model requested unknown tool %s", call.FunctionCall.Name)
	}

	args := map[string]interface{}{}
	if call.FunctionCall.Arguments != "" {
		if err := json.Unmarshal([]byte(call.FunctionCall.Arguments), &args); err != nil {
			return "", fmt.Errorf("decoding arguments for %s: %w", tool.Name, err)
		}
	}

	result, err := tool.Call(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %s failed: %w", tool.Name, err)
	}
	return result, nil
}
