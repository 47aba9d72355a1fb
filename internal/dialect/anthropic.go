// Package dialect detects the wire dialect of a client request and
// translates between the supported shapes.
package dialect

import (
	"encoding/json"
	"fmt"
	"time"
)

// AnthropicToChat translates an Anthropic Messages request into an OpenAI
// Chat Completions request.
func AnthropicToChat(req *AnthropicRequest) (*ChatRequest, error) {
	out := &ChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxTokens = &mt
	}

	if sys := systemText(req.System); sys != "" {
		out.Messages = append(out.Messages, ChatMessage{Role: "system", Content: sys})
	}

	for _, msg := range req.Messages {
		converted, err := convertAnthropicMessage(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, ChatTool{
			Type: "function",
			Function: ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  CleanSchema(tool.InputSchema),
			},
		})
	}

	if choice := mapToolChoice(req.ToolChoice); choice != nil {
		out.ToolChoice = choice
	}

	return out, nil
}

// systemText extracts the system prompt: a plain string, or the
// concatenated text of a block list sent by newer clients.
func systemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var out string
		for _, b := range blocks {
			if b.Type == "text" {
				out += b.Text
			}
		}
		return out
	}

	return ""
}

// convertAnthropicMessage expands one Anthropic message into one or more
// OpenAI messages. tool_result blocks become individual tool messages,
// tool_use blocks collapse into one assistant message with tool_calls, and
// text/image blocks become the message content.
func convertAnthropicMessage(msg AnthropicMessage) ([]ChatMessage, error) {
	var plain string
	if err := json.Unmarshal(msg.Content, &plain); err == nil {
		return []ChatMessage{{Role: msg.Role, Content: plain}}, nil
	}

	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, fmt.Errorf("message content is neither string nor block list: %w", err)
	}

	var out []ChatMessage
	var text string
	var images []ContentPart
	var toolCalls []ToolCall

	for _, block := range blocks {
		switch block.Type {
		case "text":
			text += block.Text
		case "image":
			if block.Source != nil && block.Source.Type == "base64" {
				images = append(images, ContentPart{
					Type: "image_url",
					ImageURL: &ImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", block.Source.MediaType, block.Source.Data),
					},
				})
			}
		case "tool_use":
			args := "{}"
			if block.Input != nil {
				if b, err := json.Marshal(block.Input); err == nil {
					args = string(b)
				}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		case "tool_result":
			out = append(out, ChatMessage{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    stringifyToolResult(block.Content),
			})
		}
	}

	if len(toolCalls) > 0 {
		assistant := ChatMessage{Role: "assistant", ToolCalls: toolCalls}
		if text != "" {
			assistant.Content = text
		}
		out = append(out, assistant)
	} else if len(images) > 0 {
		parts := make([]ContentPart, 0, len(images)+1)
		if text != "" {
			parts = append(parts, ContentPart{Type: "text", Text: text})
		}
		parts = append(parts, images...)
		out = append(out, ChatMessage{Role: msg.Role, Content: parts})
	} else if text != "" || len(out) == 0 {
		out = append(out, ChatMessage{Role: msg.Role, Content: text})
	}

	return out, nil
}

// stringifyToolResult renders a tool_result content field as the string
// OpenAI tool messages expect.
func stringifyToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// schemaDropKeys are JSON Schema fields upstream function declarations
// reject.
var schemaDropKeys = map[string]struct{}{
	"$schema":  {},
	"title":    {},
	"examples": {},
}

// CleanSchema returns a copy of an Anthropic input_schema suitable as
// OpenAI function parameters: $schema/title/examples dropped, properties
// cleaned recursively, and format stripped from string-typed properties.
func CleanSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}

	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if _, drop := schemaDropKeys[k]; drop {
			continue
		}
		out[k] = v
	}

	props, ok := out["properties"].(map[string]any)
	if !ok {
		return out
	}

	cleaned := make(map[string]any, len(props))
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			cleaned[name] = raw
			continue
		}
		p := CleanSchema(prop)
		if t, _ := p["type"].(string); t == "string" {
			delete(p, "format")
		}
		cleaned[name] = p
	}
	out["properties"] = cleaned

	return out
}

// mapToolChoice translates an Anthropic tool_choice into OpenAI's.
func mapToolChoice(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "auto":
			return "auto"
		case "none":
			return "none"
		case "any", "required":
			return "required"
		}
		return nil
	}

	var obj struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	switch obj.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "tool":
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": obj.Name},
		}
	}
	return nil
}

// stopReasonFromFinish maps OpenAI finish_reason to Anthropic stop_reason.
func stopReasonFromFinish(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default: // "stop" and anything unrecognized
		return "end_turn"
	}
}

// ChatToAnthropicResponse translates a non-streaming OpenAI response body
// into an Anthropic Messages response. A body that already matches the
// Anthropic shape is returned untouched. The response model is set to the
// model the client originally requested.
func ChatToAnthropicResponse(raw []byte, originalModel string) ([]byte, error) {
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("upstream response is not JSON: %w", err)
	}
	if t, _ := probe["type"].(string); t == "message" {
		if _, ok := probe["content"]; ok {
			return raw, nil
		}
	}

	var resp ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}

	out := AnthropicResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: originalModel,
	}
	if out.ID == "" {
		out.ID = fmt.Sprintf("msg_%d", time.Now().UnixMilli())
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]

		if choice.Message.Content != "" {
			out.Content = append(out.Content, AnthropicContentBlock{
				Type: "text",
				Text: choice.Message.Content,
			})
		}

		for _, call := range choice.Message.ToolCalls {
			var input any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				input = map[string]any{"raw": call.Function.Arguments}
			}
			out.Content = append(out.Content, AnthropicContentBlock{
				Type:  "tool_use",
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: input,
			})
		}

		out.StopReason = stopReasonFromFinish(choice.FinishReason)
	} else {
		out.StopReason = "end_turn"
	}

	if len(out.Content) == 0 {
		out.Content = []AnthropicContentBlock{{Type: "text", Text: ""}}
	}

	if resp.Usage != nil {
		out.Usage = AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return json.Marshal(out)
}
