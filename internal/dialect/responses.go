// Package dialect detects the wire dialect of a client request and
// translates between the supported shapes.
package dialect

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResponsesToChat translates a Responses API request into an OpenAI Chat
// Completions request.
func ResponsesToChat(req *ResponsesRequest) (*ChatRequest, error) {
	out := &ChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		Stream:      req.Stream,
		MaxTokens:   req.MaxOutputTokens,
	}

	if req.Instructions != "" {
		out.Messages = append(out.Messages, ChatMessage{Role: "system", Content: req.Instructions})
	}

	if len(req.Input) > 0 {
		messages, err := convertResponsesInput(req.Input)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, messages...)
	}

	for _, raw := range req.Tools {
		if tool, ok := convertResponsesTool(raw); ok {
			out.Tools = append(out.Tools, tool)
		}
	}

	if req.ToolChoice != nil {
		out.ToolChoice = req.ToolChoice
	}

	return out, nil
}

// convertResponsesInput expands the input field: a plain string becomes a
// single user message; an item array is walked with function_call items
// buffered until the matching function_call_output (or a following
// message) flushes them as an assistant tool_calls message.
func convertResponsesInput(raw json.RawMessage) ([]ChatMessage, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []ChatMessage{{Role: "user", Content: s}}, nil
	}

	var items []ResponsesItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("input is neither string nor item array: %w", err)
	}

	var out []ChatMessage
	var pending []ToolCall

	flush := func() {
		if len(pending) > 0 {
			out = append(out, ChatMessage{Role: "assistant", ToolCalls: pending})
			pending = nil
		}
	}

	for _, item := range items {
		switch item.Type {
		case "function_call":
			pending = append(pending, ToolCall{
				ID:   item.CallID,
				Type: "function",
				Function: FunctionCall{
					Name:      item.Name,
					Arguments: item.Arguments,
				},
			})
		case "function_call_output":
			flush()
			out = append(out, ChatMessage{
				Role:       "tool",
				ToolCallID: item.CallID,
				Content:    item.Output,
			})
		case "message":
			flush()
			msg, err := convertResponsesMessage(item)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
		case "item_reference":
			// References resolve server-side upstream; nothing to send.
		}
	}
	flush()

	return out, nil
}

// convertResponsesMessage converts one message input item.
// The developer role maps to system.
func convertResponsesMessage(item ResponsesItem) (ChatMessage, error) {
	role := item.Role
	if role == "developer" {
		role = "system"
	}
	msg := ChatMessage{Role: role}

	var s string
	if err := json.Unmarshal(item.Content, &s); err == nil {
		msg.Content = s
		return msg, nil
	}

	var parts []ResponsesContentPart
	if err := json.Unmarshal(item.Content, &parts); err != nil {
		return msg, fmt.Errorf("message content is neither string nor part array: %w", err)
	}

	converted := make([]ContentPart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "input_text":
			converted = append(converted, ContentPart{Type: "text", Text: part.Text})
		case "input_image":
			converted = append(converted, ContentPart{
				Type:     "image_url",
				ImageURL: &ImageURL{URL: part.ImageURL},
			})
		}
	}
	msg.Content = converted
	return msg, nil
}

// convertResponsesTool accepts both the nested {type:function,function:{…}}
// and the flat {type:function,name,…} declarations. Non-function tool
// types are dropped.
func convertResponsesTool(raw json.RawMessage) (ChatTool, bool) {
	var nested struct {
		Type     string        `json:"type"`
		Function *ToolFunction `json:"function"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Type == "function" && nested.Function != nil {
		return ChatTool{Type: "function", Function: *nested.Function}, true
	}

	var flat struct {
		Type        string         `json:"type"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil && flat.Type == "function" && flat.Name != "" {
		return ChatTool{
			Type: "function",
			Function: ToolFunction{
				Name:        flat.Name,
				Description: flat.Description,
				Parameters:  flat.Parameters,
			},
		}, true
	}

	return ChatTool{}, false
}

// ChatToResponsesResponse translates a non-streaming OpenAI response into
// a Responses API response: one function_call item per tool call, plus a
// message item when the content is non-empty. An empty choice still
// produces an empty message item.
func ChatToResponsesResponse(raw []byte, model string) ([]byte, error) {
	var resp ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}

	out := ResponsesResponse{
		ID:     fmt.Sprintf("resp_%d", time.Now().UnixMilli()),
		Object: "response",
		Status: "completed",
		Model:  model,
		Output: []ResponsesOutputItem{},
	}
	if resp.ID != "" {
		out.ID = "resp_" + resp.ID
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]

		for _, call := range choice.Message.ToolCalls {
			out.Output = append(out.Output, ResponsesOutputItem{
				Type:      "function_call",
				ID:        "fc_" + call.ID,
				Status:    "completed",
				CallID:    call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}

		if choice.Message.Content != "" {
			out.Output = append(out.Output, ResponsesOutputItem{
				Type:   "message",
				ID:     "msg_" + out.ID,
				Status: "completed",
				Role:   "assistant",
				Content: []ResponsesOutputPart{
					{Type: "output_text", Text: choice.Message.Content},
				},
			})
		}
	}

	if len(out.Output) == 0 {
		out.Output = append(out.Output, ResponsesOutputItem{
			Type:    "message",
			ID:      "msg_" + out.ID,
			Status:  "completed",
			Role:    "assistant",
			Content: []ResponsesOutputPart{},
		})
	}

	if resp.Usage != nil {
		out.Usage = &ResponsesUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		}
	}

	return json.Marshal(out)
}
