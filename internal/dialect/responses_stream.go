// Package dialect detects the wire dialect of a client request and
// translates between the supported shapes.
package dialect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ResponsesStream rewrites an OpenAI Chat Completions SSE stream into
// Responses API events. The terminal response.completed event is emitted
// as soon as a finish_reason arrives, not when [DONE] does, so clients
// that hang up after response.completed still get a full response.
type ResponsesStream struct {
	buf   LineBuffer
	model string
	id    string

	started   bool
	completed bool

	msgOpen  bool
	msgIndex int
	msgID    string
	text     strings.Builder

	nextIndex int

	toolOrder []int
	tools     map[int]*respToolState

	usage        *Usage
	outputTokens int
}

// respToolState tracks one function call item across delta fragments.
type respToolState struct {
	outputIndex int
	itemID      string
	callID      string
	name        string
	args        strings.Builder
}

// NewResponsesStream creates a stream transformer echoing the model the
// client requested.
func NewResponsesStream(model string) *ResponsesStream {
	return &ResponsesStream{
		model: model,
		tools: make(map[int]*respToolState),
	}
}

// Transform consumes a chunk of upstream SSE bytes and returns the
// Responses API SSE bytes to forward. Malformed data payloads are skipped.
func (s *ResponsesStream) Transform(p []byte) []byte {
	var out bytes.Buffer

	for _, line := range s.buf.Feed(p) {
		payload, ok := DataPayload(line)
		if !ok {
			continue
		}
		if string(payload) == DoneMarker {
			out.Write(s.finish())
			continue
		}

		var chunk ChatStreamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			continue
		}
		out.Write(s.consume(&chunk))
	}

	return out.Bytes()
}

// Close flushes the stream as if [DONE] had arrived. Used when the
// upstream closes without a terminator.
func (s *ResponsesStream) Close() []byte {
	return s.finish()
}

// consume applies one decoded OpenAI chunk to the state machine.
func (s *ResponsesStream) consume(chunk *ChatStreamChunk) []byte {
	var out bytes.Buffer

	if !s.started {
		s.started = true
		s.id = fmt.Sprintf("resp_%d", time.Now().UnixMilli())
		if chunk.ID != "" {
			s.id = "resp_" + chunk.ID
		}
		out.Write(formatEvent("response.created", map[string]any{
			"type": "response.created",
			"response": map[string]any{
				"id":     s.id,
				"object": "response",
				"status": "in_progress",
				"model":  s.model,
				"output": []any{},
			},
		}))
	}

	if chunk.Usage != nil {
		s.usage = chunk.Usage
	}

	if len(chunk.Choices) == 0 {
		return out.Bytes()
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if !s.msgOpen {
			s.msgOpen = true
			s.msgIndex = s.nextIndex
			s.nextIndex++
			s.msgID = "msg_" + s.id
			out.Write(formatEvent("response.output_item.added", map[string]any{
				"type":         "response.output_item.added",
				"output_index": s.msgIndex,
				"item": map[string]any{
					"id":      s.msgID,
					"type":    "message",
					"status":  "in_progress",
					"role":    "assistant",
					"content": []any{},
				},
			}))
			out.Write(formatEvent("response.content_part.added", map[string]any{
				"type":          "response.content_part.added",
				"item_id":       s.msgID,
				"output_index":  s.msgIndex,
				"content_index": 0,
				"part":          map[string]any{"type": "output_text", "text": ""},
			}))
		}
		out.Write(formatEvent("response.output_text.delta", map[string]any{
			"type":          "response.output_text.delta",
			"item_id":       s.msgID,
			"output_index":  s.msgIndex,
			"content_index": 0,
			"delta":         choice.Delta.Content,
		}))
		s.text.WriteString(choice.Delta.Content)
		s.outputTokens += (len(choice.Delta.Content) + 3) / 4
	}

	for _, tc := range choice.Delta.ToolCalls {
		st, ok := s.tools[tc.Index]
		if !ok {
			st = &respToolState{
				outputIndex: s.nextIndex,
				itemID:      fmt.Sprintf("fc_%s_%d", s.id, tc.Index),
			}
			s.nextIndex++
			s.tools[tc.Index] = st
			s.toolOrder = append(s.toolOrder, tc.Index)

			if tc.ID != "" {
				st.callID = tc.ID
			}
			if tc.Function.Name != "" {
				st.name = tc.Function.Name
			}
			out.Write(formatEvent("response.output_item.added", map[string]any{
				"type":         "response.output_item.added",
				"output_index": st.outputIndex,
				"item": map[string]any{
					"id":        st.itemID,
					"type":      "function_call",
					"status":    "in_progress",
					"call_id":   st.callID,
					"name":      st.name,
					"arguments": "",
				},
			}))
		} else {
			if tc.ID != "" {
				st.callID = tc.ID
			}
			if tc.Function.Name != "" {
				st.name = tc.Function.Name
			}
		}

		if tc.Function.Arguments != "" {
			st.args.WriteString(tc.Function.Arguments)
			out.Write(formatEvent("response.function_call_arguments.delta", map[string]any{
				"type":         "response.function_call_arguments.delta",
				"item_id":      st.itemID,
				"output_index": st.outputIndex,
				"delta":        tc.Function.Arguments,
			}))
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		out.Write(s.finish())
	}

	return out.Bytes()
}

// finish emits the .done events and response.completed exactly once.
func (s *ResponsesStream) finish() []byte {
	if !s.started || s.completed {
		return nil
	}
	s.completed = true

	var out bytes.Buffer
	items := make([]ResponsesOutputItem, s.nextIndex)

	if s.msgOpen {
		out.Write(formatEvent("response.output_text.done", map[string]any{
			"type":          "response.output_text.done",
			"item_id":       s.msgID,
			"output_index":  s.msgIndex,
			"content_index": 0,
			"text":          s.text.String(),
		}))
		out.Write(formatEvent("response.content_part.done", map[string]any{
			"type":          "response.content_part.done",
			"item_id":       s.msgID,
			"output_index":  s.msgIndex,
			"content_index": 0,
			"part":          map[string]any{"type": "output_text", "text": s.text.String()},
		}))

		msg := ResponsesOutputItem{
			Type:   "message",
			ID:     s.msgID,
			Status: "completed",
			Role:   "assistant",
			Content: []ResponsesOutputPart{
				{Type: "output_text", Text: s.text.String()},
			},
		}
		out.Write(formatEvent("response.output_item.done", map[string]any{
			"type":         "response.output_item.done",
			"output_index": s.msgIndex,
			"item":         msg,
		}))
		items[s.msgIndex] = msg
	}

	for _, tcIndex := range s.toolOrder {
		st := s.tools[tcIndex]
		item := ResponsesOutputItem{
			Type:      "function_call",
			ID:        st.itemID,
			Status:    "completed",
			CallID:    st.callID,
			Name:      st.name,
			Arguments: st.args.String(),
		}
		out.Write(formatEvent("response.output_item.done", map[string]any{
			"type":         "response.output_item.done",
			"output_index": st.outputIndex,
			"item":         item,
		}))
		items[st.outputIndex] = item
	}

	usage := &ResponsesUsage{OutputTokens: s.outputTokens, TotalTokens: s.outputTokens}
	if s.usage != nil {
		usage = &ResponsesUsage{
			InputTokens:  s.usage.PromptTokens,
			OutputTokens: s.usage.CompletionTokens,
			TotalTokens:  s.usage.PromptTokens + s.usage.CompletionTokens,
		}
	}

	out.Write(formatEvent("response.completed", map[string]any{
		"type": "response.completed",
		"response": ResponsesResponse{
			ID:     s.id,
			Object: "response",
			Status: "completed",
			Model:  s.model,
			Output: items,
			Usage:  usage,
		},
	}))

	return out.Bytes()
}
