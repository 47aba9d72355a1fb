// Package dialect detects the wire dialect of a client request and
// translates between the supported shapes.
package dialect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// AnthropicStream rewrites an OpenAI Chat Completions SSE stream into
// Anthropic Messages events. State is per-request; feed upstream bytes in
// arrival order and write the returned bytes to the client.
//
// The emitted event sequence for any underlying stream is independent of
// how the bytes were chunked: partial lines are buffered and replayed once
// complete.
type AnthropicStream struct {
	buf   LineBuffer
	model string

	started  bool
	finished bool
	stopped  bool

	textOpen bool
	index    int

	outputTokens int

	toolOrder []int
	tools     map[int]*streamToolAcc
}

// streamToolAcc accumulates one tool call across delta fragments.
type streamToolAcc struct {
	id   string
	name string
	args bytes.Buffer
}

// NewAnthropicStream creates a stream transformer. The model is echoed in
// the message_start event, matching what the client requested.
func NewAnthropicStream(model string) *AnthropicStream {
	return &AnthropicStream{
		model: model,
		tools: make(map[int]*streamToolAcc),
	}
}

// Transform consumes a chunk of upstream SSE bytes and returns the
// Anthropic SSE bytes to forward. Malformed data payloads are skipped.
func (s *AnthropicStream) Transform(p []byte) []byte {
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
func (s *AnthropicStream) Close() []byte {
	return s.finish()
}

// consume applies one decoded OpenAI chunk to the state machine.
func (s *AnthropicStream) consume(chunk *ChatStreamChunk) []byte {
	var out bytes.Buffer

	if !s.started {
		s.started = true
		out.Write(formatEvent("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            fmt.Sprintf("msg_%d", time.Now().UnixMilli()),
				"type":          "message",
				"role":          "assistant",
				"content":       []any{},
				"model":         s.model,
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
			},
		}))
	}

	if len(chunk.Choices) == 0 {
		return out.Bytes()
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if !s.textOpen {
			s.textOpen = true
			out.Write(formatEvent("content_block_start", map[string]any{
				"type":          "content_block_start",
				"index":         s.index,
				"content_block": map[string]any{"type": "text", "text": ""},
			}))
		}
		out.Write(formatEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": s.index,
			"delta": map[string]any{"type": "text_delta", "text": choice.Delta.Content},
		}))
		s.outputTokens += (len(choice.Delta.Content) + 3) / 4
	}

	if len(choice.Delta.ToolCalls) > 0 {
		if s.textOpen {
			out.Write(s.closeTextBlock())
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := s.tools[tc.Index]
			if !ok {
				acc = &streamToolAcc{}
				s.tools[tc.Index] = acc
				s.toolOrder = append(s.toolOrder, tc.Index)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		if s.textOpen {
			out.Write(s.closeTextBlock())
		}
		out.Write(s.flushTools())
		out.Write(formatEvent("message_delta", map[string]any{
			"type": "message_delta",
			"delta": map[string]any{
				"stop_reason":   stopReasonFromFinish(*choice.FinishReason),
				"stop_sequence": nil,
			},
			"usage": map[string]int{"output_tokens": s.outputTokens},
		}))
		s.finished = true
	}

	return out.Bytes()
}

// closeTextBlock emits content_block_stop for the open text block and
// advances the block index.
func (s *AnthropicStream) closeTextBlock() []byte {
	s.textOpen = false
	out := formatEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": s.index,
	})
	s.index++
	return out
}

// flushTools emits the accumulated tool calls as complete tool_use blocks.
// Idempotent: the accumulator is drained on first flush.
func (s *AnthropicStream) flushTools() []byte {
	var out bytes.Buffer

	for _, tcIndex := range s.toolOrder {
		acc := s.tools[tcIndex]

		out.Write(formatEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": s.index,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    acc.id,
				"name":  acc.name,
				"input": map[string]any{},
			},
		}))

		args := acc.args.String()
		var parsed any
		partial := args
		if err := json.Unmarshal([]byte(args), &parsed); err != nil {
			b, _ := json.Marshal(map[string]any{"raw": args})
			partial = string(b)
		} else if b, err := json.Marshal(parsed); err == nil {
			partial = string(b)
		}

		out.Write(formatEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": s.index,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": partial},
		}))
		out.Write(formatEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": s.index,
		}))
		s.index++
	}

	s.toolOrder = nil
	s.tools = make(map[int]*streamToolAcc)

	return out.Bytes()
}

// finish flushes anything pending and emits message_stop exactly once.
func (s *AnthropicStream) finish() []byte {
	if !s.started || s.stopped {
		return nil
	}

	var out bytes.Buffer
	if s.textOpen {
		out.Write(s.closeTextBlock())
	}
	out.Write(s.flushTools())
	out.Write(formatEvent("message_stop", map[string]any{"type": "message_stop"}))
	s.stopped = true

	return out.Bytes()
}
