package dialect

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponsesToChatStringInput(t *testing.T) {
	maxOut := 128
	req := &ResponsesRequest{
		Model:           "gpt-4o",
		Input:           json.RawMessage(`"hello"`),
		Instructions:    "Answer briefly.",
		MaxOutputTokens: &maxOut,
	}

	out, err := ResponsesToChat(req)
	require.NoError(t, err)

	require.Len(t, out.Messages, 2)
	require.Equal(t, "system", out.Messages[0].Role)
	require.Equal(t, "Answer briefly.", out.Messages[0].Content)
	require.Equal(t, "user", out.Messages[1].Role)
	require.Equal(t, "hello", out.Messages[1].Content)

	require.NotNil(t, out.MaxTokens)
	require.Equal(t, 128, *out.MaxTokens)
}

func TestResponsesToChatItemArray(t *testing.T) {
	req := &ResponsesRequest{
		Model: "gpt-4o",
		Input: json.RawMessage(`[
			{"type":"message","role":"developer","content":"be safe"},
			{"type":"message","role":"user","content":"what's the weather?"},
			{"type":"function_call","call_id":"call_1","name":"get_weather","arguments":"{\"city\":\"Paris\"}"},
			{"type":"function_call_output","call_id":"call_1","output":"sunny"},
			{"type":"message","role":"user","content":"thanks"}
		]`),
	}

	out, err := ResponsesToChat(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 5)

	require.Equal(t, "system", out.Messages[0].Role, "developer maps to system")
	require.Equal(t, "user", out.Messages[1].Role)

	assistant := out.Messages[2]
	require.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)
	require.Equal(t, "call_1", assistant.ToolCalls[0].ID)
	require.Equal(t, "get_weather", assistant.ToolCalls[0].Function.Name)

	toolMsg := out.Messages[3]
	require.Equal(t, "tool", toolMsg.Role)
	require.Equal(t, "call_1", toolMsg.ToolCallID)
	require.Equal(t, "sunny", toolMsg.Content)

	require.Equal(t, "thanks", out.Messages[4].Content)
}

// A trailing function_call with no output still flushes as an assistant
// tool_calls message.
func TestResponsesToChatDanglingFunctionCall(t *testing.T) {
	req := &ResponsesRequest{
		Model: "gpt-4o",
		Input: json.RawMessage(`[
			{"type":"message","role":"user","content":"go"},
			{"type":"function_call","call_id":"call_9","name":"fn","arguments":"{}"}
		]`),
	}

	out, err := ResponsesToChat(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	require.Equal(t, "assistant", out.Messages[1].Role)
	require.Len(t, out.Messages[1].ToolCalls, 1)
}

func TestResponsesToChatContentParts(t *testing.T) {
	req := &ResponsesRequest{
		Model: "gpt-4o",
		Input: json.RawMessage(`[
			{"type":"message","role":"user","content":[
				{"type":"input_text","text":"what is this?"},
				{"type":"input_image","image_url":"data:image/png;base64,aWE="}
			]}
		]`),
	}

	out, err := ResponsesToChat(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)

	parts, ok := out.Messages[0].Content.([]ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	require.Equal(t, "text", parts[0].Type)
	require.Equal(t, "what is this?", parts[0].Text)
	require.Equal(t, "image_url", parts[1].Type)
	require.Equal(t, "data:image/png;base64,aWE=", parts[1].ImageURL.URL)
}

func TestResponsesToChatTools(t *testing.T) {
	req := &ResponsesRequest{
		Model: "gpt-4o",
		Input: json.RawMessage(`"hi"`),
		Tools: []json.RawMessage{
			json.RawMessage(`{"type":"function","function":{"name":"nested_fn","parameters":{"type":"object"}}}`),
			json.RawMessage(`{"type":"function","name":"flat_fn","description":"flat shape"}`),
			json.RawMessage(`{"type":"web_search"}`),
		},
	}

	out, err := ResponsesToChat(req)
	require.NoError(t, err)
	require.Len(t, out.Tools, 2, "non-function tools are dropped")
	require.Equal(t, "nested_fn", out.Tools[0].Function.Name)
	require.Equal(t, "flat_fn", out.Tools[1].Function.Name)
	require.Equal(t, "flat shape", out.Tools[1].Function.Description)
}

func TestChatToResponsesResponse(t *testing.T) {
	raw := []byte(`{
		"id": "chatcmpl-1",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"content": "Sunny in Paris.",
				"tool_calls": [{
					"id": "call_1",
					"type": "function",
					"function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}
				}]
			},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`)

	out, err := ChatToResponsesResponse(raw, "gpt-4o")
	require.NoError(t, err)

	var resp ResponsesResponse
	require.NoError(t, json.Unmarshal(out, &resp))

	require.Equal(t, "resp_chatcmpl-1", resp.ID)
	require.Equal(t, "response", resp.Object)
	require.Equal(t, "completed", resp.Status)
	require.Equal(t, "gpt-4o", resp.Model)
	require.Len(t, resp.Output, 2)

	call := resp.Output[0]
	require.Equal(t, "function_call", call.Type)
	require.Equal(t, "call_1", call.CallID)
	require.Equal(t, "get_weather", call.Name)
	require.JSONEq(t, `{"city":"Paris"}`, call.Arguments)

	msg := resp.Output[1]
	require.Equal(t, "message", msg.Type)
	require.Equal(t, "assistant", msg.Role)
	require.Len(t, msg.Content, 1)
	require.Equal(t, "output_text", msg.Content[0].Type)
	require.Equal(t, "Sunny in Paris.", msg.Content[0].Text)

	require.NotNil(t, resp.Usage)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 5, resp.Usage.OutputTokens)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestChatToResponsesResponseEmptyChoice(t *testing.T) {
	raw := []byte(`{"id":"chatcmpl-2","choices":[]}`)

	out, err := ChatToResponsesResponse(raw, "gpt-4o")
	require.NoError(t, err)

	var resp ResponsesResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Len(t, resp.Output, 1, "an empty choice still yields a message item")
	require.Equal(t, "message", resp.Output[0].Type)
}
