// Package dialect detects the wire dialect of a client request and
// translates requests, responses and SSE streams between the three
// supported shapes: OpenAI Chat Completions, Anthropic Messages and the
// OpenAI Responses API.
package dialect

import "encoding/json"

// OpenAI Chat Completions types.
// These mirror the OpenAI API shapes; unknown fields on inbound requests
// are preserved only on pass-through paths.

// ChatRequest represents an OpenAI chat completion request.
type ChatRequest struct {
	// Model specifies which model to use.
	Model string `json:"model"`

	// Messages contains the conversation history.
	Messages []ChatMessage `json:"messages"`

	// Temperature controls randomness (0.0-2.0). Optional.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens limits the response length. Optional.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// TopP is the nucleus sampling parameter. Optional.
	TopP *float64 `json:"top_p,omitempty"`

	// Stream enables server-sent events for streaming. Optional.
	Stream bool `json:"stream,omitempty"`

	// Stop sequences to halt generation. Optional.
	Stop []string `json:"stop,omitempty"`

	// Tools lists the functions the model may call. Optional.
	Tools []ChatTool `json:"tools,omitempty"`

	// ToolChoice controls tool selection: "auto", "none", "required" or a
	// {type:"function",function:{name}} object. Optional.
	ToolChoice any `json:"tool_choice,omitempty"`
}

// ChatMessage represents a single message in the conversation.
type ChatMessage struct {
	// Role is one of: "system", "user", "assistant", "tool".
	Role string `json:"role"`

	// Content is either a string or a []ContentPart.
	Content any `json:"content"`

	// ToolCalls carries function calls on assistant messages. Optional.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message to the call it answers. Optional.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ContentPart is one element of a multimodal message content array.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, typically a data: URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall represents a function call made by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatTool declares a callable function.
type ChatTool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function declaration inside a tool.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatResponse represents a non-streaming chat completion response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object,omitempty"`
	Created int64        `json:"created,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatChoice is a single completion choice.
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message inside a choice.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatStreamChunk is one decoded OpenAI SSE data payload.
type ChatStreamChunk struct {
	ID      string         `json:"id,omitempty"`
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// StreamChoice is a single choice delta in a stream chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta is the incremental payload of a stream choice.
type StreamDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []StreamToolCall `json:"tool_calls,omitempty"`
}

// StreamToolCall is an incremental tool call fragment, accumulated by index.
type StreamToolCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// Anthropic Messages types.

// AnthropicRequest represents an Anthropic Messages v1 request.
type AnthropicRequest struct {
	Model string `json:"model"`

	// System is a string, or a list of text blocks from newer clients.
	System json.RawMessage `json:"system,omitempty"`

	Messages []AnthropicMessage `json:"messages"`

	Tools []AnthropicTool `json:"tools,omitempty"`

	// ToolChoice is "auto"/"none"/"any"/"required" or a typed object.
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`

	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Stream        bool     `json:"stream,omitempty"`
}

// AnthropicMessage is a single conversation turn.
type AnthropicMessage struct {
	Role string `json:"role"`

	// Content is either a string or a []AnthropicContentBlock.
	Content json.RawMessage `json:"content"`
}

// AnthropicContentBlock is one block of message content:
// text, image, tool_use or tool_result.
type AnthropicContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *AnthropicImageSource `json:"source,omitempty"`

	// tool_use
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// MarshalJSON emits only the fields meaningful for the block's type, so a
// text block always carries "text" (even when empty) and a tool_use block
// always carries "input" (defaulting to {}).
func (b AnthropicContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case "text":
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{b.Type, b.Text})
	case "tool_use":
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		return json.Marshal(struct {
			Type  string `json:"type"`
			ID    string `json:"id"`
			Name  string `json:"name"`
			Input any    `json:"input"`
		}{b.Type, b.ID, b.Name, input})
	default:
		type alias AnthropicContentBlock
		return json.Marshal(alias(b))
	}
}

// AnthropicImageSource is a base64 image payload.
type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// AnthropicTool declares a tool in Anthropic's schema.
type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// AnthropicResponse is a non-streaming Messages response.
type AnthropicResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Content      []AnthropicContentBlock `json:"content"`
	Model        string                  `json:"model"`
	StopReason   string                  `json:"stop_reason"`
	StopSequence *string                 `json:"stop_sequence"`
	Usage        AnthropicUsage          `json:"usage"`
}

// AnthropicUsage mirrors OpenAI usage in Anthropic naming.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// OpenAI Responses API types.

// ResponsesRequest represents a Responses API request.
type ResponsesRequest struct {
	Model string `json:"model"`

	// Input is a string or an array of input items.
	Input json.RawMessage `json:"input,omitempty"`

	// Instructions prepends a system message.
	Instructions string `json:"instructions,omitempty"`

	PreviousResponseID string `json:"previous_response_id,omitempty"`

	// Tools accepts both the nested and the flat function declaration.
	Tools []json.RawMessage `json:"tools,omitempty"`

	ToolChoice      any      `json:"tool_choice,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	Stream          bool     `json:"stream,omitempty"`
}

// ResponsesItem is one element of a Responses API input array.
type ResponsesItem struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// message
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	// function_call / function_call_output
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// ResponsesContentPart is one part of a Responses message content array.
type ResponsesContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ResponsesResponse is a non-streaming Responses API response.
type ResponsesResponse struct {
	ID     string                `json:"id"`
	Object string                `json:"object"`
	Status string                `json:"status"`
	Model  string                `json:"model,omitempty"`
	Output []ResponsesOutputItem `json:"output"`
	Usage  *ResponsesUsage       `json:"usage,omitempty"`
	Error  *ResponsesError       `json:"error,omitempty"`
}

// ResponsesOutputItem is one output item: a message or a function call.
type ResponsesOutputItem struct {
	Type      string                `json:"type"`
	ID        string                `json:"id,omitempty"`
	Status    string                `json:"status,omitempty"`
	Role      string                `json:"role,omitempty"`
	Content   []ResponsesOutputPart `json:"content,omitempty"`
	CallID    string                `json:"call_id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Arguments string                `json:"arguments,omitempty"`
}

// ResponsesOutputPart is one content part of an output message.
type ResponsesOutputPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponsesUsage is the Responses API usage block.
type ResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ResponsesError is the error object on a failed response.
type ResponsesError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
