package dialect

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want Kind
	}{
		{
			name: "plain chat request",
			body: map[string]any{"model": "gpt-4o", "messages": []any{}},
			want: KindOpenAI,
		},
		{
			name: "responses input field",
			body: map[string]any{"model": "gpt-4o", "input": "hi"},
			want: KindResponses,
		},
		{
			name: "responses instructions field",
			body: map[string]any{"model": "gpt-4o", "instructions": "be brief"},
			want: KindResponses,
		},
		{
			name: "responses previous_response_id",
			body: map[string]any{"model": "gpt-4o", "previous_response_id": "resp_1"},
			want: KindResponses,
		},
		{
			name: "anthropic system field",
			body: map[string]any{"model": "claude-3-5-sonnet", "system": "x", "messages": []any{}},
			want: KindAnthropic,
		},
		{
			name: "anthropic stop_sequences",
			body: map[string]any{"model": "claude-3-5-sonnet", "stop_sequences": []any{"END"}},
			want: KindAnthropic,
		},
		{
			name: "anthropic top_k",
			body: map[string]any{"model": "claude-3-5-sonnet", "top_k": 5},
			want: KindAnthropic,
		},
		{
			name: "responses markers win over anthropic markers",
			body: map[string]any{"input": "hi", "system": "x"},
			want: KindResponses,
		},
		{
			name: "empty body",
			body: map[string]any{},
			want: KindOpenAI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.body); got != tt.want {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		kind        Kind
		passthrough bool
		want        string
	}{
		{"claude prefix stripped", "/claude/v1/messages", KindAnthropic, false, "/v1/chat/completions"},
		{"openai prefix stripped", "/openai/v1/chat/completions", KindOpenAI, false, "/v1/chat/completions"},
		{"doubled v1 collapsed", "/v1/v1/messages", KindAnthropic, false, "/v1/chat/completions"},
		{"bare messages", "/messages", KindAnthropic, false, "/v1/chat/completions"},
		{"responses translated", "/v1/responses", KindResponses, false, "/v1/chat/completions"},
		{"responses passthrough", "/v1/responses", KindResponses, true, "/v1/responses"},
		{"bare chat completions", "/chat/completions", KindOpenAI, false, "/v1/chat/completions"},
		{"chat completions untouched", "/v1/chat/completions", KindOpenAI, false, "/v1/chat/completions"},
		{"unknown path untouched", "/v1/embeddings", KindOpenAI, false, "/v1/embeddings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.path, tt.kind, tt.passthrough); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatchesPassthrough(t *testing.T) {
	patterns := []string{"gpt-5-codex", "o3*"}

	tests := []struct {
		model string
		want  bool
	}{
		{"gpt-5-codex", true},
		{"gpt-5-codex-mini", false},
		{"o3", true},
		{"o3-mini", true},
		{"gpt-4o", false},
	}

	for _, tt := range tests {
		if got := MatchesPassthrough(tt.model, patterns); got != tt.want {
			t.Errorf("MatchesPassthrough(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}

	if MatchesPassthrough("anything", nil) {
		t.Error("MatchesPassthrough with no patterns should be false")
	}
}
