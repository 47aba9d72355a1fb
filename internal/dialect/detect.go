// Package dialect detects the wire dialect of a client request and
// translates between the supported shapes.
package dialect

import "strings"

// Kind identifies a client request dialect.
type Kind string

const (
	// KindOpenAI is OpenAI Chat Completions, the upstream wire format.
	KindOpenAI Kind = "openai"

	// KindAnthropic is Anthropic Messages v1.
	KindAnthropic Kind = "anthropic"

	// KindResponses is the OpenAI Responses API.
	KindResponses Kind = "responses"
)

// Detect inspects a decoded request body and returns its dialect.
// Responses API markers win, then Anthropic markers; everything else is
// treated as Chat Completions.
func Detect(body map[string]any) Kind {
	for _, f := range []string{"input", "instructions", "previous_response_id"} {
		if _, ok := body[f]; ok {
			return KindResponses
		}
	}

	for _, f := range []string{"system", "stop_sequences", "top_k"} {
		if _, ok := body[f]; ok {
			return KindAnthropic
		}
	}

	return KindOpenAI
}

// NormalizePath rewrites a client path to the upstream path.
// The /claude/ and /openai/ client prefixes are stripped, a doubled /v1 is
// collapsed, and dialect-translated endpoints become /v1/chat/completions.
// Pass-through Responses requests keep /v1/responses.
func NormalizePath(path string, kind Kind, passthrough bool) string {
	path = strings.TrimPrefix(path, "/claude")
	path = strings.TrimPrefix(path, "/openai")

	if strings.HasPrefix(path, "/v1/v1/") {
		path = strings.TrimPrefix(path, "/v1")
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	switch path {
	case "/v1/messages", "/messages":
		if kind == KindAnthropic || kind == KindOpenAI {
			return "/v1/chat/completions"
		}
	case "/v1/responses", "/responses":
		if passthrough {
			return "/v1/responses"
		}
		return "/v1/chat/completions"
	case "/chat/completions":
		return "/v1/chat/completions"
	}

	return path
}

// MatchesPassthrough reports whether the model matches any configured
// pass-through pattern (exact name or "prefix*").
func MatchesPassthrough(model string, patterns []string) bool {
	for _, pat := range patterns {
		if strings.HasSuffix(pat, "*") {
			if strings.HasPrefix(model, strings.TrimSuffix(pat, "*")) {
				return true
			}
		} else if model == pat {
			return true
		}
	}
	return false
}
