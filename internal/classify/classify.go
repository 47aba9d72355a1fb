// Package classify maps upstream failures to a retry/rotate decision.
// Transport errors, HTTP status codes and decoded error bodies all collapse
// into a single UpstreamError carrying the policy flags the gateway acts on.
package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the closed set of error categories the gateway distinguishes.
type Kind string

const (
	KindRateLimit      Kind = "rate_limit"
	KindAuthFailure    Kind = "auth_failure"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindTimeout        Kind = "timeout"
	KindNetwork        Kind = "network"
	KindUpstream       Kind = "upstream"
	KindInvalidRequest Kind = "invalid_request"
	KindUnknown        Kind = "unknown"
)

// UpstreamError is a classified upstream failure.
type UpstreamError struct {
	// Kind categorizes the failure.
	Kind Kind

	// Status is the upstream HTTP status code, 0 for transport errors.
	Status int

	// Message is a human-readable description, extracted from the error
	// body when one was decodable.
	Message string

	// Retryable indicates the request may succeed on another attempt.
	Retryable bool

	// RotateKey indicates the current API key should be cooled down and
	// the next key tried.
	RotateKey bool
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream error [%d] %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("upstream error %s: %s", e.Kind, e.Message)
}

// timeout/network substrings observed in transport error messages across
// Go's net stack and common client libraries.
var (
	timeoutMarkers = []string{"timeout", "timed out", "etimedout"}
	networkMarkers = []string{"econnrefused", "enotfound", "network", "socket", "fetch failed"}
)

// FromTransport classifies an error returned before any HTTP response
// arrived (dial failures, timeouts, broken pipes).
func FromTransport(err error) *UpstreamError {
	msg := strings.ToLower(err.Error())

	for _, m := range timeoutMarkers {
		if strings.Contains(msg, m) {
			return &UpstreamError{
				Kind:      KindTimeout,
				Message:   err.Error(),
				Retryable: true,
			}
		}
	}

	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return &UpstreamError{
				Kind:      KindNetwork,
				Message:   err.Error(),
				Retryable: true,
			}
		}
	}

	return &UpstreamError{
		Kind:      KindUnknown,
		Message:   err.Error(),
		Retryable: true,
	}
}

// FromResponse classifies a non-2xx upstream HTTP response.
// The body, if decodable in any of the common provider error shapes,
// contributes the message; the status code decides the policy.
func FromResponse(status int, body []byte) *UpstreamError {
	msg := extractMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("upstream returned status %d", status)
	}

	ue := &UpstreamError{Status: status, Message: msg}

	switch {
	case status == 401 || status == 403:
		ue.Kind = KindAuthFailure
		ue.RotateKey = true
	case status == 429:
		ue.Kind = KindRateLimit
		ue.Retryable = true
		ue.RotateKey = true
	case status == 402:
		ue.Kind = KindQuotaExceeded
		ue.RotateKey = true
	case status == 400 || status == 404:
		ue.Kind = KindInvalidRequest
	case status >= 500:
		ue.Kind = KindUpstream
		ue.Retryable = true
	default:
		ue.Kind = KindInvalidRequest
	}

	return ue
}

// Classify is the combined entry point: a transport error takes precedence,
// otherwise the HTTP status and body decide.
func Classify(status int, body []byte, transportErr error) *UpstreamError {
	if transportErr != nil {
		return FromTransport(transportErr)
	}
	return FromResponse(status, body)
}

// errorEnvelope covers the two nested provider error shapes:
// {error:{message,code|type}} and {type:"error",error:{message,type}}.
type errorEnvelope struct {
	Type  string       `json:"type"`
	Error *errorDetail `json:"error"`
}

// flatError covers the flat {message,code?} shape.
type flatError struct {
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code"`
}

type errorDetail struct {
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code"`
	Type    string          `json:"type"`
}

// extractMessage pulls a human-readable message out of an upstream error
// body. Shapes are tried in order; an undecodable body yields "".
func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}

	var flat flatError
	if err := json.Unmarshal(body, &flat); err == nil && flat.Message != "" {
		return flat.Message
	}

	var bare string
	if err := json.Unmarshal(body, &bare); err == nil && bare != "" {
		return bare
	}

	return ""
}
