// Package store keeps a bounded, in-memory ring of proxy request records
// and fans live updates out to subscribers. Records are redacted before
// they are stored; nothing here ever persists to disk.
package store

import (
	"net/http"
	"strings"
	"time"
)

// Record is the audit entry for one client request. It is mutated only
// through the store's update operations; subscribers and snapshot callers
// receive copies.
type Record struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Model     string `json:"model,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Streaming bool   `json:"streaming"`

	Status             int   `json:"status,omitempty"`
	DurationMs         int64 `json:"durationMs,omitempty"`
	UpstreamStatus     int   `json:"upstreamStatus,omitempty"`
	UpstreamDurationMs int64 `json:"upstreamDurationMs,omitempty"`
	RetryCount         int   `json:"retryCount"`

	ErrorType    string `json:"errorType,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	Request  *Capture `json:"request,omitempty"`
	Upstream *Capture `json:"upstream,omitempty"`
	Response *Capture `json:"response,omitempty"`
}

// Capture holds the redacted headers and size-bounded body preview of one
// message in the exchange.
type Capture struct {
	Headers     map[string]string `json:"headers,omitempty"`
	BodyPreview string            `json:"bodyPreview,omitempty"`
	Truncated   bool              `json:"truncated,omitempty"`
	Size        int               `json:"size"`
}

// redactedHeaders is the lower-cased set of header names whose values are
// replaced before a record is stored.
var redactedHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-claude-api-key":    {},
	"x-anthropic-api-key": {},
	"api-key":             {},
	"cookie":              {},
}

// RedactHeaders flattens an http.Header into a map with secret-bearing
// values replaced by "[redacted]".
func RedactHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		if _, secret := redactedHeaders[strings.ToLower(name)]; secret {
			out[name] = "[redacted]"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}
