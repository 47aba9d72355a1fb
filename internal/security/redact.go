// Package security keeps provider credentials out of logs and API output.
package security

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Redacted replaces secret material wherever it is scrubbed.
const Redacted = "[redacted]"

// keyPatterns match common API key shapes in free-form text.
var keyPatterns = []*regexp.Regexp{
	// Anthropic keys before the generic sk- pattern, which would otherwise
	// swallow the sk-ant- prefix.
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	// Google AI keys.
	regexp.MustCompile(`AIza[a-zA-Z0-9_-]{30,}`),
	// Bearer tokens embedded in header dumps.
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]{20,}`),
	// key=… query parameters.
	regexp.MustCompile(`key=[a-zA-Z0-9_-]{20,}`),
}

// Redact scrubs API key material from a string.
func Redact(s string) string {
	for _, p := range keyPatterns {
		s = p.ReplaceAllString(s, Redacted)
	}
	return s
}

// MaskKey renders a key for display: first four and last four characters
// with the middle elided. Keys too short to mask safely are fully hidden.
func MaskKey(key string) string {
	if len(key) < 12 {
		return "****"
	}
	return key[:4] + "…" + key[len(key)-4:]
}

// sensitiveKeyParts flag attribute names whose values are never logged.
var sensitiveKeyParts = []string{
	"authorization",
	"api_key",
	"apikey",
	"api-key",
	"access_key",
	"secret",
	"password",
	"token",
	"cookie",
}

func sensitiveKey(name string) bool {
	name = strings.ToLower(name)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(name, part) {
			return true
		}
	}
	return false
}

// RedactingHandler wraps an slog.Handler and scrubs key material from
// every record before it is written.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps inner with credential scrubbing.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

// Enabled reports whether the wrapped handler handles the given level.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle scrubs the message and attributes, then delegates.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, Redact(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

// WithAttrs returns a handler with the given attributes added, scrubbed.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(scrubbed)}
}

// WithGroup returns a handler with the given group name.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if sensitiveKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, Redact(a.Value.String()))
	}
	return a
}
