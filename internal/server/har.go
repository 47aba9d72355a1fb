package server

import (
	"time"

	"github.com/xling-dev/xling/internal/store"
)

// HAR export types, restricted to the fields the record store captures.

type harDocument struct {
	Log harLog `json:"log"`
}

type harLog struct {
	Version string     `json:"version"`
	Creator harCreator `json:"creator"`
	Entries []harEntry `json:"entries"`
}

type harCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type harEntry struct {
	StartedDateTime time.Time     `json:"startedDateTime"`
	Time            int64         `json:"time"`
	Request         harRequest    `json:"request"`
	Response        harResponse   `json:"response"`
	Xling           harXlingBlock `json:"_xling"`
}

type harRequest struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []harHeader `json:"headers"`
	PostData    *harContent `json:"postData,omitempty"`
	BodySize    int         `json:"bodySize"`
}

type harResponse struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []harHeader `json:"headers"`
	Content     harContent  `json:"content"`
	BodySize    int         `json:"bodySize"`
}

type harHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harContent struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Size     int    `json:"size"`
}

// harXlingBlock is the vendor extension carrying gateway-specific fields a
// standard HAR entry has no place for.
type harXlingBlock struct {
	Model              string `json:"model,omitempty"`
	Provider           string `json:"provider,omitempty"`
	Streaming          bool   `json:"streaming"`
	RetryCount         int    `json:"retryCount"`
	UpstreamStatus     int    `json:"upstreamStatus,omitempty"`
	UpstreamDurationMs int64  `json:"upstreamDurationMs,omitempty"`
	ErrorType          string `json:"errorType,omitempty"`
	RequestTruncated   bool   `json:"requestTruncated"`
	ResponseTruncated  bool   `json:"responseTruncated"`
}

// buildHAR maps records onto HAR 1.2 entries. Headers come pre-redacted
// from the store.
func buildHAR(records []store.Record) harDocument {
	entries := make([]harEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, harEntryFrom(rec))
	}
	return harDocument{
		Log: harLog{
			Version: "1.2",
			Creator: harCreator{Name: "xling", Version: "1.0.0"},
			Entries: entries,
		},
	}
}

func harEntryFrom(rec store.Record) harEntry {
	entry := harEntry{
		StartedDateTime: rec.StartedAt,
		Time:            rec.DurationMs,
		Request: harRequest{
			Method:      rec.Method,
			URL:         rec.Path,
			HTTPVersion: "HTTP/1.1",
			Headers:     []harHeader{},
		},
		Response: harResponse{
			Status:      rec.Status,
			HTTPVersion: "HTTP/1.1",
			Headers:     []harHeader{},
			Content:     harContent{MimeType: "application/json"},
		},
		Xling: harXlingBlock{
			Model:              rec.Model,
			Provider:           rec.Provider,
			Streaming:          rec.Streaming,
			RetryCount:         rec.RetryCount,
			UpstreamStatus:     rec.UpstreamStatus,
			UpstreamDurationMs: rec.UpstreamDurationMs,
			ErrorType:          rec.ErrorType,
		},
	}

	if slot := rec.Request; slot != nil {
		entry.Request.Headers = harHeaders(slot.Headers)
		entry.Request.BodySize = slot.Size
		if slot.BodyPreview != "" {
			entry.Request.PostData = &harContent{
				MimeType: "application/json",
				Text:     slot.BodyPreview,
				Size:     slot.Size,
			}
		}
		entry.Xling.RequestTruncated = slot.Truncated
	}

	if slot := rec.Response; slot != nil {
		entry.Response.Headers = harHeaders(slot.Headers)
		entry.Response.BodySize = slot.Size
		entry.Response.Content.Text = slot.BodyPreview
		entry.Response.Content.Size = slot.Size
		entry.Xling.ResponseTruncated = slot.Truncated
	}

	return entry
}

func harHeaders(h map[string]string) []harHeader {
	out := make([]harHeader, 0, len(h))
	for name, value := range h {
		out = append(out, harHeader{Name: name, Value: value})
	}
	return out
}
