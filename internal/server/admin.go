package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/xling-dev/xling/internal/store"
)

// keepaliveInterval paces SSE heartbeats on /proxy/stream.
const keepaliveInterval = 15 * time.Second

// handleRecords returns a snapshot of the record ring, newest first.
func (s *Server) handleRecords(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"records": s.store.Snapshot()})
}

// handleRecordStream streams live record updates as SSE. Heartbeat
// comments keep intermediaries from timing the connection out; the stream
// stays open until the client disconnects or the subscriber is dropped.
func (s *Server) handleRecordStream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ch, cancel := s.store.Subscribe()
	defer cancel()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if err := sse.Encode(c.Writer, sse.Event{Data: rec}); err != nil {
				return
			}
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := c.Writer.WriteString(": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// handleExport bulk-exports records as JSON or HAR, optionally filtered by
// a comma-separated ids parameter.
func (s *Server) handleExport(c *gin.Context) {
	records := s.store.Snapshot()

	if ids := c.Query("ids"); ids != "" {
		want := make(map[string]struct{})
		for _, id := range strings.Split(ids, ",") {
			want[strings.TrimSpace(id)] = struct{}{}
		}
		filtered := records[:0]
		for _, rec := range records {
			if _, ok := want[rec.ID]; ok {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	switch c.DefaultQuery("format", "json") {
	case "json":
		c.JSON(http.StatusOK, gin.H{"records": records})
	case "har":
		c.Header("Content-Disposition", `attachment; filename="xling-records.har"`)
		c.JSON(http.StatusOK, buildHAR(records))
	default:
		writeError(c, http.StatusBadRequest, "invalid_request_error", "format must be json or har")
	}
}

// analyzeRequest is the /proxy/analyze input.
type analyzeRequest struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

const defaultAnalyzePrompt = "Analyze this proxied API exchange. Explain what the request did, " +
	"whether it succeeded, and the likely cause of any error."

// handleAnalyze runs the injected completion function over a record's
// sanitized summary and streams the output as SSE.
func (s *Server) handleAnalyze(c *gin.Context) {
	if s.complete == nil {
		writeError(c, http.StatusServiceUnavailable, "api_error", "no completion backend configured")
		return
	}

	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "invalid analyze request: "+err.Error())
		return
	}

	rec, ok := s.store.Get(req.ID)
	if !ok {
		writeError(c, http.StatusNotFound, "invalid_request_error", "unknown record id: "+req.ID)
		return
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultAnalyzePrompt
	}
	model := req.Model
	if model == "" {
		model = s.live.Current().DefaultModel
	}

	// Records are redacted on entry, so the summary is safe to hand to an
	// external model.
	summary, err := json.MarshalIndent(recordSummary(rec), "", "  ")
	if err != nil {
		writeError(c, http.StatusInternalServerError, "api_error", "serializing record: "+err.Error())
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	stream, err := s.complete(c.Request.Context(), prompt+"\n\n"+string(summary), model)
	if err != nil {
		sse.Encode(c.Writer, sse.Event{Data: gin.H{"error": err.Error()}})
		c.Writer.Flush()
		return
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case text, ok := <-stream:
			if !ok {
				return
			}
			if err := sse.Encode(c.Writer, sse.Event{Data: gin.H{"text": text}}); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// recordSummary trims a record to the fields worth analyzing.
func recordSummary(rec store.Record) map[string]any {
	out := map[string]any{
		"method":     rec.Method,
		"path":       rec.Path,
		"model":      rec.Model,
		"provider":   rec.Provider,
		"streaming":  rec.Streaming,
		"status":     rec.Status,
		"durationMs": rec.DurationMs,
		"retryCount": rec.RetryCount,
	}
	if rec.ErrorType != "" {
		out["errorType"] = rec.ErrorType
		out["errorMessage"] = rec.ErrorMessage
	}
	if rec.UpstreamStatus != 0 {
		out["upstreamStatus"] = rec.UpstreamStatus
	}
	if rec.Request != nil {
		out["requestBody"] = rec.Request.BodyPreview
	}
	if rec.Response != nil {
		out["responseBody"] = rec.Response.BodyPreview
	}
	return out
}
