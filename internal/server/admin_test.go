package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xling-dev/xling/internal/config"
	"github.com/xling-dev/xling/internal/store"
)

func seedRecords(g *testGateway) {
	g.store.Start("rec-1", "POST", "/v1/messages", http.Header{"Authorization": {"Bearer sk-secret"}}, []byte(`{"model":"claude"}`))
	g.store.Finalize("rec-1", func(r *store.Record) {
		r.Status = 200
		r.Model = "claude-sonnet"
		r.Provider = "primary"
	})

	g.store.Start("rec-2", "POST", "/v1/chat/completions", nil, []byte(`{"model":"gpt-4o"}`))
	g.store.Finalize("rec-2", func(r *store.Record) {
		r.Status = 502
		r.ErrorType = "upstream"
		r.ErrorMessage = "bad gateway"
	})
}

func TestRecordsEndpoint(t *testing.T) {
	g := newTestGateway(t, singleProviderConfig("http://127.0.0.1:1"))
	seedRecords(g)

	w := g.do(httptest.NewRequest(http.MethodGet, "/proxy/records", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Records []store.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Records, 2)
	require.Equal(t, "rec-2", body.Records[0].ID, "newest first")
	require.Equal(t, "[redacted]", body.Records[1].Request.Headers["Authorization"])
}

func TestExportJSONFiltered(t *testing.T) {
	g := newTestGateway(t, singleProviderConfig("http://127.0.0.1:1"))
	seedRecords(g)

	w := g.do(httptest.NewRequest(http.MethodGet, "/proxy/export?format=json&ids=rec-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Records []store.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Records, 1)
	require.Equal(t, "rec-1", body.Records[0].ID)
}

func TestExportHAR(t *testing.T) {
	g := newTestGateway(t, singleProviderConfig("http://127.0.0.1:1"))
	seedRecords(g)

	w := g.do(httptest.NewRequest(http.MethodGet, "/proxy/export?format=har", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))

	log := doc["log"].(map[string]any)
	require.Equal(t, "1.2", log["version"])

	entries := log["entries"].([]any)
	require.Len(t, entries, 2)

	first := entries[0].(map[string]any)
	ext := first["_xling"].(map[string]any)
	require.Contains(t, ext, "retryCount")

	// rec-1 is the second (older) entry; its extension carries the model.
	second := entries[1].(map[string]any)
	require.Equal(t, "claude-sonnet", second["_xling"].(map[string]any)["model"])
	require.Equal(t, "primary", second["_xling"].(map[string]any)["provider"])
}

func TestExportBadFormat(t *testing.T) {
	g := newTestGateway(t, singleProviderConfig("http://127.0.0.1:1"))
	w := g.do(httptest.NewRequest(http.MethodGet, "/proxy/export?format=xml", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeStreams(t *testing.T) {
	completion := func(ctx context.Context, prompt, model string) (<-chan string, error) {
		require.Contains(t, prompt, "claude-sonnet", "summary must reach the completion function")
		ch := make(chan string, 2)
		ch <- "The request "
		ch <- "succeeded."
		close(ch)
		return ch, nil
	}

	g := newTestGateway(t, singleProviderConfig("http://127.0.0.1:1"), WithCompletionFunc(completion))
	seedRecords(g)

	req := httptest.NewRequest(http.MethodPost, "/proxy/analyze", strings.NewReader(`{"id":"rec-1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := g.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	out := w.Body.String()
	require.Contains(t, out, `"text":"The request "`)
	require.Contains(t, out, `"text":"succeeded."`)
}

func TestAnalyzeUnknownRecord(t *testing.T) {
	completion := func(ctx context.Context, prompt, model string) (<-chan string, error) {
		t.Fatal("completion must not run for unknown records")
		return nil, nil
	}
	g := newTestGateway(t, singleProviderConfig("http://127.0.0.1:1"), WithCompletionFunc(completion))

	req := httptest.NewRequest(http.MethodPost, "/proxy/analyze", strings.NewReader(`{"id":"missing"}`))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusNotFound, g.do(req).Code)
}

func TestAnalyzeWithoutBackend(t *testing.T) {
	g := newTestGateway(t, singleProviderConfig("http://127.0.0.1:1"))
	seedRecords(g)

	req := httptest.NewRequest(http.MethodPost, "/proxy/analyze", strings.NewReader(`{"id":"rec-1"}`))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusServiceUnavailable, g.do(req).Code)
}

func TestStatsEndpoint(t *testing.T) {
	g := newTestGateway(t, singleProviderConfig("http://127.0.0.1:1"))

	w := g.do(httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		LoadBalance string `json:"loadBalance"`
		Providers   []struct {
			Name string `json:"name"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, config.StrategyFailover, body.LoadBalance)
	require.Len(t, body.Providers, 1)
	require.Equal(t, "primary", body.Providers[0].Name)
}
