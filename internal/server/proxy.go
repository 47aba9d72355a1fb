package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xling-dev/xling/internal/classify"
	"github.com/xling-dev/xling/internal/config"
	"github.com/xling-dev/xling/internal/dialect"
	"github.com/xling-dev/xling/internal/router"
	"github.com/xling-dev/xling/internal/store"
	"github.com/xling-dev/xling/internal/ui"
)

// ctxProvider is the gin context key the proxy sets for the logging
// middleware once a provider has served the request.
const ctxProvider = "xling.provider"

// streamTransformer rewrites upstream SSE bytes into the client dialect.
type streamTransformer interface {
	Transform(p []byte) []byte
	Close() []byte
}

// forwardedHeaders are client headers copied onto the upstream request.
var forwardedHeaders = []string{"Accept", "Accept-Encoding", "X-Request-Id"}

// handleProxy runs the full proxy lifecycle for one client request:
// record start, dialect detection, request conversion, the retry loop and
// response translation.
func (s *Server) handleProxy(c *gin.Context) {
	id := uuid.NewString()

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	s.store.Start(id, c.Request.Method, c.Request.URL.Path, c.Request.Header, raw)

	var bodyMap map[string]any
	if looksLikeJSON(c.GetHeader("Content-Type"), raw) {
		if err := json.Unmarshal(raw, &bodyMap); err != nil {
			writeError(c, http.StatusBadRequest, "invalid_request_error", "request body is not valid JSON")
			s.finalizeError(id, http.StatusBadRequest, "invalid_request", "request body is not valid JSON", 0)
			return
		}
	}

	kind := dialect.Detect(bodyMap)
	requested, _ := bodyMap["model"].(string)
	streaming, _ := bodyMap["stream"].(bool)

	cfg := s.live.Current()
	passthrough := kind == dialect.KindResponses &&
		dialect.MatchesPassthrough(requested, cfg.Proxy.PassthroughResponsesAPI)
	upPath := dialect.NormalizePath(c.Request.URL.Path, kind, passthrough)

	chatReq, convErr := convertRequest(kind, passthrough, raw)
	if convErr != nil {
		writeDialectError(c, kind, http.StatusBadRequest, "invalid_request_error", convErr.Error())
		s.finalizeError(id, http.StatusBadRequest, "invalid_request", convErr.Error(), 0)
		return
	}

	s.store.Update(id, func(r *store.Record) {
		r.Model = requested
		r.Streaming = streaming
	})

	rotation := cfg.Proxy.KeyRotation.RotationEnabled()
	maxAttempts := 1
	if rotation {
		maxAttempts = max(1, len(cfg.Providers)*2)
	}

	var lastStatus int
	var lastBody []byte
	var lastContentType string
	retries := 0

	var prevProvider, prevKey string
	prevKeyIndex := -1

	// Providers that failed without a key rotation are skipped for the
	// rest of this request so failover can move on; rotating errors keep
	// the provider in play with its next key.
	tried := make(map[string]struct{})

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if c.Request.Context().Err() != nil {
			s.finalizeError(id, 0, string(classify.KindNetwork), "client disconnected", retries)
			return
		}

		// Hot reloads take effect between attempts.
		cfg = s.live.Current()
		if len(cfg.Providers) == 0 {
			writeDialectError(c, kind, http.StatusServiceUnavailable, "api_error", "no providers configured")
			s.finalizeError(id, http.StatusServiceUnavailable, "upstream", "no providers configured", retries)
			return
		}

		mapped := router.MapModel(requested, cfg.Proxy.ModelMapping, cfg.DefaultModel, cfg.Providers)
		effective, candidates := router.Candidates(mapped, cfg)

		if len(tried) > 0 {
			fresh := make([]*config.Provider, 0, len(candidates))
			for _, p := range candidates {
				if _, seen := tried[p.Name]; !seen {
					fresh = append(fresh, p)
				}
			}
			if len(fresh) > 0 {
				candidates = fresh
			}
		}

		provider, err := s.balancer.SelectProvider(candidates, cfg.Proxy.LoadBalance)
		if err != nil {
			writeDialectError(c, kind, http.StatusServiceUnavailable, "api_error", "no providers available")
			s.finalizeError(id, http.StatusServiceUnavailable, "upstream", "no providers available", retries)
			return
		}

		keyIndex, key, err := s.balancer.SelectKey(provider)
		if err != nil {
			retries++
			continue
		}

		switch {
		case prevProvider != "" && prevProvider != provider.Name:
			ui.PrintFailover(prevProvider, provider.Name)
		case prevProvider == provider.Name && prevKeyIndex != keyIndex:
			ui.PrintRotation(provider.Name, prevKey, key)
		}
		prevProvider, prevKey, prevKeyIndex = provider.Name, key, keyIndex

		// Anthropic clients talking to an Anthropic-native provider skip
		// translation entirely.
		native := kind == dialect.KindAnthropic && provider.ToolFormat == config.ToolFormatAnthropic

		payload, err := buildPayload(passthrough, native, raw, bodyMap, chatReq, effective)
		if err != nil {
			writeDialectError(c, kind, http.StatusInternalServerError, "api_error", err.Error())
			s.finalizeError(id, http.StatusInternalServerError, string(classify.KindUnknown), err.Error(), retries)
			return
		}

		attemptPath := upPath
		if native {
			attemptPath = "/v1/messages"
		}

		timeout := time.Duration(provider.EffectiveTimeoutMs()) * time.Millisecond
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)

		req, err := http.NewRequestWithContext(ctx, c.Request.Method, provider.BaseURL+attemptPath, bytes.NewReader(payload))
		if err != nil {
			cancel()
			writeDialectError(c, kind, http.StatusInternalServerError, "api_error", err.Error())
			s.finalizeError(id, http.StatusInternalServerError, string(classify.KindUnknown), err.Error(), retries)
			return
		}
		setUpstreamHeaders(req, c.Request.Header, provider, key)

		upstreamStart := time.Now()
		resp, err := s.client.Do(req)
		if err != nil {
			cancel()
			ue := classify.FromTransport(err)
			if !cfg.Proxy.KeyRotation.RotateOnError() {
				ue.RotateKey = false
			}
			s.balancer.ReportError(provider, keyIndex, ue)
			tried[provider.Name] = struct{}{}
			s.logger.Warn("upstream transport error",
				slog.String("provider", provider.Name),
				slog.String("kind", string(ue.Kind)),
				slog.Int("attempt", attempt),
			)
			retries++
			s.store.Update(id, func(r *store.Record) {
				r.ErrorType = string(ue.Kind)
				r.ErrorMessage = ue.Message
				r.RetryCount = retries
			})
			if ue.Retryable && rotation {
				continue
			}
			writeDialectError(c, kind, http.StatusBadGateway, "api_error", ue.Message)
			s.finalizeError(id, http.StatusBadGateway, string(ue.Kind), ue.Message, retries)
			return
		}

		upstreamMs := time.Since(upstreamStart).Milliseconds()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.balancer.ReportSuccess(provider, keyIndex)
			c.Set(ctxProvider, provider.Name)
			s.store.Update(id, func(r *store.Record) {
				r.Provider = provider.Name
				r.Model = effective
				r.UpstreamStatus = resp.StatusCode
				r.UpstreamDurationMs = upstreamMs
				r.RetryCount = retries
			})

			if streaming {
				s.pipeStream(c, resp, transformerFor(kind, passthrough, native, requested))
				resp.Body.Close()
				cancel()
				s.store.Finalize(id, func(r *store.Record) {
					r.Status = http.StatusOK
					r.Response = &store.Capture{Headers: store.RedactHeaders(resp.Header)}
				})
				return
			}

			respBody, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			cancel()
			if readErr != nil {
				writeDialectError(c, kind, http.StatusBadGateway, "api_error", "reading upstream response: "+readErr.Error())
				s.finalizeError(id, http.StatusBadGateway, string(classify.KindNetwork), readErr.Error(), retries)
				return
			}

			s.store.Update(id, func(r *store.Record) {
				r.Upstream = s.store.Capture(resp.Header, respBody)
			})
			s.writeTranslated(c, id, kind, passthrough || native, requested, respBody, retries)
			return
		}

		// Upstream error status.
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		ue := classify.FromResponse(resp.StatusCode, respBody)
		if !cfg.Proxy.KeyRotation.RotateOnError() {
			ue.RotateKey = false
		}
		s.balancer.ReportError(provider, keyIndex, ue)
		if ue.RotateKey {
			ui.PrintCooldown(provider.Name, key, string(ue.Kind))
		} else {
			tried[provider.Name] = struct{}{}
		}
		s.logger.Warn("upstream error",
			slog.String("provider", provider.Name),
			slog.Int("status", resp.StatusCode),
			slog.String("kind", string(ue.Kind)),
			slog.Int("attempt", attempt),
		)

		lastStatus = resp.StatusCode
		lastBody = respBody
		lastContentType = resp.Header.Get("Content-Type")
		retries++

		s.store.Update(id, func(r *store.Record) {
			r.Provider = provider.Name
			r.UpstreamStatus = resp.StatusCode
			r.UpstreamDurationMs = upstreamMs
			r.ErrorType = string(ue.Kind)
			r.ErrorMessage = ue.Message
			r.RetryCount = retries
		})

		// Rotating errors retry too: surfacing a 401/403 to the client is
		// a last resort while other keys remain.
		if (ue.Retryable || ue.RotateKey) && rotation {
			continue
		}

		// Caller bugs and other terminal statuses are forwarded verbatim.
		forwardRaw(c, resp.StatusCode, lastContentType, respBody)
		s.store.Finalize(id, func(r *store.Record) {
			r.Status = resp.StatusCode
			r.Response = s.store.Capture(nil, respBody)
		})
		return
	}

	// Retry budget exhausted: surface the last upstream response if any.
	if lastStatus != 0 {
		forwardRaw(c, lastStatus, lastContentType, lastBody)
		s.store.Finalize(id, func(r *store.Record) {
			r.Status = lastStatus
			r.Response = s.store.Capture(nil, lastBody)
		})
		return
	}
	writeDialectError(c, kind, http.StatusServiceUnavailable, "api_error", "all providers exhausted")
	s.finalizeError(id, http.StatusServiceUnavailable, "upstream", "all providers exhausted", retries)
}

// finalizeError closes a record on a gateway-generated failure.
func (s *Server) finalizeError(id string, status int, errType, message string, retries int) {
	s.store.Finalize(id, func(r *store.Record) {
		r.Status = status
		r.ErrorType = errType
		r.ErrorMessage = message
		r.RetryCount = retries
	})
}

// looksLikeJSON decides whether a request body should be decoded.
func looksLikeJSON(contentType string, body []byte) bool {
	if len(body) == 0 {
		return false
	}
	if strings.Contains(contentType, "json") {
		return true
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// convertRequest translates the client request into the OpenAI chat shape
// when the dialect requires it. OpenAI and pass-through requests return a
// nil chatReq and are forwarded from the decoded map or raw bytes.
func convertRequest(kind dialect.Kind, passthrough bool, raw []byte) (*dialect.ChatRequest, error) {
	if passthrough {
		return nil, nil
	}
	switch kind {
	case dialect.KindAnthropic:
		var req dialect.AnthropicRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return dialect.AnthropicToChat(&req)
	case dialect.KindResponses:
		var req dialect.ResponsesRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return dialect.ResponsesToChat(&req)
	default:
		return nil, nil
	}
}

// buildPayload produces the upstream request body for one attempt, with
// the effective model substituted.
func buildPayload(passthrough, native bool, raw []byte, bodyMap map[string]any, chatReq *dialect.ChatRequest, effective string) ([]byte, error) {
	switch {
	case passthrough:
		return raw, nil
	case native, chatReq == nil:
		if bodyMap == nil {
			return raw, nil
		}
		clone := make(map[string]any, len(bodyMap))
		for k, v := range bodyMap {
			clone[k] = v
		}
		clone["model"] = effective
		return json.Marshal(clone)
	default:
		req := *chatReq
		req.Model = effective
		return json.Marshal(&req)
	}
}

// setUpstreamHeaders combines provider static headers, the selected key
// and a whitelist of forwarded client headers.
func setUpstreamHeaders(req *http.Request, client http.Header, provider *config.Provider, key string) {
	for name, value := range provider.Headers {
		req.Header.Set(name, value)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	for _, name := range forwardedHeaders {
		if v := client.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
}

// transformerFor picks the SSE transformer for the client dialect, or nil
// for byte-for-byte piping.
func transformerFor(kind dialect.Kind, passthrough, native bool, model string) streamTransformer {
	if passthrough || native {
		return nil
	}
	switch kind {
	case dialect.KindAnthropic:
		return dialect.NewAnthropicStream(model)
	case dialect.KindResponses:
		return dialect.NewResponsesStream(model)
	default:
		return nil
	}
}

// pipeStream copies the upstream SSE body to the client in arrival order,
// optionally rewritten by a dialect transformer.
func (s *Server) pipeStream(c *gin.Context, resp *http.Response, tr streamTransformer) {
	c.Writer.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			out := buf[:n]
			if tr != nil {
				out = tr.Transform(buf[:n])
			}
			if len(out) > 0 {
				if _, werr := c.Writer.Write(out); werr != nil {
					return
				}
				c.Writer.Flush()
			}
		}
		if err != nil {
			break
		}
	}

	if tr != nil {
		if tail := tr.Close(); len(tail) > 0 {
			c.Writer.Write(tail)
			c.Writer.Flush()
		}
	}
}

// writeTranslated converts a successful non-streaming upstream body into
// the client dialect and finalizes the record.
func (s *Server) writeTranslated(c *gin.Context, id string, kind dialect.Kind, verbatim bool, requestedModel string, respBody []byte, retries int) {
	var out []byte
	var err error

	switch {
	case verbatim:
		out = respBody
	case kind == dialect.KindAnthropic:
		out, err = dialect.ChatToAnthropicResponse(respBody, requestedModel)
	case kind == dialect.KindResponses:
		out, err = dialect.ChatToResponsesResponse(respBody, requestedModel)
	default:
		out = respBody
	}

	if err != nil {
		writeDialectError(c, kind, http.StatusBadGateway, "api_error", "response translation failed: "+err.Error())
		s.finalizeError(id, http.StatusBadGateway, string(classify.KindUpstream), err.Error(), retries)
		return
	}

	forwardRaw(c, http.StatusOK, "application/json", out)
	s.store.Finalize(id, func(r *store.Record) {
		r.Status = http.StatusOK
		r.Response = s.store.Capture(nil, out)
		r.RetryCount = retries
	})
}

// forwardRaw writes an upstream (or translated) body without re-encoding.
func forwardRaw(c *gin.Context, status int, contentType string, body []byte) {
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(status, contentType, body)
}
