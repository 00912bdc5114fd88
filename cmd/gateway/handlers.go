package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"bankgate/pkg/auth"
	"bankgate/pkg/httpx"
	"bankgate/pkg/stream"
	"bankgate/pkg/transcribe"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, 200, map[string]string{"status": "online", "service": "Banking Agent API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !s.oracleReady {
		status = "degraded"
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"status":         status,
		"agent_ready":    s.oracleReady,
		"database_ready": s.dbReady,
		"cache_ready":    s.redisReady,
		"sessions":       s.Sessions.Count(),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.Username == "" || req.Password == "" {
		httpx.Error(w, 400, "username and password required")
		return
	}
	customerID, err := s.Users.Authenticate(req.Username, req.Password)
	if err != nil {
		httpx.Error(w, 401, "Incorrect username or password")
		return
	}
	token, err := auth.IssueToken(s.AuthSecret, customerID, s.TokenTTL, time.Now().UTC())
	if err != nil {
		httpx.Error(w, 500, "token issuance failed")
		return
	}
	httpx.WriteJSON(w, 200, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Response string `json:"response"`
	UserID   string `json:"user_id"`
	QueryID  string `json:"query_id"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, 401, "unauthenticated")
		return
	}
	if s.Orchestrator == nil {
		httpx.Error(w, 503, "Agent not initialized")
		return
	}
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		httpx.Error(w, 400, "query required")
		return
	}
	s.answerQuery(w, r, identity, req.Query)
}

func (s *Server) handleVoiceQuery(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, 401, "unauthenticated")
		return
	}
	if s.Orchestrator == nil {
		httpx.Error(w, 503, "Agent not initialized")
		return
	}
	if s.Transcriber == nil {
		httpx.Error(w, 503, "Transcription not configured")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		httpx.Error(w, 400, "audio file required")
		return
	}
	defer file.Close()

	query, err := s.Transcriber.Transcribe(r.Context(), file, header.Filename)
	if err != nil {
		var terr *transcribe.TranscriptionError
		if errors.As(err, &terr) {
			httpx.Error(w, 400, terr.Error())
			return
		}
		httpx.Error(w, 502, "transcription backend unavailable")
		return
	}
	s.answerQuery(w, r, identity, query)
}

func (s *Server) answerQuery(w http.ResponseWriter, r *http.Request, identity auth.Identity, query string) {
	ans, err := s.Orchestrator.Query(r.Context(), identity, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			httpx.Error(w, 504, "query timed out")
			return
		}
		httpx.Error(w, 502, "assistant unavailable")
		return
	}
	httpx.WriteJSON(w, 200, queryResponse{
		Response: ans.Text,
		UserID:   identity.CustomerID,
		QueryID:  ans.QueryID,
	})
}

// rateLimited enforces the per-customer window; unauthenticated requests
// (login) fall back to the remote address.
func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.RateLimitEnabled || s.RateLimiter == nil {
			h(w, r)
			return
		}
		key := parseIP(r.RemoteAddr)
		if key == "" {
			key = r.RemoteAddr
		}
		if identity, ok := auth.IdentityFromContext(r.Context()); ok {
			key = identity.CustomerID
		}
		decision := s.RateLimiter.Allow(key, s.RateLimitPerMinute)
		if !decision.Allowed {
			w.Header().Set("Retry-After", decision.ResetAt.UTC().Format(http.TimeFormat))
			httpx.Error(w, 429, "rate limit exceeded")
			return
		}
		h(w, r)
	}
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, 503, "stream unavailable")
		return
	}
	opts := &websocket.AcceptOptions{}
	if origins := wsOriginPatterns(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func wsOriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer so websocket upgrades can reach the
// Hijacker through the middleware chain.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		srv.Metrics.Observe(r.Method+" "+r.URL.Path, rec.code, time.Since(start))
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && s.MaxRequestBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}

func parseIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if net.ParseIP(addr) != nil {
		return addr
	}
	return ""
}
