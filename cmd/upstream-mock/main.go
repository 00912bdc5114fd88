// upstream-mock stands in for the gateway's three upstream services during
// local development: the chat-completions model, the retrieval service, and
// the transcription service. Responses are canned and overridable via env.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"bankgate/pkg/httpx"
	"bankgate/pkg/telemetry"

	"github.com/go-chi/chi/v5"
)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	listenFn        = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := runUpstreamMock(initTelemetryFn, listenFn); err != nil {
		logFatalf("server error: %v", err)
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleChatCompletions answers every conversation with a plain text turn:
// either MOCK_COMPLETION or an echo of the last user message. It never
// requests tool calls, which keeps the gateway's query loop single-round.
func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []chatMessage `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	content := env("MOCK_COMPLETION", "")
	if content == "" {
		content = "You asked: "
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == "user" {
				content += req.Messages[i].Content
				break
			}
		}
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
}

func handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	results := []map[string]any{
		{"text": "Premium Checking includes free wire transfers and no monthly fee with a $1,000 minimum balance.", "score": 0.91},
		{"text": "High-Yield Savings earns 4.1% APY, compounded daily, with no withdrawal limits.", "score": 0.64},
		{"text": "The Travel Rewards card earns 2x points on flights and hotels.", "score": 0.22},
	}
	if req.TopK > 0 && req.TopK < len(results) {
		results = results[:req.TopK]
	}
	httpx.WriteJSON(w, 200, map[string]any{"results": results})
}

func handleTranscribe(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.Error(w, 400, "file part required")
		return
	}
	defer file.Close()
	httpx.WriteJSON(w, 200, map[string]string{
		"text": env("MOCK_TRANSCRIPT", "What is my checking account balance?"),
	})
}

func runUpstreamMock(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	shutdown, err := initTelemetry(context.Background(), "upstream-mock")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	r := chi.NewRouter()
	r.Use(telemetry.HTTPMiddleware("upstream-mock"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "upstream-mock"})
	})
	r.Post("/chat/completions", handleChatCompletions)
	r.Post("/search", handleSearch)
	r.Post("/transcribe", handleTranscribe)

	addr := env("ADDR", ":8085")
	log.Printf("upstream-mock listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
