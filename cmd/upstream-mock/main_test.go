package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bankgate/pkg/knowledge"
	"bankgate/pkg/oracle"
	"bankgate/pkg/transcribe"
)

func startMock(t *testing.T) *httptest.Server {
	t.Helper()
	var handler http.Handler
	err := runUpstreamMock(
		func(ctx context.Context, service string) (func(context.Context) error, error) {
			return func(context.Context) error { return nil }, nil
		},
		func(server *http.Server) error {
			handler = server.Handler
			return nil
		},
	)
	if err != nil {
		t.Fatalf("runUpstreamMock: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestChatCompletionsSpeaksOracleProtocol(t *testing.T) {
	ts := startMock(t)
	client := oracle.NewClient(ts.URL, "mock-model", "", time.Second)
	got, err := client.Complete(context.Background(), []oracle.Message{
		oracle.NewMessage(oracle.RoleSystem, "be helpful"),
		oracle.NewMessage(oracle.RoleUser, "what is my balance"),
	}, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !got.Terminal() {
		t.Fatal("mock should never request tool calls")
	}
	if !strings.Contains(got.Content, "what is my balance") {
		t.Fatalf("content = %q, want echo of last user message", got.Content)
	}
}

func TestSearchSpeaksRetrieverProtocol(t *testing.T) {
	ts := startMock(t)
	r := &knowledge.HTTPRetriever{BaseURL: ts.URL, TopK: 2}
	passages, err := r.Retrieve(context.Background(), "checking account fees")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(passages) != 2 {
		t.Fatalf("got %d passages, want top_k=2", len(passages))
	}
	if passages[0].Score <= passages[1].Score {
		t.Fatalf("scores not descending: %v", passages)
	}
}

func TestTranscribeSpeaksTranscriberProtocol(t *testing.T) {
	ts := startMock(t)
	tr := transcribe.NewHTTPTranscriber(ts.URL, time.Second)
	text, err := tr.Transcribe(context.Background(), strings.NewReader("RIFFfake"), "clip.wav")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "What is my checking account balance?" {
		t.Fatalf("text = %q", text)
	}
}

func TestHealthz(t *testing.T) {
	ts := startMock(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
