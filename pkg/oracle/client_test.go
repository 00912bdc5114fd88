package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestToolCallRoundTrip(t *testing.T) {
	in := ToolCall{ID: "call_1", Name: "calculate_account_balance", Arguments: `{"customer_id":"user123","account_type":"checking"}`}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var nested map[string]any
	if err := json.Unmarshal(raw, &nested); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if nested["type"] != "function" {
		t.Fatalf("expected nested function envelope, got %s", raw)
	}
	var out ToolCall
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestToolCallUnmarshalFlat(t *testing.T) {
	var out ToolCall
	if err := json.Unmarshal([]byte(`{"id":"c1","name":"get_last_transaction","arguments":"{}"}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Name != "get_last_transaction" {
		t.Fatalf("got %+v", out)
	}
}

func TestClientCompleteToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Type != "function" {
			t.Errorf("tools not wrapped in function envelope: %+v", req.Tools)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_last_transaction","arguments":"{\"customer_id\":\"user123\",\"account_type\":\"checking\"}"}}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-model", "test-key", 0)
	c.HTTPClient = srv.Client()
	got, err := c.Complete(context.Background(), []Message{NewMessage(RoleUser, "hi")}, []ToolDef{{Name: "get_last_transaction"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Terminal() {
		t.Fatal("turn with tool calls must not be terminal")
	}
	if got.ToolCalls[0].Name != "get_last_transaction" {
		t.Fatalf("unexpected tool call %+v", got.ToolCalls[0])
	}
}

func TestClientCompleteTerminalText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"Your balance is $2353.70."}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", "", 0)
	c.HTTPClient = srv.Client()
	got, err := c.Complete(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !got.Terminal() || got.Content != "Your balance is $2353.70." {
		t.Fatalf("unexpected completion %+v", got)
	}
}

func TestClientCompleteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", "", 0)
	c.HTTPClient = srv.Client()
	if _, err := c.Complete(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error on 503")
	}
}
