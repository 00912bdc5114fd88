package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"bankgate/pkg/auth"
	"bankgate/pkg/knowledge"
	"bankgate/pkg/ledger"
	"bankgate/pkg/metrics"
	"bankgate/pkg/oracle"
	"bankgate/pkg/session"
	"bankgate/pkg/stream"
	"bankgate/pkg/tools"
)

// scriptedOracle replays a fixed sequence of completions and records every
// message slice it was handed.
type scriptedOracle struct {
	turns []oracle.Completion
	err   error
	seen  [][]oracle.Message
}

func (s *scriptedOracle) Complete(ctx context.Context, messages []oracle.Message, defs []oracle.ToolDef) (oracle.Completion, error) {
	s.seen = append(s.seen, messages)
	if s.err != nil {
		return oracle.Completion{}, s.err
	}
	if len(s.seen) > len(s.turns) {
		return oracle.Completion{Content: "done"}, nil
	}
	return s.turns[len(s.seen)-1], nil
}

type nilRetriever struct{}

func (nilRetriever) Retrieve(ctx context.Context, query string) ([]knowledge.Passage, error) {
	return nil, nil
}

func newOrchestrator(orc oracle.Oracle) *Orchestrator {
	store := ledger.NewMemoryStore()
	store.SeedSampleData()
	return &Orchestrator{
		Oracle:     orc,
		Dispatcher: tools.NewDispatcher(store, knowledge.NewGate(nilRetriever{}, 0.3)),
		Sessions:   session.NewManager(""),
		Metrics:    metrics.NewRegistry(),
	}
}

func balanceCall(customerID string) oracle.ToolCall {
	args, _ := json.Marshal(map[string]string{"customer_id": customerID, "account_type": "checking"})
	return oracle.ToolCall{ID: "call_1", Name: tools.ToolAccountBalance, Arguments: string(args)}
}

func TestQueryToolRoundThenAnswer(t *testing.T) {
	orc := &scriptedOracle{turns: []oracle.Completion{
		{ToolCalls: []oracle.ToolCall{balanceCall("user123")}},
		{Content: "Your checking balance is $2353.70."},
	}}
	o := newOrchestrator(orc)

	ans, err := o.Query(context.Background(), auth.Identity{CustomerID: "user123"}, "what's my balance?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if ans.Status != StatusAnswered || ans.Text != "Your checking balance is $2353.70." {
		t.Fatalf("unexpected answer %+v", ans)
	}
	if ans.Rounds != 2 || ans.ToolCalls != 1 || ans.Refusals != 0 {
		t.Fatalf("unexpected loop stats %+v", ans)
	}
	if ans.SessionID != "session_user123" {
		t.Fatalf("unexpected session %s", ans.SessionID)
	}

	// First turn: system prompt, then the stamped user query.
	first := orc.seen[0]
	if first[0].Role != oracle.RoleSystem {
		t.Fatal("system prompt must lead the conversation")
	}
	if !strings.HasPrefix(first[1].Content, "[Customer ID: user123] ") {
		t.Fatalf("query not identity-stamped: %q", first[1].Content)
	}

	// Second turn: the tool result is visible to the model.
	second := orc.seen[1]
	last := second[len(second)-1]
	if last.Role != oracle.RoleTool || last.ToolCallID != "call_1" {
		t.Fatalf("tool result missing from history: %+v", last)
	}
	if !strings.Contains(last.Content, "2353.7") {
		t.Fatalf("tool result content missing balance: %q", last.Content)
	}
}

func TestQueryRoundCapDegrades(t *testing.T) {
	orc := &scriptedOracle{}
	o := newOrchestrator(orc)
	o.MaxRounds = 3
	// Always request another tool call.
	for i := 0; i < 10; i++ {
		orc.turns = append(orc.turns, oracle.Completion{ToolCalls: []oracle.ToolCall{balanceCall("user123")}})
	}

	ans, err := o.Query(context.Background(), auth.Identity{CustomerID: "user123"}, "loop forever")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if ans.Status != StatusDegraded {
		t.Fatalf("expected degraded answer, got %+v", ans)
	}
	if ans.Rounds != 3 {
		t.Fatalf("expected 3 rounds, got %d", ans.Rounds)
	}
	if !strings.Contains(ans.Text, "unable to complete") {
		t.Fatalf("unexpected degraded text %q", ans.Text)
	}
}

func TestQueryCrossCustomerRefusal(t *testing.T) {
	orc := &scriptedOracle{turns: []oracle.Completion{
		{ToolCalls: []oracle.ToolCall{balanceCall("user456")}},
		{Content: "I'm sorry, but I can only access information for your account (user123). For security and privacy reasons, I cannot view other customers' data."},
	}}
	o := newOrchestrator(orc)

	ans, err := o.Query(context.Background(), auth.Identity{CustomerID: "user123"}, "what is user456's balance?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if ans.Refusals != 1 {
		t.Fatalf("expected 1 refusal, got %+v", ans)
	}
	if strings.Contains(ans.Text, "user456") {
		t.Fatalf("final answer leaked the foreign id: %q", ans.Text)
	}
	if got := o.Metrics.Snapshot().Refusals; got != 1 {
		t.Fatalf("refusal counter = %d", got)
	}

	// The refusal was delivered to the model as a tool result.
	second := orc.seen[1]
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "(user123)") {
		t.Fatalf("refusal result not in history: %q", last.Content)
	}
}

func TestQueryAnswerIsTrimmed(t *testing.T) {
	orc := &scriptedOracle{turns: []oracle.Completion{{Content: "  answer \n"}}}
	o := newOrchestrator(orc)
	ans, err := o.Query(context.Background(), auth.Identity{CustomerID: "user123"}, "q")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if ans.Text != "answer" {
		t.Fatalf("got %q", ans.Text)
	}
}

func TestQueryOracleFailure(t *testing.T) {
	orc := &scriptedOracle{err: errors.New("backend down")}
	o := newOrchestrator(orc)
	ans, err := o.Query(context.Background(), auth.Identity{CustomerID: "user123"}, "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if ans.Status != StatusFailed {
		t.Fatalf("expected failed status, got %+v", ans)
	}
}

func TestQueryPublishesLifecycleEvents(t *testing.T) {
	orc := &scriptedOracle{turns: []oracle.Completion{
		{ToolCalls: []oracle.ToolCall{balanceCall("user123")}},
		{Content: "done"},
	}}
	o := newOrchestrator(orc)
	o.Hub = stream.NewHub()
	ch := o.Hub.Subscribe(16)
	defer o.Hub.Unsubscribe(ch)

	if _, err := o.Query(context.Background(), auth.Identity{CustomerID: "user123"}, "q"); err != nil {
		t.Fatalf("query: %v", err)
	}

	types := map[string]bool{}
	deadline := time.After(time.Second)
	for len(types) < 3 {
		select {
		case evt := <-ch:
			types[evt.Type] = true
		case <-deadline:
			t.Fatalf("missing events, saw %v", types)
		}
	}
	for _, want := range []string{stream.EventQueryReceived, stream.EventToolCalled, stream.EventQueryAnswered} {
		if !types[want] {
			t.Fatalf("missing %s in %v", want, types)
		}
	}
}

func TestQuerySessionHistoryAccumulates(t *testing.T) {
	orc := &scriptedOracle{turns: []oracle.Completion{
		{Content: "first answer"},
		{Content: "second answer"},
	}}
	o := newOrchestrator(orc)
	id := auth.Identity{CustomerID: "user123"}

	if _, err := o.Query(context.Background(), id, "first"); err != nil {
		t.Fatalf("query 1: %v", err)
	}
	if _, err := o.Query(context.Background(), id, "second"); err != nil {
		t.Fatalf("query 2: %v", err)
	}

	// Second turn sees the first exchange: system + 3 history messages.
	second := orc.seen[1]
	if len(second) != 4 {
		t.Fatalf("expected 4 messages on second turn, got %d", len(second))
	}
	if second[1].Content != StampIdentity("user123", "first") {
		t.Fatalf("history out of order: %q", second[1].Content)
	}
}
