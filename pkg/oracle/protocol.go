// Package oracle carries the conversation protocol with the language-model
// backend. The gateway treats the model as an untrusted planner: it may only
// request tool invocations and produce text, never touch data directly.
package oracle

import (
	"context"
	"encoding/json"
)

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model. Fields are flat
// (ID, Name, Arguments); UnmarshalJSON also accepts the nested wire format
// ({function: {name, arguments}}) so backend responses decode directly.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// MarshalJSON emits the nested wire format ({type, function: {name, arguments}}).
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}{
		ID:   tc.ID,
		Type: "function",
		Function: struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}{
			Name:      tc.Name,
			Arguments: tc.Arguments,
		},
	})
}

// UnmarshalJSON accepts both the nested wire format and the flat form.
func (tc *ToolCall) UnmarshalJSON(data []byte) error {
	var nested struct {
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &nested); err != nil {
		return err
	}
	if nested.Function.Name != "" {
		tc.ID = nested.ID
		tc.Name = nested.Function.Name
		tc.Arguments = nested.Function.Arguments
		return nil
	}
	type plain ToolCall
	return json.Unmarshal(data, (*plain)(tc))
}

// Message is one turn of a conversation. Assistant messages may carry
// ToolCalls; tool result messages carry the ToolCallID they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// ToolDef describes a callable tool to the model. Parameters is a JSON
// Schema object.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Completion is one model turn: either a set of tool-call requests or a
// terminal text answer. A turn with len(ToolCalls) > 0 is never terminal.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Terminal reports whether this turn ends the exchange.
func (c Completion) Terminal() bool { return len(c.ToolCalls) == 0 }

// Oracle is the planning backend. Implementations must not retain the
// messages slice.
type Oracle interface {
	Complete(ctx context.Context, messages []Message, tools []ToolDef) (Completion, error)
}
