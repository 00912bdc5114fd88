// Package orchestrator runs the query loop: it binds the authenticated
// identity to the conversation, lets the model plan tool calls, executes
// them through the scoped dispatcher, and extracts the final answer.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"bankgate/pkg/audit"
	"bankgate/pkg/auth"
	"bankgate/pkg/metrics"
	"bankgate/pkg/oracle"
	"bankgate/pkg/session"
	"bankgate/pkg/stream"
	"bankgate/pkg/tools"
)

const systemPrompt = `You are a banking assistant.
The authenticated customer ID is provided in square brackets: [Customer ID: xxx]

CRITICAL SECURITY RULES:
1. You can ONLY access data for the customer ID provided in the brackets.
2. If the user asks about ANY other customer ID, respond:
   'I'm sorry, but I can only access information for your account (xxx). For security and privacy reasons, I cannot view other customers' data.'
3. NEVER call tools with a different customer_id than the one in brackets.

For transactions and balances: Use the account tools with the authenticated customer_id.
For product questions: Use search_product_knowledge.
Answer clearly and concisely.`

const degradedAnswer = "I'm sorry, I was unable to complete your request. Please try asking in a simpler way."

const (
	StatusAnswered = "answered"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// Answer is the outcome of one query loop.
type Answer struct {
	QueryID   string
	SessionID string
	Text      string
	Status    string
	Source    string
	Rounds    int
	ToolCalls int
	Refusals  int

	customerHash string
}

// Orchestrator wires the model, dispatcher, and sessions together. Hub,
// Audit, and Metrics are optional; a nil field disables that sink.
type Orchestrator struct {
	Oracle     oracle.Oracle
	Dispatcher *tools.Dispatcher
	Sessions   *session.Manager
	Hub        *stream.Hub
	Audit      *audit.Writer
	Metrics    *metrics.Registry
	MaxRounds  int
	Timeout    time.Duration
}

func (o *Orchestrator) maxRounds() int {
	if o.MaxRounds > 0 {
		return o.MaxRounds
	}
	return 8
}

func (o *Orchestrator) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 30 * time.Second
}

func (o *Orchestrator) publish(eventType string, data any) {
	if o.Hub != nil {
		o.Hub.Publish(stream.NewEvent(eventType, data))
	}
}

// StampIdentity prefixes the query text with the authenticated customer ID.
// The model only ever sees the identity through this stamp; nothing the user
// types can override it because the stamp always comes first.
func StampIdentity(customerID, query string) string {
	return fmt.Sprintf("[Customer ID: %s] %s", customerID, query)
}

// Query runs one user query to completion. The identity comes from the
// verified token, never from the request body.
func (o *Orchestrator) Query(ctx context.Context, identity auth.Identity, query string) (Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()

	started := time.Now()
	ans := Answer{QueryID: uuid.NewString()}

	sess := o.Sessions.Ensure(identity.CustomerID)
	ans.SessionID = sess.ID()

	if o.Audit != nil {
		ans.customerHash = o.Audit.HashIdentity(identity.CustomerID)
	}
	o.publish(stream.EventQueryReceived, stream.QueryReceived{
		QueryID:      ans.QueryID,
		CustomerHash: ans.customerHash,
		SessionID:    ans.SessionID,
	})

	sess.AddMessage(oracle.NewMessage(oracle.RoleUser, StampIdentity(identity.CustomerID, query)))

	defs := tools.Definitions()
	for round := 1; round <= o.maxRounds(); round++ {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, ans, started, err)
		}
		ans.Rounds = round

		messages := append([]oracle.Message{oracle.NewMessage(oracle.RoleSystem, systemPrompt)}, sess.Messages()...)
		completion, err := o.Oracle.Complete(ctx, messages, defs)
		if err != nil {
			return o.fail(ctx, ans, started, fmt.Errorf("model turn %d: %w", round, err))
		}

		if completion.Terminal() {
			sess.AddMessage(oracle.Message{Role: oracle.RoleAssistant, Content: completion.Content})
			ans.Text = strings.TrimSpace(completion.Content)
			ans.Status = StatusAnswered
			return o.finish(ctx, ans, started), nil
		}

		sess.AddMessage(oracle.Message{
			Role:      oracle.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})

		for _, tc := range completion.ToolCalls {
			result, err := o.Dispatcher.Execute(ctx, identity, tc)
			if err != nil {
				return o.fail(ctx, ans, started, fmt.Errorf("tool %s: %w", tc.Name, err))
			}
			ans.ToolCalls++
			if o.Metrics != nil {
				o.Metrics.IncTool(tc.Name)
			}
			if result.Refused {
				ans.Refusals++
				if o.Metrics != nil {
					o.Metrics.IncRefusal()
				}
				o.publish(stream.EventToolRefused, stream.ToolRefused{QueryID: ans.QueryID, Tool: tc.Name, Round: round})
			} else {
				o.publish(stream.EventToolCalled, stream.ToolCalled{QueryID: ans.QueryID, Tool: tc.Name, Round: round, IsError: result.IsError})
			}
			if result.Source != "" {
				ans.Source = result.Source
			}
			sess.AddMessage(oracle.Message{
				Role:       oracle.RoleTool,
				Content:    result.Content,
				ToolCallID: tc.ID,
			})
		}
	}

	// Round budget exhausted: answer degraded instead of looping forever.
	sess.AddMessage(oracle.Message{Role: oracle.RoleAssistant, Content: degradedAnswer})
	ans.Text = degradedAnswer
	ans.Status = StatusDegraded
	return o.finish(ctx, ans, started), nil
}

func (o *Orchestrator) finish(ctx context.Context, ans Answer, started time.Time) Answer {
	latency := time.Since(started)
	if o.Metrics != nil {
		o.Metrics.ObserveQueryLatency(latency)
		if ans.Source != "" {
			o.Metrics.IncAnswerSource(ans.Source)
		}
	}
	o.publish(stream.EventQueryAnswered, stream.QueryAnswered{
		QueryID:   ans.QueryID,
		Source:    ans.Source,
		Rounds:    ans.Rounds,
		Refusals:  ans.Refusals,
		LatencyMS: latency.Milliseconds(),
	})
	o.appendAudit(ctx, ans, latency)
	return ans
}

func (o *Orchestrator) fail(ctx context.Context, ans Answer, started time.Time, err error) (Answer, error) {
	ans.Status = StatusFailed
	o.publish(stream.EventQueryFailed, stream.QueryFailed{QueryID: ans.QueryID, Reason: err.Error()})
	o.appendAudit(ctx, ans, time.Since(started))
	return ans, err
}

func (o *Orchestrator) appendAudit(ctx context.Context, ans Answer, latency time.Duration) {
	if o.Audit == nil {
		return
	}
	// Audit writes ride on a fresh context so a query timeout doesn't lose
	// the record.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	rec := audit.Record{
		QueryID:        ans.QueryID,
		CustomerIDHash: ans.customerHash,
		SessionID:      ans.SessionID,
		Status:         ans.Status,
		AnswerSource:   ans.Source,
		ToolCalls:      ans.ToolCalls,
		Refusals:       ans.Refusals,
		LatencyMS:      latency.Milliseconds(),
	}
	if err := o.Audit.Append(auditCtx, rec); err != nil {
		log.Printf("orchestrator: audit append failed: %v", err)
	}
}
