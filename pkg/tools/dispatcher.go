package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bankgate/pkg/auth"
	"bankgate/pkg/knowledge"
	"bankgate/pkg/ledger"
	"bankgate/pkg/oracle"
)

// Result is a tool execution outcome fed back into the next model turn.
// Content is the JSON (or plain text for refusals) the model sees. Refused
// marks a cross-customer attempt that was blocked before any data access.
type Result struct {
	Content string
	IsError bool
	Refused bool
	Source  string
}

// Dispatcher executes tool calls against the ledger and the knowledge gate.
// Every customer-scoped call is checked against the authenticated identity
// before any store access; the model's claimed customer_id is never trusted.
type Dispatcher struct {
	Ledger    ledger.Store
	Knowledge *knowledge.Gate
}

func NewDispatcher(store ledger.Store, gate *knowledge.Gate) *Dispatcher {
	return &Dispatcher{Ledger: store, Knowledge: gate}
}

type accountArgs struct {
	CustomerID  string `json:"customer_id"`
	AccountType string `json:"account_type"`
	Limit       int    `json:"limit"`
	Date        string `json:"date"`
	Query       string `json:"query"`
}

func refusal(callerID string) Result {
	msg := fmt.Sprintf("I'm sorry, but I can only access information for your account (%s). For security and privacy reasons, I cannot view other customers' data.", callerID)
	return Result{Content: msg, IsError: true, Refused: true}
}

func errorPayload(message string) Result {
	raw, _ := json.Marshal(map[string]string{"status": "error", "message": message})
	return Result{Content: string(raw), IsError: true}
}

func okPayload(v any) Result {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorPayload("internal encoding error")
	}
	return Result{Content: string(raw)}
}

// Execute runs one tool call on behalf of identity. Unknown tools and bad
// arguments come back as error results for the model to recover from; only
// infrastructure failures return a Go error.
func (d *Dispatcher) Execute(ctx context.Context, identity auth.Identity, call oracle.ToolCall) (Result, error) {
	var args accountArgs
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return errorPayload("invalid tool arguments: " + err.Error()), nil
		}
	}

	// Hard scope gate. The check runs in code, before any store access, so a
	// model that ignores its instructions still cannot cross accounts.
	if customerScopedTools[call.Name] && args.CustomerID != identity.CustomerID {
		return refusal(identity.CustomerID), nil
	}

	switch call.Name {
	case ToolLastTransaction:
		return d.lastTransaction(ctx, args)
	case ToolRecentTxns:
		return d.recentTransactions(ctx, args)
	case ToolAccountBalance:
		return d.accountBalance(ctx, args)
	case ToolTxnsByDate:
		return d.transactionsByDate(ctx, args)
	case ToolProductKnowledge:
		answer := d.Knowledge.Lookup(ctx, args.Query)
		return Result{Content: answer.Answer, Source: answer.Source}, nil
	default:
		return errorPayload("unknown tool: " + call.Name), nil
	}
}

type txnView struct {
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}

func viewOf(tx ledger.Transaction) txnView {
	return txnView{Date: tx.Date, Description: tx.Description, Amount: tx.Amount, Currency: tx.Currency}
}

func (d *Dispatcher) lastTransaction(ctx context.Context, args accountArgs) (Result, error) {
	account, err := ledger.ParseAccountType(args.AccountType)
	if err != nil {
		return errorPayload(err.Error()), nil
	}
	tx, err := d.Ledger.LastTransaction(ctx, args.CustomerID, account)
	if errors.Is(err, ledger.ErrNoTransactions) {
		return errorPayload(fmt.Sprintf("No transactions found for %s - %s", args.CustomerID, account)), nil
	}
	if err != nil {
		return Result{}, err
	}
	return okPayload(map[string]any{
		"status":       "ok",
		"customer_id":  args.CustomerID,
		"account_type": string(account),
		"date":         tx.Date,
		"description":  tx.Description,
		"amount":       tx.Amount,
		"currency":     tx.Currency,
	}), nil
}

func (d *Dispatcher) recentTransactions(ctx context.Context, args accountArgs) (Result, error) {
	account, err := ledger.ParseAccountType(args.AccountType)
	if err != nil {
		return errorPayload(err.Error()), nil
	}
	limit := args.Limit
	if limit == 0 {
		limit = 5
	}
	rows, err := d.Ledger.RecentTransactions(ctx, args.CustomerID, account, limit)
	if errors.Is(err, ledger.ErrNoTransactions) {
		return errorPayload(fmt.Sprintf("No transactions found for %s - %s", args.CustomerID, account)), nil
	}
	if err != nil {
		return Result{}, err
	}
	views := make([]txnView, 0, len(rows))
	for _, tx := range rows {
		views = append(views, viewOf(tx))
	}
	return okPayload(map[string]any{
		"status":       "ok",
		"customer_id":  args.CustomerID,
		"account_type": string(account),
		"count":        len(views),
		"transactions": views,
	}), nil
}

func (d *Dispatcher) accountBalance(ctx context.Context, args accountArgs) (Result, error) {
	account, err := ledger.ParseAccountType(args.AccountType)
	if err != nil {
		return errorPayload(err.Error()), nil
	}
	balance, err := d.Ledger.Balance(ctx, args.CustomerID, account)
	if err != nil {
		return Result{}, err
	}
	return okPayload(map[string]any{
		"status":       "ok",
		"customer_id":  args.CustomerID,
		"account_type": string(account),
		"balance":      balance,
		"currency":     "USD",
	}), nil
}

func (d *Dispatcher) transactionsByDate(ctx context.Context, args accountArgs) (Result, error) {
	account, err := ledger.ParseAccountType(args.AccountType)
	if err != nil {
		return errorPayload(err.Error()), nil
	}
	date, err := ledger.ParseDate(args.Date)
	if err != nil {
		return errorPayload(err.Error()), nil
	}
	rows, err := d.Ledger.TransactionsByDate(ctx, args.CustomerID, account, date)
	if errors.Is(err, ledger.ErrNoTransactions) {
		return errorPayload(fmt.Sprintf("No transactions found for %s on %s in %s account", args.CustomerID, date, account)), nil
	}
	if err != nil {
		return Result{}, err
	}
	views := make([]txnView, 0, len(rows))
	for _, tx := range rows {
		views = append(views, viewOf(tx))
	}
	return okPayload(map[string]any{
		"status":       "ok",
		"customer_id":  args.CustomerID,
		"account_type": string(account),
		"date":         date,
		"count":        len(views),
		"transactions": views,
	}), nil
}
