// Package ledger provides read-only aggregation views over the append-only
// per-customer transaction log.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// AccountType is the closed set of account kinds a customer can hold.
type AccountType string

const (
	Checking AccountType = "checking"
	Savings  AccountType = "savings"
)

// ErrNoTransactions reports an empty result for a list-shaped query. This is
// deliberately error-shaped: Balance over zero rows is a 0.00 success, while
// the transaction-list operations report "not found" (see DESIGN.md).
var ErrNoTransactions = errors.New("no transactions found")

// ParseAccountType normalizes and validates an account type string.
func ParseAccountType(raw string) (AccountType, error) {
	switch AccountType(strings.ToLower(strings.TrimSpace(raw))) {
	case Checking:
		return Checking, nil
	case Savings:
		return Savings, nil
	default:
		return "", fmt.Errorf("unknown account type %q", raw)
	}
}

// ParseDate validates an ISO 8601 calendar date.
func ParseDate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if _, err := time.Parse("2006-01-02", trimmed); err != nil {
		return "", fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return trimmed, nil
}

// Transaction is one immutable row of the ledger. Seq is the monotonic
// insertion order and breaks ties between transactions sharing a date.
type Transaction struct {
	CustomerID  string      `json:"customer_id"`
	AccountType AccountType `json:"account_type"`
	Date        string      `json:"date"`
	Description string      `json:"description"`
	Amount      float64     `json:"amount"`
	Currency    string      `json:"currency"`
	Seq         int64       `json:"-"`
}

// Store is the read surface over the transaction log. All operations are
// scoped by (customer id, account type); ordering for "most recent" is
// (date desc, seq desc).
type Store interface {
	// LastTransaction returns the most recent row or ErrNoTransactions.
	LastTransaction(ctx context.Context, customerID string, account AccountType) (Transaction, error)
	// RecentTransactions returns up to limit rows, newest first. The limit
	// is silently clamped to [1,10]. Zero rows yields ErrNoTransactions.
	RecentTransactions(ctx context.Context, customerID string, account AccountType, limit int) ([]Transaction, error)
	// TransactionsByDate returns the rows for one calendar date, newest
	// insertion first, or ErrNoTransactions.
	TransactionsByDate(ctx context.Context, customerID string, account AccountType, date string) ([]Transaction, error)
	// Balance sums the signed amounts. Zero rows is a valid 0.00 balance.
	Balance(ctx context.Context, customerID string, account AccountType) (float64, error)
}

// ClampLimit bounds a requested row count to [1,10] without rejecting
// out-of-range values.
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 10 {
		return 10
	}
	return limit
}

// RoundCents rounds to currency-standard 2 decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
