package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory ledger used when no database is configured
// and throughout the tests. Appends assign the monotonic seq.
type MemoryStore struct {
	mu      sync.RWMutex
	rows    []Transaction
	nextSeq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextSeq: 1}
}

// Append records a transaction, stamping its insertion order.
func (m *MemoryStore) Append(tx Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx.Seq = m.nextSeq
	m.nextSeq++
	if tx.Currency == "" {
		tx.Currency = "USD"
	}
	m.rows = append(m.rows, tx)
}

// SeedSampleData loads the demo dataset for customer user123.
func (m *MemoryStore) SeedSampleData() {
	for _, tx := range []Transaction{
		{CustomerID: "user123", AccountType: Checking, Date: "2026-01-09", Description: "Grocery Store", Amount: -42.30},
		{CustomerID: "user123", AccountType: Checking, Date: "2026-01-09", Description: "Salary", Amount: 2500.00},
		{CustomerID: "user123", AccountType: Checking, Date: "2026-01-08", Description: "Coffee Shop", Amount: -3.80},
		{CustomerID: "user123", AccountType: Checking, Date: "2026-01-07", Description: "Internet Bill", Amount: -55.00},
		{CustomerID: "user123", AccountType: Checking, Date: "2026-01-06", Description: "Restaurant", Amount: -45.20},
		{CustomerID: "user123", AccountType: Savings, Date: "2026-01-06", Description: "Interest", Amount: 4.12},
		{CustomerID: "user123", AccountType: Savings, Date: "2026-01-03", Description: "Transfer from Checking", Amount: 200.00},
		{CustomerID: "user123", AccountType: Savings, Date: "2025-12-28", Description: "Deposit", Amount: 500.00},
	} {
		m.Append(tx)
	}
}

// All returns every row in insertion order.
func (m *MemoryStore) All() []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transaction, len(m.rows))
	copy(out, m.rows)
	return out
}

func (m *MemoryStore) scope(customerID string, account AccountType) []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Transaction
	for _, tx := range m.rows {
		if tx.CustomerID == customerID && tx.AccountType == account {
			out = append(out, tx)
		}
	}
	// ISO dates sort lexicographically; seq breaks same-date ties.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}

func (m *MemoryStore) LastTransaction(ctx context.Context, customerID string, account AccountType) (Transaction, error) {
	rows := m.scope(customerID, account)
	if len(rows) == 0 {
		return Transaction{}, ErrNoTransactions
	}
	return rows[0], nil
}

func (m *MemoryStore) RecentTransactions(ctx context.Context, customerID string, account AccountType, limit int) ([]Transaction, error) {
	limit = ClampLimit(limit)
	rows := m.scope(customerID, account)
	if len(rows) == 0 {
		return nil, ErrNoTransactions
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *MemoryStore) TransactionsByDate(ctx context.Context, customerID string, account AccountType, date string) ([]Transaction, error) {
	var out []Transaction
	for _, tx := range m.scope(customerID, account) {
		if tx.Date == date {
			out = append(out, tx)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoTransactions
	}
	return out, nil
}

func (m *MemoryStore) Balance(ctx context.Context, customerID string, account AccountType) (float64, error) {
	var sum float64
	for _, tx := range m.scope(customerID, account) {
		sum += tx.Amount
	}
	return RoundCents(sum), nil
}
