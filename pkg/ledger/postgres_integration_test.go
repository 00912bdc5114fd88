//go:build integration

package ledger

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestPostgresStoreWithRealPostgres exercises the pgx-backed store against a
// real PostgreSQL container.
// Run with: go test -tags=integration -timeout 120s ./pkg/ledger/...
func TestPostgresStoreWithRealPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()

	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	seed := []Transaction{
		{CustomerID: "user123", AccountType: Checking, Date: "2026-01-09", Description: "Grocery Store", Amount: -42.30},
		{CustomerID: "user123", AccountType: Checking, Date: "2026-01-09", Description: "Salary", Amount: 2500.00},
		{CustomerID: "user123", AccountType: Checking, Date: "2026-01-08", Description: "Coffee Shop", Amount: -3.80},
		{CustomerID: "user123", AccountType: Checking, Date: "2026-01-07", Description: "Internet Bill", Amount: -55.00},
		{CustomerID: "user123", AccountType: Checking, Date: "2026-01-06", Description: "Restaurant", Amount: -45.20},
	}
	for _, tx := range seed {
		if err := InsertTransaction(ctx, pool, tx); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	store := NewPostgresStore(pool)

	last, err := store.LastTransaction(ctx, "user123", Checking)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last.Description != "Salary" {
		t.Fatalf("expected seq tie-break to pick Salary, got %q", last.Description)
	}

	rows, err := store.RecentTransactions(ctx, "user123", Checking, 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}

	byDate, err := store.TransactionsByDate(ctx, "user123", Checking, "2026-01-09")
	if err != nil {
		t.Fatalf("by date: %v", err)
	}
	if len(byDate) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(byDate))
	}

	balance, err := store.Balance(ctx, "user123", Checking)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2353.70 {
		t.Fatalf("expected 2353.70, got %v", balance)
	}

	emptyBalance, err := store.Balance(ctx, "ghost", Checking)
	if err != nil || emptyBalance != 0 {
		t.Fatalf("empty balance: got %v %v", emptyBalance, err)
	}
	if _, err := store.LastTransaction(ctx, "ghost", Checking); !errors.Is(err, ErrNoTransactions) {
		t.Fatalf("expected ErrNoTransactions, got %v", err)
	}
}
