package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PostgresStore reads the transactions table via pgx. The table is
// append-only; seq is a bigserial so insertion order survives restarts.
type PostgresStore struct {
	db pgxDB
}

// pgxDB matches *pgxpool.Pool and pgx.Tx.
type pgxDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func NewPostgresStore(db pgxDB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `customer_id, account_type, date::text, description, amount, currency, seq`

func (s *PostgresStore) LastTransaction(ctx context.Context, customerID string, account AccountType) (Transaction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM transactions
		WHERE customer_id=$1 AND account_type=$2
		ORDER BY date DESC, seq DESC
		LIMIT 1
	`, customerID, string(account))
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNoTransactions
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("last transaction: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) RecentTransactions(ctx context.Context, customerID string, account AccountType, limit int) ([]Transaction, error) {
	limit = ClampLimit(limit)
	rows, err := s.db.Query(ctx, `
		SELECT `+selectColumns+`
		FROM transactions
		WHERE customer_id=$1 AND account_type=$2
		ORDER BY date DESC, seq DESC
		LIMIT $3
	`, customerID, string(account), limit)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (s *PostgresStore) TransactionsByDate(ctx context.Context, customerID string, account AccountType, date string) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+selectColumns+`
		FROM transactions
		WHERE customer_id=$1 AND account_type=$2 AND date=$3::date
		ORDER BY seq DESC
	`, customerID, string(account), date)
	if err != nil {
		return nil, fmt.Errorf("transactions by date: %w", err)
	}
	return collectTransactions(rows)
}

func (s *PostgresStore) Balance(ctx context.Context, customerID string, account AccountType) (float64, error) {
	var sum float64
	row := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE customer_id=$1 AND account_type=$2
	`, customerID, string(account))
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return RoundCents(sum), nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var tx Transaction
	var account string
	if err := row.Scan(&tx.CustomerID, &account, &tx.Date, &tx.Description, &tx.Amount, &tx.Currency, &tx.Seq); err != nil {
		return Transaction{}, err
	}
	tx.AccountType = AccountType(account)
	return tx, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoTransactions
	}
	return out, nil
}
