package ledger

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

type execDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS transactions (
	seq          BIGSERIAL PRIMARY KEY,
	customer_id  TEXT NOT NULL,
	account_type TEXT NOT NULL,
	date         DATE NOT NULL,
	description  TEXT NOT NULL,
	amount       DOUBLE PRECISION NOT NULL,
	currency     TEXT NOT NULL DEFAULT 'USD'
);
CREATE INDEX IF NOT EXISTS transactions_scope_idx
	ON transactions (customer_id, account_type, date DESC, seq DESC);
`

// EnsureSchema creates the transactions table and its scope index.
func EnsureSchema(ctx context.Context, db execDB) error {
	_, err := db.Exec(ctx, schemaDDL)
	return err
}

// InsertTransaction appends one row; seq is assigned by the database.
func InsertTransaction(ctx context.Context, db execDB, tx Transaction) error {
	currency := tx.Currency
	if currency == "" {
		currency = "USD"
	}
	_, err := db.Exec(ctx, `
		INSERT INTO transactions (customer_id, account_type, date, description, amount, currency)
		VALUES ($1, $2, $3::date, $4, $5, $6)
	`, tx.CustomerID, string(tx.AccountType), tx.Date, tx.Description, tx.Amount, currency)
	return err
}
