// Package audit persists one record per answered query. Customer
// identifiers are stored as salted hashes, never in the clear.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Writer struct {
	DB       auditDB
	HashSalt []byte
}

type Record struct {
	QueryID        string
	CustomerIDHash string
	SessionID      string
	Status         string
	AnswerSource   string
	ToolCalls      int
	Refusals       int
	LatencyMS      int64
	CreatedAt      time.Time
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS query_audit (
	query_id         TEXT PRIMARY KEY,
	customer_id_hash TEXT NOT NULL,
	session_id       TEXT NOT NULL,
	status           TEXT NOT NULL,
	answer_source    TEXT NOT NULL DEFAULT '',
	tool_calls       INT NOT NULL DEFAULT 0,
	refusals         INT NOT NULL DEFAULT 0,
	latency_ms       BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL
);
`

func EnsureSchema(ctx context.Context, db auditDB) error {
	_, err := db.Exec(ctx, schemaDDL)
	return err
}

// HashIdentity returns the salted hash under which a customer appears in
// audit rows and stream events.
func (w *Writer) HashIdentity(customerID string) string {
	h := sha256.New()
	h.Write(w.HashSalt)
	h.Write([]byte(customerID))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (w *Writer) Append(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO query_audit
		(query_id, customer_id_hash, session_id, status, answer_source, tool_calls, refusals, latency_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.QueryID, rec.CustomerIDHash, rec.SessionID, rec.Status, rec.AnswerSource, rec.ToolCalls, rec.Refusals, rec.LatencyMS, rec.CreatedAt)
	return err
}

func (w *Writer) Get(ctx context.Context, queryID string) (Record, error) {
	var rec Record
	row := w.DB.QueryRow(ctx, `
		SELECT query_id, customer_id_hash, session_id, status, answer_source, tool_calls, refusals, latency_ms, created_at
		FROM query_audit WHERE query_id=$1
	`, queryID)
	if err := row.Scan(&rec.QueryID, &rec.CustomerIDHash, &rec.SessionID, &rec.Status, &rec.AnswerSource, &rec.ToolCalls, &rec.Refusals, &rec.LatencyMS, &rec.CreatedAt); err != nil {
		return rec, err
	}
	return rec, nil
}
