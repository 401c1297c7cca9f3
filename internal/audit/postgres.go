package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ads-console/internal/ads"
	"ads-console/pkg/utils"
)

// PostgresStore persists audit records in Postgres.
//
// ID assignment: a single counter row in audit_sequence is locked FOR UPDATE
// inside the append transaction. The row lock serializes concurrent appends,
// and because the increment and the insert commit atomically there are no
// gaps: a rolled-back append rolls back its counter increment too. A plain
// sequence would leak gaps on rollback.
//
// Durability: Append returns only after the transaction commits.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

// EnsureSchema creates the audit tables and indexes if they do not exist.
// Indexes cover the query surface: id (PK), actor, entity_type,
// correlation_id, timestamp range.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_sequence (
			name  TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		)`,
		`INSERT INTO audit_sequence (name, value) VALUES ('audit_records', 0)
		 ON CONFLICT (name) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS audit_records (
			id             BIGINT PRIMARY KEY,
			ts             TIMESTAMPTZ NOT NULL,
			actor          TEXT NOT NULL,
			account_id     TEXT NOT NULL,
			entity_type    TEXT NOT NULL,
			entity_id      TEXT NOT NULL DEFAULT '',
			operation      TEXT NOT NULL,
			before_state   JSONB NOT NULL DEFAULT '{}',
			after_state    JSONB NOT NULL DEFAULT '{}',
			outcome        TEXT NOT NULL,
			error_detail   TEXT NOT NULL DEFAULT '',
			error_code     TEXT NOT NULL DEFAULT '',
			latency_ms     BIGINT NOT NULL DEFAULT 0,
			correlation_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_records (ts)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_records (actor)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entity_type ON audit_records (entity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_records (correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_account ON audit_records (account_id)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, r Record) (Record, error) {
	if err := validate(r); err != nil {
		return Record{}, err
	}

	before, err := marshalState(r.Before)
	if err != nil {
		return Record{}, err
	}
	after, err := marshalState(r.After)
	if err != nil {
		return Record{}, err
	}

	now := s.clock().UTC()

	var out Record
	err = utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		id, err := nextID(ctx, tx)
		if err != nil {
			return err
		}

		const q = `
INSERT INTO audit_records (
  id, ts, actor, account_id, entity_type, entity_id, operation,
  before_state, after_state, outcome, error_detail, error_code, latency_ms, correlation_id
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
`
		if _, err := tx.ExecContext(ctx, q,
			id,
			now,
			r.Actor,
			r.AccountID,
			string(r.EntityType),
			r.EntityID,
			string(r.Operation),
			before,
			after,
			string(r.Outcome),
			r.ErrorDetail,
			r.ErrorCode,
			r.LatencyMS,
			r.CorrelationID,
		); err != nil {
			return err
		}

		out = r
		out.ID = id
		out.Timestamp = now
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

// nextID locks the counter row and advances it. The lock is held until the
// surrounding transaction commits, which is what serializes ID assignment.
func nextID(ctx context.Context, tx *sql.Tx) (int64, error) {
	const q = `
UPDATE audit_sequence SET value = value + 1
WHERE name = 'audit_records'
RETURNING value
`
	var id int64
	if err := tx.QueryRowContext(ctx, q).Scan(&id); err != nil {
		return 0, fmt.Errorf("audit sequence: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Query(ctx context.Context, f Filter, p Page) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	add("id > $%d", p.AfterID)
	if f.AccountID != "" {
		add("account_id = $%d", f.AccountID)
	}
	if f.Actor != "" {
		add("actor = $%d", f.Actor)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", string(f.EntityType))
	}
	if f.Outcome != "" {
		add("outcome = $%d", string(f.Outcome))
	}
	if f.CorrelationID != "" {
		add("correlation_id = $%d", f.CorrelationID)
	}
	if !f.From.IsZero() {
		add("ts >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("ts < $%d", f.To)
	}

	args = append(args, p.limit())
	q := fmt.Sprintf(`
SELECT id, ts, actor, account_id, entity_type, entity_id, operation,
       before_state, after_state, outcome, error_detail, error_code, latency_ms, correlation_id
FROM audit_records
WHERE %s
ORDER BY id ASC
LIMIT $%d
`, strings.Join(conds, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetByCorrelation(ctx context.Context, accountID, correlationID string) ([]Record, error) {
	return s.Query(ctx, Filter{AccountID: accountID, CorrelationID: correlationID}, Page{Limit: MaxPageLimit})
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r              Record
		entityType     string
		operation      string
		outcome        string
		before, after  []byte
	)
	if err := rows.Scan(
		&r.ID,
		&r.Timestamp,
		&r.Actor,
		&r.AccountID,
		&entityType,
		&r.EntityID,
		&operation,
		&before,
		&after,
		&outcome,
		&r.ErrorDetail,
		&r.ErrorCode,
		&r.LatencyMS,
		&r.CorrelationID,
	); err != nil {
		return Record{}, err
	}

	r.EntityType = ads.EntityType(entityType)
	r.Operation = ads.Operation(operation)
	r.Outcome = Outcome(outcome)

	var err error
	if r.Before, err = unmarshalState(before); err != nil {
		return Record{}, err
	}
	if r.After, err = unmarshalState(after); err != nil {
		return Record{}, err
	}
	return r, nil
}

func marshalState(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("audit state marshal: %w", err)
	}
	return b, nil
}

func unmarshalState(b []byte) (map[string]string, error) {
	if len(b) == 0 || string(b) == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("audit state unmarshal: %w", err)
	}
	return m, nil
}
