package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	dbpkg "github.com/BrandonDHaskell/Argus/server/internal/db"
)

// AuditRecordStore persists the audit chain in the audit_records table.
// UPDATE and DELETE on that table are rejected by triggers.
type AuditRecordStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAuditRecordStore(db *sql.DB, writer *dbpkg.Worker) *AuditRecordStore {
	return &AuditRecordStore{db: db, writer: writer}
}

const auditColumns = `seq, ts, event_type, principal_id, decision, confidence,
  reason, second_factor_used, origin, prev_hash, hash`

// AppendRecord inserts rec.  The caller's cancellation is ignored once the
// write is queued: the chain must learn the true outcome of every append.
func (s *AuditRecordStore) AppendRecord(ctx context.Context, rec store.AuditRecord) error {
	var principalID any
	if rec.PrincipalID != nil {
		principalID = *rec.PrincipalID
	}
	var sfUsed int
	if rec.SecondFactorUsed {
		sfUsed = 1
	}

	return s.writer.Do(context.WithoutCancel(ctx), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_records(`+auditColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.Seq, formatTimestamp(rec.Timestamp), rec.EventType, principalID,
			rec.Decision, rec.Confidence, rec.Reason, sfUsed, rec.Origin,
			rec.PrevHash, rec.Hash,
		); err != nil {
			return fmt.Errorf("AppendRecord seq=%d: %w", rec.Seq, err)
		}
		return nil
	})
}

func (s *AuditRecordStore) LastRecord(ctx context.Context) (*store.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+auditColumns+` FROM audit_records ORDER BY seq DESC LIMIT 1;`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LastRecord: %w", err)
	}
	return &rec, nil
}

func (s *AuditRecordStore) ListRecords(ctx context.Context) ([]store.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+auditColumns+` FROM audit_records ORDER BY seq ASC;`)
	if err != nil {
		return nil, fmt.Errorf("ListRecords: %w", err)
	}
	return collect(rows)
}

func (s *AuditRecordStore) QueryRecords(ctx context.Context, q store.AuditQuery) ([]store.AuditRecord, error) {
	var (
		conds []string
		args  []any
	)
	if q.PrincipalID != "" {
		conds = append(conds, "principal_id = ?")
		args = append(args, q.PrincipalID)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ? OFFSET ?;"

	limit := q.Limit
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	args = append(args, limit, max(q.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryRecords: %w", err)
	}
	return collect(rows)
}

func (s *AuditRecordStore) CountRecords(ctx context.Context, principalID string) (int64, error) {
	var (
		n   int64
		err error
	)
	if principalID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records;`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM audit_records WHERE principal_id = ?;`, principalID,
		).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("CountRecords: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (store.AuditRecord, error) {
	var (
		rec         store.AuditRecord
		ts          string
		principalID sql.NullString
		sfUsed      int
	)
	if err := sc.Scan(
		&rec.Seq, &ts, &rec.EventType, &principalID, &rec.Decision, &rec.Confidence,
		&rec.Reason, &sfUsed, &rec.Origin, &rec.PrevHash, &rec.Hash,
	); err != nil {
		return store.AuditRecord{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return store.AuditRecord{}, fmt.Errorf("parse ts of seq %d: %w", rec.Seq, err)
	}
	rec.Timestamp = t
	if principalID.Valid {
		id := principalID.String
		rec.PrincipalID = &id
	}
	rec.SecondFactorUsed = sfUsed == 1
	return rec, nil
}

func collect(rows *sql.Rows) ([]store.AuditRecord, error) {
	defer rows.Close()

	var out []store.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// formatTimestamp must match the encoding used when the record hash was
// computed, so the chain verifies after a round trip through the table.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
