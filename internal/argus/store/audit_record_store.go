package store

import (
	"context"
	"time"
)

// AuditRecord is one link of the audit hash chain as it is persisted.
// Records are written once and never updated or deleted.
type AuditRecord struct {
	Seq              int64
	Timestamp        time.Time
	EventType        string
	PrincipalID      *string // nil when no principal was evaluated
	Decision         string
	Confidence       float64
	Reason           string
	SecondFactorUsed bool
	Origin           string
	PrevHash         string
	Hash             string
}

// AuditQuery selects a most-recent-first page of records.  An empty
// PrincipalID matches every record.
type AuditQuery struct {
	PrincipalID string
	Limit       int
	Offset      int
}

// AuditRecordStore persists the audit chain as an append-only sequence.
type AuditRecordStore interface {
	AppendRecord(ctx context.Context, rec AuditRecord) error
	// LastRecord returns the tail of the chain, or nil when the log is empty.
	LastRecord(ctx context.Context) (*AuditRecord, error)
	// ListRecords returns every record oldest-first.
	ListRecords(ctx context.Context) ([]AuditRecord, error)
	QueryRecords(ctx context.Context, q AuditQuery) ([]AuditRecord, error)
	CountRecords(ctx context.Context, principalID string) (int64, error)
}
