package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
)

// AuditRecordStore is an in-memory append-only audit log.
// It is intended for use in tests and dev environments.
type AuditRecordStore struct {
	mu       sync.Mutex
	records  []store.AuditRecord
	writeErr error
}

func NewAuditRecordStore() *AuditRecordStore {
	return &AuditRecordStore{}
}

func (s *AuditRecordStore) AppendRecord(_ context.Context, rec store.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.records = append(s.records, cloneRecord(rec))
	return nil
}

func (s *AuditRecordStore) LastRecord(_ context.Context) (*store.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return nil, nil
	}
	rec := cloneRecord(s.records[len(s.records)-1])
	return &rec, nil
}

func (s *AuditRecordStore) ListRecords(_ context.Context) ([]store.AuditRecord, error) {
	return s.Records(), nil
}

func (s *AuditRecordStore) QueryRecords(_ context.Context, q store.AuditQuery) ([]store.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.AuditRecord
	skipped := 0
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if q.PrincipalID != "" && (rec.PrincipalID == nil || *rec.PrincipalID != q.PrincipalID) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func (s *AuditRecordStore) CountRecords(_ context.Context, principalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if principalID == "" {
		return int64(len(s.records)), nil
	}
	var n int64
	for _, rec := range s.records {
		if rec.PrincipalID != nil && *rec.PrincipalID == principalID {
			n++
		}
	}
	return n, nil
}

// Records returns a copy of all records oldest-first.  Test-only helper.
func (s *AuditRecordStore) Records() []store.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AuditRecord, len(s.records))
	for i, rec := range s.records {
		out[i] = cloneRecord(rec)
	}
	return out
}

// Tamper rewrites the record at index i out-of-band, bypassing the chain.
// Test-only helper used to exercise verification.
func (s *AuditRecordStore) Tamper(i int, fn func(*store.AuditRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.records[i])
}

// Remove drops the record at index i out-of-band.  Test-only helper.
func (s *AuditRecordStore) Remove(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records[:i], s.records[i+1:]...)
}

// FailWrites makes every subsequent append return err (nil restores normal
// behaviour).  Test-only helper.
func (s *AuditRecordStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func cloneRecord(rec store.AuditRecord) store.AuditRecord {
	if rec.PrincipalID != nil {
		id := *rec.PrincipalID
		rec.PrincipalID = &id
	}
	return rec
}
