package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
)

var (
	ErrInvalidDecision = errors.New("audit: decision must be granted or denied")
	ErrMissingType     = errors.New("audit: event type is required")
)

// Chain appends records to an AuditRecordStore, keeping the tail hash in
// memory.  Appends are serialized by a single lock held across reading the
// tail, hashing and persisting.
type Chain struct {
	mu       sync.Mutex
	store    store.AuditRecordStore
	now      func() time.Time
	lastHash string
	nextSeq  int64
}

type Option func(*Chain)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// NewChain loads the current tail from st.
func NewChain(ctx context.Context, st store.AuditRecordStore, opts ...Option) (*Chain, error) {
	c := &Chain{store: st, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.resync(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Append records ev and returns the new record's hash.  A persistence failure
// is returned and the in-memory tail is reloaded from the store.
func (c *Chain) Append(ctx context.Context, ev Event) (string, error) {
	if ev.Type == "" {
		return "", ErrMissingType
	}
	if ev.Decision != DecisionGranted && ev.Decision != DecisionDenied {
		return "", ErrInvalidDecision
	}
	conf := ev.Confidence
	if math.IsNaN(conf) || math.IsInf(conf, 0) {
		conf = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := store.AuditRecord{
		Seq:              c.nextSeq,
		Timestamp:        c.now().UTC().Truncate(time.Microsecond),
		EventType:        ev.Type,
		Decision:         ev.Decision,
		Confidence:       conf,
		Reason:           ev.Reason,
		SecondFactorUsed: ev.SecondFactorUsed,
		Origin:           ev.Origin,
		PrevHash:         c.lastHash,
	}
	if ev.PrincipalID != "" {
		id := ev.PrincipalID
		rec.PrincipalID = &id
	}

	hash, err := ComputeHash(rec)
	if err != nil {
		return "", err
	}
	rec.Hash = hash

	if err := c.store.AppendRecord(ctx, rec); err != nil {
		appendErr := fmt.Errorf("append audit record: %w", err)
		if rerr := c.resync(context.WithoutCancel(ctx)); rerr != nil {
			return "", errors.Join(appendErr, rerr)
		}
		return "", appendErr
	}

	c.lastHash = hash
	c.nextSeq++
	return hash, nil
}

// Verify checks the full stored sequence.
func (c *Chain) Verify(ctx context.Context) (VerifyResult, error) {
	recs, err := c.store.ListRecords(ctx)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load audit records: %w", err)
	}
	return VerifyRecords(recs), nil
}

// Query returns a most-recent-first page of records.
func (c *Chain) Query(ctx context.Context, q store.AuditQuery) ([]store.AuditRecord, error) {
	recs, err := c.store.QueryRecords(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return recs, nil
}

// Count returns the number of records, optionally for one principal.
func (c *Chain) Count(ctx context.Context, principalID string) (int64, error) {
	return c.store.CountRecords(ctx, principalID)
}

func (c *Chain) resync(ctx context.Context) error {
	last, err := c.store.LastRecord(ctx)
	if err != nil {
		return fmt.Errorf("load audit tail: %w", err)
	}
	if last == nil {
		c.lastHash = GenesisHash
		c.nextSeq = 0
		return nil
	}
	c.lastHash = last.Hash
	c.nextSeq = last.Seq + 1
	return nil
}
