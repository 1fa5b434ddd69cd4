package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

// IntegrityChecker verifies the audit chain.  *Engine implements it.
type IntegrityChecker interface {
	Integrity(ctx context.Context) (types.IntegrityReport, error)
}

// IntegrityObserver is told the outcome of every periodic check.
type IntegrityObserver interface {
	ObserveIntegrity(valid bool)
}

// IntegrityMonitor periodically verifies the audit chain and reports the
// result to its observers.  It runs as a background goroutine and is safe
// to stop via its context or the Stop method.
//
// An interval of 0 disables the periodic check entirely.
type IntegrityMonitor struct {
	checker   IntegrityChecker
	observers []IntegrityObserver
	interval  time.Duration
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewIntegrityMonitor creates a monitor but does not start it.
func NewIntegrityMonitor(c IntegrityChecker, interval time.Duration, logger *slog.Logger, observers ...IntegrityObserver) *IntegrityMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityMonitor{
		checker:   c,
		observers: observers,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate check, then repeats on the configured interval
// until ctx is cancelled or Stop is called.
func (m *IntegrityMonitor) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info("integrity monitor disabled")
		m.Check(ctx)
		close(m.done)
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)

	go m.loop(ctx)

	m.logger.Info("integrity monitor started", "interval", m.interval)
}

// Stop signals the monitor to exit and waits for it to finish.
func (m *IntegrityMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

func (m *IntegrityMonitor) loop(ctx context.Context) {
	defer close(m.done)

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check verifies the chain once.  A verification that cannot run is
// reported as invalid.
func (m *IntegrityMonitor) Check(ctx context.Context) bool {
	rep, err := m.checker.Integrity(ctx)
	valid := err == nil && rep.Valid
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return false
		}
		m.logger.Error("audit chain verification failed", "err", err)
	case !rep.Valid:
		m.logger.Error("audit chain integrity violation",
			"first_violation", *rep.FirstViolation,
			"violation", rep.Violation,
		)
	default:
		m.logger.Debug("audit chain verified", "records", rep.RecordsChecked)
	}
	for _, o := range m.observers {
		o.ObserveIntegrity(valid)
	}
	return valid
}
