package worker

import (
	"context"
	"time"

	"github.com/eventstreamhq/engine/internal/pkg/logger"
	"github.com/eventstreamhq/engine/internal/reconcile"
)

const (
	// DefaultReconcileInterval is how often orphaned receipts are
	// re-swept and stale SENT messages re-checked.
	DefaultReconcileInterval = 5 * time.Minute

	// staleSentAfter is how long a message may sit in SENT before the
	// gateway is asked directly.
	staleSentAfter = 30 * time.Minute

	// maintenanceBatch bounds each sweep.
	maintenanceBatch = 500
)

// Maintainer runs the periodic reconciliation work: receipts that
// arrived before their message existed, and messages whose final
// receipt never arrived.
type Maintainer struct {
	reconciler *reconcile.Reconciler
	interval   time.Duration
	now        func() time.Time
}

// NewMaintainer creates a Maintainer. interval <= 0 falls back to
// DefaultReconcileInterval.
func NewMaintainer(reconciler *reconcile.Reconciler, interval time.Duration) *Maintainer {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Maintainer{reconciler: reconciler, interval: interval, now: time.Now}
}

// Start runs the sweep loop until the context is cancelled.
func (m *Maintainer) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logger.Info("reconcile maintainer started", "interval", m.interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("reconcile maintainer stopped")
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Maintainer) sweep(ctx context.Context) {
	matched, err := m.reconciler.SweepReceipts(ctx, maintenanceBatch)
	if err != nil {
		logger.Error("receipt sweep failed", "error", err)
	} else if matched > 0 {
		logger.Info("orphan receipts matched", "count", matched)
	}

	cutoff := m.now().UTC().Add(-staleSentAfter)
	repaired, err := m.reconciler.RepairStaleSent(ctx, cutoff, maintenanceBatch)
	if err != nil {
		logger.Error("stale message repair failed", "error", err)
	} else if repaired > 0 {
		logger.Info("stale messages repaired", "count", repaired)
	}
}
