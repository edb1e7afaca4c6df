package lifecycle

import (
	"context"
	"errors"
	"time"

	"reelvault/internal/logging"
	"reelvault/internal/metadata"
	"reelvault/internal/metrics"
)

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	Expired       int           `json:"expired"`
	FreedBytes    int64         `json:"freedBytes"`
	HistoryPruned int64         `json:"historyPruned"`
	Errors        int           `json:"errors"`
	Duration      time.Duration `json:"duration"`
}

// ExpirySweep removes records without a set name older than the retention
// window and prunes old transcode history.
func (m *Manager) ExpirySweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	now := m.now().UTC()
	result := SweepResult{}
	var errs []error

	expired := func(rec metadata.FileRecord) bool {
		return rec.Expired(now, m.retention)
	}
	for _, rec := range m.store.List() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !expired(rec) {
			continue
		}
		freed, ok, err := m.removeRecord(rec, CauseExpired, expired)
		if err != nil {
			result.Errors++
			errs = append(errs, err)
			continue
		}
		if ok {
			result.Expired++
			result.FreedBytes += freed
		}
	}

	if m.history != nil && m.historyRetention > 0 {
		pruned, err := m.history.Prune(ctx, now.Add(-m.historyRetention))
		if err != nil {
			result.Errors++
			errs = append(errs, err)
		}
		result.HistoryPruned = pruned
	}

	result.Duration = time.Since(start)
	metrics.SweepRunsTotal.Inc()
	metrics.SweepDuration.Observe(result.Duration.Seconds())
	m.logger.Info("expiry sweep complete",
		logging.String(logging.FieldEventType, "expiry_sweep"),
		logging.Int("expired", result.Expired),
		logging.Int64("freed_bytes", result.FreedBytes),
		logging.Int64("history_pruned", result.HistoryPruned),
		logging.Int("errors", result.Errors),
		logging.Duration("duration", result.Duration),
	)
	return result, errors.Join(errs...)
}

// RunOnce runs a single sweep. Concurrent calls are serialized.
func (m *Manager) RunOnce(ctx context.Context) (SweepResult, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	result, err := m.ExpirySweep(ctx)
	if err != nil && ctx.Err() == nil {
		logging.WarnWithContext(m.logger, "expiry sweep finished with errors", "expiry_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check storage permissions and the metadata document"),
			logging.String(logging.FieldImpact, "some expired files remain until the next sweep"),
		)
	}
	return result, err
}

// Start runs a sweep immediately and then every sweep interval until Stop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.run(runCtx, m.done)
	m.logger.Info("lifecycle sweeper started",
		logging.Duration("interval", m.interval),
		logging.Duration("retention", m.retention),
	)
}

// Stop halts the sweeper and waits for an in-flight sweep to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("lifecycle sweeper stopped")
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	_, _ = m.RunOnce(ctx)

	interval := m.interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = m.RunOnce(ctx)
		}
	}
}
