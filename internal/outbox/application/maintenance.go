package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

// SingletonLock limita un job a una sola instancia del clúster.
// TryRun devuelve ran=false si otra instancia tiene el lock.
type SingletonLock interface {
	TryRun(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (ran bool, err error)
}

// runSingleton ejecuta fn bajo el lock si lo hay; sin lock corre en local.
func runSingleton(ctx context.Context, lock SingletonLock, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	if lock == nil {
		return true, fn(ctx)
	}
	return lock.TryRun(ctx, name, ttl, fn)
}

// ---------- Retention ----------

const DefaultRetention = 7 * 24 * time.Hour

// RetentionSweeper borra los PUBLISHED más antiguos que la ventana. Los FAILED se conservan.
type RetentionSweeper struct {
	repo   domain.OutboxRepository
	window time.Duration
	lock   SingletonLock
	now    func() time.Time
	log    *zap.Logger
}

func NewRetentionSweeper(repo domain.OutboxRepository, window time.Duration, lock SingletonLock, log *zap.Logger) *RetentionSweeper {
	if window <= 0 {
		window = DefaultRetention
	}
	return &RetentionSweeper{repo: repo, window: window, lock: lock, now: time.Now, log: log}
}

func (s *RetentionSweeper) Run(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil {
		s.log.Warn("⚠️ Limpieza de outbox fallida", zap.Error(err))
	}
}

// SweepOnce devuelve cuántos registros se borraron (0 si otra instancia tenía el lock).
func (s *RetentionSweeper) SweepOnce(ctx context.Context) (int64, error) {
	var deleted int64
	ran, err := runSingleton(ctx, s.lock, "outbox:retention", time.Hour, func(ctx context.Context) error {
		cutoff := s.now().Add(-s.window)
		n, err := s.repo.DeletePublishedBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("delete published before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !ran {
		s.log.Debug("🔒 Limpieza en curso en otra instancia")
		return 0, nil
	}
	s.log.Info("🧹 Limpieza de outbox completada", zap.Int64("deleted", deleted), zap.Duration("retention", s.window))
	return deleted, nil
}

// ---------- Monitor ----------

const DefaultFailedAlertThreshold = 100

// StatusSink recibe el recuento por estado de cada pasada del monitor.
type StatusSink interface {
	RecordStatusCounts(ctx context.Context, counts map[domain.Status]int64, at time.Time) error
}

// Monitor emite los recuentos por estado y avisa si hay demasiados FAILED.
type Monitor struct {
	repo      domain.OutboxRepository
	sinks     []StatusSink
	threshold int64
	lock      SingletonLock
	now       func() time.Time
	log       *zap.Logger
}

func NewMonitor(repo domain.OutboxRepository, threshold int64, lock SingletonLock, log *zap.Logger, sinks ...StatusSink) *Monitor {
	// 0 es válido: cualquier FAILED dispara el aviso.
	if threshold < 0 {
		threshold = DefaultFailedAlertThreshold
	}
	return &Monitor{repo: repo, sinks: sinks, threshold: threshold, lock: lock, now: time.Now, log: log}
}

func (m *Monitor) Run(ctx context.Context) {
	if _, err := m.CheckOnce(ctx); err != nil {
		m.log.Warn("⚠️ Monitor de outbox fallido", zap.Error(err))
	}
}

// CheckOnce devuelve los recuentos (nil si otra instancia tenía el lock).
func (m *Monitor) CheckOnce(ctx context.Context) (map[domain.Status]int64, error) {
	var counts map[domain.Status]int64
	ran, err := runSingleton(ctx, m.lock, "outbox:monitor", time.Minute, func(ctx context.Context) error {
		c, err := m.repo.CountByStatus(ctx)
		if err != nil {
			return fmt.Errorf("count by status: %w", err)
		}
		counts = withAllStatuses(c)
		return nil
	})
	if err != nil || !ran {
		return nil, err
	}

	m.log.Info("📊 Estado del outbox",
		zap.Int64("pending", counts[domain.StatusPending]),
		zap.Int64("published", counts[domain.StatusPublished]),
		zap.Int64("failed", counts[domain.StatusFailed]),
	)
	if failed := counts[domain.StatusFailed]; failed > m.threshold {
		m.log.Warn("🚨 Demasiados eventos FAILED en outbox",
			zap.Int64("failed", failed),
			zap.Int64("threshold", m.threshold),
		)
	}

	at := m.now().UTC()
	for _, sink := range m.sinks {
		if err := sink.RecordStatusCounts(ctx, counts, at); err != nil {
			m.log.Warn("⚠️ No se pudieron exportar las métricas del outbox", zap.Error(err))
		}
	}
	return counts, nil
}

func withAllStatuses(c map[domain.Status]int64) map[domain.Status]int64 {
	out := map[domain.Status]int64{
		domain.StatusPending:   0,
		domain.StatusPublished: 0,
		domain.StatusFailed:    0,
	}
	for k, v := range c {
		out[k] = v
	}
	return out
}
