package application

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/pkg/logger"
)

// Job es una tarea periódica del outbox (dispatcher, retention, monitor).
type Job interface {
	Run(ctx context.Context)
}

// JobFunc adapta una función a Job.
type JobFunc func(ctx context.Context)

func (f JobFunc) Run(ctx context.Context) { f(ctx) }

// Every construye la expresión cron para un intervalo fijo.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Scheduler ejecuta jobs sin solapamiento: si una ejecución sigue activa,
// el siguiente tick de ese mismo job se salta.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger

	// ctx de los jobs; solo se cancela si Stop no puede esperar.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(log *zap.Logger) *Scheduler {
	cl := logger.Cron(log)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registra un job con una expresión cron ("0 3 * * *") o "@every 5s".
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		job.Run(s.ctx)
		s.log.Debug("⏱️ Job completado", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.log.Info("🗓️ Job programado", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("🚀 Scheduler de outbox iniciado", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop deja de programar y espera a que terminen las ejecuciones en curso.
// Si ctx vence antes, cancela el contexto de los jobs y devuelve ctx.Err().
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	defer s.cancel()

	select {
	case <-done.Done():
		s.log.Info("🛑 Scheduler de outbox detenido")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
		s.log.Warn("⚠️ Scheduler detenido con jobs cancelados")
		return ctx.Err()
	}
}
