package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

// DispatchResult resume un ciclo de polling.
type DispatchResult struct {
	Claimed   int
	Published int
	Retried   int
	Failed    int
	Deferred  int
	Lost      int
}

// DispatchRecorder recibe el resultado de cada ciclo (métricas).
type DispatchRecorder interface {
	RecordDispatch(ctx context.Context, res DispatchResult)
}

type DispatcherConfig struct {
	InstanceID string
	BatchSize  int
	ClaimLease time.Duration
	// PublishTimeout acota cada envío; por defecto la mitad del lease.
	PublishTimeout time.Duration
}

// Dispatcher reclama registros PENDING, los publica y reclasifica su estado.
type Dispatcher struct {
	repo       domain.OutboxRepository
	broker     domain.BrokerPublisher
	classifier domain.RetryClassifier
	recorders  []DispatchRecorder
	cfg        DispatcherConfig
	now        func() time.Time
	log        *zap.Logger
}

func NewDispatcher(
	repo domain.OutboxRepository,
	broker domain.BrokerPublisher,
	classifier domain.RetryClassifier,
	cfg DispatcherConfig,
	log *zap.Logger,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 30 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = cfg.ClaimLease / 2
	}
	if classifier == nil {
		classifier = domain.RetryClassifierFunc(nil)
	}
	return &Dispatcher{
		repo:       repo,
		broker:     broker,
		classifier: classifier,
		cfg:        cfg,
		now:        time.Now,
		log:        log,
	}
}

// WithRecorder añade un destino de métricas para cada ciclo.
func (d *Dispatcher) WithRecorder(r DispatchRecorder) *Dispatcher {
	if r != nil {
		d.recorders = append(d.recorders, r)
	}
	return d
}

// Run es el job del scheduler.
func (d *Dispatcher) Run(ctx context.Context) {
	if _, err := d.DispatchOnce(ctx); err != nil {
		d.log.Warn("⚠️ Ciclo de outbox fallido", zap.Error(err))
	}
}

// DispatchOnce ejecuta un ciclo: claim, publish y reclasificación.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult

	records, err := d.repo.ClaimPending(ctx, d.cfg.InstanceID, d.cfg.BatchSize, d.cfg.ClaimLease, d.now())
	if err != nil {
		return res, fmt.Errorf("claim pending: %w", err)
	}
	res.Claimed = len(records)
	if res.Claimed == 0 {
		return res, nil
	}
	d.log.Info(fmt.Sprintf("📬 %d eventos reclamados para publicar", res.Claimed), zap.String("instance", d.cfg.InstanceID))

	for i, rec := range records {
		// En shutdown se deja el resto: su lease expira y otro ciclo los recoge.
		if ctx.Err() != nil {
			break
		}
		// Un envío solo empieza si cabe entero dentro del lease; si no, otra
		// instancia puede reclamar el registro y publicarlo a la vez.
		if rec.ClaimExpired(d.now().Add(d.cfg.PublishTimeout)) {
			res.Lost += len(records) - i
			d.log.Warn("⌛ Lease agotado, se abandona el resto del lote",
				zap.Int("abandoned", len(records)-i),
				zap.String("instance", d.cfg.InstanceID),
			)
			break
		}

		attempt := d.attempt(ctx, rec)
		if attempt.Outcome != domain.Published && ctx.Err() != nil {
			// Cancelado a mitad del envío: no cuenta como fallo del broker.
			break
		}
		if attempt.Outcome == domain.Deferred {
			res.Deferred = len(records) - i
			d.log.Warn("⏸️ Broker no disponible, se aplaza el resto del ciclo",
				zap.Int("deferred", res.Deferred),
				zap.Error(attempt.Err),
			)
			break
		}
		d.apply(ctx, rec, attempt, &res)
	}

	for _, r := range d.recorders {
		r.RecordDispatch(ctx, res)
	}
	return res, nil
}

func (d *Dispatcher) attempt(ctx context.Context, rec *domain.OutboxRecord) domain.PublishResult {
	deadline := d.now().Add(d.cfg.PublishTimeout)
	if rec.ClaimedUntil != nil && rec.ClaimedUntil.Before(deadline) {
		deadline = *rec.ClaimedUntil
	}
	attemptCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	err := d.broker.Publish(attemptCtx, toBrokerMessage(rec))
	switch {
	case err == nil:
		return domain.PublishResult{Outcome: domain.Published}
	case errors.Is(err, domain.ErrPublishDeferred):
		return domain.PublishResult{Outcome: domain.Deferred, Err: err}
	case d.classifier.IsPermanent(err):
		return domain.PublishResult{Outcome: domain.PermanentFailure, Err: err}
	default:
		return domain.PublishResult{Outcome: domain.RetryableFailure, Err: err}
	}
}

func (d *Dispatcher) apply(ctx context.Context, rec *domain.OutboxRecord, attempt domain.PublishResult, res *DispatchResult) {
	now := d.now()
	fields := []zap.Field{
		zap.String("event_id", rec.EventID),
		zap.String("topic", rec.Topic),
	}

	var err error
	switch attempt.Outcome {
	case domain.Published:
		err = rec.MarkPublished(now)
	case domain.PermanentFailure:
		err = rec.MarkFailed(attempt.Err.Error(), now)
	default:
		err = rec.RegisterFailure(attempt.Err.Error(), now)
	}
	if err != nil {
		d.log.Error("❌ Transición inválida", append(fields, zap.Error(err))...)
		return
	}

	if err := d.repo.SaveDispatchState(ctx, rec, d.cfg.InstanceID); err != nil {
		if errors.Is(err, domain.ErrClaimLost) {
			res.Lost++
			d.log.Warn("⚠️ Claim perdido, otro dispatcher es dueño del registro", fields...)
			return
		}
		// El registro sigue PENDING; se reintentará cuando expire el lease.
		d.log.Error("❌ No se pudo guardar el estado del registro", append(fields, zap.Error(err))...)
		return
	}

	switch {
	case rec.Status == domain.StatusPublished:
		res.Published++
		d.log.Info("✅ Evento publicado", fields...)
	case rec.Status == domain.StatusFailed:
		res.Failed++
		d.log.Error("💀 Evento marcado como FAILED",
			append(fields, zap.Int("retry_count", rec.RetryCount), zap.Error(attempt.Err))...)
	default:
		res.Retried++
		d.log.Warn("🔁 Fallo al publicar, se reintentará",
			append(fields, zap.Int("retry_count", rec.RetryCount), zap.Error(attempt.Err))...)
	}
}

func toBrokerMessage(rec *domain.OutboxRecord) domain.BrokerMessage {
	return domain.BrokerMessage{
		Topic: rec.Topic,
		Key:   []byte(rec.PartitionKey),
		Value: rec.Payload,
		Headers: []domain.Header{
			{Key: domain.HeaderEventID, Value: []byte(rec.EventID)},
			{Key: domain.HeaderEventType, Value: []byte(rec.EventType)},
		},
	}
}
