package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/config"
	deliveryApp "github.com/davicafu/outboxlab/internal/delivery/application"
	infraEvents "github.com/davicafu/outboxlab/internal/infra/events"
	"github.com/davicafu/outboxlab/internal/infra/metrics"
	outboxApp "github.com/davicafu/outboxlab/internal/outbox/application"
	userApp "github.com/davicafu/outboxlab/internal/user/application"
	userDomain "github.com/davicafu/outboxlab/internal/user/domain"
	userEvents "github.com/davicafu/outboxlab/internal/user/infra/inbound/events"
	userHttp "github.com/davicafu/outboxlab/internal/user/infra/inbound/http"
	"github.com/davicafu/outboxlab/pkg/logger"

	// _ "github.com/mattn/go-sqlite3" // requires gcc
	_ "modernc.org/sqlite"
)

const (
	cacheTTL             = 24 * time.Hour
	cacheCleanupInterval = 5 * time.Minute
	shutdownTimeout      = 15 * time.Second
)

type scheduledJob struct {
	name, spec string
	job        outboxApp.Job
}

// ---------------- Main ----------------
func main() {
	if err := logger.InitWithLevel(os.Getenv("LOG_LEVEL")); err != nil {
		panic(err)
	}
	log := logger.Logger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	log = log.With(zap.String("instance_id", cfg.InstanceID))

	// ---------------- Stores ----------------
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}

	// ---------------- Broker ----------------
	brk, err := openBroker(cfg, log)
	if err != nil {
		log.Fatal("failed to open broker", zap.String("driver", cfg.BrokerDriver), zap.Error(err))
	}

	// ------------- Redis / fallback ---------
	coord := openCoordination(ctx, cfg, log)

	// ---------------- Metrics ---------------
	meterProvider, err := metrics.NewMeterProvider(ctx, metrics.ProviderConfig{
		ServiceName: "outboxlab",
		InstanceID:  cfg.InstanceID,
		Endpoint:    cfg.OtelEndpoint,
		Interval:    cfg.Outbox.MonitorInterval,
	}, log)
	if err != nil {
		log.Fatal("failed to create meter provider", zap.Error(err))
	}
	otelSink, err := metrics.NewOtelSink(meterProvider)
	if err != nil {
		log.Fatal("failed to create metrics", zap.Error(err))
	}
	sinks := []outboxApp.StatusSink{otelSink}
	if cfg.ClickHouseAddr != "" {
		ch, err := metrics.NewClickHouseSink(cfg.ClickHouseAddr, "default")
		if err != nil {
			log.Warn("⚠️ ClickHouse no disponible, snapshots desactivados", zap.Error(err))
		} else if err := ch.InitSchema(ctx); err != nil {
			log.Warn("⚠️ No se pudo crear la tabla de snapshots", zap.Error(err))
		} else {
			sinks = append(sinks, ch)
			defer ch.Close()
		}
	}

	// ---------------- Outbox ----------------
	publisher := outboxApp.NewPublisher(st.outbox, cfg.Outbox.MaxRetry, log)
	guarded := infraEvents.NewBreakerPublisher(brk.publisher, infraEvents.BreakerConfig{}, infraEvents.PermanentErrors, log)
	dispatcher := outboxApp.NewDispatcher(st.outbox, guarded, infraEvents.PermanentErrors, outboxApp.DispatcherConfig{
		InstanceID: cfg.InstanceID,
		BatchSize:  cfg.Outbox.BatchSize,
		ClaimLease: cfg.Outbox.ClaimLease,
	}, log).WithRecorder(otelSink)
	sweeper := outboxApp.NewRetentionSweeper(st.outbox, cfg.Outbox.Retention, coord.lock, log)
	monitor := outboxApp.NewMonitor(st.outbox, cfg.Outbox.FailedAlertThreshold, coord.lock, log, sinks...)

	scheduler := outboxApp.NewScheduler(log)
	jobs := []scheduledJob{
		{"outbox-dispatcher", outboxApp.Every(cfg.Outbox.PollInterval), dispatcher},
		{"outbox-retention", cfg.Outbox.CleanupCron, sweeper},
		{"outbox-monitor", outboxApp.Every(cfg.Outbox.MonitorInterval), monitor},
	}
	if coord.purge != nil {
		jobs = append(jobs, scheduledJob{"idempotency-purge", outboxApp.Every(time.Hour), coord.purge})
	}
	for _, j := range jobs {
		if err := scheduler.Add(j.name, j.spec, j.job); err != nil {
			log.Fatal("failed to schedule job", zap.String("job", j.name), zap.Error(err))
		}
	}
	scheduler.Start()

	// --------------- Servicio ---------------
	userService := userApp.NewUserService(st.users, st.tx, publisher, coord.cache, log)

	// --------------- Consumer ---------------
	handler := deliveryApp.ConsumeOnce(
		coord.guard,
		userEvents.NewUserConsumer(coord.cache, log),
		cfg.Consumer.IdempotencyTTL,
		deliveryApp.FailClosed,
		log,
	)
	errHandler := deliveryApp.NewErrorHandler(handler, brk.publisher, deliveryApp.BackoffConfig{
		Initial:    cfg.Consumer.BackoffInitial,
		Multiplier: cfg.Consumer.BackoffMultiplier,
		Max:        cfg.Consumer.BackoffMax,
		MaxRetries: cfg.Consumer.MaxRetries,
	}, log)
	consumer := deliveryApp.NewConsumer(userDomain.UserTopic, brk.source(userDomain.UserTopic), errHandler, log)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil {
			log.Error("❌ Consumidor detenido por error", zap.Error(err))
		}
	}()

	// ---------------- HTTP ----------------
	router := gin.Default()
	userHttp.RegisterUserRoutes(router, userHttp.NewUserHandler(userService, log))
	userHttp.RegisterOpsRoutes(router, userHttp.NewOpsHandler(st.outbox))

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}
	go func() {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Apagando...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incompleto", zap.Error(err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Warn("Jobs del outbox interrumpidos", zap.Error(err))
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn("El consumidor no terminó a tiempo")
	}

	brk.close()
	_ = coord.closer()
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error cerrando el MeterProvider", zap.Error(err))
	}
	if err := st.close(shutdownCtx); err != nil {
		log.Warn("Error cerrando el store", zap.Error(err))
	}
	log.Info("👋 Apagado completo")
}
