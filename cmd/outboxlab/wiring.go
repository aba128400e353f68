package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/config"
	deliveryDomain "github.com/davicafu/outboxlab/internal/delivery/domain"
	"github.com/davicafu/outboxlab/internal/infra/db/mongodb"
	"github.com/davicafu/outboxlab/internal/infra/db/postgres"
	"github.com/davicafu/outboxlab/internal/infra/db/sqlite"
	infraEvents "github.com/davicafu/outboxlab/internal/infra/events"
	"github.com/davicafu/outboxlab/internal/infra/idempotency"
	"github.com/davicafu/outboxlab/internal/infra/lock"
	outboxApp "github.com/davicafu/outboxlab/internal/outbox/application"
	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
	platformDB "github.com/davicafu/outboxlab/internal/shared/infra/platform/db"
	sharedCache "github.com/davicafu/outboxlab/internal/shared/infra/platform/cache"
	userDomain "github.com/davicafu/outboxlab/internal/user/domain"
	userCache "github.com/davicafu/outboxlab/internal/user/infra/outbound/cache"
	userMongo "github.com/davicafu/outboxlab/internal/user/infra/outbound/db/mongodb"
	userPostgres "github.com/davicafu/outboxlab/internal/user/infra/outbound/db/postgre"
	userSQLite "github.com/davicafu/outboxlab/internal/user/infra/outbound/db/sqlite"
)

// stores agrupa los repositorios que comparten transacción.
type stores struct {
	outbox outboxDomain.OutboxRepository
	users  userDomain.UserRepository
	tx     outboxDomain.TransactionRunner
	close  func(ctx context.Context) error
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db, log); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("✅ Postgres conectado")
		return &stores{
			outbox: postgres.NewOutboxRepoPostgres(db),
			users:  userPostgres.NewUserRepoPostgres(db),
			tx:     platformDB.NewTxManager(db, log),
			close:  func(context.Context) error { return db.Close() },
		}, nil

	case config.StoreMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("could not ping mongoDB: %w", err)
		}
		outbox := mongodb.NewOutboxRepoMongoDB(client, cfg.MongoDB)
		users := userMongo.NewUserRepoMongoDB(client, cfg.MongoDB)
		if err := outbox.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		if err := users.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		log.Info("✅ MongoDB conectado", zap.String("db", cfg.MongoDB))
		return &stores{
			outbox: outbox,
			users:  users,
			tx:     mongodb.NewTxManager(client, log),
			close:  client.Disconnect,
		}, nil

	default:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite: %w", err)
		}
		// SQLite serializa las escrituras; una conexión evita SQLITE_BUSY entre claim y publish.
		db.SetMaxOpenConns(1)
		if err := sqlite.InitOutboxSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		if err := userSQLite.InitUserSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("✅ SQLite abierto", zap.String("path", cfg.SQLitePath))
		return &stores{
			outbox: sqlite.NewOutboxRepoSQLite(db),
			users:  userSQLite.NewUserRepoSQLite(db),
			tx:     platformDB.NewTxManager(db, log),
			close:  func(context.Context) error { return db.Close() },
		}, nil
	}
}

// broker agrupa el lado productor y el de consumo del driver elegido.
type broker struct {
	publisher outboxDomain.BrokerPublisher
	source    func(topic string) deliveryDomain.Source
	closers   []func() error
}

func (b *broker) close() {
	for _, c := range b.closers {
		_ = c()
	}
}

func openBroker(cfg *config.Config, log *zap.Logger) (*broker, error) {
	b := &broker{}
	kafkaSource := func(topic string) deliveryDomain.Source {
		reader := infraEvents.NewKafkaReader(cfg.KafkaBrokers, topic, cfg.KafkaGroupID)
		b.closers = append(b.closers, reader.Close)
		return infraEvents.NewKafkaSource(reader)
	}

	switch cfg.BrokerDriver {
	case config.BrokerMemory:
		log.Info("⚡️ Usando bus de eventos en memoria")
		bus := infraEvents.NewInMemoryBus()
		b.publisher = bus
		b.source = func(topic string) deliveryDomain.Source { return bus.Subscribe(topic, 64) }
		b.closers = append(b.closers, func() error { bus.Close(); return nil })

	case config.BrokerSarama:
		log.Info("🚀 Usando Kafka (sarama) como productor")
		p, err := infraEvents.NewSaramaPublisher(cfg.KafkaBrokers, "outboxlab-"+cfg.InstanceID, log)
		if err != nil {
			return nil, err
		}
		b.publisher = p
		b.source = kafkaSource
		b.closers = append(b.closers, p.Close)

	default:
		log.Info("🚀 Usando Kafka como bus de eventos")
		writer := infraEvents.NewKafkaWriter(cfg.KafkaBrokers)
		b.publisher = infraEvents.NewKafkaPublisher(writer, log)
		b.source = kafkaSource
		b.closers = append(b.closers, writer.Close)
	}
	return b, nil
}

// coordination son las piezas que dependen de Redis, con alternativa en memoria.
type coordination struct {
	guard  outboxDomain.IdempotencyGuard
	lock   outboxApp.SingletonLock
	cache  sharedCache.Cache
	closer func() error
	// purge limpia el guard en memoria; nil con Redis (expira solo).
	purge outboxApp.Job
}

func openCoordination(ctx context.Context, cfg *config.Config, log *zap.Logger) *coordination {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, idempotencia y cache en memoria (una sola instancia)", zap.Error(err))
		_ = rdb.Close()
		mem := userCache.NewInMemoryCache(cacheTTL)
		go mem.RunCleanup(ctx, cacheCleanupInterval)
		guard := idempotency.NewMemoryGuard()
		return &coordination{
			guard:  guard,
			cache:  mem,
			closer: func() error { return nil },
			purge: outboxApp.JobFunc(func(context.Context) {
				if n := guard.Purge(); n > 0 {
					log.Debug("🧹 Claims de idempotencia expirados eliminados", zap.Int("count", n))
				}
			}),
		}
	}

	log.Info("✅ Redis conectado, idempotencia y locks distribuidos habilitados")
	return &coordination{
		guard:  idempotency.NewRedisGuard(rdb),
		lock:   lock.NewRedisLock(rdb, log),
		cache:  userCache.NewRedisUserCache(rdb, cacheTTL),
		closer: rdb.Close,
	}
}
