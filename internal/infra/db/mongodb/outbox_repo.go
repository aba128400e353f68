package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

// OutboxRepoMongoDB implementa domain.OutboxRepository sobre una colección outbox.
// Necesita un replica set: las inserciones van siempre dentro de una transacción.
type OutboxRepoMongoDB struct {
	outboxColl *mongo.Collection
}

func NewOutboxRepoMongoDB(client *mongo.Client, dbName string) *OutboxRepoMongoDB {
	return &OutboxRepoMongoDB{outboxColl: client.Database(dbName).Collection("outbox")}
}

// mongoOutboxRecord se define aquí para no llevar tags BSON al dominio.
type mongoOutboxRecord struct {
	EventID      string     `bson:"_id"`
	EventType    string     `bson:"eventType"`
	Topic        string     `bson:"topic"`
	PartitionKey string     `bson:"partitionKey"`
	Payload      []byte     `bson:"payload"`
	Status       string     `bson:"status"`
	RetryCount   int        `bson:"retryCount"`
	MaxRetry     int        `bson:"maxRetry"`
	ErrorMessage *string    `bson:"errorMessage,omitempty"`
	CreatedAt    time.Time  `bson:"createdAt"`
	PublishedAt  *time.Time `bson:"publishedAt,omitempty"`
	LastRetryAt  *time.Time `bson:"lastRetryAt,omitempty"`
	ClaimedBy    string     `bson:"claimedBy,omitempty"`
	ClaimedUntil *time.Time `bson:"claimedUntil,omitempty"`
}

// EnsureIndexes crea los índices de claim y de retención.
func (r *OutboxRepoMongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := r.outboxColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "publishedAt", Value: 1}}},
	})
	return err
}

func (r *OutboxRepoMongoDB) Insert(ctx context.Context, rec *domain.OutboxRecord) error {
	if !inTransaction(ctx) {
		return domain.ErrNoActiveTransaction
	}

	if _, err := r.outboxColl.InsertOne(ctx, toMongo(rec)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateEvent, rec.EventID)
		}
		return fmt.Errorf("insert outbox record %s: %w", rec.EventID, err)
	}
	return nil
}

// ClaimPending reclama documento a documento con FindOneAndUpdate, que es atómico
// por documento: dos instancias nunca se llevan el mismo.
func (r *OutboxRepoMongoDB) ClaimPending(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]*domain.OutboxRecord, error) {
	now = now.UTC()
	until := now.Add(lease)
	filter := bson.M{
		"status": string(domain.StatusPending),
		"$or": bson.A{
			bson.M{"claimedUntil": bson.M{"$exists": false}},
			bson.M{"claimedUntil": nil},
			bson.M{"claimedUntil": bson.M{"$lte": now}},
		},
	}
	update := bson.M{"$set": bson.M{"claimedBy": owner, "claimedUntil": until}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	var out []*domain.OutboxRecord
	for len(out) < limit {
		var doc mongoOutboxRecord
		err := r.outboxColl.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("claim pending: %w", err)
		}
		rec, err := fromMongo(&doc)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *OutboxRepoMongoDB) SaveDispatchState(ctx context.Context, rec *domain.OutboxRecord, owner string) error {
	filter := bson.M{"_id": rec.EventID, "status": string(domain.StatusPending), "claimedBy": owner}
	update := bson.M{
		"$set": bson.M{
			"status":       string(rec.Status),
			"retryCount":   rec.RetryCount,
			"errorMessage": rec.ErrorMessage,
			"publishedAt":  rec.PublishedAt,
			"lastRetryAt":  rec.LastRetryAt,
		},
		"$unset": bson.M{"claimedBy": "", "claimedUntil": ""},
	}

	res, err := r.outboxColl.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("save dispatch state %s: %w", rec.EventID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrClaimLost, rec.EventID)
	}
	rec.ClaimedBy, rec.ClaimedUntil = "", nil
	return nil
}

func (r *OutboxRepoMongoDB) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.outboxColl.DeleteMany(ctx, bson.M{
		"status":      string(domain.StatusPublished),
		"publishedAt": bson.M{"$lt": cutoff.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("delete published: %w", err)
	}
	return res.DeletedCount, nil
}

func (r *OutboxRepoMongoDB) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	cursor, err := r.outboxColl.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$status"}, {Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	counts := make(map[domain.Status]int64)
	for cursor.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			N      int64  `bson:"n"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		st, err := domain.ParseStatus(row.Status)
		if err != nil {
			return nil, err
		}
		counts[st] = row.N
	}
	return counts, cursor.Err()
}

func (r *OutboxRepoMongoDB) GetByEventID(ctx context.Context, eventID string) (*domain.OutboxRecord, error) {
	var doc mongoOutboxRecord
	err := r.outboxColl.FindOne(ctx, bson.M{"_id": eventID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, eventID)
	}
	if err != nil {
		return nil, err
	}
	return fromMongo(&doc)
}

func toMongo(rec *domain.OutboxRecord) *mongoOutboxRecord {
	return &mongoOutboxRecord{
		EventID:      rec.EventID,
		EventType:    rec.EventType,
		Topic:        rec.Topic,
		PartitionKey: rec.PartitionKey,
		Payload:      rec.Payload,
		Status:       string(rec.Status),
		RetryCount:   rec.RetryCount,
		MaxRetry:     rec.MaxRetry,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt.UTC(),
		PublishedAt:  rec.PublishedAt,
		LastRetryAt:  rec.LastRetryAt,
		ClaimedBy:    rec.ClaimedBy,
		ClaimedUntil: rec.ClaimedUntil,
	}
}

func fromMongo(doc *mongoOutboxRecord) (*domain.OutboxRecord, error) {
	st, err := domain.ParseStatus(doc.Status)
	if err != nil {
		return nil, fmt.Errorf("outbox doc %s: %w", doc.EventID, err)
	}
	return &domain.OutboxRecord{
		EventID:      doc.EventID,
		EventType:    doc.EventType,
		Topic:        doc.Topic,
		PartitionKey: doc.PartitionKey,
		Payload:      doc.Payload,
		Status:       st,
		RetryCount:   doc.RetryCount,
		MaxRetry:     doc.MaxRetry,
		ErrorMessage: doc.ErrorMessage,
		CreatedAt:    doc.CreatedAt.UTC(),
		PublishedAt:  doc.PublishedAt,
		LastRetryAt:  doc.LastRetryAt,
		ClaimedBy:    doc.ClaimedBy,
		ClaimedUntil: doc.ClaimedUntil,
	}, nil
}

// ---------- Transacciones ----------

// TxManager abre una transacción multi-documento y la propaga como SessionContext.
type TxManager struct {
	client *mongo.Client
	log    *zap.Logger
}

func NewTxManager(client *mongo.Client, log *zap.Logger) *TxManager {
	return &TxManager{client: client, log: log}
}

// WithinTransaction usa session.WithTransaction, que puede repetir fn ante
// errores transitorios de Mongo; fn no debe tener efectos fuera de la sesión.
func (m *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTransaction(ctx) {
		return fn(ctx)
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	if err != nil {
		m.log.Debug("Transacción de Mongo abortada", zap.Error(err))
	}
	return err
}

// inTransaction exige una transacción en curso, no solo una sesión: con una
// sesión sin transacción el insert se confirmaría por su cuenta.
func inTransaction(ctx context.Context) bool {
	sess := mongo.SessionFromContext(ctx)
	if sess == nil {
		return false
	}
	xs, ok := sess.(mongo.XSession)
	return ok && xs.ClientSession().TransactionRunning()
}

var (
	_ domain.OutboxRepository  = (*OutboxRepoMongoDB)(nil)
	_ domain.TransactionRunner = (*TxManager)(nil)
)
