package mongodb

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

// Requiere un replica set: MONGO_TEST_URI=mongodb://localhost:27017/?replicaSet=rs0
func setupMongo(t *testing.T) (*OutboxRepoMongoDB, *TxManager) {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI no definido")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	dbName := "outboxlab_test_" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_ = client.Database(dbName).Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	repo := NewOutboxRepoMongoDB(client, dbName)
	require.NoError(t, repo.EnsureIndexes(ctx))
	return repo, NewTxManager(client, zap.NewNop())
}

func TestMongo_InsertRequiresSession(t *testing.T) {
	repo, tm := setupMongo(t)
	ctx := context.Background()
	rec, err := domain.NewOutboxRecord(uuid.NewString(), "t", "user", "k", []byte(`{}`), 3, time.Now())
	require.NoError(t, err)

	assert.ErrorIs(t, repo.Insert(ctx, rec), domain.ErrNoActiveTransaction)

	boom := errors.New("rollback")
	err = tm.WithinTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, repo.Insert(ctx, rec))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = repo.GetByEventID(ctx, rec.EventID)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	require.NoError(t, tm.WithinTransaction(ctx, func(ctx context.Context) error { return repo.Insert(ctx, rec) }))
	err = tm.WithinTransaction(ctx, func(ctx context.Context) error { return repo.Insert(ctx, rec) })
	assert.ErrorIs(t, err, domain.ErrDuplicateEvent)
}

func TestMongo_ClaimAndSave(t *testing.T) {
	repo, tm := setupMongo(t)
	ctx := context.Background()
	rec, err := domain.NewOutboxRecord(uuid.NewString(), "t", "user", "k", []byte(`{}`), 3, time.Now())
	require.NoError(t, err)
	require.NoError(t, tm.WithinTransaction(ctx, func(ctx context.Context) error { return repo.Insert(ctx, rec) }))

	now := time.Now()
	claimed, err := repo.ClaimPending(ctx, "node-a", 10, time.Minute, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	other, err := repo.ClaimPending(ctx, "node-b", 10, time.Minute, now)
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, claimed[0].MarkPublished(now))
	assert.ErrorIs(t, repo.SaveDispatchState(ctx, claimed[0], "node-b"), domain.ErrClaimLost)
	require.NoError(t, repo.SaveDispatchState(ctx, claimed[0], "node-a"))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.StatusPublished])

	n, err := repo.DeletePublishedBefore(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// No necesita servidor: StartSession y StartTransaction no hablan con Mongo.
func TestInTransaction_SessionWithoutTransactionIsRejected(t *testing.T) {
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://127.0.0.1:1").SetServerSelectionTimeout(100*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	assert.False(t, inTransaction(ctx))

	sess, err := client.StartSession()
	require.NoError(t, err)
	defer sess.EndSession(ctx)
	sessCtx := mongo.NewSessionContext(ctx, sess)

	assert.False(t, inTransaction(sessCtx))
	rec, err := domain.NewOutboxRecord(uuid.NewString(), "t", "user", "k", []byte(`{}`), 3, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, NewOutboxRepoMongoDB(client, "outboxlab").Insert(sessCtx, rec), domain.ErrNoActiveTransaction)

	require.NoError(t, sess.StartTransaction())
	assert.True(t, inTransaction(sessCtx))
}
