package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
	platformDB "github.com/davicafu/outboxlab/internal/shared/infra/platform/db"
)

func setupDB(t *testing.T) (*sql.DB, *OutboxRepoSQLite, *platformDB.TxManager) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Una sola conexión: cada conexión de :memory: es una base distinta.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, InitOutboxSchema(context.Background(), db))
	return db, NewOutboxRepoSQLite(db), platformDB.NewTxManager(db, zap.NewNop())
}

func insertRecord(t *testing.T, repo *OutboxRepoSQLite, tm *platformDB.TxManager, createdAt time.Time) *domain.OutboxRecord {
	t.Helper()
	rec, err := domain.NewOutboxRecord(uuid.NewString(), "user.registered", "user", "r-1", []byte(`{"a":1}`), 3, createdAt)
	require.NoError(t, err)
	require.NoError(t, tm.WithinTransaction(context.Background(), func(ctx context.Context) error {
		return repo.Insert(ctx, rec)
	}))
	return rec
}

func TestInsert_RequiresTransaction(t *testing.T) {
	_, repo, _ := setupDB(t)
	rec, err := domain.NewOutboxRecord(uuid.NewString(), "t", "user", "k", []byte(`{}`), 3, time.Now())
	require.NoError(t, err)

	assert.ErrorIs(t, repo.Insert(context.Background(), rec), domain.ErrNoActiveTransaction)
}

func TestInsert_DuplicateEventID(t *testing.T) {
	_, repo, tm := setupDB(t)
	rec := insertRecord(t, repo, tm, time.Now())

	err := tm.WithinTransaction(context.Background(), func(ctx context.Context) error {
		return repo.Insert(ctx, rec)
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateEvent)
}

func TestInsert_RollbackLeavesNothing(t *testing.T) {
	_, repo, tm := setupDB(t)
	rec, err := domain.NewOutboxRecord(uuid.NewString(), "t", "user", "k", []byte(`{}`), 3, time.Now())
	require.NoError(t, err)

	boom := errors.New("business failure")
	err = tm.WithinTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, repo.Insert(ctx, rec))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.GetByEventID(context.Background(), rec.EventID)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestClaimPending_FIFOAndExclusive(t *testing.T) {
	_, repo, tm := setupDB(t)
	base := time.Now().Add(-time.Minute)
	older := insertRecord(t, repo, tm, base)
	newer := insertRecord(t, repo, tm, base.Add(time.Second))
	ctx := context.Background()
	now := time.Now()

	claimedA, err := repo.ClaimPending(ctx, "node-a", 10, 30*time.Second, now)
	require.NoError(t, err)
	require.Len(t, claimedA, 2)
	assert.Equal(t, older.EventID, claimedA[0].EventID)
	assert.Equal(t, newer.EventID, claimedA[1].EventID)
	assert.Equal(t, "node-a", claimedA[0].ClaimedBy)

	// Lease vigente: nadie más los obtiene.
	claimedB, err := repo.ClaimPending(ctx, "node-b", 10, 30*time.Second, now.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, claimedB)

	// Lease expirado: reclamables.
	claimedB, err = repo.ClaimPending(ctx, "node-b", 1, 30*time.Second, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimedB, 1)
	assert.Equal(t, older.EventID, claimedB[0].EventID)
}

func TestSaveDispatchState_ConditionalOnOwner(t *testing.T) {
	_, repo, tm := setupDB(t)
	insertRecord(t, repo, tm, time.Now())
	ctx := context.Background()
	now := time.Now()

	claimed, err := repo.ClaimPending(ctx, "node-a", 10, time.Second, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	rec := claimed[0]

	// node-b lo recupera tras expirar el lease de node-a.
	_, err = repo.ClaimPending(ctx, "node-b", 10, time.Minute, now.Add(2*time.Second))
	require.NoError(t, err)

	require.NoError(t, rec.MarkPublished(now))
	assert.ErrorIs(t, repo.SaveDispatchState(ctx, rec, "node-a"), domain.ErrClaimLost)

	stored, err := repo.GetByEventID(ctx, rec.EventID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)

	require.NoError(t, repo.SaveDispatchState(ctx, rec, "node-b"))
	stored, err = repo.GetByEventID(ctx, rec.EventID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, stored.Status)
	assert.NotNil(t, stored.PublishedAt)
	assert.Empty(t, stored.ClaimedBy)

	// Un registro terminal no se vuelve a escribir.
	assert.ErrorIs(t, repo.SaveDispatchState(ctx, rec, "node-b"), domain.ErrClaimLost)
}

func TestSaveDispatchState_RetryReleasesClaim(t *testing.T) {
	_, repo, tm := setupDB(t)
	insertRecord(t, repo, tm, time.Now())
	ctx := context.Background()
	now := time.Now()

	claimed, err := repo.ClaimPending(ctx, "node-a", 10, time.Minute, now)
	require.NoError(t, err)
	rec := claimed[0]
	require.NoError(t, rec.RegisterFailure("broker down", now))
	require.NoError(t, repo.SaveDispatchState(ctx, rec, "node-a"))

	again, err := repo.ClaimPending(ctx, "node-a", 10, time.Minute, now)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 1, again[0].RetryCount)
	require.NotNil(t, again[0].ErrorMessage)
	assert.Equal(t, "broker down", *again[0].ErrorMessage)
}

func TestDeletePublishedBefore_Idempotent(t *testing.T) {
	_, repo, tm := setupDB(t)
	ctx := context.Background()
	old := time.Now().Add(-10 * 24 * time.Hour)

	for i := 0; i < 3; i++ {
		insertRecord(t, repo, tm, old)
	}
	failed := insertRecord(t, repo, tm, old)
	recent := insertRecord(t, repo, tm, time.Now())

	claimed, err := repo.ClaimPending(ctx, "node-a", 10, time.Minute, time.Now())
	require.NoError(t, err)
	for _, rec := range claimed {
		switch rec.EventID {
		case failed.EventID:
			require.NoError(t, rec.MarkFailed("too large", old))
		case recent.EventID:
			require.NoError(t, rec.MarkPublished(time.Now()))
		default:
			require.NoError(t, rec.MarkPublished(old))
		}
		require.NoError(t, repo.SaveDispatchState(ctx, rec, "node-a"))
	}

	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	n, err := repo.DeletePublishedBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.DeletePublishedBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.StatusPublished])
	assert.Equal(t, int64(1), counts[domain.StatusFailed])
	assert.Zero(t, counts[domain.StatusPending])
}
