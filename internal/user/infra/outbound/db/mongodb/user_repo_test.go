package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davicafu/outboxlab/internal/user/domain"
)

func TestUserRepoMongoDB_CreateAndGet(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI no definido")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	dbName := "outboxlab_test_" + uuid.NewString()[:8]
	defer func() {
		_ = client.Database(dbName).Drop(ctx)
		_ = client.Disconnect(ctx)
	}()

	repo := NewUserRepoMongoDB(client, dbName)
	require.NoError(t, repo.EnsureIndexes(ctx))

	u, err := domain.NewUser("ana@example.com", "Ana", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, u))

	dup, _ := domain.NewUser("ana@example.com", "Otra", time.Now())
	assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrUserAlreadyExists)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Nombre)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
