package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davicafu/outboxlab/internal/user/domain"
)

// UserRepoMongoDB usa la sesión del contexto, así que las escrituras entran
// en la transacción abierta por el TxManager de mongo.
type UserRepoMongoDB struct {
	coll *mongo.Collection
}

var _ domain.UserRepository = (*UserRepoMongoDB)(nil)

func NewUserRepoMongoDB(client *mongo.Client, dbName string) *UserRepoMongoDB {
	return &UserRepoMongoDB{coll: client.Database(dbName).Collection("users")}
}

// Se define localmente para no "contaminar" el dominio con tags de BSON.
type mongoUser struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	Nombre    string    `bson:"nombre"`
	CreatedAt time.Time `bson:"createdAt"`
}

func (r *UserRepoMongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *UserRepoMongoDB) Create(ctx context.Context, u *domain.User) error {
	_, err := r.coll.InsertOne(ctx, mongoUser{
		ID:        u.ID.String(),
		Email:     u.Email,
		Nombre:    u.Nombre,
		CreatedAt: u.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrUserAlreadyExists
	}
	return err
}

func (r *UserRepoMongoDB) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var doc mongoUser
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	uid, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, err
	}
	return &domain.User{ID: uid, Email: doc.Email, Nombre: doc.Nombre, CreatedAt: doc.CreatedAt.UTC()}, nil
}
