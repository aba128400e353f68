package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	platformDB "github.com/davicafu/outboxlab/internal/shared/infra/platform/db"
	"github.com/davicafu/outboxlab/internal/user/domain"
)

// El esquema lo crean las migraciones de internal/infra/db/postgres.
type UserRepoPostgres struct {
	db *sql.DB
}

var _ domain.UserRepository = (*UserRepoPostgres)(nil)

func NewUserRepoPostgres(db *sql.DB) *UserRepoPostgres {
	return &UserRepoPostgres{db: db}
}

func (r *UserRepoPostgres) Create(ctx context.Context, u *domain.User) error {
	_, err := platformDB.ExecutorFrom(ctx, r.db).ExecContext(ctx,
		`INSERT INTO users (id, email, nombre, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, u.Nombre, u.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrUserAlreadyExists
	}
	return err
}

func (r *UserRepoPostgres) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := platformDB.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, email, nombre, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Nombre, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}
