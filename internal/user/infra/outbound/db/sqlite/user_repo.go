package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	platformDB "github.com/davicafu/outboxlab/internal/shared/infra/platform/db"
	"github.com/davicafu/outboxlab/internal/user/domain"
)

type UserRepoSQLite struct {
	db *sql.DB
}

var _ domain.UserRepository = (*UserRepoSQLite)(nil)

func NewUserRepoSQLite(db *sql.DB) *UserRepoSQLite {
	return &UserRepoSQLite{db: db}
}

func InitUserSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			nombre     TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`)
	return err
}

// Create se une a la transacción del contexto si la hay.
func (r *UserRepoSQLite) Create(ctx context.Context, u *domain.User) error {
	_, err := platformDB.ExecutorFrom(ctx, r.db).ExecContext(ctx,
		`INSERT INTO users (id, email, nombre, created_at) VALUES (?, ?, ?, ?)`,
		u.ID.String(), u.Email, u.Nombre, u.CreatedAt.UTC().UnixMilli(),
	)
	if isUniqueViolation(err) {
		return domain.ErrUserAlreadyExists
	}
	return err
}

func (r *UserRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var (
		u         domain.User
		rawID     string
		createdAt int64
	)
	err := platformDB.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, email, nombre, created_at FROM users WHERE id = ?`, id.String(),
	).Scan(&rawID, &u.Email, &u.Nombre, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if u.ID, err = uuid.Parse(rawID); err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
