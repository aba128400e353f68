package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
	platformDB "github.com/davicafu/outboxlab/internal/shared/infra/platform/db"
)

// Los timestamps se guardan como INTEGER (unix millis) para que las
// comparaciones de lease y retención sean numéricas.

const outboxColumns = `event_id, event_type, topic, partition_key, payload, status, retry_count, max_retry,
	error_message, created_at, published_at, last_retry_at, claimed_by, claimed_until`

// OutboxRepoSQLite implementa domain.OutboxRepository sobre modernc sqlite.
type OutboxRepoSQLite struct {
	db *sql.DB
}

func NewOutboxRepoSQLite(db *sql.DB) *OutboxRepoSQLite {
	return &OutboxRepoSQLite{db: db}
}

// InitOutboxSchema crea la tabla outbox si no existe.
func InitOutboxSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS outbox (
			event_id      TEXT PRIMARY KEY,
			event_type    TEXT NOT NULL,
			topic         TEXT NOT NULL,
			partition_key TEXT NOT NULL,
			payload       TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'PENDING',
			retry_count   INTEGER NOT NULL DEFAULT 0,
			max_retry     INTEGER NOT NULL DEFAULT 3,
			error_message TEXT,
			created_at    INTEGER NOT NULL,
			published_at  INTEGER,
			last_retry_at INTEGER,
			claimed_by    TEXT,
			claimed_until INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status_created ON outbox (status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_published_at ON outbox (published_at) WHERE status = 'PUBLISHED'`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init outbox schema: %w", err)
		}
	}
	return nil
}

// Insert se une a la transacción del contexto; sin ella falla.
func (r *OutboxRepoSQLite) Insert(ctx context.Context, rec *domain.OutboxRecord) error {
	tx, ok := platformDB.TxFromContext(ctx)
	if !ok {
		return domain.ErrNoActiveTransaction
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (event_id, event_type, topic, partition_key, payload, status, retry_count, max_retry, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.EventType, rec.Topic, rec.PartitionKey, string(rec.Payload),
		string(rec.Status), rec.RetryCount, rec.MaxRetry, toMillis(rec.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateEvent, rec.EventID)
		}
		return fmt.Errorf("insert outbox record %s: %w", rec.EventID, err)
	}
	return nil
}

// ClaimPending reclama en un único UPDATE; SQLite serializa escritores, así que
// dos dispatchers nunca obtienen el mismo registro.
func (r *OutboxRepoSQLite) ClaimPending(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]*domain.OutboxRecord, error) {
	nowMs := toMillis(now)
	rows, err := r.db.QueryContext(ctx,
		`UPDATE outbox SET claimed_by = ?, claimed_until = ?
		 WHERE event_id IN (
			SELECT event_id FROM outbox
			WHERE status = 'PENDING' AND (claimed_until IS NULL OR claimed_until <= ?)
			ORDER BY created_at, event_id
			LIMIT ?
		 )
		 RETURNING `+outboxColumns,
		owner, toMillis(now.Add(lease)), nowMs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	defer rows.Close()

	var out []*domain.OutboxRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING no garantiza orden.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveDispatchState escribe el resultado del intento y libera el claim.
func (r *OutboxRepoSQLite) SaveDispatchState(ctx context.Context, rec *domain.OutboxRecord, owner string) error {
	res, err := platformDB.ExecutorFrom(ctx, r.db).ExecContext(ctx,
		`UPDATE outbox
		 SET status = ?, retry_count = ?, error_message = ?, published_at = ?, last_retry_at = ?,
		     claimed_by = NULL, claimed_until = NULL
		 WHERE event_id = ? AND status = 'PENDING' AND claimed_by = ?`,
		string(rec.Status), rec.RetryCount, nullString(rec.ErrorMessage),
		nullMillis(rec.PublishedAt), nullMillis(rec.LastRetryAt),
		rec.EventID, owner,
	)
	if err != nil {
		return fmt.Errorf("save dispatch state %s: %w", rec.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrClaimLost, rec.EventID)
	}
	rec.ClaimedBy, rec.ClaimedUntil = "", nil
	return nil
}

func (r *OutboxRepoSQLite) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE status = 'PUBLISHED' AND published_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete published: %w", err)
	}
	return res.RowsAffected()
}

func (r *OutboxRepoSQLite) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Status]int64)
	for rows.Next() {
		var raw string
		var n int64
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, err
		}
		st, err := domain.ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func (r *OutboxRepoSQLite) GetByEventID(ctx context.Context, eventID string) (*domain.OutboxRecord, error) {
	rows, err := platformDB.ExecutorFrom(ctx, r.db).QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, eventID)
	}
	return scanRecord(rows)
}

// ------------------ Helpers ------------------

func scanRecord(rows *sql.Rows) (*domain.OutboxRecord, error) {
	var (
		rec                                   domain.OutboxRecord
		payload, status                       string
		errMsg, claimedBy                     sql.NullString
		createdAt                             int64
		publishedAt, lastRetryAt, claimedTill sql.NullInt64
	)
	if err := rows.Scan(&rec.EventID, &rec.EventType, &rec.Topic, &rec.PartitionKey, &payload, &status,
		&rec.RetryCount, &rec.MaxRetry, &errMsg, &createdAt, &publishedAt, &lastRetryAt, &claimedBy, &claimedTill); err != nil {
		return nil, err
	}

	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("outbox row %s: %w", rec.EventID, err)
	}
	rec.Status = st
	rec.Payload = []byte(payload)
	rec.CreatedAt = fromMillis(createdAt)
	rec.PublishedAt = fromNullMillis(publishedAt)
	rec.LastRetryAt = fromNullMillis(lastRetryAt)
	rec.ClaimedUntil = fromNullMillis(claimedTill)
	if errMsg.Valid {
		rec.ErrorMessage = &errMsg.String
	}
	rec.ClaimedBy = claimedBy.String
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Verificación en tiempo de compilación.
var _ domain.OutboxRepository = (*OutboxRepoSQLite)(nil)
