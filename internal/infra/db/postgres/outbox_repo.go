package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/davicafu/outboxlab/internal/outbox/domain"
	platformDB "github.com/davicafu/outboxlab/internal/shared/infra/platform/db"
)

const uniqueViolation = "23505"

const outboxColumns = `o.event_id, o.event_type, o.topic, o.partition_key, o.payload, o.status, o.retry_count, o.max_retry,
	o.error_message, o.created_at, o.published_at, o.last_retry_at, o.claimed_by, o.claimed_until`

// OutboxRepoPostgres implementa domain.OutboxRepository sobre Postgres (pgx stdlib).
type OutboxRepoPostgres struct {
	db *sql.DB
}

func NewOutboxRepoPostgres(db *sql.DB) *OutboxRepoPostgres {
	return &OutboxRepoPostgres{db: db}
}

func (r *OutboxRepoPostgres) Insert(ctx context.Context, rec *domain.OutboxRecord) error {
	tx, ok := platformDB.TxFromContext(ctx)
	if !ok {
		return domain.ErrNoActiveTransaction
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (event_id, event_type, topic, partition_key, payload, status, retry_count, max_retry, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.EventID, rec.EventType, rec.Topic, rec.PartitionKey, string(rec.Payload),
		string(rec.Status), rec.RetryCount, rec.MaxRetry, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateEvent, rec.EventID)
		}
		return fmt.Errorf("insert outbox record %s: %w", rec.EventID, err)
	}
	return nil
}

// ClaimPending usa FOR UPDATE SKIP LOCKED: instancias concurrentes se saltan
// las filas que otra está reclamando en lugar de esperar.
func (r *OutboxRepoPostgres) ClaimPending(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]*domain.OutboxRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`WITH candidates AS (
			SELECT event_id FROM outbox
			WHERE status = 'PENDING' AND (claimed_until IS NULL OR claimed_until <= $3)
			ORDER BY created_at, event_id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 UPDATE outbox o SET claimed_by = $1, claimed_until = $2
		 FROM candidates c
		 WHERE o.event_id = c.event_id
		 RETURNING `+outboxColumns,
		owner, now.Add(lease).UTC(), now.UTC(), limit,
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
	sortByCreatedAt(out)
	return out, nil
}

func (r *OutboxRepoPostgres) SaveDispatchState(ctx context.Context, rec *domain.OutboxRecord, owner string) error {
	res, err := platformDB.ExecutorFrom(ctx, r.db).ExecContext(ctx,
		`UPDATE outbox
		 SET status = $1, retry_count = $2, error_message = $3, published_at = $4, last_retry_at = $5,
		     claimed_by = NULL, claimed_until = NULL
		 WHERE event_id = $6 AND status = 'PENDING' AND claimed_by = $7`,
		string(rec.Status), rec.RetryCount, rec.ErrorMessage, rec.PublishedAt, rec.LastRetryAt,
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

func (r *OutboxRepoPostgres) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE status = 'PUBLISHED' AND published_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete published: %w", err)
	}
	return res.RowsAffected()
}

func (r *OutboxRepoPostgres) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
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

func (r *OutboxRepoPostgres) GetByEventID(ctx context.Context, eventID string) (*domain.OutboxRecord, error) {
	rows, err := platformDB.ExecutorFrom(ctx, r.db).QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox o WHERE o.event_id = $1`, eventID)
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

func scanRecord(rows *sql.Rows) (*domain.OutboxRecord, error) {
	var (
		rec                                   domain.OutboxRecord
		status                                string
		errMsg, claimedBy                     sql.NullString
		publishedAt, lastRetryAt, claimedTill sql.NullTime
	)
	if err := rows.Scan(&rec.EventID, &rec.EventType, &rec.Topic, &rec.PartitionKey, &rec.Payload, &status,
		&rec.RetryCount, &rec.MaxRetry, &errMsg, &rec.CreatedAt, &publishedAt, &lastRetryAt, &claimedBy, &claimedTill); err != nil {
		return nil, err
	}

	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("outbox row %s: %w", rec.EventID, err)
	}
	rec.Status = st
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.PublishedAt = fromNullTime(publishedAt)
	rec.LastRetryAt = fromNullTime(lastRetryAt)
	rec.ClaimedUntil = fromNullTime(claimedTill)
	if errMsg.Valid {
		rec.ErrorMessage = &errMsg.String
	}
	rec.ClaimedBy = claimedBy.String
	return &rec, nil
}

func fromNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// RETURNING no respeta el ORDER BY del CTE.
func sortByCreatedAt(recs []*domain.OutboxRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].EventID < recs[j].EventID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

// Verificación en tiempo de compilación.
var _ domain.OutboxRepository = (*OutboxRepoPostgres)(nil)
