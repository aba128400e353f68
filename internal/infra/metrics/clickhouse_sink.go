package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/davicafu/outboxlab/internal/outbox/application"
	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

// ClickHouseSink guarda cada pasada del monitor como snapshot histórico.
type ClickHouseSink struct {
	db *sql.DB
}

var _ application.StatusSink = (*ClickHouseSink)(nil)

func NewClickHouseSink(addr, dbName string) (*ClickHouseSink, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}
	return NewClickHouseSinkWithDB(conn), nil
}

func NewClickHouseSinkWithDB(db *sql.DB) *ClickHouseSink {
	return &ClickHouseSink{db: db}
}

// InitSchema crea la tabla de snapshots, particionada por mes.
func (s *ClickHouseSink) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS outbox_status_snapshots (
			at     DateTime64(3),
			status LowCardinality(String),
			count  Int64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(at)
		ORDER BY (status, at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// RecordStatusCounts inserta todos los estados en un único lote.
func (s *ClickHouseSink) RecordStatusCounts(ctx context.Context, counts map[domain.Status]int64, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO outbox_status_snapshots (at, status, count) VALUES (?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for status, n := range counts {
		if _, err := stmt.ExecContext(ctx, at.UTC(), status.String(), n); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert snapshot for %s: %w", status, err)
		}
	}
	return tx.Commit()
}

func (s *ClickHouseSink) Close() error {
	return s.db.Close()
}
