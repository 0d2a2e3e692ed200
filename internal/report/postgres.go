package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

// DBConfig holds PostgreSQL connection configuration for the report store.
type DBConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// PostgresSink persists fault reports for later inspection. Insert
// failures are logged and dropped so reporting never amplifies the
// fault being reported.
type PostgresSink struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewPostgresSink connects, applies migrations from the given
// directory, and returns a persistent sink.
func NewPostgresSink(ctx context.Context, cfg DBConfig, migrationsDir string, log *slog.Logger) (*PostgresSink, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if migrationsDir != "" {
		if err := goose.SetDialect("postgres"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set goose dialect: %w", err)
		}
		if err := goose.Up(db.DB, migrationsDir); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &PostgresSink{db: db, log: log}, nil
}

// Close closes the database connection.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// Submit inserts the report, best effort.
func (s *PostgresSink) Submit(ctx context.Context, r Report) {
	var reportCtx []byte
	if len(r.Context) > 0 {
		b, err := json.Marshal(r.Context)
		if err == nil {
			reportCtx = b
		}
	}

	const q = `
		INSERT INTO fault_reports
			(correlation_id, kind, severity, code, retryable, source, message, context, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, q,
		r.CorrelationID,
		string(r.Classification.Kind),
		r.Classification.Severity.String(),
		r.Classification.Code,
		r.Classification.Retryable,
		r.Source,
		r.Message,
		reportCtx,
		r.Timestamp,
	)
	if err != nil {
		s.log.Warn("failed to persist fault report",
			"correlation_id", r.CorrelationID, "error", err)
	}
}

// Recent returns the most recent reports, newest first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `
		SELECT correlation_id, kind, severity, code, retryable, source, message, context, occurred_at
		FROM fault_reports
		ORDER BY occurred_at DESC
		LIMIT $1`

	rows, err := s.db.QueryxContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var (
			r        Report
			kind     string
			severity string
			rawCtx   []byte
		)
		if err := rows.Scan(
			&r.CorrelationID, &kind, &severity, &r.Classification.Code,
			&r.Classification.Retryable, &r.Source, &r.Message, &rawCtx, &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		r.Classification.Kind = parseKind(kind)
		r.Classification.Severity = parseSeverity(severity)
		if len(rawCtx) > 0 {
			_ = json.Unmarshal(rawCtx, &r.Context)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
