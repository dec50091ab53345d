package audit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v4/pgxpool"

	"deepfake-guard/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS detection_logs (
	id BIGSERIAL PRIMARY KEY,
	filename TEXT NOT NULL,
	checksum CHAR(64) NOT NULL,
	client_ip TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	codec TEXT,
	model_name TEXT NOT NULL,
	model_version TEXT NOT NULL,
	prob_real DOUBLE PRECISION NOT NULL,
	prob_fake DOUBLE PRECISION NOT NULL,
	flagged BOOLEAN NOT NULL,
	explain_path TEXT,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS detection_logs_checksum_idx ON detection_logs (checksum);`

// PostgresStore writes detection logs through a pgx connection pool. Each Append is a
// single INSERT, which Postgres runs as its own transaction.
type PostgresStore struct {
	DB *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := pgxpool.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &PostgresStore{DB: db}, nil
}

func (ps *PostgresStore) Init(ctx context.Context) error {
	if _, err := ps.DB.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create detection_logs: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Append(ctx context.Context, rec models.DetectionLogRecord) error {
	_, err := ps.DB.Exec(ctx, `
		INSERT INTO detection_logs (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.Filename, rec.Checksum, rec.ClientIP, rec.SizeBytes,
		rec.Width, rec.Height, rec.DurationSeconds, rec.Codec,
		rec.ModelName, rec.ModelVersion, rec.ProbReal, rec.ProbFake,
		rec.Flagged, rec.ExplainPath, metadataText(rec.Metadata), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert detection log: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Recent(ctx context.Context, filter Filter) ([]models.DetectionLogRecord, error) {
	var flagged bool
	if filter.Flagged != nil {
		flagged = *filter.Flagged
	}
	q, args := recentQuery(filter, flagged, func(n int) string { return "$" + strconv.Itoa(n) })

	rows, err := ps.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query detection logs: %w", err)
	}
	defer rows.Close()

	var out []models.DetectionLogRecord
	for rows.Next() {
		var (
			rec      models.DetectionLogRecord
			metadata []byte
		)
		err := rows.Scan(&rec.ID, &rec.Filename, &rec.Checksum, &rec.ClientIP, &rec.SizeBytes,
			&rec.Width, &rec.Height, &rec.DurationSeconds, &rec.Codec,
			&rec.ModelName, &rec.ModelVersion, &rec.ProbReal, &rec.ProbFake,
			&rec.Flagged, &rec.ExplainPath, &metadata, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan detection log: %w", err)
		}
		rec.Metadata = metadata
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) Close() error {
	ps.DB.Close()
	return nil
}
