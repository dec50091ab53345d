package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"deepfake-guard/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS detection_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT,
	checksum TEXT,
	client_ip TEXT,
	size_bytes INTEGER,
	width INTEGER,
	height INTEGER,
	duration_seconds REAL,
	codec TEXT,
	model_name TEXT,
	model_version TEXT,
	prob_real REAL,
	prob_fake REAL,
	flagged INTEGER,
	explain_path TEXT,
	metadata JSON,
	created_at TEXT
);
CREATE INDEX IF NOT EXISTS detection_logs_checksum_idx ON detection_logs (checksum);`

// SQLiteStore keeps detection logs in a local SQLite file. It holds a single
// connection, so inserts from concurrent callers are serialized.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create detection_logs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec models.DetectionLogRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detection_logs (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Filename, rec.Checksum, rec.ClientIP, rec.SizeBytes,
		rec.Width, rec.Height, rec.DurationSeconds, rec.Codec,
		rec.ModelName, rec.ModelVersion, rec.ProbReal, rec.ProbFake,
		boolToInt(rec.Flagged), rec.ExplainPath, metadataText(rec.Metadata),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert detection log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, filter Filter) ([]models.DetectionLogRecord, error) {
	var flagged int
	if filter.Flagged != nil {
		flagged = boolToInt(*filter.Flagged)
	}
	q, args := recentQuery(filter, flagged, func(int) string { return "?" })

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query detection logs: %w", err)
	}
	defer rows.Close()

	var out []models.DetectionLogRecord
	for rows.Next() {
		var (
			rec       models.DetectionLogRecord
			flag      int
			metadata  []byte
			createdAt string
		)
		err := rows.Scan(&rec.ID, &rec.Filename, &rec.Checksum, &rec.ClientIP, &rec.SizeBytes,
			&rec.Width, &rec.Height, &rec.DurationSeconds, &rec.Codec,
			&rec.ModelName, &rec.ModelVersion, &rec.ProbReal, &rec.ProbFake,
			&flag, &rec.ExplainPath, &metadata, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan detection log: %w", err)
		}
		rec.Flagged = flag != 0
		rec.Metadata = metadata
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func metadataText(blob []byte) string {
	if len(blob) == 0 {
		return "{}"
	}
	return string(blob)
}
