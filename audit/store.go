// Package audit persists one immutable detection_logs row per completed analysis.
//
// Records are handed to a Logger, which queues them on a bounded channel and writes
// them from a single consumer goroutine so the /analyze response never waits on the
// database.
package audit

import (
	"context"
	"strings"

	"deepfake-guard/models"
)

// Store is the append-only log store. Implementations must be safe for concurrent use.
type Store interface {
	// Init creates the detection_logs table if it does not exist.
	Init(ctx context.Context) error
	Append(ctx context.Context, rec models.DetectionLogRecord) error
	Recent(ctx context.Context, filter Filter) ([]models.DetectionLogRecord, error)
	Close() error
}

// Filter narrows Recent. Zero values mean "no constraint"; Limit defaults to DefaultLimit.
type Filter struct {
	Limit    int
	Flagged  *bool
	Checksum string
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

const recordColumns = `filename, checksum, client_ip, size_bytes, width, height, duration_seconds, codec,
	model_name, model_version, prob_real, prob_fake, flagged, explain_path, metadata, created_at`

// recentQuery builds the SELECT for Recent. placeholder renders the n-th bind
// parameter in the driver's syntax.
func recentQuery(filter Filter, flagged any, placeholder func(n int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.Flagged != nil {
		args = append(args, flagged)
		where = append(where, "flagged = "+placeholder(len(args)))
	}
	if filter.Checksum != "" {
		args = append(args, filter.Checksum)
		where = append(where, "checksum = "+placeholder(len(args)))
	}

	q := "SELECT id, " + recordColumns + " FROM detection_logs"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit())
	q += " ORDER BY id DESC LIMIT " + placeholder(len(args))
	return q, args
}
