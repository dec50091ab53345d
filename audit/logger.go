package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"deepfake-guard/logging"
	"deepfake-guard/metrics"
	"deepfake-guard/models"
)

var (
	ErrQueueFull = errors.New("audit queue full")
	ErrClosed    = errors.New("audit logger closed")
)

type Config struct {
	// BufferSize bounds the number of records waiting to be written.
	BufferSize int

	// EnqueueTimeout is how long Enqueue waits for room before dropping the record.
	// Zero drops immediately when the queue is full.
	EnqueueTimeout time.Duration

	// WriteTimeout bounds each Store.Append attempt.
	WriteTimeout time.Duration

	// MaxAttempts is the number of Append attempts per record.
	MaxAttempts int

	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:     1000,
		EnqueueTimeout: 250 * time.Millisecond,
		WriteTimeout:   5 * time.Second,
		MaxAttempts:    3,
		RetryBackoff:   200 * time.Millisecond,
	}
}

// Logger queues detection records and writes them to a Store from one goroutine.
type Logger struct {
	cfg     Config
	store   Store
	records chan models.DetectionLogRecord

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewLogger(store Store, cfg Config) *Logger {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	l := &Logger{
		cfg:     cfg,
		store:   store,
		records: make(chan models.DetectionLogRecord, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	go l.consume()
	return l
}

// Enqueue schedules rec for writing. When the queue is full it waits up to
// EnqueueTimeout, then drops the record, counts it and returns ErrQueueFull.
func (l *Logger) Enqueue(rec models.DetectionLogRecord) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrClosed
	}

	select {
	case l.records <- rec:
		metrics.AuditQueueDepth.Set(float64(len(l.records)))
		return nil
	default:
	}

	if l.cfg.EnqueueTimeout > 0 {
		timer := time.NewTimer(l.cfg.EnqueueTimeout)
		defer timer.Stop()
		select {
		case l.records <- rec:
			metrics.AuditQueueDepth.Set(float64(len(l.records)))
			return nil
		case <-timer.C:
		}
	}

	metrics.AuditDroppedTotal.Inc()
	logging.Error().Str("checksum", rec.Checksum).Str("filename", rec.Filename).
		Msg("[Audit] Queue full, dropping detection log")
	return ErrQueueFull
}

// Pending returns the number of queued records.
func (l *Logger) Pending() int {
	return len(l.records)
}

func (l *Logger) consume() {
	defer close(l.done)
	for rec := range l.records {
		metrics.AuditQueueDepth.Set(float64(len(l.records)))
		l.write(rec)
	}
}

func (l *Logger) write(rec models.DetectionLogRecord) {
	var err error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
		err = l.store.Append(ctx, rec)
		cancel()
		if err == nil {
			metrics.AuditWrittenTotal.Inc()
			return
		}
		if attempt < l.cfg.MaxAttempts {
			logging.Warn().Err(err).Int("attempt", attempt).Str("checksum", rec.Checksum).
				Msg("[Audit] Write failed, retrying")
			time.Sleep(l.cfg.RetryBackoff * time.Duration(attempt))
		}
	}

	metrics.AuditWriteFailuresTotal.Inc()
	logging.Error().Err(err).Str("checksum", rec.Checksum).Str("filename", rec.Filename).
		Msg("[Audit] Failed to persist detection log")
}

// Close stops accepting records and waits for the queue to drain or ctx to end.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.records)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
