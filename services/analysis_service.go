package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"deepfake-guard/config"
	"deepfake-guard/logging"
	"deepfake-guard/metrics"
	"deepfake-guard/models"
)

// DefaultClientID stands in for caller identity until clients are told apart.
const DefaultClientID = "local"

type Prober interface {
	Probe(ctx context.Context, videoPath string) ProbeResult
}

type Classifier interface {
	Classify(ctx context.Context, videoFilePath, filename string) (*Classification, error)
}

type Admitter interface {
	Admit(clientKey string) bool
}

// AuditSink accepts finished records without blocking the response for long.
type AuditSink interface {
	Enqueue(rec models.DetectionLogRecord) error
}

type AlertNotifier interface {
	Notify(ctx context.Context, alert models.FlagAlert) error
}

type AnalysisOptions struct {
	WrapperAPIKey string
	MaxFileSize   int64
	FlagThreshold float64
	TempDir       string
}

// AnalysisService runs one upload through validation, the model and the audit log.
type AnalysisService struct {
	opts       AnalysisOptions
	limiter    Admitter
	prober     Prober
	classifier Classifier
	audit      AuditSink
	alerts     AlertNotifier
	now        func() time.Time
}

// NewAnalysisService wires the pipeline. alerts may be nil.
func NewAnalysisService(opts AnalysisOptions, limiter Admitter, prober Prober, classifier Classifier, audit AuditSink, alerts AlertNotifier) *AnalysisService {
	return &AnalysisService{
		opts:       opts,
		limiter:    limiter,
		prober:     prober,
		classifier: classifier,
		audit:      audit,
		alerts:     alerts,
		now:        time.Now,
	}
}

// Analyze validates req, asks the model for a verdict and schedules the audit record.
// Errors are always *AnalysisError. The staged temp file is gone by the time Analyze returns.
func (s *AnalysisService) Analyze(ctx context.Context, req models.UploadRequest) (result *models.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("filename", req.Filename).Msg("[Analyze] Recovered from panic")
			result, err = nil, newAnalysisError(KindInternal, "Internal server error", fmt.Errorf("panic: %v", r))
		}
		outcome := "ok"
		if err != nil {
			outcome = KindOf(err).String()
		}
		metrics.AnalysesTotal.WithLabelValues(outcome).Inc()
	}()

	if subtle.ConstantTimeCompare([]byte(req.ClientKey), []byte(s.opts.WrapperAPIKey)) != 1 {
		return nil, newAnalysisError(KindUnauthorized, "Unauthorized wrapper client", nil)
	}
	if len(req.Data) == 0 {
		return nil, newAnalysisError(KindBadRequest, "Empty file", nil)
	}
	if int64(len(req.Data)) > s.opts.MaxFileSize {
		return nil, newAnalysisError(KindPayloadTooLarge, "File too large", nil)
	}
	ext := strings.ToLower(filepath.Ext(req.Filename))
	if !config.IsAllowedExtension(ext) {
		return nil, newAnalysisError(KindBadRequest, "Unsupported file extension: "+ext, nil)
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}
	if !s.limiter.Admit(clientID) {
		return nil, newAnalysisError(KindTooManyRequests, "Rate limit exceeded", nil)
	}

	checksum := Digest(req.Data)

	staged, err := StageTemporary(s.opts.TempDir, req.Data, ext)
	if err != nil {
		return nil, newAnalysisError(KindInternal, "Internal server error", err)
	}
	defer func() {
		if rerr := staged.Release(); rerr != nil {
			logging.Error().Err(rerr).Str("checksum", checksum).Msg("[Analyze] Failed to remove staged upload")
		}
	}()

	probe := s.prober.Probe(ctx, staged.Path())
	if probe.Degraded {
		metrics.ProbeDegradedTotal.Inc()
		logging.Warn().Str("checksum", checksum).Str("reason", probe.Reason).Msg("[Probe] Metadata unavailable, using defaults")
		probe.Metadata = models.VideoMetadata{}
	}

	classification, err := s.classifier.Classify(ctx, staged.Path(), req.Filename)
	if err != nil {
		if rerr := staged.Release(); rerr != nil {
			logging.Error().Err(rerr).Str("checksum", checksum).Msg("[Analyze] Failed to remove staged upload")
		}
		logging.Error().Err(err).Str("checksum", checksum).Msg("[AI] Model API call failed")

		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			return nil, newAnalysisError(KindUpstreamUnavailable, "Model API call failed", err)
		}
		return nil, newAnalysisError(KindInternal, "Internal server error", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, newAnalysisError(KindInternal, "Request cancelled", ctxErr)
	}

	verdict := classification.Verdict
	flagged := verdict.ProbFake >= s.opts.FlagThreshold
	if classification.Inconsistent {
		logging.Warn().Str("checksum", checksum).Float64("prob_fake", verdict.ProbFake).
			Msg("[AI] Model probabilities do not sum to 1, trusting prob_fake")
	}

	record, err := s.buildRecord(req, clientID, checksum, probe, classification, flagged)
	if err != nil {
		return nil, newAnalysisError(KindInternal, "Internal server error", err)
	}
	if err := s.audit.Enqueue(record); err != nil {
		logging.Error().Err(err).Str("checksum", checksum).Msg("[Audit] Could not schedule audit record")
	}

	if flagged {
		s.raiseAlert(ctx, record)
	}

	return &models.AnalysisResult{
		Status:   "ok",
		Flagged:  flagged,
		ProbFake: verdict.ProbFake,
		Model:    verdict,
	}, nil
}

func (s *AnalysisService) buildRecord(req models.UploadRequest, clientID, checksum string, probe ProbeResult, c *Classification, flagged bool) (models.DetectionLogRecord, error) {
	meta := map[string]any{
		"request_id":     uuid.NewString(),
		"content_type":   req.ContentType,
		"model_response": c.Raw,
		"probe_degraded": probe.Degraded,
	}
	if probe.Degraded {
		meta["probe_reason"] = probe.Reason
	}
	if c.Inconsistent {
		meta["prob_inconsistent"] = true
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return models.DetectionLogRecord{}, fmt.Errorf("marshal audit metadata: %w", err)
	}

	v := c.Verdict
	return models.DetectionLogRecord{
		Filename:        req.Filename,
		Checksum:        checksum,
		ClientIP:        clientID,
		SizeBytes:       int64(len(req.Data)),
		Width:           probe.Metadata.Width,
		Height:          probe.Metadata.Height,
		DurationSeconds: probe.Metadata.Duration,
		Codec:           probe.Metadata.Codec,
		ModelName:       v.ModelName,
		ModelVersion:    v.ModelVersion,
		ProbReal:        v.ProbReal,
		ProbFake:        v.ProbFake,
		Flagged:         flagged,
		ExplainPath:     v.ExplainabilityPath,
		Metadata:        blob,
		CreatedAt:       s.now().UTC(),
	}, nil
}

func (s *AnalysisService) raiseAlert(ctx context.Context, rec models.DetectionLogRecord) {
	metrics.FlaggedTotal.Inc()
	logging.Warn().Str("filename", rec.Filename).Float64("prob_fake", rec.ProbFake).
		Str("checksum", rec.Checksum).Msg("[ALERT] Flagged file")

	if s.alerts == nil {
		return
	}
	alert := models.FlagAlert{
		Filename:     rec.Filename,
		Checksum:     rec.Checksum,
		ProbFake:     rec.ProbFake,
		ModelName:    rec.ModelName,
		ModelVersion: rec.ModelVersion,
		FlaggedAt:    rec.CreatedAt,
	}
	if err := s.alerts.Notify(ctx, alert); err != nil {
		logging.Error().Err(err).Str("checksum", rec.Checksum).Msg("[ALERT] Failed to publish alert")
	}
}
