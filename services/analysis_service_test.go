package services

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepfake-guard/models"
)

const testKey = "wrapper-test-key"

type fakeClassifier struct {
	mu       sync.Mutex
	calls    int
	seenPath string
	result   *Classification
	err      error
	panicMsg string
	// sawFile reports whether the staged file existed while the model was called.
	sawFile bool
}

func (f *fakeClassifier) Classify(ctx context.Context, path, filename string) (*Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seenPath = path
	_, statErr := os.Stat(path)
	f.sawFile = statErr == nil
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.result, f.err
}

type fakeProber struct {
	mu     sync.Mutex
	result ProbeResult
	calls  int
}

func (f *fakeProber) Probe(ctx context.Context, path string) ProbeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

type fakeSink struct {
	mu      sync.Mutex
	records []models.DetectionLogRecord
	err     error
}

func (f *fakeSink) Enqueue(rec models.DetectionLogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeSink) Records() []models.DetectionLogRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DetectionLogRecord(nil), f.records...)
}

type fakeNotifier struct {
	alerts []models.FlagAlert
}

func (f *fakeNotifier) Notify(ctx context.Context, alert models.FlagAlert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}

type harness struct {
	svc        *AnalysisService
	classifier *fakeClassifier
	prober     *fakeProber
	sink       *fakeSink
	notifier   *fakeNotifier
	limiter    *RateLimiter
	tempDir    string
}

func verdictWith(probReal, probFake float64) *Classification {
	return &Classification{
		Verdict: models.ModelVerdict{ModelName: "mock-model", ModelVersion: "v0", ProbReal: probReal, ProbFake: probFake},
		Raw:     json.RawMessage(`{"model_name":"mock-model"}`),
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		classifier: &fakeClassifier{result: verdictWith(0.9, 0.1)},
		prober:     &fakeProber{result: ProbeResult{Metadata: models.VideoMetadata{Width: 640, Height: 480, Duration: 2.5}}},
		sink:       &fakeSink{},
		notifier:   &fakeNotifier{},
		limiter:    NewRateLimiter(20, 0),
		tempDir:    t.TempDir(),
	}
	h.svc = NewAnalysisService(AnalysisOptions{
		WrapperAPIKey: testKey,
		MaxFileSize:   1024,
		FlagThreshold: 0.6,
		TempDir:       h.tempDir,
	}, h.limiter, h.prober, h.classifier, h.sink, h.notifier)
	h.svc.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600)) }
	return h
}

func (h *harness) assertTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged uploads must be removed")
}

func upload(filename, data string) models.UploadRequest {
	return models.UploadRequest{Data: []byte(data), Filename: filename, ContentType: "video/mp4", ClientKey: testKey}
}

func requireKind(t *testing.T, err error, kind ErrorKind) *AnalysisError {
	t.Helper()
	var ae *AnalysisError
	require.True(t, errors.As(err, &ae), "expected *AnalysisError, got %v", err)
	assert.Equal(t, kind, ae.Kind)
	return ae
}

func TestAnalyzeSuccess(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Analyze(context.Background(), upload("clip.MP4", "video-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "ok", res.Status)
	assert.False(t, res.Flagged)
	assert.InDelta(t, 0.1, res.ProbFake, 1e-9)
	assert.Equal(t, "mock-model", res.Model.ModelName)
	assert.True(t, h.classifier.sawFile)
	assert.True(t, strings.HasSuffix(h.classifier.seenPath, ".mp4"))

	records := h.sink.Records()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "clip.MP4", rec.Filename)
	assert.Equal(t, Digest([]byte("video-bytes")), rec.Checksum)
	assert.Equal(t, DefaultClientID, rec.ClientIP)
	assert.Equal(t, int64(len("video-bytes")), rec.SizeBytes)
	assert.Equal(t, 640, rec.Width)
	assert.Equal(t, 480, rec.Height)
	assert.InDelta(t, 2.5, rec.DurationSeconds, 1e-9)
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())

	var meta map[string]any
	require.NoError(t, json.Unmarshal(rec.Metadata, &meta))
	assert.Equal(t, map[string]any{"model_name": "mock-model"}, meta["model_response"])
	assert.NotEmpty(t, meta["request_id"])
	assert.Equal(t, false, meta["probe_degraded"])

	assert.Empty(t, h.notifier.alerts)
	h.assertTempDirEmpty(t)
}

func TestAnalyzeFlagsAtThreshold(t *testing.T) {
	h := newHarness(t)
	h.classifier.result = verdictWith(0.25, 0.75)

	res, err := h.svc.Analyze(context.Background(), upload("deepfake.webm", "x"))
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.InDelta(t, 0.75, res.ProbFake, 1e-9)

	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, "deepfake.webm", h.notifier.alerts[0].Filename)
	assert.True(t, h.sink.Records()[0].Flagged)

	h.classifier.result = verdictWith(0.4, 0.6)
	res, err = h.svc.Analyze(context.Background(), upload("edge.mkv", "y"))
	require.NoError(t, err)
	assert.True(t, res.Flagged, "threshold is inclusive")
}

func TestAnalyzeUnauthorized(t *testing.T) {
	h := newHarness(t)
	req := upload("clip.mp4", "x")
	req.ClientKey = "wrong"

	_, err := h.svc.Analyze(context.Background(), req)
	ae := requireKind(t, err, KindUnauthorized)
	assert.Equal(t, http.StatusUnauthorized, ae.StatusCode())

	assert.Zero(t, h.classifier.calls)
	assert.Empty(t, h.sink.Records())
	assert.Zero(t, h.limiter.Len(), "rejected before rate limiting")
}

func TestAnalyzeEmptyFile(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Analyze(context.Background(), upload("clip.mp4", ""))
	ae := requireKind(t, err, KindBadRequest)
	assert.Equal(t, "Empty file", ae.Message)
	assert.Zero(t, h.classifier.calls)
}

func TestAnalyzeTooLarge(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Analyze(context.Background(), upload("clip.mp4", strings.Repeat("a", 1025)))
	ae := requireKind(t, err, KindPayloadTooLarge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, ae.StatusCode())

	assert.Zero(t, h.classifier.calls)
	assert.Empty(t, h.sink.Records())
	h.assertTempDirEmpty(t)
}

func TestAnalyzeExactlyMaxSizeAccepted(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Analyze(context.Background(), upload("clip.mp4", strings.Repeat("a", 1024)))
	assert.NoError(t, err)
}

func TestAnalyzeRejectsExtension(t *testing.T) {
	for _, name := range []string{"clip.avi", "clip.exe", "clip", "clip.mp4.txt"} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)

			_, err := h.svc.Analyze(context.Background(), upload(name, "x"))
			ae := requireKind(t, err, KindBadRequest)
			assert.Contains(t, ae.Message, "Unsupported file extension")

			assert.Zero(t, h.prober.calls)
			assert.Zero(t, h.classifier.calls)
			assert.Zero(t, h.limiter.Len())
			h.assertTempDirEmpty(t)
		})
	}
}

func TestAnalyzeRateLimited(t *testing.T) {
	h := newHarness(t)
	h.limiter = NewRateLimiter(2, 0)
	h.svc.limiter = h.limiter

	for i := 0; i < 2; i++ {
		_, err := h.svc.Analyze(context.Background(), upload("clip.mp4", "x"))
		require.NoError(t, err)
	}
	_, err := h.svc.Analyze(context.Background(), upload("clip.mp4", "x"))
	requireKind(t, err, KindTooManyRequests)
	assert.Equal(t, 2, h.classifier.calls)
	assert.Len(t, h.sink.Records(), 2)

	other := upload("clip.mp4", "x")
	other.ClientID = "other-client"
	_, err = h.svc.Analyze(context.Background(), other)
	assert.NoError(t, err)
}

func TestAnalyzeUpstreamFailureCleansUp(t *testing.T) {
	h := newHarness(t)
	h.classifier.result = nil
	h.classifier.err = &UpstreamError{StatusCode: http.StatusServiceUnavailable, Reason: "unexpected status"}

	_, err := h.svc.Analyze(context.Background(), upload("clip.mov", "x"))
	ae := requireKind(t, err, KindUpstreamUnavailable)
	assert.Equal(t, http.StatusBadGateway, ae.StatusCode())
	assert.NotContains(t, ae.Message, h.tempDir)

	assert.True(t, h.classifier.sawFile)
	assert.Empty(t, h.sink.Records())
	h.assertTempDirEmpty(t)
}

func TestAnalyzeNonUpstreamClassifierErrorIsInternal(t *testing.T) {
	h := newHarness(t)
	h.classifier.result = nil
	h.classifier.err = errors.New("open staged file: permission denied")

	_, err := h.svc.Analyze(context.Background(), upload("clip.mov", "x"))
	requireKind(t, err, KindInternal)
	h.assertTempDirEmpty(t)
}

func TestAnalyzePanicIsInternalAndCleansUp(t *testing.T) {
	h := newHarness(t)
	h.classifier.panicMsg = "boom"

	_, err := h.svc.Analyze(context.Background(), upload("clip.mp4", "x"))
	ae := requireKind(t, err, KindInternal)
	assert.Equal(t, "Internal server error", ae.Message)
	h.assertTempDirEmpty(t)
}

func TestAnalyzeDegradedProbeStillProducesVerdict(t *testing.T) {
	h := newHarness(t)
	h.prober.result = ProbeResult{Degraded: true, Reason: "ffprobe not runnable"}

	res, err := h.svc.Analyze(context.Background(), upload("clip.mp4", "x"))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)

	rec := h.sink.Records()[0]
	assert.Zero(t, rec.Width)
	assert.Zero(t, rec.Height)
	assert.Zero(t, rec.DurationSeconds)
	assert.Nil(t, rec.Codec)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(rec.Metadata, &meta))
	assert.Equal(t, true, meta["probe_degraded"])
	assert.Equal(t, "ffprobe not runnable", meta["probe_reason"])
}

func TestAnalyzeAuditFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("audit queue full")

	res, err := h.svc.Analyze(context.Background(), upload("clip.mp4", "x"))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
}

func TestAnalyzeCancelledWritesNoRecord(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Analyze(ctx, upload("clip.mp4", "x"))
	require.Error(t, err)
	assert.Empty(t, h.sink.Records())
	h.assertTempDirEmpty(t)
}

func TestAnalyzeRecordsInconsistentProbabilities(t *testing.T) {
	h := newHarness(t)
	c := verdictWith(0.3, 0.7)
	c.Inconsistent = true
	h.classifier.result = c

	_, err := h.svc.Analyze(context.Background(), upload("clip.mp4", "x"))
	require.NoError(t, err)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(h.sink.Records()[0].Metadata, &meta))
	assert.Equal(t, true, meta["prob_inconsistent"])
}

func TestAnalyzeConcurrentDistinctClients(t *testing.T) {
	h := newHarness(t)
	h.limiter = NewRateLimiter(3, 0)
	h.svc.limiter = h.limiter

	const clients = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := map[string]int{}
	for c := 0; c < clients; c++ {
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				req := upload("clip.mp4", "x")
				req.ClientID = id
				if _, err := h.svc.Analyze(context.Background(), req); err == nil {
					mu.Lock()
					admitted[id]++
					mu.Unlock()
				}
			}(string(rune('a' + c)))
		}
	}
	wg.Wait()

	for c := 0; c < clients; c++ {
		assert.Equal(t, 3, admitted[string(rune('a'+c))])
	}
	assert.Len(t, h.sink.Records(), clients*3)
	h.assertTempDirEmpty(t)
}
