package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"deepfake-guard/logging"
	"deepfake-guard/metrics"
	"deepfake-guard/models"
)

const (
	maxModelResponseBytes = 1 << 20
	probTolerance         = 1e-6
	breakerName           = "model-api"
)

// Classification is a normalized verdict plus the raw upstream body kept for audit.
type Classification struct {
	Verdict models.ModelVerdict
	Raw     json.RawMessage
	// Inconsistent is set when the model sent both probabilities and they did not sum to 1.
	Inconsistent bool
}

type AIServiceClient struct {
	ModelAPIURL string
	APIKey      string
	HTTPClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[*Classification]
}

func NewAIServiceClient(modelAPIURL, apiKey string, timeout time.Duration) *AIServiceClient {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*Classification](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("[AI] Circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &AIServiceClient{
		ModelAPIURL: modelAPIURL,
		APIKey:      apiKey,
		HTTPClient:  &http.Client{Timeout: timeout},
		breaker:     cb,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Classify sends the staged video to the model and returns its normalized verdict.
// Failures on the model side, including an open circuit, come back as *UpstreamError.
func (client *AIServiceClient) Classify(ctx context.Context, videoFilePath, filename string) (*Classification, error) {
	start := time.Now()
	result, err := client.breaker.Execute(func() (*Classification, error) {
		return client.classify(ctx, videoFilePath, filename)
	})

	outcome := "success"
	if err != nil {
		outcome = "failure"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "rejected"
			err = &UpstreamError{Reason: "circuit open", Err: err}
		}
	}
	metrics.ModelCallDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return result, err
}

func (client *AIServiceClient) classify(ctx context.Context, videoFilePath, filename string) (*Classification, error) {
	file, err := os.Open(videoFilePath)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	defer file.Close()

	var b bytes.Buffer
	writer := multipart.NewWriter(&b)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy staged file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.ModelAPIURL, &b)
	if err != nil {
		return nil, &UpstreamError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", client.APIKey)

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxModelResponseBytes))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Reason: "unexpected status"}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxModelResponseBytes))
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Reason: "read response", Err: err}
	}

	var body ModelResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Reason: "decode response", Err: err}
	}

	verdict, inconsistent, err := NormalizeVerdict(body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Reason: "invalid verdict", Err: err}
	}
	return &Classification{Verdict: verdict, Raw: raw, Inconsistent: inconsistent}, nil
}

// ModelResponse is the JSON body returned by the classification model.
type ModelResponse struct {
	ModelName          string   `json:"model_name"`
	ModelVersion       string   `json:"model_version"`
	ProbReal           *float64 `json:"prob_real"`
	ProbFake           *float64 `json:"prob_fake"`
	ExplainabilityPath *string  `json:"explainability_path"`
}

// NormalizeVerdict fills in whichever probability the model left out. When both are
// present but do not sum to 1, prob_fake wins because it drives the flag decision,
// and the pair is reported as inconsistent.
func NormalizeVerdict(body ModelResponse) (models.ModelVerdict, bool, error) {
	v := models.ModelVerdict{
		ModelName:          body.ModelName,
		ModelVersion:       body.ModelVersion,
		ExplainabilityPath: body.ExplainabilityPath,
	}

	for _, p := range []*float64{body.ProbReal, body.ProbFake} {
		if p != nil && (math.IsNaN(*p) || *p < 0 || *p > 1) {
			return v, false, fmt.Errorf("probability %v outside [0,1]", *p)
		}
	}

	inconsistent := false
	switch {
	case body.ProbReal == nil && body.ProbFake == nil:
		return v, false, errors.New("missing prob_real and prob_fake")
	case body.ProbFake == nil:
		v.ProbReal = *body.ProbReal
		v.ProbFake = 1 - v.ProbReal
	case body.ProbReal == nil:
		v.ProbFake = *body.ProbFake
		v.ProbReal = 1 - v.ProbFake
	default:
		v.ProbFake = *body.ProbFake
		v.ProbReal = *body.ProbReal
		if math.Abs(v.ProbReal+v.ProbFake-1) > probTolerance {
			inconsistent = true
			v.ProbReal = 1 - v.ProbFake
		}
	}
	return v, inconsistent, nil
}
