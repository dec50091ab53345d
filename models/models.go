package models

import (
	"time"

	"github.com/goccy/go-json"
)

// UploadRequest is one /analyze call as seen by the analysis service.
type UploadRequest struct {
	Data        []byte
	Filename    string
	ContentType string
	ClientKey   string
	ClientID    string
}

type VideoMetadata struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
	Codec    *string `json:"codec"`
}

// ModelVerdict is the normalized answer of the classification model.
// ProbReal and ProbFake are both in [0,1] and sum to 1.
type ModelVerdict struct {
	ModelName          string  `json:"model_name"`
	ModelVersion       string  `json:"model_version"`
	ProbReal           float64 `json:"prob_real"`
	ProbFake           float64 `json:"prob_fake"`
	ExplainabilityPath *string `json:"explainability_path"`
}

type AnalysisResult struct {
	Status   string       `json:"status"`
	Flagged  bool         `json:"flagged"`
	ProbFake float64      `json:"prob_fake"`
	Model    ModelVerdict `json:"model"`
}

// DetectionLogRecord is one row of the detection_logs audit table.
type DetectionLogRecord struct {
	ID              int64           `json:"id,omitempty"`
	Filename        string          `json:"filename"`
	Checksum        string          `json:"checksum"`
	ClientIP        string          `json:"client_ip"`
	SizeBytes       int64           `json:"size_bytes"`
	Width           int             `json:"width"`
	Height          int             `json:"height"`
	DurationSeconds float64         `json:"duration_seconds"`
	Codec           *string         `json:"codec"`
	ModelName       string          `json:"model_name"`
	ModelVersion    string          `json:"model_version"`
	ProbReal        float64         `json:"prob_real"`
	ProbFake        float64         `json:"prob_fake"`
	Flagged         bool            `json:"flagged"`
	ExplainPath     *string         `json:"explain_path"`
	Metadata        json.RawMessage `json:"metadata"`
	CreatedAt       time.Time       `json:"created_at"`
}

// FlagAlert is published when an analysis crosses the flag threshold.
type FlagAlert struct {
	Filename     string    `json:"filename"`
	Checksum     string    `json:"checksum"`
	ProbFake     float64   `json:"prob_fake"`
	ModelName    string    `json:"model_name"`
	ModelVersion string    `json:"model_version"`
	FlaggedAt    time.Time `json:"flagged_at"`
}
