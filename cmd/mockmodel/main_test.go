package main

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepfake-guard/models"
)

func TestScoreFakeFilename(t *testing.T) {
	v := score("Interview_FAKE.mp4", func() float64 { t.Fatal("random used for fake filename"); return 0 })
	assert.Equal(t, 0.8, v.ProbFake)
	assert.InDelta(t, 0.2, v.ProbReal, 1e-9)
	assert.Equal(t, "mock-model", v.ModelName)
	assert.Equal(t, "v0", v.ModelVersion)
	assert.Nil(t, v.ExplainabilityPath)
}

func TestScoreOtherFilename(t *testing.T) {
	v := score("holiday.mp4", func() float64 { return 0.5 })
	assert.Equal(t, 0.2, v.ProbFake)
	assert.Equal(t, 0.8, v.ProbReal)

	v = score("holiday.mp4", func() float64 { return 0.999 })
	assert.Equal(t, 0.4, v.ProbFake)
}

func TestPredictEndpoint(t *testing.T) {
	app := fiber.New()
	app.Post("/predict", predict)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "fake.mp4")
	require.NoError(t, err)
	_, _ = part.Write([]byte("x"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	var v models.ModelVerdict
	require.NoError(t, json.Unmarshal(raw, &v))
	assert.Equal(t, 0.8, v.ProbFake)
	assert.Contains(t, string(raw), `"explainability_path":null`)
}

func TestPredictRequiresFile(t *testing.T) {
	app := fiber.New()
	app.Post("/predict", predict)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/predict", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
