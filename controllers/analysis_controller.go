package controllers

import (
	"context"
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"

	"deepfake-guard/logging"
	"deepfake-guard/models"
	"deepfake-guard/services"
)

type Analyzer interface {
	Analyze(ctx context.Context, req models.UploadRequest) (*models.AnalysisResult, error)
}

type AnalysisController struct {
	AnalysisService Analyzer
}

func NewAnalysisController(analysisService Analyzer) *AnalysisController {
	return &AnalysisController{AnalysisService: analysisService}
}

// Analyze handles POST /analyze. A missing file field is passed through as an empty
// upload so the key check still runs first.
func (ac *AnalysisController) Analyze(c *fiber.Ctx) error {
	req := models.UploadRequest{
		ClientKey: c.Get("x-api-key"),
		ClientID:  services.DefaultClientID,
	}

	if fileHeader, err := c.FormFile("file"); err == nil {
		req.Filename = fileHeader.Filename
		req.ContentType = fileHeader.Header.Get(fiber.HeaderContentType)

		file, err := fileHeader.Open()
		if err != nil {
			logging.Error().Err(err).Msg("[Upload] Error opening uploaded file")
			return writeError(c, err)
		}
		defer file.Close()

		if req.Data, err = io.ReadAll(file); err != nil {
			logging.Error().Err(err).Msg("[Upload] Error reading uploaded file")
			return writeError(c, err)
		}
	}

	logging.Info().Str("filename", req.Filename).Int("size", len(req.Data)).Msg("[Upload] Received analyze request")

	result, err := ac.AnalysisService.Analyze(c.UserContext(), req)
	if err != nil {
		return writeError(c, err)
	}

	logging.Info().Str("filename", req.Filename).Bool("flagged", result.Flagged).
		Float64("prob_fake", result.ProbFake).Msg("[Upload] Analysis complete")
	return c.JSON(result)
}

// writeError renders err as {"detail": ...}. Only *AnalysisError messages reach the client.
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	detail := "Internal server error"

	var ae *services.AnalysisError
	if errors.As(err, &ae) {
		status = ae.StatusCode()
		detail = ae.Message
	}
	if status >= fiber.StatusInternalServerError {
		logging.Error().Err(err).Int("status", status).Msg("[Upload] Request failed")
	}
	return c.Status(status).JSON(fiber.Map{"detail": detail})
}
