package controllers

import (
	"context"
	"crypto/subtle"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"deepfake-guard/audit"
	"deepfake-guard/logging"
	"deepfake-guard/models"
)

type ReportReader interface {
	Recent(ctx context.Context, filter audit.Filter) ([]models.DetectionLogRecord, error)
}

type ReportController struct {
	Store         ReportReader
	WrapperAPIKey string
}

func NewReportController(store ReportReader, wrapperAPIKey string) *ReportController {
	return &ReportController{Store: store, WrapperAPIKey: wrapperAPIKey}
}

// GetReports handles GET /reports?limit=&flagged=&checksum=, newest first.
func (rc *ReportController) GetReports(c *fiber.Ctx) error {
	if subtle.ConstantTimeCompare([]byte(c.Get("x-api-key")), []byte(rc.WrapperAPIKey)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"detail": "Unauthorized wrapper client"})
	}

	filter := audit.Filter{
		Limit:    c.QueryInt("limit", audit.DefaultLimit),
		Checksum: c.Query("checksum"),
	}
	if raw := c.Query("flagged"); raw != "" {
		flagged, err := strconv.ParseBool(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "flagged must be true or false"})
		}
		filter.Flagged = &flagged
	}

	records, err := rc.Store.Recent(c.UserContext(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("[Reports] Database error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": "Database error"})
	}
	if records == nil {
		records = []models.DetectionLogRecord{}
	}
	return c.JSON(records)
}
