package controllers

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// multipartOverhead leaves room for boundaries and headers around a file of
// maximum size, so the size check in the analysis service answers first.
const multipartOverhead = 1 << 20

func NewApp(maxFileSize int64) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "deepfake-guard",
		BodyLimit:             int(maxFileSize) + multipartOverhead,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	return app
}

func RegisterRoutes(app *fiber.App, analysis *AnalysisController, reports *ReportController) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "Defense API is running!"})
	})
	app.Post("/analyze", analysis.Analyze)
	app.Get("/reports", reports.GetReports)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}
