// Command mockmodel is a stand-in classification model for local runs. Any
// filename containing "fake" scores 0.8; everything else scores low.
package main

import (
	"math"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"deepfake-guard/logging"
	"deepfake-guard/models"
)

const latency = 400 * time.Millisecond

func main() {
	logging.Init(logging.Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})

	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/predict", predict)

	logging.Info().Str("port", port).Msg("Mock model listening")
	if err := app.Listen(":" + port); err != nil {
		logging.Fatal().Err(err).Msg("Mock model stopped")
	}
}

func predict(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"detail": "file is required"})
	}
	time.Sleep(latency)
	return c.JSON(score(fileHeader.Filename, rand.Float64))
}

func score(filename string, random func() float64) models.ModelVerdict {
	probFake := 0.8
	if !strings.Contains(strings.ToLower(filename), "fake") {
		probFake = round(random()*0.4, 2)
	}
	return models.ModelVerdict{
		ModelName:    "mock-model",
		ModelVersion: "v0",
		ProbReal:     round(1-probFake, 3),
		ProbFake:     probFake,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
