// Command attacktest replays every file in a folder against /analyze and writes
// one CSV row per file.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"deepfake-guard/logging"
)

type options struct {
	URL     string
	APIKey  string
	Output  string
	Timeout time.Duration
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "attacktest [folder]",
		Short:        "Post every file in a folder to the analyze endpoint and record the verdicts",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := "test_vectors"
			if len(args) == 1 {
				folder = args[0]
			}
			client := &http.Client{Timeout: opts.Timeout}
			rows, err := run(cmd.Context(), client, opts, folder)
			if err != nil {
				return err
			}
			if err := writeCSV(opts.Output, rows); err != nil {
				return err
			}
			logging.Info().Int("files", len(rows)).Str("output", opts.Output).Msg("Wrote results")
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "http://127.0.0.1:8001/analyze", "analyze endpoint")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "wrapper-test-key", "wrapper API key sent as x-api-key")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "attack_results.csv", "CSV output path")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 60*time.Second, "per-request timeout")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run posts each regular file in folder, sorted by name. A file that cannot be
// sent produces an ERROR row rather than aborting the run.
func run(ctx context.Context, client *http.Client, opts options, folder string) ([][]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", folder, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var rows [][]string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		row, err := post(ctx, client, opts, filepath.Join(folder, name))
		if err != nil {
			logging.Warn().Err(err).Str("filename", name).Msg("Request failed")
			row = []string{"ERROR", err.Error(), ""}
		}
		rows = append(rows, append([]string{name}, row...))
	}
	return rows, nil
}

func post(ctx context.Context, client *http.Client, opts options, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", opts.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result struct {
		ProbFake *float64 `json:"prob_fake"`
		Flagged  *bool    `json:"flagged"`
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(raw, &result)
	}

	row := []string{strconv.Itoa(resp.StatusCode), "", ""}
	if result.ProbFake != nil {
		row[1] = strconv.FormatFloat(*result.ProbFake, 'f', -1, 64)
	}
	if result.Flagged != nil {
		row[2] = strconv.FormatBool(*result.Flagged)
	}
	return row, nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"filename", "status", "prob_fake", "flagged"}); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}
