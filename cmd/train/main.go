// Command train fits every model of the catalogue from radar and label CSV
// tables and writes artifacts plus manifest.yaml into the artifact root. A
// running nowcast service watching the same root reloads them.
//
// Usage:
//
//	go run ./cmd/train \
//	  -radar data/radar_2023.csv,data/radar_2024.csv \
//	  -labels data/labels_2023.csv,data/labels_2024.csv \
//	  -artifacts ./artifacts
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/couchcryptid/storm-nowcast-service/internal/registry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "train:", err)
		os.Exit(1)
	}
}

func run() error {
	radarPaths := flag.String("radar", "", "comma-separated radar variable CSV files")
	labelPaths := flag.String("labels", "", "comma-separated label CSV files")
	artifacts := flag.String("artifacts", "./artifacts", "artifact root directory")
	minSamples := flag.Int("min-samples", registry.DefaultTrainConfig().MinSamples, "minimum rows per category")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	flag.Parse()

	req := domain.TrainingRequest{
		RadarPaths: splitPaths(*radarPaths),
		LabelPaths: splitPaths(*labelPaths),
	}
	if len(req.RadarPaths) == 0 || len(req.LabelPaths) == 0 {
		flag.Usage()
		return fmt.Errorf("-radar and -labels are required")
	}

	logger := sharedobs.NewLogger(*logLevel, "text")
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trainCfg := registry.DefaultTrainConfig()
	trainCfg.MinSamples = *minSamples
	reg := registry.New(*artifacts, domain.DefaultCatalogue(), trainCfg, logger, metrics)

	// Load first so keys this run skips keep their previous artifacts.
	if _, err := reg.LoadAll(ctx); err != nil {
		return err
	}
	report, err := reg.Train(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
