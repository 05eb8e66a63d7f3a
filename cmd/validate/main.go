// Command validate checks an artifact root before it is handed to the nowcast
// service: the manifest parses, every key it lists loads, and no artifact is
// corrupt. With -radar it also scores the sample rows through every loaded
// model and checks the outputs are in range.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -artifacts ./artifacts \
//	  -radar data/mock/radar.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/couchcryptid/storm-nowcast-service/internal/dataset"
	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/couchcryptid/storm-nowcast-service/internal/registry"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	artifacts := flag.String("artifacts", "./artifacts", "artifact root directory")
	radarPath := flag.String("radar", "", "optional radar CSV to score through every loaded model")
	flag.Parse()

	os.Exit(run(*artifacts, *radarPath, observability.NewMetrics(), os.Stdout))
}

func run(root, radarPath string, metrics *observability.Metrics, out io.Writer) int {
	fmt.Fprintln(out, "=== Model Artifact Validation ===")
	fmt.Fprintln(out)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(root, domain.DefaultCatalogue(), registry.DefaultTrainConfig(),
		logger, metrics)
	snap, err := reg.LoadAll(context.Background())
	if err != nil {
		fmt.Fprintf(out, "Loading artifacts: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateManifest(root, snap),
		validateLoad(snap),
	}
	if radarPath != "" {
		phases = append(phases, validateScoring(radarPath, snap))
	}

	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	counts := snap.Counts()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Models: %d loaded, %d missing, %d load errors\n",
		counts[registry.StatusLoaded], counts[registry.StatusMissing], counts[registry.StatusLoadError])

	failed := false
	for _, p := range phases {
		if p.passed() {
			continue
		}
		failed = true
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if !failed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

func validateManifest(root string, snap *registry.Snapshot) *phase {
	p := &phase{name: "Phase 1: Manifest"}
	m, err := registry.ReadManifest(root)
	if err != nil {
		p.errorf("read manifest: %v", err)
		return p
	}
	if m.Version != 1 {
		p.errorf("unsupported manifest version %d", m.Version)
	}
	if len(m.Models) == 0 {
		p.errorf("manifest lists no models")
	}
	for _, mm := range m.Models {
		k, err := domain.ParseModelKey(mm.Key)
		if err != nil {
			p.errorf("manifest key %q: %v", mm.Key, err)
			continue
		}
		if st := snap.Status(k); st != registry.StatusLoaded {
			p.errorf("%s is listed in the manifest but is %s", mm.Key, st)
		}
	}
	return p
}

func validateLoad(snap *registry.Snapshot) *phase {
	p := &phase{name: "Phase 2: Artifact Load"}
	if !snap.IsReady() {
		p.errorf("no model loaded")
	}
	for _, e := range snap.Entries() {
		if e.Status == registry.StatusLoadError {
			p.errorf("%s: %s", e.Key, e.Error)
		}
	}
	return p
}

func validateScoring(radarPath string, snap *registry.Snapshot) *phase {
	p := &phase{name: "Phase 3: Sample Scoring"}
	frame, err := dataset.ReadFiles([]string{radarPath})
	if err != nil {
		p.errorf("read radar sample: %v", err)
		return p
	}
	table := dataset.FromFrame(frame)
	table.Clean()
	if table.Len() == 0 {
		p.errorf("radar sample has no rows")
		return p
	}

	scored := 0
	for _, e := range snap.Entries() {
		if e.Status != registry.StatusLoaded {
			continue
		}
		k, err := domain.ParseModelKey(e.Key)
		if err != nil {
			p.errorf("%s: %v", e.Key, err)
			continue
		}
		rows := table.Rows(k.Category)
		if len(rows) == 0 {
			continue
		}
		x, err := table.Matrix(snap.Features(k), rows)
		if err != nil {
			p.errorf("%s: %v", e.Key, err)
			continue
		}
		for i, raw := range x {
			if err := checkOutput(snap, k, raw); err != nil {
				p.errorf("%s row %s: %v", e.Key, table.CellIDs[rows[i]], err)
				break
			}
		}
		scored++
	}
	if scored == 0 {
		p.errorf("no loaded model matched a category in the sample")
	}
	return p
}

func checkOutput(snap *registry.Snapshot, k domain.ModelKey, raw []float64) error {
	if k.Role == domain.RoleClassifier {
		prob, err := snap.PresenceProbability(k, raw)
		if err != nil {
			return err
		}
		if math.IsNaN(prob) || prob < 0 || prob > 1 {
			return fmt.Errorf("probability %v out of range", prob)
		}
		return nil
	}
	v, err := snap.Regress(k, raw)
	if err != nil {
		return err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("rain rate %v is not finite", v)
	}
	return nil
}
