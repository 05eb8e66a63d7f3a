// Command genmock writes a synthetic radar table and matching label table
// that cmd/train accepts. Rows are deterministic for a given seed so that
// local runs and demos produce the same artifacts.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -cells 600 \
//	  -radar-out data/mock/radar.csv \
//	  -labels-out data/mock/labels.csv
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/storm-nowcast-service/internal/dataset"
	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
)

// heavyMeanMMH is the mean rain rate above which a synthetic cell is labelled heavy.
const heavyMeanMMH = 10.0

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cells := flag.Int("cells", 600, "number of synthetic storm cells")
	seed := flag.Uint64("seed", 42, "random seed")
	radarOut := flag.String("radar-out", "", "output path for the radar CSV")
	labelsOut := flag.String("labels-out", "", "output path for the label CSV")
	flag.Parse()

	if *radarOut == "" || *labelsOut == "" || *cells < 1 {
		flag.Usage()
		return fmt.Errorf("missing required flags: -radar-out, -labels-out")
	}

	radar, labels := generate(*cells, *seed, []domain.Horizon{domain.Horizon30, domain.Horizon60})
	if err := writeCSV(*radarOut, radar); err != nil {
		return fmt.Errorf("writing radar table: %w", err)
	}
	log.Printf("wrote radar table: %s (%d rows)", *radarOut, len(radar)-1)

	if err := writeCSV(*labelsOut, labels); err != nil {
		return fmt.Errorf("writing label table: %w", err)
	}
	log.Printf("wrote label table: %s (%d rows)", *labelsOut, len(labels)-1)

	printStats(labels)
	return nil
}

var categories = []domain.Category{
	domain.CategoryCC, domain.CategoryCC, domain.CategoryCC,
	domain.CategoryMCC, domain.CategorySLD, domain.CategorySLP,
	domain.CategoryMSL, domain.CategoryMSL,
}

// generate returns the radar and label tables, header row first.
func generate(n int, seed uint64, horizons []domain.Horizon) (radar, labels [][]string) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

	radarHeader := append([]string{dataset.CellIDColumn, dataset.CategoryColumn}, domain.ClassifierFeatures()...)
	labelHeader := []string{dataset.CellIDColumn}
	for _, h := range horizons {
		for _, r := range []domain.Role{domain.RoleClassifier, domain.RoleRegressorMean, domain.RoleRegressorTop10} {
			labelHeader = append(labelHeader, r.Target()+"_"+h.String())
		}
	}
	radar = [][]string{radarHeader}
	labels = [][]string{labelHeader}

	for i := range n {
		id := fmt.Sprintf("cell-%05d", i+1)
		cat := categories[rng.IntN(len(categories))]

		rmj := uniform(20, 80)
		if cat == domain.CategoryCC {
			rmj = uniform(4, 20)
		}
		maxZ := uniform(30, 65)
		vil := uniform(1, 40)
		meanPrev := math.Max(0, (maxZ-30)*0.6+uniform(-4, 4))
		top10Prev := meanPrev * uniform(1.6, 2.8)

		v := map[string]float64{
			"Rmj": rmj, "Rmn": rmj * uniform(0.3, 0.9), "Theta": uniform(0, 180),
			"MeanZ": maxZ - uniform(5, 15), "Area": math.Pi * rmj * rmj * 0.5, "Volume": rmj * rmj * uniform(5, 12),
			"Top": uniform(6, 16), "Base": uniform(0.5, 2), "MaxZ": maxZ, "MaxZhg": uniform(2, 8),
			"AvgVIL": vil, "MaxVIL": vil * uniform(1.2, 2.5), "U": uniform(-15, 15), "V": uniform(-15, 15),
			"Direction": uniform(0, 360), "MeanRR_prev": meanPrev, "Top10%_prev": top10Prev,
			"dist_to_sea": uniform(0, 120), "elevation": uniform(0, 1500), "aspect": uniform(0, 360),
			"roughness": uniform(0, 50), "slope": uniform(0, 25),
		}

		row := []string{id, string(cat)}
		for _, f := range domain.ClassifierFeatures() {
			row = append(row, format(v[f]))
		}
		radar = append(radar, row)

		lrow := []string{id}
		for _, h := range horizons {
			decay := math.Pow(0.85, float64(h)/30)
			mean := math.Max(0, decay*(0.55*meanPrev+0.15*vil+0.1*(maxZ-30))+uniform(-2, 2))
			top10 := mean * uniform(1.8, 2.6)
			heavy := "0"
			if mean >= heavyMeanMMH {
				heavy = "1"
			}
			lrow = append(lrow, heavy, format(mean), format(top10))
		}
		labels = append(labels, lrow)
	}
	return radar, labels
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func writeCSV(path string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printStats(labels [][]string) {
	header := labels[0]
	fmt.Println("\n=== Label balance ===")
	for c, name := range header {
		if c == 0 || !strings.HasPrefix(name, domain.RoleClassifier.Target()) {
			continue
		}
		heavy := 0
		for _, row := range labels[1:] {
			if row[c] == "1" {
				heavy++
			}
		}
		fmt.Printf("%s: %d of %d heavy\n", name, heavy, len(labels)-1)
	}
}
