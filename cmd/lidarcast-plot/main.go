package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ayusman/lidarcast/internal/telemetry"
)

const histBins = 30

func main() {
	outDir := flag.String("out", ".", "directory to write plots into")
	noPlots := flag.Bool("no-plots", false, "print statistics only, skip PNG rendering")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-out dir] [-no-plots] <telemetry.csv>\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *outDir, *noPlots); err != nil {
		log.Fatalf("lidarcast-plot: %v", err)
	}
}

func run(csvPath, outDir string, noPlots bool) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	table, err := telemetry.ReadTable(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", csvPath, err)
	}
	if table.Len() == 0 {
		return fmt.Errorf("%s holds no data rows", csvPath)
	}

	printSummary(csvPath, table)

	if noPlots {
		return nil
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	return renderPlots(table, outDir)
}

// printSummary writes a describe()-style table of the recorded columns.
func printSummary(csvPath string, table *telemetry.Table) {
	fmt.Printf("%s: %d frames\n\n", csvPath, table.Len())
	fmt.Printf("%-14s %8s %12s %12s %12s %12s %12s\n", "column", "count", "mean", "std", "min", "max", "jitter")
	for _, name := range table.Columns {
		if name == "frame_id" || name == "timestamp" {
			continue
		}
		values, _ := table.Column(name)
		s := telemetry.Describe(values)
		fmt.Printf("%-14s %8d %12.3f %12.3f %12.3f %12.3f %12.3f\n",
			name, s.Count, s.Mean, s.Std, s.Min, s.Max, telemetry.Jitter(values))
	}
}

func renderPlots(table *telemetry.Table, outDir string) error {
	if fps, ok := table.Column("fps"); ok {
		path := filepath.Join(outDir, "fps.png")
		if err := saveLine(path, "Throughput", "frame", "fps", fps); err != nil {
			return err
		}
		histPath := filepath.Join(outDir, "fps_hist.png")
		if err := saveHist(histPath, "FPS Distribution", "fps", fps); err != nil {
			return err
		}
	}
	if latency, ok := table.Column("latency_ms"); ok {
		path := filepath.Join(outDir, "latency.png")
		if err := saveLine(path, "Latency", "frame", "latency (ms)", latency); err != nil {
			return err
		}
	}
	if hands, ok := table.Column("num_hands"); ok {
		path := filepath.Join(outDir, "hands.png")
		if err := saveLine(path, "Detected Hands", "frame", "hands", hands); err != nil {
			return err
		}
	}
	return nil
}

// saveLine renders values over their sample index as a line chart.
func saveLine(path, title, xLabel, yLabel string, values []float64) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	xys := make(plotter.XYs, len(values))
	for i, v := range values {
		xys[i].X = float64(i)
		xys[i].Y = v
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("plot %s: %w", title, err)
	}
	p.Add(line)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	log.Printf("wrote %s", path)
	return nil
}

// saveHist renders a histogram of values.
func saveHist(path, title, xLabel string, values []float64) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel

	hist, err := plotter.NewHist(plotter.Values(values), histBins)
	if err != nil {
		return fmt.Errorf("plot %s: %w", title, err)
	}
	p.Add(hist)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	log.Printf("wrote %s", path)
	return nil
}
