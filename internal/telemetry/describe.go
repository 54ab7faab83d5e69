package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Summary holds descriptive statistics for one recorded column.
type Summary struct {
	Count int
	Mean  float64
	Std   float64
	Min   float64
	Max   float64
}

// Describe computes count, mean, sample standard deviation, minimum and
// maximum over values. An empty input yields the zero Summary.
func Describe(values []float64) Summary {
	n := len(values)
	if n == 0 {
		return Summary{}
	}

	sum := 0.0
	min := values[0]
	max := values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(n)

	std := 0.0
	if n > 1 {
		var sq float64
		for _, v := range values {
			d := v - mean
			sq += d * d
		}
		std = math.Sqrt(sq / float64(n-1))
	}

	return Summary{Count: n, Mean: mean, Std: std, Min: min, Max: max}
}

// Jitter measures the stability of a series as the sample standard
// deviation of its successive differences. Fewer than two samples yield
// 0.
func Jitter(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	deltas := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		deltas[i-1] = values[i] - values[i-1]
	}
	return Describe(deltas).Std
}

// Table is a parsed telemetry log: ordered column names plus one series
// of samples per column.
type Table struct {
	Columns []string
	series  map[string][]float64
}

// Len reports the number of data rows.
func (t *Table) Len() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.series[t.Columns[0]])
}

// Column returns the samples recorded under name.
func (t *Table) Column(name string) ([]float64, bool) {
	s, ok := t.series[name]
	return s, ok
}

// ReadTable parses a CSV log written by FrameLog or ArrivalLog. Every
// column is parsed as float64; frame ids survive the conversion exactly
// up to 2^53.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := &Table{
		Columns: make([]string, len(header)),
		series:  make(map[string][]float64, len(header)),
	}
	for i, name := range header {
		t.Columns[i] = strings.TrimSpace(name)
	}

	for row := 1; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if len(rec) != len(t.Columns) {
			return nil, fmt.Errorf("row %d: got %d fields, want %d", row, len(rec), len(t.Columns))
		}
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %s: %w", row, t.Columns[i], err)
			}
			t.series[t.Columns[i]] = append(t.series[t.Columns[i]], v)
		}
	}
}
