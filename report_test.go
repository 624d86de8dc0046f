package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWritePredictionReport(t *testing.T) {
	qr := &QuantizationRange{XMin: 0, XMax: 100, YMin: 0, YMax: 1e6, Granularity: DefaultGranularity}
	path := filepath.Join(t.TempDir(), "out.csv")

	err := WritePredictionReport(path, "humanitarian_needs", []string{"a", "b"}, qr,
		[][]int64{{0, 1000000}, {1000000, 0}},
		[]int64{3000000, 5000000},
		[]int64{2000000, 5000000})
	if err != nil {
		t.Fatalf("WritePredictionReport: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2 rows", len(records))
	}
	wantHeader := []string{"a", "b", "humanitarian_needs_actual", "humanitarian_needs_prediction"}
	for i, h := range wantHeader {
		if records[0][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], h)
		}
	}

	// Feature cells pass through the inverse affine transform cell by
	// cell: 0 -> 0, 1000000 -> 100. Targets stay quantized.
	want := [][]string{
		{"0", "100", "3000000", "2000000"},
		{"100", "0", "5000000", "5000000"},
	}
	for i, row := range want {
		for j, cell := range row {
			if records[i+1][j] != cell {
				t.Errorf("row %d cell %d = %q, want %q", i, j, records[i+1][j], cell)
			}
		}
	}
}

func TestWritePredictionReportShapeMismatch(t *testing.T) {
	qr := &QuantizationRange{XMin: 0, XMax: 1, YMin: 0, YMax: 1, Granularity: 1}
	path := filepath.Join(t.TempDir(), "out.csv")

	err := WritePredictionReport(path, "y", []string{"a"}, qr,
		[][]int64{{0}}, []int64{0, 1}, []int64{0})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("got %v, want ErrShapeMismatch", err)
	}

	err = WritePredictionReport(path, "y", []string{"a", "b"}, qr,
		[][]int64{{0}}, []int64{0}, []int64{0})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("short feature row: got %v, want ErrShapeMismatch", err)
	}
}

func TestRenderConformalMetrics(t *testing.T) {
	var buf bytes.Buffer
	RenderConformalMetrics(&buf, ConformalMetrics{
		Confidence: 0.9,
		Error:      0.08,
		AvgSetSize: 1.12,
		OneC:       0.88,
		Empty:      0.0,
	})

	out := buf.String()
	for _, want := range []string{"confidence", "0.90", "error", "0.0800", "avg set size", "1.1200"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderPredictionSets(t *testing.T) {
	var buf bytes.Buffer
	sets := [][]bool{
		{true, false},
		{true, true},
		{false, false},
	}
	RenderPredictionSets(&buf, []string{"no", "yes"}, sets, []string{"no", "yes", "no"}, 2)

	out := buf.String()
	if !strings.Contains(out, "{no}") {
		t.Errorf("output missing singleton set:\n%s", out)
	}
	if !strings.Contains(out, "{no, yes}") {
		t.Errorf("output missing full set:\n%s", out)
	}
	// The third row sits past the display limit.
	if strings.Contains(out, "{}") {
		t.Errorf("output shows rows past the limit:\n%s", out)
	}
}
