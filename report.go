package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// WritePredictionReport writes the actual-vs-predicted table: a header
// of the feature column names plus "<target>_actual" and
// "<target>_prediction", then one row per test example.
//
// Feature cells are the quantized values run independently through the
// inverse affine transform. Unscale was derived for raw feature cells,
// but applying it cell by cell to the quantized matrix is the pipeline's
// defined reporting behavior and is preserved as-is.
func WritePredictionReport(path, targetCol string, columns []string, qr *QuantizationRange, features [][]int64, actual, predicted []int64) error {
	if len(features) != len(actual) || len(features) != len(predicted) {
		return fmt.Errorf("%w: %d rows, %d actuals, %d predictions",
			ErrShapeMismatch, len(features), len(actual), len(predicted))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := make([]string, 0, len(columns)+2)
	header = append(header, columns...)
	header = append(header, targetCol+"_actual", targetCol+"_prediction")
	if err := w.Write(header); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	for i, row := range features {
		if len(row) != len(columns) {
			return fmt.Errorf("%w: row %d has %d cells, expected %d",
				ErrShapeMismatch, i, len(row), len(columns))
		}
		rec := make([]string, 0, len(columns)+2)
		for _, cell := range row {
			rec = append(rec, strconv.FormatFloat(qr.Unscale(float64(cell)), 'g', -1, 64))
		}
		rec = append(rec,
			strconv.FormatInt(actual[i], 10),
			strconv.FormatInt(predicted[i], 10))
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// RenderConformalMetrics prints the evaluation metrics as a table.
func RenderConformalMetrics(out io.Writer, m ConformalMetrics) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"METRIC", "VALUE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk([][]string{
		{"confidence", fmt.Sprintf("%.2f", m.Confidence)},
		{"error", fmt.Sprintf("%.4f", m.Error)},
		{"avg set size", fmt.Sprintf("%.4f", m.AvgSetSize)},
		{"singleton sets", fmt.Sprintf("%.4f", m.OneC)},
		{"empty sets", fmt.Sprintf("%.4f", m.Empty)},
	})
	table.Render()
}

// RenderPredictionSets prints the first limit set-valued predictions
// next to their true labels.
func RenderPredictionSets(out io.Writer, classes []string, sets [][]bool, actual []string, limit int) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ROW", "ACTUAL", "PREDICTION SET"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	for i, set := range sets {
		if i >= limit {
			break
		}
		var members []string
		for c, in := range set {
			if in {
				members = append(members, classes[c])
			}
		}
		table.Append([]string{
			strconv.Itoa(i),
			actual[i],
			"{" + strings.Join(members, ", ") + "}",
		})
	}
	table.Render()
}
