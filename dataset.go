package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch indicates a row whose length disagrees with the header.
var ErrShapeMismatch = errors.New("dataset: shape mismatch")

// Dataset holds one loaded table: a dense feature matrix, a categorical
// label column, and a numeric target column. Feature columns keep the
// file order of the header.
type Dataset struct {
	Columns  []string   // feature column names, file order
	Features *mat.Dense // (rows, len(Columns))
	Labels   []string   // categorical label per row
	Target   []float64  // numeric target per row
}

// LoadDataset reads a named-column CSV once. labelCol and targetCol are
// removed from the feature set; every remaining column must parse as a
// float in every row. Malformed rows are fatal: the report pairs rows
// with predictions by index, so silently dropping rows would misalign it.
func LoadDataset(path, labelCol, targetCol string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("dataset: reading header: %w", err)
	}

	labelIdx, targetIdx := -1, -1
	var columns []string
	featureIdx := make([]int, 0, len(header))
	for i, name := range header {
		switch name {
		case labelCol:
			labelIdx = i
		case targetCol:
			targetIdx = i
		default:
			columns = append(columns, name)
			featureIdx = append(featureIdx, i)
		}
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("dataset: label column %q not in header", labelCol)
	}
	if targetIdx < 0 {
		return nil, fmt.Errorf("dataset: target column %q not in header", targetCol)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("dataset: no feature columns left after removing %q and %q", labelCol, targetCol)
	}

	var (
		cells  []float64
		labels []string
		target []float64
	)
	for row := 1; ; row++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: row %d: %w", row, err)
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%w: row %d has %d cells, header has %d",
				ErrShapeMismatch, row, len(rec), len(header))
		}
		for _, i := range featureIdx {
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return nil, fmt.Errorf("dataset: row %d column %q: %w", row, header[i], err)
			}
			cells = append(cells, v)
		}
		labels = append(labels, rec[labelIdx])
		v, err := strconv.ParseFloat(rec[targetIdx], 64)
		if err != nil {
			return nil, fmt.Errorf("dataset: row %d column %q: %w", row, targetCol, err)
		}
		target = append(target, v)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("dataset: %s has no data rows", path)
	}

	return &Dataset{
		Columns:  columns,
		Features: mat.NewDense(len(labels), len(columns), cells),
		Labels:   labels,
		Target:   target,
	}, nil
}

// Rows returns the number of data rows.
func (d *Dataset) Rows() int {
	r, _ := d.Features.Dims()
	return r
}

// BlockSize returns the number of feature columns, which doubles as the
// token sequence length for the transformer pipeline.
func (d *Dataset) BlockSize() int {
	return len(d.Columns)
}

// FeatureRows exposes the feature matrix as per-row slices. The slices
// alias the matrix backing array; callers must not mutate them.
func (d *Dataset) FeatureRows() [][]float64 {
	rows := make([][]float64, d.Rows())
	for i := range rows {
		rows[i] = d.Features.RawRowView(i)
	}
	return rows
}

// SplitIndices shuffles row indices and partitions them into a test set
// of ceil-free size floor(n*testFraction) and a training remainder,
// mirroring a shuffled train/test split.
func SplitIndices(rng *rand.Rand, n int, testFraction float64) (train, test []int) {
	perm := rng.Perm(n)
	nTest := int(float64(n) * testFraction)
	return perm[nTest:], perm[:nTest]
}

// Select gathers elements of s by index.
func Select[T any](s []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = s[j]
	}
	return out
}
