package main

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDataset(t *testing.T) {
	path := writeCSV(t, "a,humanitarian,b,humanitarian_needs\n1,yes,2,3000000\n4,no,5,6000000\n")

	ds, err := LoadDataset(path, "humanitarian", "humanitarian_needs")
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if ds.Rows() != 2 || ds.BlockSize() != 2 {
		t.Fatalf("dims = (%d, %d), want (2, 2)", ds.Rows(), ds.BlockSize())
	}
	if ds.Columns[0] != "a" || ds.Columns[1] != "b" {
		t.Errorf("Columns = %v", ds.Columns)
	}
	if ds.Features.At(1, 1) != 5 {
		t.Errorf("Features[1][1] = %g, want 5", ds.Features.At(1, 1))
	}
	if ds.Labels[0] != "yes" || ds.Labels[1] != "no" {
		t.Errorf("Labels = %v", ds.Labels)
	}
	if ds.Target[1] != 6000000 {
		t.Errorf("Target[1] = %g", ds.Target[1])
	}
}

func TestLoadDatasetShapeMismatch(t *testing.T) {
	path := writeCSV(t, "a,humanitarian,humanitarian_needs\n1,yes,2,extra\n")
	if _, err := LoadDataset(path, "humanitarian", "humanitarian_needs"); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("got %v, want ErrShapeMismatch", err)
	}
}

func TestLoadDatasetMissingColumns(t *testing.T) {
	path := writeCSV(t, "a,b\n1,2\n")
	if _, err := LoadDataset(path, "humanitarian", "b"); err == nil {
		t.Error("missing label column accepted")
	}
	if _, err := LoadDataset(path, "a", "humanitarian_needs"); err == nil {
		t.Error("missing target column accepted")
	}
}

func TestLoadDatasetNonNumericFeature(t *testing.T) {
	path := writeCSV(t, "a,humanitarian,humanitarian_needs\noops,yes,1\n")
	if _, err := LoadDataset(path, "humanitarian", "humanitarian_needs"); err == nil {
		t.Error("non-numeric feature accepted")
	}
}

func TestSplitIndices(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	train, test := SplitIndices(rng, 10, 0.3)
	if len(test) != 3 || len(train) != 7 {
		t.Fatalf("split sizes (%d, %d), want (7, 3)", len(train), len(test))
	}

	seen := make(map[int]bool)
	for _, i := range append(append([]int{}, train...), test...) {
		if seen[i] {
			t.Fatalf("index %d appears twice", i)
		}
		seen[i] = true
	}
	if len(seen) != 10 {
		t.Fatalf("split covers %d indices, want 10", len(seen))
	}
}

func TestSelect(t *testing.T) {
	got := Select([]string{"a", "b", "c"}, []int{2, 0})
	if len(got) != 2 || got[0] != "c" || got[1] != "a" {
		t.Errorf("Select = %v", got)
	}
}
