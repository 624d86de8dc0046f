package main

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownValue indicates a quantized value that was never seen when
	// the vocabulary was built. The vocabulary is closed: it is derived
	// from the full dataset before splitting, so hitting this during
	// encoding means the caller broke the shared-range contract.
	ErrUnknownValue = errors.New("vocab: unknown value")

	// ErrUnknownCode indicates a code outside the vocabulary.
	ErrUnknownCode = errors.New("vocab: unknown code")
)

// Vocab maps distinct quantized values to dense integer codes and back.
//
// Codes are assigned in ascending numeric order of the values: code i is
// the i-th smallest value. Both lookup directions are explicit so encode
// misses surface as errors instead of zero values.
type Vocab struct {
	codes  map[int64]int // value -> code
	values []int64       // code -> value, sorted ascending
}

// BuildVocab collects the distinct values across quantized feature rows
// and quantized targets into one shared alphabet. Feature cells and
// target values deliberately share the same code space: the model's
// output distribution ranges over every token it may ever see or emit.
func BuildVocab(features [][]int64, targets []int64) *Vocab {
	seen := make(map[int64]struct{})
	for _, row := range features {
		for _, v := range row {
			seen[v] = struct{}{}
		}
	}
	for _, v := range targets {
		seen[v] = struct{}{}
	}

	values := make([]int64, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	codes := make(map[int64]int, len(values))
	for i, v := range values {
		codes[v] = i
	}
	return &Vocab{codes: codes, values: values}
}

// Size returns the alphabet cardinality. It determines the model's
// output dimensionality.
func (v *Vocab) Size() int {
	return len(v.values)
}

// Encode maps a quantized value to its code.
func (v *Vocab) Encode(value int64) (int, error) {
	code, ok := v.codes[value]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownValue, value)
	}
	return code, nil
}

// Decode maps a code back to its quantized value. Exact inverse of
// Encode for every member of the alphabet.
func (v *Vocab) Decode(code int) (int64, error) {
	if code < 0 || code >= len(v.values) {
		return 0, fmt.Errorf("%w: %d (vocab size %d)", ErrUnknownCode, code, len(v.values))
	}
	return v.values[code], nil
}
