package main

import (
	"fmt"
	"strconv"
	"strings"
)

// The sequence assembler turns quantized rows into the fixed-length code
// sequences the transformer consumes. One code per feature column; the
// column count is the block size.

// EncodeRow encodes one quantized feature row element-wise. The output
// always has the same length as the input.
func EncodeRow(v *Vocab, row []int64) ([]int, error) {
	seq := make([]int, len(row))
	for i, val := range row {
		code, err := v.Encode(val)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		seq[i] = code
	}
	return seq, nil
}

// EncodeRows encodes every quantized feature row.
func EncodeRows(v *Vocab, rows [][]int64) ([][]int, error) {
	out := make([][]int, len(rows))
	for i, row := range rows {
		seq, err := EncodeRow(v, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = seq
	}
	return out, nil
}

// EncodeTargets encodes each scalar quantized target to its single code.
func EncodeTargets(v *Vocab, targets []int64) ([]int, error) {
	out := make([]int, len(targets))
	for i, t := range targets {
		code, err := v.Encode(t)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
		out[i] = code
	}
	return out, nil
}

// BroadcastTarget replicates one target code across every sequence
// position. The training loop computes a per-position loss, so the single
// scalar target is expanded to the block length before pairing with the
// logits. Unusual for a regression-like task, but it is the behavior the
// pipeline is defined with.
func BroadcastTarget(code, blockSize int) []int {
	out := make([]int, blockSize)
	for i := range out {
		out[i] = code
	}
	return out
}

// DecodeSequence maps codes back to quantized values and joins them into
// a comma-separated display string.
func DecodeSequence(v *Vocab, codes []int) (string, error) {
	parts := make([]string, len(codes))
	for i, code := range codes {
		val, err := v.Decode(code)
		if err != nil {
			return "", fmt.Errorf("position %d: %w", i, err)
		}
		parts[i] = strconv.FormatInt(val, 10)
	}
	return strings.Join(parts, ","), nil
}
