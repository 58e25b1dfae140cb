package model

import (
	"fmt"

	"gorgonia.org/tensor"
)

// OneHot encodes ids as a (len(ids), v) matrix.
func OneHot(ids []int, v int) (*tensor.Dense, error) {
	data := make([]float64, len(ids)*v)
	for i, id := range ids {
		if id < 0 || id >= v {
			return nil, fmt.Errorf("%w: id %d outside vocabulary of %d", ErrShapeMismatch, id, v)
		}
		data[i*v+id] = 1
	}
	return tensor.New(tensor.WithShape(len(ids), v), tensor.WithBacking(data)), nil
}

// OneHotSteps turns a [batch][seqLen] grid into seqLen one-hot matrices of
// shape (batch, v), one per position.
func OneHotSteps(grid [][]int, v int) ([]*tensor.Dense, error) {
	if len(grid) == 0 {
		return nil, nil
	}
	seqLen := len(grid[0])
	steps := make([]*tensor.Dense, seqLen)
	col := make([]int, len(grid))
	for t := 0; t < seqLen; t++ {
		for i, row := range grid {
			if len(row) != seqLen {
				return nil, fmt.Errorf("%w: ragged grid row %d", ErrShapeMismatch, i)
			}
			col[i] = row[t]
		}
		x, err := OneHot(col, v)
		if err != nil {
			return nil, err
		}
		steps[t] = x
	}
	return steps, nil
}
