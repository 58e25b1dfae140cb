package model

import (
	"fmt"

	"gorgonia.org/tensor"
)

// State is the recurrent state of a network: Layers[l][k] is state slot k of
// layer l, shaped (batch, hidden). A State is a plain value; it carries no
// computation history.
type State struct {
	Layers [][]*tensor.Dense
}

func zeroState(layers, arity, batch, hidden int) State {
	st := State{Layers: make([][]*tensor.Dense, layers)}
	for l := range st.Layers {
		st.Layers[l] = make([]*tensor.Dense, arity)
		for k := range st.Layers[l] {
			st.Layers[l][k] = tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(batch, hidden))
		}
	}
	return st
}

// Detach copies the numbers into fresh tensors so the result shares nothing
// with the graph run that produced s.
func (s State) Detach() State {
	out := State{Layers: make([][]*tensor.Dense, len(s.Layers))}
	for l, slots := range s.Layers {
		out.Layers[l] = make([]*tensor.Dense, len(slots))
		for k, t := range slots {
			out.Layers[l][k] = t.Clone().(*tensor.Dense)
		}
	}
	return out
}

// Batch returns the batch dimension, or 0 for an empty state.
func (s State) Batch() int {
	if len(s.Layers) == 0 || len(s.Layers[0]) == 0 {
		return 0
	}
	return s.Layers[0][0].Shape()[0]
}

func (s State) check(layers, arity, batch, hidden int) error {
	if len(s.Layers) != layers {
		return fmt.Errorf("%w: state has %d layers, want %d", ErrShapeMismatch, len(s.Layers), layers)
	}
	want := tensor.Shape{batch, hidden}
	for l, slots := range s.Layers {
		if len(slots) != arity {
			return fmt.Errorf("%w: layer %d state has %d slots, want %d", ErrShapeMismatch, l, len(slots), arity)
		}
		for k, t := range slots {
			if !t.Shape().Eq(want) {
				return fmt.Errorf("%w: state %d/%d has shape %v, want %v", ErrShapeMismatch, l, k, t.Shape(), want)
			}
		}
	}
	return nil
}
