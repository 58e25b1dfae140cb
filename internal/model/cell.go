package model

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Cell kinds understood by Config.Kind.
const (
	KindLSTM = "lstm"
	KindRNN  = "rnn"
)

// Cell is one recurrent layer variant. Step builds the graph for a single
// position of one layer: it takes the layer input and the previous state
// nodes and returns the layer output and the next state nodes.
type Cell interface {
	// Arity is the number of state tensors carried per layer.
	Arity() int
	// Shapes lists one layer's parameters by short name.
	Shapes(in, hidden int) map[string]tensor.Shape
	Step(p map[string]*gorgonia.Node, x *gorgonia.Node, prev []*gorgonia.Node) (*gorgonia.Node, []*gorgonia.Node, error)
}

func cellFor(kind string) (Cell, error) {
	switch kind {
	case KindLSTM, "":
		return lstmCell{}, nil
	case KindRNN:
		return rnnCell{}, nil
	}
	return nil, fmt.Errorf("unknown cell kind %q", kind)
}

// affine computes x*Wx + h*Wh + b for the parameters with the given suffix.
// Biases are (1, hidden) rows broadcast over the batch.
func affine(p map[string]*gorgonia.Node, suffix string, x, h *gorgonia.Node) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, p["wx"+suffix])
	if err != nil {
		return nil, err
	}
	hw, err := gorgonia.Mul(h, p["wh"+suffix])
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(xw, hw)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(sum, p["b"+suffix], nil, []byte{0})
}

func gateShapes(suffixes []string, in, hidden int) map[string]tensor.Shape {
	shapes := make(map[string]tensor.Shape, 3*len(suffixes))
	for _, s := range suffixes {
		shapes["wx"+s] = tensor.Shape{in, hidden}
		shapes["wh"+s] = tensor.Shape{hidden, hidden}
		shapes["b"+s] = tensor.Shape{1, hidden}
	}
	return shapes
}

// rnnCell is the plain tanh recurrence h' = tanh(x Wx + h Wh + b).
type rnnCell struct{}

func (rnnCell) Arity() int { return 1 }

func (rnnCell) Shapes(in, hidden int) map[string]tensor.Shape {
	return gateShapes([]string{""}, in, hidden)
}

func (rnnCell) Step(p map[string]*gorgonia.Node, x *gorgonia.Node, prev []*gorgonia.Node) (*gorgonia.Node, []*gorgonia.Node, error) {
	pre, err := affine(p, "", x, prev[0])
	if err != nil {
		return nil, nil, err
	}
	h, err := gorgonia.Tanh(pre)
	if err != nil {
		return nil, nil, err
	}
	return h, []*gorgonia.Node{h}, nil
}

// lstmCell carries (h, c) and uses input, forget, candidate and output gates.
type lstmCell struct{}

var lstmGates = []string{"_i", "_f", "_g", "_o"}

func (lstmCell) Arity() int { return 2 }

func (lstmCell) Shapes(in, hidden int) map[string]tensor.Shape {
	return gateShapes(lstmGates, in, hidden)
}

func (lstmCell) Step(p map[string]*gorgonia.Node, x *gorgonia.Node, prev []*gorgonia.Node) (*gorgonia.Node, []*gorgonia.Node, error) {
	h, c := prev[0], prev[1]

	act := make(map[string]*gorgonia.Node, len(lstmGates))
	for _, gate := range lstmGates {
		pre, err := affine(p, gate, x, h)
		if err != nil {
			return nil, nil, fmt.Errorf("gate %s: %w", gate, err)
		}
		if gate == "_g" {
			act[gate], err = gorgonia.Tanh(pre)
		} else {
			act[gate], err = gorgonia.Sigmoid(pre)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("gate %s: %w", gate, err)
		}
	}

	keep, err := gorgonia.HadamardProd(act["_f"], c)
	if err != nil {
		return nil, nil, err
	}
	write, err := gorgonia.HadamardProd(act["_i"], act["_g"])
	if err != nil {
		return nil, nil, err
	}
	cNext, err := gorgonia.Add(keep, write)
	if err != nil {
		return nil, nil, err
	}
	squashed, err := gorgonia.Tanh(cNext)
	if err != nil {
		return nil, nil, err
	}
	hNext, err := gorgonia.HadamardProd(act["_o"], squashed)
	if err != nil {
		return nil, nil, err
	}
	return hNext, []*gorgonia.Node{hNext, cNext}, nil
}
