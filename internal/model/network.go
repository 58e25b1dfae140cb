package model

import (
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"
)

// Network is a stack of recurrent layers followed by a dense decoder to
// vocabulary scores.
type Network struct {
	cfg    Config
	cell   Cell
	params Params

	step *Unrolled
}

// New creates a network with freshly initialised parameters.
func New(cfg Config, rng *rand.Rand) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cell, _ := cellFor(cfg.Kind)
	return &Network{cfg: cfg, cell: cell, params: initParams(cfg, cell, rng)}, nil
}

// NewFromParams rebuilds a network from saved parameters. Any parameter that
// is missing, unexpected or of the wrong shape fails with ErrShapeMismatch.
func NewFromParams(cfg Config, params Params) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	cell, _ := cellFor(cfg.Kind)
	if err := checkParams(cfg, cell, params); err != nil {
		return nil, err
	}
	return &Network{cfg: cfg, cell: cell, params: params}, nil
}

// Config returns the structure of the network.
func (n *Network) Config() Config {
	return n.cfg
}

// Params returns the live parameters. Callers must not modify them while a
// graph built from the network is in use.
func (n *Network) Params() Params {
	return n.params
}

// InitState returns the all-zero state for the given batch size.
func (n *Network) InitState(batch int) State {
	return zeroState(n.cfg.NumLayers, n.cell.Arity(), batch, n.cfg.HiddenSize)
}

// Step runs one position without dropout. x is a one-hot (batch, vocab)
// matrix; the result is the (batch, vocab) score matrix and the next state.
func (n *Network) Step(x *tensor.Dense, st State) (*tensor.Dense, State, error) {
	if x.Dims() != 2 || x.Shape()[1] != n.cfg.VocabSize {
		return nil, State{}, fmt.Errorf("%w: input shape %v, want (batch, %d)", ErrShapeMismatch, x.Shape(), n.cfg.VocabSize)
	}
	batch := x.Shape()[0]
	if n.step == nil || n.step.batch != batch {
		if n.step != nil {
			err := n.step.Close()
			n.step = nil
			if err != nil {
				return nil, State{}, fmt.Errorf("release step graph: %w", err)
			}
		}
		u, err := n.Unroll(batch, 1, Infer)
		if err != nil {
			return nil, State{}, err
		}
		n.step = u
	}

	out, err := n.step.Run([]*tensor.Dense{x}, nil, st)
	if err != nil {
		return nil, State{}, err
	}
	return out.Logits[0], out.State, nil
}

// Close releases the cached single-step graph.
func (n *Network) Close() error {
	if n.step == nil {
		return nil
	}
	err := n.step.Close()
	n.step = nil
	return err
}
