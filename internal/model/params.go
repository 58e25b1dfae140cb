package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gorgonia.org/tensor"
)

// Params maps parameter names to their values. Layer parameters are named
// "l<layer>.<name>", the decoder "fc.w" and "fc.b".
type Params map[string]*tensor.Dense

// Names returns the parameter names in a stable order.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone deep-copies every parameter.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for name, t := range p {
		out[name] = t.Clone().(*tensor.Dense)
	}
	return out
}

// Count returns the total number of scalars.
func (p Params) Count() int {
	var n int
	for _, t := range p {
		n += t.Shape().TotalSize()
	}
	return n
}

func layerParam(layer int, short string) string {
	return fmt.Sprintf("l%d.%s", layer, short)
}

// shapes lists every parameter the configuration needs.
func shapes(cfg Config, cell Cell) map[string]tensor.Shape {
	out := make(map[string]tensor.Shape)
	in := cfg.VocabSize
	for l := 0; l < cfg.NumLayers; l++ {
		for short, s := range cell.Shapes(in, cfg.HiddenSize) {
			out[layerParam(l, short)] = s
		}
		in = cfg.HiddenSize
	}
	out["fc.w"] = tensor.Shape{cfg.HiddenSize, cfg.VocabSize}
	out["fc.b"] = tensor.Shape{1, cfg.VocabSize}
	return out
}

// initParams draws every weight from U(-1/sqrt(hidden), 1/sqrt(hidden)),
// visiting parameters in name order so a seeded rng gives the same weights.
func initParams(cfg Config, cell Cell, rng *rand.Rand) Params {
	bound := 1 / math.Sqrt(float64(cfg.HiddenSize))
	want := shapes(cfg, cell)
	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	sort.Strings(names)

	p := make(Params, len(want))
	for _, name := range names {
		s := want[name]
		data := make([]float64, s.TotalSize())
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * bound
		}
		p[name] = tensor.New(tensor.WithShape(s...), tensor.WithBacking(data))
	}
	return p
}

// checkParams verifies that p holds exactly the parameters cfg needs.
func checkParams(cfg Config, cell Cell, p Params) error {
	want := shapes(cfg, cell)
	for name, s := range want {
		t, ok := p[name]
		if !ok {
			return fmt.Errorf("%w: missing parameter %s", ErrShapeMismatch, name)
		}
		if !t.Shape().Eq(s) {
			return fmt.Errorf("%w: parameter %s has shape %v, want %v", ErrShapeMismatch, name, t.Shape(), s)
		}
		if t.Dtype() != tensor.Float64 {
			return fmt.Errorf("%w: parameter %s has dtype %v", ErrShapeMismatch, name, t.Dtype())
		}
	}
	for name := range p {
		if _, ok := want[name]; !ok {
			return fmt.Errorf("%w: unexpected parameter %s", ErrShapeMismatch, name)
		}
	}
	return nil
}
