package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Mode selects what an unrolled program computes.
type Mode int

const (
	// Infer computes logits only.
	Infer Mode = iota
	// Eval adds the cross-entropy loss.
	Eval
	// Train adds dropout and gradients of the loss.
	Train
)

func (m Mode) String() string {
	switch m {
	case Infer:
		return "infer"
	case Eval:
		return "eval"
	case Train:
		return "train"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Output is the result of one run of an unrolled program.
type Output struct {
	// Logits holds one (batch, vocab) score matrix per position.
	Logits []*tensor.Dense
	// Loss is the mean cross entropy over all positions; zero in Infer mode.
	Loss float64
	// State is the recurrent state after the last position, already detached.
	State State
}

// Unrolled is a compiled graph for a fixed batch size and sequence length.
// It is not safe for concurrent use.
type Unrolled struct {
	cfg    Config
	cell   Cell
	params Params
	mode   Mode
	batch  int
	seqLen int

	g       *gorgonia.ExprGraph
	vm      gorgonia.VM
	weights map[string]*gorgonia.Node
	learn   gorgonia.Nodes

	inputs  []*gorgonia.Node
	targets []*gorgonia.Node
	init    [][]*gorgonia.Node

	logitVals []gorgonia.Value
	stateVals [][]gorgonia.Value
	lossVal   gorgonia.Value
}

// Unroll compiles the network for (batch, seqLen) in the given mode. In Train
// mode the graph shares the network's parameter tensors; Apply updates them.
func (n *Network) Unroll(batch, seqLen int, mode Mode) (*Unrolled, error) {
	if batch <= 0 || seqLen <= 0 {
		return nil, fmt.Errorf("%w: batch=%d seqLen=%d", ErrShapeMismatch, batch, seqLen)
	}
	u := &Unrolled{
		cfg:     n.cfg,
		cell:    n.cell,
		params:  n.params,
		mode:    mode,
		batch:   batch,
		seqLen:  seqLen,
		g:       gorgonia.NewGraph(),
		weights: make(map[string]*gorgonia.Node, len(n.params)),
	}
	if err := u.build(); err != nil {
		return nil, fmt.Errorf("unroll %s graph: %w", mode, err)
	}
	if mode == Train {
		u.vm = gorgonia.NewTapeMachine(u.g, gorgonia.BindDualValues(u.learn...))
	} else {
		u.vm = gorgonia.NewTapeMachine(u.g)
	}
	return u, nil
}

func (u *Unrolled) matrix(name string, rows, cols int) *gorgonia.Node {
	return gorgonia.NewMatrix(u.g, tensor.Float64, gorgonia.WithShape(rows, cols), gorgonia.WithName(name))
}

func (u *Unrolled) build() error {
	v, h := u.cfg.VocabSize, u.cfg.HiddenSize

	for _, name := range u.params.Names() {
		t := u.params[name]
		opts := []gorgonia.NodeConsOpt{gorgonia.WithShape(t.Shape()...), gorgonia.WithName(name)}
		if u.mode == Train {
			opts = append(opts, gorgonia.WithValue(t))
		}
		node := gorgonia.NewMatrix(u.g, tensor.Float64, opts...)
		u.weights[name] = node
		u.learn = append(u.learn, node)
	}

	layers := make([]map[string]*gorgonia.Node, u.cfg.NumLayers)
	for l := range layers {
		layers[l] = make(map[string]*gorgonia.Node)
		for short := range u.cell.Shapes(1, 1) {
			layers[l][short] = u.weights[layerParam(l, short)]
		}
	}

	u.init = make([][]*gorgonia.Node, u.cfg.NumLayers)
	prev := make([][]*gorgonia.Node, u.cfg.NumLayers)
	for l := range u.init {
		u.init[l] = make([]*gorgonia.Node, u.cell.Arity())
		for k := range u.init[l] {
			u.init[l][k] = u.matrix(fmt.Sprintf("state%d_%d", l, k), u.batch, h)
		}
		prev[l] = u.init[l]
	}

	dropout := 0.0
	if u.mode == Train {
		dropout = u.cfg.Dropout
	}

	var total *gorgonia.Node
	u.inputs = make([]*gorgonia.Node, u.seqLen)
	u.logitVals = make([]gorgonia.Value, u.seqLen)
	for t := 0; t < u.seqLen; t++ {
		u.inputs[t] = u.matrix(fmt.Sprintf("x%d", t), u.batch, v)

		in := u.inputs[t]
		for l := range layers {
			out, next, err := u.cell.Step(layers[l], in, prev[l])
			if err != nil {
				return fmt.Errorf("layer %d step %d: %w", l, t, err)
			}
			prev[l] = next
			if in, err = gorgonia.Dropout(out, dropout); err != nil {
				return err
			}
		}

		xw, err := gorgonia.Mul(in, u.weights["fc.w"])
		if err != nil {
			return err
		}
		logits, err := gorgonia.BroadcastAdd(xw, u.weights["fc.b"], nil, []byte{0})
		if err != nil {
			return err
		}
		gorgonia.Read(logits, &u.logitVals[t])

		if u.mode == Infer {
			continue
		}
		target := u.matrix(fmt.Sprintf("y%d", t), u.batch, v)
		u.targets = append(u.targets, target)
		nll, err := pickedLogProb(logits, target, u.batch)
		if err != nil {
			return err
		}
		if total == nil {
			total = nll
		} else if total, err = gorgonia.Add(total, nll); err != nil {
			return err
		}
	}

	u.stateVals = make([][]gorgonia.Value, len(prev))
	for l := range prev {
		u.stateVals[l] = make([]gorgonia.Value, len(prev[l]))
		for k := range prev[l] {
			gorgonia.Read(prev[l][k], &u.stateVals[l][k])
		}
	}

	if u.mode == Infer {
		return nil
	}
	mean, err := gorgonia.Div(total, gorgonia.NewConstant(float64(u.batch*u.seqLen)))
	if err != nil {
		return err
	}
	loss, err := gorgonia.Neg(mean)
	if err != nil {
		return err
	}
	gorgonia.Read(loss, &u.lossVal)

	if u.mode == Train {
		if _, err := gorgonia.Grad(loss, u.learn...); err != nil {
			return fmt.Errorf("gradients: %w", err)
		}
	}
	return nil
}

// pickedLogProb sums the log-softmax of logits at the one-hot target
// positions. The log-softmax is built from the row max and a log-sum-exp.
func pickedLogProb(logits, target *gorgonia.Node, batch int) (*gorgonia.Node, error) {
	top, err := gorgonia.Max(logits, 1)
	if err != nil {
		return nil, err
	}
	if top, err = gorgonia.Reshape(top, tensor.Shape{batch, 1}); err != nil {
		return nil, err
	}
	shifted, err := gorgonia.BroadcastSub(logits, top, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	exp, err := gorgonia.Exp(shifted)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Sum(exp, 1)
	if err != nil {
		return nil, err
	}
	lse, err := gorgonia.Log(sum)
	if err != nil {
		return nil, err
	}
	if lse, err = gorgonia.Reshape(lse, tensor.Shape{batch, 1}); err != nil {
		return nil, err
	}
	logp, err := gorgonia.BroadcastSub(shifted, lse, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	picked, err := gorgonia.HadamardProd(logp, target)
	if err != nil {
		return nil, err
	}
	return gorgonia.Sum(picked)
}

// Run feeds one window through the program. targets is ignored in Infer mode.
func (u *Unrolled) Run(inputs, targets []*tensor.Dense, st State) (Output, error) {
	if len(inputs) != u.seqLen {
		return Output{}, fmt.Errorf("%w: got %d input steps, want %d", ErrShapeMismatch, len(inputs), u.seqLen)
	}
	if u.mode != Infer && len(targets) != u.seqLen {
		return Output{}, fmt.Errorf("%w: got %d target steps, want %d", ErrShapeMismatch, len(targets), u.seqLen)
	}
	if err := st.check(u.cfg.NumLayers, u.cell.Arity(), u.batch, u.cfg.HiddenSize); err != nil {
		return Output{}, err
	}

	if u.mode != Train {
		for name, node := range u.weights {
			if err := gorgonia.Let(node, u.params[name]); err != nil {
				return Output{}, fmt.Errorf("bind %s: %w", name, err)
			}
		}
	}
	for t, x := range inputs {
		if err := gorgonia.Let(u.inputs[t], x); err != nil {
			return Output{}, fmt.Errorf("bind input %d: %w", t, err)
		}
	}
	for t, y := range u.targets {
		if err := gorgonia.Let(y, targets[t]); err != nil {
			return Output{}, fmt.Errorf("bind target %d: %w", t, err)
		}
	}
	for l := range u.init {
		for k, node := range u.init[l] {
			if err := gorgonia.Let(node, st.Layers[l][k]); err != nil {
				return Output{}, fmt.Errorf("bind state %d/%d: %w", l, k, err)
			}
		}
	}

	u.vm.Reset()
	if err := u.vm.RunAll(); err != nil {
		return Output{}, fmt.Errorf("run %s graph: %w", u.mode, err)
	}

	var out Output
	out.Logits = make([]*tensor.Dense, u.seqLen)
	for t, val := range u.logitVals {
		d, err := denseOf(val)
		if err != nil {
			return Output{}, fmt.Errorf("logits %d: %w", t, err)
		}
		out.Logits[t] = d
	}
	out.State = State{Layers: make([][]*tensor.Dense, len(u.stateVals))}
	for l := range u.stateVals {
		out.State.Layers[l] = make([]*tensor.Dense, len(u.stateVals[l]))
		for k, val := range u.stateVals[l] {
			d, err := denseOf(val)
			if err != nil {
				return Output{}, fmt.Errorf("state %d/%d: %w", l, k, err)
			}
			out.State.Layers[l][k] = d
		}
	}
	if u.mode != Infer {
		loss, err := scalarOf(u.lossVal)
		if err != nil {
			return Output{}, fmt.Errorf("loss: %w", err)
		}
		out.Loss = loss
	}
	return out, nil
}

// Apply clips the gradients of the last Run to a global L2 norm of maxNorm
// (no clipping when maxNorm <= 0), takes one solver step and returns the norm
// before clipping.
func (u *Unrolled) Apply(solver gorgonia.Solver, maxNorm float64) (float64, error) {
	if u.mode != Train {
		return 0, fmt.Errorf("apply on a %s graph", u.mode)
	}

	grads := make([][]float64, 0, len(u.learn))
	var sq float64
	for _, node := range u.learn {
		gv, err := node.Grad()
		if err != nil {
			return 0, fmt.Errorf("gradient of %s: %w", node.Name(), err)
		}
		d, ok := gv.Data().([]float64)
		if !ok {
			return 0, fmt.Errorf("gradient of %s: unexpected %T", node.Name(), gv.Data())
		}
		sq += floats.Dot(d, d)
		grads = append(grads, d)
	}

	norm := math.Sqrt(sq)
	if maxNorm > 0 {
		if coef := maxNorm / (norm + 1e-6); coef < 1 {
			for _, d := range grads {
				floats.Scale(coef, d)
			}
		}
	}

	if err := solver.Step(gorgonia.NodesToValueGrads(u.learn)); err != nil {
		return norm, fmt.Errorf("solver step: %w", err)
	}
	u.sync()
	return norm, nil
}

// sync copies updated weights back into the network's tensors when the
// machine did not update them in place.
func (u *Unrolled) sync() {
	for name, node := range u.weights {
		d, ok := node.Value().(*tensor.Dense)
		if !ok || d == u.params[name] {
			continue
		}
		copy(u.params[name].Data().([]float64), d.Data().([]float64))
	}
}

// Close releases the tape machine.
func (u *Unrolled) Close() error {
	return u.vm.Close()
}

func denseOf(v gorgonia.Value) (*tensor.Dense, error) {
	d, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("unexpected value %T", v)
	}
	return d.Clone().(*tensor.Dense), nil
}

func scalarOf(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("no value")
	}
	switch x := v.Data().(type) {
	case float64:
		return x, nil
	case []float64:
		if len(x) == 1 {
			return x[0], nil
		}
	}
	return 0, fmt.Errorf("unexpected value %T", v.Data())
}
