// Package train fits a model.Network to an encoded corpus.
package train

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"charrnn/internal/batch"
	"charrnn/internal/model"
)

// Config holds the training hyperparameters.
type Config struct {
	Epochs    int     `json:"epochs"`
	BatchSize int     `json:"batch_size"`
	SeqLength int     `json:"seq_length"`
	LearnRate float64 `json:"learn_rate"`
	Clip      float64 `json:"clip"`
	ValFrac   float64 `json:"val_frac"`
	EvalEvery int     `json:"eval_every"`
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Epochs:    10,
		BatchSize: 10,
		SeqLength: 50,
		LearnRate: 0.001,
		Clip:      5,
		ValFrac:   0.1,
		EvalEvery: 10,
	}
}

// Validate checks the hyperparameters.
func (c Config) Validate() error {
	switch {
	case c.Epochs < 0:
		return fmt.Errorf("epochs must not be negative, got %d", c.Epochs)
	case c.BatchSize <= 0 || c.SeqLength <= 0:
		return fmt.Errorf("batch size and sequence length must be positive, got %d and %d", c.BatchSize, c.SeqLength)
	case c.LearnRate <= 0:
		return fmt.Errorf("learning rate must be positive, got %g", c.LearnRate)
	case c.ValFrac < 0 || c.ValFrac >= 1:
		return fmt.Errorf("validation fraction must be in [0, 1), got %g", c.ValFrac)
	case c.EvalEvery <= 0:
		return fmt.Errorf("eval interval must be positive, got %d", c.EvalEvery)
	}
	return nil
}

// StepMetric is one evaluation point.
type StepMetric struct {
	Epoch      int     `json:"epoch"`
	Step       int     `json:"step"`
	TrainLoss  float64 `json:"train_loss"`
	ValLoss    float64 `json:"val_loss"`
	ValWindows int     `json:"val_windows"`
	GradNorm   float64 `json:"grad_norm"`
}

// Report summarises a Fit call.
type Report struct {
	Epochs  int          `json:"epochs"`
	Steps   int          `json:"steps"`
	Windows int          `json:"windows_per_epoch"`
	Metrics []StepMetric `json:"metrics"`
	// FinalLoss is the validation loss after the last epoch. It is only
	// meaningful when FinalWindows is positive.
	FinalLoss    float64       `json:"final_loss"`
	FinalWindows int           `json:"final_windows"`
	Duration     time.Duration `json:"duration"`
}

// Split cuts corpus into a training prefix and a validation suffix holding
// valFrac of the elements.
func Split(corpus []int, valFrac float64) (trainSet, valSet []int) {
	idx := int(float64(len(corpus)) * (1 - valFrac))
	return corpus[:idx], corpus[idx:]
}

// program is a compiled unrolled graph as the loop drives it.
type program interface {
	Run(inputs, targets []*tensor.Dense, st model.State) (model.Output, error)
	Apply(solver gorgonia.Solver, maxNorm float64) (float64, error)
	Close() error
}

// Trainer runs the training loop for one network.
type Trainer struct {
	net    *model.Network
	cfg    Config
	logger *logrus.Logger
	solver gorgonia.Solver

	unroll func(batch, seqLen int, mode model.Mode) (program, error)
}

// New returns a trainer. A nil logger logs to a default logrus logger.
func New(net *model.Network, cfg Config, logger *logrus.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Trainer{
		net:    net,
		cfg:    cfg,
		logger: logger,
		solver: gorgonia.NewAdamSolver(gorgonia.WithLearnRate(cfg.LearnRate)),
		unroll: func(batch, seqLen int, mode model.Mode) (program, error) {
			u, err := net.Unroll(batch, seqLen, mode)
			if err != nil {
				return nil, err
			}
			return u, nil
		},
	}, nil
}

// Fit trains on the training split of corpus, evaluating on the validation
// split every EvalEvery steps. An epoch without windows does nothing. Fit
// stops with ctx.Err() if ctx is cancelled between windows.
func (t *Trainer) Fit(ctx context.Context, corpus []int) (Report, error) {
	start := time.Now()
	trainSet, valSet := Split(corpus, t.cfg.ValFrac)
	n, m := t.cfg.BatchSize, t.cfg.SeqLength

	rep := Report{Windows: batch.Count(len(trainSet), n, m)}
	t.logger.WithFields(logrus.Fields{
		"train_len":  len(trainSet),
		"val_len":    len(valSet),
		"windows":    rep.Windows,
		"epochs":     t.cfg.Epochs,
		"parameters": t.net.Params().Count(),
	}).Info("Starting training")

	if rep.Windows == 0 {
		t.logger.WithFields(logrus.Fields{
			"train_len": len(trainSet),
			"window":    n * m,
		}).Warn("Corpus too short for a single window, every epoch is a no-op")
	}

	tr, err := t.unroll(n, m, model.Train)
	if err != nil {
		return rep, err
	}
	defer tr.Close()
	ev, err := t.unroll(n, m, model.Eval)
	if err != nil {
		return rep, err
	}
	defer ev.Close()

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		wins, err := batch.New(trainSet, n, m)
		if err != nil {
			return rep, err
		}
		st := t.net.InitState(n)
		for wins.Next() {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			rep.Steps++

			out, norm, err := t.step(tr, wins.Window(), st.Detach())
			if err != nil {
				return rep, fmt.Errorf("epoch %d step %d: %w", epoch, rep.Steps, err)
			}
			st = out.State

			if rep.Steps%t.cfg.EvalEvery != 0 {
				continue
			}
			val, count, err := t.evaluate(ev, valSet)
			if err != nil {
				return rep, fmt.Errorf("validation at step %d: %w", rep.Steps, err)
			}
			rep.Metrics = append(rep.Metrics, StepMetric{
				Epoch:      epoch,
				Step:       rep.Steps,
				TrainLoss:  out.Loss,
				ValLoss:    val,
				ValWindows: count,
				GradNorm:   norm,
			})
			t.logger.WithFields(logrus.Fields{
				"epoch":     fmt.Sprintf("%d/%d", epoch+1, t.cfg.Epochs),
				"step":      rep.Steps,
				"loss":      fmt.Sprintf("%.4f", out.Loss),
				"val_loss":  fmt.Sprintf("%.4f", val),
				"grad_norm": fmt.Sprintf("%.3f", norm),
			}).Info("Evaluated")
		}
		rep.Epochs++
	}

	if rep.Epochs > 0 {
		val, count, err := t.evaluate(ev, valSet)
		if err != nil {
			return rep, fmt.Errorf("final validation: %w", err)
		}
		rep.FinalLoss, rep.FinalWindows = val, count
	}
	rep.Duration = time.Since(start)

	t.logger.WithFields(logrus.Fields{
		"steps":       rep.Steps,
		"final_loss":  rep.FinalLoss,
		"val_windows": rep.FinalWindows,
		"duration":    rep.Duration,
	}).Info("Training completed")
	return rep, nil
}

func (t *Trainer) step(u program, w batch.Window, st model.State) (model.Output, float64, error) {
	inputs, targets, err := oneHot(w, t.net.Config().VocabSize)
	if err != nil {
		return model.Output{}, 0, err
	}
	out, err := u.Run(inputs, targets, st)
	if err != nil {
		return model.Output{}, 0, err
	}
	norm, err := u.Apply(t.solver, t.cfg.Clip)
	if err != nil {
		return model.Output{}, 0, err
	}
	return out, norm, nil
}

// evaluate returns the mean loss over the windows of data, starting from a
// zero state of its own, and how many windows were seen; the loss is zero
// when there were none. Parameters are not changed.
func (t *Trainer) evaluate(u program, data []int) (float64, int, error) {
	wins, err := batch.New(data, t.cfg.BatchSize, t.cfg.SeqLength)
	if err != nil {
		return 0, 0, err
	}
	st := t.net.InitState(t.cfg.BatchSize)
	var losses []float64
	for wins.Next() {
		inputs, targets, err := oneHot(wins.Window(), t.net.Config().VocabSize)
		if err != nil {
			return 0, 0, err
		}
		out, err := u.Run(inputs, targets, st.Detach())
		if err != nil {
			return 0, 0, err
		}
		st = out.State
		losses = append(losses, out.Loss)
	}
	if len(losses) == 0 {
		return 0, 0, nil
	}
	return stat.Mean(losses, nil), len(losses), nil
}

func oneHot(w batch.Window, v int) (inputs, targets []*tensor.Dense, err error) {
	if inputs, err = model.OneHotSteps(w.Input, v); err != nil {
		return nil, nil, err
	}
	if targets, err = model.OneHotSteps(w.Target, v); err != nil {
		return nil, nil, err
	}
	return inputs, targets, nil
}
