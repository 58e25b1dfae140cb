// Package model implements the recurrent sequence model on top of gorgonia.
//
// A Network owns the learned parameters. Graphs are built per use: Unroll
// compiles a fixed (batch, seqLen) program for training or evaluation, and
// Step runs a single position for sampling. Recurrent state never lives inside
// a graph; it is passed in and read back out as a State on every run.
package model

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when parameters, inputs or state disagree with
// the network's structure.
var ErrShapeMismatch = errors.New("shape mismatch")

// Config describes the structure of a Network.
type Config struct {
	Kind       string  `json:"kind"`
	VocabSize  int     `json:"vocab_size"`
	HiddenSize int     `json:"hidden_size"`
	NumLayers  int     `json:"num_layers"`
	Dropout    float64 `json:"dropout"`
}

// DefaultConfig returns the usual char-rnn structure. VocabSize is left for
// the caller since it comes from the corpus.
func DefaultConfig() Config {
	return Config{
		Kind:       KindLSTM,
		HiddenSize: 256,
		NumLayers:  2,
		Dropout:    0.5,
	}
}

// Validate checks the structural fields.
func (c Config) Validate() error {
	if _, err := cellFor(c.Kind); err != nil {
		return err
	}
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("vocab size must be positive, got %d", c.VocabSize)
	case c.HiddenSize <= 0:
		return fmt.Errorf("hidden size must be positive, got %d", c.HiddenSize)
	case c.NumLayers <= 0:
		return fmt.Errorf("number of layers must be positive, got %d", c.NumLayers)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	}
	return nil
}
