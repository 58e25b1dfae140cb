// Package checkpoint saves and restores a trained network with its vocabulary.
package checkpoint

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gorgonia.org/tensor"

	"charrnn/internal/model"
	"charrnn/internal/vocab"
)

// Blob is one parameter tensor in serialisable form.
type Blob struct {
	Shape []int
	Data  []float64
}

// Checkpoint is everything needed to rebuild a network and its codec.
type Checkpoint struct {
	Kind       string
	HiddenSize int
	NumLayers  int
	Dropout    float64
	Chars      []rune
	Params     map[string]Blob
}

// Expect lists structural values a loaded checkpoint must match. Zero fields
// are not checked.
type Expect struct {
	HiddenSize int
	NumLayers  int
	VocabSize  int
}

// Capture snapshots net and v. The parameters are copied.
func Capture(net *model.Network, v *vocab.Vocab) Checkpoint {
	cfg := net.Config()
	ck := Checkpoint{
		Kind:       cfg.Kind,
		HiddenSize: cfg.HiddenSize,
		NumLayers:  cfg.NumLayers,
		Dropout:    cfg.Dropout,
		Chars:      v.Chars(),
		Params:     make(map[string]Blob, len(net.Params())),
	}
	for name, t := range net.Params() {
		ck.Params[name] = Blob{
			Shape: append([]int(nil), t.Shape()...),
			Data:  append([]float64(nil), t.Data().([]float64)...),
		}
	}
	return ck
}

// Verify checks ck against exp.
func (ck Checkpoint) Verify(exp Expect) error {
	switch {
	case exp.HiddenSize != 0 && exp.HiddenSize != ck.HiddenSize:
		return fmt.Errorf("%w: checkpoint hidden size %d, want %d", model.ErrShapeMismatch, ck.HiddenSize, exp.HiddenSize)
	case exp.NumLayers != 0 && exp.NumLayers != ck.NumLayers:
		return fmt.Errorf("%w: checkpoint has %d layers, want %d", model.ErrShapeMismatch, ck.NumLayers, exp.NumLayers)
	case exp.VocabSize != 0 && exp.VocabSize != len(ck.Chars):
		return fmt.Errorf("%w: checkpoint vocabulary has %d characters, want %d", model.ErrShapeMismatch, len(ck.Chars), exp.VocabSize)
	}
	return nil
}

// Restore rebuilds the network and vocabulary. Any disagreement between the
// recorded structure and the parameters fails with model.ErrShapeMismatch.
func (ck Checkpoint) Restore() (*model.Network, *vocab.Vocab, error) {
	v, err := vocab.FromChars(ck.Chars)
	if err != nil {
		return nil, nil, fmt.Errorf("vocabulary: %w", err)
	}

	params := make(model.Params, len(ck.Params))
	for name, b := range ck.Params {
		size := 1
		for _, d := range b.Shape {
			size *= d
		}
		if len(b.Shape) == 0 || size != len(b.Data) {
			return nil, nil, fmt.Errorf("%w: parameter %s has %d values for shape %v",
				model.ErrShapeMismatch, name, len(b.Data), b.Shape)
		}
		data := append([]float64(nil), b.Data...)
		params[name] = tensor.New(tensor.WithShape(b.Shape...), tensor.WithBacking(data))
	}

	net, err := model.NewFromParams(model.Config{
		Kind:       ck.Kind,
		VocabSize:  v.Size(),
		HiddenSize: ck.HiddenSize,
		NumLayers:  ck.NumLayers,
		Dropout:    ck.Dropout,
	}, params)
	if err != nil {
		return nil, nil, err
	}
	return net, v, nil
}

// Save writes ck to path with encoding/gob.
func Save(path string, ck Checkpoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(ck); err != nil {
		f.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return f.Close()
}

// Load reads a checkpoint written by Save.
func Load(path string) (Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checkpoint{}, err
	}
	defer f.Close()

	var ck Checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return ck, nil
}

// SaveJSON writes v as indented JSON, for the manifest and metrics files
// next to a checkpoint.
func SaveJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, append(b, '\n'), 0644)
}

// LoadJSON decodes the file at path into v.
func LoadJSON(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
