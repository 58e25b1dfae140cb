// Package sample generates text from a trained model one character at a time.
package sample

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"

	"charrnn/internal/model"
	"charrnn/internal/vocab"
)

// ErrEmptyPrime is returned when sampling is asked to start from no context.
var ErrEmptyPrime = errors.New("prime must not be empty")

// Model is the part of a sequence model the sampler needs.
type Model interface {
	InitState(batch int) model.State
	Step(x *tensor.Dense, st model.State) (*tensor.Dense, model.State, error)
}

// Sampler decodes characters from a Model.
type Sampler struct {
	m   Model
	v   *vocab.Vocab
	rng *rand.Rand

	// Temperature divides the scores before the softmax; 1 leaves them as is.
	Temperature float64
}

// New returns a sampler drawing from rng.
func New(m Model, v *vocab.Vocab, rng *rand.Rand) *Sampler {
	return &Sampler{m: m, v: v, rng: rng, Temperature: 1}
}

// Sample primes the model with every character of prime, then emits one
// character for the primed context followed by length more, each fed back as
// the next input. topK <= 0 samples from the whole vocabulary; otherwise only
// the topK most probable characters are considered. The result is prime
// followed by the length+1 generated characters.
func (s *Sampler) Sample(length int, prime string, topK int) (string, error) {
	if prime == "" {
		return "", ErrEmptyPrime
	}
	if length < 0 {
		return "", fmt.Errorf("length must not be negative, got %d", length)
	}
	ids, err := s.v.Encode(prime)
	if err != nil {
		return "", fmt.Errorf("prime: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(prime)

	st := s.m.InitState(1)
	var scores *tensor.Dense
	for _, id := range ids {
		if scores, st, err = s.feed(id, st); err != nil {
			return "", err
		}
	}

	for i := 0; ; i++ {
		id := s.pick(scores.Data().([]float64), topK)
		r, err := s.v.Decode(id)
		if err != nil {
			return "", err
		}
		sb.WriteRune(r)
		if i == length {
			break
		}
		if scores, st, err = s.feed(id, st); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func (s *Sampler) feed(id int, st model.State) (*tensor.Dense, model.State, error) {
	x, err := model.OneHot([]int{id}, s.v.Size())
	if err != nil {
		return nil, model.State{}, err
	}
	scores, next, err := s.m.Step(x, st)
	if err != nil {
		return nil, model.State{}, fmt.Errorf("model step: %w", err)
	}
	return scores, next, nil
}

func (s *Sampler) pick(scores []float64, topK int) int {
	probs := Softmax(scores, s.Temperature)
	ids, probs := TopK(probs, topK)
	return ids[Draw(probs, s.rng.Float64())]
}

// Softmax turns scores into probabilities after dividing by temperature.
// A non-positive temperature is treated as 1.
func Softmax(scores []float64, temperature float64) []float64 {
	if temperature <= 0 {
		temperature = 1
	}
	out := make([]float64, len(scores))
	copy(out, scores)
	floats.Scale(1/temperature, out)
	top := floats.Max(out)
	for i, v := range out {
		out[i] = math.Exp(v - top)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// TopK returns the ids of the k most probable entries, most probable first,
// with their probabilities renormalised to sum to one. k <= 0 or k >= len(probs)
// keeps every entry.
func TopK(probs []float64, k int) ([]int, []float64) {
	ids := make([]int, len(probs))
	for i := range ids {
		ids[i] = i
	}
	sort.SliceStable(ids, func(a, b int) bool { return probs[ids[a]] > probs[ids[b]] })
	if k > 0 && k < len(ids) {
		ids = ids[:k]
	}

	kept := make([]float64, len(ids))
	for i, id := range ids {
		kept[i] = probs[id]
	}
	if sum := floats.Sum(kept); sum > 0 {
		floats.Scale(1/sum, kept)
	}
	return ids, kept
}

// Draw returns the index whose cumulative probability first reaches u,
// for u in [0, 1).
func Draw(probs []float64, u float64) int {
	cum := make([]float64, len(probs))
	floats.CumSum(cum, probs)
	i := sort.SearchFloat64s(cum, u)
	if i >= len(probs) {
		// u landed above the total through rounding: take the last
		// entry that can be drawn at all.
		i = len(probs) - 1
		for i > 0 && probs[i] == 0 {
			i--
		}
		return i
	}
	// skip zero-probability entries sharing the cumulative value
	for i < len(probs)-1 && probs[i] == 0 {
		i++
	}
	return i
}
