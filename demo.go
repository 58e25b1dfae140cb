package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"github.com/sirupsen/logrus"

	"charrnn/internal/model"
	"charrnn/internal/sample"
	"charrnn/internal/train"
	"charrnn/internal/vocab"
)

const demoCorpus = `the quick brown fox jumps over the lazy dog. the cat sat on the mat and purred contentedly. hello world! how are you today my friend? the sun is shining bright across the blue sky. birds are singing in the tall green trees. life is beautiful and full of wonder and joy. the ocean waves crash against the rocky shore with great force. mountains stand tall and proud in the distance. rivers flow gently through the peaceful valleys below. flowers bloom in spring with vibrant colors. winter brings snow and ice to the land. summer is warm and sunny and perfect for outdoor activities. autumn leaves fall gently to the ground in shades of red and gold. time moves forward always without stopping. love conquers all fears and doubts. hope lights the way through darkness. dreams come true sometimes if you believe. hard work pays off in the end. knowledge is power indeed and wisdom is precious.`

var demoPrefixes = []string{"the", "and", "in", "to"}

// demo trains a small network on demoCorpus and writes a few samples to w.
func demo(ctx context.Context, epochs int, logger *logrus.Logger, w io.Writer) error {
	v := vocab.Build(demoCorpus)
	ids, err := v.Encode(demoCorpus)
	if err != nil {
		return err
	}

	net, err := model.New(model.Config{
		Kind:       model.KindLSTM,
		VocabSize:  v.Size(),
		HiddenSize: 64,
		NumLayers:  2,
		Dropout:    0.2,
	}, rand.New(rand.NewSource(1337)))
	if err != nil {
		return err
	}
	defer net.Close()

	trainer, err := train.New(net, train.Config{
		Epochs:    epochs,
		BatchSize: 4,
		SeqLength: 25,
		LearnRate: 0.01,
		Clip:      5,
		ValFrac:   0.1,
		EvalEvery: 20,
	}, logger)
	if err != nil {
		return err
	}
	rep, err := trainer.Fit(ctx, ids)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Trained %d steps, validation loss %.4f\n", rep.Steps, rep.FinalLoss)
	s := sample.New(net, v, rand.New(rand.NewSource(42)))
	s.Temperature = 0.8
	for _, prefix := range demoPrefixes {
		text, err := s.Sample(30, prefix, 5)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %q -> %q\n", prefix, text)
	}
	return nil
}
