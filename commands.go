package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"charrnn/internal/checkpoint"
	"charrnn/internal/model"
	"charrnn/internal/sample"
	"charrnn/internal/train"
	"charrnn/internal/vocab"
)

var errEmptyCorpus = errors.New("corpus is empty")

// TrainConfig is everything the train command needs.
type TrainConfig struct {
	Corpus    string
	Out       string
	Normalize bool
	Seed      int64
	Model     model.Config
	Train     train.Config
}

// SampleConfig is everything the sample command needs.
type SampleConfig struct {
	Checkpoint string
	Prime      string
	Length     int
	TopK       int
	Temp       float64
	Seed       int64
	Expect     checkpoint.Expect
}

func defaultTrainConfig() TrainConfig {
	return TrainConfig{
		Seed:  1337,
		Model: model.DefaultConfig(),
		Train: train.DefaultConfig(),
	}
}

func (c *TrainConfig) register(fs *flag.FlagSet) {
	fs.StringVar(&c.Corpus, "corpus", c.Corpus, "Path to training corpus (required)")
	fs.StringVar(&c.Out, "out", c.Out, "Output directory for the checkpoint (required)")
	fs.BoolVar(&c.Normalize, "normalize", c.Normalize, "Lowercase the corpus and collapse runs of spaces")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "Random seed for weight initialisation")

	fs.StringVar(&c.Model.Kind, "cell", c.Model.Kind, "Recurrent cell (lstm or rnn)")
	fs.IntVar(&c.Model.HiddenSize, "hidden", c.Model.HiddenSize, "Hidden units per layer")
	fs.IntVar(&c.Model.NumLayers, "layers", c.Model.NumLayers, "Number of stacked layers")
	fs.Float64Var(&c.Model.Dropout, "dropout", c.Model.Dropout, "Dropout probability between layers")

	fs.IntVar(&c.Train.Epochs, "epochs", c.Train.Epochs, "Number of epochs")
	fs.IntVar(&c.Train.BatchSize, "batch", c.Train.BatchSize, "Sequences per window")
	fs.IntVar(&c.Train.SeqLength, "seq", c.Train.SeqLength, "Characters per sequence")
	fs.Float64Var(&c.Train.LearnRate, "lr", c.Train.LearnRate, "Learning rate")
	fs.Float64Var(&c.Train.Clip, "clip", c.Train.Clip, "Gradient clipping norm")
	fs.Float64Var(&c.Train.ValFrac, "val-frac", c.Train.ValFrac, "Fraction of the corpus held out for validation")
	fs.IntVar(&c.Train.EvalEvery, "eval-every", c.Train.EvalEvery, "Validate every n steps")
}

func loadCorpus(path string, normalize bool) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := string(data)
	if !normalize {
		return text, nil
	}

	text = strings.ToLower(text)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n"), nil
}

// trainModel trains a fresh network on the corpus and writes model.gob,
// manifest.json and metrics.json into config.Out.
func trainModel(ctx context.Context, config TrainConfig, logger *logrus.Logger) (train.Report, error) {
	if err := os.MkdirAll(config.Out, 0755); err != nil {
		return train.Report{}, fmt.Errorf("create output directory: %w", err)
	}

	text, err := loadCorpus(config.Corpus, config.Normalize)
	if err != nil {
		return train.Report{}, fmt.Errorf("load corpus: %w", err)
	}
	if text == "" {
		return train.Report{}, fmt.Errorf("%s: %w", config.Corpus, errEmptyCorpus)
	}
	v := vocab.Build(text)
	ids, err := v.Encode(text)
	if err != nil {
		return train.Report{}, err
	}
	corpusHash := checkpoint.CorpusHash(text)
	logger.WithFields(logrus.Fields{
		"path":       config.Corpus,
		"length":     len(ids),
		"vocab_size": v.Size(),
		"hash":       corpusHash,
	}).Info("Loaded corpus")

	mcfg := config.Model
	mcfg.VocabSize = v.Size()
	net, err := model.New(mcfg, rand.New(rand.NewSource(config.Seed)))
	if err != nil {
		return train.Report{}, fmt.Errorf("build network: %w", err)
	}
	defer net.Close()

	trainer, err := train.New(net, config.Train, logger)
	if err != nil {
		return train.Report{}, err
	}
	rep, err := trainer.Fit(ctx, ids)
	if err != nil {
		return rep, fmt.Errorf("train: %w", err)
	}

	modelPath := filepath.Join(config.Out, "model.gob")
	if err := checkpoint.Save(modelPath, checkpoint.Capture(net, v)); err != nil {
		return rep, fmt.Errorf("save checkpoint: %w", err)
	}

	manifest := checkpoint.Manifest{
		CorpusPath:   config.Corpus,
		CorpusHash:   corpusHash,
		CorpusLength: len(ids),
		Kind:         mcfg.Kind,
		Hidden:       mcfg.HiddenSize,
		Layers:       mcfg.NumLayers,
		Dropout:      mcfg.Dropout,
		Batch:        config.Train.BatchSize,
		SeqLength:    config.Train.SeqLength,
		Epochs:       config.Train.Epochs,
		LR:           config.Train.LearnRate,
		Clip:         config.Train.Clip,
		ValFrac:      config.Train.ValFrac,
		EvalEvery:    config.Train.EvalEvery,
		VocabSize:    v.Size(),
		Parameters:   net.Params().Count(),
		Seed:         config.Seed,
		FinalLoss:    rep.FinalLoss,
		TrainedAt:    time.Now(),
		BuildVersion: "dev",
	}
	if err := checkpoint.SaveJSON(filepath.Join(config.Out, "manifest.json"), manifest); err != nil {
		return rep, fmt.Errorf("save manifest: %w", err)
	}
	if err := checkpoint.SaveJSON(filepath.Join(config.Out, "metrics.json"), rep); err != nil {
		return rep, fmt.Errorf("save metrics: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"checkpoint": modelPath,
		"out":        config.Out,
	}).Info("Saved model")
	return rep, nil
}

// sampleModel restores a checkpoint and generates one piece of text from it.
func sampleModel(config SampleConfig) (string, error) {
	ck, err := checkpoint.Load(config.Checkpoint)
	if err != nil {
		return "", err
	}
	if err := ck.Verify(config.Expect); err != nil {
		return "", err
	}
	net, v, err := ck.Restore()
	if err != nil {
		return "", fmt.Errorf("restore %s: %w", config.Checkpoint, err)
	}
	defer net.Close()

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := sample.New(net, v, rand.New(rand.NewSource(seed)))
	s.Temperature = config.Temp
	return s.Sample(config.Length, config.Prime, config.TopK)
}
