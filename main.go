package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "train":
		err = runTrain(ctx, os.Args[2:])
	case "sample":
		err = runSample(os.Args[2:])
	case "demo":
		err = runDemo(ctx, os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		logrus.Fatal(err)
	}
}

func printUsage() {
	fmt.Println("charrnn - character-level recurrent text generator")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  charrnn train --corpus FILE --out DIR [options]")
	fmt.Println("  charrnn sample --checkpoint FILE --prime TEXT [options]")
	fmt.Println("  charrnn demo [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  train    Train a network on a text corpus")
	fmt.Println("  sample   Generate text from a trained checkpoint")
	fmt.Println("  demo     Train briefly on a built-in corpus and sample from it")
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	config := defaultTrainConfig()
	config.register(fs)
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Parse(args)

	if config.Corpus == "" || config.Out == "" {
		fmt.Println("Error: --corpus and --out are required")
		fs.PrintDefaults()
		os.Exit(1)
	}
	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}
	_, err = trainModel(ctx, config, logger)
	return err
}

func runSample(args []string) error {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	config := SampleConfig{}
	fs.StringVar(&config.Checkpoint, "checkpoint", "", "Path to model.gob (required)")
	fs.StringVar(&config.Prime, "prime", "", "Text to prime the network with (required)")
	fs.IntVar(&config.Length, "length", 200, "Characters to generate after the prime")
	fs.IntVar(&config.TopK, "topk", 5, "Keep the k most likely characters, 0 keeps all")
	fs.Float64Var(&config.Temp, "temp", 1.0, "Temperature")
	fs.Int64Var(&config.Seed, "seed", 0, "Random seed (0 for random)")
	fs.IntVar(&config.Expect.HiddenSize, "expect-hidden", 0, "Fail unless the checkpoint has this hidden size")
	fs.IntVar(&config.Expect.NumLayers, "expect-layers", 0, "Fail unless the checkpoint has this many layers")
	fs.IntVar(&config.Expect.VocabSize, "expect-vocab", 0, "Fail unless the checkpoint has this vocabulary size")
	fs.Parse(args)

	if config.Checkpoint == "" || config.Prime == "" {
		fmt.Println("Error: --checkpoint and --prime are required")
		fs.PrintDefaults()
		os.Exit(1)
	}
	text, err := sampleModel(config)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func runDemo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	epochs := fs.Int("epochs", 20, "Number of epochs")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Parse(args)

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}
	return demo(ctx, *epochs, logger, os.Stdout)
}

func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger := logrus.New()
	logger.SetLevel(lvl)
	return logger, nil
}
