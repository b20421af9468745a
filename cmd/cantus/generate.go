package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/cantus/internal/event"
	"github.com/samcharles93/cantus/internal/generate"
	"github.com/samcharles93/cantus/internal/model"
)

func generateCmd() *cli.Command {
	var (
		primer       string
		length       int64
		temp         float64
		beamSize     int64
		branchFactor int64
		stepsPerIter int64
		seed         int64
		greedy       bool
		jsonOut      bool
	)

	return &cli.Command{
		Name:    "generate",
		Aliases: []string{"gen"},
		Usage:   "Generate a melody continuation with beam search",
		Flags: append(append(commonModelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "primer",
				Aliases:     []string{"p"},
				Usage:       "primer melody as comma-separated events, e.g. \"60,-2,62\"",
				Destination: &primer,
			},
			&cli.Int64Flag{
				Name:        "length",
				Aliases:     []string{"n", "l"},
				Usage:       "total length of the result, primer included",
				Value:       64,
				Destination: &length,
			},
			&cli.Float64Flag{
				Name:        "temp",
				Aliases:     []string{"temperature", "t"},
				Usage:       "sampling temperature",
				Value:       generate.DefaultTemperature,
				Destination: &temp,
			},
			&cli.Int64Flag{
				Name:        "beam-size",
				Aliases:     []string{"beam_size", "k"},
				Usage:       "candidates kept after each pruning pass",
				Value:       generate.DefaultBeamSize,
				Destination: &beamSize,
			},
			&cli.Int64Flag{
				Name:        "branch-factor",
				Aliases:     []string{"branch_factor"},
				Usage:       "samples drawn per candidate each iteration",
				Value:       generate.DefaultBranchFactor,
				Destination: &branchFactor,
			},
			&cli.Int64Flag{
				Name:        "steps-per-iteration",
				Aliases:     []string{"steps_per_iteration", "spi"},
				Usage:       "events each candidate extends by between prunes",
				Value:       generate.DefaultStepsPerIteration,
				Destination: &stepsPerIter,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampling RNG seed (default -1 = random)",
				Value:       -1,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "greedy",
				Usage:       "pick the most likely event instead of sampling",
				Destination: &greedy,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the result as JSON",
				Destination: &jsonOut,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := buildLogger()
			applyGenerateConfig(cmd, LoadConfig(), &temp, &beamSize, &branchFactor, &stepsPerIter, &seed)

			path, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return err
			}

			loaded, err := model.LoadFile(path, model.LoadOptions{BatchSize: int(batchSize)})
			if err != nil {
				return err
			}
			cdc, err := newCodec(loaded.Codec, seed, greedy)
			if err != nil {
				return err
			}

			mel, err := event.ParseMelody(primer)
			if err != nil {
				return err
			}

			log.Info("loaded model",
				"path", path,
				"name", loaded.Info.Name,
				"hidden_size", loaded.Info.HiddenSize,
				"classes", loaded.Info.NumClasses,
				"batch_size", loaded.GRU.BatchSize(),
			)

			res, err := generate.New(loaded.GRU, cdc, log).Generate(generate.Request{
				Primer:            mel,
				TotalLength:       int(length),
				Temperature:       temp,
				BeamSize:          int(beamSize),
				BranchFactor:      int(branchFactor),
				StepsPerIteration: int(stepsPerIter),
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return printGenerationJSON(res, loaded.Info.Name)
			}

			out, ok := res.Sequence.(*event.Melody)
			if !ok {
				return fmt.Errorf("unexpected sequence type %T", res.Sequence)
			}
			fmt.Println(out.String())
			log.Info("generation finished",
				"steps", res.Steps,
				"loglik", res.LogLik,
				"duration", res.Duration,
			)
			return nil
		},
	}
}

func printGenerationJSON(res *generate.Result, modelName string) error {
	mel, ok := res.Sequence.(*event.Melody)
	if !ok {
		return fmt.Errorf("unexpected sequence type %T", res.Sequence)
	}
	events := mel.Events()
	ints := make([]int, len(events))
	for i, e := range events {
		ints[i] = int(e)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Model      string  `json:"model"`
		Events     []int   `json:"events"`
		LogLik     float64 `json:"log_likelihood"`
		Steps      int     `json:"steps"`
		DurationMS int64   `json:"duration_ms"`
	}{
		Model:      modelName,
		Events:     ints,
		LogLik:     res.LogLik,
		Steps:      res.Steps,
		DurationMS: res.Duration.Milliseconds(),
	})
}
