package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cantus/internal/model"
	"github.com/samcharles93/cantus/pkg/ccf"
)

func packCmd() *cli.Command {
	return &cli.Command{
		Name:  "pack",
		Usage: "Pack a Safetensors checkpoint into a single .ccf file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"in"},
				Usage:    "Safetensors checkpoint holding the trained weights",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"out"},
				Usage:    "Output .ccf path",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Model name stored in the container (default: input file name)",
			},
			&cli.IntFlag{
				Name:     "min-note",
				Usage:    "Lowest MIDI pitch the codec encodes",
				Required: true,
			},
			&cli.IntFlag{
				Name:     "max-note",
				Usage:    "Highest MIDI pitch the codec encodes",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Batch width stored in the container (0 leaves it to the runtime)",
			},
			&cli.IntFlag{
				Name:  "weight-align",
				Usage: "Alignment (bytes) between weight payloads (0 selects 64)",
				Value: 64,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts := model.PackOptions{
				Checkpoint: cmd.String("input"),
				OutputPath: cmd.String("output"),
				Name:       cmd.String("name"),
				Codec: ccf.CodecInfo{
					Kind:    ccf.CodecMelodyOneHot,
					MinNote: cmd.Int("min-note"),
					MaxNote: cmd.Int("max-note"),
				},
				BatchSize:   cmd.Int("batch-size"),
				WeightAlign: cmd.Int("weight-align"),
			}

			if err := model.Pack(opts); err != nil {
				return fmt.Errorf("pack: %w", err)
			}
			fmt.Printf("wrote %s\n", opts.OutputPath)
			_ = ctx
			return nil
		},
	}
}
