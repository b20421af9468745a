package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cantus/internal/api"
	"github.com/samcharles93/cantus/internal/generate"
	"github.com/samcharles93/cantus/internal/model"
	"github.com/samcharles93/cantus/internal/version"
)

func serveCmd() *cli.Command {
	var (
		addr           string
		readTimeout    time.Duration
		requestTimeout time.Duration
		rateLimit      float64
		rateBurst      int64
		seed           int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the generation REST API",
		Flags: append(append(commonModelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.DurationFlag{
				Name:        "request-timeout",
				Usage:       "per-generation deadline",
				Value:       60 * time.Second,
				Destination: &requestTimeout,
			},
			&cli.Float64Flag{
				Name:        "rate-limit",
				Usage:       "per-client requests per second (0 disables limiting)",
				Destination: &rateLimit,
			},
			&cli.Int64Flag{
				Name:        "rate-burst",
				Usage:       "per-client burst size",
				Value:       5,
				Destination: &rateBurst,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampling RNG seed (default -1 = random)",
				Value:       -1,
				Destination: &seed,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := buildLogger()
			cfg := LoadConfig()
			applyServeConfig(cmd, cfg, &addr, &rateLimit, &requestTimeout)

			path, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return err
			}

			loaded, err := model.LoadFile(path, model.LoadOptions{BatchSize: int(batchSize)})
			if err != nil {
				return err
			}
			cdc, err := newCodec(loaded.Codec, seed, false)
			if err != nil {
				return err
			}

			defaults := api.GenerationDefaults{
				Temperature:       generate.DefaultTemperature,
				BeamSize:          generate.DefaultBeamSize,
				BranchFactor:      generate.DefaultBranchFactor,
				StepsPerIteration: generate.DefaultStepsPerIteration,
			}
			if cfg.Temperature != nil {
				defaults.Temperature = *cfg.Temperature
			}
			if cfg.BeamSize != nil {
				defaults.BeamSize = int(*cfg.BeamSize)
			}
			if cfg.BranchFactor != nil {
				defaults.BranchFactor = int(*cfg.BranchFactor)
			}
			if cfg.StepsPerIteration != nil {
				defaults.StepsPerIteration = int(*cfg.StepsPerIteration)
			}

			gen := generate.New(loaded.GRU, cdc, log)
			store := api.NewGenerationStore()
			service := api.NewGenerationService(gen, loaded.Info.Name, defaults, requestTimeout)
			server := api.NewServer(store, service)
			server.SetLogger(log)
			if rateLimit > 0 {
				server.SetRateLimit(rateLimit, int(rateBurst))
			}

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server",
				"address", addr,
				"version", version.String(),
				"model", loaded.Info.Name,
				"batch_size", loaded.GRU.BatchSize(),
			)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
