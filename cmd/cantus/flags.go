package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cantus/internal/codec"
	"github.com/samcharles93/cantus/internal/logger"
	"github.com/samcharles93/cantus/pkg/ccf"
)

var (
	modelPath  string
	modelsPath string
	batchSize  int64
	logLevel   string
	logFormat  string
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to .ccf file",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "path to directory containing .ccf models",
			Destination: &modelsPath,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Aliases:     []string{"batch", "b"},
			Usage:       "step batch width (0 = container default)",
			Destination: &batchSize,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func buildLogger() logger.Logger {
	level := logLevel
	if debug {
		level = "debug"
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, logger.ParseLevel(level))
	case "text":
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logger.ParseLevel(level),
		}))
	default:
		return logger.Pretty(os.Stderr, logger.ParseLevel(level))
	}
}

// newCodec instantiates the codec a container declares.
func newCodec(ci *ccf.CodecInfo, seed int64, greedy bool) (*codec.OneHot, error) {
	if ci.Kind != ccf.CodecMelodyOneHot {
		return nil, fmt.Errorf("unsupported codec kind %q", ci.Kind)
	}
	return codec.NewOneHot(codec.Config{
		MinNote: ci.MinNote,
		MaxNote: ci.MaxNote,
		Seed:    resolveSeed(seed),
		Greedy:  greedy,
	})
}

// resolveSeed replaces the "random" sentinel with a time-derived seed so
// default-seed runs do not repeat each other.
func resolveSeed(seed int64) int64 {
	if seed == -1 {
		return time.Now().UnixNano()
	}
	return seed
}
