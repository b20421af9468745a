// Package generate validates generation requests and drives the beam search
// engine. It is the single entry point the CLI and the API call into.
package generate

import (
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/cantus/internal/beam"
	"github.com/samcharles93/cantus/internal/event"
	"github.com/samcharles93/cantus/internal/logger"
)

var (
	// ErrEmptyPrimer rejects requests whose primer carries no events.
	ErrEmptyPrimer = errors.New("generate: primer is empty")

	// ErrPrimerTooLong rejects requests whose primer already reaches the
	// target length; generation always produces at least one new event.
	ErrPrimerTooLong = errors.New("generate: primer length must be less than total length")
)

// Default search parameters, applied where a request leaves a field zero.
const (
	DefaultBeamSize          = 1
	DefaultBranchFactor      = 1
	DefaultStepsPerIteration = 1
	DefaultTemperature       = 1.0
)

// Request carries the immutable parameters of one generation call.
type Request struct {
	// Primer seeds the generation and is preserved as the result's prefix.
	Primer event.Sequence

	// TotalLength is the requested length of the result, primer included.
	TotalLength int

	Temperature       float64
	BeamSize          int
	BranchFactor      int
	StepsPerIteration int
}

// withDefaults fills unset search parameters.
func (r Request) withDefaults() Request {
	if r.BeamSize == 0 {
		r.BeamSize = DefaultBeamSize
	}
	if r.BranchFactor == 0 {
		r.BranchFactor = DefaultBranchFactor
	}
	if r.StepsPerIteration == 0 {
		r.StepsPerIteration = DefaultStepsPerIteration
	}
	if r.Temperature == 0 {
		r.Temperature = DefaultTemperature
	}
	return r
}

// Result is one completed generation.
type Result struct {
	// Sequence is the generated sequence, primer prefix included.
	Sequence event.Sequence

	// LogLik is the winning candidate's cumulative log-likelihood over the
	// generated continuation.
	LogLik float64

	// Steps is the number of generated events beyond the primer.
	Steps int

	Duration time.Duration
}

// Generator binds a step model and codec into a reusable generation service.
type Generator struct {
	engine *beam.Engine
	log    logger.Logger
}

// New wires a generator. A nil log silences it.
func New(stepper beam.Stepper, codec beam.Codec, log logger.Logger) *Generator {
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{
		engine: beam.NewEngine(stepper, codec, log),
		log:    log,
	}
}

// Generate validates req and runs one beam search. Validation failures
// surface before any model interaction; there is no partial result on error.
func (g *Generator) Generate(req Request) (*Result, error) {
	req = req.withDefaults()

	if req.Primer == nil || req.Primer.Len() == 0 {
		return nil, ErrEmptyPrimer
	}
	if req.Primer.Len() >= req.TotalLength {
		return nil, fmt.Errorf("%w: primer %d, total %d", ErrPrimerTooLong, req.Primer.Len(), req.TotalLength)
	}

	steps := req.TotalLength - req.Primer.Len()
	g.log.Debug("starting generation",
		"total_length", req.TotalLength,
		"primer_length", req.Primer.Len(),
		"steps", steps,
		"beam_size", req.BeamSize,
		"branch_factor", req.BranchFactor,
		"steps_per_iteration", req.StepsPerIteration,
		"temperature", req.Temperature,
	)

	start := time.Now()
	res, err := g.engine.Search(req.Primer, steps, beam.Params{
		BeamSize:          req.BeamSize,
		BranchFactor:      req.BranchFactor,
		StepsPerIteration: req.StepsPerIteration,
		Temperature:       req.Temperature,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Sequence: res.Sequence,
		LogLik:   res.LogLik,
		Steps:    res.Steps,
		Duration: time.Since(start),
	}, nil
}
