package beam

import (
	"fmt"

	"github.com/samcharles93/cantus/internal/event"
	"github.com/samcharles93/cantus/internal/logger"
)

// Params fixes the shape of one beam search.
type Params struct {
	// BeamSize is the population bound after each prune.
	BeamSize int

	// BranchFactor is the number of independent continuations spawned per
	// surviving candidate each round.
	BranchFactor int

	// StepsPerIteration is the number of events appended between prunes.
	StepsPerIteration int

	// Temperature scales the model's output distributions; <= 0 means the
	// model's neutral temperature.
	Temperature float64
}

func (p Params) validate() error {
	if p.BeamSize < 1 {
		return fmt.Errorf("%w: beam size %d", ErrConfig, p.BeamSize)
	}
	if p.BranchFactor < 1 {
		return fmt.Errorf("%w: branch factor %d", ErrConfig, p.BranchFactor)
	}
	if p.StepsPerIteration < 1 {
		return fmt.Errorf("%w: steps per iteration %d", ErrConfig, p.StepsPerIteration)
	}
	return nil
}

// Result is the winning candidate of one search.
type Result struct {
	// Sequence is the survivor's full sequence, primer included.
	Sequence event.Sequence

	// LogLik is the survivor's cumulative log-likelihood over the generated
	// steps.
	LogLik float64

	// Steps is the number of events appended beyond the primer.
	Steps int

	// Iterations is the number of expansion rounds, priming included.
	Iterations int
}

// Engine runs beam searches against one stepper/codec pair.
type Engine struct {
	stepper Stepper
	codec   Codec
	log     logger.Logger
}

// NewEngine wires an engine. A nil log silences the engine.
func NewEngine(stepper Stepper, codec Codec, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{stepper: stepper, codec: codec, log: log}
}

// Search generates numSteps events beyond primer and returns the most
// probable completion found.
//
// The search primes first: the primer is replicated across the beam, the
// model consumes the entire primer in one expansion of
// ((numSteps-1) mod StepsPerIteration)+1 steps, and every later round then
// runs exactly StepsPerIteration steps. Rounds alternate prune-to-beam-size
// with branch-and-advance, so the population swings between BeamSize and
// BeamSize*BranchFactor until a final prune to one.
func (e *Engine) Search(primer event.Sequence, numSteps int, p Params) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if numSteps < 1 {
		return nil, fmt.Errorf("%w: %d steps requested", ErrConfig, numSteps)
	}

	// INIT: one candidate per beam slot, all starting from the primer.
	b := make(Beam, p.BeamSize)
	for i := range b {
		b[i] = Candidate{
			Sequence: primer.Clone(),
			State:    e.stepper.InitialState(),
		}
	}

	// PRIMED: fold the remainder of the step arithmetic into the first
	// round so every later round is uniform, and feed the model the whole
	// primer.
	first := ((numSteps - 1) % p.StepsPerIteration) + 1
	rounds := (numSteps - first) / p.StepsPerIteration
	if first+rounds*p.StepsPerIteration != numSteps {
		return nil, fmt.Errorf("%w: %d steps do not split into a %d-step prime plus %d-step rounds",
			ErrConfig, numSteps, first, p.StepsPerIteration)
	}

	inputs, err := e.codec.Inputs(b.sequences(), true)
	if err != nil {
		return nil, fmt.Errorf("encode primer: %w", err)
	}
	b, err = expand(e.stepper, e.codec, b, p.BranchFactor, first, inputs, p.Temperature)
	if err != nil {
		return nil, err
	}

	// ITERATING: prune then branch, keeping the population bounded.
	for r := 0; r < rounds; r++ {
		b = prune(b, p.BeamSize)
		inputs, err := e.codec.Inputs(b.sequences(), false)
		if err != nil {
			return nil, fmt.Errorf("encode round %d inputs: %w", r+1, err)
		}
		b, err = expand(e.stepper, e.codec, b, p.BranchFactor, p.StepsPerIteration, inputs, p.Temperature)
		if err != nil {
			return nil, err
		}
	}

	// FINALIZED.
	b = prune(b, 1)
	winner := b[0]
	e.log.Info("beam search finished",
		"loglik", winner.LogLik,
		"steps", numSteps,
		"iterations", rounds+1,
	)

	return &Result{
		Sequence:   winner.Sequence,
		LogLik:     winner.LogLik,
		Steps:      numSteps,
		Iterations: rounds + 1,
	}, nil
}
