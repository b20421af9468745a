package beam

import (
	"fmt"
	"math"
)

// expand replicates the beam branchFactor times and advances every replica
// exactly numSteps steps, accumulating the natural log of each chosen
// probability into its log-likelihood. Replication is block order: the whole
// population repeated branchFactor times, every replica an independent deep
// copy, so sibling branches of one parent diverge as sampling differs.
//
// inputs holds one precomputed model-input row per original candidate and is
// used for the first step only; later steps recompute inputs from the
// now-extended sequences. Handing the first step's inputs in lets the engine
// prime on the full primer while every other round encodes just the latest
// event.
func expand(stepper Stepper, codec Codec, b Beam, branchFactor, numSteps int, inputs [][]float32, temperature float64) (Beam, error) {
	if branchFactor < 1 {
		return nil, fmt.Errorf("%w: branch factor %d", ErrConfig, branchFactor)
	}
	if numSteps < 1 {
		return nil, fmt.Errorf("%w: %d steps per expansion", ErrConfig, numSteps)
	}
	if len(inputs) != len(b) {
		return nil, fmt.Errorf("%w: %d input rows for %d candidates", ErrBatchShape, len(inputs), len(b))
	}

	pop := make(Beam, 0, len(b)*branchFactor)
	rows := make([][]float32, 0, len(b)*branchFactor)
	for r := 0; r < branchFactor; r++ {
		for i := range b {
			pop = append(pop, b[i].clone())
			rows = append(rows, cloneRow(inputs[i]))
		}
	}

	for t := 0; t < numSteps; t++ {
		if t > 0 {
			var err error
			rows, err = codec.Inputs(pop.sequences(), false)
			if err != nil {
				return nil, fmt.Errorf("encode step inputs: %w", err)
			}
		}

		next, probs, err := stepAll(stepper, codec, pop.sequences(), rows, pop.states(), temperature)
		if err != nil {
			return nil, err
		}

		for i := range pop {
			if probs[i] <= 0 {
				return nil, fmt.Errorf("%w: candidate %d sampled p=%g", ErrNonPositiveProbability, i, probs[i])
			}
			pop[i].State = next[i]
			pop[i].LogLik += math.Log(probs[i])
		}
	}

	return pop, nil
}
