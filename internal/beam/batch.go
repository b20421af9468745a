package beam

import (
	"fmt"

	"github.com/samcharles93/cantus/internal/event"
)

// stepAll advances every candidate by one sampled event. The population is
// processed in consecutive chunks of exactly the stepper's batch size; a
// final short chunk is padded with deep copies of the last real candidate so
// the model never sees degenerate filler, and the filler results are
// discarded.
//
// Sequences are extended in place by the codec as each chunk completes. The
// returned state rows and chosen probabilities are index-aligned with the
// inputs. A zero-length population returns empty results without touching
// the stepper.
func stepAll(stepper Stepper, codec Codec, seqs []event.Sequence, inputs, states [][]float32, temperature float64) ([][]float32, []float64, error) {
	n := len(seqs)
	if len(inputs) != n || len(states) != n {
		return nil, nil, fmt.Errorf("%w: %d sequences, %d inputs, %d states",
			ErrBatchShape, n, len(inputs), len(states))
	}
	if n == 0 {
		return nil, nil, nil
	}

	batch := stepper.BatchSize()
	if batch < 1 {
		return nil, nil, fmt.Errorf("%w: stepper batch size %d", ErrConfig, batch)
	}

	nextStates := make([][]float32, n)
	probs := make([]float64, n)

	for start := 0; start < n; start += batch {
		end := min(start+batch, n)

		chunkSeqs := make([]event.Sequence, batch)
		chunkInputs := make([][]float32, batch)
		chunkStates := make([][]float32, batch)
		copy(chunkSeqs, seqs[start:end])
		copy(chunkInputs, inputs[start:end])
		copy(chunkStates, states[start:end])

		// Pad a short final chunk by cloning the last real candidate. The
		// clones keep the model inputs well-formed; their step results are
		// thrown away below.
		for i := end - start; i < batch; i++ {
			chunkSeqs[i] = seqs[end-1].Clone()
			chunkInputs[i] = cloneRow(inputs[end-1])
			chunkStates[i] = cloneRow(states[end-1])
		}

		next, dist, err := stepper.Step(chunkStates, chunkInputs, temperature)
		if err != nil {
			return nil, nil, fmt.Errorf("step model: %w", err)
		}
		if len(next) != batch || len(dist) != batch {
			return nil, nil, fmt.Errorf("%w: step returned %d states, %d distributions for batch %d",
				ErrBatchShape, len(next), len(dist), batch)
		}

		chosen, err := codec.Extend(chunkSeqs, dist)
		if err != nil {
			return nil, nil, fmt.Errorf("extend sequences: %w", err)
		}
		if len(chosen) != batch {
			return nil, nil, fmt.Errorf("%w: codec chose %d events for batch %d",
				ErrBatchShape, len(chosen), batch)
		}

		for i := start; i < end; i++ {
			k := i - start
			idx := chosen[k]
			if idx < 0 || idx >= len(dist[k]) {
				return nil, nil, fmt.Errorf("%w: chosen index %d outside distribution of %d classes",
					ErrBatchShape, idx, len(dist[k]))
			}
			nextStates[i] = next[k]
			probs[i] = float64(dist[k][idx])
		}
	}

	return nextStates, probs, nil
}

func cloneRow(row []float32) []float32 {
	out := make([]float32, len(row))
	copy(out, row)
	return out
}
