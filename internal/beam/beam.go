// Package beam implements batched beam search over an external
// autoregressive step model. The search keeps a bounded population of
// candidate sequences, expands every candidate a fixed number of steps per
// round through the model's batched step call, scores each candidate by
// cumulative log-likelihood of its sampled events, and prunes back to the
// beam bound between rounds.
package beam

import (
	"errors"

	"github.com/samcharles93/cantus/internal/event"
)

var (
	// ErrBatchShape reports a step model or codec returning a batch whose
	// row count disagrees with the rows handed in. This is a collaborator
	// contract breach, never retried.
	ErrBatchShape = errors.New("beam: batch shape mismatch")

	// ErrNonPositiveProbability reports a chosen event whose probability is
	// zero or negative. A correct sampler cannot select a zero-probability
	// event, so this is fatal rather than clamped to an epsilon.
	ErrNonPositiveProbability = errors.New("beam: chosen probability must be positive")

	// ErrConfig reports search parameters that cannot drive a search.
	ErrConfig = errors.New("beam: invalid search parameters")
)

// Stepper is the batched single-step interface of the predictive model. The
// search issues Step calls strictly sequentially, always with exactly
// BatchSize rows; implementations may parallelize internally as long as
// results are deterministic and index-aligned with the inputs.
//
// An input row may carry several encoded timesteps back to back; the model
// consumes them in order and the returned distribution is the one following
// the final timestep. Priming on a whole primer is a single Step call with
// multi-timestep rows.
type Stepper interface {
	// BatchSize is the exact row count every Step call must carry.
	BatchSize() int

	// InitialState returns a fresh recurrent state for one new sequence.
	InitialState() []float32

	// Step advances each row's state by its input row and returns successor
	// states and a probability distribution per row.
	Step(states, inputs [][]float32, temperature float64) (next, dist [][]float32, err error)
}

// Codec translates between event sequences and the model's vector space.
type Codec interface {
	// Inputs produces one model-input row per sequence. With fullLength set
	// the row encodes the entire sequence; otherwise only the most recently
	// appended event.
	Inputs(seqs []event.Sequence, fullLength bool) ([][]float32, error)

	// Extend appends one event drawn from the matching distribution to each
	// sequence in place and reports the chosen distribution index per
	// sequence.
	Extend(seqs []event.Sequence, dist [][]float32) ([]int, error)
}

// Candidate is one in-progress sequence with its model state and score. The
// three fields travel together so reordering or filtering can never
// desynchronize them. A candidate exclusively owns its sequence and state;
// every replication point deep-copies both.
type Candidate struct {
	Sequence event.Sequence
	State    []float32

	// LogLik is the cumulative natural-log probability of every event
	// appended to Sequence since the search began. Zero for fresh
	// candidates.
	LogLik float64
}

// clone returns a candidate owning deep copies of the sequence and state.
func (c Candidate) clone() Candidate {
	state := make([]float32, len(c.State))
	copy(state, c.State)
	return Candidate{
		Sequence: c.Sequence.Clone(),
		State:    state,
		LogLik:   c.LogLik,
	}
}

// Beam is the ordered population of candidates between search phases. Its
// size is bounded by the beam size after pruning and by beam size times
// branch factor between a branch and the next prune.
type Beam []Candidate

// sequences collects the candidates' sequence handles, index-aligned with b.
func (b Beam) sequences() []event.Sequence {
	seqs := make([]event.Sequence, len(b))
	for i := range b {
		seqs[i] = b[i].Sequence
	}
	return seqs
}

// states collects the candidates' state rows, index-aligned with b.
func (b Beam) states() [][]float32 {
	st := make([][]float32, len(b))
	for i := range b {
		st[i] = b[i].State
	}
	return st
}
