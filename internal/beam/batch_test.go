package beam

import (
	"errors"
	"testing"

	"github.com/samcharles93/cantus/internal/event"
)

func TestStepAllEmptyPopulation(t *testing.T) {
	stepper := &chainStepper{batch: 4, classes: 8, peak: 0.9}
	codec := &valueCodec{}

	next, probs, err := stepAll(stepper, codec, nil, nil, nil, 1.0)
	if err != nil {
		t.Fatalf("stepAll: %v", err)
	}
	if len(next) != 0 || len(probs) != 0 {
		t.Fatalf("got %d states, %d probs, want none", len(next), len(probs))
	}
	if stepper.calls != 0 {
		t.Fatalf("stepper invoked %d times for empty population", stepper.calls)
	}
}

// Processing N candidates must give each the same result regardless of how
// the population splits into batches: candidate i's output is a pure
// function of candidate i's own row.
func TestStepAllBatchSplitConsistency(t *testing.T) {
	const n = 8
	codec := &valueCodec{}

	run := func(batch int) ([][]float32, []float64, []event.Event) {
		t.Helper()
		stepper := &chainStepper{batch: batch, classes: 8, peak: 0.9}
		seqs := make([]event.Sequence, n)
		inputs := make([][]float32, n)
		states := make([][]float32, n)
		for i := 0; i < n; i++ {
			seqs[i] = event.NewMelody(event.Event(i % 8))
			inputs[i] = []float32{float32(i % 8)}
			states[i] = []float32{float32(i)}
		}
		next, probs, err := stepAll(stepper, codec, seqs, inputs, states, 1.0)
		if err != nil {
			t.Fatalf("stepAll(batch=%d): %v", batch, err)
		}
		last := make([]event.Event, n)
		for i := range seqs {
			last[i] = seqs[i].(*event.Melody).Last()
		}
		return next, probs, last
	}

	oneBatch, oneProbs, oneLast := run(8)
	split, splitProbs, splitLast := run(4)

	for i := 0; i < n; i++ {
		if oneProbs[i] != splitProbs[i] {
			t.Errorf("candidate %d prob: %v vs %v", i, oneProbs[i], splitProbs[i])
		}
		if oneLast[i] != splitLast[i] {
			t.Errorf("candidate %d event: %d vs %d", i, oneLast[i], splitLast[i])
		}
		if oneBatch[i][0] != split[i][0] {
			t.Errorf("candidate %d state: %v vs %v", i, oneBatch[i][0], split[i][0])
		}
	}
}

func TestStepAllPadding(t *testing.T) {
	// remainder 1 with batch 4: the final chunk carries one real candidate
	// and three deep-copied fillers whose results are discarded.
	const n, batch = 5, 4
	stepper := &chainStepper{batch: batch, classes: 8, peak: 0.9}
	codec := &valueCodec{}

	seqs := make([]event.Sequence, n)
	inputs := make([][]float32, n)
	states := make([][]float32, n)
	for i := 0; i < n; i++ {
		seqs[i] = event.NewMelody(event.Event(i))
		inputs[i] = []float32{float32(i)}
		states[i] = []float32{0}
	}

	next, probs, err := stepAll(stepper, codec, seqs, inputs, states, 1.0)
	if err != nil {
		t.Fatalf("stepAll: %v", err)
	}
	if len(next) != n || len(probs) != n {
		t.Fatalf("got %d states, %d probs, want %d real results", len(next), len(probs), n)
	}
	if stepper.calls != 2 {
		t.Fatalf("stepper calls = %d, want 2", stepper.calls)
	}
	for i, s := range seqs {
		if s.Len() != 2 {
			t.Errorf("sequence %d extended to %d events, want 2", i, s.Len())
		}
	}
	// The padded chunk must not feed the last real candidate's own sequence
	// to the filler rows: it gains exactly one event, like everyone else.
	if last := seqs[n-1].(*event.Melody); last.Len() != 2 || last.Last() != event.Event(5) {
		t.Fatalf("last candidate = %s, want one appended event 5", last)
	}
}

type badShapeStepper struct{ chainStepper }

func (s *badShapeStepper) Step(states, inputs [][]float32, temperature float64) ([][]float32, [][]float32, error) {
	next, dist, err := s.chainStepper.Step(states, inputs, temperature)
	if err != nil {
		return nil, nil, err
	}
	return next[:len(next)-1], dist, nil
}

func TestStepAllBatchShapeBreach(t *testing.T) {
	stepper := &badShapeStepper{chainStepper{batch: 2, classes: 4, peak: 0.9}}
	codec := &valueCodec{}

	seqs := []event.Sequence{event.NewMelody(0), event.NewMelody(1)}
	inputs := [][]float32{{0}, {1}}
	states := [][]float32{{0}, {0}}

	_, _, err := stepAll(stepper, codec, seqs, inputs, states, 1.0)
	if !errors.Is(err, ErrBatchShape) {
		t.Fatalf("err = %v, want ErrBatchShape", err)
	}
}

func TestStepAllInputMisalignment(t *testing.T) {
	stepper := &chainStepper{batch: 2, classes: 4, peak: 0.9}
	codec := &valueCodec{}

	seqs := []event.Sequence{event.NewMelody(0), event.NewMelody(1)}
	_, _, err := stepAll(stepper, codec, seqs, [][]float32{{0}}, [][]float32{{0}, {0}}, 1.0)
	if !errors.Is(err, ErrBatchShape) {
		t.Fatalf("err = %v, want ErrBatchShape", err)
	}
}
