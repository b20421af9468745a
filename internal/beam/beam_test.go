package beam

import (
	"fmt"

	"github.com/samcharles93/cantus/internal/event"
)

// chainStepper is a deterministic test model. Each input row encodes events
// as raw values, one per timestep; the returned distribution puts peak
// probability on the class after the row's final event value, wrapping at
// classes, and spreads the remainder evenly. The next state is the incoming
// state with its first value advanced by the number of timesteps consumed,
// so state plumbing is observable. Every row's result is a pure function of
// that row alone.
type chainStepper struct {
	batch   int
	classes int
	peak    float32

	calls int
}

func (s *chainStepper) BatchSize() int { return s.batch }

func (s *chainStepper) InitialState() []float32 { return []float32{0} }

func (s *chainStepper) Step(states, inputs [][]float32, temperature float64) ([][]float32, [][]float32, error) {
	s.calls++
	if len(states) != s.batch || len(inputs) != s.batch {
		return nil, nil, fmt.Errorf("chainStepper: got %d states, %d inputs, want %d",
			len(states), len(inputs), s.batch)
	}
	next := make([][]float32, s.batch)
	dist := make([][]float32, s.batch)
	for i := range inputs {
		if len(inputs[i]) == 0 {
			return nil, nil, fmt.Errorf("chainStepper: empty input row %d", i)
		}
		last := int(inputs[i][len(inputs[i])-1])
		cls := (last + 1) % s.classes

		row := make([]float32, s.classes)
		rest := (1 - s.peak) / float32(s.classes-1)
		for j := range row {
			row[j] = rest
		}
		row[cls] = s.peak
		dist[i] = row

		next[i] = []float32{states[i][0] + float32(len(inputs[i]))}
	}
	return next, dist, nil
}

type inputsCall struct {
	full bool
	n    int
}

// valueCodec pairs with chainStepper: events are encoded as their raw
// values, one per timestep, and Extend appends the argmax class as an event.
// Every Inputs call is recorded so tests can assert population sizes.
type valueCodec struct {
	calls []inputsCall
}

func (c *valueCodec) Inputs(seqs []event.Sequence, fullLength bool) ([][]float32, error) {
	c.calls = append(c.calls, inputsCall{full: fullLength, n: len(seqs)})
	rows := make([][]float32, len(seqs))
	for i, s := range seqs {
		mel, ok := s.(*event.Melody)
		if !ok {
			return nil, fmt.Errorf("valueCodec: got %T", s)
		}
		if mel.Len() == 0 {
			return nil, fmt.Errorf("valueCodec: empty sequence %d", i)
		}
		start := mel.Len() - 1
		if fullLength {
			start = 0
		}
		row := make([]float32, 0, mel.Len()-start)
		for t := start; t < mel.Len(); t++ {
			row = append(row, float32(mel.At(t)))
		}
		rows[i] = row
	}
	return rows, nil
}

func (c *valueCodec) Extend(seqs []event.Sequence, dist [][]float32) ([]int, error) {
	if len(dist) != len(seqs) {
		return nil, fmt.Errorf("valueCodec: %d rows for %d sequences", len(dist), len(seqs))
	}
	chosen := make([]int, len(seqs))
	for i, s := range seqs {
		mel, ok := s.(*event.Melody)
		if !ok {
			return nil, fmt.Errorf("valueCodec: got %T", s)
		}
		best := 0
		for j := 1; j < len(dist[i]); j++ {
			if dist[i][j] > dist[i][best] {
				best = j
			}
		}
		mel.Append(event.Event(best))
		chosen[i] = best
	}
	return chosen, nil
}
