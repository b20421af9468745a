// Package codec translates between melody event sequences and the model's
// one-hot vector space. Events map onto a contiguous class range: class 0 is
// the no-event marker, class 1 is note-off, and classes 2..N+1 cover the
// pitches between MinNote and MaxNote inclusive.
package codec

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/samcharles93/cantus/internal/event"
)

// Default note bounds. Three octaves around middle C covers most melodic
// material without inflating the class count.
const (
	DefaultMinNote = 48
	DefaultMaxNote = 84
)

const numSpecialClasses = 2

var (
	ErrNoteRange     = errors.New("codec: invalid note range")
	ErrEventRange    = errors.New("codec: event outside encodable range")
	ErrClassRange    = errors.New("codec: class index out of range")
	ErrEmptySequence = errors.New("codec: empty sequence")
	ErrSequenceType  = errors.New("codec: unsupported sequence type")
	ErrDistShape     = errors.New("codec: distribution shape mismatch")
)

// Config configures a OneHot codec. Temperature handling lives in the step
// model; the codec only decides how a distribution is turned into an event.
type Config struct {
	MinNote int
	MaxNote int
	Seed    int64
	Greedy  bool
}

// OneHot is a melody codec over a fixed pitch range. It draws events from
// model distributions with a private RNG, so two codecs built with the same
// seed produce identical event streams for identical distributions.
type OneHot struct {
	minNote int
	maxNote int
	rng     *rand.Rand
	greedy  bool
}

// NewOneHot returns a codec for the configured pitch range.
func NewOneHot(cfg Config) (*OneHot, error) {
	if cfg.MinNote < int(event.MinPitch) || cfg.MaxNote > int(event.MaxPitch) || cfg.MinNote > cfg.MaxNote {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrNoteRange, cfg.MinNote, cfg.MaxNote)
	}
	return &OneHot{
		minNote: cfg.MinNote,
		maxNote: cfg.MaxNote,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		greedy:  cfg.Greedy,
	}, nil
}

// NumClasses returns the size of the codec's class space, which is also the
// width of one encoded timestep.
func (c *OneHot) NumClasses() int {
	return c.maxNote - c.minNote + numSpecialClasses
}

// EncodeEvent maps an event to its class index.
func (c *OneHot) EncodeEvent(e event.Event) (int, error) {
	switch {
	case e == event.NoEvent:
		return 0, nil
	case e == event.NoteOff:
		return 1, nil
	case int(e) >= c.minNote && int(e) <= c.maxNote:
		return int(e) - c.minNote + numSpecialClasses, nil
	default:
		return 0, fmt.Errorf("%w: event %d not in [%d, %d]", ErrEventRange, e, c.minNote, c.maxNote)
	}
}

// DecodeClass maps a class index back to its event.
func (c *OneHot) DecodeClass(class int) (event.Event, error) {
	switch {
	case class == 0:
		return event.NoEvent, nil
	case class == 1:
		return event.NoteOff, nil
	case class >= numSpecialClasses && class < c.NumClasses():
		return event.Event(class - numSpecialClasses + c.minNote), nil
	default:
		return 0, fmt.Errorf("%w: class %d of %d", ErrClassRange, class, c.NumClasses())
	}
}

// Inputs encodes one model-input row per sequence. With fullLength set the
// row covers every event in the sequence, one one-hot block per timestep;
// otherwise only the latest event is encoded. All sequences must have equal
// length so the rows form a rectangular batch.
func (c *OneHot) Inputs(seqs []event.Sequence, fullLength bool) ([][]float32, error) {
	rows := make([][]float32, len(seqs))
	width := c.NumClasses()
	wantLen := -1
	for i, s := range seqs {
		mel, ok := s.(*event.Melody)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrSequenceType, s)
		}
		n := mel.Len()
		if n == 0 {
			return nil, fmt.Errorf("%w: sequence %d", ErrEmptySequence, i)
		}
		if wantLen == -1 {
			wantLen = n
		} else if n != wantLen {
			return nil, fmt.Errorf("codec: ragged batch: sequence %d has %d events, want %d", i, n, wantLen)
		}

		start := n - 1
		if fullLength {
			start = 0
		}
		row := make([]float32, (n-start)*width)
		for t := start; t < n; t++ {
			class, err := c.EncodeEvent(mel.At(t))
			if err != nil {
				return nil, fmt.Errorf("sequence %d, step %d: %w", i, t, err)
			}
			row[(t-start)*width+class] = 1
		}
		rows[i] = row
	}
	return rows, nil
}

// Extend draws one class per sequence from the matching distribution,
// appends the decoded event in place, and returns the chosen class indices.
// Greedy codecs take the argmax; otherwise the class is sampled.
func (c *OneHot) Extend(seqs []event.Sequence, dist [][]float32) ([]int, error) {
	if len(dist) != len(seqs) {
		return nil, fmt.Errorf("%w: %d rows for %d sequences", ErrDistShape, len(dist), len(seqs))
	}
	chosen := make([]int, len(seqs))
	for i, s := range seqs {
		mel, ok := s.(*event.Melody)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrSequenceType, s)
		}
		if len(dist[i]) != c.NumClasses() {
			return nil, fmt.Errorf("%w: row %d has %d classes, want %d", ErrDistShape, i, len(dist[i]), c.NumClasses())
		}

		var class int
		if c.greedy {
			class = argmax(dist[i])
		} else {
			class = c.draw(dist[i])
		}
		e, err := c.DecodeClass(class)
		if err != nil {
			return nil, err
		}
		mel.Append(e)
		chosen[i] = class
	}
	return chosen, nil
}

// draw samples an index from a probability distribution by inverting the
// cumulative sum. Rounding may leave the distribution summing slightly below
// one, so the final index is the fallback.
func (c *OneHot) draw(dist []float32) int {
	r := c.rng.Float64()
	var cum float64
	for i, p := range dist {
		cum += float64(p)
		if r <= cum {
			return i
		}
	}
	return len(dist) - 1
}

// argmax returns the index of the maximum value in the slice. If the slice is empty it panics.
func argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
