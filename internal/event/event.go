// Package event defines the discrete event domain the generator operates on:
// monophonic melodies encoded as one event per step.
package event

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Event is a single melody step: a note-on pitch in [0, 127] or one of the
// special events below.
type Event int16

const (
	// NoEvent sustains the current note or rest for one step.
	NoEvent Event = -2
	// NoteOff releases the sounding note, leaving a rest.
	NoteOff Event = -1

	// MinPitch and MaxPitch bound the MIDI note range.
	MinPitch Event = 0
	MaxPitch Event = 127
)

// Valid reports whether e is a representable melody event.
func (e Event) Valid() bool {
	return e >= NoEvent && e <= MaxPitch
}

func (e Event) String() string {
	switch e {
	case NoEvent:
		return "-"
	case NoteOff:
		return "off"
	default:
		return strconv.Itoa(int(e))
	}
}

// Sequence is the handle the beam search core holds on a candidate's event
// sequence. The core treats it as opaque beyond length and deep copy; codecs
// know the concrete type. Clone must copy deeply: after branching, no two
// candidates may share a mutable sequence.
type Sequence interface {
	Len() int
	Clone() Sequence
}

// Melody is a mutable ordered run of melody events. It grows in place one
// event per generation step.
type Melody []Event

// NewMelody copies events into a fresh melody.
func NewMelody(events ...Event) *Melody {
	m := make(Melody, len(events))
	copy(m, events)
	return &m
}

func (m *Melody) Len() int { return len(*m) }

// Clone returns an independent deep copy.
func (m *Melody) Clone() Sequence {
	c := slices.Clone(*m)
	return &c
}

// Append extends the melody by one event in place.
func (m *Melody) Append(e Event) {
	*m = append(*m, e)
}

// At returns the event at step i.
func (m *Melody) At(i int) Event { return (*m)[i] }

// Last returns the most recently appended event. It panics on an empty
// melody; generation never queries last-event inputs before priming.
func (m *Melody) Last() Event { return (*m)[len(*m)-1] }

// Events returns a copy of the underlying events for callers that format or
// serialize the melody.
func (m *Melody) Events() []Event {
	return slices.Clone(*m)
}

// String renders the melody as comma-separated event values, e.g. "60,-2,62".
func (m *Melody) String() string {
	var b strings.Builder
	for i, e := range *m {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(e)))
	}
	return b.String()
}

// ParseMelody parses a comma-separated list of event values. -2 is NoEvent,
// -1 is NoteOff, 0..127 are note-on pitches. Whitespace around values is
// ignored.
func ParseMelody(s string) (*Melody, error) {
	if strings.TrimSpace(s) == "" {
		return &Melody{}, nil
	}
	parts := strings.Split(s, ",")
	m := make(Melody, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parse melody event %q: %w", p, err)
		}
		e := Event(v)
		if !e.Valid() {
			return nil, fmt.Errorf("melody event %d out of range [%d, %d]", v, NoEvent, MaxPitch)
		}
		m = append(m, e)
	}
	return &m, nil
}
