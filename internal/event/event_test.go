package event

import "testing"

func TestCloneIsIndependent(t *testing.T) {
	m := NewMelody(60, NoEvent, 62)
	c := m.Clone().(*Melody)

	c.Append(64)
	m.Append(NoteOff)

	if m.Len() != 4 || c.Len() != 4 {
		t.Fatalf("unexpected lengths after divergence: m=%d c=%d", m.Len(), c.Len())
	}
	if m.At(3) != NoteOff {
		t.Fatalf("original melody corrupted: got %d want %d", m.At(3), NoteOff)
	}
	if c.At(3) != 64 {
		t.Fatalf("clone corrupted: got %d want 64", c.At(3))
	}
}

func TestParseMelodyRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		want  []Event
		valid bool
	}{
		{name: "plain-notes", in: "60,62,64", want: []Event{60, 62, 64}, valid: true},
		{name: "specials-and-spaces", in: " 60, -2 ,-1", want: []Event{60, NoEvent, NoteOff}, valid: true},
		{name: "empty", in: "", want: nil, valid: true},
		{name: "out-of-range-high", in: "128", valid: false},
		{name: "out-of-range-low", in: "-3", valid: false},
		{name: "not-a-number", in: "60,x", valid: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := ParseMelody(tc.in)
			if !tc.valid {
				if err == nil {
					t.Fatalf("expected parse error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %q: %v", tc.in, err)
			}
			if m.Len() != len(tc.want) {
				t.Fatalf("length mismatch: got %d want %d", m.Len(), len(tc.want))
			}
			for i, e := range tc.want {
				if m.At(i) != e {
					t.Fatalf("event %d: got %d want %d", i, m.At(i), e)
				}
			}
		})
	}
}

func TestMelodyString(t *testing.T) {
	m := NewMelody(60, NoEvent, NoteOff, 72)
	if got, want := m.String(), "60,-2,-1,72"; got != want {
		t.Fatalf("String: got %q want %q", got, want)
	}
}

func TestEventValid(t *testing.T) {
	for _, e := range []Event{NoEvent, NoteOff, 0, 64, 127} {
		if !e.Valid() {
			t.Fatalf("event %d should be valid", e)
		}
	}
	for _, e := range []Event{-3, 128, 1000} {
		if e.Valid() {
			t.Fatalf("event %d should be invalid", e)
		}
	}
}
