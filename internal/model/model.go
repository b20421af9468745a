// Package model implements the gated recurrent step model that scores melody
// continuations, and the loader and packer for its container files.
package model

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/samcharles93/cantus/internal/tensor"
)

// DefaultBatchSize is used when neither the container nor the caller fixes a
// batch width.
const DefaultBatchSize = 8

var (
	ErrBatchSize  = errors.New("model: batch width mismatch")
	ErrInputShape = errors.New("model: input row shape mismatch")
	ErrStateShape = errors.New("model: state shape mismatch")
	ErrBadConfig  = errors.New("model: invalid config")
	ErrBadWeights = errors.New("model: weight shape mismatch")
)

// Config fixes the dimensions of a GRU step model.
type Config struct {
	Name       string
	InputWidth int
	HiddenSize int
	NumClasses int

	// BatchSize is the exact number of rows every Step call must carry.
	// Zero selects DefaultBatchSize.
	BatchSize int
}

// Weights holds the dense parameters of a single-layer GRU with a projection
// head. Gate matrices W* are [hidden x input], recurrence matrices U* are
// [hidden x hidden], the projection is [classes x hidden].
type Weights struct {
	Wz, Uz tensor.Mat
	Wr, Ur tensor.Mat
	Wc, Uc tensor.Mat
	Bz, Br, Bc []float32

	ProjW tensor.Mat
	ProjB []float32

	// InitState optionally seeds the recurrent state; nil means zeros.
	InitState []float32
}

// GRU is a fixed-batch step model. One Step consumes a batch of states and
// encoded input rows and produces successor states plus a probability
// distribution over the class space per row. Each input row may carry
// several encoded timesteps; the distribution always reflects the final one.
type GRU struct {
	name    string
	in      int
	hidden  int
	classes int
	batch   int

	w Weights
}

// NewGRU validates the configuration and weight shapes.
func NewGRU(cfg Config, w Weights) (*GRU, error) {
	if cfg.InputWidth <= 0 || cfg.HiddenSize <= 0 || cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("%w: dims %dx%dx%d", ErrBadConfig, cfg.InputWidth, cfg.HiddenSize, cfg.NumClasses)
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("%w: batch size %d", ErrBadConfig, cfg.BatchSize)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	h, in, cl := cfg.HiddenSize, cfg.InputWidth, cfg.NumClasses
	for _, m := range []struct {
		name string
		mat  *tensor.Mat
		r, c int
	}{
		{"gru.wz", &w.Wz, h, in},
		{"gru.uz", &w.Uz, h, h},
		{"gru.wr", &w.Wr, h, in},
		{"gru.ur", &w.Ur, h, h},
		{"gru.wc", &w.Wc, h, in},
		{"gru.uc", &w.Uc, h, h},
		{"proj.w", &w.ProjW, cl, h},
	} {
		if m.mat.R != m.r || m.mat.C != m.c {
			return nil, fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrBadWeights, m.name, m.mat.R, m.mat.C, m.r, m.c)
		}
	}
	for _, v := range []struct {
		name string
		vec  []float32
		n    int
	}{
		{"gru.bz", w.Bz, h},
		{"gru.br", w.Br, h},
		{"gru.bc", w.Bc, h},
		{"proj.b", w.ProjB, cl},
	} {
		if len(v.vec) != v.n {
			return nil, fmt.Errorf("%w: %s has %d elements, want %d", ErrBadWeights, v.name, len(v.vec), v.n)
		}
	}
	if w.InitState != nil && len(w.InitState) != h {
		return nil, fmt.Errorf("%w: state.init has %d elements, want %d", ErrBadWeights, len(w.InitState), h)
	}

	return &GRU{
		name:    cfg.Name,
		in:      in,
		hidden:  h,
		classes: cl,
		batch:   cfg.BatchSize,
		w:       w,
	}, nil
}

func (m *GRU) Name() string    { return m.name }
func (m *GRU) InputWidth() int { return m.in }
func (m *GRU) HiddenSize() int { return m.hidden }
func (m *GRU) NumClasses() int { return m.classes }

// BatchSize returns the exact row count every Step call must carry.
func (m *GRU) BatchSize() int { return m.batch }

// InitialState returns a fresh recurrent state for one sequence.
func (m *GRU) InitialState() []float32 {
	s := make([]float32, m.hidden)
	copy(s, m.w.InitState)
	return s
}

// Step advances every row of the batch by the timesteps encoded in its input
// row and returns successor states and class distributions. The batch width
// must equal BatchSize exactly; rows may carry multiple timesteps but all
// rows must carry the same number. Temperature scales the final logits;
// values <= 0 fall back to 1.
func (m *GRU) Step(states, inputs [][]float32, temperature float64) ([][]float32, [][]float32, error) {
	if len(states) != m.batch || len(inputs) != m.batch {
		return nil, nil, fmt.Errorf("%w: got %d states, %d inputs, want %d",
			ErrBatchSize, len(states), len(inputs), m.batch)
	}

	steps := -1
	for i := range inputs {
		if len(states[i]) != m.hidden {
			return nil, nil, fmt.Errorf("%w: row %d has %d values, want %d",
				ErrStateShape, i, len(states[i]), m.hidden)
		}
		n := len(inputs[i])
		if n == 0 || n%m.in != 0 {
			return nil, nil, fmt.Errorf("%w: row %d has %d values, want a multiple of %d",
				ErrInputShape, i, n, m.in)
		}
		if steps == -1 {
			steps = n / m.in
		} else if n/m.in != steps {
			return nil, nil, fmt.Errorf("%w: row %d has %d timesteps, want %d",
				ErrInputShape, i, n/m.in, steps)
		}
	}

	invTemp := float32(1)
	if temperature > 0 {
		invTemp = float32(1 / temperature)
	}

	next := make([][]float32, m.batch)
	dist := make([][]float32, m.batch)
	for i := range next {
		next[i] = make([]float32, m.hidden)
		dist[i] = make([]float32, m.classes)
	}

	pool := getStepPool()
	workers := min(pool.size, m.batch)
	if workers <= 1 {
		m.stepRange(states, inputs, next, dist, invTemp, 0, m.batch)
		return next, dist, nil
	}

	chunk := (m.batch + workers - 1) / workers
	done := <-pool.doneSlots

	active := 0
	for i := 0; i < workers; i++ {
		rs := i * chunk
		re := min(rs+chunk, m.batch)
		if rs >= re {
			break
		}
		active++
		pool.tasks <- stepTask{
			m:       m,
			states:  states,
			inputs:  inputs,
			next:    next,
			dist:    dist,
			invTemp: invTemp,
			rs:      rs,
			re:      re,
			done:    done,
		}
	}
	for i := 0; i < active; i++ {
		<-done
	}
	pool.doneSlots <- done

	return next, dist, nil
}

// stepRange advances rows [rs, re) serially.
func (m *GRU) stepRange(states, inputs, next, dist [][]float32, invTemp float32, rs, re int) {
	h := m.hidden
	z := make([]float32, h)
	r := make([]float32, h)
	c := make([]float32, h)
	rh := make([]float32, h)
	tmp := make([]float32, h)

	for row := rs; row < re; row++ {
		state := next[row]
		copy(state, states[row])

		in := inputs[row]
		steps := len(in) / m.in
		for t := 0; t < steps; t++ {
			x := in[t*m.in : (t+1)*m.in]

			// Update gate.
			tensor.MatVec(z, &m.w.Wz, x)
			tensor.MatVec(tmp, &m.w.Uz, state)
			tensor.Add(z, tmp)
			tensor.Add(z, m.w.Bz)
			for i := range z {
				z[i] = tensor.Sigmoid(z[i])
			}

			// Reset gate.
			tensor.MatVec(r, &m.w.Wr, x)
			tensor.MatVec(tmp, &m.w.Ur, state)
			tensor.Add(r, tmp)
			tensor.Add(r, m.w.Br)
			for i := range r {
				r[i] = tensor.Sigmoid(r[i])
			}

			// Candidate state over the reset-gated history.
			for i := range rh {
				rh[i] = r[i] * state[i]
			}
			tensor.MatVec(c, &m.w.Wc, x)
			tensor.MatVec(tmp, &m.w.Uc, rh)
			tensor.Add(c, tmp)
			tensor.Add(c, m.w.Bc)
			for i := range c {
				c[i] = tensor.Tanh(c[i])
			}

			for i := range state {
				state[i] = (1-z[i])*state[i] + z[i]*c[i]
			}
		}

		// Distribution from the final timestep only.
		out := dist[row]
		tensor.MatVec(out, &m.w.ProjW, state)
		tensor.Add(out, m.w.ProjB)
		for i := range out {
			out[i] *= invTemp
		}
		tensor.Softmax(out)
	}
}

type stepTask struct {
	m              *GRU
	states, inputs [][]float32
	next, dist     [][]float32
	invTemp        float32
	rs, re         int
	done           chan struct{}
}

type stepPool struct {
	size      int
	tasks     chan stepTask
	doneSlots chan chan struct{}
}

var (
	stepWorkPool *stepPool
	stepPoolOnce sync.Once
)

func getStepPool() *stepPool {
	stepPoolOnce.Do(func() {
		stepWorkPool = newStepPool()
	})
	return stepWorkPool
}

func newStepPool() *stepPool {
	size := max(runtime.GOMAXPROCS(0), 1)
	p := &stepPool{
		size:      size,
		tasks:     make(chan stepTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan struct{}, 1)
	}
	for i := 0; i < size; i++ {
		go func() {
			for task := range p.tasks {
				task.m.stepRange(task.states, task.inputs, task.next, task.dist, task.invTemp, task.rs, task.re)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}
