package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/cantus/internal/beam"
	"github.com/samcharles93/cantus/internal/event"
	"github.com/samcharles93/cantus/internal/generate"
	"github.com/samcharles93/cantus/internal/logger"
)

// GenerationDefaults supplies search parameters for request fields the
// client leaves unset.
type GenerationDefaults struct {
	Temperature       float64
	BeamSize          int
	BranchFactor      int
	StepsPerIteration int
}

// GenerationService turns API requests into beam searches. Generation is
// synchronous; Timeout bounds how long a request may hold its connection.
// The search itself is not cancellable, so a timed-out search is abandoned
// to finish in the background while the client gets the deadline error.
type GenerationService struct {
	gen       *generate.Generator
	modelName string
	defaults  GenerationDefaults
	timeout   time.Duration
	clock     func() time.Time
}

func NewGenerationService(gen *generate.Generator, modelName string, defaults GenerationDefaults, timeout time.Duration) *GenerationService {
	if defaults.Temperature <= 0 {
		defaults.Temperature = generate.DefaultTemperature
	}
	if defaults.BeamSize < 1 {
		defaults.BeamSize = generate.DefaultBeamSize
	}
	if defaults.BranchFactor < 1 {
		defaults.BranchFactor = generate.DefaultBranchFactor
	}
	if defaults.StepsPerIteration < 1 {
		defaults.StepsPerIteration = generate.DefaultStepsPerIteration
	}
	return &GenerationService{
		gen:       gen,
		modelName: modelName,
		defaults:  defaults,
		timeout:   timeout,
		clock:     time.Now,
	}
}

// Create runs one generation and builds its record. Validation failures
// unwrap to ErrInvalidRequest; a deadline hit surfaces as the context error.
func (s *GenerationService) Create(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	primer, err := primerFromValues(req.Primer)
	if err != nil {
		return nil, newInvalidRequest(err.Error())
	}

	genReq := generate.Request{
		Primer:            primer,
		TotalLength:       req.TotalLength,
		Temperature:       s.defaults.Temperature,
		BeamSize:          s.defaults.BeamSize,
		BranchFactor:      s.defaults.BranchFactor,
		StepsPerIteration: s.defaults.StepsPerIteration,
	}
	if req.Temperature != nil {
		genReq.Temperature = *req.Temperature
	}
	if req.BeamSize != nil {
		genReq.BeamSize = *req.BeamSize
	}
	if req.BranchFactor != nil {
		genReq.BranchFactor = *req.BranchFactor
	}
	if req.StepsPerIteration != nil {
		genReq.StepsPerIteration = *req.StepsPerIteration
	}

	logger.FromContext(ctx).Debug("generation request",
		"total_length", genReq.TotalLength,
		"beam_size", genReq.BeamSize,
		"branch_factor", genReq.BranchFactor,
		"steps_per_iteration", genReq.StepsPerIteration,
		"temperature", genReq.Temperature,
	)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	type outcome struct {
		res *generate.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.gen.Generate(genReq)
		done <- outcome{res: res, err: err}
	}()

	var res *generate.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil {
			if isRequestError(out.err) {
				return nil, newInvalidRequest(out.err.Error())
			}
			return nil, out.err
		}
		res = out.res
	}

	mel, ok := res.Sequence.(*event.Melody)
	if !ok {
		return nil, fmt.Errorf("api: unexpected sequence type %T", res.Sequence)
	}
	events := mel.Events()
	values := make([]int, len(events))
	for i, e := range events {
		values[i] = int(e)
	}

	return &GenerationResponse{
		ID:            newGenerationID(),
		Object:        "generation",
		CreatedAt:     s.clock().Unix(),
		Model:         s.modelName,
		Events:        values,
		LogLikelihood: res.LogLik,
		Steps:         res.Steps,
		DurationMS:    res.Duration.Milliseconds(),
		Params: GenerationParams{
			Temperature:       genReq.Temperature,
			BeamSize:          genReq.BeamSize,
			BranchFactor:      genReq.BranchFactor,
			StepsPerIteration: genReq.StepsPerIteration,
		},
	}, nil
}

func primerFromValues(values []int) (*event.Melody, error) {
	m := make(event.Melody, 0, len(values))
	for i, v := range values {
		e := event.Event(v)
		if !e.Valid() {
			return nil, fmt.Errorf("primer event %d at index %d is out of range", v, i)
		}
		m = append(m, e)
	}
	return &m, nil
}

// isRequestError reports whether err is the caller's fault rather than a
// model or server failure.
func isRequestError(err error) bool {
	return errors.Is(err, generate.ErrEmptyPrimer) ||
		errors.Is(err, generate.ErrPrimerTooLong) ||
		errors.Is(err, beam.ErrConfig)
}
