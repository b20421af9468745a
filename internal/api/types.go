// Package api exposes the generation service over HTTP. One POST runs a
// beam search synchronously and records the outcome; records are held in
// memory for the lifetime of the process.
package api

// GenerationRequest is the request body of POST /v1/generations.
type GenerationRequest struct {
	// Primer is the seed sequence as raw event values: -2 for no-event, -1
	// for note-off, 0..127 for note-on pitches.
	Primer []int `json:"primer"`

	// TotalLength is the requested result length, primer included.
	TotalLength int `json:"total_length"`

	Temperature       *float64 `json:"temperature,omitempty"`
	BeamSize          *int     `json:"beam_size,omitempty"`
	BranchFactor      *int     `json:"branch_factor,omitempty"`
	StepsPerIteration *int     `json:"steps_per_iteration,omitempty"`
}

// GenerationParams echoes the search parameters a generation ran with.
type GenerationParams struct {
	Temperature       float64 `json:"temperature"`
	BeamSize          int     `json:"beam_size"`
	BranchFactor      int     `json:"branch_factor"`
	StepsPerIteration int     `json:"steps_per_iteration"`
}

// GenerationResponse is one completed generation record.
type GenerationResponse struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
	Model     string `json:"model,omitempty"`

	// Events is the full result sequence, primer prefix included.
	Events []int `json:"events"`

	LogLikelihood float64          `json:"log_likelihood"`
	Steps         int              `json:"steps"`
	DurationMS    int64            `json:"duration_ms"`
	Params        GenerationParams `json:"params"`
}

// ErrorBody is the error envelope every failing endpoint returns.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
