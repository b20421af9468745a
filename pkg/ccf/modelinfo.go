package ccf

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Metadata sections are small, so they are stored as JSON payloads rather
// than packed structs. Weight payloads stay raw so they can be sliced
// straight out of the mapping.

const (
	ModelInfoVersion uint32 = 1
	CodecInfoVersion uint32 = 1
)

// ModelArch identifies the step-model architecture stored in a container.
type ModelArch string

const ArchGRU ModelArch = "gru"

// ModelInfo describes the step model a container carries.
type ModelInfo struct {
	Name       string    `json:"name"`
	Arch       ModelArch `json:"arch"`
	InputWidth uint32    `json:"input_width"`
	HiddenSize uint32    `json:"hidden_size"`
	NumClasses uint32    `json:"num_classes"`

	// BatchSize is the batch width the model enforces at step time. Zero
	// leaves the choice to the runtime.
	BatchSize uint32 `json:"batch_size,omitempty"`

	Extras map[string]string `json:"extras,omitempty"`
}

// CodecInfo describes the event codec the model was trained against.
type CodecInfo struct {
	Kind    string `json:"kind"`
	MinNote int    `json:"min_note"`
	MaxNote int    `json:"max_note"`
}

// CodecMelodyOneHot is the codec kind for one-hot monophonic melodies.
const CodecMelodyOneHot = "melody_onehot"

func EncodeModelInfo(mi *ModelInfo) ([]byte, error) {
	if mi == nil {
		return nil, errors.New("ccf: nil ModelInfo")
	}
	if err := validateModelInfo(mi); err != nil {
		return nil, err
	}
	return json.Marshal(mi)
}

func ParseModelInfo(data []byte) (*ModelInfo, error) {
	var mi ModelInfo
	if err := json.Unmarshal(data, &mi); err != nil {
		return nil, fmt.Errorf("%w: model info: %v", ErrCorruptFile, err)
	}
	if err := validateModelInfo(&mi); err != nil {
		return nil, err
	}
	return &mi, nil
}

func validateModelInfo(mi *ModelInfo) error {
	if mi.Arch == "" {
		return fmt.Errorf("%w: model info missing arch", ErrCorruptFile)
	}
	if mi.InputWidth == 0 || mi.HiddenSize == 0 || mi.NumClasses == 0 {
		return fmt.Errorf("%w: model info has zero dimension", ErrCorruptFile)
	}
	return nil
}

func EncodeCodecInfo(ci *CodecInfo) ([]byte, error) {
	if ci == nil {
		return nil, errors.New("ccf: nil CodecInfo")
	}
	if err := validateCodecInfo(ci); err != nil {
		return nil, err
	}
	return json.Marshal(ci)
}

func ParseCodecInfo(data []byte) (*CodecInfo, error) {
	var ci CodecInfo
	if err := json.Unmarshal(data, &ci); err != nil {
		return nil, fmt.Errorf("%w: codec info: %v", ErrCorruptFile, err)
	}
	if err := validateCodecInfo(&ci); err != nil {
		return nil, err
	}
	return &ci, nil
}

func validateCodecInfo(ci *CodecInfo) error {
	if ci.Kind == "" {
		return fmt.Errorf("%w: codec info missing kind", ErrCorruptFile)
	}
	if ci.MinNote > ci.MaxNote {
		return fmt.Errorf("%w: codec note range [%d, %d]", ErrCorruptFile, ci.MinNote, ci.MaxNote)
	}
	return nil
}
