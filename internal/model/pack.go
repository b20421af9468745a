package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samcharles93/cantus/internal/safetensors"
	"github.com/samcharles93/cantus/internal/tensor"
	"github.com/samcharles93/cantus/pkg/ccf"
)

const weightDataVersion uint32 = 1

// PackOptions drives a safetensors-to-CCF conversion.
type PackOptions struct {
	// Checkpoint is the .safetensors file holding the trained weights.
	Checkpoint string

	// OutputPath is the .ccf file to create.
	OutputPath string

	// Name overrides the stored model name. Defaults to the checkpoint
	// file name without extension.
	Name string

	// Codec describes the event codec the model was trained against.
	Codec ccf.CodecInfo

	// BatchSize is the batch width stored in the container. Zero leaves the
	// choice to the runtime.
	BatchSize int

	// WeightAlign is the per-weight alignment inside the data section.
	// Zero selects 64.
	WeightAlign int
}

// Pack converts a safetensors checkpoint into a CCF container. Weights are
// normalised to f32 on the way through; unknown tensors in the checkpoint are
// ignored. The checkpoint is fully validated (via NewGRU) before any output
// is written.
func Pack(opts PackOptions) error {
	if opts.Checkpoint == "" {
		return errors.New("model: pack: Checkpoint required")
	}
	if opts.OutputPath == "" {
		return errors.New("model: pack: OutputPath required")
	}
	if opts.WeightAlign == 0 {
		opts.WeightAlign = 64
	}
	if opts.Name == "" {
		opts.Name = strings.TrimSuffix(filepath.Base(opts.Checkpoint), filepath.Ext(opts.Checkpoint))
	}

	st, err := safetensors.Open(opts.Checkpoint)
	if err != nil {
		return fmt.Errorf("model: pack: %w", err)
	}

	// Load and validate everything up-front so a broken checkpoint never
	// produces a partial container.
	values := make(map[string][]float32)
	shapes := make(map[string][]int)
	for _, name := range requiredWeights() {
		data, info, err := st.ReadTensorF32(name)
		if err != nil {
			return fmt.Errorf("model: pack: tensor %q: %w", name, err)
		}
		values[name] = data
		shapes[name] = info.Shape
	}
	if _, ok := st.Tensor(weightInitState); ok {
		data, info, err := st.ReadTensorF32(weightInitState)
		if err != nil {
			return fmt.Errorf("model: pack: tensor %q: %w", weightInitState, err)
		}
		values[weightInitState] = data
		shapes[weightInitState] = info.Shape
	}

	cfg, w, err := assembleWeights(opts.Name, opts.BatchSize, values, shapes)
	if err != nil {
		return err
	}
	if _, err := NewGRU(cfg, w); err != nil {
		return err
	}

	ci := opts.Codec
	if ci.Kind == "" {
		return errors.New("model: pack: codec kind required")
	}
	if ci.Kind == ccf.CodecMelodyOneHot {
		if classes := ci.MaxNote - ci.MinNote + 2; classes != cfg.NumClasses {
			return fmt.Errorf("%w: codec encodes %d classes, checkpoint has %d",
				ErrModelCodecMismatch, classes, cfg.NumClasses)
		}
	}

	mi := &ccf.ModelInfo{
		Name:       cfg.Name,
		Arch:       ccf.ArchGRU,
		InputWidth: uint32(cfg.InputWidth),
		HiddenSize: uint32(cfg.HiddenSize),
		NumClasses: uint32(cfg.NumClasses),
		BatchSize:  uint32(opts.BatchSize),
	}
	miBytes, err := ccf.EncodeModelInfo(mi)
	if err != nil {
		return err
	}
	ciBytes, err := ccf.EncodeCodecInfo(&ci)
	if err != nil {
		return err
	}

	outF, err := os.Create(opts.OutputPath)
	if err != nil {
		return err
	}
	defer func() { _ = outF.Close() }()

	cw, err := ccf.NewWriter(outF)
	if err != nil {
		return err
	}
	if err := cw.WriteSection(ccf.SectionModelInfo, ccf.ModelInfoVersion, miBytes); err != nil {
		return err
	}
	if err := cw.WriteSection(ccf.SectionCodecInfo, ccf.CodecInfoVersion, ciBytes); err != nil {
		return err
	}

	wd, err := cw.BeginSection(ccf.SectionWeightData, weightDataVersion)
	if err != nil {
		return err
	}

	if opts.WeightAlign == 64 {
		_ = cw.AddFlags(ccf.FlagWeightDataAligned64)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	// Deterministic payload order.
	sort.Strings(names)

	recs := make([]ccf.WeightRecord, 0, len(names))
	for _, name := range names {
		if opts.WeightAlign > 1 {
			if err := wd.Align(opts.WeightAlign); err != nil {
				return err
			}
		}
		off, err := wd.CurrentAbsOffset()
		if err != nil {
			return err
		}

		raw := encodeF32(values[name])
		if _, err := wd.Write(raw); err != nil {
			return err
		}

		shape := make([]uint64, len(shapes[name]))
		for i, d := range shapes[name] {
			shape[i] = uint64(d)
		}
		recs = append(recs, ccf.WeightRecord{
			Name:     name,
			DType:    ccf.DTypeF32,
			Shape:    shape,
			DataOff:  off,
			DataSize: uint64(len(raw)),
		})
	}
	if err := wd.End(); err != nil {
		return err
	}

	idxBytes, err := ccf.EncodeWeightIndex(recs)
	if err != nil {
		return err
	}
	if err := cw.WriteSection(ccf.SectionWeightIndex, ccf.WeightIndexVersion, idxBytes); err != nil {
		return err
	}

	return cw.Finalise()
}

func requiredWeights() []string {
	return []string{
		weightWz, weightUz, weightBz,
		weightWr, weightUr, weightBr,
		weightWc, weightUc, weightBc,
		weightProjW, weightProjB,
	}
}

// assembleWeights derives the model dimensions from the checkpoint shapes
// and wraps the raw values. NewGRU performs the full cross-validation.
func assembleWeights(name string, batchSize int, values map[string][]float32, shapes map[string][]int) (Config, Weights, error) {
	dims2 := func(n string) (int, int, error) {
		s := shapes[n]
		if len(s) != 2 {
			return 0, 0, fmt.Errorf("%w: %s has rank %d, want 2", ErrBadWeights, n, len(s))
		}
		return s[0], s[1], nil
	}

	h, in, err := dims2(weightWz)
	if err != nil {
		return Config{}, Weights{}, err
	}
	cl, _, err := dims2(weightProjW)
	if err != nil {
		return Config{}, Weights{}, err
	}

	cfg := Config{
		Name:       name,
		InputWidth: in,
		HiddenSize: h,
		NumClasses: cl,
		BatchSize:  batchSize,
	}

	mat := func(n string, r, c int) (tensor.Mat, error) {
		if len(values[n]) != r*c {
			return tensor.Mat{}, fmt.Errorf("%w: %s has %d elements, want %d", ErrBadWeights, n, len(values[n]), r*c)
		}
		return tensor.NewMatFromData(r, c, values[n]), nil
	}

	var w Weights
	if w.Wz, err = mat(weightWz, h, in); err != nil {
		return Config{}, Weights{}, err
	}
	if w.Uz, err = mat(weightUz, h, h); err != nil {
		return Config{}, Weights{}, err
	}
	if w.Wr, err = mat(weightWr, h, in); err != nil {
		return Config{}, Weights{}, err
	}
	if w.Ur, err = mat(weightUr, h, h); err != nil {
		return Config{}, Weights{}, err
	}
	if w.Wc, err = mat(weightWc, h, in); err != nil {
		return Config{}, Weights{}, err
	}
	if w.Uc, err = mat(weightUc, h, h); err != nil {
		return Config{}, Weights{}, err
	}
	if w.ProjW, err = mat(weightProjW, cl, h); err != nil {
		return Config{}, Weights{}, err
	}
	w.Bz = values[weightBz]
	w.Br = values[weightBr]
	w.Bc = values[weightBc]
	w.ProjB = values[weightProjB]
	w.InitState = values[weightInitState]

	return cfg, w, nil
}

func encodeF32(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
