package model

import (
	"errors"
	"fmt"

	"github.com/samcharles93/cantus/internal/tensor"
	"github.com/samcharles93/cantus/pkg/ccf"
)

var (
	ErrUnsupportedArch    = errors.New("model: unsupported architecture")
	ErrModelCodecMismatch = errors.New("model: codec class count disagrees with model dims")
)

// Weight names inside a container. The packer writes them and the loader
// requires them; safetensors checkpoints use the same names.
const (
	weightWz = "gru.wz"
	weightUz = "gru.uz"
	weightBz = "gru.bz"
	weightWr = "gru.wr"
	weightUr = "gru.ur"
	weightBr = "gru.br"
	weightWc = "gru.wc"
	weightUc = "gru.uc"
	weightBc = "gru.bc"

	weightProjW = "proj.w"
	weightProjB = "proj.b"

	// weightInitState is optional; absent means a zero initial state.
	weightInitState = "state.init"
)

// LoadOptions adjusts how a container is instantiated.
type LoadOptions struct {
	// BatchSize overrides the container's stored batch width when > 0.
	BatchSize int
}

// Loaded bundles everything a container provides.
type Loaded struct {
	GRU   *GRU
	Info  *ccf.ModelInfo
	Codec *ccf.CodecInfo
}

// LoadFile opens a CCF container, copies its weights into a ready GRU, and
// releases the mapping before returning.
func LoadFile(path string, opts LoadOptions) (*Loaded, error) {
	f, err := ccf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return load(f, opts)
}

func load(f *ccf.File, opts LoadOptions) (*Loaded, error) {
	sec := f.Section(ccf.SectionModelInfo)
	if sec == nil {
		return nil, fmt.Errorf("%w: model info", ccf.ErrSectionMissing)
	}
	mi, err := ccf.ParseModelInfo(f.SectionData(sec))
	if err != nil {
		return nil, err
	}
	if mi.Arch != ccf.ArchGRU {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedArch, mi.Arch)
	}

	csec := f.Section(ccf.SectionCodecInfo)
	if csec == nil {
		return nil, fmt.Errorf("%w: codec info", ccf.ErrSectionMissing)
	}
	ci, err := ccf.ParseCodecInfo(f.SectionData(csec))
	if err != nil {
		return nil, err
	}
	if ci.Kind == ccf.CodecMelodyOneHot {
		classes := ci.MaxNote - ci.MinNote + 2
		if classes != int(mi.NumClasses) {
			return nil, fmt.Errorf("%w: codec encodes %d classes, model has %d",
				ErrModelCodecMismatch, classes, mi.NumClasses)
		}
	}

	wsec := f.Section(ccf.SectionWeightIndex)
	if wsec == nil {
		return nil, fmt.Errorf("%w: weight index", ccf.ErrSectionMissing)
	}
	wi, err := ccf.ParseWeightIndex(f.SectionData(wsec))
	if err != nil {
		return nil, err
	}

	h, in, cl := int(mi.HiddenSize), int(mi.InputWidth), int(mi.NumClasses)

	mat := func(name string, r, c int) (tensor.Mat, error) {
		rec, ok := wi.Find(name)
		if !ok {
			return tensor.Mat{}, fmt.Errorf("%w: weight %q", ccf.ErrSectionMissing, name)
		}
		if len(rec.Shape) != 2 || rec.Shape[0] != uint64(r) || rec.Shape[1] != uint64(c) {
			return tensor.Mat{}, fmt.Errorf("%w: %s shape %v, want [%d %d]", ErrBadWeights, name, rec.Shape, r, c)
		}
		data, err := wi.Float32s(f, name)
		if err != nil {
			return tensor.Mat{}, err
		}
		return tensor.NewMatFromData(r, c, data), nil
	}
	vec := func(name string, n int) ([]float32, error) {
		rec, ok := wi.Find(name)
		if !ok {
			return nil, fmt.Errorf("%w: weight %q", ccf.ErrSectionMissing, name)
		}
		if len(rec.Shape) != 1 || rec.Shape[0] != uint64(n) {
			return nil, fmt.Errorf("%w: %s shape %v, want [%d]", ErrBadWeights, name, rec.Shape, n)
		}
		return wi.Float32s(f, name)
	}

	var w Weights
	if w.Wz, err = mat(weightWz, h, in); err != nil {
		return nil, err
	}
	if w.Uz, err = mat(weightUz, h, h); err != nil {
		return nil, err
	}
	if w.Bz, err = vec(weightBz, h); err != nil {
		return nil, err
	}
	if w.Wr, err = mat(weightWr, h, in); err != nil {
		return nil, err
	}
	if w.Ur, err = mat(weightUr, h, h); err != nil {
		return nil, err
	}
	if w.Br, err = vec(weightBr, h); err != nil {
		return nil, err
	}
	if w.Wc, err = mat(weightWc, h, in); err != nil {
		return nil, err
	}
	if w.Uc, err = mat(weightUc, h, h); err != nil {
		return nil, err
	}
	if w.Bc, err = vec(weightBc, h); err != nil {
		return nil, err
	}
	if w.ProjW, err = mat(weightProjW, cl, h); err != nil {
		return nil, err
	}
	if w.ProjB, err = vec(weightProjB, cl); err != nil {
		return nil, err
	}
	if _, ok := wi.Find(weightInitState); ok {
		if w.InitState, err = vec(weightInitState, h); err != nil {
			return nil, err
		}
	}

	batch := int(mi.BatchSize)
	if opts.BatchSize > 0 {
		batch = opts.BatchSize
	}

	gru, err := NewGRU(Config{
		Name:       mi.Name,
		InputWidth: in,
		HiddenSize: h,
		NumClasses: cl,
		BatchSize:  batch,
	}, w)
	if err != nil {
		return nil, err
	}

	return &Loaded{GRU: gru, Info: mi, Codec: ci}, nil
}
