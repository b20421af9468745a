package ccf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// WeightIndexVersion is the on-disk version of the weight index section payload.
const WeightIndexVersion uint32 = 1

// WeightDType identifies the weight element encoding.
// Keep these stable forever; add new values only.
type WeightDType uint32

const (
	DTypeUnknown WeightDType = iota
	DTypeF32
	DTypeF64
)

func (d WeightDType) ElemSize() int {
	switch d {
	case DTypeF32:
		return 4
	case DTypeF64:
		return 8
	default:
		return 0
	}
}

func (d WeightDType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF64:
		return "f64"
	default:
		return "unknown"
	}
}

// WeightRecord describes one named weight.
//
// DataOff is an absolute file offset (from the start of the file), not
// section-relative. This makes slicing payloads out of the mmap trivial.
type WeightRecord struct {
	Name     string
	DType    WeightDType
	Shape    []uint64
	DataOff  uint64
	DataSize uint64
}

// Elems returns the element count implied by the shape.
func (r *WeightRecord) Elems() uint64 {
	var n uint64 = 1
	for _, d := range r.Shape {
		n *= d
	}
	return n
}

// WeightIndex is a parsed weight index section.
type WeightIndex struct {
	records []WeightRecord
	byName  map[string]int
}

var errBadWeightIndex = fmt.Errorf("%w: weight index", ErrCorruptFile)

// EncodeWeightIndex builds a weight index section payload (v1).
// Records are sorted by name for determinism.
//
// Layout, little-endian:
//
//	u32 version
//	u32 count
//	per record:
//	  u32 name_len, name bytes
//	  u32 dtype
//	  u32 rank, rank x u64 dims
//	  u64 data_off (absolute)
//	  u64 data_size
func EncodeWeightIndex(records []WeightRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, errors.New("ccf: weight index requires at least one record")
	}

	recs := make([]WeightRecord, len(records))
	copy(recs, records)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })

	var out []byte
	out = binary.LittleEndian.AppendUint32(out, WeightIndexVersion)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(recs)))

	seen := make(map[string]struct{}, len(recs))
	for i := range recs {
		r := &recs[i]
		if r.Name == "" {
			return nil, errors.New("ccf: weight name must be non-empty")
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("ccf: duplicate weight name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if len(r.Shape) == 0 {
			return nil, fmt.Errorf("ccf: weight %q has empty shape", r.Name)
		}
		if err := checkWeightSize(r); err != nil {
			return nil, err
		}

		out = binary.LittleEndian.AppendUint32(out, uint32(len(r.Name)))
		out = append(out, r.Name...)
		out = binary.LittleEndian.AppendUint32(out, uint32(r.DType))
		out = binary.LittleEndian.AppendUint32(out, uint32(len(r.Shape)))
		for _, d := range r.Shape {
			out = binary.LittleEndian.AppendUint64(out, d)
		}
		out = binary.LittleEndian.AppendUint64(out, r.DataOff)
		out = binary.LittleEndian.AppendUint64(out, r.DataSize)
	}
	return out, nil
}

func checkWeightSize(r *WeightRecord) error {
	elemSize := r.DType.ElemSize()
	if elemSize == 0 {
		return fmt.Errorf("ccf: weight %q has unknown dtype", r.Name)
	}
	var n uint64 = 1
	for _, d := range r.Shape {
		if d == 0 {
			return fmt.Errorf("ccf: weight %q has zero dim", r.Name)
		}
		if n > math.MaxUint64/d {
			return fmt.Errorf("ccf: weight %q too large", r.Name)
		}
		n *= d
	}
	if n*uint64(elemSize) != r.DataSize {
		return fmt.Errorf("ccf: weight %q shape/size mismatch (want %d bytes, have %d)",
			r.Name, n*uint64(elemSize), r.DataSize)
	}
	return nil
}

// ParseWeightIndex validates and decodes a weight index section payload.
// Pass it File.SectionData(File.Section(SectionWeightIndex)).
func ParseWeightIndex(sec []byte) (*WeightIndex, error) {
	cur := 0
	u32 := func() (uint32, error) {
		if cur+4 > len(sec) {
			return 0, errBadWeightIndex
		}
		v := binary.LittleEndian.Uint32(sec[cur : cur+4])
		cur += 4
		return v, nil
	}
	u64 := func() (uint64, error) {
		if cur+8 > len(sec) {
			return 0, errBadWeightIndex
		}
		v := binary.LittleEndian.Uint64(sec[cur : cur+8])
		cur += 8
		return v, nil
	}

	version, err := u32()
	if err != nil {
		return nil, err
	}
	if version != WeightIndexVersion {
		return nil, fmt.Errorf("%w: weight index version %d", ErrCorruptFile, version)
	}
	count, err := u32()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errBadWeightIndex
	}

	wi := &WeightIndex{
		records: make([]WeightRecord, 0, count),
		byName:  make(map[string]int, count),
	}
	for i := uint32(0); i < count; i++ {
		nameLen, err := u32()
		if err != nil {
			return nil, err
		}
		if cur+int(nameLen) > len(sec) || nameLen == 0 {
			return nil, errBadWeightIndex
		}
		name := string(sec[cur : cur+int(nameLen)])
		cur += int(nameLen)

		dtype, err := u32()
		if err != nil {
			return nil, err
		}
		rank, err := u32()
		if err != nil {
			return nil, err
		}
		if rank == 0 || rank > 8 {
			return nil, errBadWeightIndex
		}
		shape := make([]uint64, rank)
		for d := range shape {
			shape[d], err = u64()
			if err != nil {
				return nil, err
			}
		}
		dataOff, err := u64()
		if err != nil {
			return nil, err
		}
		dataSize, err := u64()
		if err != nil {
			return nil, err
		}

		r := WeightRecord{
			Name:     name,
			DType:    WeightDType(dtype),
			Shape:    shape,
			DataOff:  dataOff,
			DataSize: dataSize,
		}
		if err := checkWeightSize(&r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
		}
		if _, dup := wi.byName[name]; dup {
			return nil, errBadWeightIndex
		}
		wi.byName[name] = len(wi.records)
		wi.records = append(wi.records, r)
	}
	if cur != len(sec) {
		return nil, errBadWeightIndex
	}
	return wi, nil
}

func (wi *WeightIndex) Count() int {
	return len(wi.records)
}

// Record returns the i-th record in name order.
func (wi *WeightIndex) Record(i int) WeightRecord {
	return wi.records[i]
}

// Find returns the record for the given weight name.
func (wi *WeightIndex) Find(name string) (WeightRecord, bool) {
	if wi == nil {
		return WeightRecord{}, false
	}
	i, ok := wi.byName[name]
	if !ok {
		return WeightRecord{}, false
	}
	return wi.records[i], true
}

// WeightData returns a zero-copy view of the weight payload bytes from the
// mapped file. DataOff is an absolute file offset.
func (wi *WeightIndex) WeightData(f *File, name string) ([]byte, error) {
	if f == nil || f.Data == nil {
		return nil, ErrCorruptFile
	}
	r, ok := wi.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: weight %q", ErrSectionMissing, name)
	}

	end := r.DataOff + r.DataSize
	if end < r.DataOff || end > uint64(len(f.Data)) {
		return nil, fmt.Errorf("%w: weight %q out of bounds", ErrCorruptFile, name)
	}
	return f.Data[r.DataOff:end], nil
}

// Float32s decodes the named weight into a fresh []float32. F64 payloads are
// narrowed element-wise.
func (wi *WeightIndex) Float32s(f *File, name string) ([]float32, error) {
	raw, err := wi.WeightData(f, name)
	if err != nil {
		return nil, err
	}
	r, _ := wi.Find(name)
	n := int(r.Elems())

	out := make([]float32, n)
	switch r.DType {
	case DTypeF32:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case DTypeF64:
		for i := 0; i < n; i++ {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	default:
		return nil, fmt.Errorf("%w: weight %q has unknown dtype", ErrCorruptFile, name)
	}
	return out, nil
}
