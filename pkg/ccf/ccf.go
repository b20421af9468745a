// Package ccf implements the Cantus Container Format.
//
// CCF is a single-file, memory-mappable container for sequence models. A
// fixed little-endian header points at a section directory; sections hold
// model metadata, codec metadata, a weight index, and the raw weight
// payloads. The format describes structure and data only and never implies
// runtime behaviour.
package ccf

// Format constants. These must never change.
const (
	// MagicCCF is the file magic for all CCF containers, encoded as "CCF\0".
	MagicCCF = "CCF\x00"

	// CurrentMajor changes only on breaking format changes.
	CurrentMajor uint16 = 1

	// CurrentMinor may add new optional sections or fields.
	CurrentMinor uint16 = 0

	// FlagWeightDataAligned64 marks containers whose weight payloads start on
	// 64-byte boundaries inside the weight data section.
	FlagWeightDataAligned64 uint64 = 1 << 0
)

type SectionType uint32

const (
	SectionModelInfo   SectionType = 0x0001
	SectionCodecInfo   SectionType = 0x0002
	SectionWeightIndex SectionType = 0x0003
	SectionWeightData  SectionType = 0x0004
)

// Header is the fixed header at the start of every CCF file.
type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != MagicCCF {
		return false
	}
	if h.HeaderSize < ccfHeaderSize {
		return false
	}
	if h.SectionCount == 0 {
		return false
	}
	return true
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

// Section is one entry of the section directory.
type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s *Section) End() uint64 {
	return s.Offset + s.Size
}
