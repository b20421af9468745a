package ccf

import (
	"encoding/binary"
	"os"
)

const (
	ccfHeaderSize  = 40
	ccfSectionSize = 24
	ccfAlign       = 8
)

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < ccfHeaderSize {
		return false
	}
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(dst[4:6], h.Major)
	binary.LittleEndian.PutUint16(dst[6:8], h.Minor)
	binary.LittleEndian.PutUint32(dst[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(dst[12:16], h.SectionCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.SectionDirOffset)
	binary.LittleEndian.PutUint64(dst[24:32], h.FileSize)
	binary.LittleEndian.PutUint64(dst[32:40], h.Flags)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	if len(src) < ccfHeaderSize {
		return Header{}, false
	}
	var h Header
	copy(h.Magic[:], src[0:4])
	h.Major = binary.LittleEndian.Uint16(src[4:6])
	h.Minor = binary.LittleEndian.Uint16(src[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(src[8:12])
	h.SectionCount = binary.LittleEndian.Uint32(src[12:16])
	h.SectionDirOffset = binary.LittleEndian.Uint64(src[16:24])
	h.FileSize = binary.LittleEndian.Uint64(src[24:32])
	h.Flags = binary.LittleEndian.Uint64(src[32:40])
	return h, true
}

func encodeSection(dst []byte, s Section) bool {
	if len(dst) < ccfSectionSize {
		return false
	}
	binary.LittleEndian.PutUint32(dst[0:4], s.Type)
	binary.LittleEndian.PutUint32(dst[4:8], s.Version)
	binary.LittleEndian.PutUint64(dst[8:16], s.Offset)
	binary.LittleEndian.PutUint64(dst[16:24], s.Size)
	return true
}

func decodeSection(src []byte) (Section, bool) {
	if len(src) < ccfSectionSize {
		return Section{}, false
	}
	var s Section
	s.Type = binary.LittleEndian.Uint32(src[0:4])
	s.Version = binary.LittleEndian.Uint32(src[4:8])
	s.Offset = binary.LittleEndian.Uint64(src[8:16])
	s.Size = binary.LittleEndian.Uint64(src[16:24])
	return s, true
}

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	// half-open ranges [a0,a1) and [b0,b1)
	return a0 < b1 && b0 < a1
}

func writeFull(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
