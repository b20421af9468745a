package ccf

import (
	"errors"
	"io"
	"os"
	"sort"
	"sync"
)

const writerPadBufSize = 4096

// Writer builds a CCF file in a streaming fashion.
//
// The writer reserves space for the header up-front and patches it during
// Finalise. Use BeginSection for large payloads (weight data) to avoid
// buffering in memory.
type Writer struct {
	f        *os.File
	sections []Section
	seen     map[SectionType]struct{}
	open     *SectionWriter
	closed   bool

	flags uint64

	padBuf []byte

	mu sync.Mutex
}

// SectionWriter streams a section payload directly to the underlying file.
//
// A SectionWriter must be ended (End or Close) before any other section can
// be written. Bytes written, including padding added via Align, count towards
// the section's recorded Size.
type SectionWriter struct {
	w       *Writer
	typ     SectionType
	version uint32
	start   int64
	ended   bool
}

// NewWriter creates a new CCF writer targeting the given file.
// It truncates the file and reserves space for the header (patched in Finalise).
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("ccf: nil file")
	}

	// Make sure we always produce a file whose on-disk size matches header.FileSize.
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		f:      f,
		seen:   make(map[SectionType]struct{}),
		padBuf: make([]byte, writerPadBufSize),
	}

	// Reserve fixed header bytes (actual bytes, not a seek hole).
	if err := w.writeZeros(ccfHeaderSize); err != nil {
		return nil, err
	}
	if err := w.alignTo(ccfAlign); err != nil {
		return nil, err
	}

	return w, nil
}

// WriteSection writes a section payload and records it in the section table.
// Sections may be written in any order. A section type may only be written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("ccf: writer already finalised")
	}
	if w.open != nil {
		return errors.New("ccf: section write in progress")
	}
	if _, ok := w.seen[typ]; ok {
		return errors.New("ccf: duplicate section type")
	}

	// Align each section start for clean mmapping by consumers.
	if err := w.alignTo(ccfAlign); err != nil {
		return err
	}

	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	if len(data) > 0 {
		if err := writeFull(w.f, data); err != nil {
			return err
		}
	}

	w.sections = append(w.sections, Section{
		Type:    uint32(typ),
		Version: version,
		Offset:  uint64(offset),
		Size:    uint64(len(data)),
	})
	w.seen[typ] = struct{}{}
	return nil
}

func (w *Writer) AddFlags(flags uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("ccf: writer already finalised")
	}
	w.flags |= flags
	return nil
}

// BeginSection begins streaming a section payload directly to the underlying file.
// The returned SectionWriter must be ended (or closed) before writing any other section.
func (w *Writer) BeginSection(typ SectionType, version uint32) (*SectionWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, errors.New("ccf: writer already finalised")
	}
	if w.open != nil {
		return nil, errors.New("ccf: section write in progress")
	}
	if _, ok := w.seen[typ]; ok {
		return nil, errors.New("ccf: duplicate section type")
	}

	if err := w.alignTo(ccfAlign); err != nil {
		return nil, err
	}
	start, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	sw := &SectionWriter{w: w, typ: typ, version: version, start: start}
	w.open = sw
	// Mark as seen immediately: once payload bytes for a section type exist,
	// the type cannot safely be reused.
	w.seen[typ] = struct{}{}
	return sw, nil
}

// CurrentAbsOffset returns the current absolute file offset.
func (sw *SectionWriter) CurrentAbsOffset() (uint64, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if sw.ended {
		return 0, errors.New("ccf: section writer ended")
	}
	if sw.w.open != sw {
		return 0, errors.New("ccf: section writer not active")
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return uint64(pos), nil
}

// Align writes zero padding until the underlying file position is aligned to n bytes.
// This is useful for aligning individual weight payloads within a WeightData section.
func (sw *SectionWriter) Align(n int) error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if sw.ended {
		return errors.New("ccf: section writer ended")
	}
	if sw.w.open != sw {
		return errors.New("ccf: section writer not active")
	}
	return sw.w.alignTo(int64(n))
}

// Write streams p into the underlying file.
func (sw *SectionWriter) Write(p []byte) (int, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if sw.ended {
		return 0, errors.New("ccf: section writer ended")
	}
	if sw.w.open != sw {
		return 0, errors.New("ccf: section writer not active")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := writeFull(sw.w.f, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// End finalises the section and records it in the section directory.
func (sw *SectionWriter) End() error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if sw.ended {
		return errors.New("ccf: section writer already ended")
	}
	if sw.w.open != sw {
		return errors.New("ccf: section writer not active")
	}

	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos < sw.start {
		return errors.New("ccf: invalid file position")
	}

	sw.w.sections = append(sw.w.sections, Section{
		Type:    uint32(sw.typ),
		Version: sw.version,
		Offset:  uint64(sw.start),
		Size:    uint64(pos - sw.start),
	})

	sw.w.open = nil
	sw.ended = true
	return nil
}

// Close is an alias for End, allowing use with defer.
func (sw *SectionWriter) Close() error { return sw.End() }

// Finalise writes the section directory and patches the header.
// After Finalise, the writer must not be used again.
func (w *Writer) Finalise() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("ccf: writer already finalised")
	}
	if w.open != nil {
		return errors.New("ccf: section write in progress")
	}
	w.closed = true

	// Deterministic directory ordering.
	sort.Slice(w.sections, func(i, j int) bool {
		return w.sections[i].Type < w.sections[j].Type
	})

	if err := w.alignTo(ccfAlign); err != nil {
		return err
	}

	sectionDirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	// Write the section directory using explicit little-endian encoding.
	var secBuf [ccfSectionSize]byte
	for i := range w.sections {
		if !encodeSection(secBuf[:], w.sections[i]) {
			return errors.New("ccf: encode section failed")
		}
		if err := writeFull(w.f, secBuf[:]); err != nil {
			return err
		}
	}

	// Compute final file size and truncate to it (matters if the target file
	// was reused).
	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	var header Header
	copy(header.Magic[:], MagicCCF)
	header.Major = CurrentMajor
	header.Minor = CurrentMinor
	header.HeaderSize = ccfHeaderSize
	header.SectionCount = uint32(len(w.sections))
	header.SectionDirOffset = uint64(sectionDirOffset)
	header.FileSize = uint64(fileSize)
	header.Flags = w.flags

	// Patch header at start of file.
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdrBuf [ccfHeaderSize]byte
	if !encodeHeader(hdrBuf[:], header) {
		return errors.New("ccf: encode header failed")
	}
	if err := writeFull(w.f, hdrBuf[:]); err != nil {
		return err
	}

	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 {
		return nil
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	mod := pos % n
	if mod == 0 {
		return nil
	}
	return w.writeZeros(int(n - mod))
}

func (w *Writer) writeZeros(n int) error {
	if n <= 0 {
		return nil
	}
	buf := w.padBuf
	if len(buf) == 0 {
		buf = make([]byte, 4096)
	}
	for n > 0 {
		toWrite := min(n, len(buf))
		if err := writeFull(w.f, buf[:toWrite]); err != nil {
			return err
		}
		n -= toWrite
	}
	return nil
}
