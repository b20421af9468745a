package ccf

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid CCF magic")
	ErrUnsupportedMajor = errors.New("unsupported CCF major version")
	ErrCorruptFile      = errors.New("corrupt CCF file")
	ErrSectionMissing   = errors.New("missing CCF section")
)
