package capture

import "errors"

var (
	ErrNotOpen            = errors.New("capture file is not open")
	ErrAlreadyOpen        = errors.New("capture file is already open for write")
	ErrNotOpenForWrite    = errors.New("capture file is not open for write")
	ErrInvalidCaptureFile = errors.New("invalid capture file")
	ErrOutOfRange         = errors.New("record number out of range")
	ErrRecordTooLarge     = errors.New("record exceeds maximum size")
)
