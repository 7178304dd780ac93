package upload

import "errors"

var (
	ErrEmptyFile        = errors.New("file is empty")
	ErrPayloadTooLarge  = errors.New("payload exceeds configured maximum")
	ErrUnsupportedType  = errors.New("content type not allowed")
	ErrTruncatedStream  = errors.New("stream ended before declared length")
	ErrDeadlineExceeded = errors.New("stream deadline exceeded")
	ErrStoreUnavailable = errors.New("metadata store unavailable")
	ErrDuplicateID      = errors.New("duplicate upload id")
	ErrNotFound         = errors.New("upload not found")
)
