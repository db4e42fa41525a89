package core

import "errors"

// The first three messages are part of the HTTP contract and are returned to
// clients verbatim.
var (
	ErrImageRequired     = errors.New("image is required")
	ErrInvalidImageField = errors.New("image must be a base64 string")
	ErrPrinterBusy       = errors.New("Printer is busy") //nolint:staticcheck // wire-visible message
	ErrDecode            = errors.New("decode image")
	ErrImageFormat       = errors.New("read image")
	ErrConversion        = errors.New("convert image")
	ErrTransport         = errors.New("send to printer")
	ErrInternal          = errors.New("internal error")
)
