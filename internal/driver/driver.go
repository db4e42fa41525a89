// Package driver defines the narrow interface between the print service and
// the printer driver: converting images to a device raster and delivering
// that raster to a device.
package driver

import (
	"context"
	"errors"
	"image"
)

var (
	ErrUnknownModel     = errors.New("unknown printer model")
	ErrInvalidOption    = errors.New("invalid conversion option")
	ErrNoImages         = errors.New("no images to convert")
	ErrUnknownBackend   = errors.New("unknown printer backend")
	ErrConnectionFailed = errors.New("connection failed")
	ErrInvalidStatus    = errors.New("invalid status response")
)

const (
	OutcomeUnknown = "unknown"
	OutcomeSent    = "sent"
	OutcomePrinted = "printed"
	OutcomeError   = "error"
)

// Raster is a device-ready command stream.
type Raster struct {
	Model string
	DPI   int
	Pages int
	Data  []byte
}

type PrinterState struct {
	RawStatus  [4]byte `json:"-"`
	State      string  `json:"state"`
	Warning    string  `json:"warning"`
	Error      string  `json:"error"`
	MediaError string  `json:"media_error"`
	IsOnline   bool    `json:"is_online"`
	CanPrint   bool    `json:"can_print"`
}

// SendResult is what the device reported for one delivery.
type SendResult struct {
	InstructionsSent bool          `json:"instructions_sent"`
	Outcome          string        `json:"outcome"`
	PrinterState     *PrinterState `json:"printer_state"`
	DidPrint         bool          `json:"did_print"`
	ReadyForNextJob  bool          `json:"ready_for_next_job"`
}

type Converter interface {
	ConvertImageToRaster(model string, images []image.Image, options map[string]any) (*Raster, error)
}

// Sender delivers a raster to the printer identified by printer using the
// named backend. With blocking set it waits until the device acknowledges
// the job or errors.
type Sender interface {
	SendRasterToDevice(ctx context.Context, raster *Raster, printer, backend string, blocking bool) (*SendResult, error)
}
