package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/orrn/label-api/internal/driver"
)

const (
	statusCommand        = "\x1b!?"
	statusResponseLength = 4
)

var printerStateMap = map[byte]string{
	'@': "normal",
	'F': "feeding",
	'P': "paused",
	'E': "error",
	'H': "head_open",
	'S': "standby",
	'L': "label_waiting",
	'I': "idle",
}

var warningMap = map[byte]string{
	'@': "none",
	'A': "paper_low",
	'B': "ribbon_low",
	'C': "paper_and_ribbon_low",
}

var errorMap = map[byte]string{
	'@': "none",
	'A': "head_overheat",
	'B': "motor_overheat",
	'C': "head_and_motor_overheat",
	'D': "head_error",
	'E': "cutter_error",
	'F': "rtc_error",
}

var mediaErrorMap = map[byte]string{
	'@': "none",
	'A': "paper_empty",
	'B': "ribbon_empty",
	'C': "paper_and_ribbon_empty",
	'D': "takeup_reel_full",
	'`': "head_open",
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// queryStatus sends the status request and reads the fixed-size reply.
func queryStatus(rw io.ReadWriter, timeout time.Duration) (*driver.PrinterState, error) {
	if d, ok := rw.(deadliner); ok {
		_ = d.SetDeadline(time.Now().Add(timeout))
	}

	if _, err := rw.Write([]byte(statusCommand)); err != nil {
		return nil, fmt.Errorf("%w: %v", driver.ErrConnectionFailed, err)
	}

	response := make([]byte, statusResponseLength)
	if _, err := io.ReadFull(rw, response); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", driver.ErrInvalidStatus, err)
		}
		return nil, fmt.Errorf("%w: %v", driver.ErrConnectionFailed, err)
	}

	return parseStatus(response), nil
}

func parseStatus(response []byte) *driver.PrinterState {
	status := &driver.PrinterState{
		RawStatus: [4]byte{response[0], response[1], response[2], response[3]},
		IsOnline:  true,
	}

	status.State = lookup(printerStateMap, response[0])
	status.Warning = lookup(warningMap, response[1])
	status.Error = lookup(errorMap, response[2])
	status.MediaError = lookup(mediaErrorMap, response[3])
	status.CanPrint = isReady(status)

	return status
}

func lookup(m map[byte]string, b byte) string {
	if v, ok := m[b]; ok {
		return v
	}
	return "unknown"
}

func isReady(status *driver.PrinterState) bool {
	if hasFault(status) {
		return false
	}
	return status.State == "normal" || status.State == "standby" || status.State == "idle"
}

func hasFault(status *driver.PrinterState) bool {
	if status.State == "error" || status.State == "head_open" {
		return true
	}
	return status.Error != "none" || status.MediaError != "none"
}
