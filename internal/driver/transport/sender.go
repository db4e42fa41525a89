// Package transport delivers raster payloads to a printer over a network
// socket or a local device file and reads back the printer status.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/label-api/internal/driver"
)

type Backend string

const (
	BackendNetwork Backend = "network"
	BackendFile    Backend = "file"
	BackendDryRun  Backend = "dryrun"
)

const (
	defaultTCPPort            = "9100"
	defaultConnectionTimeout  = 10 * time.Second
	defaultStatusTimeout      = 10 * time.Second
	defaultStatusPollInterval = 200 * time.Millisecond
)

type Config struct {
	ConnectionTimeout  time.Duration
	StatusTimeout      time.Duration
	StatusPollInterval time.Duration
}

type Sender struct {
	config Config
	logger *zap.Logger
	dialer net.Dialer
}

var _ driver.Sender = (*Sender)(nil)

func NewSender(cfg Config, logger *zap.Logger) *Sender {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = defaultConnectionTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = defaultStatusTimeout
	}
	if cfg.StatusPollInterval <= 0 {
		cfg.StatusPollInterval = defaultStatusPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sender{
		config: cfg,
		logger: logger.Named("transport"),
		dialer: net.Dialer{Timeout: cfg.ConnectionTimeout},
	}
}

// ResolveBackend picks the backend for a printer identifier. An empty backend
// is guessed from the identifier: tcp://host[:port], file:///dev/usb/lp0,
// /dev/usb/lp0 and dryrun:// are recognized. The returned address has the
// scheme stripped.
func ResolveBackend(printer, backend string) (Backend, string, error) {
	scheme, rest, hasScheme := strings.Cut(printer, "://")
	if !hasScheme {
		rest = printer
		scheme = ""
	}

	var b Backend
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "network":
		b = BackendNetwork
	case "file", "linux_kernel":
		b = BackendFile
	case "dryrun":
		b = BackendDryRun
	case "":
		switch {
		case scheme == "tcp":
			b = BackendNetwork
		case scheme == "file", scheme == "" && strings.HasPrefix(printer, "/dev/"):
			b = BackendFile
		case scheme == "dryrun":
			b = BackendDryRun
		default:
			return "", "", fmt.Errorf("%w: cannot guess backend for printer %q", driver.ErrUnknownBackend, printer)
		}
	default:
		return "", "", fmt.Errorf("%w: %q", driver.ErrUnknownBackend, backend)
	}

	if b == BackendNetwork {
		if _, _, err := net.SplitHostPort(rest); err != nil {
			rest = net.JoinHostPort(rest, defaultTCPPort)
		}
	}

	return b, rest, nil
}

func (s *Sender) SendRasterToDevice(ctx context.Context, raster *driver.Raster, printer, backend string, blocking bool) (*driver.SendResult, error) {
	if raster == nil || len(raster.Data) == 0 {
		return nil, errors.New("empty raster payload")
	}

	b, address, err := ResolveBackend(printer, backend)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(
		zap.String("backend", string(b)),
		zap.String("address", address),
		zap.Int("bytes", len(raster.Data)),
	)

	switch b {
	case BackendNetwork:
		conn, err := s.dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", driver.ErrConnectionFailed, err)
		}
		defer conn.Close()
		return s.deliver(ctx, log, conn, raster, blocking, true)

	case BackendFile:
		f, readback, err := openDevice(address)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", driver.ErrConnectionFailed, err)
		}
		defer f.Close()
		return s.deliver(ctx, log, f, raster, blocking, readback)

	case BackendDryRun:
		log.Info("Dry-run mode: skipping actual printing", zap.Int("pages", raster.Pages))
		return &driver.SendResult{
			InstructionsSent: true,
			Outcome:          driver.OutcomePrinted,
			DidPrint:         true,
			ReadyForNextJob:  true,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", driver.ErrUnknownBackend, b)
}

// openDevice opens a printer device file. Read-write is preferred for status
// readback; readback is only reported when the file also honours deadlines,
// otherwise a read could block forever.
func openDevice(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		f, err = os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return nil, false, err
		}
		return f, false, nil
	}

	if err := f.SetDeadline(time.Time{}); err != nil {
		return f, false, nil
	}
	return f, true, nil
}

func (s *Sender) deliver(ctx context.Context, log *zap.Logger, rw io.ReadWriter, raster *driver.Raster, blocking, readback bool) (*driver.SendResult, error) {
	result := &driver.SendResult{Outcome: driver.OutcomeUnknown}

	if d, ok := rw.(deadliner); ok {
		_ = d.SetDeadline(time.Now().Add(s.config.ConnectionTimeout))
	}

	if _, err := rw.Write(raster.Data); err != nil {
		return nil, fmt.Errorf("%w: %v", driver.ErrConnectionFailed, err)
	}
	result.InstructionsSent = true
	result.Outcome = driver.OutcomeSent
	log.Debug("Raster sent")

	if !blocking {
		return result, nil
	}

	if !readback {
		// the blocking write returning is the only acknowledgment this device gives
		result.DidPrint = true
		result.ReadyForNextJob = true
		result.Outcome = driver.OutcomePrinted
		return result, nil
	}

	s.awaitCompletion(ctx, log, rw, result)
	return result, nil
}

// awaitCompletion polls the printer status until it reports ready, reports a
// fault, or the status timeout passes. Readback problems are recorded in the
// result rather than returned: the payload has already been delivered.
func (s *Sender) awaitCompletion(ctx context.Context, log *zap.Logger, rw io.ReadWriter, result *driver.SendResult) {
	deadline := time.Now().Add(s.config.StatusTimeout)
	ticker := time.NewTicker(s.config.StatusPollInterval)
	defer ticker.Stop()

	for {
		status, err := queryStatus(rw, s.config.StatusTimeout)
		if err != nil {
			log.Warn("Status readback failed", zap.Error(err))
			return
		}
		result.PrinterState = status

		switch {
		case hasFault(status):
			result.Outcome = driver.OutcomeError
			result.ReadyForNextJob = false
			log.Warn("Printer reported a fault",
				zap.String("state", status.State),
				zap.String("error", status.Error),
				zap.String("media_error", status.MediaError))
			return
		case status.CanPrint:
			result.DidPrint = true
			result.ReadyForNextJob = true
			result.Outcome = driver.OutcomePrinted
			return
		case status.State == "label_waiting":
			result.DidPrint = true
		}

		if time.Now().After(deadline) {
			log.Warn("Printer did not become ready before status timeout",
				zap.String("state", status.State),
				zap.Bool("did_print", result.DidPrint))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
