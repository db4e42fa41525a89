package core

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/label-api/internal/driver"
	"github.com/orrn/label-api/internal/gate"
	"github.com/orrn/label-api/internal/metrics"
)

// Notifier is told about every admitted job once it has finished.
type Notifier interface {
	SendJobCompleted(jobID string, duration time.Duration, outcome string)
	SendJobFailed(jobID string, duration time.Duration, outcome, errMsg string)
}

// Service runs print jobs against a single printer. At most one job runs at a
// time; concurrent submissions are rejected, never queued.
type Service struct {
	gate      *gate.Gate
	converter driver.Converter
	sender    driver.Sender
	printer   PrinterSettings
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

type ServiceOption func(*Service)

func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(g *gate.Gate, converter driver.Converter, sender driver.Sender, printer PrinterSettings, opts ...ServiceOption) *Service {
	s := &Service{
		gate:      g,
		converter: converter,
		sender:    sender,
		printer:   printer,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("print")
	return s
}

func (s *Service) Printer() PrinterSettings {
	return s.printer
}

// Busy reports whether a job currently holds the printer. The answer may be
// stale by the time the caller reads it.
func (s *Service) Busy() bool {
	return s.gate.Busy()
}

// Invalid records a submission rejected before it reached Submit.
func (s *Service) Invalid(err error) PrintResult {
	s.metrics.JobInvalid()
	return failure(err)
}

// Submit runs one print job to completion or rejects it. The returned result
// always carries the outcome; Submit never panics and never leaves the printer
// held.
func (s *Service) Submit(ctx context.Context, req PrintRequest) PrintResult {
	if req.Image == "" {
		s.metrics.JobInvalid()
		return failure(ErrImageRequired)
	}

	if !s.gate.TryAdmit() {
		s.metrics.JobRejectedBusy()
		s.logger.Debug("Rejected print job, printer busy")
		return failure(ErrPrinterBusy)
	}
	defer s.gate.Release()

	jobID := uuid.NewString()
	log := s.logger.With(zap.String("job_id", jobID))
	start := time.Now()
	s.metrics.JobAdmitted()

	sendResult, err := s.run(ctx, log, req)
	duration := time.Since(start)

	var res PrintResult
	if err != nil {
		res = failure(err)
	} else {
		res = PrintResult{
			Success: sendResult.DidPrint && sendResult.ReadyForNextJob,
			Result:  sendResult,
		}
	}
	res.JobID = jobID

	s.finish(log, res, duration)
	return res
}

// run is the admitted region. A panic in the decoder or a collaborator is
// turned into an error so the deferred release in Submit still runs with a
// normal return.
func (s *Service) run(ctx context.Context, log *zap.Logger, req PrintRequest) (result *driver.SendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic in print job", zap.Any("panic", r), zap.Stack("stacktrace"))
			result = nil
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	img, format, err := decodeImage(req.Image)
	if err != nil {
		return nil, err
	}
	log.Debug("Decoded image",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	raster, err := s.converter.ConvertImageToRaster(s.printer.Model, []image.Image{img}, req.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}
	log.Debug("Converted image", zap.Int("bytes", len(raster.Data)))

	// a disconnecting client must not abort a label halfway through the printer
	result, err = s.sender.SendRasterToDevice(context.WithoutCancel(ctx), raster, s.printer.Identifier, s.printer.Backend, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: printer returned no result", ErrTransport)
	}

	return result, nil
}

// finish records the job. It runs before the printer is released.
func (s *Service) finish(log *zap.Logger, res PrintResult, duration time.Duration) {
	outcome := driver.OutcomeError
	if res.Result != nil {
		outcome = res.Result.Outcome
	}

	s.metrics.JobFinished(res.Success, duration)

	fields := []zap.Field{
		zap.Duration("duration", duration),
		zap.String("outcome", outcome),
		zap.Bool("success", res.Success),
	}
	if res.Result != nil {
		fields = append(fields,
			zap.Bool("did_print", res.Result.DidPrint),
			zap.Bool("ready_for_next_job", res.Result.ReadyForNextJob))
	}

	if res.Success {
		log.Info("Print job completed", fields...)
	} else {
		if res.Err != nil {
			fields = append(fields, zap.Error(res.Err))
		}
		log.Warn("Print job failed", fields...)
	}

	if s.notifier == nil {
		return
	}
	if res.Success {
		s.notifier.SendJobCompleted(res.JobID, duration, outcome)
		return
	}
	msg := res.Error
	if msg == "" {
		msg = fmt.Sprintf("printer did not confirm the job (did_print=%t, ready_for_next_job=%t)",
			res.Result.DidPrint, res.Result.ReadyForNextJob)
	}
	s.notifier.SendJobFailed(res.JobID, duration, outcome, msg)
}
