package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/orrn/label-api/internal/driver"
	"github.com/orrn/label-api/internal/gate"
	"github.com/orrn/label-api/internal/metrics"
)

type stubConverter struct {
	calls   atomic.Int32
	block   chan struct{}
	entered chan struct{}
	err     error
	panics  bool

	mu      sync.Mutex
	model   string
	options map[string]any
	images  []image.Image
}

func (c *stubConverter) ConvertImageToRaster(model string, images []image.Image, options map[string]any) (*driver.Raster, error) {
	c.calls.Add(1)

	c.mu.Lock()
	c.model, c.images, c.options = model, images, options
	c.mu.Unlock()

	if c.entered != nil {
		close(c.entered)
	}
	if c.block != nil {
		<-c.block
	}
	if c.panics {
		panic("converter exploded")
	}
	if c.err != nil {
		return nil, c.err
	}
	return &driver.Raster{Model: model, Pages: len(images), Data: []byte("PRINT 1\n")}, nil
}

type stubSender struct {
	calls  atomic.Int32
	result *driver.SendResult
	err    error

	mu       sync.Mutex
	printer  string
	backend  string
	blocking bool
	ctxErr   error
}

func (s *stubSender) SendRasterToDevice(ctx context.Context, raster *driver.Raster, printer, backend string, blocking bool) (*driver.SendResult, error) {
	s.calls.Add(1)

	s.mu.Lock()
	s.printer, s.backend, s.blocking, s.ctxErr = printer, backend, blocking, ctx.Err()
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type notification struct {
	event   string
	jobID   string
	outcome string
	errMsg  string
}

type stubNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *stubNotifier) SendJobCompleted(jobID string, _ time.Duration, outcome string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{event: "completed", jobID: jobID, outcome: outcome})
}

func (n *stubNotifier) SendJobFailed(jobID string, _ time.Duration, outcome, errMsg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{event: "failed", jobID: jobID, outcome: outcome, errMsg: errMsg})
}

var testPrinter = PrinterSettings{Model: "TE200", Backend: "network", Identifier: "tcp://10.0.0.2:9100"}

func printedResult() *driver.SendResult {
	return &driver.SendResult{
		InstructionsSent: true,
		Outcome:          driver.OutcomePrinted,
		DidPrint:         true,
		ReadyForNextJob:  true,
	}
}

func newTestService(conv *stubConverter, send *stubSender, opts ...ServiceOption) (*Service, *gate.Gate) {
	g := gate.New()
	return NewService(g, conv, send, testPrinter, opts...), g
}

func encodePNG(t *testing.T) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func encodeBMP(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 5, 3))
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))
	return buf.Bytes()
}

func TestSubmit_MissingImage(t *testing.T) {
	conv, send := &stubConverter{}, &stubSender{result: printedResult()}
	svc, g := newTestService(conv, send)

	res := svc.Submit(context.Background(), PrintRequest{Options: map[string]any{"label": "62"}})

	assert.False(t, res.Success)
	assert.Equal(t, "image is required", res.Error)
	assert.ErrorIs(t, res.Err, ErrImageRequired)
	assert.Nil(t, res.Result)
	assert.False(t, g.Busy())
	assert.Zero(t, conv.calls.Load())
}

func TestSubmit_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		image string
	}{
		{name: "png", image: encodePNG(t)},
		{name: "bmp", image: base64.StdEncoding.EncodeToString(encodeBMP(t))},
		{name: "bmp unpadded url-safe", image: base64.RawURLEncoding.EncodeToString(encodeBMP(t))},
		{name: "png data url", image: "data:image/png;base64," + encodePNG(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, send := &stubConverter{}, &stubSender{result: printedResult()}
			svc, g := newTestService(conv, send)

			res := svc.Submit(context.Background(), PrintRequest{Image: tt.image, Options: map[string]any{}})

			require.True(t, res.Success, res.Error)
			assert.Empty(t, res.Error)
			require.NotNil(t, res.Result)
			assert.True(t, res.Result.DidPrint)
			assert.True(t, res.Result.ReadyForNextJob)
			assert.NotEmpty(t, res.JobID)
			assert.False(t, g.Busy())
			assert.Equal(t, int32(1), conv.calls.Load())
			assert.Equal(t, int32(1), send.calls.Load())
		})
	}
}

func TestSubmit_ForwardsOptionsAndSettings(t *testing.T) {
	conv, send := &stubConverter{}, &stubSender{result: printedResult()}
	svc, _ := newTestService(conv, send)

	options := map[string]any{"label": "50x30", "rotate": "90", "cut": true, "threshold": float64(60)}
	res := svc.Submit(context.Background(), PrintRequest{Image: encodePNG(t), Options: options})
	require.True(t, res.Success)

	assert.Equal(t, "TE200", conv.model)
	assert.Equal(t, options, conv.options)
	require.Len(t, conv.images, 1)
	assert.Equal(t, 8, conv.images[0].Bounds().Dx())

	assert.Equal(t, testPrinter.Identifier, send.printer)
	assert.Equal(t, testPrinter.Backend, send.backend)
	assert.True(t, send.blocking)
}

func TestSubmit_PartialResultIsFailure(t *testing.T) {
	conv := &stubConverter{}
	send := &stubSender{result: &driver.SendResult{
		InstructionsSent: true,
		Outcome:          driver.OutcomeSent,
		DidPrint:         true,
		ReadyForNextJob:  false,
	}}
	notifier := &stubNotifier{}
	svc, g := newTestService(conv, send, WithNotifier(notifier))

	res := svc.Submit(context.Background(), PrintRequest{Image: encodePNG(t)})

	assert.False(t, res.Success)
	assert.Empty(t, res.Error)
	require.NotNil(t, res.Result)
	assert.True(t, res.Result.DidPrint)
	assert.False(t, res.Result.ReadyForNextJob)
	assert.False(t, g.Busy())

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "failed", notifier.events[0].event)
	assert.Equal(t, driver.OutcomeSent, notifier.events[0].outcome)
	assert.Contains(t, notifier.events[0].errMsg, "ready_for_next_job=false")
}

func TestSubmit_Failures(t *testing.T) {
	tests := []struct {
		name       string
		image      string
		conv       *stubConverter
		send       *stubSender
		wantErr    error
		wantPrefix string
	}{
		{
			name:       "malformed base64",
			image:      "not base64!!",
			conv:       &stubConverter{},
			send:       &stubSender{result: printedResult()},
			wantErr:    ErrDecode,
			wantPrefix: "decode image: illegal base64 data",
		},
		{
			name:       "not an image",
			image:      base64.StdEncoding.EncodeToString([]byte("plain text, not pixels")),
			conv:       &stubConverter{},
			send:       &stubSender{result: printedResult()},
			wantErr:    ErrImageFormat,
			wantPrefix: "read image: image: unknown format",
		},
		{
			name:       "conversion error",
			conv:       &stubConverter{err: driver.ErrUnknownModel},
			send:       &stubSender{result: printedResult()},
			wantErr:    driver.ErrUnknownModel,
			wantPrefix: "convert image: unknown printer model",
		},
		{
			name:       "transport error",
			conv:       &stubConverter{},
			send:       &stubSender{err: driver.ErrConnectionFailed},
			wantErr:    driver.ErrConnectionFailed,
			wantPrefix: "send to printer: connection failed",
		},
		{
			name:       "sender returns nothing",
			conv:       &stubConverter{},
			send:       &stubSender{},
			wantErr:    ErrTransport,
			wantPrefix: "send to printer",
		},
		{
			name:       "converter panics",
			conv:       &stubConverter{panics: true},
			send:       &stubSender{result: printedResult()},
			wantErr:    ErrInternal,
			wantPrefix: "internal error: converter exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := tt.image
			if img == "" {
				img = encodePNG(t)
			}
			notifier := &stubNotifier{}
			svc, g := newTestService(tt.conv, tt.send, WithNotifier(notifier), WithMetrics(metrics.New()))

			res := svc.Submit(context.Background(), PrintRequest{Image: img})

			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, tt.wantErr)
			assert.True(t, len(res.Error) > 0 && bytes.HasPrefix([]byte(res.Error), []byte(tt.wantPrefix)), "error %q", res.Error)
			assert.Nil(t, res.Result)
			assert.False(t, g.Busy(), "gate must be released")
			assert.True(t, g.TryAdmit(), "next job must be admitted")
			g.Release()

			require.Len(t, notifier.events, 1)
			assert.Equal(t, "failed", notifier.events[0].event)
			assert.Equal(t, res.Error, notifier.events[0].errMsg)
		})
	}
}

func TestSubmit_DecodeFailureSkipsCollaborators(t *testing.T) {
	conv, send := &stubConverter{}, &stubSender{result: printedResult()}
	svc, _ := newTestService(conv, send)

	res := svc.Submit(context.Background(), PrintRequest{Image: "%%%"})

	assert.False(t, res.Success)
	assert.Zero(t, conv.calls.Load())
	assert.Zero(t, send.calls.Load())
}

func TestSubmit_BusyRejectsWithoutWork(t *testing.T) {
	conv, send := &stubConverter{}, &stubSender{result: printedResult()}
	svc, g := newTestService(conv, send)

	require.True(t, g.TryAdmit())
	res := svc.Submit(context.Background(), PrintRequest{Image: encodePNG(t)})
	g.Release()

	assert.False(t, res.Success)
	assert.Equal(t, "Printer is busy", res.Error)
	assert.ErrorIs(t, res.Err, ErrPrinterBusy)
	assert.Zero(t, conv.calls.Load())
	assert.Zero(t, send.calls.Load())
}

func TestSubmit_ConcurrentSubmissionsWhileBusy(t *testing.T) {
	conv := &stubConverter{block: make(chan struct{}), entered: make(chan struct{})}
	send := &stubSender{result: printedResult()}
	svc, g := newTestService(conv, send)
	img := encodePNG(t)

	first := make(chan PrintResult, 1)
	go func() {
		first <- svc.Submit(context.Background(), PrintRequest{Image: img})
	}()
	<-conv.entered
	require.True(t, svc.Busy())

	const n = 32
	var wg sync.WaitGroup
	results := make([]PrintResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Submit(context.Background(), PrintRequest{Image: img})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.False(t, res.Success, "submission %d", i)
		assert.Equal(t, "Printer is busy", res.Error, "submission %d", i)
	}
	assert.Equal(t, int32(1), conv.calls.Load())

	close(conv.block)
	res := <-first
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), send.calls.Load())
	assert.False(t, g.Busy())
}

func TestSubmit_CancelledRequestStillPrints(t *testing.T) {
	conv, send := &stubConverter{}, &stubSender{result: printedResult()}
	svc, _ := newTestService(conv, send)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := svc.Submit(ctx, PrintRequest{Image: encodePNG(t)})

	assert.True(t, res.Success)
	assert.NoError(t, send.ctxErr)
}

func TestSubmit_NotifiesCompletion(t *testing.T) {
	notifier := &stubNotifier{}
	svc, _ := newTestService(&stubConverter{}, &stubSender{result: printedResult()}, WithNotifier(notifier))

	res := svc.Submit(context.Background(), PrintRequest{Image: encodePNG(t)})
	require.True(t, res.Success)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "completed", notifier.events[0].event)
	assert.Equal(t, res.JobID, notifier.events[0].jobID)
	assert.Equal(t, driver.OutcomePrinted, notifier.events[0].outcome)
}

func TestParsePrintRequest(t *testing.T) {
	t.Run("missing image", func(t *testing.T) {
		_, err := ParsePrintRequest(map[string]any{"label": "62"})
		assert.True(t, errors.Is(err, ErrImageRequired))
	})

	t.Run("null image", func(t *testing.T) {
		_, err := ParsePrintRequest(map[string]any{"image": nil})
		assert.ErrorIs(t, err, ErrImageRequired)
	})

	t.Run("non-string image", func(t *testing.T) {
		_, err := ParsePrintRequest(map[string]any{"image": float64(42)})
		assert.ErrorIs(t, err, ErrInvalidImageField)
	})

	t.Run("options passthrough", func(t *testing.T) {
		req, err := ParsePrintRequest(map[string]any{
			"image":  "aGVsbG8=",
			"label":  "62",
			"rotate": "auto",
			"extra":  map[string]any{"nested": true},
		})
		require.NoError(t, err)
		assert.Equal(t, "aGVsbG8=", req.Image)
		assert.Equal(t, map[string]any{
			"label":  "62",
			"rotate": "auto",
			"extra":  map[string]any{"nested": true},
		}, req.Options)
	})
}

func TestDecodeBase64(t *testing.T) {
	payload := []byte{0xfb, 0xff, 0x01, 0x02}

	for _, enc := range base64Encodings {
		got, err := decodeBase64(enc.EncodeToString(payload))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}

	got, err := decodeBase64("data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = decodeBase64("####")
	assert.Error(t, err)
}

func TestInvalid(t *testing.T) {
	svc, g := newTestService(&stubConverter{}, &stubSender{})

	res := svc.Invalid(ErrInvalidImageField)

	assert.False(t, res.Success)
	assert.Equal(t, "image must be a base64 string", res.Error)
	assert.False(t, g.Busy())
}
