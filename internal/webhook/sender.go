package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

type WebhookEvent string

const (
	EventJobCompleted WebhookEvent = "job_completed"
	EventJobFailed    WebhookEvent = "job_failed"
)

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Duration     int64  `json:"duration_ms"`
	Outcome      string `json:"outcome,omitempty"`
}

type WebhookConfig struct {
	URL         string
	Secret      string
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type webhookTask struct {
	event   WebhookEvent
	payload *WebhookPayload
	attempt int
}

// httpError is a non-2xx response from the receiver.
type httpError struct {
	StatusCode int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http error: %d", e.StatusCode)
}

var errShutdown = errors.New("shutdown requested")

// WebhookSender delivers job notifications to one configured URL from a
// bounded queue. Enqueueing never blocks: a full queue drops the event.
type WebhookSender struct {
	url         string
	secret      string
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *webhookTask
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	logger      *zap.Logger
}

func NewWebhookSender(config WebhookConfig, logger *zap.Logger) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookSender{
		url:    config.URL,
		secret: config.Secret,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retryCount:  config.RetryCount,
		retryDelay:  config.RetryDelay,
		workerCount: config.WorkerCount,
		queue:       make(chan *webhookTask, config.QueueSize),
		stopCh:      make(chan struct{}),
		logger:      logger.Named("webhook"),
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop halts the workers. Events still queued are dropped.
func (s *WebhookSender) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *WebhookSender) SendJobCompleted(jobID string, duration time.Duration, outcome string) {
	data := &JobEventData{
		JobID:    jobID,
		Status:   "completed",
		Duration: duration.Milliseconds(),
		Outcome:  outcome,
	}
	s.enqueue(EventJobCompleted, data)
}

func (s *WebhookSender) SendJobFailed(jobID string, duration time.Duration, outcome, errMsg string) {
	data := &JobEventData{
		JobID:        jobID,
		Status:       "failed",
		ErrorMessage: errMsg,
		Duration:     duration.Milliseconds(),
		Outcome:      outcome,
	}
	s.enqueue(EventJobFailed, data)
}

func (s *WebhookSender) enqueue(event WebhookEvent, data interface{}) {
	task := &webhookTask{
		event: event,
		payload: &WebhookPayload{
			Event:     string(event),
			Timestamp: time.Now().UTC(),
			Data:      data,
		},
	}

	select {
	case s.queue <- task:
	default:
		s.logger.Warn("Queue full, dropping webhook", zap.String("event", string(event)))
	}
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			if err := s.sendWithRetry(task); err != nil {
				s.logger.Error("Failed to send webhook",
					zap.Int("worker", id),
					zap.String("event", string(task.event)),
					zap.Int("attempts", task.attempt),
					zap.Error(err))
			}
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(task.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			s.logger.Warn("Client error, not retrying", zap.String("event", string(task.event)), zap.Error(err))
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.logger.Debug("Retrying webhook",
				zap.Int("attempt", task.attempt),
				zap.Int("max_attempts", s.retryCount),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-s.stopCh:
				return errShutdown
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *WebhookSender) sendRequest(payload *WebhookPayload) error {
	payloadBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if s.secret != "" {
		payload.Signature = signPayload(payloadBytes, s.secret)
	}

	fullPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(fullPayload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)
	if payload.Signature != "" {
		req.Header.Set("X-Webhook-Signature", payload.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &httpError{StatusCode: resp.StatusCode}
	}

	return nil
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		return he.StatusCode >= 400 && he.StatusCode < 500
	}
	return false
}
