package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/framereel/internal/assembler"
	"github.com/therealutkarshpriyadarshi/framereel/internal/logging"
)

// Webhook events
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// Config holds webhook delivery settings
type Config struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	// Logger receives delivery failures; nil discards them
	Logger *logging.Logger
}

// Payload is the JSON body posted for a job outcome
type Payload struct {
	Event      string    `json:"event"`
	DeliveryID string    `json:"delivery_id"`
	Timestamp  time.Time `json:"timestamp"`
	JobID      string    `json:"job_id"`
	Format     string    `json:"format,omitempty"`
	Frames     int       `json:"frames,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Notifier posts job outcomes to a single configured URL. Deliveries are not
// persisted; a delivery that exhausts its attempts is logged and dropped.
type Notifier struct {
	cfg    Config
	logger *logging.Logger
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

// NewNotifier creates a new notifier
func NewNotifier(cfg Config) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Notifier{
		cfg:    cfg,
		logger: logger.WithField("component", "webhook"),
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		sleep: sleepContext,
	}
}

// Observer turns job completion and failure events into deliveries made in the background
func (n *Notifier) Observer() assembler.Observer {
	return assembler.ObserverFunc(func(e assembler.Event) {
		payload, ok := payloadFor(e)
		if !ok {
			return
		}

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.Send(context.Background(), payload); err != nil {
				n.logger.WithJobID(payload.JobID).WithField("event", payload.Event).ErrorWithErr("Webhook delivery failed", err)
			}
		}()
	})
}

// Wait blocks until background deliveries finish
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Send delivers payload, retrying failed attempts with linear backoff
func (n *Notifier) Send(ctx context.Context, payload Payload) error {
	if payload.DeliveryID == "" {
		payload.DeliveryID = uuid.New().String()
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := n.sleep(ctx, time.Duration(attempt-1)*n.cfg.Backoff); err != nil {
				return err
			}
		}

		lastErr = n.deliver(ctx, payload, body)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", n.cfg.MaxAttempts, lastErr)
}

// deliver makes a single delivery attempt
func (n *Notifier) deliver(ctx context.Context, payload Payload, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Framereel-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", payload.Event)
	req.Header.Set("X-Webhook-Delivery", payload.DeliveryID)

	// Add HMAC signature if secret is configured
	if n.cfg.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(body, n.cfg.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func payloadFor(e assembler.Event) (Payload, bool) {
	p := Payload{
		JobID:      e.JobID,
		Format:     string(e.Format),
		Frames:     e.Frames,
		SizeBytes:  e.Bytes,
		DurationMs: e.Duration.Milliseconds(),
		Timestamp:  e.Time,
	}

	switch e.Type {
	case assembler.EventJobCompleted:
		p.Event = EventJobCompleted
	case assembler.EventJobFailed:
		p.Event = EventJobFailed
		if e.Err != nil {
			p.ErrorKind = string(e.Err.Kind)
			p.Error = e.Err.Error()
		}
	default:
		return Payload{}, false
	}
	return p, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
