package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mvr-etl/internal/observability"
)

// Notifier is told about every stage attempt.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Notifiers fans an event out to every notifier, collecting their errors.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events as structured log lines.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.String("stage", string(ev.Stage)),
		zap.String("outcome", string(ev.Outcome)),
		zap.Duration("duration", ev.Duration),
	}
	if ev.Rows > 0 {
		fields = append(fields, zap.Int64("rows", ev.Rows))
	}
	if ev.Checksum != "" {
		fields = append(fields, zap.String("checksum", ev.Checksum))
	}

	switch ev.Outcome {
	case OutcomeSuccess:
		n.Logger.Info(ev.Text(), fields...)
	case OutcomeRetry:
		n.Logger.Warn(ev.Text(), append(fields, zap.Int("attempt", ev.Attempt), zap.Error(ev.Err))...)
	default:
		n.Logger.Error(ev.Text(), append(fields, zap.Error(ev.Err))...)
	}
	return nil
}

// MetricsNotifier records stage outcomes in Prometheus.
type MetricsNotifier struct{}

func (MetricsNotifier) Notify(_ context.Context, ev Event) error {
	if ev.Outcome == OutcomeRetry {
		observability.RecordStageRetry(string(ev.Stage))
		return nil
	}
	observability.RecordStageRun(string(ev.Stage), string(ev.Outcome), ev.Duration.Seconds())
	return nil
}

// WebhookPayload is the JSON body posted by WebhookNotifier.
type WebhookPayload struct {
	RunID      string `json:"run_id"`
	Stage      string `json:"stage"`
	Outcome    string `json:"outcome"`
	Message    string `json:"message"`
	Rows       int64  `json:"rows"`
	Checksum   string `json:"checksum,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	Error      string `json:"error,omitempty"`
	Started    string `json:"started"`
	DurationMs int64  `json:"duration_ms"`
}

// WebhookNotifier posts events as JSON to URL.
type WebhookNotifier struct {
	URL  string
	HTTP *http.Client
}

func (n WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	payload := WebhookPayload{
		RunID:      ev.RunID,
		Stage:      string(ev.Stage),
		Outcome:    string(ev.Outcome),
		Message:    ev.Text(),
		Rows:       ev.Rows,
		Checksum:   ev.Checksum,
		Attempt:    ev.Attempt,
		Started:    ev.Started.UTC().Format(time.RFC3339),
		DurationMs: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		payload.Error = ev.Err.Error()
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	client := n.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
