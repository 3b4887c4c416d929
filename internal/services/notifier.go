package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPNotifier delivers engine events to a webhook endpoint. Consumers use
// the events to trigger document publication, deposit confirmation, payment
// unlocking, or notification delivery.
type HTTPNotifier struct {
	url string
}

// NewHTTPNotifier creates a new HTTPNotifier.
func NewHTTPNotifier(url string) *HTTPNotifier {
	return &HTTPNotifier{url: url}
}

// Notify posts the event as JSON to the configured endpoint.
func (n *HTTPNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.url+"/events", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("failed to deliver event: status code %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes events to the application log. Used when no webhook is
// configured.
type LogNotifier struct {
	logger Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(logger Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the event.
func (n *LogNotifier) Notify(ctx context.Context, ev Event) error {
	n.logger.Info("workflow event", "instance_id", ev.InstanceID, "subject_id", ev.SubjectID, "outcome", ev.Outcome)
	return nil
}
