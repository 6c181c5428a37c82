package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/rewindlabs/rewind/internal/config"
)

const (
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventRuleFired          = "rule_fired"
	EventAlert              = "alert"
)

// Event is one notification to deliver.
type Event struct {
	Type         string    `json:"type"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	ExecutionID  string    `json:"execution_id,omitempty"`
	Title        string    `json:"title"`
	Message      string    `json:"message,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	Time         time.Time `json:"time"`
}

type target struct {
	kind   string // slack or webhook
	url    string
	events []string // empty means all
}

// Notifier fans events out to the configured slack and webhook endpoints.
type Notifier struct {
	targets    []target
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a notifier from resolved notification configs. URLs must
// already have their value sources materialized.
func New(configs []config.NotifierConfig, logger *slog.Logger) *Notifier {
	targets := make([]target, 0, len(configs))
	for _, nc := range configs {
		if nc.URL.Value == "" {
			continue
		}
		targets = append(targets, target{
			kind:   nc.Type,
			url:    nc.URL.Value,
			events: nc.Events,
		})
	}
	return &Notifier{
		targets:    targets,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Dispatch delivers the event in the background. Delivery failures are
// logged, never surfaced: a dead webhook must not stall a rollback.
func (n *Notifier) Dispatch(event Event) {
	if len(n.targets) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := n.Notify(ctx, event); err != nil {
			n.logger.Warn("notification delivery failed", "event", event.Type, "error", err)
		}
	}()
}

// Notify delivers the event to every target subscribed to its type and
// returns the joined delivery errors.
func (n *Notifier) Notify(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	var deliveryErrors []error
	for _, t := range n.targets {
		if len(t.events) > 0 && !slices.Contains(t.events, event.Type) {
			continue
		}
		if err := n.deliver(ctx, t, event); err != nil {
			deliveryErrors = append(deliveryErrors, fmt.Errorf("%s %s: %w", t.kind, t.url, err))
		}
	}
	return errors.Join(deliveryErrors...)
}

func (n *Notifier) deliver(ctx context.Context, t target, event Event) error {
	var payload []byte
	var err error

	switch t.kind {
	case "slack":
		// Slack wants a single text field.
		text := fmt.Sprintf("*%s*", event.Title)
		if event.Message != "" {
			text += "\n" + event.Message
		}
		payload, err = json.Marshal(map[string]string{"text": text})
	default:
		payload, err = json.Marshal(event)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}
