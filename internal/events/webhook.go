package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookNotifier forwards every event delivered to it as a JSON POST to a
// single configured URL. Subscribe it to whichever event types should leave
// the process (typically circuit transitions and trade closes).
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookNotifier constructs a notifier posting to url with the given
// request timeout.
func NewWebhookNotifier(logger *zap.Logger, url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("webhook"),
	}
}

// Handler returns a Handler suitable for Bus.Subscribe.
func (w *WebhookNotifier) Handler() Handler {
	return func(evt Event) error {
		return w.deliver(evt)
	}
}

func (w *WebhookNotifier) deliver(evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("webhook delivery failed", zap.Error(err), zap.String("type", string(evt.Type)))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.logger.Warn("webhook returned non-2xx status",
			zap.Int("status", resp.StatusCode),
			zap.String("type", string(evt.Type)),
		)
	}
	return nil
}

// SubscribeAll wires the notifier to every event type the bus carries.
func (w *WebhookNotifier) SubscribeAll(bus *Bus) {
	for _, t := range []EventType{
		EventCircuitTransition,
		EventCircuitReset,
		EventOrderRejected,
		EventOrderSubmitted,
		EventTradeClosed,
		EventSignalGenerated,
	} {
		bus.Subscribe(t, w.Handler())
	}
}
