package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
	"github.com/banshee-data/fatigue.report/internal/httputil"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
)

// WebhookNotifier posts notifications as JSON to an external endpoint,
// typically the emergency contact relay. It runs on the session's
// notifier goroutine, so a slow endpoint delays other sinks but never the
// frame path.
type WebhookNotifier struct {
	URL        string
	Client     httputil.HTTPClient
	AlertsOnly bool
	Timeout    time.Duration
}

func NewWebhookNotifier(url string, alertsOnly bool) *WebhookNotifier {
	return &WebhookNotifier{
		URL:        url,
		Client:     httputil.NewStandardClient(0),
		AlertsOnly: alertsOnly,
		Timeout:    5 * time.Second,
	}
}

func (n *WebhookNotifier) Notify(note pipeline.Notification) {
	if n.AlertsOnly && note.Kind != pipeline.KindAlert {
		return
	}
	if err := n.post(note); err != nil {
		monitoring.Opsf("[webhook] %v", err)
	}
}

func (n *WebhookNotifier) post(note pipeline.Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	ctx := context.Background()
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
