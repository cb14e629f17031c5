package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HTTPNotifier posts driver signals to the conversational driver's callback
// endpoint. Delivery is best effort; the call never blocks on the driver.
type HTTPNotifier struct {
	url   string
	httpc *http.Client
	log   *slog.Logger
}

func NewHTTPNotifier(url string, log *slog.Logger) *HTTPNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPNotifier{
		url:   url,
		httpc: &http.Client{Timeout: 5 * time.Second},
		log:   log,
	}
}

func (n *HTTPNotifier) LegReady(ctx context.Context, roomName string) {
	n.post(ctx, map[string]string{"type": "leg_ready", "room_name": roomName})
}

func (n *HTTPNotifier) CustomerConnected(ctx context.Context, roomName string) {
	n.post(ctx, map[string]string{"type": "customer_connected", "room_name": roomName})
}

func (n *HTTPNotifier) EscalationFailed(ctx context.Context, roomName, reason string) {
	n.post(ctx, map[string]string{"type": "escalation_failed", "room_name": roomName, "reason": reason})
}

func (n *HTTPNotifier) post(ctx context.Context, payload map[string]string) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Warn("driver notify request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpc.Do(req)
	if err != nil {
		n.log.Warn("driver notify failed", "type", payload["type"], "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warn("driver notify rejected", "type", payload["type"], "status", resp.StatusCode)
	}
}
