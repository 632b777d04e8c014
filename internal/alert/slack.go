// Package alert posts operational alerts to Slack. Delivery is best effort:
// a broken webhook must never fail the payment path that triggered it.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"payment-bridge/internal/util"
)

type Notifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNotifier creates a Slack notifier. An empty webhook URL disables
// delivery; SendCriticalAlert becomes a no-op.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: strings.TrimSpace(webhookURL),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     util.GetLogger(),
	}
}

// SendCriticalAlert posts a block-kit message with the failure title plus
// key/value context fields. Failures are logged, never returned.
func (n *Notifier) SendCriticalAlert(ctx context.Context, title string, fields map[string]string) {
	if n.webhookURL == "" {
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Sorted keys keep consecutive alerts for the same failure diffable.
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("*%s:* %s", k, fields[k]))
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": ":rotating_light: " + title, "emoji": true},
		},
	}
	if len(lines) > 0 {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": strings.Join(lines, "\n")},
		})
	}
	payload := map[string]any{
		"text":   title,
		"blocks": blocks,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("alert payload encode failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(encoded))
	if err != nil {
		n.logger.Warn("alert request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("alert delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Slack answers incoming webhooks with a plain-text "ok".
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64))
	if resp.StatusCode >= 400 {
		n.logger.Warn("alert rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("body", strings.TrimSpace(string(body))))
	}
}
