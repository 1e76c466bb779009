package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"risk_engine/internal/core"
)

type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert core.RiskAlert) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f"
	switch alert.Severity {
	case core.SeverityWarning:
		color = "#ffcc00"
	case core.SeverityError:
		color = "#ff0000"
	case core.SeverityCritical:
		color = "#8b0000"
	}

	fields := []map[string]interface{}{
		{"title": "user_id", "value": alert.UserID, "short": true},
	}
	if alert.Symbol != "" {
		fields = append(fields, map[string]interface{}{"title": "symbol", "value": alert.Symbol, "short": true})
	}
	keys := make([]string, 0, len(alert.Data))
	for k := range alert.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": alert.Data[k],
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": fmt.Sprintf("[%s] %s", alert.Severity, alert.Title),
				"text":    alert.Message,
				"fields":  fields,
				"ts":      alert.CreatedAt.Unix(),
				"footer":  "Risk Engine",
			},
		},
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook failed with status: %d", resp.StatusCode)
	}

	return nil
}
