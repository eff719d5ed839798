package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/echoscope/echoscope/server/internal/config"
)

const deliveryTimeout = 15 * time.Second

// deliver sends notifications for a to all configured targets.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(a *Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	for _, wh := range e.webhooks {
		var err error
		switch wh.Type {
		case "email":
			err = e.sendEmail(ctx, wh, a)
		case "slack", "teams", "http":
			url := wh.URL()
			if url == "" {
				continue
			}
			switch wh.Type {
			case "slack":
				err = e.sendSlack(ctx, url, a)
			case "teams":
				err = e.sendTeams(ctx, url, a)
			default:
				err = e.sendHTTP(ctx, url, a)
			}
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"err", err,
			)
		} else {
			slog.Debug("alerts: delivered",
				"type", wh.Type,
				"rule", a.RuleName,
				"state", a.State,
			)
		}
	}
}

func (e *Engine) sendSlack(ctx context.Context, url string, a *Alert) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", severityLabel(a), a.Message),
	})
	return e.post(ctx, url, body)
}

func (e *Engine) sendTeams(ctx context.Context, url string, a *Alert) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a),
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("echoscope alert: %s", a.RuleName),
		"text":       a.Message,
	}
	body, _ := json.Marshal(payload)
	return e.post(ctx, url, body)
}

func (e *Engine) sendHTTP(ctx context.Context, url string, a *Alert) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": a})
	return e.post(ctx, url, body)
}

func (e *Engine) sendEmail(ctx context.Context, wh config.WebhookConfig, a *Alert) error {
	key := wh.APIKey()
	if key == "" {
		return fmt.Errorf("email: %s is not set", wh.APIKeyEnv)
	}
	name := wh.FromName
	if name == "" {
		name = "echoscope"
	}
	return e.newMailer(key).Send(ctx, Mail{
		FromName: name,
		From:     wh.From,
		To:       wh.To,
		Subject:  emailSubject(a),
		Text:     emailBody(a),
	})
}

func (e *Engine) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(a *Alert) string {
	if a.State == "resolved" {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(a *Alert) string {
	if a.State == "resolved" {
		return "2ECC71"
	}
	switch a.Severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
