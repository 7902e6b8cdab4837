package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/obsidianstack/gpuburn/burner/internal/diagnosis"
	"github.com/obsidianstack/gpuburn/burner/internal/report"
)

// deliver sends a to every configured webhook. Errors are logged.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.sendSlack(url, fmt.Sprintf("*%s* %s", severityLabel(a.Severity), a.Message))
		case "teams":
			err = e.sendTeams(url, "gpu-burn alert: "+a.RuleName, a.Message, severityColor(a.Severity))
		case "http":
			err = e.sendJSON(url, map[string]any{"alert": a})
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed", "type", wh.Type, "rule", a.RuleName, "err", err)
		} else {
			slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "state", a.State)
		}
	}
}

// NotifyResult sends the final run result to every webhook and waits for
// the deliveries to finish.
func (e *Engine) NotifyResult(r report.Report) {
	severity := "info"
	if r.Result != "pass" {
		severity = "critical"
	}
	ok, warn, faulty := 0, 0, 0
	for _, d := range r.Devices {
		switch d.Verdict {
		case diagnosis.OK.String():
			ok++
		case diagnosis.Warning.String():
			warn++
		case diagnosis.Faulty.String():
			faulty++
		}
	}
	text := fmt.Sprintf("gpu-burn run %s: %s (%d OK, %d WARNING, %d FAULTY, exit code %d)",
		r.RunID, r.Result, ok, warn, faulty, r.ExitCode)
	if r.Error != "" {
		text += ": " + r.Error
	}

	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		var err error
		switch wh.Type {
		case "slack":
			err = e.sendSlack(url, fmt.Sprintf("*%s* %s", severityLabel(severity), text))
		case "teams":
			err = e.sendTeams(url, "gpu-burn result", text, severityColor(severity))
		case "http":
			err = e.sendJSON(url, map[string]any{"result": r})
		default:
			continue
		}
		if err != nil {
			slog.Error("alerts: result delivery failed", "type", wh.Type, "err", err)
		}
	}
	e.Flush()
}

func (e *Engine) sendSlack(url, text string) error {
	body, _ := json.Marshal(map[string]string{"text": text})
	return e.post(url, body)
}

func (e *Engine) sendTeams(url, title, text, color string) error {
	body, _ := json.Marshal(map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": color,
		"summary":    title,
		"title":      title,
		"text":       text,
	})
	return e.post(url, body)
}

func (e *Engine) sendJSON(url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return e.post(url, body)
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
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

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
