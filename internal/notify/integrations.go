package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

type integrations struct {
	cfg    config.IntegrationsConfig
	client *http.Client
	logger logger.Logger
}

func newIntegrations(cfg config.IntegrationsConfig, log logger.Logger) *integrations {
	return &integrations{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log,
	}
}

func (i *integrations) sendSlack(ctx context.Context, n *models.Notification) error {
	fields := []slack.AttachmentField{
		{Title: "Severity", Value: string(n.Severity), Short: true},
	}
	if n.IncidentID != "" {
		fields = append(fields, slack.AttachmentField{Title: "Incident", Value: n.IncidentID, Short: true})
	}
	if len(n.ResourceIDs) > 0 {
		fields = append(fields, slack.AttachmentField{Title: "Resources", Value: strings.Join(n.ResourceIDs, ", ")})
	}
	for _, k := range sortedKeys(n.Fields) {
		fields = append(fields, slack.AttachmentField{Title: k, Value: n.Fields[k], Short: true})
	}

	msg := &slack.WebhookMessage{
		Channel: i.cfg.Slack.Channel,
		Attachments: []slack.Attachment{{
			Color:  slackColor(n.Severity),
			Title:  n.Title,
			Text:   n.Message,
			Fields: fields,
			Ts:     json.Number(strconv.FormatInt(n.CreatedAt.Unix(), 10)),
		}},
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, i.cfg.Slack.WebhookURL, i.client, msg); err != nil {
		return err
	}
	i.logger.Info("Slack notification sent", "type", n.Type, "incident_id", n.IncidentID)
	return nil
}

func (i *integrations) sendTeams(ctx context.Context, n *models.Notification) error {
	facts := []map[string]string{
		{"name": "Severity", "value": string(n.Severity)},
		{"name": "Time", "value": n.CreatedAt.Format(time.RFC3339)},
		{"name": "Type", "value": n.Type},
	}
	if n.IncidentID != "" {
		facts = append(facts, map[string]string{"name": "Incident", "value": n.IncidentID})
	}
	for _, k := range sortedKeys(n.Fields) {
		facts = append(facts, map[string]string{"name": k, "value": n.Fields[k]})
	}

	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"summary":    n.Title,
		"themeColor": teamsColor(n.Severity),
		"sections": []map[string]interface{}{{
			"activityTitle": n.Title,
			"text":          n.Message,
			"facts":         facts,
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.MSTeams.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("teams webhook returned status %d", resp.StatusCode)
	}
	i.logger.Info("Teams notification sent", "type", n.Type, "incident_id", n.IncidentID)
	return nil
}

func (i *integrations) sendEmail(ctx context.Context, n *models.Notification) error {
	cfg := i.cfg.Email
	if cfg.SMTPHost == "" || cfg.SMTPPort == 0 || cfg.From == "" || len(cfg.Recipients) == 0 {
		return errors.New("email integration not fully configured")
	}

	from, err := headerValue("from address", cfg.From)
	if err != nil {
		return err
	}
	recipients := make([]string, 0, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		safe, err := headerValue("recipient", r)
		if err != nil {
			return err
		}
		recipients = append(recipients, safe)
	}
	title, err := headerValue("title", n.Title)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("[sentinel] %s - %s", strings.ToUpper(string(n.Severity)), title)
	body := fmt.Sprintf("Incident: %s\nSeverity: %s\nTime: %s\nType: %s\n\n%s",
		n.IncidentID, n.Severity, n.CreatedAt.Format(time.RFC3339), n.Type, n.Message)

	var msg strings.Builder
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + strings.Join(recipients, ",") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}

	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	if err := smtp.SendMail(addr, auth, from, recipients, []byte(msg.String())); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	i.logger.Info("Email notification sent", "type", n.Type, "to", recipients)
	return nil
}

func slackColor(s models.Severity) string {
	switch s {
	case models.SeverityCritical, models.SeverityHigh:
		return "danger"
	case models.SeverityMedium:
		return "warning"
	case models.SeverityLow, models.SeverityInfo:
		return "good"
	default:
		return "#439FE0"
	}
}

func teamsColor(s models.Severity) string {
	switch s {
	case models.SeverityCritical, models.SeverityHigh:
		return "FF0000"
	case models.SeverityMedium:
		return "FFA500"
	default:
		return "0078D4"
	}
}

// headerValue rejects values that could break out of an email or
// webhook header line.
func headerValue(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s is empty", field)
	}
	if strings.ContainsAny(trimmed, "\r\n") {
		return "", fmt.Errorf("%s contains newline characters", field)
	}
	return trimmed, nil
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
