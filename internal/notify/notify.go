// Package notify fans incident notifications out to the configured chat
// and email integrations. Delivery is best-effort per integration: one
// failing webhook never blocks the others, and the caller gets a partial
// failure error it can log and move past.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/metrics"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// Notifier delivers operator-facing notifications.
type Notifier interface {
	Send(ctx context.Context, n *models.Notification) error
}

// Service fans out to every enabled integration.
type Service struct {
	integrations *integrations
	logger       logger.Logger
}

func NewService(cfg config.IntegrationsConfig, log logger.Logger) *Service {
	return &Service{integrations: newIntegrations(cfg, log), logger: log}
}

func (s *Service) Send(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	targets := []struct {
		name    string
		enabled bool
		send    func(context.Context, *models.Notification) error
	}{
		{"slack", s.integrations.cfg.Slack.Enabled, s.integrations.sendSlack},
		{"teams", s.integrations.cfg.MSTeams.Enabled, s.integrations.sendTeams},
		{"email", s.integrations.cfg.Email.Enabled, s.integrations.sendEmail},
	}

	var enabled, failed int
	for _, t := range targets {
		if !t.enabled {
			continue
		}
		enabled++
		if err := t.send(ctx, n); err != nil {
			failed++
			s.logger.Error("Notification failed", "integration", t.name, "type", n.Type, "error", err)
			metrics.NotificationsSent.WithLabelValues(t.name, n.Type, "false").Inc()
			continue
		}
		metrics.NotificationsSent.WithLabelValues(t.name, n.Type, "true").Inc()
	}

	if failed > 0 {
		return fmt.Errorf("notification partially failed: %d/%d integrations failed", failed, enabled)
	}
	return nil
}

type noop struct {
	logger logger.Logger
}

// NewNoop returns a notifier that drops everything. Used when no
// integration is configured.
func NewNoop(log logger.Logger) Notifier {
	return &noop{logger: log}
}

func (n *noop) Send(ctx context.Context, msg *models.Notification) error {
	n.logger.Debug("Notification suppressed, no integrations enabled", "type", msg.Type, "title", msg.Title)
	return nil
}
