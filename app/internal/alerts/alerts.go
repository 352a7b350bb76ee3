// Package alerts turns aggregate transition events into notifications.
// Dispatch is the only side-effecting step in the check pipeline: it runs
// after the cycle's state is persisted, is bounded by per-channel timeouts
// and never rolls anything back. Delivery is best-effort; if the outage
// persists the next transition will alert again.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"keepwatch/app/internal/config"
	"keepwatch/app/internal/logger"
	"keepwatch/app/internal/models"
)

const channelTimeout = 15 * time.Second

// ChannelError records a failed delivery on one channel.
type ChannelError struct {
	Channel string
	Err     error
}

// DeliveryOutcome reports what happened to one dispatch. Delivery failures
// are data for the caller, never reasons to roll back state.
type DeliveryOutcome struct {
	Suppressed bool
	Sent       []string
	Failed     []ChannelError
}

// OK reports whether every attempted channel delivered.
func (o DeliveryOutcome) OK() bool { return len(o.Failed) == 0 }

// Dispatcher delivers notifications over the configured channels.
type Dispatcher struct {
	serviceName string
	baseURL     string
	smtp        config.SMTP
	webhook     config.Webhook
	policy      config.AlertPolicy
}

// NewDispatcher creates a dispatcher from configuration.
func NewDispatcher(cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		serviceName: cfg.ServiceName,
		baseURL:     cfg.BaseURL,
		smtp:        cfg.SMTP,
		webhook:     cfg.Webhook,
		policy:      cfg.Alerts,
	}
}

// Dispatch formats and delivers the notification for one transition event.
// Policy may suppress it (e.g. degraded transitions are quiet by default);
// a suppressed event is a successful no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.TransitionEvent) DeliveryOutcome {
	log := logger.GetLogger()

	n, allowed := d.buildNotification(event)
	if !allowed {
		log.Infow("alert suppressed by policy",
			"from", event.From, "to", event.To)
		return DeliveryOutcome{Suppressed: true}
	}

	subject, body := formatAlertEmail(n, d.baseURL)
	var out DeliveryOutcome

	if d.smtp.Configured() {
		if err := d.SendEmail(ctx, subject, body); err != nil {
			log.Errorw("alert email failed", "to", d.smtp.To, "error", err)
			out.Failed = append(out.Failed, ChannelError{Channel: "email", Err: err})
		} else {
			log.Infow("alert email sent", "to", d.smtp.To, "subject", subject)
			out.Sent = append(out.Sent, "email")
		}
	}

	if d.webhook.Enabled && d.webhook.URL != "" {
		if err := d.SendWebhook(ctx, "status_change", n); err != nil {
			log.Errorw("alert webhook failed", "url", d.webhook.URL, "error", err)
			out.Failed = append(out.Failed, ChannelError{Channel: "webhook", Err: err})
		} else {
			log.Infow("alert webhook sent", "url", d.webhook.URL)
			out.Sent = append(out.Sent, "webhook")
		}
	}

	if len(out.Sent) == 0 && len(out.Failed) == 0 {
		log.Warnw("no alert channels configured", "severity", n.Severity)
	}
	return out
}

// buildNotification maps a transition onto a notification payload and
// applies the alert policy.
func (d *Dispatcher) buildNotification(event *models.TransitionEvent) (models.Notification, bool) {
	n := models.Notification{
		ServiceName:       d.serviceName,
		AffectedEndpoints: event.AffectedEndpoints,
		StartedAt:         event.At,
	}

	switch {
	case event.To == models.OverallDown:
		n.Severity = models.SeverityDown
		if !event.DownSince.IsZero() {
			n.StartedAt = event.DownSince
		}
		n.ErrorSummary = summarizeFailures(event.Failures)
		return n, d.policy.OnDown
	case event.To == models.OverallHealthy && event.From == models.OverallDown:
		n.Severity = models.SeverityRecovered
		if !event.DownSince.IsZero() {
			n.StartedAt = event.DownSince
			n.DurationS = int64(event.At.Sub(event.DownSince).Seconds())
		}
		return n, d.policy.OnRecovered
	case event.To == models.OverallHealthy:
		// DEGRADED -> HEALTHY: full recovery from a partial outage.
		n.Severity = models.SeverityRecovered
		if !event.DownSince.IsZero() {
			n.StartedAt = event.DownSince
			n.DurationS = int64(event.At.Sub(event.DownSince).Seconds())
		}
		return n, d.policy.OnRecovered
	default:
		n.Severity = models.SeverityDegraded
		n.ErrorSummary = summarizeFailures(event.Failures)
		return n, d.policy.OnDegraded
	}
}

// summarizeFailures condenses the failing probes into a one-line reason list.
func summarizeFailures(failures []models.CheckResult) string {
	if len(failures) == 0 {
		return ""
	}
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		reason := string(f.ErrorKind)
		if f.Error != "" {
			reason = fmt.Sprintf("%s (%s)", f.ErrorKind, f.Error)
		}
		parts = append(parts, fmt.Sprintf("%s %s: %s", f.Method, f.Endpoint, reason))
	}
	return strings.Join(parts, "; ")
}
