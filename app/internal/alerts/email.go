package alerts

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"keepwatch/app/internal/models"
)

// SendEmail delivers an HTML email over the configured SMTP server. The
// context bounds the whole exchange; a dead SMTP server cannot stall the
// check pipeline.
func (d *Dispatcher) SendEmail(ctx context.Context, subject, body string) error {
	if !d.smtp.Configured() {
		return fmt.Errorf("SMTP configuration incomplete")
	}

	ctx, cancel := context.WithTimeout(ctx, channelTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.sendEmailBlocking(subject, body) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smtp delivery timed out: %w", ctx.Err())
	}
}

func (d *Dispatcher) sendEmailBlocking(subject, body string) error {
	from := d.smtp.From
	if from == "" {
		from = d.smtp.User
	}

	headers := map[string]string{
		"From":         from,
		"To":           d.smtp.To,
		"Subject":      mime.QEncoding.Encode("utf-8", subject),
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=UTF-8",
	}
	var msg strings.Builder
	for k, v := range headers {
		fmt.Fprintf(&msg, "%s: %s\r\n", k, v)
	}
	msg.WriteString("\r\n" + body)

	host := strings.TrimSpace(d.smtp.Host)
	addr := fmt.Sprintf("%s:%d", host, d.smtp.Port)

	c, err := dialSMTP(addr, host, d.smtp.Port, d.smtp.SkipVerify)
	if err != nil {
		return err
	}

	if ok, _ := c.Extension("AUTH"); ok && d.smtp.User != "" {
		auth := smtp.PlainAuth("", d.smtp.User, d.smtp.Password, host)
		if err := c.Auth(auth); err != nil {
			_ = c.Close()
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		_ = c.Close()
		return err
	}
	if err := c.Rcpt(d.smtp.To); err != nil {
		_ = c.Close()
		return err
	}
	w, err := c.Data()
	if err != nil {
		_ = c.Close()
		return err
	}
	if _, err := w.Write([]byte(msg.String())); err != nil {
		_ = w.Close()
		_ = c.Close()
		return err
	}
	if err := w.Close(); err != nil {
		_ = c.Close()
		return err
	}
	return c.Quit()
}

func dialSMTP(addr, host string, port int, skipVerify bool) (*smtp.Client, error) {
	tlsConfig := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: skipVerify,
	}

	// Implicit TLS for SMTPS (commonly port 465)
	if port == 465 {
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, host)
	}

	// Plain TCP + STARTTLS if supported
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// formatAlertEmail builds the subject and HTML body for a notification.
func formatAlertEmail(n models.Notification, baseURL string) (subject, body string) {
	var headline, detail, color string
	switch n.Severity {
	case models.SeverityDown:
		subject = fmt.Sprintf("🔴 Service Down: %s", n.ServiceName)
		headline = "SERVICE DOWN"
		color = "#ef4444"
		detail = fmt.Sprintf("<strong>%s</strong> is unreachable: every probed endpoint failed its health check. Investigate immediately.", n.ServiceName)
	case models.SeverityRecovered:
		subject = fmt.Sprintf("✅ Service Recovered: %s", n.ServiceName)
		headline = "SERVICE RECOVERED"
		color = "#22c55e"
		detail = fmt.Sprintf("<strong>%s</strong> has recovered and is responding normally after %s of downtime.", n.ServiceName, formatDuration(n.DurationS))
	default:
		subject = fmt.Sprintf("⚠️ Service Degraded: %s", n.ServiceName)
		headline = "SERVICE DEGRADED"
		color = "#eab308"
		detail = fmt.Sprintf("Some endpoints of <strong>%s</strong> are failing health checks while others respond.", n.ServiceName)
	}

	rows := fmt.Sprintf(`<tr><td style="padding:6px 10px; color:#9ca3af;">Service</td><td style="padding:6px 10px; text-align:right; font-weight:600;">%s</td></tr>
<tr><td style="padding:6px 10px; color:#9ca3af;">Status</td><td style="padding:6px 10px; text-align:right; color:%s; font-weight:700;">%s</td></tr>
<tr><td style="padding:6px 10px; color:#9ca3af;">Since</td><td style="padding:6px 10px; text-align:right;">%s</td></tr>`,
		n.ServiceName, color, headline, n.StartedAt.UTC().Format("Jan 2, 2006 15:04:05 MST"))

	if len(n.AffectedEndpoints) > 0 {
		rows += fmt.Sprintf(`<tr><td style="padding:6px 10px; color:#9ca3af;">Endpoints</td><td style="padding:6px 10px; text-align:right;">%s</td></tr>`,
			strings.Join(n.AffectedEndpoints, ", "))
	}
	if n.ErrorSummary != "" {
		rows += fmt.Sprintf(`<tr><td style="padding:6px 10px; color:#9ca3af;">Failures</td><td style="padding:6px 10px; text-align:right; color:#ef4444;">%s</td></tr>`,
			n.ErrorSummary)
	}
	if n.Severity == models.SeverityRecovered && n.DurationS > 0 {
		rows += fmt.Sprintf(`<tr><td style="padding:6px 10px; color:#9ca3af;">Downtime</td><td style="padding:6px 10px; text-align:right;">%s</td></tr>`,
			formatDuration(n.DurationS))
	}

	body = fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="margin:0; padding:24px; background-color:#0c121c; color:#e5e7eb; font-family:'Segoe UI', Arial, sans-serif;">
  <table role="presentation" width="100%%" cellpadding="0" cellspacing="0" style="max-width:620px; margin:0 auto; background-color:#111827; border:1px solid #1f2937; border-radius:12px;">
    <tr>
      <td style="padding:24px; border-bottom:1px solid #1f2937;">
        <div style="font-size:18px; font-weight:700;">Keepwatch</div>
        <div style="color:#9ca3af; font-size:12px;">Uptime Monitor &middot; %s</div>
      </td>
    </tr>
    <tr>
      <td style="padding:24px;">
        <div style="font-size:20px; font-weight:700; color:%s; margin-bottom:12px;">%s</div>
        <div style="color:#d1d5db; font-size:13px; margin-bottom:18px;">%s</div>
        <table role="presentation" width="100%%" cellpadding="0" cellspacing="0" style="background-color:#0f172a; border:1px solid #1f2937; border-radius:8px; font-size:13px;">
          %s
        </table>
      </td>
    </tr>
    <tr>
      <td style="padding:16px 24px; border-top:1px solid #1f2937; color:#6b7280; font-size:11px;">
        Automated alert from the Keepwatch monitor watching %s.
      </td>
    </tr>
  </table>
</body>
</html>`, baseURL, color, headline, detail, rows, baseURL)

	return subject, body
}

func formatDuration(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
