package report

import (
	"fmt"
	"strings"
	"time"

	"keepwatch/app/internal/models"
)

// FormatEmail renders the daily report as a subject line and HTML body.
func FormatEmail(r models.UptimeReport) (subject, body string) {
	subject = fmt.Sprintf("📊 Daily Uptime Report: %s (%.2f%%)", r.ServiceName, r.UptimePct)

	status, color := grade(r.UptimePct)

	var b strings.Builder
	fmt.Fprintf(&b, `<html>
<body style="font-family: Arial, sans-serif; max-width: 800px; margin: 0 auto;">
  <h2 style="color:#333; border-bottom:2px solid #ddd; padding-bottom:10px;">%s &mdash; Daily Uptime Report</h2>
  <p style="color:#666;"><strong>Report period:</strong> %s to %s</p>
  <table style="border-collapse:collapse; width:100%%; margin-bottom:20px;">`,
		r.ServiceName,
		r.WindowStart.UTC().Format("2006-01-02 15:04:05"),
		r.WindowEnd.UTC().Format("2006-01-02 15:04:05"))

	row := func(label, value, valueStyle string) {
		fmt.Fprintf(&b, `<tr><td style="padding:10px; border:1px solid #ddd;"><strong>%s</strong></td><td style="padding:10px; border:1px solid #ddd;%s">%s</td></tr>`,
			label, valueStyle, value)
	}
	row("Uptime", fmt.Sprintf("%.2f%%", r.UptimePct), fmt.Sprintf(" color:%s; font-weight:bold;", color))
	row("Total Checks", fmt.Sprintf("%d", r.TotalChecks), "")
	row("Successful Checks", fmt.Sprintf("%d", r.SuccessfulChecks), " color:green;")
	row("Failed Checks", fmt.Sprintf("%d", r.TotalChecks-r.SuccessfulChecks), " color:red;")
	if r.AvgLatencyMS > 0 {
		row("Average Latency", fmt.Sprintf("%.0fms", r.AvgLatencyMS), "")
	}
	b.WriteString("</table>")

	fmt.Fprintf(&b, `<div style="background-color:%s; color:white; padding:15px; border-radius:5px; text-align:center; margin:20px 0;"><h3 style="margin:0;">Service Status: %s</h3></div>`,
		color, status)

	if len(r.Incidents) > 0 {
		b.WriteString(`<h3 style="color:#333;">⚠️ Incidents</h3>
  <table style="border-collapse:collapse; width:100%;">
    <tr style="background-color:#ffebee;">
      <th style="padding:10px; border:1px solid #ddd; text-align:left;">Endpoint</th>
      <th style="padding:10px; border:1px solid #ddd; text-align:left;">Started</th>
      <th style="padding:10px; border:1px solid #ddd; text-align:left;">Duration</th>
      <th style="padding:10px; border:1px solid #ddd; text-align:left;">Status</th>
    </tr>`)
		for _, inc := range r.Incidents {
			state := "resolved"
			if inc.Open {
				state = "ongoing"
			}
			fmt.Fprintf(&b, `<tr>
      <td style="padding:8px; border:1px solid #ddd;">%s</td>
      <td style="padding:8px; border:1px solid #ddd;">%s</td>
      <td style="padding:8px; border:1px solid #ddd;">%s</td>
      <td style="padding:8px; border:1px solid #ddd; color:%s;">%s</td>
    </tr>`,
				inc.Endpoint,
				inc.StartedAt.UTC().Format("15:04:05"),
				(time.Duration(inc.DurationS) * time.Second).String(),
				map[bool]string{true: "red", false: "green"}[inc.Open],
				state)
		}
		b.WriteString("</table>")
	} else {
		b.WriteString(`<div style="background-color:#e8f5e8; padding:15px; border-radius:5px; margin:20px 0;"><h3 style="color:#2e7d2e; margin:0;">✅ No incidents recorded</h3></div>`)
	}

	b.WriteString(`<hr style="margin:30px 0; border:none; border-top:1px solid #ddd;">
  <p style="color:#666; font-size:12px;">Automatically generated by the Keepwatch uptime monitor.</p>
</body>
</html>`)

	return subject, b.String()
}

func grade(uptimePct float64) (status, color string) {
	switch {
	case uptimePct >= 99:
		return "Excellent", "#4CAF50"
	case uptimePct >= 95:
		return "Good", "#FFC107"
	case uptimePct >= 90:
		return "Fair", "#FF9800"
	default:
		return "Poor", "#F44336"
	}
}
