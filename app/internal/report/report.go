// Package report computes the once-daily aggregate uptime report over the
// accumulated window. Aggregation is pure; persistence (the window reset and
// the last-report guard) stays in the store, delivery in the dispatcher.
package report

import (
	"time"

	"keepwatch/app/internal/models"
)

// Aggregate computes the uptime report for the window as of now. A window
// with zero checks reports 100% uptime, not a division error. Average
// latency covers successful checks only. Open incidents get a provisional
// duration ending at now.
func Aggregate(w *models.DailyWindow, serviceName string, now time.Time) models.UptimeReport {
	r := models.UptimeReport{
		ServiceName: serviceName,
		WindowStart: w.StartedAt,
		WindowEnd:   now,
		TotalChecks: len(w.Checks),
		UptimePct:   100.0,
	}

	latencySum := 0
	latencyCount := 0
	for _, c := range w.Checks {
		if c.OK {
			r.SuccessfulChecks++
			if c.LatencyMS != nil {
				latencySum += *c.LatencyMS
				latencyCount++
			}
		}
	}
	if r.TotalChecks > 0 {
		r.UptimePct = float64(r.SuccessfulChecks) / float64(r.TotalChecks) * 100
	}
	if latencyCount > 0 {
		r.AvgLatencyMS = float64(latencySum) / float64(latencyCount)
	}

	for _, inc := range w.Incidents {
		r.Incidents = append(r.Incidents, models.IncidentSummary{
			Endpoint:  inc.Endpoint,
			StartedAt: inc.StartedAt,
			EndedAt:   inc.EndedAt,
			DurationS: int64(inc.Duration(now).Seconds()),
			Open:      inc.Open(),
		})
	}

	return r
}

// Due reports whether a report should be produced at now. The schedule is a
// daily HH:MM instant in UTC; a report is due once the most recent scheduled
// instant has passed without being covered by lastReport. Repeated stateless
// invocations inside the same day therefore produce the report exactly once.
// A never-reported install uses the window start as the guard so it does not
// fire a report the moment it is deployed.
func Due(now, lastReport, windowStart time.Time, hour, minute int) bool {
	guard := lastReport
	if guard.IsZero() {
		guard = windowStart
	}

	now = now.UTC()
	scheduled := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if scheduled.After(now) {
		scheduled = scheduled.AddDate(0, 0, -1)
	}
	return guard.Before(scheduled)
}
