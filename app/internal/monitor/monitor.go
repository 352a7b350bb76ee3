// Package monitor orchestrates the check pipeline shared by both deployment
// shapes: probe fan-out, tracker update, atomic persistence, conditional
// alert dispatch. The continuous loop and the stateless single-shot both go
// through RunCycle, so behavior cannot diverge between them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keepwatch/app/internal/alerts"
	"keepwatch/app/internal/config"
	"keepwatch/app/internal/logger"
	"keepwatch/app/internal/probe"
	"keepwatch/app/internal/report"
	"keepwatch/app/internal/store"
	"keepwatch/app/internal/tracker"
)

// Monitor wires the components of the health-state engine together.
type Monitor struct {
	cfg        *config.Config
	store      *store.Store
	runner     *probe.Runner
	dispatcher *alerts.Dispatcher
}

// New builds a monitor from configuration and an open state store.
func New(cfg *config.Config, st *store.Store) *Monitor {
	return &Monitor{
		cfg:        cfg,
		store:      st,
		runner:     probe.NewRunner(cfg.BaseURL, cfg.Timeout()),
		dispatcher: alerts.NewDispatcher(cfg),
	}
}

// RunCycle executes one complete check cycle: every (endpoint, method) probe
// runs, the state machine consumes all results as one atomic step, the new
// state is committed transactionally and any transition event is dispatched
// afterwards. A store failure aborts the cycle without partial persistence
// and without alerting; that is a monitoring-system fault, not a monitored-
// service fault, and is logged as such.
func (m *Monitor) RunCycle(ctx context.Context) error {
	log := logger.GetLogger()
	cycleAt := time.Now().UTC()

	results := m.runner.RunAll(ctx, m.cfg.Endpoints)

	prior, err := m.store.LoadCycleState(ctx)
	if err != nil {
		log.Errorw("cycle aborted: state store read failed", "error", err)
		return fmt.Errorf("load cycle state: %w", err)
	}

	out := tracker.Update(tracker.Input{
		CycleAt:       cycleAt,
		Results:       results,
		States:        prior.States,
		OpenIncidents: prior.OpenIncidents,
		PrevOverall:   prior.PrevOverall,
		DownThreshold: m.cfg.DownThresholdCycles,
	})

	err = m.store.CommitCycle(ctx, store.CycleCommit{
		CycleAt: cycleAt,
		Results: results,
		States:  out.States,
		Opened:  out.Opened,
		Closed:  out.Closed,
		Overall: out.Aggregate.Overall,
	})
	if errors.Is(err, store.ErrStaleCycle) {
		// Another invocation committed newer results while this one was
		// probing. Drop ours; last writer with fresher probes wins.
		log.Warnw("cycle discarded as stale", "cycle_at", cycleAt)
		return nil
	}
	if err != nil {
		log.Errorw("cycle aborted: state store write failed", "error", err)
		return fmt.Errorf("commit cycle: %w", err)
	}

	if out.Event != nil {
		log.Infow("aggregate status transition",
			"from", out.Event.From, "to", out.Event.To,
			"affected", out.Event.AffectedEndpoints)
		outcome := m.dispatcher.Dispatch(ctx, out.Event)
		for _, f := range outcome.Failed {
			log.Errorw("alert delivery failed", "channel", f.Channel, "error", f.Err)
		}
	}

	log.Infow("cycle completed",
		"overall", out.Aggregate.Overall,
		"healthy_fraction", out.Aggregate.HealthyFraction,
		"checks", len(results))
	return nil
}

// RunReportIfDue produces and delivers the daily report when the schedule
// guard says one is owed, then resets the window. Generation or delivery
// failure leaves the window untouched so the next trigger retries with the
// same accumulated data.
func (m *Monitor) RunReportIfDue(ctx context.Context, now time.Time) error {
	hour, minute, err := m.cfg.ReportTime()
	if err != nil {
		return err
	}
	lastReport, err := m.store.LastReportAt(ctx)
	if err != nil {
		return err
	}
	window, err := m.store.LoadWindow(ctx)
	if err != nil {
		return err
	}
	if !report.Due(now, lastReport, window.StartedAt, hour, minute) {
		return nil
	}
	return m.produceReport(ctx, now)
}

// ForceReport produces a report immediately, bypassing the schedule guard.
func (m *Monitor) ForceReport(ctx context.Context) error {
	return m.produceReport(ctx, time.Now().UTC())
}

func (m *Monitor) produceReport(ctx context.Context, now time.Time) error {
	log := logger.GetLogger()

	window, err := m.store.LoadWindow(ctx)
	if err != nil {
		log.Errorw("report skipped: window load failed", "error", err)
		return fmt.Errorf("load window: %w", err)
	}

	rep := report.Aggregate(window, m.cfg.ServiceName, now)
	log.Infow("daily report generated",
		"uptime_pct", rep.UptimePct,
		"total_checks", rep.TotalChecks,
		"incidents", len(rep.Incidents))

	// Delivery: a report counts as produced when at least one configured
	// channel accepted it, or when no channel is configured at all (the
	// log line above is then the delivery).
	attempted, delivered := 0, 0
	if m.cfg.SMTP.Configured() {
		attempted++
		subject, body := report.FormatEmail(rep)
		if err := m.dispatcher.SendEmail(ctx, subject, body); err != nil {
			log.Errorw("report email failed", "error", err)
		} else {
			delivered++
		}
	}
	if m.cfg.Webhook.Enabled && m.cfg.Webhook.URL != "" {
		attempted++
		if err := m.dispatcher.SendWebhook(ctx, "daily_report", rep); err != nil {
			log.Errorw("report webhook failed", "error", err)
		} else {
			delivered++
		}
	}
	if attempted > 0 && delivered == 0 {
		// Window intentionally not reset: the next trigger retries with the
		// same accumulated history.
		return fmt.Errorf("report delivery failed on all %d channels", attempted)
	}

	if err := m.store.ResetWindow(ctx, now); err != nil {
		log.Errorw("window reset failed", "error", err)
		return fmt.Errorf("reset window: %w", err)
	}
	log.Infow("report window reset", "new_window_start", now)
	return nil
}

// RunLoop is the continuous deployment shape: completion-based cycles at the
// configured interval with the report trigger checked after each cycle.
// Cancellation is cooperative; the in-flight cycle finishes before return.
func (m *Monitor) RunLoop(ctx context.Context) error {
	log := logger.GetLogger()
	interval := m.cfg.CheckInterval()
	log.Infow("starting continuous monitor",
		"base_url", m.cfg.BaseURL, "interval", interval)

	// Cycles run detached from the loop context so a stop signal lets the
	// in-flight cycle finish; each probe is still bounded by its timeout.
	cycleCtx := context.WithoutCancel(ctx)

	for {
		cycleStart := time.Now()

		if err := m.RunCycle(cycleCtx); err != nil {
			log.Errorw("cycle failed", "error", err)
		}
		if err := m.RunReportIfDue(cycleCtx, time.Now().UTC()); err != nil {
			log.Errorw("report run failed", "error", err)
		}

		elapsed := time.Since(cycleStart)
		sleep := interval - elapsed
		if sleep < 0 {
			log.Warnw("cycle overran interval", "elapsed", elapsed, "interval", interval)
			sleep = 0
		}

		select {
		case <-ctx.Done():
			log.Infow("monitor stopping")
			return nil
		case <-time.After(sleep):
		}
	}
}
