package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"keepwatch/app/internal/config"
	"keepwatch/app/internal/models"
	"keepwatch/app/internal/store"
)

// testBackend is the monitored service: every endpoint answers 200 while
// healthy is set and 503 otherwise.
type testBackend struct {
	healthy atomic.Bool
	srv     *httptest.Server
}

func newTestBackend() *testBackend {
	b := &testBackend{}
	b.healthy.Store(true)
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	return b
}

// webhookSink collects every webhook delivery so tests can assert on alert
// counts and payloads.
type webhookSink struct {
	mu     sync.Mutex
	events []webhookEvent
	srv    *httptest.Server
}

type webhookEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func newWebhookSink() *webhookSink {
	s := &webhookSink{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev webhookEvent
		if err := json.Unmarshal(body, &ev); err == nil {
			s.mu.Lock()
			s.events = append(s.events, ev)
			s.mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	return s
}

func (s *webhookSink) byKind(kind string) []webhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []webhookEvent
	for _, ev := range s.events {
		if ev.Event == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestMonitor(t *testing.T, backendURL, webhookURL string) (*Monitor, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		ServiceName: "Campus Connect",
		BaseURL:     backendURL,
		Endpoints: []models.Endpoint{
			{Path: "/ping", Methods: []string{"GET"}},
			{Path: "/api/health", Methods: []string{"GET"}},
		},
		TimeoutSeconds:      2,
		ReportSchedule:      "00:00",
		DownThresholdCycles: 1,
		Webhook:             config.Webhook{Enabled: true, URL: webhookURL},
		Alerts:              config.AlertPolicy{OnDown: true, OnRecovered: true},
	}
	return New(cfg, st), st
}

func TestRunCycle_OutageAlertsExactlyOnce(t *testing.T) {
	backend := newTestBackend()
	defer backend.srv.Close()
	sink := newWebhookSink()
	defer sink.srv.Close()

	m, _ := newTestMonitor(t, backend.srv.URL, sink.srv.URL)
	ctx := context.Background()

	// Healthy cycle: no transition, no alert.
	if err := m.RunCycle(ctx); err != nil {
		t.Fatalf("healthy cycle: %v", err)
	}
	if got := sink.byKind("status_change"); len(got) != 0 {
		t.Fatalf("healthy cycle alerted: %d events", len(got))
	}

	// Full outage: exactly one DOWN alert.
	backend.healthy.Store(false)
	if err := m.RunCycle(ctx); err != nil {
		t.Fatalf("outage cycle: %v", err)
	}
	changes := sink.byKind("status_change")
	if len(changes) != 1 {
		t.Fatalf("outage alerts = %d, want 1", len(changes))
	}
	var n models.Notification
	if err := json.Unmarshal(changes[0].Payload, &n); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if n.Severity != models.SeverityDown {
		t.Errorf("severity=%s, want DOWN", n.Severity)
	}
	if len(n.AffectedEndpoints) != 2 {
		t.Errorf("affected=%v", n.AffectedEndpoints)
	}

	// Sustained outage: state unchanged, no duplicate alert.
	if err := m.RunCycle(ctx); err != nil {
		t.Fatalf("sustained cycle: %v", err)
	}
	if got := sink.byKind("status_change"); len(got) != 1 {
		t.Fatalf("sustained outage re-alerted: %d events", len(got))
	}

	// Recovery: one RECOVERED alert.
	backend.healthy.Store(true)
	if err := m.RunCycle(ctx); err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	changes = sink.byKind("status_change")
	if len(changes) != 2 {
		t.Fatalf("alerts after recovery = %d, want 2", len(changes))
	}
	if err := json.Unmarshal(changes[1].Payload, &n); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if n.Severity != models.SeverityRecovered {
		t.Errorf("severity=%s, want RECOVERED", n.Severity)
	}
}

func TestRunCycle_ColdStartOutageAlerts(t *testing.T) {
	backend := newTestBackend()
	defer backend.srv.Close()
	sink := newWebhookSink()
	defer sink.srv.Close()

	backend.healthy.Store(false)
	m, _ := newTestMonitor(t, backend.srv.URL, sink.srv.URL)

	// The very first cycle ever observed is a full outage; it must alert.
	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if got := sink.byKind("status_change"); len(got) != 1 {
		t.Fatalf("cold-start outage alerts = %d, want 1", len(got))
	}
}

func TestRunCycle_PersistsAcrossMonitors(t *testing.T) {
	backend := newTestBackend()
	defer backend.srv.Close()
	sink := newWebhookSink()
	defer sink.srv.Close()

	m, st := newTestMonitor(t, backend.srv.URL, sink.srv.URL)
	ctx := context.Background()

	backend.healthy.Store(false)
	if err := m.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// A fresh monitor over the same store models the stateless cron shape:
	// each invocation is a new process, the store carries the state.
	m2 := New(m.cfg, st)
	if err := m2.RunCycle(ctx); err != nil {
		t.Fatalf("second invocation: %v", err)
	}
	if got := sink.byKind("status_change"); len(got) != 1 {
		t.Fatalf("state did not persist across invocations: %d alerts", len(got))
	}
}

func TestRunReportIfDue_FiresOnceAndResets(t *testing.T) {
	backend := newTestBackend()
	defer backend.srv.Close()
	sink := newWebhookSink()
	defer sink.srv.Close()

	m, st := newTestMonitor(t, backend.srv.URL, sink.srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.RunCycle(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	// The window just opened; the schedule instant it covers has not passed.
	if err := m.RunReportIfDue(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("report check: %v", err)
	}
	if got := sink.byKind("daily_report"); len(got) != 0 {
		t.Fatalf("report fired before its schedule: %d", len(got))
	}

	// A day later the scheduled instant has passed and the report is owed.
	later := time.Now().UTC().Add(25 * time.Hour)
	if err := m.RunReportIfDue(ctx, later); err != nil {
		t.Fatalf("due report: %v", err)
	}
	reports := sink.byKind("daily_report")
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	var rep models.UptimeReport
	if err := json.Unmarshal(reports[0].Payload, &rep); err != nil {
		t.Fatalf("bad report payload: %v", err)
	}
	if rep.TotalChecks != 6 {
		t.Errorf("total checks = %d, want 6", rep.TotalChecks)
	}
	if rep.UptimePct != 100.0 {
		t.Errorf("uptime = %.2f, want 100", rep.UptimePct)
	}

	// Idempotency: a second trigger in the same day is a no-op.
	if err := m.RunReportIfDue(ctx, later.Add(time.Minute)); err != nil {
		t.Fatalf("repeat check: %v", err)
	}
	if got := sink.byKind("daily_report"); len(got) != 1 {
		t.Fatalf("report fired twice in one day: %d", len(got))
	}

	// The window was reset on success.
	window, err := st.LoadWindow(ctx)
	if err != nil {
		t.Fatalf("load window: %v", err)
	}
	if len(window.Checks) != 0 {
		t.Errorf("window not cleared: %d checks remain", len(window.Checks))
	}
}

func TestForceReport_BypassesSchedule(t *testing.T) {
	backend := newTestBackend()
	defer backend.srv.Close()
	sink := newWebhookSink()
	defer sink.srv.Close()

	m, _ := newTestMonitor(t, backend.srv.URL, sink.srv.URL)
	ctx := context.Background()

	if err := m.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if err := m.ForceReport(ctx); err != nil {
		t.Fatalf("force report: %v", err)
	}
	if got := sink.byKind("daily_report"); len(got) != 1 {
		t.Fatalf("forced reports = %d, want 1", len(got))
	}
}

func TestProduceReport_DeliveryFailureKeepsWindow(t *testing.T) {
	backend := newTestBackend()
	defer backend.srv.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	m, st := newTestMonitor(t, backend.srv.URL, failing.URL)
	ctx := context.Background()

	if err := m.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if err := m.ForceReport(ctx); err == nil {
		t.Fatal("all-channel delivery failure must surface as an error")
	}

	// The accumulated window is retained for the retry.
	window, err := st.LoadWindow(ctx)
	if err != nil {
		t.Fatalf("load window: %v", err)
	}
	if len(window.Checks) != 2 {
		t.Errorf("window checks = %d, want 2", len(window.Checks))
	}
}
