// Package store is the durable state behind the health-state engine. Every
// invocation-scoped decision (stateless cron shape included) is read from
// here at the start of a cycle and written back atomically at the end.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"keepwatch/app/internal/models"
)

// ErrStaleCycle is returned when a cycle commit carries probe results older
// than the last committed cycle. Overlapping scheduler invocations discard
// the stale writer instead of regressing state.
var ErrStaleCycle = errors.New("cycle is older than the last committed cycle")

// Store wraps the sqlite database holding endpoint states, incidents and
// the daily report window.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite locks the whole file on write; one writer at a time is the
	// serialization the cycle commit relies on.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS endpoint_state (
  endpoint TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  consecutive_failures INTEGER NOT NULL DEFAULT 0,
  last_transition_at TEXT,
  open_incident_id TEXT NOT NULL DEFAULT '',
  updated_at TEXT
);

CREATE TABLE IF NOT EXISTS incidents (
  id TEXT PRIMARY KEY,
  endpoint TEXT NOT NULL,
  started_at TEXT NOT NULL,
  ended_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_incidents_endpoint ON incidents(endpoint);
CREATE INDEX IF NOT EXISTS idx_incidents_started ON incidents(started_at);

CREATE TABLE IF NOT EXISTS window_checks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  taken_at TEXT NOT NULL,
  endpoint TEXT NOT NULL,
  method TEXT NOT NULL,
  ok INTEGER NOT NULL,
  http_status INTEGER,
  latency_ms INTEGER,
  error_kind TEXT,
  error TEXT
);
CREATE INDEX IF NOT EXISTS idx_window_checks_taken ON window_checks(taken_at);

CREATE TABLE IF NOT EXISTS window_meta (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  started_at TEXT NOT NULL,
  last_report_at TEXT,
  last_cycle_at TEXT,
  prev_overall TEXT NOT NULL DEFAULT ''
);
`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR IGNORE INTO window_meta (id, started_at) VALUES (1, ?)`,
		fmtTime(time.Now().UTC()))
	return err
}

// CycleState is the prior state a tracker update needs, read in one shot at
// the start of a cycle.
type CycleState struct {
	States        map[string]models.EndpointState
	OpenIncidents map[string]models.Incident
	PrevOverall   models.OverallStatus
	LastCycleAt   time.Time
}

// LoadCycleState reads every persisted endpoint state, all open incidents
// and the previous aggregate.
func (s *Store) LoadCycleState(ctx context.Context) (*CycleState, error) {
	cs := &CycleState{
		States:        make(map[string]models.EndpointState),
		OpenIncidents: make(map[string]models.Incident),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, status, consecutive_failures, last_transition_at, open_incident_id
		FROM endpoint_state`)
	if err != nil {
		return nil, fmt.Errorf("load endpoint states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st models.EndpointState
		var lastTransition sql.NullString
		if err := rows.Scan(&st.Endpoint, &st.Status, &st.ConsecutiveFailures,
			&lastTransition, &st.OpenIncidentID); err != nil {
			return nil, fmt.Errorf("scan endpoint state: %w", err)
		}
		if lastTransition.Valid {
			st.LastTransitionAt, _ = time.Parse(time.RFC3339Nano, lastTransition.String)
		}
		cs.States[st.Endpoint] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load endpoint states: %w", err)
	}

	incRows, err := s.db.QueryContext(ctx, `
		SELECT id, endpoint, started_at FROM incidents WHERE ended_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("load open incidents: %w", err)
	}
	defer incRows.Close()
	for incRows.Next() {
		var inc models.Incident
		var started string
		if err := incRows.Scan(&inc.ID, &inc.Endpoint, &started); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		cs.OpenIncidents[inc.Endpoint] = inc
	}
	if err := incRows.Err(); err != nil {
		return nil, fmt.Errorf("load open incidents: %w", err)
	}

	var prevOverall string
	var lastCycle sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT prev_overall, last_cycle_at FROM window_meta WHERE id = 1`).
		Scan(&prevOverall, &lastCycle)
	if err != nil {
		return nil, fmt.Errorf("load window meta: %w", err)
	}
	cs.PrevOverall = models.OverallStatus(prevOverall)
	if lastCycle.Valid {
		cs.LastCycleAt, _ = time.Parse(time.RFC3339Nano, lastCycle.String)
	}

	return cs, nil
}

// CycleCommit is everything one cycle persists: updated states, incident
// changes, the cycle's results appended to the window and the new aggregate.
type CycleCommit struct {
	CycleAt time.Time
	Results []models.CheckResult
	States  map[string]models.EndpointState
	Opened  []models.Incident
	Closed  []models.Incident
	Overall models.OverallStatus
}

// CommitCycle writes a completed cycle in a single transaction, so a failure
// can never leave a half-updated endpoint state. Commits whose cycle
// timestamp is not newer than the last committed one fail with
// ErrStaleCycle and change nothing.
func (s *Store) CommitCycle(ctx context.Context, c CycleCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cycle commit: %w", err)
	}
	defer tx.Rollback()

	var lastCycle sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT last_cycle_at FROM window_meta WHERE id = 1`).Scan(&lastCycle); err != nil {
		return fmt.Errorf("read last cycle: %w", err)
	}
	if lastCycle.Valid {
		prev, perr := time.Parse(time.RFC3339Nano, lastCycle.String)
		if perr == nil && !c.CycleAt.After(prev) {
			return ErrStaleCycle
		}
	}

	now := fmtTime(time.Now().UTC())
	for _, st := range c.States {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO endpoint_state (endpoint, status, consecutive_failures, last_transition_at, open_incident_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(endpoint) DO UPDATE SET
				status=excluded.status,
				consecutive_failures=excluded.consecutive_failures,
				last_transition_at=excluded.last_transition_at,
				open_incident_id=excluded.open_incident_id,
				updated_at=excluded.updated_at`,
			st.Endpoint, string(st.Status), st.ConsecutiveFailures,
			fmtTime(st.LastTransitionAt), st.OpenIncidentID, now)
		if err != nil {
			return fmt.Errorf("upsert endpoint state %s: %w", st.Endpoint, err)
		}
	}

	for _, inc := range c.Opened {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO incidents (id, endpoint, started_at) VALUES (?, ?, ?)`,
			inc.ID, inc.Endpoint, fmtTime(inc.StartedAt))
		if err != nil {
			return fmt.Errorf("insert incident %s: %w", inc.ID, err)
		}
	}
	for _, inc := range c.Closed {
		if inc.EndedAt == nil {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE incidents SET ended_at = ? WHERE id = ?`,
			fmtTime(*inc.EndedAt), inc.ID)
		if err != nil {
			return fmt.Errorf("close incident %s: %w", inc.ID, err)
		}
	}

	for _, r := range c.Results {
		var latency any
		if r.LatencyMS != nil {
			latency = *r.LatencyMS
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO window_checks (taken_at, endpoint, method, ok, http_status, latency_ms, error_kind, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			fmtTime(r.Timestamp), r.Endpoint, r.Method, boolToInt(r.OK),
			r.StatusCode, latency, string(r.ErrorKind), r.Error)
		if err != nil {
			return fmt.Errorf("append check: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE window_meta SET last_cycle_at = ?, prev_overall = ? WHERE id = 1`,
		fmtTime(c.CycleAt), string(c.Overall))
	if err != nil {
		return fmt.Errorf("update window meta: %w", err)
	}

	return tx.Commit()
}

// LoadWindow reads the current daily window: the accumulated checks plus
// every incident still open or overlapping the window.
func (s *Store) LoadWindow(ctx context.Context) (*models.DailyWindow, error) {
	w := &models.DailyWindow{}

	var started string
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM window_meta WHERE id = 1`).Scan(&started)
	if err != nil {
		return nil, fmt.Errorf("load window meta: %w", err)
	}
	w.StartedAt, _ = time.Parse(time.RFC3339Nano, started)

	rows, err := s.db.QueryContext(ctx, `
		SELECT taken_at, endpoint, method, ok, http_status, latency_ms, error_kind, error
		FROM window_checks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load window checks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r models.CheckResult
		var taken, kind string
		var okInt int
		var status sql.NullInt64
		var latency sql.NullInt64
		if err := rows.Scan(&taken, &r.Endpoint, &r.Method, &okInt,
			&status, &latency, &kind, &r.Error); err != nil {
			return nil, fmt.Errorf("scan window check: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, taken)
		r.OK = okInt != 0
		if status.Valid {
			r.StatusCode = int(status.Int64)
		}
		if latency.Valid {
			ms := int(latency.Int64)
			r.LatencyMS = &ms
		}
		r.ErrorKind = models.ErrorKind(kind)
		w.Checks = append(w.Checks, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load window checks: %w", err)
	}

	incRows, err := s.db.QueryContext(ctx, `
		SELECT id, endpoint, started_at, ended_at FROM incidents
		WHERE ended_at IS NULL OR ended_at >= ? OR started_at >= ?
		ORDER BY started_at`,
		started, started)
	if err != nil {
		return nil, fmt.Errorf("load window incidents: %w", err)
	}
	defer incRows.Close()
	for incRows.Next() {
		var inc models.Incident
		var startedAt string
		var endedAt sql.NullString
		if err := incRows.Scan(&inc.ID, &inc.Endpoint, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if endedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
			inc.EndedAt = &t
		}
		w.Incidents = append(w.Incidents, inc)
	}
	if err := incRows.Err(); err != nil {
		return nil, fmt.Errorf("load window incidents: %w", err)
	}

	return w, nil
}

// LastReportAt returns when the last report was produced, zero if never.
func (s *Store) LastReportAt(ctx context.Context) (time.Time, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_report_at FROM window_meta WHERE id = 1`).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("load last report time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	t, _ := time.Parse(time.RFC3339Nano, last.String)
	return t, nil
}

// ResetWindow truncates the window after a successful report: checks are
// cleared, started_at moves to now and last_report_at is stamped. Open
// incidents carry forward; closed ones were reported and are pruned.
func (s *Store) ResetWindow(ctx context.Context, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin window reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM window_checks`); err != nil {
		return fmt.Errorf("clear window checks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM incidents WHERE ended_at IS NOT NULL`); err != nil {
		return fmt.Errorf("prune closed incidents: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE window_meta SET started_at = ?, last_report_at = ? WHERE id = 1`,
		fmtTime(now), fmtTime(now)); err != nil {
		return fmt.Errorf("reset window meta: %w", err)
	}

	return tx.Commit()
}

// timeLayout is RFC 3339 with fixed-width fractional seconds, so the stored
// strings compare lexically in SQL the same way the times compare.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
