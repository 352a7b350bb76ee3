package models

import "time"

// EndpointStatus is the per-endpoint health state.
type EndpointStatus string

const (
	StatusUp   EndpointStatus = "UP"
	StatusDown EndpointStatus = "DOWN"
)

// OverallStatus is the aggregate health of the monitored service.
type OverallStatus string

const (
	OverallHealthy  OverallStatus = "HEALTHY"
	OverallDegraded OverallStatus = "DEGRADED"
	OverallDown     OverallStatus = "DOWN"
)

// ErrorKind classifies a failed probe. All kinds count the same toward a
// DOWN transition; the distinction only matters for logs and alert bodies.
type ErrorKind string

const (
	ErrKindTimeout    ErrorKind = "TIMEOUT"
	ErrKindConnection ErrorKind = "CONNECTION_ERROR"
	ErrKindHTTP       ErrorKind = "HTTP_ERROR"
	ErrKindUnknown    ErrorKind = "UNKNOWN"
)

// Endpoint is a monitored path and the HTTP methods probed against it.
type Endpoint struct {
	Path    string   `yaml:"path"`
	Methods []string `yaml:"methods"`
}

// CheckResult is the outcome of a single probe. Immutable once produced;
// appended to the daily window, never mutated.
type CheckResult struct {
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	Timestamp  time.Time `json:"timestamp"`
	OK         bool      `json:"ok"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMS  *int      `json:"latency_ms,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// EndpointState is the durable per-endpoint record. One row per configured
// endpoint; mutated only by the tracker.
type EndpointState struct {
	Endpoint            string
	Status              EndpointStatus
	ConsecutiveFailures int
	LastTransitionAt    time.Time
	OpenIncidentID      string
}

// AggregateStatus is derived each cycle from the set of endpoint states.
type AggregateStatus struct {
	Overall         OverallStatus `json:"overall"`
	HealthyFraction float64       `json:"healthy_fraction"`
}

// TransitionEvent is emitted when the aggregate status changes value between
// consecutive cycles. It lives only long enough to be dispatched.
type TransitionEvent struct {
	From              OverallStatus
	To                OverallStatus
	At                time.Time
	AffectedEndpoints []string
	Failures          []CheckResult
	DownSince         time.Time
}

// Incident is a contiguous span during which an endpoint was DOWN.
// EndedAt is nil while the incident is open.
type Incident struct {
	ID        string
	Endpoint  string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Open reports whether the incident is still ongoing.
func (i Incident) Open() bool { return i.EndedAt == nil }

// Duration is the incident length. Open incidents use now as a provisional
// end; closed incidents are fixed at EndedAt - StartedAt.
func (i Incident) Duration(now time.Time) time.Duration {
	if i.EndedAt != nil {
		return i.EndedAt.Sub(i.StartedAt)
	}
	return now.Sub(i.StartedAt)
}

// DailyWindow is the accumulation period the report aggregator consumes.
type DailyWindow struct {
	StartedAt time.Time
	Checks    []CheckResult
	Incidents []Incident
}

// IncidentSummary is an incident annotated for a report.
type IncidentSummary struct {
	Endpoint  string     `json:"endpoint"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	DurationS int64      `json:"duration_s"`
	Open      bool       `json:"open"`
}

// UptimeReport is the once-daily aggregate handed to the reporter's
// delivery collaborators.
type UptimeReport struct {
	ServiceName      string            `json:"service_name"`
	WindowStart      time.Time         `json:"window_start"`
	WindowEnd        time.Time         `json:"window_end"`
	TotalChecks      int               `json:"total_checks"`
	SuccessfulChecks int               `json:"successful_checks"`
	UptimePct        float64           `json:"uptime_pct"`
	AvgLatencyMS     float64           `json:"avg_latency_ms"`
	Incidents        []IncidentSummary `json:"incidents"`
}

// Severity labels an outbound notification.
type Severity string

const (
	SeverityDown      Severity = "DOWN"
	SeverityRecovered Severity = "RECOVERED"
	SeverityDegraded  Severity = "DEGRADED"
)

// Notification is the payload handed to the alert channels.
type Notification struct {
	Severity          Severity  `json:"severity"`
	ServiceName       string    `json:"service_name"`
	AffectedEndpoints []string  `json:"affected_endpoints"`
	StartedAt         time.Time `json:"started_at"`
	DurationS         int64     `json:"duration_s,omitempty"`
	ErrorSummary      string    `json:"error_summary,omitempty"`
}
