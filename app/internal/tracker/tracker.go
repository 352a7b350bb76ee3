// Package tracker implements the up/down state machine. Update is a pure
// state transition: it consumes one complete cycle of probe results plus the
// prior persisted state and produces the next state, the derived aggregate
// and at most one transition event. All side effects (persistence, alert
// delivery) belong to the callers.
package tracker

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"keepwatch/app/internal/models"
)

// Input is everything the state machine needs for one cycle. States and
// OpenIncidents are keyed by endpoint path.
type Input struct {
	CycleAt       time.Time
	Results       []models.CheckResult
	States        map[string]models.EndpointState
	OpenIncidents map[string]models.Incident
	PrevOverall   models.OverallStatus
	DownThreshold int
}

// Outcome is the computed result of one cycle.
type Outcome struct {
	States    map[string]models.EndpointState
	Aggregate models.AggregateStatus
	Event     *models.TransitionEvent
	Opened    []models.Incident
	Closed    []models.Incident
}

// Update applies one complete cycle of probe results. An endpoint goes DOWN
// only after all of its probes in the cycle fail for DownThreshold
// consecutive cycles; a single success keeps it UP and zeroes the failure
// count. Endpoints never seen before start UP, so a cold start cannot fire
// a false alert. A transition event is emitted iff the aggregate status
// changed value against the previous cycle.
func Update(in Input) Outcome {
	threshold := in.DownThreshold
	if threshold <= 0 {
		threshold = 1
	}

	byEndpoint, order := groupResults(in.Results)

	out := Outcome{States: make(map[string]models.EndpointState, len(order))}

	for _, ep := range order {
		results := byEndpoint[ep]
		anyOK := false
		for _, r := range results {
			if r.OK {
				anyOK = true
				break
			}
		}

		state, known := in.States[ep]
		if !known {
			state = models.EndpointState{
				Endpoint: ep,
				Status:   models.StatusUp,
			}
		}

		if anyOK {
			state.ConsecutiveFailures = 0
			if state.Status == models.StatusDown {
				state.Status = models.StatusUp
				state.LastTransitionAt = in.CycleAt
				if inc, ok := in.OpenIncidents[ep]; ok {
					ended := in.CycleAt
					inc.EndedAt = &ended
					out.Closed = append(out.Closed, inc)
				}
				state.OpenIncidentID = ""
			}
		} else {
			state.ConsecutiveFailures++
			if state.Status == models.StatusUp && state.ConsecutiveFailures >= threshold {
				state.Status = models.StatusDown
				state.LastTransitionAt = in.CycleAt
				inc := models.Incident{
					ID:        uuid.NewString(),
					Endpoint:  ep,
					StartedAt: in.CycleAt,
				}
				state.OpenIncidentID = inc.ID
				out.Opened = append(out.Opened, inc)
			}
		}

		out.States[ep] = state
	}

	out.Aggregate = aggregate(out.States)

	prev := in.PrevOverall
	if prev == "" {
		// First-ever cycle: the optimistic default mirrors the per-endpoint
		// initial state, so an immediate full outage still alerts.
		prev = models.OverallHealthy
	}
	if out.Aggregate.Overall != prev {
		out.Event = buildEvent(in, out, prev)
	}

	return out
}

// aggregate derives the overall status: DOWN when no endpoint is UP,
// DEGRADED when some are, HEALTHY when all are.
func aggregate(states map[string]models.EndpointState) models.AggregateStatus {
	total := len(states)
	if total == 0 {
		return models.AggregateStatus{Overall: models.OverallHealthy, HealthyFraction: 1}
	}
	up := 0
	for _, s := range states {
		if s.Status == models.StatusUp {
			up++
		}
	}
	agg := models.AggregateStatus{HealthyFraction: float64(up) / float64(total)}
	switch {
	case up == 0:
		agg.Overall = models.OverallDown
	case up < total:
		agg.Overall = models.OverallDegraded
	default:
		agg.Overall = models.OverallHealthy
	}
	return agg
}

func buildEvent(in Input, out Outcome, prev models.OverallStatus) *models.TransitionEvent {
	ev := &models.TransitionEvent{
		From: prev,
		To:   out.Aggregate.Overall,
		At:   in.CycleAt,
	}

	if ev.To == models.OverallHealthy {
		// Recovery: report the endpoints that just came back and how long
		// the outage lasted, measured from the earliest affected incident.
		for _, inc := range out.Closed {
			ev.AffectedEndpoints = append(ev.AffectedEndpoints, inc.Endpoint)
			if ev.DownSince.IsZero() || inc.StartedAt.Before(ev.DownSince) {
				ev.DownSince = inc.StartedAt
			}
		}
	} else {
		for ep, s := range out.States {
			if s.Status == models.StatusDown {
				ev.AffectedEndpoints = append(ev.AffectedEndpoints, ep)
			}
		}
		for _, r := range in.Results {
			if !r.OK {
				ev.Failures = append(ev.Failures, r)
			}
		}
		for _, inc := range in.OpenIncidents {
			if ev.DownSince.IsZero() || inc.StartedAt.Before(ev.DownSince) {
				ev.DownSince = inc.StartedAt
			}
		}
		for _, inc := range out.Opened {
			if ev.DownSince.IsZero() || inc.StartedAt.Before(ev.DownSince) {
				ev.DownSince = inc.StartedAt
			}
		}
	}
	sort.Strings(ev.AffectedEndpoints)
	return ev
}

// groupResults buckets a cycle's results per endpoint, preserving the order
// endpoints first appear in.
func groupResults(results []models.CheckResult) (map[string][]models.CheckResult, []string) {
	grouped := make(map[string][]models.CheckResult)
	var order []string
	for _, r := range results {
		if _, seen := grouped[r.Endpoint]; !seen {
			order = append(order, r.Endpoint)
		}
		grouped[r.Endpoint] = append(grouped[r.Endpoint], r)
	}
	return grouped, order
}
