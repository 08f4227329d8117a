// Package reputation tracks an agent's running reliability score and
// checks observed behavior against its contractual SLA.
package reputation

import (
	"fmt"
	"math"
	"time"
)

// MaxScore is the ceiling of the reputation scale.
const MaxScore = 1000

// Penalty is a contractual consequence for violating an SLA guarantee.
type Penalty struct {
	Violation string `json:"violation" bson:"violation"`
	Amount    string `json:"amount" bson:"amount"` // currency string, e.g. "$5"
}

// AgentSLA holds the guarantees an agent commits to at registration.
// Immutable per agent version.
type AgentSLA struct {
	ResponseTime int64     `json:"response_time_ms" bson:"response_time_ms"` // ceiling, milliseconds
	Availability float64   `json:"availability" bson:"availability"`         // floor, 0..1
	Accuracy     float64   `json:"accuracy" bson:"accuracy"`                 // floor, 0..1
	Throughput   int       `json:"throughput" bson:"throughput"`             // floor, jobs/minute
	Penalties    []Penalty `json:"penalties,omitempty" bson:"penalties,omitempty"`
	StakedAmount string    `json:"staked_amount,omitempty" bson:"staked_amount,omitempty"`
}

// AgentReputation is the running measure of an agent's history. Counters
// only accumulate; the score is recomputed in full on every update.
type AgentReputation struct {
	Score               int       `json:"score" bson:"score"` // 0..1000
	TotalJobs           int64     `json:"total_jobs" bson:"total_jobs"`
	SuccessfulJobs      int64     `json:"successful_jobs" bson:"successful_jobs"`
	FailedJobs          int64     `json:"failed_jobs" bson:"failed_jobs"`
	AverageResponseTime float64   `json:"average_response_time_ms" bson:"average_response_time_ms"`
	UptimePercent       float64   `json:"uptime_percent" bson:"uptime_percent"`
	LastUpdated         time.Time `json:"last_updated" bson:"last_updated"`
}

// NewReputation is the starting state for a freshly registered agent.
func NewReputation(now time.Time) AgentReputation {
	return AgentReputation{
		UptimePercent: 100,
		LastUpdated:   now.UTC(),
	}
}

// Update folds one completed job into the reputation: exact running mean
// for response time, counters, and a full score recompute:
//
//	score = floor(clamp(successRate*700 + speedBonus*200 + uptime*100, 0, 1000))
//
// where speedBonus = max(0, 1 - avgResponseTime/sla.ResponseTime). Pure:
// the caller persists the returned value.
func Update(rep AgentReputation, sla AgentSLA, success bool, responseTimeMs int64, now time.Time) AgentReputation {
	rep.TotalJobs++
	if success {
		rep.SuccessfulJobs++
	} else {
		rep.FailedJobs++
	}
	rep.AverageResponseTime = (rep.AverageResponseTime*float64(rep.TotalJobs-1) + float64(responseTimeMs)) / float64(rep.TotalJobs)

	successRate := float64(rep.SuccessfulJobs) / float64(rep.TotalJobs)
	speedBonus := 0.0
	if sla.ResponseTime > 0 {
		speedBonus = math.Max(0, 1-rep.AverageResponseTime/float64(sla.ResponseTime))
	}
	raw := successRate*700 + speedBonus*200 + (rep.UptimePercent/100)*100
	rep.Score = int(math.Floor(math.Min(MaxScore, math.Max(0, raw))))
	rep.LastUpdated = now.UTC()
	return rep
}

// ComplianceReport is the outcome of an SLA check.
type ComplianceReport struct {
	Compliant  bool     `json:"compliant"`
	Violations []string `json:"violations,omitempty"`
}

// CheckSLACompliance flags response-time, availability and accuracy
// breaches against the SLA. Pure function over current state.
func CheckSLACompliance(sla AgentSLA, rep AgentReputation, observedResponseTimeMs int64) ComplianceReport {
	var violations []string
	if sla.ResponseTime > 0 && observedResponseTimeMs > sla.ResponseTime {
		violations = append(violations, fmt.Sprintf("response time %dms exceeds SLA ceiling %dms", observedResponseTimeMs, sla.ResponseTime))
	}
	if rep.UptimePercent < sla.Availability*100 {
		violations = append(violations, fmt.Sprintf("uptime %.2f%% below SLA floor %.2f%%", rep.UptimePercent, sla.Availability*100))
	}
	if rep.TotalJobs > 0 {
		failureRate := float64(rep.FailedJobs) / float64(rep.TotalJobs)
		if failureRate > 1-sla.Accuracy {
			violations = append(violations, fmt.Sprintf("failure rate %.2f%% exceeds SLA allowance %.2f%%", failureRate*100, (1-sla.Accuracy)*100))
		}
	}
	return ComplianceReport{Compliant: len(violations) == 0, Violations: violations}
}
