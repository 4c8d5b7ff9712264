package failover

import (
	"fmt"
	"time"

	"github.com/jihwankim/redisguard/pkg/health"
)

// Decision records one failover, executed or recommended
type Decision struct {
	ID           string                 `json:"id"`
	InstanceUID  string                 `json:"instance_uid"`
	InstanceName string                 `json:"instance_name"`
	FromDC       string                 `json:"from_dc"`
	ToDC         string                 `json:"to_dc"`
	Confidence   float64                `json:"confidence"`
	Reason       string                 `json:"reason"`
	Executed     bool                   `json:"executed"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

func newDecision(uid, name, from, to string, confidence float64, reason string) Decision {
	now := time.Now()
	return Decision{
		ID:           fmt.Sprintf("%s_%d", uid, now.Unix()),
		InstanceUID:  uid,
		InstanceName: name,
		FromDC:       from,
		ToDC:         to,
		Confidence:   confidence,
		Reason:       reason,
		Timestamp:    now,
	}
}

// AIRecommendation is a stored advisor answer, kept per instance for
// the consistency check
type AIRecommendation struct {
	Timestamp      time.Time `json:"timestamp"`
	Recommendation string    `json:"recommendation"`
	TargetDC       string    `json:"target_dc,omitempty"`
	Confidence     float64   `json:"confidence"`
}

// Datacenter scoring weights for target selection
func scoreDatacenter(st health.Status) float64 {
	var score float64

	switch st.State {
	case health.StateHealthy:
		score += 100
	case health.StateDegraded:
		score += 50
	}

	latencyBonus := 50 - st.LatencyMs/2
	if latencyBonus > 0 {
		score += latencyBonus
	}

	if st.MemoryUsedPercent < 80 {
		score += (100 - st.MemoryUsedPercent) / 2
	}

	score += st.HitRate * 30
	score -= 10 * float64(st.ConsecutiveErrors)
	score -= 5 * float64(st.ConsecutiveAnomalies)

	return score
}

// Cooldown windows that lower confidence for repeat failovers
const (
	cooldownRecent = time.Hour
	cooldownDaily  = 24 * time.Hour
)

// computeConfidence scores how certain the engine is that moving
// traffic from the active status to the target is right.
func computeConfidence(active, target health.Status, lastFailover time.Time, consecutiveThreshold int) float64 {
	confidence := 0.5

	if active.State == health.StateFailed {
		confidence += 0.4
	}
	if active.ConsecutiveErrors >= consecutiveThreshold {
		confidence += 0.3
	}
	if active.State == health.StateFailing {
		confidence += 0.2
	}
	if active.MemoryUsedPercent > 95 {
		confidence += 0.2
	}
	if active.LatencyMs > 500 {
		confidence += 0.15
	}
	if target.State == health.StateHealthy {
		confidence += 0.1
	}

	if !lastFailover.IsZero() {
		since := time.Since(lastFailover)
		if since < cooldownRecent {
			confidence -= 0.3
		} else if since < cooldownDaily {
			confidence -= 0.1
		}
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
