package health

import (
	"fmt"

	"github.com/jihwankim/redisguard/pkg/metrics"
)

// Evaluation thresholds for a successful probe
const (
	latencyDegradedMs  = 100.0
	memoryDegradedPct  = 90.0
	memoryFailingPct   = 95.0
)

// Evaluate classifies a successful probe sample. Failed probes are
// classified by the monitor, not here.
func Evaluate(sample metrics.Sample) Status {
	st := Status{
		InstanceUID:       sample.InstanceUID,
		InstanceName:      sample.InstanceName,
		Datacenter:        sample.Datacenter,
		Timestamp:         sample.Timestamp,
		State:             StateHealthy,
		CanServeTraffic:   true,
		LatencyMs:         sample.LatencyMs,
		MemoryUsedPercent: sample.MemoryUsedPercent,
		HitRate:           sample.HitRate,
		OpsPerSec:         sample.OpsPerSec,
	}

	if sample.LatencyMs > latencyDegradedMs {
		st.Demote(StateDegraded)
		st.Issues = append(st.Issues, fmt.Sprintf("High latency: %.1fms", sample.LatencyMs))
	}

	if sample.MemoryUsedPercent > memoryFailingPct {
		st.Demote(StateFailing)
		st.CanServeTraffic = false
		st.Issues = append(st.Issues, fmt.Sprintf("Critical memory usage: %.1f%%", sample.MemoryUsedPercent))
	} else if sample.MemoryUsedPercent > memoryDegradedPct {
		st.Demote(StateDegraded)
		st.Issues = append(st.Issues, fmt.Sprintf("High memory usage: %.1f%%", sample.MemoryUsedPercent))
	}

	if sample.RejectedConnections > 0 {
		st.Demote(StateDegraded)
		st.Issues = append(st.Issues, fmt.Sprintf("Rejected connections: %d", sample.RejectedConnections))
	}

	return st
}

// EvaluateFailure classifies a failed probe
func EvaluateFailure(sample metrics.Sample, consecutiveErrors int) Status {
	return Status{
		InstanceUID:       sample.InstanceUID,
		InstanceName:      sample.InstanceName,
		Datacenter:        sample.Datacenter,
		Timestamp:         sample.Timestamp,
		State:             StateFailed,
		CanServeTraffic:   false,
		ConsecutiveErrors: consecutiveErrors,
		LastError:         sample.ProbeError,
		Issues:            []string{fmt.Sprintf("Probe failed: %s", sample.ProbeError)},
	}
}
