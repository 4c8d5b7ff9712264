package health

import "time"

// State is the coarse health classification of one endpoint
type State string

const (
	StateUnknown  State = "unknown"
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateFailing  State = "failing"
	StateFailed   State = "failed"
)

// rank orders states from best to worst
func (s State) rank() int {
	switch s {
	case StateHealthy:
		return 1
	case StateDegraded:
		return 2
	case StateFailing:
		return 3
	case StateFailed:
		return 4
	default:
		return 0
	}
}

// Worse returns the more severe of two states
func Worse(a, b State) State {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Status is the evaluated health of one instance endpoint
type Status struct {
	InstanceUID  string    `json:"instance_uid"`
	InstanceName string    `json:"instance_name"`
	Datacenter   string    `json:"datacenter"`
	Timestamp    time.Time `json:"timestamp"`

	State           State `json:"state"`
	CanServeTraffic bool  `json:"can_serve_traffic"`

	LatencyMs         float64 `json:"latency_ms"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	HitRate           float64 `json:"hit_rate"`
	OpsPerSec         float64 `json:"ops_per_sec"`

	ConsecutiveErrors int    `json:"consecutive_errors"`
	LastError         string `json:"last_error,omitempty"`

	AnomalyScore         float64  `json:"anomaly_score"`
	IsAnomaly            bool     `json:"is_anomaly"`
	ConsecutiveAnomalies int      `json:"consecutive_anomalies"`
	Issues               []string `json:"issues,omitempty"`
}

// Demote lowers the status to the given state if it is worse than the
// current one. A failed endpoint can never serve traffic.
func (st *Status) Demote(to State) {
	st.State = Worse(st.State, to)
	if st.State == StateFailed {
		st.CanServeTraffic = false
	}
}
