package metrics

import "time"

// Sample is one probe measurement of a Redis endpoint
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	InstanceUID  string    `json:"instance_uid"`
	InstanceName string    `json:"instance_name"`
	Datacenter   string    `json:"datacenter"`

	LatencyMs         float64 `json:"latency_ms"`
	MemoryUsedBytes   int64   `json:"memory_used_bytes"`
	MemoryMaxBytes    int64   `json:"memory_max_bytes"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`

	ConnectedClients    int64   `json:"connected_clients"`
	RejectedConnections int64   `json:"rejected_connections"`
	OpsPerSec           float64 `json:"ops_per_sec"`
	Hits                int64   `json:"keyspace_hits"`
	Misses              int64   `json:"keyspace_misses"`
	HitRate             float64 `json:"hit_rate"`
	EvictedKeys         int64   `json:"evicted_keys"`
	ExpiredKeys         int64   `json:"expired_keys"`
	TotalKeys           int64   `json:"total_keys"`

	// API holds api_* gauges from the management plane, absent when the
	// datacenter has no admin API configured.
	API map[string]float64 `json:"api_metrics,omitempty"`

	ProbeError string `json:"probe_error,omitempty"`
}

// FeatureNames lists the feature vector components in order
var FeatureNames = []string{
	"latency_ms",
	"memory_used_percent",
	"hit_rate",
	"ops_per_sec_norm",
	"connected_clients_norm",
	"rejected_connections",
	"evicted_keys",
	"api_avg_latency_ms",
}

// FeatureVector converts a sample into the fixed-order vector used for
// anomaly detection. Throughput and client counts are squashed into [0,1].
func (s *Sample) FeatureVector() []float64 {
	ops := s.OpsPerSec / 10000
	if ops > 1 {
		ops = 1
	}
	clients := float64(s.ConnectedClients) / 1000
	if clients > 1 {
		clients = 1
	}

	apiLatency := 0.0
	if s.API != nil {
		apiLatency = s.API["api_avg_latency_ms"]
	}

	return []float64{
		s.LatencyMs,
		s.MemoryUsedPercent,
		s.HitRate,
		ops,
		clients,
		float64(s.RejectedConnections),
		float64(s.EvictedKeys),
		apiLatency,
	}
}
