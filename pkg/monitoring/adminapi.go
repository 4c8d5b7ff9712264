package monitoring

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jihwankim/redisguard/pkg/config"
)

// AdminClient pulls database statistics from a datacenter's management
// API. Nil-safe: a nil client reports no metrics.
type AdminClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// NewAdminClient creates a client for one datacenter's admin API, or
// nil when the datacenter has none configured.
func NewAdminClient(dc config.Datacenter) *AdminClient {
	if dc.APIURL == "" {
		return nil
	}
	return &AdminClient{
		baseURL:  dc.APIURL,
		username: dc.APIUser,
		password: dc.APIPassword,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				// management planes commonly run self-signed certs
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// statFields maps the recognized interval statistics to the gauge
// names they are stored under. Latencies are taken as milliseconds.
var statFields = map[string]string{
	"total_req":           "api_total_requests",
	"read_req":            "api_read_requests",
	"write_req":           "api_write_requests",
	"total_connections":   "api_total_connections",
	"total_egress_bytes":  "api_egress_bytes",
	"total_ingress_bytes": "api_ingress_bytes",
	"avg_latency":         "api_avg_latency_ms",
	"avg_read_latency":    "api_avg_read_latency_ms",
	"avg_write_latency":   "api_avg_write_latency_ms",
}

// Ping checks connectivity to the management API
func (a *AdminClient) Ping(ctx context.Context) error {
	if a == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/cluster", nil)
	if err != nil {
		return fmt.Errorf("failed to build cluster request: %w", err)
	}
	req.SetBasicAuth(a.username, a.password)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("cluster request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cluster request returned status %d", resp.StatusCode)
	}
	return nil
}

// InstanceStats fetches the latest 1-second statistics interval for a
// database and returns the recognized fields as api_* gauges.
func (a *AdminClient) InstanceStats(ctx context.Context, uid string) (map[string]float64, error) {
	if a == nil {
		return nil, nil
	}

	url := fmt.Sprintf("%s/v1/bdbs/%s/stats?interval=1sec", a.baseURL, uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stats request: %w", err)
	}
	req.SetBasicAuth(a.username, a.password)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stats request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats request returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Intervals []map[string]interface{} `json:"intervals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode stats response: %w", err)
	}
	if len(parsed.Intervals) == 0 {
		return nil, nil
	}

	latest := parsed.Intervals[len(parsed.Intervals)-1]
	out := make(map[string]float64)
	for key, name := range statFields {
		if num, ok := latest[key].(float64); ok {
			out[name] = num
		}
	}
	return out, nil
}
