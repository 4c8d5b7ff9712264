package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/metrics"
)

const (
	probeDialTimeout = 3 * time.Second
	probeIOTimeout   = 5 * time.Second
)

// Prober measures Redis endpoints. Clients are cached per endpoint and
// recreated after a failed probe so a replaced backend reconnects cleanly.
type Prober struct {
	mu      sync.Mutex
	clients map[string]*redis.Client
}

// NewProber creates an empty prober
func NewProber() *Prober {
	return &Prober{clients: make(map[string]*redis.Client)}
}

func (p *Prober) client(addr, password string) *redis.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[addr]; ok {
		return c
	}
	c := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  probeDialTimeout,
		ReadTimeout:  probeIOTimeout,
		WriteTimeout: probeIOTimeout,
	})
	p.clients[addr] = c
	return c
}

func (p *Prober) dropClient(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[addr]; ok {
		c.Close()
		delete(p.clients, addr)
	}
}

// Probe measures one endpoint of an instance. On failure the returned
// sample carries the error and zeroed gauges.
func (p *Prober) Probe(ctx context.Context, instance *config.Instance, dc string, endpoint config.Endpoint) metrics.Sample {
	sample := metrics.Sample{
		Timestamp:    time.Now(),
		InstanceUID:  instance.UID,
		InstanceName: instance.Name,
		Datacenter:   dc,
	}

	client := p.client(endpoint.Addr(), instance.Password)

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		sample.ProbeError = err.Error()
		p.dropClient(endpoint.Addr())
		return sample
	}
	sample.LatencyMs = float64(time.Since(start).Microseconds()) / 1000

	raw, err := client.Info(ctx).Result()
	if err != nil {
		sample.ProbeError = err.Error()
		p.dropClient(endpoint.Addr())
		return sample
	}

	info := parseInfo(raw)
	sample.MemoryUsedBytes = infoInt(info, "used_memory")
	sample.MemoryMaxBytes = infoInt(info, "maxmemory")
	if sample.MemoryMaxBytes > 0 {
		sample.MemoryUsedPercent = float64(sample.MemoryUsedBytes) / float64(sample.MemoryMaxBytes) * 100
	}
	sample.ConnectedClients = infoInt(info, "connected_clients")
	sample.RejectedConnections = infoInt(info, "rejected_connections")
	sample.OpsPerSec = infoFloat(info, "instantaneous_ops_per_sec")
	sample.Hits = infoInt(info, "keyspace_hits")
	sample.Misses = infoInt(info, "keyspace_misses")
	sample.HitRate = hitRate(sample.Hits, sample.Misses)
	sample.EvictedKeys = infoInt(info, "evicted_keys")
	sample.ExpiredKeys = infoInt(info, "expired_keys")
	sample.TotalKeys = totalKeys(info)

	return sample
}

// Close closes all cached clients
func (p *Prober) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for addr, c := range p.clients {
		c.Close()
		delete(p.clients, addr)
	}
}
