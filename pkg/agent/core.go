package agent

import (
	"fmt"
	"sync"

	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/health"
	"github.com/jihwankim/redisguard/pkg/logging"
)

// Core owns the authoritative health table and the active-datacenter
// assignment. Every other component reads through it.
type Core struct {
	cfg    *config.Config
	logger *logging.Logger

	mu      sync.RWMutex
	healths map[string]map[string]health.Status
}

// NewCore creates an empty health table over the configured instances
func NewCore(cfg *config.Config, logger *logging.Logger) *Core {
	return &Core{
		cfg:     cfg,
		logger:  logger.WithField("component", "core"),
		healths: make(map[string]map[string]health.Status),
	}
}

// UpdateHealth stores the latest status for one endpoint
func (c *Core) UpdateHealth(st health.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byDC, ok := c.healths[st.InstanceUID]
	if !ok {
		byDC = make(map[string]health.Status)
		c.healths[st.InstanceUID] = byDC
	}

	prev, had := byDC[st.Datacenter]
	byDC[st.Datacenter] = st

	if had && prev.State != st.State {
		c.logger.Info("endpoint state changed",
			"instance", st.InstanceUID,
			"datacenter", st.Datacenter,
			"from", string(prev.State),
			"to", string(st.State))
	}
}

// InstanceHealth returns a copy of the per-datacenter statuses
func (c *Core) InstanceHealth(uid string) map[string]health.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]health.Status, len(c.healths[uid]))
	for dc, st := range c.healths[uid] {
		out[dc] = st
	}
	return out
}

// AllHealth returns a copy of the whole table
func (c *Core) AllHealth() map[string]map[string]health.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]map[string]health.Status, len(c.healths))
	for uid, byDC := range c.healths {
		cp := make(map[string]health.Status, len(byDC))
		for dc, st := range byDC {
			cp[dc] = st
		}
		out[uid] = cp
	}
	return out
}

// SwitchActiveDC moves an instance's active datacenter. It is the only
// place the assignment changes after startup.
func (c *Core) SwitchActiveDC(uid, dc string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	instance := c.cfg.FindInstance(uid)
	if instance == nil {
		return fmt.Errorf("unknown instance %s", uid)
	}
	if _, ok := instance.Endpoints[dc]; !ok {
		return fmt.Errorf("instance %s has no endpoint in %s", uid, dc)
	}

	from := instance.ActiveDC
	instance.ActiveDC = dc
	c.logger.Info("active datacenter switched",
		"instance", uid, "from", from, "to", dc)
	return nil
}
