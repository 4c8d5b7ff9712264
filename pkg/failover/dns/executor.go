package dns

import (
	"context"
	"fmt"
	"strings"

	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/logging"
)

const (
	defaultRecordType = "CNAME"
	defaultRecordTTL  = 60
	defaultSuffix     = "example.com"
)

// Record is a fully resolved DNS change ready for a provider
type Record struct {
	Name  string
	Type  string
	TTL   int64
	Value string
}

// Provider applies one record change idempotently
type Provider interface {
	Name() string
	Upsert(ctx context.Context, record Record) error
}

// Executor switches instance routing by rewriting DNS records
type Executor struct {
	cfg      *config.Config
	provider Provider
	logger   *logging.Logger
}

// NewExecutor wires a DNS executor over the given provider
func NewExecutor(cfg *config.Config, provider Provider, logger *logging.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		provider: provider,
		logger:   logger.WithField("component", "dns"),
	}
}

// recordsFor selects the managed records belonging to an instance:
// explicit uid bindings win over name bindings; untagged records are
// defaults that apply to every instance.
func (e *Executor) recordsFor(instance *config.Instance) []config.DNSRecord {
	var byUID, byName, defaults []config.DNSRecord
	for _, record := range e.cfg.DNS.Records {
		switch {
		case record.InstanceUID == instance.UID:
			byUID = append(byUID, record)
		case record.InstanceName == instance.Name:
			byName = append(byName, record)
		case record.InstanceUID == "" && record.InstanceName == "":
			record.InstanceUID = instance.UID
			record.InstanceName = instance.Name
			defaults = append(defaults, record)
		}
	}
	if len(byUID) > 0 {
		return byUID
	}
	if len(byName) > 0 {
		return byName
	}
	return defaults
}

// targetValue resolves the hostname a record should point at for the
// chosen datacenter: the configured endpoint host, then the endpoint
// map, then the conventional name.
func (e *Executor) targetValue(instance *config.Instance, dc string) string {
	if endpoint, ok := instance.Endpoints[dc]; ok && endpoint.Host != "" {
		return endpoint.Host
	}
	if byDC, ok := e.cfg.DNS.EndpointMap[instance.UID]; ok {
		if host, ok := byDC[dc]; ok && host != "" {
			return host
		}
	}
	suffix := e.cfg.DNS.DefaultSuffix
	if suffix == "" {
		suffix = defaultSuffix
	}
	return fmt.Sprintf("%s.%s.%s", instance.Name, dc, suffix)
}

// Execute points every record of the instance at the target
// datacenter. Any failed record aborts with an error so the caller
// does not flip the active datacenter on a half-applied change.
func (e *Executor) Execute(ctx context.Context, instance *config.Instance, targetDC string) error {
	records := e.recordsFor(instance)
	if len(records) == 0 {
		return fmt.Errorf("no DNS records configured for instance %s", instance.UID)
	}

	value := e.targetValue(instance, targetDC)

	for _, record := range records {
		resolved := Record{
			Name:  record.Name,
			Type:  record.Type,
			TTL:   record.TTL,
			Value: value,
		}
		if resolved.Type == "" {
			resolved.Type = defaultRecordType
		}
		if resolved.TTL <= 0 {
			resolved.TTL = defaultRecordTTL
		}

		if err := e.provider.Upsert(ctx, resolved); err != nil {
			return fmt.Errorf("failed to update record %s via %s: %w", record.Name, e.provider.Name(), err)
		}

		e.logger.Info("record updated",
			"provider", e.provider.Name(),
			"record", record.Name,
			"value", value,
			"datacenter", targetDC)
	}

	return nil
}

// fqdn ensures the trailing dot DNS APIs expect
func fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}
