package dns

import (
	"context"
	"fmt"

	gdns "google.golang.org/api/dns/v1"

	"github.com/jihwankim/redisguard/pkg/config"
)

// cloudDNSAPI is the slice of the Cloud DNS service the provider uses
type cloudDNSAPI interface {
	list(ctx context.Context, name, rtype string) ([]*gdns.ResourceRecordSet, error)
	apply(ctx context.Context, change *gdns.Change) error
}

type googleDNS struct {
	svc     *gdns.Service
	project string
	zone    string
}

func (g *googleDNS) list(ctx context.Context, name, rtype string) ([]*gdns.ResourceRecordSet, error) {
	resp, err := g.svc.ResourceRecordSets.List(g.project, g.zone).
		Name(name).Type(rtype).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Rrsets, nil
}

func (g *googleDNS) apply(ctx context.Context, change *gdns.Change) error {
	_, err := g.svc.Changes.Create(g.project, g.zone, change).Context(ctx).Do()
	return err
}

// CloudDNSProvider applies record changes through Google Cloud DNS
type CloudDNSProvider struct {
	api cloudDNSAPI
}

// NewCloudDNSProvider builds the Cloud DNS client using application
// default credentials.
func NewCloudDNSProvider(ctx context.Context, cfg *config.Config) (*CloudDNSProvider, error) {
	if cfg.DNS.ProjectID == "" || cfg.DNS.ZoneName == "" {
		return nil, fmt.Errorf("clouddns requires project_id and zone_name")
	}

	svc, err := gdns.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud DNS service: %w", err)
	}

	return &CloudDNSProvider{
		api: &googleDNS{svc: svc, project: cfg.DNS.ProjectID, zone: cfg.DNS.ZoneName},
	}, nil
}

func (p *CloudDNSProvider) Name() string { return "clouddns" }

// Upsert emulates UPSERT with a delete-then-create change set: any
// existing record set of the same name and type is removed in the same
// atomic change that adds the new one.
func (p *CloudDNSProvider) Upsert(ctx context.Context, record Record) error {
	name := fqdn(record.Name)

	existing, err := p.api.list(ctx, name, record.Type)
	if err != nil {
		return fmt.Errorf("clouddns lookup failed: %w", err)
	}

	change := &gdns.Change{
		Additions: []*gdns.ResourceRecordSet{{
			Name:    name,
			Type:    record.Type,
			Ttl:     record.TTL,
			Rrdatas: []string{fqdn(record.Value)},
		}},
		Deletions: existing,
	}

	if err := p.api.apply(ctx, change); err != nil {
		return fmt.Errorf("clouddns change failed: %w", err)
	}
	return nil
}
