package dns

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/jihwankim/redisguard/pkg/config"
)

// route53API is the slice of the Route 53 client the provider uses
type route53API interface {
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// Route53Provider applies record changes through AWS Route 53
type Route53Provider struct {
	api    route53API
	zoneID string
}

// NewRoute53Provider builds the AWS client from config. Static
// credentials from dns_config win over the default chain.
func NewRoute53Provider(ctx context.Context, cfg *config.Config) (*Route53Provider, error) {
	if cfg.DNS.ZoneID == "" {
		return nil, fmt.Errorf("route53 requires zone_id")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.DNS.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.DNS.AWSRegion))
	}
	if cfg.DNS.AWSAccessKey != "" && cfg.DNS.AWSSecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.DNS.AWSAccessKey, cfg.DNS.AWSSecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return &Route53Provider{
		api:    route53.NewFromConfig(awsCfg),
		zoneID: cfg.DNS.ZoneID,
	}, nil
}

func (p *Route53Provider) Name() string { return "route53" }

// Upsert applies the record as a single UPSERT change batch
func (p *Route53Provider) Upsert(ctx context.Context, record Record) error {
	_, err := p.api.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
		ChangeBatch: &types.ChangeBatch{
			Comment: aws.String("redisguard failover"),
			Changes: []types.Change{{
				Action: types.ChangeActionUpsert,
				ResourceRecordSet: &types.ResourceRecordSet{
					Name: aws.String(fqdn(record.Name)),
					Type: types.RRType(record.Type),
					TTL:  aws.Int64(record.TTL),
					ResourceRecords: []types.ResourceRecord{
						{Value: aws.String(fqdn(record.Value))},
					},
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("route53 change failed: %w", err)
	}
	return nil
}
