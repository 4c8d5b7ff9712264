package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Endpoint is a single datacenter endpoint for an instance
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the host:port address for the endpoint
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Instance describes a replicated Redis database to supervise
type Instance struct {
	Name      string              `json:"name"`
	UID       string              `json:"uid"`
	Endpoints map[string]Endpoint `json:"endpoints"`
	ActiveDC  string              `json:"active_dc"`
	Password  string              `json:"password,omitempty"`
}

// Datacenter describes one datacenter and its optional admin API
type Datacenter struct {
	Name        string `json:"name"`
	APIURL      string `json:"api_url,omitempty"`
	APIUser     string `json:"api_user,omitempty"`
	APIPassword string `json:"api_password,omitempty"`
}

// DNSRecord is a routing record managed by the failover executor
type DNSRecord struct {
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	TTL          int64  `json:"ttl,omitempty"`
	InstanceUID  string `json:"instance_uid,omitempty"`
	InstanceName string `json:"instance_name,omitempty"`
}

// DNSConfig carries provider credentials and the managed record set
type DNSConfig struct {
	ZoneID        string                       `json:"zone_id,omitempty"`
	ProjectID     string                       `json:"project_id,omitempty"`
	ZoneName      string                       `json:"zone_name,omitempty"`
	AWSAccessKey  string                       `json:"aws_access_key,omitempty"`
	AWSSecretKey  string                       `json:"aws_secret_key,omitempty"`
	AWSRegion     string                       `json:"aws_region,omitempty"`
	DefaultSuffix string                       `json:"default_suffix,omitempty"`
	Records       []DNSRecord                  `json:"records,omitempty"`
	EndpointMap   map[string]map[string]string `json:"endpoint_map,omitempty"`
}

// AzureOpenAIConfig configures the LLM advisor
type AzureOpenAIConfig struct {
	APIKey     string `json:"api_key,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	APIVersion string `json:"api_version,omitempty"`
	Model      string `json:"model,omitempty"`
}

// ELKConfig configures the client-log search service
type ELKConfig struct {
	URL            string `json:"url,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	IndexPattern   string `json:"index_pattern,omitempty"`
	CacheTTL       int    `json:"cache_ttl,omitempty"`
	Timeout        int    `json:"timeout,omitempty"`
	ClientLogsOnly *bool  `json:"client_logs_only,omitempty"`
	ErrorsOnly     bool   `json:"errors_only,omitempty"`
}

// SlackConfig configures the Slack alert channel
type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel,omitempty"`
}

// EmailConfig configures the SMTP alert channel
type EmailConfig struct {
	SMTPServer  string   `json:"smtp_server"`
	Port        int      `json:"port"`
	Username    string   `json:"username,omitempty"`
	Password    string   `json:"password,omitempty"`
	FromAddress string   `json:"from_address"`
	ToAddresses []string `json:"to_addresses"`
}

// PagerDutyConfig configures the PagerDuty alert channel
type PagerDutyConfig struct {
	ServiceKey string `json:"service_key"`
}

// AlertEndpoints groups the configured alert channels
type AlertEndpoints struct {
	Slack     *SlackConfig     `json:"slack,omitempty"`
	Email     *EmailConfig     `json:"email,omitempty"`
	PagerDuty *PagerDutyConfig `json:"pagerduty,omitempty"`
}

// APIConfig configures the read-only admin HTTP API
type APIConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Listen  string `json:"listen,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// Config is the agent configuration, loaded from a JSON file
type Config struct {
	Instances   []*Instance           `json:"instances"`
	Datacenters map[string]Datacenter `json:"datacenters"`

	MonitoringInterval int `json:"monitoring_interval,omitempty"`
	DecisionInterval   int `json:"decision_interval,omitempty"`

	ModelPath        string  `json:"model_path,omitempty"`
	AnomalyThreshold float64 `json:"anomaly_threshold,omitempty"`

	AutoFailover                 bool    `json:"auto_failover,omitempty"`
	FailoverProvider             string  `json:"failover_provider,omitempty"`
	FailoverConfidenceThreshold  float64 `json:"failover_confidence_threshold,omitempty"`
	FailoverConsecutiveThreshold int     `json:"failover_consecutive_threshold,omitempty"`
	AIFailoverConfidence         float64 `json:"ai_failover_confidence,omitempty"`

	DNSProvider string    `json:"dns_provider,omitempty"`
	DNS         DNSConfig `json:"dns_config,omitempty"`

	AlertEndpoints AlertEndpoints `json:"alert_endpoints,omitempty"`

	UseAzureOpenAI bool              `json:"use_azure_openai,omitempty"`
	UseELK         bool              `json:"use_elk,omitempty"`
	AzureOpenAI    AzureOpenAIConfig `json:"azure_openai,omitempty"`
	ELK            ELKConfig         `json:"elk,omitempty"`

	API APIConfig `json:"api,omitempty"`

	StopFile string `json:"stop_file,omitempty"`

	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	return &Config{
		Datacenters:                  make(map[string]Datacenter),
		MonitoringInterval:           30,
		DecisionInterval:             60,
		ModelPath:                    "./models",
		AnomalyThreshold:             0.8,
		AutoFailover:                 false,
		FailoverProvider:             "dns",
		FailoverConfidenceThreshold:  0.95,
		FailoverConsecutiveThreshold: 3,
		AIFailoverConfidence:         0.8,
		DNSProvider:                  "route53",
		StopFile:                     "/tmp/redisguard-stop",
		LogLevel:                     "info",
		LogFormat:                    "text",
	}
}

// Load reads the configuration file, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AZURE_OPENAI_API_KEY"); v != "" {
		c.AzureOpenAI.APIKey = v
	}
	if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" {
		c.AzureOpenAI.Endpoint = v
	}

	if v := os.Getenv("ELASTICSEARCH_URL"); v != "" {
		c.ELK.URL = v
	}
	if v := os.Getenv("ELASTICSEARCH_USERNAME"); v != "" {
		c.ELK.Username = v
	}
	if v := os.Getenv("ELASTICSEARCH_PASSWORD"); v != "" {
		c.ELK.Password = v
	}

	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		c.DNS.AWSAccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		c.DNS.AWSSecretKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.DNS.AWSRegion = v
	}

	if v := os.Getenv("API_KEY"); v != "" {
		c.API.APIKey = v
	}

	for _, instance := range c.Instances {
		if v := os.Getenv("REDIS_PASSWORD_" + instance.UID); v != "" {
			instance.Password = v
		}
	}
}

// Validate checks the configuration for missing or inconsistent fields
func (c *Config) Validate() error {
	if len(c.Instances) == 0 {
		return fmt.Errorf("at least one instance is required")
	}

	seen := make(map[string]bool)
	for _, instance := range c.Instances {
		if instance.Name == "" || instance.UID == "" {
			return fmt.Errorf("instance missing required name or uid")
		}
		if seen[instance.UID] {
			return fmt.Errorf("duplicate instance uid: %s", instance.UID)
		}
		seen[instance.UID] = true
		if len(instance.Endpoints) == 0 {
			return fmt.Errorf("instance %s has no endpoints", instance.Name)
		}
		if instance.ActiveDC == "" {
			return fmt.Errorf("instance %s missing active_dc", instance.Name)
		}
		if _, ok := instance.Endpoints[instance.ActiveDC]; !ok {
			return fmt.Errorf("instance %s: active_dc %q is not a configured endpoint", instance.Name, instance.ActiveDC)
		}
		for dc, ep := range instance.Endpoints {
			if ep.Host == "" || ep.Port <= 0 {
				return fmt.Errorf("instance %s: endpoint %s needs host and port", instance.Name, dc)
			}
		}
	}

	if c.UseAzureOpenAI {
		if c.AzureOpenAI.APIKey == "" || c.AzureOpenAI.Endpoint == "" || c.AzureOpenAI.Model == "" {
			return fmt.Errorf("azure_openai requires api_key, endpoint and model")
		}
	}

	if c.UseELK && c.ELK.URL == "" {
		return fmt.Errorf("elk requires url")
	}

	if c.AutoFailover && c.FailoverProvider == "dns" {
		switch c.DNSProvider {
		case "route53":
			if c.DNS.ZoneID == "" {
				return fmt.Errorf("route53 requires zone_id")
			}
		case "clouddns":
			if c.DNS.ProjectID == "" || c.DNS.ZoneName == "" {
				return fmt.Errorf("clouddns requires project_id and zone_name")
			}
		default:
			return fmt.Errorf("unsupported dns provider: %s", c.DNSProvider)
		}
	}

	return nil
}

// FindInstance returns the instance with the given UID, or nil
func (c *Config) FindInstance(uid string) *Instance {
	for _, instance := range c.Instances {
		if instance.UID == uid {
			return instance
		}
	}
	return nil
}

// MonitoringPeriod returns the probe interval as a duration
func (c *Config) MonitoringPeriod() time.Duration {
	return time.Duration(c.MonitoringInterval) * time.Second
}

// DecisionPeriod returns the decision loop interval as a duration
func (c *Config) DecisionPeriod() time.Duration {
	return time.Duration(c.DecisionInterval) * time.Second
}

// ELKCacheTTL returns the client-log cache TTL as a duration
func (c *Config) ELKCacheTTL() time.Duration {
	if c.ELK.CacheTTL <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.ELK.CacheTTL) * time.Second
}

// ELKTimeout returns the search request timeout as a duration
func (c *Config) ELKTimeout() time.Duration {
	if c.ELK.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ELK.Timeout) * time.Second
}
