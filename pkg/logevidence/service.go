package logevidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/logging"
)

// LogEntry is one client log document
type LogEntry struct {
	ID        string    `json:"_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Source    string    `json:"log_source,omitempty"`
	Instance  string    `json:"redis_instance,omitempty"`
}

// IsError reports whether the entry is an error-level log
func (e LogEntry) IsError() bool {
	switch e.Level {
	case "error", "ERROR", "critical", "CRITICAL", "fatal", "FATAL":
		return true
	}
	return false
}

type cacheEntry struct {
	logs    []LogEntry
	fetched time.Time
}

// Service pulls client logs for an instance from Elasticsearch. Results
// are cached per instance for the configured TTL.
type Service struct {
	es     *elasticsearch.Client
	cfg    *config.Config
	logger *logging.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewService builds the Elasticsearch client from config
func NewService(cfg *config.Config, logger *logging.Logger) (*Service, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.ELK.URL},
		Username:  cfg.ELK.Username,
		Password:  cfg.ELK.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &Service{
		es:     es,
		cfg:    cfg,
		logger: logger.WithField("component", "logevidence"),
		cache:  make(map[string]cacheEntry),
	}, nil
}

func (s *Service) index() string {
	if s.cfg.ELK.IndexPattern != "" {
		return s.cfg.ELK.IndexPattern
	}
	return "logstash-*"
}

func (s *Service) clientLogsOnly() bool {
	if s.cfg.ELK.ClientLogsOnly == nil {
		return true
	}
	return *s.cfg.ELK.ClientLogsOnly
}

// buildQuery assembles the search body for one instance over a window
func (s *Service) buildQuery(instance *config.Instance, window time.Duration) map[string]interface{} {
	must := []interface{}{
		map[string]interface{}{
			"range": map[string]interface{}{
				"@timestamp": map[string]interface{}{
					"gte": fmt.Sprintf("now-%ds", int(window.Seconds())),
				},
			},
		},
	}

	if s.clientLogsOnly() {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"log_source.keyword": "client"},
		})
	}
	if s.cfg.ELK.ErrorsOnly {
		must = append(must, map[string]interface{}{
			"terms": map[string]interface{}{"level.keyword": []string{"error", "critical", "fatal"}},
		})
	}

	should := []interface{}{
		map[string]interface{}{
			"term": map[string]interface{}{"redis_instance.keyword": instance.UID},
		},
		map[string]interface{}{
			"term": map[string]interface{}{"redis_instance_name.keyword": instance.Name},
		},
		map[string]interface{}{
			"query_string": map[string]interface{}{
				"query":         fmt.Sprintf("message:*%s*", instance.Name),
				"default_field": "message",
			},
		},
	}

	return map[string]interface{}{
		"size": 1000,
		"sort": []interface{}{
			map[string]interface{}{"@timestamp": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":                 must,
				"should":               should,
				"minimum_should_match": 1,
			},
		},
	}
}

// FetchLogs returns client logs for an instance over the given window,
// serving from cache unless expired or force is set.
func (s *Service) FetchLogs(ctx context.Context, instance *config.Instance, window time.Duration, force bool) ([]LogEntry, error) {
	s.mu.Lock()
	if entry, ok := s.cache[instance.UID]; ok && !force && time.Since(entry.fetched) < s.cfg.ELKCacheTTL() {
		logs := entry.logs
		s.mu.Unlock()
		return logs, nil
	}
	s.mu.Unlock()

	body, err := json.Marshal(s.buildQuery(instance, window))
	if err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ELKTimeout())
	defer cancel()

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index()),
		s.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("log search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("log search returned status %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string `json:"_id"`
				Source struct {
					Timestamp time.Time `json:"@timestamp"`
					Message   string    `json:"message"`
					Level     string    `json:"level"`
					LogSource string    `json:"log_source"`
					Instance  string    `json:"redis_instance"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	logs := make([]LogEntry, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		logs = append(logs, LogEntry{
			ID:        hit.ID,
			Timestamp: hit.Source.Timestamp,
			Message:   hit.Source.Message,
			Level:     hit.Source.Level,
			Source:    hit.Source.LogSource,
			Instance:  hit.Source.Instance,
		})
	}

	s.mu.Lock()
	s.cache[instance.UID] = cacheEntry{logs: logs, fetched: time.Now()}
	s.mu.Unlock()

	s.logger.Debug("fetched client logs", "instance", instance.UID, "count", len(logs))
	return logs, nil
}

// Analyze fetches logs and summarizes client impact. Transport errors
// yield an empty analysis, never a failure.
func (s *Service) Analyze(ctx context.Context, instance *config.Instance, window time.Duration) Analysis {
	logs, err := s.FetchLogs(ctx, instance, window, false)
	if err != nil {
		s.logger.Warn("log analysis unavailable", "instance", instance.UID, "error", err.Error())
		return Analysis{Impact: ImpactUnknown}
	}
	return AnalyzeLogs(logs)
}
