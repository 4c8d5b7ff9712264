package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/health"
	"github.com/jihwankim/redisguard/pkg/logevidence"
	"github.com/jihwankim/redisguard/pkg/logging"
	"github.com/jihwankim/redisguard/pkg/metrics"
)

// Actions the model is allowed to recommend
const (
	ActionFailover     = "failover"
	ActionMonitor      = "monitor"
	ActionNoAction     = "no_action"
	ActionManualReview = "manual_review"
)

const (
	// consultations per instance are spaced at least this far apart
	rateLimitInterval = 300 * time.Second

	maxResponseTokens = 1000
)

// Recommendation is the advisor's structured answer
type Recommendation struct {
	RecommendedAction string    `json:"recommendation"`
	TargetDC          string    `json:"target_dc,omitempty"`
	Confidence        float64   `json:"confidence"`
	Reasoning         string    `json:"reason"`
	PotentialImpact   string    `json:"potential_impact,omitempty"`
	PrimaryIndicators []string  `json:"primary_indicators,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

const systemPrompt = `You are an expert in Redis operations advising an automated failover agent for multi-datacenter replicated Redis databases.
You receive health statuses, recent metrics and client log evidence for one database. Avoid recommending failover unless there is strong evidence it will improve the situation; look for corroborating evidence between server metrics and client logs.
YOUR RESPONSE MUST BE A VALID JSON OBJECT with these keys:
- recommendation: one of "failover", "no_action", "monitor", "manual_review"
- target_dc: (only if recommendation is "failover") name of the recommended target datacenter
- confidence: numeric value between 0 and 1 indicating confidence in your recommendation
- reason: brief explanation of your reasoning
- potential_impact: brief assessment of the impact of your recommendation
- primary_indicators: array of the main metrics/logs that influenced your decision`

// chatClient is the slice of the OpenAI client the advisor uses
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Advisor consults an Azure OpenAI deployment for failover advice
type Advisor struct {
	chat   chatClient
	model  string
	logger *logging.Logger

	mu       sync.Mutex
	lastCall map[string]time.Time
	lastRec  map[string]Recommendation
}

// New builds an advisor against the configured Azure OpenAI deployment
func New(cfg *config.Config, logger *logging.Logger) *Advisor {
	clientCfg := openai.DefaultAzureConfig(cfg.AzureOpenAI.APIKey, cfg.AzureOpenAI.Endpoint)
	if cfg.AzureOpenAI.APIVersion != "" {
		clientCfg.APIVersion = cfg.AzureOpenAI.APIVersion
	}

	return &Advisor{
		chat:     openai.NewClientWithConfig(clientCfg),
		model:    cfg.AzureOpenAI.Model,
		logger:   logger.WithField("component", "advisor"),
		lastCall: make(map[string]time.Time),
		lastRec:  make(map[string]Recommendation),
	}
}

// Consult asks the model for a recommendation. Within the rate-limit
// window the previous recommendation is returned unchanged.
func (a *Advisor) Consult(
	ctx context.Context,
	instance *config.Instance,
	statuses map[string]health.Status,
	recent []metrics.Sample,
	analysis logevidence.Analysis,
	logs []logevidence.LogEntry,
) (Recommendation, error) {
	a.mu.Lock()
	if last, ok := a.lastCall[instance.UID]; ok && time.Since(last) < rateLimitInterval {
		rec, have := a.lastRec[instance.UID]
		a.mu.Unlock()
		if have {
			return rec, nil
		}
		return Recommendation{
			RecommendedAction: ActionNoAction,
			Confidence:        0,
			Reasoning:         "Rate limited",
			Timestamp:         time.Now(),
		}, nil
	}
	a.mu.Unlock()

	userMsg, err := a.buildPrompt(instance, statuses, recent, analysis, logs)
	if err != nil {
		return Recommendation{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := a.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.2,
		MaxTokens:   maxResponseTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
	})
	if err != nil {
		return Recommendation{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Recommendation{}, fmt.Errorf("chat completion returned no choices")
	}

	rec := a.parseRecommendation(instance, resp.Choices[0].Message.Content)

	a.mu.Lock()
	a.lastCall[instance.UID] = time.Now()
	a.lastRec[instance.UID] = rec
	a.mu.Unlock()

	a.logger.Info("advisor consulted",
		"instance", instance.UID,
		"action", rec.RecommendedAction,
		"target_dc", rec.TargetDC,
		"confidence", rec.Confidence)

	return rec, nil
}

// buildPrompt assembles the user message from the evidence at hand
func (a *Advisor) buildPrompt(
	instance *config.Instance,
	statuses map[string]health.Status,
	recent []metrics.Sample,
	analysis logevidence.Analysis,
	logs []logevidence.LogEntry,
) (string, error) {
	payload := map[string]interface{}{
		"instance": map[string]interface{}{
			"uid":       instance.UID,
			"name":      instance.Name,
			"active_dc": instance.ActiveDC,
		},
		"health":         statuses,
		"recent_metrics": recent,
		"log_analysis":   analysis,
		"logs":           SelectLogs(logs, instance, 10),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode advisor evidence: %w", err)
	}
	return fmt.Sprintf("Assess this database and recommend an action:\n%s", data), nil
}

// parseRecommendation validates the model output; anything malformed
// collapses to a safe no_action.
func (a *Advisor) parseRecommendation(instance *config.Instance, content string) Recommendation {
	rec := Recommendation{Timestamp: time.Now()}
	if err := json.Unmarshal([]byte(content), &rec); err != nil {
		a.logger.Warn("advisor returned malformed JSON", "instance", instance.UID, "error", err.Error())
		return Recommendation{
			RecommendedAction: ActionNoAction,
			Reasoning:         "Invalid advisor response",
			Timestamp:         time.Now(),
		}
	}
	rec.Timestamp = time.Now()

	switch rec.RecommendedAction {
	case ActionFailover, ActionMonitor, ActionNoAction, ActionManualReview:
	default:
		rec.Reasoning = fmt.Sprintf("Unknown action %q", rec.RecommendedAction)
		rec.RecommendedAction = ActionNoAction
		rec.Confidence = 0
		return rec
	}

	if rec.Confidence < 0 {
		rec.Confidence = 0
	}
	if rec.Confidence > 1 {
		rec.Confidence = 1
	}

	if rec.RecommendedAction == ActionFailover {
		if _, ok := instance.Endpoints[rec.TargetDC]; !ok || rec.TargetDC == instance.ActiveDC {
			a.logger.Warn("advisor proposed invalid failover target",
				"instance", instance.UID, "target_dc", rec.TargetDC)
			return Recommendation{
				RecommendedAction: ActionNoAction,
				Confidence:        0,
				Reasoning:         fmt.Sprintf("Invalid failover target %q", rec.TargetDC),
				Timestamp:         rec.Timestamp,
			}
		}
	}

	return rec
}

// SelectLogs trims the evidence set handed to the model: only this
// instance's entries, errors first up to half the limit, filled with
// the most recent entries, deduplicated by document id.
func SelectLogs(logs []logevidence.LogEntry, instance *config.Instance, limit int) []logevidence.LogEntry {
	var mine []logevidence.LogEntry
	for _, entry := range logs {
		if entry.Instance == "" || entry.Instance == instance.UID || entry.Instance == instance.Name {
			mine = append(mine, entry)
		}
	}

	seen := make(map[string]bool)
	out := make([]logevidence.LogEntry, 0, limit)

	add := func(entry logevidence.LogEntry) {
		if len(out) >= limit || seen[entry.ID] {
			return
		}
		seen[entry.ID] = true
		out = append(out, entry)
	}

	for _, entry := range mine {
		if len(out) >= limit/2 {
			break
		}
		if entry.IsError() {
			add(entry)
		}
	}
	for i := len(mine) - 1; i >= 0; i-- {
		add(mine[i])
	}

	return out
}
