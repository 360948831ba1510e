package service

import (
	"context"
	"strings"
	"time"

	agentdomain "github.com/andora/tokenledger/internal/agentconfig/domain"
	"github.com/andora/tokenledger/internal/cache"
	"github.com/andora/tokenledger/internal/clock"
	obsmetrics "github.com/andora/tokenledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Config entries expire exactly this long after population; reads do not
// renew the window.
const configCacheTTL = 5 * time.Minute

const (
	configCacheName = "agent_config"
	promptCacheName = "agent_prompt"
)

// Columns UpdateConfig accepts, keyed by their request field names.
var updatableConfigColumns = map[string]string{
	"display_name":   "display_name",
	"is_active":      "is_active",
	"default_model":  "default_model",
	"fallback_model": "fallback_model",
	"max_tokens":     "max_tokens",
	"temperature":    "temperature",
	"capabilities":   "capabilities",
	"metadata":       "metadata",
}

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	Repo       agentdomain.Repository
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	repo       agentdomain.Repository
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics

	configCache cache.Cache[string, agentdomain.AgentConfiguration]
	promptCache cache.Cache[string, agentdomain.AgentPrompt]
}

func NewService(p ServiceParam) agentdomain.Service {
	return &Service{
		log:         p.Log.Named("agentconfig.service"),
		repo:        p.Repo,
		clock:       p.Clock,
		obsMetrics:  p.ObsMetrics,
		configCache: cache.NewTTLCacheWithNow[string, agentdomain.AgentConfiguration](p.Clock.Now),
		promptCache: cache.NewTTLCacheWithNow[string, agentdomain.AgentPrompt](p.Clock.Now),
	}
}

func (s *Service) GetConfig(ctx context.Context, agentName string, useCache bool) (*agentdomain.AgentConfiguration, error) {
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		return nil, nil
	}

	if useCache {
		if cached, ok := s.configCache.Get(agentName); ok {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordCacheHit(ctx, configCacheName)
			}
			return &cached, nil
		}
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCacheMiss(ctx, configCacheName)
		}
	}

	cfg, err := s.repo.FindConfig(ctx, agentName)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}
	s.configCache.Set(agentName, *cfg, configCacheTTL)
	return cfg, nil
}

func (s *Service) UpdateConfig(ctx context.Context, agentName string, updates map[string]any) (*agentdomain.AgentConfiguration, error) {
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		return nil, agentdomain.ErrInvalidAgentName
	}

	filtered := map[string]any{}
	for field, value := range updates {
		if column, ok := updatableConfigColumns[field]; ok {
			filtered[column] = normalizeConfigValue(column, value)
		}
	}
	if len(filtered) == 0 {
		return nil, agentdomain.ErrEmptyUpdate
	}

	cfg, err := s.repo.UpdateConfig(ctx, agentName, filtered)
	if err != nil {
		return nil, err
	}
	// Evict, never repopulate here: the next read must hit the store.
	s.configCache.Delete(agentName)
	return cfg, nil
}

// normalizeConfigValue rewraps JSON-column values so gorm serializes them.
// Capabilities is a set: duplicates drop, first-seen order is kept.
func normalizeConfigValue(column string, value any) any {
	switch column {
	case "capabilities":
		switch v := value.(type) {
		case []string:
			return datatypes.NewJSONSlice(dedupeStrings(v))
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return value
				}
				out = append(out, s)
			}
			return datatypes.NewJSONSlice(dedupeStrings(out))
		}
	case "metadata":
		if m, ok := value.(map[string]any); ok {
			return datatypes.JSONMap(m)
		}
	}
	return value
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (s *Service) GetAllConfigs(ctx context.Context) ([]agentdomain.AgentConfiguration, error) {
	return s.repo.ListConfigs(ctx)
}

func (s *Service) GetPrompts(ctx context.Context, agentName string) ([]agentdomain.AgentPrompt, error) {
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		return nil, nil
	}
	return s.repo.ListPrompts(ctx, agentName)
}

func (s *Service) GetPrompt(ctx context.Context, agentName, promptKey string) (*agentdomain.AgentPrompt, error) {
	agentName = strings.TrimSpace(agentName)
	promptKey = strings.TrimSpace(promptKey)
	if agentName == "" || promptKey == "" {
		return nil, nil
	}

	key := promptCacheKey(agentName, promptKey)
	if cached, ok := s.promptCache.Get(key); ok {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCacheHit(ctx, promptCacheName)
		}
		return &cached, nil
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCacheMiss(ctx, promptCacheName)
	}

	prompt, err := s.repo.FindActivePrompt(ctx, agentName, promptKey)
	if err != nil {
		return nil, err
	}
	if prompt == nil {
		return nil, nil
	}
	// Prompts cache without a TTL; writes for the key invalidate them.
	s.promptCache.Set(key, *prompt, 0)
	return prompt, nil
}

func (s *Service) UpsertPrompt(ctx context.Context, req agentdomain.UpsertPromptRequest) (int, error) {
	agentName := strings.TrimSpace(req.AgentName)
	promptKey := strings.TrimSpace(req.PromptKey)
	if agentName == "" {
		return 0, agentdomain.ErrInvalidAgentName
	}
	if promptKey == "" {
		return 0, agentdomain.ErrInvalidPromptKey
	}

	prompt := &agentdomain.AgentPrompt{
		AgentName: agentName,
		PromptKey: promptKey,
		Template:  req.Template,
		Notes:     req.Notes,
	}
	if len(req.Variables) > 0 {
		prompt.Variables = datatypes.NewJSONSlice(req.Variables)
	}

	var (
		version int
		err     error
	)
	if req.CreateNewVersion {
		version, err = s.repo.InsertPromptVersion(ctx, prompt)
	} else {
		version, err = s.repo.UpsertActivePrompt(ctx, prompt)
	}
	if err != nil {
		return 0, err
	}

	s.promptCache.Delete(promptCacheKey(agentName, promptKey))
	s.log.Info("prompt upserted",
		zap.String("agent_name", agentName),
		zap.String("prompt_key", promptKey),
		zap.Int("version", version),
		zap.Bool("new_version", req.CreateNewVersion),
	)
	return version, nil
}

// TrackPerformance appends one execution sample. Failures are logged, never
// raised; callers treat this as fire-and-forget.
func (s *Service) TrackPerformance(ctx context.Context, req agentdomain.TrackPerformanceRequest) {
	agentName := strings.TrimSpace(req.AgentName)
	if agentName == "" {
		return
	}
	sample := &agentdomain.AgentPerformance{
		AgentName:       agentName,
		Model:           req.Model,
		TaskType:        req.TaskType,
		TokensUsed:      req.TokensUsed,
		ExecutionTimeMs: req.ExecutionTimeMs,
		Success:         req.Success,
		Error:           req.Error,
		QualityScore:    req.QualityScore,
		CostEstimate:    req.CostEstimate,
		CreatedAt:       s.clock.Now(),
	}
	if err := s.repo.InsertPerformance(ctx, sample); err != nil {
		s.log.Error("track performance failed",
			zap.String("agent_name", agentName),
			zap.String("model", req.Model),
			zap.Error(err),
		)
	}
}

func (s *Service) GetPerformanceAnalytics(ctx context.Context, agentName string, daysBack int) (agentdomain.PerformanceAnalytics, error) {
	agentName = strings.TrimSpace(agentName)
	if daysBack <= 0 {
		daysBack = 7
	}
	since := s.clock.Now().AddDate(0, 0, -daysBack)
	analytics, err := s.repo.AggregatePerformance(ctx, agentName, since)
	if err != nil {
		return analytics, err
	}
	analytics.DaysBack = daysBack
	return analytics, nil
}

func (s *Service) ClearCaches() {
	s.configCache.Clear()
	s.promptCache.Clear()
	s.log.Info("in-memory config and prompt caches cleared")
}

func promptCacheKey(agentName, promptKey string) string {
	return agentName + "\x00" + promptKey
}
