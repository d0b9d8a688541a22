package service

import (
	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

// ContextHealthConfig carries the ratios the Drive Loop compares prompt
// token usage against (§4.3 provider-context projection / §3 ContextHealthSnapshot).
type ContextHealthConfig struct {
	ModelContextLimitTokens int
	OptimalRatio            float64 // below this ratio: healthy
	CriticalRatio           float64 // above this ratio: critical
}

func DefaultContextHealthConfig(modelLimit int) ContextHealthConfig {
	return ContextHealthConfig{ModelContextLimitTokens: modelLimit, OptimalRatio: 0.7, CriticalRatio: 0.92}
}

// ContextHealthEvaluator is C3 (§4.3): given an estimated prompt token count
// for the next LLM call, it computes the tagged ContextHealthSnapshot the
// Drive Loop (C6) and the operator surface both rely on.
type ContextHealthEvaluator struct {
	config ContextHealthConfig
	logger *zap.Logger
}

func NewContextHealthEvaluator(config ContextHealthConfig, logger *zap.Logger) *ContextHealthEvaluator {
	return &ContextHealthEvaluator{config: config, logger: logger}
}

// Evaluate projects promptTokens (as estimated by EstimateTokens) and the
// last completion's token count into a ContextHealthSnapshot. When the
// model's context limit is unknown (ModelContextLimitTokens <= 0) the
// result is the unavailable{model_limit_unavailable} variant, per §3.
func (e *ContextHealthEvaluator) Evaluate(promptTokens, completionTokens int) entity.ContextHealthSnapshot {
	if e.config.ModelContextLimitTokens <= 0 {
		return entity.Unavailable(entity.ReasonModelLimitUnavailable)
	}

	limit := e.config.ModelContextLimitTokens
	optimalMax := int(float64(limit) * e.config.OptimalRatio)
	criticalMax := int(float64(limit) * e.config.CriticalRatio)

	level := entity.HealthHealthy
	switch {
	case promptTokens >= criticalMax:
		level = entity.HealthCritical
	case promptTokens >= optimalMax:
		level = entity.HealthCaution
	}

	if level != entity.HealthHealthy {
		e.logger.Info("context health degraded",
			zap.Int("prompt_tokens", promptTokens),
			zap.Int("limit", limit),
			zap.String("level", string(level)),
		)
	}

	return entity.ContextHealthSnapshot{
		Available:                  true,
		PromptTokens:               promptTokens,
		CompletionTokens:           completionTokens,
		ModelContextLimitTokens:    limit,
		EffectiveOptimalMaxTokens:  optimalMax,
		EffectiveCriticalMaxTokens: criticalMax,
		Level:                      level,
	}
}

// EstimateTokens roughly estimates token count for a slice of provider
// messages using a chars-per-token heuristic (blend of English ~4, CJK ~2).
func EstimateTokens(messages []LLMMessage) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.TextContent()) / 3
		for _, p := range msg.Parts {
			if p.Type != "text" {
				total += 85
			}
		}
		for _, tc := range msg.ToolCalls {
			total += len(tc.Name) + 50
		}
	}
	total += len(messages) * 4
	return total
}
