package llm

import (
	"context"
	"time"

	"github.com/Axthefish/cogcoach/types"
)

// 各档位的基础超时预算。Review 档做交叉校验，允许最长等待。
var tierTimeouts = map[types.Tier]time.Duration{
	types.TierLite:   20 * time.Second,
	types.TierPro:    60 * time.Second,
	types.TierReview: 120 * time.Second,
}

// 复杂阶段（系统动力学、行动计划）在档位预算上乘以 1.5，上限 180s。
var heavyStages = map[types.Stage]bool{
	types.StageSystemDynamics: true,
	types.StageActionPlan:     true,
}

const maxGenerationTimeout = 180 * time.Second

// GenerationTimeout returns the timeout budget for a stage/tier combination.
// The range is 20s–180s per the workflow's latency contract.
func GenerationTimeout(tier types.Tier, stage types.Stage) time.Duration {
	d, ok := tierTimeouts[tier]
	if !ok {
		d = tierTimeouts[types.TierPro]
	}
	if heavyStages[stage] {
		d = d * 3 / 2
	}
	if d > maxGenerationTimeout {
		d = maxGenerationTimeout
	}
	return d
}

// WithGenerationTimeout derives a context bounded by the stage/tier budget.
// The caller must invoke the returned cancel func (usually via defer) so the
// timer is always released.
func WithGenerationTimeout(ctx context.Context, tier types.Tier, stage types.Stage) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, GenerationTimeout(tier, stage))
}
