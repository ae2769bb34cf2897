package types

// Stage 标识教练工作流的一个阶段，用作缓存/配置的分区键。
type Stage string

const (
	StageGoalRefinement    Stage = "s0" // 目标澄清
	StageKnowledgeFrame    Stage = "s1" // 知识框架
	StageSystemDynamics    Stage = "s2" // 系统动力学
	StageActionPlan        Stage = "s3" // 行动计划
	StageProgressAnalysis  Stage = "s4" // 进展分析
)

// Stages lists all workflow stages in order.
var Stages = []Stage{
	StageGoalRefinement,
	StageKnowledgeFrame,
	StageSystemDynamics,
	StageActionPlan,
	StageProgressAnalysis,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageGoalRefinement, StageKnowledgeFrame, StageSystemDynamics,
		StageActionPlan, StageProgressAnalysis:
		return true
	}
	return false
}

// Name returns a human-readable stage name.
func (s Stage) Name() string {
	switch s {
	case StageGoalRefinement:
		return "goal refinement"
	case StageKnowledgeFrame:
		return "knowledge framework"
	case StageSystemDynamics:
		return "system dynamics"
	case StageActionPlan:
		return "action plan"
	case StageProgressAnalysis:
		return "progress analysis"
	default:
		return string(s)
	}
}

// Tier 是生成调用的质量/时延/成本档位，决定模型与超时预算。
type Tier string

const (
	TierLite   Tier = "lite"
	TierPro    Tier = "pro"
	TierReview Tier = "review"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierLite, TierPro, TierReview:
		return true
	}
	return false
}
