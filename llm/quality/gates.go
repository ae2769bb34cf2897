package quality

import (
	"fmt"

	"github.com/Axthefish/cogcoach/types"
)

// 覆盖率容差：缺失占比超过 10% 才算 blocker；小集合（<= 8 个节点）
// 允许缺 1 个只给 warn。
const (
	coverageBlockerRatio = 0.10
	smallSetSize         = 8
	smallSetTolerance    = 1
)

// CrossStageContext carries earlier-stage artifacts needed for consistency
// checks. Fields are optional; absent ones skip their checks.
type CrossStageContext struct {
	Framework *KnowledgeFramework
}

// RunQualityGates validates a generated stage artifact. output must be the
// stage's artifact type (value or pointer); anything else is a schema
// blocker.
func RunQualityGates(stage types.Stage, output any, cctx *CrossStageContext) GateResult {
	var issues []Issue

	switch stage {
	case types.StageGoalRefinement:
		issues = checkRefinedGoal(asRefinedGoal(output))
	case types.StageKnowledgeFrame:
		issues = checkFramework(asFramework(output))
	case types.StageSystemDynamics:
		issues = checkDynamics(asDynamics(output), cctx)
	case types.StageActionPlan:
		issues = checkActionPlan(asActionPlan(output))
	case types.StageProgressAnalysis:
		issues = checkProgress(asProgress(output))
	default:
		issues = []Issue{{
			Severity: SeverityBlocker,
			Area:     AreaSchema,
			Hint:     fmt.Sprintf("unknown stage %q", stage),
		}}
	}

	return finish(issues)
}

func checkRefinedGoal(goal *RefinedGoal) []Issue {
	if goal == nil {
		return []Issue{typeMismatch("RefinedGoal")}
	}
	var issues []Issue
	if goal.Statement == "" {
		issues = append(issues, Issue{
			Severity: SeverityBlocker, Area: AreaSchema,
			Hint: "goal statement is required", TargetPath: "statement",
		})
	}
	if len(goal.SuccessCriteria) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityBlocker, Area: AreaSchema,
			Hint: "at least one success criterion is required", TargetPath: "successCriteria",
		})
	}
	if len(goal.Constraints) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarn, Area: AreaEvidence,
			Hint: "no constraints captured; goal may be under-specified", TargetPath: "constraints",
		})
	}
	return issues
}

func checkFramework(fw *KnowledgeFramework) []Issue {
	if fw == nil {
		return []Issue{typeMismatch("KnowledgeFramework")}
	}
	var issues []Issue
	if len(fw.Nodes) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityBlocker, Area: AreaSchema,
			Hint: "framework must contain at least one node", TargetPath: "nodes",
		})
		return issues
	}

	seen := make(map[string]bool)
	for i, id := range fw.NodeIDs() {
		if id == "" {
			issues = append(issues, Issue{
				Severity: SeverityBlocker, Area: AreaSchema,
				Hint: "framework node is missing an id", TargetPath: fmt.Sprintf("nodes[%d].id", i),
			})
			continue
		}
		if seen[id] {
			issues = append(issues, Issue{
				Severity: SeverityBlocker, Area: AreaConsistency,
				Hint: fmt.Sprintf("duplicate node id %q", id), TargetPath: "nodes",
			})
		}
		seen[id] = true
	}

	for _, n := range fw.Nodes {
		if n.Summary == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarn, Area: AreaEvidence,
				Hint: fmt.Sprintf("node %q has no summary", n.ID), TargetPath: "nodes",
			})
		}
	}
	return issues
}

func checkDynamics(dyn *SystemDynamics, cctx *CrossStageContext) []Issue {
	if dyn == nil {
		return []Issue{typeMismatch("SystemDynamics")}
	}
	var issues []Issue
	if dyn.Mermaid == "" {
		issues = append(issues, Issue{
			Severity: SeverityBlocker, Area: AreaSchema,
			Hint: "system dynamics diagram is required", TargetPath: "mermaid",
		})
	}
	if len(dyn.Nodes) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityBlocker, Area: AreaSchema,
			Hint: "system dynamics must reference framework nodes", TargetPath: "nodes",
		})
	}

	if cctx != nil && cctx.Framework != nil {
		issues = append(issues, checkCoverage(cctx.Framework, dyn)...)
	}
	return issues
}

// checkCoverage verifies every framework node id reappears in the dynamics
// node list. Missing ratio above the threshold blocks; a single missing id
// on a small framework only warns.
func checkCoverage(fw *KnowledgeFramework, dyn *SystemDynamics) []Issue {
	present := make(map[string]bool, len(dyn.Nodes))
	for _, n := range dyn.Nodes {
		present[n.ID] = true
	}

	ids := fw.NodeIDs()
	var missing []string
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 || len(ids) == 0 {
		return nil
	}

	ratio := float64(len(missing)) / float64(len(ids))
	severity := SeverityWarn
	if ratio > coverageBlockerRatio && !(len(ids) <= smallSetSize && len(missing) <= smallSetTolerance) {
		severity = SeverityBlocker
	}

	return []Issue{{
		Severity: severity,
		Area:     AreaCoverage,
		Hint: fmt.Sprintf("%d of %d framework nodes missing from system dynamics: %v",
			len(missing), len(ids), missing),
		TargetPath: "nodes",
	}}
}

func checkActionPlan(plan *ActionPlanResponse) []Issue {
	if plan == nil {
		return []Issue{typeMismatch("ActionPlanResponse")}
	}
	var issues []Issue
	if len(plan.Items) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityBlocker, Area: AreaSchema,
			Hint: "action plan must contain at least one item", TargetPath: "items",
		})
	}
	if len(plan.Metrics) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityBlocker, Area: AreaSchema,
			Hint: "action plan must define at least one metric", TargetPath: "metrics",
		})
	}

	for i, m := range plan.Metrics {
		path := fmt.Sprintf("metrics[%d]", i)
		if len(m.Triggers) == 0 {
			issues = append(issues, actionabilityIssue(m.Name, "has no trigger", path+".triggers"))
		}
		if len(m.DiagnosisSteps) == 0 {
			issues = append(issues, actionabilityIssue(m.Name, "has no diagnosis step", path+".diagnosisSteps"))
		}
		if len(m.Options) == 0 {
			issues = append(issues, actionabilityIssue(m.Name, "has no remediation option", path+".options"))
		}
		if m.RecoveryWindow == "" {
			issues = append(issues, actionabilityIssue(m.Name, "has no recovery window", path+".recoveryWindow"))
		}
		if m.StopLoss == "" {
			issues = append(issues, actionabilityIssue(m.Name, "has no stop-loss condition", path+".stopLoss"))
		}
		if m.Evidence == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarn, Area: AreaEvidence,
				Hint:       fmt.Sprintf("metric %q has no supporting evidence", m.Name),
				TargetPath: path + ".evidence",
			})
		}
	}
	return issues
}

func checkProgress(p *ProgressAnalysis) []Issue {
	if p == nil {
		return []Issue{typeMismatch("ProgressAnalysis")}
	}
	var issues []Issue
	if p.Assessment == "" {
		issues = append(issues, Issue{
			Severity: SeverityBlocker, Area: AreaSchema,
			Hint: "progress assessment is required", TargetPath: "assessment",
		})
	}
	if len(p.Recommendations) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityBlocker, Area: AreaSchema,
			Hint: "at least one recommendation is required", TargetPath: "recommendations",
		})
	}
	if p.Evidence == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarn, Area: AreaEvidence,
			Hint: "assessment cites no evidence", TargetPath: "evidence",
		})
	}
	return issues
}

func actionabilityIssue(metric, problem, path string) Issue {
	return Issue{
		Severity:   SeverityBlocker,
		Area:       AreaActionability,
		Hint:       fmt.Sprintf("metric %q %s", metric, problem),
		TargetPath: path,
	}
}

func typeMismatch(want string) Issue {
	return Issue{
		Severity: SeverityBlocker,
		Area:     AreaSchema,
		Hint:     fmt.Sprintf("output is not a %s", want),
	}
}

// ====== 类型断言辅助：接受值或指针 ======

func asRefinedGoal(v any) *RefinedGoal {
	switch t := v.(type) {
	case *RefinedGoal:
		return t
	case RefinedGoal:
		return &t
	}
	return nil
}

func asFramework(v any) *KnowledgeFramework {
	switch t := v.(type) {
	case *KnowledgeFramework:
		return t
	case KnowledgeFramework:
		return &t
	}
	return nil
}

func asDynamics(v any) *SystemDynamics {
	switch t := v.(type) {
	case *SystemDynamics:
		return t
	case SystemDynamics:
		return &t
	}
	return nil
}

func asActionPlan(v any) *ActionPlanResponse {
	switch t := v.(type) {
	case *ActionPlanResponse:
		return t
	case ActionPlanResponse:
		return &t
	}
	return nil
}

func asProgress(v any) *ProgressAnalysis {
	switch t := v.(type) {
	case *ProgressAnalysis:
		return t
	case ProgressAnalysis:
		return &t
	}
	return nil
}
