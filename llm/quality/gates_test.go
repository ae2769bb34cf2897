package quality

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axthefish/cogcoach/types"
)

func validGoal() RefinedGoal {
	return RefinedGoal{
		Statement:       "三个月内减重五公斤",
		Constraints:     []string{"工作日只有早上有时间"},
		SuccessCriteria: []string{"体重下降 5kg"},
	}
}

func validMetric() PlanMetric {
	return PlanMetric{
		Name:           "weekly_runs",
		Triggers:       []string{"连续两周未达到 3 次"},
		DiagnosisSteps: []string{"检查作息记录"},
		Options:        []string{"改为早上跑步"},
		RecoveryWindow: "两周",
		StopLoss:       "连续四周未执行则重新规划",
		Evidence:       "习惯养成研究",
	}
}

func validPlan() ActionPlanResponse {
	return ActionPlanResponse{
		Items:   []PlanItem{{ID: "a1", Action: "每周跑步三次", Cadence: "weekly"}},
		Metrics: []PlanMetric{validMetric()},
	}
}

func frameworkWithNodes(n int) *KnowledgeFramework {
	fw := &KnowledgeFramework{}
	for i := 0; i < n; i++ {
		fw.Nodes = append(fw.Nodes, FrameworkNode{
			ID:      fmt.Sprintf("n%d", i),
			Title:   fmt.Sprintf("node %d", i),
			Summary: "summary",
		})
	}
	return fw
}

func dynamicsCovering(fw *KnowledgeFramework, skip int) *SystemDynamics {
	dyn := &SystemDynamics{Mermaid: "graph TD"}
	ids := fw.NodeIDs()
	for _, id := range ids[:len(ids)-skip] {
		dyn.Nodes = append(dyn.Nodes, DynamicsNode{ID: id})
	}
	return dyn
}

func TestRunQualityGates_ValidArtifactsPass(t *testing.T) {
	tests := []struct {
		stage  types.Stage
		output any
	}{
		{types.StageGoalRefinement, validGoal()},
		{types.StageKnowledgeFrame, *frameworkWithNodes(3)},
		{types.StageActionPlan, validPlan()},
		{types.StageProgressAnalysis, ProgressAnalysis{
			Assessment:      "进展良好",
			Recommendations: []string{"保持节奏"},
			Evidence:        "过去两周完成率 90%",
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			res := RunQualityGates(tt.stage, tt.output, nil)
			assert.True(t, res.Passed, "issues: %v", res.Issues)
			assert.Empty(t, res.Blockers())
		})
	}
}

func TestRunQualityGates_TypeMismatchBlocks(t *testing.T) {
	res := RunQualityGates(types.StageGoalRefinement, "not a goal", nil)
	require.False(t, res.Passed)
	assert.Equal(t, AreaSchema, res.Issues[0].Area)
}

func TestRunQualityGates_UnknownStageBlocks(t *testing.T) {
	res := RunQualityGates(types.Stage("s9"), validGoal(), nil)
	assert.False(t, res.Passed)
}

func TestCheckActionPlan_MissingStopLossBlocks(t *testing.T) {
	plan := validPlan()
	plan.Metrics[0].StopLoss = ""

	res := RunQualityGates(types.StageActionPlan, plan, nil)
	require.False(t, res.Passed)

	blockers := res.Blockers()
	require.Len(t, blockers, 1)
	assert.Equal(t, AreaActionability, blockers[0].Area)
	assert.Contains(t, blockers[0].Hint, "stop-loss")
}

func TestCheckActionPlan_EachActionabilityFieldRequired(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*PlanMetric)
	}{
		{"no triggers", func(m *PlanMetric) { m.Triggers = nil }},
		{"no diagnosis steps", func(m *PlanMetric) { m.DiagnosisSteps = nil }},
		{"no options", func(m *PlanMetric) { m.Options = nil }},
		{"no recovery window", func(m *PlanMetric) { m.RecoveryWindow = "" }},
		{"no stop loss", func(m *PlanMetric) { m.StopLoss = "" }},
	}
	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			plan := validPlan()
			tt.mutate(&plan.Metrics[0])
			res := RunQualityGates(types.StageActionPlan, plan, nil)
			assert.False(t, res.Passed)
		})
	}
}

func TestCheckActionPlan_MissingEvidenceOnlyWarns(t *testing.T) {
	plan := validPlan()
	plan.Metrics[0].Evidence = ""

	res := RunQualityGates(types.StageActionPlan, plan, nil)
	assert.True(t, res.Passed)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, SeverityWarn, res.Issues[0].Severity)
	assert.Equal(t, AreaEvidence, res.Issues[0].Area)
}

func TestCheckDynamics_FullCoveragePasses(t *testing.T) {
	fw := frameworkWithNodes(10)
	dyn := dynamicsCovering(fw, 0)

	res := RunQualityGates(types.StageSystemDynamics, dyn, &CrossStageContext{Framework: fw})
	assert.True(t, res.Passed, "issues: %v", res.Issues)
}

func TestCheckDynamics_LargeGapBlocks(t *testing.T) {
	fw := frameworkWithNodes(10)
	dyn := dynamicsCovering(fw, 3) // 30% missing

	res := RunQualityGates(types.StageSystemDynamics, dyn, &CrossStageContext{Framework: fw})
	require.False(t, res.Passed)

	blockers := res.Blockers()
	require.Len(t, blockers, 1)
	assert.Equal(t, AreaCoverage, blockers[0].Area)
}

func TestCheckDynamics_SmallSetToleratesOneMissing(t *testing.T) {
	// 1 missing out of 6 is 17%, above the ratio threshold, but small
	// frameworks get one node of slack and only warn.
	fw := frameworkWithNodes(6)
	dyn := dynamicsCovering(fw, 1)

	res := RunQualityGates(types.StageSystemDynamics, dyn, &CrossStageContext{Framework: fw})
	assert.True(t, res.Passed)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, SeverityWarn, res.Issues[0].Severity)
	assert.Equal(t, AreaCoverage, res.Issues[0].Area)
}

func TestCheckDynamics_SmallSetTwoMissingBlocks(t *testing.T) {
	fw := frameworkWithNodes(6)
	dyn := dynamicsCovering(fw, 2)

	res := RunQualityGates(types.StageSystemDynamics, dyn, &CrossStageContext{Framework: fw})
	assert.False(t, res.Passed)
}

func TestCheckDynamics_NoContextSkipsCoverage(t *testing.T) {
	dyn := &SystemDynamics{
		Mermaid: "graph TD",
		Nodes:   []DynamicsNode{{ID: "n0"}},
	}
	res := RunQualityGates(types.StageSystemDynamics, dyn, nil)
	assert.True(t, res.Passed)
}

func TestCheckFramework_DuplicateAndEmptyIDs(t *testing.T) {
	fw := KnowledgeFramework{Nodes: []FrameworkNode{
		{ID: "a", Summary: "s"},
		{ID: "a", Summary: "s"},
		{ID: "", Summary: "s"},
	}}
	res := RunQualityGates(types.StageKnowledgeFrame, fw, nil)
	require.False(t, res.Passed)
	assert.Len(t, res.Blockers(), 2)
}

func TestCheckFramework_NestedNodeIDs(t *testing.T) {
	fw := KnowledgeFramework{Nodes: []FrameworkNode{
		{ID: "root", Summary: "s", Children: []FrameworkNode{
			{ID: "child", Summary: "s", Children: []FrameworkNode{
				{ID: "leaf", Summary: "s"},
			}},
		}},
	}}
	assert.Equal(t, []string{"root", "child", "leaf"}, fw.NodeIDs())

	res := RunQualityGates(types.StageKnowledgeFrame, fw, nil)
	assert.True(t, res.Passed)
}

func TestCheckRefinedGoal_NoConstraintsWarns(t *testing.T) {
	goal := validGoal()
	goal.Constraints = nil

	res := RunQualityGates(types.StageGoalRefinement, goal, nil)
	assert.True(t, res.Passed)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, SeverityWarn, res.Issues[0].Severity)
}

func TestCheckProgress_MissingAssessmentBlocks(t *testing.T) {
	res := RunQualityGates(types.StageProgressAnalysis, ProgressAnalysis{
		Recommendations: []string{"x"},
	}, nil)
	assert.False(t, res.Passed)
}
