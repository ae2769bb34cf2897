package quality

// 各阶段的结构化产物。字段语义跟随教练工作流：
// S0 目标澄清 → S1 知识框架 → S2 系统动力学 → S3 行动计划 → S4 进展分析。

// RefinedGoal is the S0 artifact.
type RefinedGoal struct {
	Statement       string   `json:"statement"`
	Motivation      string   `json:"motivation,omitempty"`
	Constraints     []string `json:"constraints,omitempty"`
	SuccessCriteria []string `json:"successCriteria"`
}

// FrameworkNode is one node of the S1 knowledge framework.
type FrameworkNode struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Summary  string          `json:"summary"`
	Evidence string          `json:"evidence,omitempty"`
	Children []FrameworkNode `json:"children,omitempty"`
}

// KnowledgeFramework is the S1 artifact.
type KnowledgeFramework struct {
	Nodes []FrameworkNode `json:"nodes"`
}

// NodeIDs returns all framework node ids, depth-first.
func (f KnowledgeFramework) NodeIDs() []string {
	var out []string
	var walk func(nodes []FrameworkNode)
	walk = func(nodes []FrameworkNode) {
		for _, n := range nodes {
			out = append(out, n.ID)
			walk(n.Children)
		}
	}
	walk(f.Nodes)
	return out
}

// DynamicsNode references a framework node inside the S2 system model.
type DynamicsNode struct {
	ID    string `json:"id"` // must match an S1 framework node id
	Label string `json:"label,omitempty"`
}

// SystemDynamics is the S2 artifact.
type SystemDynamics struct {
	Mermaid string         `json:"mermaid"`
	Loops   []string       `json:"loops,omitempty"`
	Nodes   []DynamicsNode `json:"nodes"`
}

// PlanMetric is one measurable metric of the S3 action plan. A metric is
// actionable only when it carries triggers, diagnosis steps, options, a
// recovery window, and a stop-loss condition.
type PlanMetric struct {
	Name           string   `json:"name"`
	Triggers       []string `json:"triggers"`
	DiagnosisSteps []string `json:"diagnosisSteps"`
	Options        []string `json:"options"`
	RecoveryWindow string   `json:"recoveryWindow"`
	StopLoss       string   `json:"stopLoss"`
	Evidence       string   `json:"evidence,omitempty"`
}

// PlanItem is one concrete action of the S3 plan.
type PlanItem struct {
	ID      string `json:"id"`
	Action  string `json:"action"`
	Cadence string `json:"cadence,omitempty"`
}

// ActionPlanResponse is the S3 artifact.
type ActionPlanResponse struct {
	Items   []PlanItem   `json:"items"`
	Metrics []PlanMetric `json:"metrics"`
}

// ProgressAnalysis is the S4 artifact.
type ProgressAnalysis struct {
	Assessment      string   `json:"assessment"`
	Blockers        []string `json:"blockers,omitempty"`
	Recommendations []string `json:"recommendations"`
	Evidence        string   `json:"evidence,omitempty"`
}
