package quality

// Severity of a quality issue.
type Severity string

const (
	SeverityBlocker Severity = "blocker"
	SeverityWarn    Severity = "warn"
)

// Area classifies what kind of defect an issue describes.
type Area string

const (
	AreaSchema        Area = "schema"
	AreaCoverage      Area = "coverage"
	AreaConsistency   Area = "consistency"
	AreaEvidence      Area = "evidence"
	AreaActionability Area = "actionability"
)

// Issue is one defect found in a generated artifact.
type Issue struct {
	Severity   Severity `json:"severity"`
	Area       Area     `json:"area"`
	Hint       string   `json:"hint"`
	TargetPath string   `json:"target_path,omitempty"`
}

// GateResult is the outcome of one quality-gate run.
type GateResult struct {
	Passed bool    `json:"passed"`
	Issues []Issue `json:"issues"`
}

// Blockers returns only blocker-severity issues.
func (r GateResult) Blockers() []Issue {
	var out []Issue
	for _, iss := range r.Issues {
		if iss.Severity == SeverityBlocker {
			out = append(out, iss)
		}
	}
	return out
}

// finish computes Passed from the collected issues: zero blockers passes,
// warnings never block.
func finish(issues []Issue) GateResult {
	for _, iss := range issues {
		if iss.Severity == SeverityBlocker {
			return GateResult{Passed: false, Issues: issues}
		}
	}
	return GateResult{Passed: true, Issues: issues}
}
