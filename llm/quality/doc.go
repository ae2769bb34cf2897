// Package quality validates generated stage artifacts.
//
// A gate run classifies defects as blockers or warnings: schema violations
// and actionability gaps block, thin evidence only warns. Cross-stage
// coverage (system-dynamics nodes must reference the knowledge framework)
// blocks above a tolerance threshold and warns below it. An artifact passes
// iff it has zero blockers; warnings never affect the verdict.
package quality
