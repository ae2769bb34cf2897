package retry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Axthefish/cogcoach/types"
)

// AnalyzeError classifies a failure into the core taxonomy.
// Structured *types.Error codes win; free-text matching is the fallback and
// lives entirely in classifyMessage so upstream wording changes have exactly
// one place to update.
func AnalyzeError(err error) types.ErrorCode {
	if err == nil {
		return types.ErrUnknown
	}
	var te *types.Error
	if errors.As(err, &te) && te.Code != "" {
		return te.Code
	}
	return classifyMessage(err.Error())
}

// classifyMessage 是唯一的字符串匹配翻译函数。模式之间无顺序依赖。
func classifyMessage(msg string) types.ErrorCode {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key") || strings.Contains(lower, "api_key") ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401"):
		return types.ErrNoAPIKey
	case strings.Contains(lower, "empty response") || strings.Contains(lower, "no content") ||
		strings.Contains(lower, "empty candidate"):
		return types.ErrEmptyResponse
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota") ||
		strings.Contains(lower, "429") || strings.Contains(lower, "resource exhausted"):
		return types.ErrRateLimit
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded"):
		return types.ErrTimeout
	case strings.Contains(lower, "schema") || strings.Contains(lower, "validation") ||
		strings.Contains(lower, "required field") || strings.Contains(lower, "invalid_type"):
		return types.ErrSchemaValidation
	case strings.Contains(lower, "json") || strings.Contains(lower, "parse") ||
		strings.Contains(lower, "unexpected token") || strings.Contains(lower, "unmarshal"):
		return types.ErrParse
	case strings.Contains(lower, "api error") || strings.Contains(lower, "500") ||
		strings.Contains(lower, "502") || strings.Contains(lower, "503") ||
		strings.Contains(lower, "internal error"):
		return types.ErrAPI
	default:
		return types.ErrUnknown
	}
}

// AnalyzeErrorContext derives severity, matched symptom patterns, and repair
// recommendations for one failure. Severity escalates with repeated attempts
// of the same symptom: JSON problems become high severity after attempt 2.
func AnalyzeErrorContext(prompt string, errorDetails string, attempt int) *types.ErrorContext {
	ectx := &types.ErrorContext{Severity: types.SeverityMedium}
	lower := strings.ToLower(errorDetails)

	jsonIssue := strings.Contains(lower, "json") || strings.Contains(lower, "parse") ||
		strings.Contains(lower, "schema") || strings.Contains(lower, "validation")

	if jsonIssue {
		ectx.Patterns = append(ectx.Patterns, "malformed_structured_output")
		ectx.Recommendations = append(ectx.Recommendations, "add explicit JSON format instructions")
		if attempt >= 2 {
			ectx.Severity = types.SeverityHigh
			ectx.Recommendations = append(ectx.Recommendations, "provide an exact structure example")
		}
	}
	if strings.Contains(lower, "truncat") || strings.Contains(lower, "unexpected end") {
		ectx.Patterns = append(ectx.Patterns, "truncated_output")
		ectx.Recommendations = append(ectx.Recommendations, "request a shorter response")
	}
	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") {
		ectx.Patterns = append(ectx.Patterns, "rate_limited")
		ectx.Severity = types.SeverityLow // 等待即可恢复，与提示词无关
		ectx.Recommendations = append(ectx.Recommendations, "wait before retrying")
	}
	if strings.Contains(lower, "empty") {
		ectx.Patterns = append(ectx.Patterns, "empty_response")
		ectx.Recommendations = append(ectx.Recommendations, "simplify the prompt")
	}
	if len([]rune(prompt)) > 8000 {
		ectx.Patterns = append(ectx.Patterns, "oversized_prompt")
		ectx.Recommendations = append(ectx.Recommendations, "compact the conversation context")
	}
	if len(ectx.Patterns) == 0 {
		ectx.Patterns = append(ectx.Patterns, "unclassified")
	}
	return ectx
}

// MissingField is a best-effort hint extracted from validation error text.
type MissingField struct {
	Field       string `json:"field"`
	Description string `json:"description"`
}

// knownFields 是各阶段产物中会被上游校验器点名的字段。
var knownFields = map[string]string{
	"nodes":          "framework/dynamics node list",
	"metrics":        "action plan metric list",
	"triggers":       "metric trigger conditions",
	"diagnosisSteps": "metric diagnosis steps",
	"options":        "metric remediation options",
	"recoveryWindow": "metric recovery window",
	"stopLoss":       "metric stop-loss condition",
	"statement":      "refined goal statement",
	"summary":        "node summary",
	"items":          "action plan items",
	"assessment":     "progress assessment",
}

var requiredNearby = regexp.MustCompile(`(?i)required|missing|必填|缺少`)

// ExtractMissingFields scans validation error text for known field names
// paired with "required"/"missing" wording. Best-effort, not authoritative.
func ExtractMissingFields(errorDetails string) []MissingField {
	if errorDetails == "" || !requiredNearby.MatchString(errorDetails) {
		return nil
	}
	lower := strings.ToLower(errorDetails)
	var fields []MissingField
	for name, desc := range knownFields {
		if strings.Contains(lower, strings.ToLower(name)) {
			fields = append(fields, MissingField{Field: name, Description: desc})
		}
	}
	return fields
}

// severityMultiplier returns the backoff scaling for a severity.
func severityMultiplier(s types.Severity) float64 {
	switch s {
	case types.SeverityHigh:
		return 2.0
	case types.SeverityLow:
		return 0.5
	default:
		return 1.0
	}
}

// describeError renders an error for inclusion in a repaired prompt.
func describeError(err error) string {
	if err == nil {
		return ""
	}
	var te *types.Error
	if errors.As(err, &te) {
		return fmt.Sprintf("%s: %s", te.Code, te.Message)
	}
	return err.Error()
}
