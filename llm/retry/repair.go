package retry

import (
	"fmt"
	"strings"

	"github.com/Axthefish/cogcoach/types"
)

// AdjustPromptBasedOnError rewrites the prompt for the next attempt.
//
// 按尝试次数逐级升级：
//
//	attempt 1: 追加格式化指令（只输出 JSON，不要代码块）
//	attempt 2: 给出精确结构示例，并列出缺失字段
//	attempt 3: 要求最小可用 JSON，约束输出长度
//
// RATE_LIMIT 与 NO_API_KEY 不属于提示词问题，调用方不应对其调用本函数。
func AdjustPromptBasedOnError(prompt string, code types.ErrorCode, lastErr error, attempt int) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\n---\n")
	fmt.Fprintf(&sb, "上一次输出未通过校验（%s）。", code)
	if detail := describeError(lastErr); detail != "" {
		fmt.Fprintf(&sb, "错误详情：%s\n", detail)
	} else {
		sb.WriteString("\n")
	}

	switch {
	case attempt <= 1:
		sb.WriteString(formatInstructions(code))
	case attempt == 2:
		sb.WriteString(structureExample(lastErr))
	default:
		sb.WriteString(minimalJSONRequest())
	}
	return sb.String()
}

func formatInstructions(code types.ErrorCode) string {
	var sb strings.Builder
	sb.WriteString("请严格遵守：\n")
	sb.WriteString("1. 只输出一个合法的 JSON 对象，前后不得有任何其他文字。\n")
	sb.WriteString("2. 不要使用 markdown 代码块包裹。\n")
	sb.WriteString("3. 所有字符串使用双引号，不得有尾随逗号。\n")
	if code == types.ErrEmptyResponse {
		sb.WriteString("4. 必须产生非空输出。\n")
	}
	return sb.String()
}

func structureExample(lastErr error) string {
	var sb strings.Builder
	sb.WriteString("请按以下结构逐字段输出（示例值仅示意类型）：\n")
	sb.WriteString("```\n{\"field\": \"string value\", \"list\": [\"item\"], \"nested\": {\"id\": \"n1\"}}\n```\n")
	sb.WriteString("输出时去掉示例中的代码块标记，替换为真实内容。\n")

	if missing := ExtractMissingFields(describeError(lastErr)); len(missing) > 0 {
		sb.WriteString("上次输出缺少以下必填字段，务必补全：\n")
		for _, f := range missing {
			fmt.Fprintf(&sb, "- %s（%s）\n", f.Field, f.Description)
		}
	}
	return sb.String()
}

func minimalJSONRequest() string {
	var sb strings.Builder
	sb.WriteString("最后一次机会：输出满足 schema 的最小可用 JSON。\n")
	sb.WriteString("- 只包含必填字段\n")
	sb.WriteString("- 每个字符串不超过一句话\n")
	sb.WriteString("- 数组只放一个元素\n")
	sb.WriteString("- 总长度越短越好\n")
	return sb.String()
}
