package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/Axthefish/cogcoach/types"
)

// SummaryFunc generates a summary of the given transcript, bounded to
// maxTokens output. Wired to the LLM client at assembly time; the compactor
// itself never talks to a provider directly.
type SummaryFunc func(ctx context.Context, transcript string, maxTokens int) (string, error)

// summaryPrompt 用于 AI 摘要的固定提示词。
const summaryPrompt = `请将以下教练对话的早期部分压缩为简洁摘要，保留：
1. 用户陈述过的目标、约束与关键决定
2. 重要的具体事实（时间、金额、频率）
3. 仍待解决的问题

对话内容：
%s

只输出摘要本身。`

// BuildSummaryTranscript renders filler messages into the transcript fed to
// the summary call.
func BuildSummaryTranscript(msgs []types.ChatMessage) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// SummaryPromptFor wraps a transcript in the summary prompt.
func SummaryPromptFor(transcript string) string {
	return fmt.Sprintf(summaryPrompt, transcript)
}

// fallbackExcerptLen bounds per-message excerpts in the deterministic summary.
const fallbackExcerptLen = 60

// FallbackSummary builds a deterministic, non-AI summary: message counts
// plus truncated excerpts. Used when the AI summary fails; the compaction
// path must never fail on summarization.
func FallbackSummary(msgs []types.ChatMessage) string {
	userCount, assistantCount := 0, 0
	for _, m := range msgs {
		switch m.Role {
		case types.RoleUser:
			userCount++
		case types.RoleAssistant:
			assistantCount++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[早期对话摘要] 压缩了 %d 条消息（用户 %d 条，助手 %d 条）。要点：\n", len(msgs), userCount, assistantCount)

	for _, m := range msgs {
		if m.Role != types.RoleUser {
			continue
		}
		excerpt := []rune(strings.TrimSpace(m.Content))
		if len(excerpt) == 0 {
			continue
		}
		if len(excerpt) > fallbackExcerptLen {
			excerpt = append(excerpt[:fallbackExcerptLen], '…')
		}
		sb.WriteString("- ")
		sb.WriteString(string(excerpt))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
