package context

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Axthefish/cogcoach/llm/tokenizer"
	"github.com/Axthefish/cogcoach/types"
)

// Config 压缩器配置。常量均为经验值，按需调参。
type Config struct {
	// MaxTokens 触发压缩的 token 预算。
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
	// RecentTurnsToKeep 原文保留的最近轮次数（一轮 = 用户 + 助手各一条）。
	RecentTurnsToKeep int `yaml:"recent_turns_to_keep" json:"recent_turns_to_keep"`
	// SummaryMaxTokens AI 摘要的输出上限。
	SummaryMaxTokens int `yaml:"summary_max_tokens" json:"summary_max_tokens"`
	// SmartBreakpoints 自适应压缩的 token 断点（升序）。
	SmartBreakpoints []int `yaml:"smart_breakpoints" json:"smart_breakpoints"`
	// Weights 关键转折点打分权重。
	Weights ScoreWeights `yaml:"weights" json:"weights"`
}

// DefaultConfig returns the compactor defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:         3000,
		RecentTurnsToKeep: 3,
		SummaryMaxTokens:  500,
		SmartBreakpoints:  []int{1000, 3000, 5000},
		Weights:           DefaultScoreWeights(),
	}
}

// CompactionResult is the outcome of one compaction invocation. Ephemeral:
// consumed immediately by the caller building a prompt.
type CompactionResult struct {
	CompactedMessages []types.ChatMessage `json:"compacted_messages"`
	Summary           string              `json:"summary,omitempty"`
	OriginalTokens    int                 `json:"original_tokens"`
	CompactedTokens   int                 `json:"compacted_tokens"`
	CompressionRatio  float64             `json:"compression_ratio"`
	WasCompacted      bool                `json:"was_compacted"`
}

// Manager orchestrates compaction decisions for a conversation.
type Manager struct {
	cfg       Config
	estimator *tokenizer.Estimator
	summarize SummaryFunc
	logger    *zap.Logger
}

// NewManager creates a compaction manager. summarize may be nil, in which
// case the deterministic fallback summary is always used.
func NewManager(cfg Config, estimator *tokenizer.Estimator, summarize SummaryFunc, logger *zap.Logger) *Manager {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.RecentTurnsToKeep <= 0 {
		cfg.RecentTurnsToKeep = DefaultConfig().RecentTurnsToKeep
	}
	if cfg.SummaryMaxTokens <= 0 {
		cfg.SummaryMaxTokens = DefaultConfig().SummaryMaxTokens
	}
	if len(cfg.SmartBreakpoints) == 0 {
		cfg.SmartBreakpoints = DefaultConfig().SmartBreakpoints
	}
	if cfg.Weights.Threshold <= 0 {
		cfg.Weights = DefaultScoreWeights()
	}
	if estimator == nil {
		estimator = tokenizer.NewEstimator(tokenizer.DefaultRatios())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		estimator: estimator,
		summarize: summarize,
		logger:    logger.With(zap.String("component", "compactor")),
	}
}

// EstimateTokens exposes the underlying heuristic for callers that budget
// prompts themselves.
func (m *Manager) EstimateTokens(text string) int {
	return m.estimator.Estimate(text)
}

// ShouldCompact reports whether the conversation exceeds the token budget.
func (m *Manager) ShouldCompact(msgs []types.ChatMessage, maxTokens int) bool {
	if maxTokens <= 0 {
		maxTokens = m.cfg.MaxTokens
	}
	return m.estimator.EstimateMessages(msgs) > maxTokens
}

// CompactOptions override per-call compaction parameters.
type CompactOptions struct {
	MaxTokens         int
	RecentTurnsToKeep int
	SummaryMaxTokens  int
}

// CompactHistory compacts a conversation to fit the token budget.
//
// Under budget the input is returned unchanged (WasCompacted=false, same
// slice). Over budget: the last RecentTurnsToKeep*2 messages are kept
// verbatim; earlier messages are split into key turning points (verbatim)
// and filler (summarized); the result is [summary?, keys..., recent...].
// Summarization failure degrades to the deterministic fallback; this path
// never returns an error for summary problems.
func (m *Manager) CompactHistory(ctx context.Context, msgs []types.ChatMessage, opts CompactOptions) (CompactionResult, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = m.cfg.MaxTokens
	}
	if opts.RecentTurnsToKeep <= 0 {
		opts.RecentTurnsToKeep = m.cfg.RecentTurnsToKeep
	}
	if opts.SummaryMaxTokens <= 0 {
		opts.SummaryMaxTokens = m.cfg.SummaryMaxTokens
	}

	originalTokens := m.estimator.EstimateMessages(msgs)
	if originalTokens <= opts.MaxTokens {
		return CompactionResult{
			CompactedMessages: msgs,
			OriginalTokens:    originalTokens,
			CompactedTokens:   originalTokens,
			CompressionRatio:  1.0,
			WasCompacted:      false,
		}, nil
	}

	recentCount := opts.RecentTurnsToKeep * 2
	if recentCount > len(msgs) {
		recentCount = len(msgs)
	}
	recent := msgs[len(msgs)-recentCount:]
	earlier := msgs[:len(msgs)-recentCount]

	keyIdx := IdentifyKeyTurningPoints(earlier, m.cfg.Weights)
	var keyMsgs, fillers []types.ChatMessage
	for i, msg := range earlier {
		if _, ok := keyIdx[i]; ok {
			keyMsgs = append(keyMsgs, msg)
		} else {
			fillers = append(fillers, msg)
		}
	}

	summary := m.buildSummary(ctx, fillers, opts.SummaryMaxTokens)

	compacted := make([]types.ChatMessage, 0, len(keyMsgs)+recentCount+1)
	if summary != "" {
		compacted = append(compacted, types.NewSystemMessage(summary))
	}
	compacted = append(compacted, keyMsgs...)
	compacted = append(compacted, recent...)

	compactedTokens := m.estimator.EstimateMessages(compacted)

	// 摘要异常膨胀时退回确定性摘要；若连摘要头部的固定开销都省不回来
	// （填充消息本身极短时会这样），直接丢弃摘要。关键点 + 最近消息是
	// 输入的子集，因此丢弃后必然不大于压缩前。
	if compactedTokens > originalTokens && summary != "" {
		summary = FallbackSummary(fillers)
		compacted[0] = types.NewSystemMessage(summary)
		compactedTokens = m.estimator.EstimateMessages(compacted)
		if compactedTokens > originalTokens {
			compacted = compacted[1:]
			summary = ""
			compactedTokens = m.estimator.EstimateMessages(compacted)
		}
	}

	ratio := 1.0
	if originalTokens > 0 {
		ratio = float64(compactedTokens) / float64(originalTokens)
	}

	m.logger.Info("compacted conversation",
		zap.Int("original_messages", len(msgs)),
		zap.Int("compacted_messages", len(compacted)),
		zap.Int("key_points", len(keyMsgs)),
		zap.Int("summarized", len(fillers)),
		zap.Int("original_tokens", originalTokens),
		zap.Int("compacted_tokens", compactedTokens),
		zap.Float64("ratio", ratio),
	)

	return CompactionResult{
		CompactedMessages: compacted,
		Summary:           summary,
		OriginalTokens:    originalTokens,
		CompactedTokens:   compactedTokens,
		CompressionRatio:  ratio,
		WasCompacted:      true,
	}, nil
}

// SmartCompact adapts RecentTurnsToKeep inversely to the current token
// volume: the longer the history, the fewer verbatim recent turns, leaning
// harder on the summary.
func (m *Manager) SmartCompact(ctx context.Context, msgs []types.ChatMessage, targetTokens int) (CompactionResult, error) {
	if targetTokens <= 0 {
		targetTokens = m.cfg.MaxTokens
	}

	current := m.estimator.EstimateMessages(msgs)
	bp := m.cfg.SmartBreakpoints

	var recentTurns int
	switch {
	case len(bp) >= 3 && current > bp[2]:
		recentTurns = 2
	case len(bp) >= 2 && current > bp[1]:
		recentTurns = 3
	case len(bp) >= 1 && current > bp[0]:
		recentTurns = 4
	default:
		recentTurns = 5
	}

	return m.CompactHistory(ctx, msgs, CompactOptions{
		MaxTokens:         targetTokens,
		RecentTurnsToKeep: recentTurns,
	})
}

// buildSummary produces the AI summary of filler messages, degrading to the
// deterministic fallback on any failure.
func (m *Manager) buildSummary(ctx context.Context, fillers []types.ChatMessage, maxTokens int) string {
	if len(fillers) == 0 {
		return ""
	}
	if m.summarize == nil {
		return FallbackSummary(fillers)
	}

	transcript := BuildSummaryTranscript(fillers)
	summary, err := m.summarize(ctx, SummaryPromptFor(transcript), maxTokens)
	if err != nil || summary == "" {
		m.logger.Warn("AI summary failed, using deterministic fallback", zap.Error(err))
		return FallbackSummary(fillers)
	}
	return fmt.Sprintf("[早期对话摘要]\n%s", summary)
}
