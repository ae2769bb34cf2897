package workflow

import (
	stdctx "context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Axthefish/cogcoach/llm"
	"github.com/Axthefish/cogcoach/llm/cache"
	llmcontext "github.com/Axthefish/cogcoach/llm/context"
	"github.com/Axthefish/cogcoach/llm/quality"
	"github.com/Axthefish/cogcoach/llm/retry"
	"github.com/Axthefish/cogcoach/types"
)

const goalJSON = `{
	"statement": "三个月内减重五公斤",
	"constraints": ["工作日只有早上有时间"],
	"successCriteria": ["体重下降 5kg"]
}`

func newTestRunner(t *testing.T, client llm.Client, withCache bool) *Runner {
	t.Helper()

	compactor := llmcontext.NewManager(llmcontext.DefaultConfig(), nil, nil, zap.NewNop())
	engine := retry.NewEngine(client, retry.WithLogger(zap.NewNop()))

	var responseCache *cache.AIResponseCache
	if withCache {
		responseCache = cache.NewAIResponseCache(cache.DefaultConfig(), zap.NewNop())
		t.Cleanup(responseCache.Shutdown)
	}
	return NewRunner(compactor, engine, responseCache, WithLogger(zap.NewNop()))
}

func countingClient(response string) (llm.Client, *atomic.Int32) {
	var calls atomic.Int32
	client := llm.ClientFunc(func(ctx stdctx.Context, prompt string, cfg llm.GenerateConfig, tier types.Tier, stage types.Stage) (string, error) {
		calls.Add(1)
		return response, nil
	})
	return client, &calls
}

func TestRunStage_GeneratesAndGates(t *testing.T) {
	client, calls := countingClient(goalJSON)
	r := newTestRunner(t, client, false)

	out, err := RunStage[quality.RefinedGoal](stdctx.Background(), r, Request{
		Stage:  types.StageGoalRefinement,
		Tier:   types.TierPro,
		UserID: "u1",
		Prompt: "帮我澄清目标",
	}, nil)
	require.NoError(t, err)

	require.True(t, out.Result.OK)
	assert.Equal(t, "三个月内减重五公斤", out.Result.Data.Statement)
	assert.True(t, out.Gate.Passed)
	assert.False(t, out.FromCache)
	assert.Greater(t, out.Usage.TotalTokens, 0)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRunStage_SecondCallServedFromCache(t *testing.T) {
	client, calls := countingClient(goalJSON)
	r := newTestRunner(t, client, true)

	req := Request{
		Stage:  types.StageGoalRefinement,
		Tier:   types.TierPro,
		UserID: "u1",
		Prompt: "帮我澄清目标",
	}

	first, err := RunStage[quality.RefinedGoal](stdctx.Background(), r, req, nil)
	require.NoError(t, err)
	require.True(t, first.Result.OK)
	assert.False(t, first.FromCache)

	second, err := RunStage[quality.RefinedGoal](stdctx.Background(), r, req, nil)
	require.NoError(t, err)
	require.True(t, second.Result.OK)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Result.Data, second.Result.Data)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRunStage_FreshMissReportsAttemptsAndUsage(t *testing.T) {
	// The generating caller gets the real attempt count and token usage,
	// not a rebuilt zero-attempt result.
	client, calls := countingClient(goalJSON)
	r := newTestRunner(t, client, true)

	out, err := RunStage[quality.RefinedGoal](stdctx.Background(), r, Request{
		Stage:  types.StageGoalRefinement,
		Tier:   types.TierPro,
		UserID: "u1",
		Prompt: "帮我澄清目标",
	}, nil)
	require.NoError(t, err)
	require.True(t, out.Result.OK)
	require.False(t, out.FromCache)

	assert.Greater(t, out.Result.Attempts, 0)
	assert.Greater(t, out.Usage.TotalTokens, 0)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRunStage_SkipCacheBypasses(t *testing.T) {
	client, calls := countingClient(goalJSON)
	r := newTestRunner(t, client, true)

	req := Request{
		Stage:     types.StageGoalRefinement,
		Tier:      types.TierPro,
		Prompt:    "p",
		SkipCache: true,
	}
	_, err := RunStage[quality.RefinedGoal](stdctx.Background(), r, req, nil)
	require.NoError(t, err)
	_, err = RunStage[quality.RefinedGoal](stdctx.Background(), r, req, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRunStage_GateBlockerFailsAndIsNotCached(t *testing.T) {
	// Missing successCriteria: schema blocker on every generation.
	client, calls := countingClient(`{"statement": "目标", "successCriteria": []}`)
	r := newTestRunner(t, client, true)

	req := Request{
		Stage:  types.StageGoalRefinement,
		Tier:   types.TierPro,
		Prompt: "p",
	}
	out, err := RunStage[quality.RefinedGoal](stdctx.Background(), r, req, nil)
	require.NoError(t, err)
	assert.False(t, out.Result.OK)
	assert.Equal(t, types.ErrSchemaValidation, out.Result.Err.Code)

	// The blocked artifact must not be served on the next call.
	_, err = RunStage[quality.RefinedGoal](stdctx.Background(), r, req, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRunStage_GenerationFailurePropagates(t *testing.T) {
	client := llm.ClientFunc(func(ctx stdctx.Context, prompt string, cfg llm.GenerateConfig, tier types.Tier, stage types.Stage) (string, error) {
		return "", types.NewError(types.ErrNoAPIKey, "api key missing")
	})
	r := newTestRunner(t, client, true)

	out, err := RunStage[quality.RefinedGoal](stdctx.Background(), r, Request{
		Stage:  types.StageGoalRefinement,
		Tier:   types.TierPro,
		Prompt: "p",
	}, nil)
	require.NoError(t, err)
	require.False(t, out.Result.OK)
	assert.Equal(t, types.ErrNoAPIKey, out.Result.Err.Code)
}

func TestRunStage_InvalidStageRejected(t *testing.T) {
	client, _ := countingClient(goalJSON)
	r := newTestRunner(t, client, false)

	_, err := RunStage[quality.RefinedGoal](stdctx.Background(), r, Request{Stage: "s9"}, nil)
	require.Error(t, err)
}

func TestRunStage_HistoryCompactedIntoPrompt(t *testing.T) {
	var seenPrompt string
	client := llm.ClientFunc(func(ctx stdctx.Context, prompt string, cfg llm.GenerateConfig, tier types.Tier, stage types.Stage) (string, error) {
		seenPrompt = prompt
		return goalJSON, nil
	})
	r := newTestRunner(t, client, false)

	history := make([]types.ChatMessage, 0, 40)
	for i := 0; i < 20; i++ {
		history = append(history,
			types.NewUserMessage(strings.Repeat("训练细节汇报，", 20)),
			types.NewAssistantMessage(strings.Repeat("noted and adjusted the plan. ", 20)),
		)
	}
	history = append(history, types.NewUserMessage("下一步怎么办？"))

	out, err := RunStage[quality.RefinedGoal](stdctx.Background(), r, Request{
		Stage:   types.StageGoalRefinement,
		Tier:    types.TierPro,
		Prompt:  "instruction",
		History: history,
	}, nil)
	require.NoError(t, err)
	require.True(t, out.Result.OK)

	assert.True(t, out.Compaction.WasCompacted)
	assert.Contains(t, seenPrompt, "instruction")
	assert.Contains(t, seenPrompt, "下一步怎么办？", "recent turns survive into the prompt")
	assert.Less(t, out.Compaction.CompactedTokens, out.Compaction.OriginalTokens)
}

func TestRunStage_CoverageGateUsesFramework(t *testing.T) {
	fw := &quality.KnowledgeFramework{Nodes: []quality.FrameworkNode{
		{ID: "habit", Summary: "s"}, {ID: "sleep", Summary: "s"}, {ID: "diet", Summary: "s"},
		{ID: "a", Summary: "s"}, {ID: "b", Summary: "s"}, {ID: "c", Summary: "s"},
		{ID: "d", Summary: "s"}, {ID: "e", Summary: "s"}, {ID: "f", Summary: "s"},
		{ID: "g", Summary: "s"},
	}}

	// Dynamics only covers 2 of 10 framework nodes: coverage blocker.
	client, _ := countingClient(`{"mermaid": "graph TD", "nodes": [{"id": "habit"}, {"id": "sleep"}]}`)
	r := newTestRunner(t, client, false)

	out, err := RunStage[quality.SystemDynamics](stdctx.Background(), r, Request{
		Stage:     types.StageSystemDynamics,
		Tier:      types.TierPro,
		Prompt:    "p",
		Framework: fw,
	}, nil)
	require.NoError(t, err)
	assert.False(t, out.Gate.Passed)
}

func TestRunStage_ValidateHookDrivesRetry(t *testing.T) {
	var calls atomic.Int32
	client := llm.ClientFunc(func(ctx stdctx.Context, prompt string, cfg llm.GenerateConfig, tier types.Tier, stage types.Stage) (string, error) {
		if calls.Add(1) == 1 {
			return `{"statement": ""}`, nil
		}
		return goalJSON, nil
	})

	compactor := llmcontext.NewManager(llmcontext.DefaultConfig(), nil, nil, zap.NewNop())
	engine := retry.NewEngine(client, retry.WithLogger(zap.NewNop()),
		retry.WithPolicy(retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}))
	r := NewRunner(compactor, engine, nil)

	validate := func(g *quality.RefinedGoal) error {
		if g.Statement == "" {
			return errors.New("statement is required")
		}
		return nil
	}

	out, err := RunStage(stdctx.Background(), r, Request{
		Stage:  types.StageGoalRefinement,
		Tier:   types.TierPro,
		Prompt: "p",
	}, validate)
	require.NoError(t, err)
	require.True(t, out.Result.OK)
	assert.Equal(t, 2, out.Result.Attempts)
}
