package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Axthefish/cogcoach/llm"
	"github.com/Axthefish/cogcoach/types"
)

type testPayload struct {
	Statement string `json:"statement"`
}

// scriptedClient returns canned responses (or errors) in order, recording
// every prompt it saw.
type scriptedClient struct {
	responses []string
	errs      []error
	calls     atomic.Int32
	prompts   []string
}

func (s *scriptedClient) Generate(ctx context.Context, prompt string, cfg llm.GenerateConfig, tier types.Tier, stage types.Stage) (string, error) {
	i := int(s.calls.Add(1)) - 1
	s.prompts = append(s.prompts, prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "", errors.New("script exhausted")
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestEngine(client llm.Client) *Engine {
	e := NewEngine(client, WithLogger(zap.NewNop()))
	e.sleep = noSleep
	return e
}

func TestGenerateJSONWithRetry_FirstAttemptSucceeds(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"statement": "train daily"}`}}
	e := newTestEngine(client)

	res := GenerateJSONWithRetry[testPayload](context.Background(), e, "p", nil, nil, types.TierPro, types.StageGoalRefinement)

	require.True(t, res.OK)
	assert.Equal(t, "train daily", res.Data.Statement)
	assert.Equal(t, 1, res.Attempts)
	assert.EqualValues(t, 1, client.calls.Load())
}

func TestGenerateJSONWithRetry_RecoversFromParseError(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"this is not json at all, no braces here",
		"```json\n{\"statement\": \"second try\"}\n```",
	}}
	e := newTestEngine(client)

	res := GenerateJSONWithRetry[testPayload](context.Background(), e, "p", nil, nil, types.TierPro, types.StageGoalRefinement)

	require.True(t, res.OK)
	assert.Equal(t, "second try", res.Data.Statement)
	assert.Equal(t, 2, res.Attempts)

	// The second prompt must carry the repair instructions.
	require.Len(t, client.prompts, 2)
	assert.Contains(t, client.prompts[1], "只输出一个合法的 JSON 对象")
}

func TestGenerateJSONWithRetry_ValidationFailureRepairsPrompt(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"statement": ""}`,
		`{"statement": "filled in"}`,
	}}
	e := newTestEngine(client)

	validate := func(p *testPayload) error {
		if p.Statement == "" {
			return errors.New("statement is required")
		}
		return nil
	}

	res := GenerateJSONWithRetry(context.Background(), e, "p", validate, nil, types.TierPro, types.StageActionPlan)

	require.True(t, res.OK)
	assert.Equal(t, "filled in", res.Data.Statement)
	assert.Equal(t, 2, res.Attempts)
}

func TestGenerateJSONWithRetry_BudgetExhausted(t *testing.T) {
	client := &scriptedClient{responses: []string{"junk", "junk", "junk", "junk"}}
	e := newTestEngine(client)

	res := GenerateJSONWithRetry[testPayload](context.Background(), e, "p", nil, nil, types.TierPro, types.StageGoalRefinement)

	require.False(t, res.OK)
	require.NotNil(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	// Terminal failure means exactly MaxRetries generation calls, no more.
	assert.EqualValues(t, 3, client.calls.Load())
	assert.NotNil(t, res.ErrorContext)
}

func TestGenerateJSONWithRetry_NoAPIKeyIsTerminal(t *testing.T) {
	client := &scriptedClient{errs: []error{
		types.NewError(types.ErrNoAPIKey, "api key missing"),
	}}
	e := newTestEngine(client)

	res := GenerateJSONWithRetry[testPayload](context.Background(), e, "p", nil, nil, types.TierPro, types.StageGoalRefinement)

	require.False(t, res.OK)
	assert.Equal(t, types.ErrNoAPIKey, res.Err.Code)
	assert.False(t, res.Err.Retryable)
	assert.EqualValues(t, 1, client.calls.Load())
}

func TestGenerateJSONWithRetry_RateLimitWaitsWithoutMutatingPrompt(t *testing.T) {
	client := &scriptedClient{
		errs:      []error{types.NewError(types.ErrRateLimit, "429"), nil},
		responses: []string{"", `{"statement": "after the wait"}`},
	}

	var slept []time.Duration
	e := NewEngine(client, WithLogger(zap.NewNop()))
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	res := GenerateJSONWithRetry[testPayload](context.Background(), e, "base prompt", nil, nil, types.TierPro, types.StageGoalRefinement)

	require.True(t, res.OK)
	require.Len(t, client.prompts, 2)
	assert.Equal(t, client.prompts[0], client.prompts[1], "rate limit must not rewrite the prompt")
	require.Len(t, slept, 1)
	assert.Equal(t, DefaultPolicy().RateLimitDelay, slept[0])
}

func TestGenerateJSONWithRetry_ContextCanceled(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"statement": "x"}`}}
	e := newTestEngine(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := GenerateJSONWithRetry[testPayload](ctx, e, "p", nil, nil, types.TierPro, types.StageGoalRefinement)
	require.False(t, res.OK)
	assert.EqualValues(t, 0, client.calls.Load())
}

func TestGenerateJSONWithRetry_PolicyOverride(t *testing.T) {
	client := &scriptedClient{responses: []string{"junk", "junk"}}
	e := newTestEngine(client)

	policy := DefaultPolicy()
	policy.MaxRetries = 1
	res := GenerateJSONWithRetry[testPayload](context.Background(), e, "p", nil, &Options{Policy: &policy}, types.TierPro, types.StageGoalRefinement)

	require.False(t, res.OK)
	assert.EqualValues(t, 1, client.calls.Load())
}

func TestGenerateBestOf_PicksHighestScore(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, prompt string, cfg llm.GenerateConfig, tier types.Tier, stage types.Stage) (string, error) {
		switch prompt {
		case "short":
			return `{"statement": "a"}`, nil
		case "long":
			return `{"statement": "a much longer statement"}`, nil
		}
		return "", errors.New("unknown variant")
	})
	e := newTestEngine(client)

	res := GenerateBestOf(context.Background(), e, []string{"short", "long"}, nil,
		func(p *testPayload) float64 { return float64(len(p.Statement)) },
		types.TierPro, types.StageGoalRefinement)

	require.True(t, res.OK)
	assert.Equal(t, "a much longer statement", res.Data.Statement)
}

func TestGenerateBestOf_AllVariantsFail(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, prompt string, cfg llm.GenerateConfig, tier types.Tier, stage types.Stage) (string, error) {
		return "", errors.New("always broken")
	})
	e := newTestEngine(client)

	res := GenerateBestOf[testPayload](context.Background(), e, []string{"a", "b"}, nil, nil, types.TierPro, types.StageGoalRefinement)
	require.False(t, res.OK)
	require.NotNil(t, res.Err)
}

func TestGenerateBestOf_NoVariants(t *testing.T) {
	e := newTestEngine(&scriptedClient{})
	res := GenerateBestOf[testPayload](context.Background(), e, nil, nil, nil, types.TierPro, types.StageGoalRefinement)
	assert.False(t, res.OK)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced json", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced no language", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around object", `Sure! Here it is: {"a": 1} hope that helps`, `{"a": 1}`},
		{"array", `the list: [1, 2, 3].`, `[1, 2, 3]`},
		{"nothing to extract", "no structured data here", "no structured data here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}
