package workflow

import (
	stdctx "context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Axthefish/cogcoach/internal/metrics"
	"github.com/Axthefish/cogcoach/llm"
	"github.com/Axthefish/cogcoach/llm/cache"
	llmcontext "github.com/Axthefish/cogcoach/llm/context"
	"github.com/Axthefish/cogcoach/llm/quality"
	"github.com/Axthefish/cogcoach/llm/retry"
	"github.com/Axthefish/cogcoach/types"
)

// Runner 按阶段执行生成流水线：压缩 → 缓存 → 重试生成 → 质量门。
type Runner struct {
	compactor *llmcontext.Manager
	engine    *retry.Engine
	cache     *cache.AIResponseCache
	collector *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) RunnerOption {
	return func(r *Runner) { r.collector = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l.With(zap.String("component", "workflow")) }
}

// NewRunner wires the pipeline components together. compactor and engine
// are required; responseCache may be nil to disable caching entirely.
func NewRunner(compactor *llmcontext.Manager, engine *retry.Engine, responseCache *cache.AIResponseCache, opts ...RunnerOption) *Runner {
	r := &Runner{
		compactor: compactor,
		engine:    engine,
		cache:     responseCache,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("cogcoach/workflow"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Request is one stage-generation request.
type Request struct {
	Stage  types.Stage
	Tier   types.Tier
	UserID string

	// Prompt is the stage instruction. History, when present, is compacted
	// and appended as conversational context.
	Prompt  string
	History []types.ChatMessage

	// ContextFields distinguish otherwise-identical prompts in the cache
	// key (goal id, framework version, ...).
	ContextFields map[string]string

	// Framework enables the S2 coverage check against the S1 artifact.
	Framework *quality.KnowledgeFramework

	// SkipCache bypasses the response cache for this call.
	SkipCache bool

	// Retry overrides the engine's default policy for this call.
	Retry *retry.Options
}

// StageOutcome is the full result of one pipeline run.
type StageOutcome[T any] struct {
	Result     llm.Result[T]
	Gate       quality.GateResult
	Compaction llmcontext.CompactionResult
	Usage      types.TokenUsage
	FromCache  bool
}

// RunStage executes the full pipeline for one stage artifact.
//
// Quality-gate blockers fail the run and prevent caching; warnings are
// returned alongside a successful result. Cache hits are re-gated, so a
// tightened gate invalidates stale artifacts instead of serving them.
func RunStage[T any](ctx stdctx.Context, r *Runner, req Request, validate func(*T) error) (StageOutcome[T], error) {
	if !req.Stage.Valid() {
		return StageOutcome[T]{}, fmt.Errorf("workflow: invalid stage %q", req.Stage)
	}
	if !req.Tier.Valid() {
		req.Tier = types.TierPro
	}

	ctx, span := r.tracer.Start(ctx, "workflow.run_stage",
		trace.WithAttributes(
			attribute.String("stage", string(req.Stage)),
			attribute.String("tier", string(req.Tier)),
		))
	defer span.End()

	prompt, compaction, err := r.buildPrompt(ctx, req)
	if err != nil {
		return StageOutcome[T]{}, err
	}

	if r.cache == nil || req.SkipCache {
		out := generateAndGate(ctx, r, req, prompt, validate)
		out.Compaction = compaction
		return out, nil
	}

	key := r.cache.Keys().GenerateForPrompt(req.Stage, prompt, req.ContextFields, req.UserID)
	fromCache := true
	var fresh *StageOutcome[T]
	cached, gerr := r.cache.GetOrGenerate(ctx, req.Stage, key, func(gctx stdctx.Context) (any, error) {
		fromCache = false
		out := generateAndGate(gctx, r, req, prompt, validate)
		fresh = &out
		if !out.Result.OK {
			return nil, out.Result.Err
		}
		if !out.Gate.Passed {
			return nil, types.NewError(types.ErrSchemaValidation,
				fmt.Sprintf("quality gate blocked %s output", req.Stage.Name()))
		}
		return out.Result.Data, nil
	}, 0)
	if gerr != nil {
		out := StageOutcome[T]{Result: failureResult[T](gerr), Compaction: compaction}
		if fresh != nil {
			out.Gate = fresh.Gate
			out.Usage = fresh.Usage
			out.Result.Attempts = fresh.Result.Attempts
			out.Result.ErrorContext = fresh.Result.ErrorContext
		}
		return out, nil
	}

	// 本次调用就是生成方：直接返回完整结果，保留尝试次数与 token 用量。
	if !fromCache && fresh != nil {
		fresh.Compaction = compaction
		return *fresh, nil
	}

	data, ok := cached.(T)
	if !ok {
		// 缓存内容类型漂移（如 Redis 反序列化为 map），当作未命中重新生成。
		r.logger.Warn("cached value has unexpected type, regenerating",
			zap.String("stage", string(req.Stage)))
		return regenerate(ctx, r, req, prompt, key, compaction, validate), nil
	}

	gate := r.runGate(req, data)
	if fromCache && !gate.Passed {
		r.cache.Stage(req.Stage).Delete(key)
		return regenerate(ctx, r, req, prompt, key, compaction, validate), nil
	}

	return StageOutcome[T]{
		Result:     llm.Success(data, 0),
		Gate:       gate,
		Compaction: compaction,
		FromCache:  fromCache,
	}, nil
}

// regenerate bypasses a stale or mistyped cache entry and refreshes it on
// success.
func regenerate[T any](ctx stdctx.Context, r *Runner, req Request, prompt, key string, compaction llmcontext.CompactionResult, validate func(*T) error) StageOutcome[T] {
	out := generateAndGate(ctx, r, req, prompt, validate)
	out.Compaction = compaction
	if out.Result.OK && out.Gate.Passed {
		r.cache.Set(ctx, req.Stage, key, out.Result.Data, 0)
	}
	return out
}

// generateAndGate runs the retry engine and gates the fresh artifact.
func generateAndGate[T any](ctx stdctx.Context, r *Runner, req Request, prompt string, validate func(*T) error) StageOutcome[T] {
	result := retry.GenerateJSONWithRetry(ctx, r.engine, prompt, validate, req.Retry, req.Tier, req.Stage)
	out := StageOutcome[T]{Result: result}
	if !result.OK {
		return out
	}

	out.Usage = r.accountTokens(prompt, result.Data)
	out.Gate = r.runGate(req, result.Data)
	if !out.Gate.Passed {
		r.logger.Warn("quality gate blocked stage output",
			zap.String("stage", string(req.Stage)),
			zap.Int("blockers", len(out.Gate.Blockers())),
		)
	}
	return out
}

// accountTokens estimates prompt and completion consumption. Estimates,
// not provider-reported figures: good enough for budgeting and dashboards.
func (r *Runner) accountTokens(prompt string, data any) types.TokenUsage {
	usage := types.TokenUsage{PromptTokens: r.compactor.EstimateTokens(prompt)}
	if raw, err := json.Marshal(data); err == nil {
		usage.CompletionTokens = r.compactor.EstimateTokens(string(raw))
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	if r.collector != nil {
		r.collector.AddTokens("prompt", usage.PromptTokens)
		r.collector.AddTokens("completion", usage.CompletionTokens)
	}
	return usage
}

func (r *Runner) runGate(req Request, data any) quality.GateResult {
	var cctx *quality.CrossStageContext
	if req.Framework != nil {
		cctx = &quality.CrossStageContext{Framework: req.Framework}
	}
	return quality.RunQualityGates(req.Stage, data, cctx)
}

// buildPrompt compacts the history when needed and splices it under the
// stage instruction.
func (r *Runner) buildPrompt(ctx stdctx.Context, req Request) (string, llmcontext.CompactionResult, error) {
	if len(req.History) == 0 {
		return req.Prompt, llmcontext.CompactionResult{}, nil
	}

	compaction, err := r.compactor.SmartCompact(ctx, req.History, 0)
	if err != nil {
		return "", llmcontext.CompactionResult{}, fmt.Errorf("workflow: compact history: %w", err)
	}
	if r.collector != nil && compaction.WasCompacted {
		r.collector.ObserveCompactionRatio(compaction.CompressionRatio)
	}

	var b strings.Builder
	b.WriteString(req.Prompt)
	b.WriteString("\n\n## 对话上下文\n")
	for _, msg := range compaction.CompactedMessages {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	return b.String(), compaction, nil
}

func failureResult[T any](err error) llm.Result[T] {
	var te *types.Error
	if errors.As(err, &te) {
		return llm.Failure[T](te, 0, nil)
	}
	return llm.Failure[T](types.NewError(types.ErrUnknown, err.Error()).WithCause(err), 0, nil)
}
