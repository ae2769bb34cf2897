package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Axthefish/cogcoach/internal/metrics"
	"github.com/Axthefish/cogcoach/llm"
	"github.com/Axthefish/cogcoach/types"
)

// Engine 自适应重试引擎：包装一次生成调用，失败时按错误分类修复提示词、
// 降温并退避重试。
type Engine struct {
	client    llm.Client
	policy    Policy
	limiter   *rate.Limiter // 客户端侧限流，可为 nil
	collector *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer

	// sleep 可注入，测试时替换为无等待实现。
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy overrides the retry policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p.normalize() }
}

// WithRateLimiter sets a client-side rate limiter applied before each attempt.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l.With(zap.String("component", "retry")) }
}

// NewEngine creates a retry engine around the given client.
func NewEngine(client llm.Client, opts ...Option) *Engine {
	e := &Engine{
		client: client,
		policy: DefaultPolicy(),
		logger: zap.NewNop(),
		tracer: otel.Tracer("cogcoach/retry"),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Options 单次调用的参数覆盖。
type Options struct {
	Policy          *Policy
	MaxOutputTokens int
}

// GenerateJSONWithRetry invokes the underlying generator until the output
// parses as T and passes validate, or the retry budget is spent.
//
// Attempts are strictly sequential: attempt N+1 never starts before attempt
// N's result, including its backoff delay, has resolved, because each
// attempt's prompt depends on the previous attempt's error. The returned
// failure is terminal; callers must not retry further.
func GenerateJSONWithRetry[T any](ctx context.Context, e *Engine, prompt string, validate func(*T) error, opts *Options, tier types.Tier, stage types.Stage) llm.Result[T] {
	policy := e.policy
	maxOutput := 0
	if opts != nil {
		if opts.Policy != nil {
			policy = opts.Policy.normalize()
		}
		maxOutput = opts.MaxOutputTokens
	}

	ctx, span := e.tracer.Start(ctx, "retry.generate_json",
		trace.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("tier", string(tier)),
		))
	defer span.End()

	currentPrompt := prompt
	var lastErr error
	var lastCtx *types.ErrorContext

	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return terminal[T](types.ErrTimeout, "context canceled before attempt", err, attempt-1, lastCtx)
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return terminal[T](types.ErrTimeout, "rate limiter wait canceled", err, attempt-1, lastCtx)
			}
		}

		data, err := attemptOnce[T](ctx, e, currentPrompt, validate, maxOutput, tier, stage, attempt)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return llm.Success(*data, attempt)
		}

		code := AnalyzeError(err)
		lastErr = err
		lastCtx = AnalyzeErrorContext(currentPrompt, err.Error(), attempt)
		if e.collector != nil {
			e.collector.IncRetryAttempt(string(code))
		}
		e.logger.Warn("generation attempt failed",
			zap.Int("attempt", attempt),
			zap.String("stage", string(stage)),
			zap.String("code", string(code)),
			zap.Error(err),
		)

		// 无 API Key 不可恢复，立即终止。
		if code == types.ErrNoAPIKey {
			return terminal[T](code, "missing or invalid API key", err, attempt, lastCtx)
		}
		if attempt >= policy.MaxRetries {
			break
		}

		if code == types.ErrRateLimit {
			// 限流与提示词无关：固定长等待，不改写 prompt。
			if serr := e.sleep(ctx, policy.RateLimitDelay); serr != nil {
				return terminal[T](types.ErrRateLimit, "canceled during rate-limit wait", serr, attempt, lastCtx)
			}
			continue
		}

		currentPrompt = AdjustPromptBasedOnError(currentPrompt, code, err, attempt)
		delay := time.Duration(float64(CalculateDelay(attempt, policy)) * severityMultiplier(lastCtx.Severity))
		if serr := e.sleep(ctx, delay); serr != nil {
			return terminal[T](types.ErrTimeout, "canceled during backoff", serr, attempt, lastCtx)
		}
	}

	code := AnalyzeError(lastErr)
	return terminal[T](code, fmt.Sprintf("generation failed after %d attempts", policy.MaxRetries), lastErr, policy.MaxRetries, lastCtx)
}

// attemptOnce runs a single bounded generation attempt.
func attemptOnce[T any](ctx context.Context, e *Engine, prompt string, validate func(*T) error, maxOutput int, tier types.Tier, stage types.Stage, attempt int) (*T, error) {
	actx, cancel := llm.WithGenerationTimeout(ctx, tier, stage)
	defer cancel()

	start := time.Now()
	raw, err := e.client.Generate(actx, prompt, llm.GenerateConfig{
		Temperature:      temperatureFor(attempt),
		MaxOutputTokens:  maxOutput,
		ResponseMIMEType: "application/json",
	}, tier, stage)
	if e.collector != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		e.collector.ObserveLLMRequest(string(stage), string(tier), outcome, time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, types.NewError(types.ErrEmptyResponse, "model returned empty response")
	}

	var value T
	if uerr := json.Unmarshal([]byte(ExtractJSON(raw)), &value); uerr != nil {
		return nil, types.NewError(types.ErrParse, "output is not valid JSON").WithCause(uerr)
	}
	if validate != nil {
		if verr := validate(&value); verr != nil {
			return nil, types.NewError(types.ErrSchemaValidation, verr.Error()).WithCause(verr)
		}
	}
	return &value, nil
}

// BestOfResult pairs a successful variant with its score.
type BestOfResult[T any] struct {
	Data  T
	Score float64
	Index int
}

// GenerateBestOf fires multiple prompt variants concurrently, each with its
// own bounded retry budget of 2, scores all successes, and returns the
// highest-scoring one. It fails only if every variant failed. Variants run
// with no ordering guarantee; results are merged after all have settled.
func GenerateBestOf[T any](ctx context.Context, e *Engine, prompts []string, validate func(*T) error, score func(*T) float64, tier types.Tier, stage types.Stage) llm.Result[T] {
	if len(prompts) == 0 {
		return llm.Failure[T](types.NewError(types.ErrUnknown, "no prompt variants supplied"), 0, nil)
	}

	variantPolicy := e.policy
	variantPolicy.MaxRetries = 2

	results := make([]llm.Result[T], len(prompts))
	var g errgroup.Group
	for i, p := range prompts {
		g.Go(func() error {
			results[i] = GenerateJSONWithRetry(ctx, e, p, validate, &Options{Policy: &variantPolicy}, tier, stage)
			return nil
		})
	}
	_ = g.Wait()

	best := -1
	bestScore := 0.0
	attempts := 0
	for i, r := range results {
		attempts += r.Attempts
		if !r.OK {
			continue
		}
		s := 0.0
		if score != nil {
			s = score(&r.Data)
		}
		if best == -1 || s > bestScore {
			best, bestScore = i, s
		}
	}
	if best == -1 {
		last := results[len(results)-1]
		return llm.Failure[T](last.Err, attempts, last.ErrorContext)
	}

	winner := results[best]
	winner.Attempts = attempts
	return winner
}

// fencedJSON 匹配 markdown 代码块中的 JSON。
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractJSON pulls a JSON object or array out of a response that may wrap
// it in prose or markdown fences.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.Contains(response, "```") {
		if m := fencedJSON.FindStringSubmatch(response); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}

	if start, end := strings.Index(response, "{"), strings.LastIndex(response, "}"); start >= 0 && end > start {
		return response[start : end+1]
	}
	if start, end := strings.Index(response, "["), strings.LastIndex(response, "]"); start >= 0 && end > start {
		return response[start : end+1]
	}
	return response
}

// terminal builds a typed terminal failure.
func terminal[T any](code types.ErrorCode, msg string, cause error, attempts int, ectx *types.ErrorContext) llm.Result[T] {
	te := types.NewError(code, msg).WithCause(cause)
	if ectx != nil {
		te.Severity = ectx.Severity
	}
	if code == types.ErrNoAPIKey {
		te.Retryable = false
	}
	return llm.Failure[T](te, attempts, ectx)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
