package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/internal/pkg/options"
	"github.com/kiosk404/cohort/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const finishReasonContentFilter = "content_filter"

// Meter receives one Charge per metered generation.
type Meter interface {
	Record(ctx context.Context, charge *entity.Charge) error
}

// Gateway is the uniform entry point to every text-generation backend.
type Gateway interface {
	// Resolve maps "provider/model" or a unique bare model id to a registered model.
	Resolve(ctx context.Context, model string) (entity.ModelRef, error)
	// Generate runs one synchronous generation and meters its cost.
	Generate(ctx context.Context, req *entity.GenerateRequest) (*entity.GenerateResponse, error)
	// Price computes the cost of usage on ref; batch applies the discount.
	Price(ctx context.Context, ref entity.ModelRef, usage *entity.TokenUsage, batch bool) (float64, error)

	SubmitBatch(ctx context.Context, prompts []*entity.BatchPrompt) (*entity.BatchHandle, error)
	PollBatch(ctx context.Context, handle *entity.BatchHandle) (*entity.BatchStatus, error)
	FetchBatch(ctx context.Context, handle *entity.BatchHandle, status *entity.BatchStatus) ([]*entity.BatchItemResult, error)
	CancelBatch(ctx context.Context, handle *entity.BatchHandle) error

	ListModels(ctx context.Context) ([]*entity.ModelInstance, error)
	// Close stops in-process batch work.
	Close()
}

// GatewayConfig tunes retries and batch pricing.
type GatewayConfig struct {
	Retry       *options.RetryOptions
	CallTimeout time.Duration
	// BatchDiscount is the fraction taken off batch calls (0.5 = half price).
	BatchDiscount float64
	// DeferredConcurrency bounds the in-process batch client.
	DeferredConcurrency int
	// Cooldown rests a throttled model. Zero disables it.
	Cooldown time.Duration
}

type gatewayImpl struct {
	cfg      GatewayConfig
	manager  ModelManager
	meter    Meter
	deferred *DeferredBatchClient
	tracer   trace.Tracer
}

var _ Gateway = (*gatewayImpl)(nil)

// NewGateway builds a Gateway over manager. meter may be nil.
func NewGateway(cfg GatewayConfig, manager ModelManager, meter Meter) Gateway {
	if cfg.Retry == nil {
		cfg.Retry = options.NewModelOptions().Retry
	}
	g := &gatewayImpl{
		cfg:     cfg,
		manager: manager,
		meter:   meter,
		tracer:  otel.Tracer("github.com/kiosk404/cohort/llm"),
	}
	g.deferred = NewDeferredBatchClient(g.complete, cfg.DeferredConcurrency)
	return g
}

func (g *gatewayImpl) Resolve(ctx context.Context, model string) (entity.ModelRef, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		inst, err := g.manager.DefaultModel(ctx)
		if err != nil {
			return entity.ModelRef{}, errno.NewConfigurationError("model", "no model given and no default model configured")
		}
		return inst.Ref(), nil
	}

	ref := entity.ParseModelRef(model)
	if ref.ProviderID != "" {
		if _, err := g.manager.Model(ctx, ref); err == nil {
			return ref, nil
		}
		// "openrouter/meta/llama" style ids may be a bare model id containing a slash.
	}

	instances, err := g.manager.FindModels(ctx, model)
	if err != nil || len(instances) == 0 {
		return entity.ModelRef{}, errno.NewConfigurationError("model", "unknown model identifier %q", model)
	}
	if len(instances) > 1 {
		refs := make([]string, 0, len(instances))
		for _, inst := range instances {
			refs = append(refs, inst.Ref().String())
		}
		sort.Strings(refs)
		return entity.ModelRef{}, errno.NewConfigurationError("model",
			"model identifier %q is ambiguous, qualify it as one of %s", model, strings.Join(refs, ", "))
	}
	return instances[0].Ref(), nil
}

func (g *gatewayImpl) ListModels(ctx context.Context) ([]*entity.ModelInstance, error) {
	return g.manager.ListModels(ctx)
}

func (g *gatewayImpl) Price(ctx context.Context, ref entity.ModelRef, usage *entity.TokenUsage, batch bool) (float64, error) {
	inst, err := g.manager.Model(ctx, ref)
	if err != nil {
		return 0, errno.NewConfigurationError("model", "unknown model %s", ref)
	}
	discount := 0.0
	if batch {
		discount = g.cfg.BatchDiscount
	}
	return inst.Cost.Price(usage, discount), nil
}

func (g *gatewayImpl) Generate(ctx context.Context, req *entity.GenerateRequest) (*entity.GenerateResponse, error) {
	ctx, span := g.tracer.Start(ctx, "llm.Generate", trace.WithAttributes(
		attribute.String("task.id", req.TaskID),
		attribute.String("persona.id", req.PersonaID),
		attribute.String("model", req.Model),
	))
	defer span.End()

	resp, err := g.complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("model.ref", resp.Ref.String()),
		attribute.Int("usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("usage.completion_tokens", resp.Usage.CompletionTokens),
		attribute.Float64("cost", resp.Cost),
	)

	if g.meter != nil {
		charge := &entity.Charge{
			TaskID:    req.TaskID,
			PersonaID: req.PersonaID,
			Ref:       resp.Ref,
			Usage:     resp.Usage,
			Cost:      resp.Cost,
			At:        time.Now(),
		}
		if err := g.meter.Record(ctx, charge); err != nil {
			logger.Warn("[LLM] failed to record cost of task %s on %s: %v", req.TaskID, resp.Ref, err)
		}
	}
	return resp, nil
}

// complete generates without metering. The deferred batch client uses it too.
func (g *gatewayImpl) complete(ctx context.Context, req *entity.GenerateRequest) (*entity.GenerateResponse, error) {
	primary, err := g.Resolve(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	var fallbacks []entity.ModelRef
	for _, fb := range req.Fallbacks {
		ref, err := g.Resolve(ctx, fb)
		if err != nil {
			logger.Warn("[LLM] ignoring fallback %q of persona %s: %v", fb, req.PersonaID, err)
			continue
		}
		fallbacks = append(fallbacks, ref)
	}

	format := entity.ModelResponseFormatText
	if req.JSON {
		format = entity.ModelResponseFormatJSON
	}
	w := g.walk(ctx, entity.Candidates(primary, fallbacks...), req.Reasoning, format, req.Messages(), req.Tools)
	if w.msg == nil {
		return nil, g.finalError(ctx, primary, w)
	}

	usage := entity.UsageFromMessage(w.msg)
	cost, err := g.Price(ctx, w.ref, usage, false)
	if err != nil {
		return nil, err
	}
	resp := &entity.GenerateResponse{
		Text:      w.msg.Content,
		ToolCalls: w.msg.ToolCalls,
		Message:   w.msg,
		Usage:     usage,
		Cost:      cost,
		Ref:       w.ref,
		Attempts:  w.attempts.Calls(),
	}
	if w.msg.ResponseMeta != nil {
		resp.FinishReason = w.msg.ResponseMeta.FinishReason
	}
	return resp, nil
}

type walkResult struct {
	msg      *schema.Message
	ref      entity.ModelRef
	attempts entity.Attempts
	lastErr  error
}

// walk tries candidates in order until one answers. A candidate that is
// cooling down is skipped while a rested one remains behind it. Failures
// that follow the prompt rather than the model end the walk early.
func (g *gatewayImpl) walk(ctx context.Context, candidates []entity.ModelRef, depth entity.Reasoning, format entity.ModelResponseFormat, messages []*schema.Message, tools []*schema.ToolInfo) *walkResult {
	w := &walkResult{attempts: make(entity.Attempts, 0, len(candidates))}
	for i, ref := range candidates {
		if err := ctx.Err(); err != nil {
			w.lastErr = err
			return w
		}
		if until, ok := g.manager.CoolingDown(ref); ok && g.anyRested(candidates[i+1:]) {
			w.attempts = append(w.attempts, entity.Attempt{
				Ref: ref, Skipped: true, Reason: entity.ReasonRateLimit,
				Error: "cooling down until " + until.Format(time.RFC3339),
			})
			continue
		}

		cm, err := g.manager.ChatModel(ctx, ref, depth, format)
		if err != nil {
			w.attempts = append(w.attempts, entity.Attempt{Ref: ref, Reason: entity.Classify(err), Error: err.Error()})
			w.lastErr = err
			logger.Warn("[LLM] cannot build %s: %v", ref, err)
			continue
		}

		msg, calls, err := g.callWithRetry(ctx, ref, cm, messages, tools)
		retries := max(calls-1, 0)
		if err == nil {
			w.attempts = append(w.attempts, entity.Attempt{Ref: ref, Retries: retries})
			w.msg, w.ref = msg, ref
			if i > 0 {
				logger.Info("[LLM] served by fallback %s after %d candidate(s)", ref, i)
			}
			return w
		}

		ce := entity.NewCallError(ref, err)
		w.attempts = append(w.attempts, entity.Attempt{
			Ref: ref, Reason: ce.Reason, Status: ce.Status, Error: err.Error(), Retries: retries,
		})
		w.lastErr = err
		logger.Warn("[LLM] candidate %d/%d %s failed [%s]: %v", i+1, len(candidates), ref, ce.Reason, err)
		if ce.Reason.Cools() && g.cfg.Cooldown > 0 {
			g.manager.Cooldown(ref, time.Now().Add(g.cfg.Cooldown))
		}
		if !ce.Reason.Failover() {
			break
		}
	}
	return w
}

func (g *gatewayImpl) anyRested(refs []entity.ModelRef) bool {
	for _, ref := range refs {
		if _, resting := g.manager.CoolingDown(ref); !resting {
			return true
		}
	}
	return false
}

func (g *gatewayImpl) finalError(ctx context.Context, primary entity.ModelRef, w *walkResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var cpe *errno.ContentPolicyError
	var cfe *errno.ConfigurationError
	switch {
	case errors.As(w.lastErr, &cpe):
		return cpe
	case errors.As(w.lastErr, &cfe):
		return cfe
	}

	ref, reason := primary, entity.ReasonUnknown
	if last, ok := w.attempts.Last(); ok {
		ref, reason = last.Ref, last.Reason
	}
	cause := w.lastErr
	if cause == nil {
		cause = fmt.Errorf("no usable model: %s", w.attempts)
	}
	return &errno.ProviderError{
		Provider: ref.ProviderID,
		Model:    ref.ModelID,
		Reason:   string(reason),
		Attempts: w.attempts.Calls(),
		Cause:    cause,
	}
}

// callWithRetry retries transient failures on one model with exponential backoff.
func (g *gatewayImpl) callWithRetry(ctx context.Context, ref entity.ModelRef, cm einoModel.BaseChatModel, messages []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, int, error) {
	if len(tools) > 0 {
		tc, ok := cm.(einoModel.ToolCallingChatModel)
		if !ok {
			return nil, 0, errno.NewConfigurationError(ref.String(), "model does not support tool calling")
		}
		bound, err := tc.WithTools(tools)
		if err != nil {
			return nil, 0, errno.NewConfigurationError(ref.String(), "bind tools: %v", err)
		}
		cm = bound
	}

	calls := 0
	op := func() (*schema.Message, error) {
		calls++
		callCtx := ctx
		if g.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
			defer cancel()
		}

		msg, err := cm.Generate(callCtx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			reason := entity.Classify(err)
			if reason == entity.ReasonContentPolicy {
				return nil, backoff.Permanent(&errno.ContentPolicyError{
					Provider: ref.ProviderID, Model: ref.ModelID, Message: err.Error(),
				})
			}
			if !reason.Retryable() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if msg == nil {
			return nil, fmt.Errorf("empty response from %s", ref)
		}
		if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason == finishReasonContentFilter {
			return nil, backoff.Permanent(&errno.ContentPolicyError{
				Provider: ref.ProviderID, Model: ref.ModelID, Message: "response withheld by provider content filter",
			})
		}
		return msg, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.Retry.InitialInterval
	b.MaxInterval = g.cfg.Retry.MaxInterval

	msg, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(g.cfg.Retry.MaxAttempts),
		backoff.WithMaxElapsedTime(g.cfg.Retry.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("[LLM] %s call failed, retrying in %s: %v", ref, next, err)
		}),
	)
	return msg, calls, err
}

// --- Batch channel ---

func (g *gatewayImpl) SubmitBatch(ctx context.Context, prompts []*entity.BatchPrompt) (*entity.BatchHandle, error) {
	if len(prompts) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	providerID := prompts[0].Ref.ProviderID
	instances := make(map[string]*entity.ModelInstance, len(prompts))
	for _, p := range prompts {
		if p.Ref.ProviderID != providerID {
			return nil, fmt.Errorf("batch mixes providers %s and %s", providerID, p.Ref.ProviderID)
		}
		if _, ok := instances[p.Ref.String()]; ok {
			continue
		}
		inst, err := g.manager.Model(ctx, p.Ref)
		if err != nil {
			return nil, errno.NewConfigurationError("model", "unknown model %s", p.Ref)
		}
		instances[p.Ref.String()] = inst
	}

	client, err := g.batchClient(ctx, providerID, true)
	if err != nil {
		return nil, err
	}
	handle, err := client.Submit(ctx, prompts, instances)
	if err != nil {
		return nil, err
	}
	logger.Info("[LLM] submitted batch %s to %s with %d member(s) (native=%t)",
		handle.RemoteID, providerID, len(prompts), handle.Native)
	return handle, nil
}

func (g *gatewayImpl) PollBatch(ctx context.Context, handle *entity.BatchHandle) (*entity.BatchStatus, error) {
	client, err := g.batchClient(ctx, handle.ProviderID, handle.Native)
	if err != nil {
		return nil, err
	}
	return client.Poll(ctx, handle)
}

func (g *gatewayImpl) FetchBatch(ctx context.Context, handle *entity.BatchHandle, status *entity.BatchStatus) ([]*entity.BatchItemResult, error) {
	client, err := g.batchClient(ctx, handle.ProviderID, handle.Native)
	if err != nil {
		return nil, err
	}
	return client.Fetch(ctx, handle, status)
}

func (g *gatewayImpl) CancelBatch(ctx context.Context, handle *entity.BatchHandle) error {
	client, err := g.batchClient(ctx, handle.ProviderID, handle.Native)
	if err != nil {
		return err
	}
	return client.Cancel(ctx, handle)
}

func (g *gatewayImpl) batchClient(ctx context.Context, providerID string, native bool) (spi.BatchClient, error) {
	if !native {
		return g.deferred, nil
	}
	client, ok, err := g.manager.BatchClient(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return g.deferred, nil
	}
	return client, nil
}

func (g *gatewayImpl) Close() {
	g.deferred.Close()
}
