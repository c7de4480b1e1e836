// Package orchestrator drives one exchange end to end: candidate selection,
// upstream calls with failover, tool dispatch, and event emission.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"llmgate/internal/catalog"
	"llmgate/internal/core"
	"llmgate/internal/providers"
	"llmgate/internal/ratelimit"
	"llmgate/internal/selector"
	"llmgate/internal/stream"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultMaxIterations   = 8
	DefaultMaxAttempts     = 6
	DefaultToolConcurrency = 4
)

// Config tunes the orchestration loop.
type Config struct {
	// MaxIterations caps agent rounds (one upstream success plus its tool
	// dispatch) per exchange.
	MaxIterations int

	// MaxAttempts caps upstream attempts within a single round before the
	// exchange fails with budget exhaustion.
	MaxAttempts int

	// Policy selects the failover ordering.
	Policy FailoverPolicy

	// ToolConcurrency bounds parallel tool executions per round.
	ToolConcurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Policy == "" {
		c.Policy = PolicySameProviderFirst
	}
	if c.ToolConcurrency <= 0 {
		c.ToolConcurrency = DefaultToolConcurrency
	}
	return c
}

// Request is one exchange as submitted by a caller. The credential pool
// travels with the request and is never persisted.
type Request struct {
	Messages       []core.Message        `json:"messages"`
	Tools          []core.ToolDefinition `json:"tools,omitempty"`
	Tier           string                `json:"tier,omitempty"`
	RequestedModel string                `json:"requested_model,omitempty"`
	Providers      []core.ProviderConfig `json:"providers"`
	Temperature    *float64              `json:"temperature,omitempty"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Stream         bool                  `json:"stream,omitempty"`

	// Executor runs tool calls in-process. When nil, an assistant turn that
	// requests tools ends the exchange with the calls returned to the
	// caller for external execution.
	Executor ToolExecutor `json:"-"`
}

// Validate rejects requests the loop cannot act on.
func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return core.NewPermanentError("", 0, "messages must not be empty", nil)
	}
	enabled := 0
	for _, p := range r.Providers {
		if p.Enabled {
			if p.Credential == "" {
				return core.NewPermanentError(p.Type, 0, "provider credential must not be empty", nil)
			}
			enabled++
		}
	}
	if enabled == 0 {
		return core.NewPermanentError("", 0, "at least one enabled provider is required", nil)
	}
	if _, err := catalog.ParseTier(r.Tier); err != nil {
		return core.NewPermanentError("", 0, err.Error(), err)
	}
	return nil
}

// Orchestrator owns the shared collaborators. Safe for concurrent use; all
// per-exchange state lives in the exchange struct.
type Orchestrator struct {
	catalog  *catalog.Catalog
	tracker  *ratelimit.Tracker
	selector *selector.Selector
	cfg      Config
	log      *slog.Logger

	// Swapped in tests.
	create func(core.ProviderConfig) (core.Provider, error)
	now    func() time.Time
}

// New creates an orchestrator over the shared catalog and tracker.
func New(cat *catalog.Catalog, tracker *ratelimit.Tracker, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		catalog:  cat,
		tracker:  tracker,
		selector: selector.New(cat, tracker),
		cfg:      cfg.withDefaults(),
		log:      log,
		create:   providers.Create,
		now:      time.Now,
	}
}

// Run drives one exchange to completion. Events go to em as they happen;
// em may be nil for callers that only want the final result. Exactly one
// terminal event is emitted, matching the returned value: a Result with
// exchange-complete, or an error with exchange-failed.
func (o *Orchestrator) Run(ctx context.Context, req *Request, em *stream.Emitter) (*Result, error) {
	if em != nil {
		// The consumer ranges over the channel; make sure it always closes,
		// even when the terminal event cannot be delivered.
		defer em.Abandon()
	}

	if err := req.Validate(); err != nil {
		return nil, o.fail(ctx, em, nil, err)
	}

	id := uuid.NewString()
	ctx = core.WithExchangeID(ctx, id)
	log := o.log.With("exchange_id", id)

	ex := newExchange(id, req.Messages, req.Tools)
	ex.executor = req.Executor

	tier, _ := catalog.ParseTier(req.Tier)
	var requested core.ModelRef
	if req.RequestedModel != "" {
		var err error
		requested, err = core.ParseModelRef(req.RequestedModel, "")
		if err != nil {
			return nil, o.fail(ctx, em, ex, core.NewPermanentError("", 0, err.Error(), err))
		}
	}

	log.InfoContext(ctx, "exchange started",
		"tier", string(tier),
		"requested_model", req.RequestedModel,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"stream", req.Stream,
	)

	for iteration := 0; iteration < o.cfg.MaxIterations; iteration++ {
		result, cand, err := o.callWithFailover(ctx, ex, req, em, iteration, tier, requested)
		if err != nil {
			return nil, o.fail(ctx, em, ex, err)
		}

		ex.addUsage(result.Usage)
		ex.history = append(ex.history, core.Message{
			Role:      core.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		rec := &ex.iterations[len(ex.iterations)-1]
		if err := o.emit(ctx, em, stream.Event{
			Type:      stream.EventIterationComplete,
			Iteration: iteration,
			Provider:  cand.Descriptor.Provider,
			Model:     cand.Descriptor.ID,
			Payload:   *rec,
		}); err != nil {
			return nil, o.fail(ctx, em, ex, err)
		}

		if len(result.ToolCalls) == 0 || ex.executor == nil {
			return o.complete(ctx, em, ex, result, iteration)
		}

		ex.state = StateToolDispatch
		toolMessages, err := o.dispatchTools(ctx, ex, em, iteration, result.ToolCalls)
		if err != nil {
			return nil, o.fail(ctx, em, ex, err)
		}
		ex.history = append(ex.history, toolMessages...)
	}

	exhausted := core.NewBudgetExhaustedError(
		fmt.Sprintf("iteration ceiling of %d reached without a final answer", o.cfg.MaxIterations))
	return nil, o.fail(ctx, em, ex, exhausted)
}

// preferOtherProviders stably moves candidates on the given provider behind
// everyone else.
func preferOtherProviders(plan []selector.Candidate, avoid string) []selector.Candidate {
	other := make([]selector.Candidate, 0, len(plan))
	same := make([]selector.Candidate, 0, len(plan))
	for _, c := range plan {
		if c.Descriptor.Provider == avoid {
			same = append(same, c)
		} else {
			other = append(other, c)
		}
	}
	return append(other, same...)
}

// callWithFailover performs one agent round's upstream call, walking the
// candidate plan until a call succeeds or no eligible candidate remains.
func (o *Orchestrator) callWithFailover(ctx context.Context, ex *exchange, req *Request, em *stream.Emitter, iteration int, tier catalog.Tier, requested core.ModelRef) (*core.ChatResult, selector.Candidate, error) {
	ex.state = StateSelecting

	chatReq := &core.ChatRequest{
		Messages:    ex.history,
		Tools:       ex.tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
	reqs := selector.Requirements{
		Tier:           tier,
		MinContext:     catalog.EstimateRequestTokens(chatReq),
		NeedTools:      len(ex.tools) > 0,
		Pool:           req.Providers,
		RequestedModel: requested,
	}

	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, selector.Candidate{}, err
		}

		plan := o.selector.Select(reqs)
		eligible := plan[:0:0]
		for _, c := range plan {
			if ex.eligible(c) {
				eligible = append(eligible, c)
			}
		}
		if len(eligible) == 0 {
			return nil, selector.Candidate{}, core.NewBudgetExhaustedError(ex.exhaustedMessage())
		}

		ordered := orderForFailover(o.cfg.Policy, eligible, ex.lastProvider)
		if ex.avoidProvider != "" {
			ordered = preferOtherProviders(ordered, ex.avoidProvider)
			ex.avoidProvider = ""
		}
		cand := ordered[0]
		result, err := o.callCandidate(ctx, ex, em, iteration, cand, chatReq)
		if err == nil {
			ex.lastProvider = cand.Descriptor.Provider
			return result, cand, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, selector.Candidate{}, err
		}

		kind := core.KindOf(err)
		o.log.WarnContext(ctx, "upstream attempt failed",
			"provider", cand.Descriptor.Provider,
			"model", cand.Descriptor.ID,
			"iteration", iteration,
			"attempt", attempt,
			"kind", string(kind),
			"error", err,
		)

		switch kind {
		case core.KindPermanent:
			// The vendor rejected the request for this model outright;
			// sibling models usually share the validation, so switch
			// providers instead of walking the same rejection.
			ex.markFailed(cand, kind)
			ex.failovers++
			ex.lastProvider = ""
			ex.avoidProvider = cand.Descriptor.Provider
		case core.KindAuth:
			ex.blockProvider(cand.Descriptor.Provider)
			ex.markFailed(cand, kind)
			ex.failovers++
		case core.KindTransient, core.KindMalformedUpstream:
			ex.markFailed(cand, kind)
			ex.failovers++
			ex.lastProvider = cand.Descriptor.Provider
		default:
			ex.markFailed(cand, kind)
			ex.failovers++
		}
	}

	return nil, selector.Candidate{}, core.NewBudgetExhaustedError(
		fmt.Sprintf("attempt ceiling of %d reached, attempted: %v", o.cfg.MaxAttempts, ex.attemptedPairs()))
}

// callCandidate issues one upstream call and records its outcome in both the
// tracker and the iteration log.
func (o *Orchestrator) callCandidate(ctx context.Context, ex *exchange, em *stream.Emitter, iteration int, cand selector.Candidate, chatReq *core.ChatRequest) (*core.ChatResult, error) {
	provider, err := o.create(cand.Config)
	if err != nil {
		return nil, core.NewPermanentError(cand.Config.Type, 0, err.Error(), err)
	}

	rec := IterationRecord{
		Index:     iteration,
		Provider:  cand.Descriptor.Provider,
		Model:     cand.Descriptor.ID,
		StartedAt: o.now(),
	}
	key := cand.Key()

	if err := o.emit(ctx, em, stream.Event{
		Type:      stream.EventRequestIssued,
		Iteration: iteration,
		Provider:  rec.Provider,
		Model:     rec.Model,
	}); err != nil {
		return nil, err
	}

	call := *chatReq
	call.Model = cand.Descriptor.ID

	var result *core.ChatResult
	var partial strings.Builder
	if chatReq.Stream && cand.Descriptor.Streaming {
		ex.state = StateStreaming
		result, err = provider.StreamChatCompletion(ctx, &call, func(chunk core.StreamChunk) error {
			return o.relayChunk(ctx, em, iteration, rec.Provider, rec.Model, chunk, &partial)
		})
	} else {
		ex.state = StateCalling
		result, err = provider.ChatCompletion(ctx, &call)
	}
	rec.DurationMs = o.now().Sub(rec.StartedAt).Milliseconds()

	if err != nil {
		var ge *core.GatewayError
		if errors.As(err, &ge) {
			rec.StatusCode = ge.StatusCode
			if ge.Retryable() {
				o.tracker.RecordFailure(key, ge.StatusCode, core.RetryAfterOf(err))
			}
		}
		rec.Status = "failed"
		rec.Error = err.Error()
		// Deltas already relayed stay in the transcript; the record names
		// the provider and model that produced them so the client can tell
		// them apart from the replacement candidate's output.
		rec.PartialContent = partial.String()
		ex.iterations = append(ex.iterations, rec)
		return nil, err
	}

	o.tracker.RecordSuccess(key, result.Header)
	rec.Status = "ok"
	rec.StatusCode = result.StatusCode
	rec.FinishReason = result.FinishReason
	rec.Usage = result.Usage
	ex.iterations = append(ex.iterations, rec)
	return result, nil
}

// relayChunk converts one upstream stream chunk into client events.
func (o *Orchestrator) relayChunk(ctx context.Context, em *stream.Emitter, iteration int, providerType, model string, chunk core.StreamChunk, partial *strings.Builder) error {
	switch {
	case chunk.ContentDelta != "":
		partial.WriteString(chunk.ContentDelta)
		return o.emit(ctx, em, stream.Event{
			Type:      stream.EventContentDelta,
			Iteration: iteration,
			Provider:  providerType,
			Model:     model,
			Payload:   stream.ContentDeltaPayload{Text: chunk.ContentDelta},
		})
	case chunk.ToolCallDelta != nil:
		return o.emit(ctx, em, stream.Event{
			Type:      stream.EventToolCallDelta,
			Iteration: iteration,
			Provider:  providerType,
			Model:     model,
			Payload: stream.ToolCallDeltaPayload{
				Index:     chunk.ToolCallDelta.Index,
				ID:        chunk.ToolCallDelta.ID,
				Name:      chunk.ToolCallDelta.Name,
				Arguments: chunk.ToolCallDelta.ArgumentsDelta,
			},
		})
	default:
		// Usage-only chunks surface in the iteration record instead.
		return nil
	}
}

func (o *Orchestrator) complete(ctx context.Context, em *stream.Emitter, ex *exchange, last *core.ChatResult, iteration int) (*Result, error) {
	ex.state = StateDone
	res := &Result{
		ExchangeID:   ex.id,
		Provider:     last.Provider,
		Model:        last.Model,
		Content:      last.Content,
		ToolCalls:    last.ToolCalls,
		FinishReason: last.FinishReason,
		Usage:        ex.usage,
		Iterations:   ex.iterations,
		Invocations:  ex.invocations,
		Failovers:    ex.failovers,
		Messages:     ex.history,
	}

	o.log.InfoContext(ctx, "exchange complete",
		"provider", res.Provider,
		"model", res.Model,
		"iterations", iteration+1,
		"failovers", res.Failovers,
		"total_tokens", res.Usage.TotalTokens,
	)

	if err := o.emit(ctx, em, stream.Event{
		Type:      stream.EventExchangeComplete,
		Iteration: iteration,
		Provider:  res.Provider,
		Model:     res.Model,
		Payload:   res,
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// fail emits the terminal failure event and returns the error unchanged.
func (o *Orchestrator) fail(ctx context.Context, em *stream.Emitter, ex *exchange, err error) error {
	iteration := 0
	if ex != nil {
		ex.state = StateFailed
		if n := len(ex.iterations); n > 0 {
			iteration = ex.iterations[n-1].Index
		}
	}

	o.log.ErrorContext(ctx, "exchange failed", "kind", string(core.KindOf(err)), "error", err)

	// Best effort: the consumer may already be gone.
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	_ = o.emit(emitCtx, em, stream.Event{
		Type:      stream.EventExchangeFailed,
		Iteration: iteration,
		Payload:   stream.ErrorPayload{Kind: string(core.KindOf(err)), Message: err.Error()},
	})
	return err
}

func (o *Orchestrator) emit(ctx context.Context, em *stream.Emitter, ev stream.Event) error {
	if em == nil {
		return nil
	}
	return em.Emit(ctx, ev)
}
