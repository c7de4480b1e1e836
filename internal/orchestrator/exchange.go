package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"llmgate/internal/core"
	"llmgate/internal/selector"
)

// State is the lifecycle phase of an exchange.
type State string

const (
	StateSelecting    State = "selecting"
	StateCalling      State = "calling"
	StateStreaming    State = "streaming"
	StateToolDispatch State = "tool_dispatch"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// IterationRecord captures one upstream attempt. A single agent round may
// produce several records when failover retries the call on another
// candidate; they share the same Index.
type IterationRecord struct {
	Index        int        `json:"index"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	Status       string     `json:"status"`
	StatusCode   int        `json:"status_code,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        core.Usage `json:"usage"`
	Error        string     `json:"error,omitempty"`

	// PartialContent holds content deltas that reached the client before a
	// streaming attempt failed. The next candidate starts its answer from
	// scratch; this record attributes the stale prefix to its producer.
	PartialContent string `json:"partial_content,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// ToolInvocation records one tool call's execution.
type ToolInvocation struct {
	CallID     string    `json:"call_id"`
	Tool       string    `json:"tool"`
	Arguments  string    `json:"arguments"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// exchange is the per-request mutable state owned by the orchestration loop.
// It is confined to one goroutine and never shared.
type exchange struct {
	id       string
	state    State
	history  []core.Message
	tools    []core.ToolDefinition
	executor ToolExecutor

	// attempted maps (provider, model) pairs that already failed this
	// exchange to their final error kind. A failed pair is never retried.
	attempted map[string]core.ErrorKind

	// blockedProviders holds providers whose credentials were rejected.
	blockedProviders map[string]bool

	lastProvider string

	// avoidProvider deprioritizes one provider for the next attempt after a
	// permanent error, so the loop switches providers instead of walking the
	// same provider's siblings into the same rejection.
	avoidProvider string

	iterations  []IterationRecord
	invocations []ToolInvocation
	failovers   int
	usage       core.Usage
}

func newExchange(id string, messages []core.Message, tools []core.ToolDefinition) *exchange {
	history := make([]core.Message, len(messages))
	copy(history, messages)
	return &exchange{
		id:               id,
		state:            StateSelecting,
		history:          history,
		tools:            tools,
		attempted:        make(map[string]core.ErrorKind),
		blockedProviders: make(map[string]bool),
	}
}

func (ex *exchange) eligible(c selector.Candidate) bool {
	if ex.blockedProviders[c.Descriptor.Provider] {
		return false
	}
	_, failed := ex.attempted[c.Key().String()]
	return !failed
}

func (ex *exchange) markFailed(c selector.Candidate, kind core.ErrorKind) {
	ex.attempted[c.Key().String()] = kind
}

func (ex *exchange) blockProvider(providerType string) {
	ex.blockedProviders[providerType] = true
}

func (ex *exchange) addUsage(u core.Usage) {
	ex.usage.PromptTokens += u.PromptTokens
	ex.usage.CompletionTokens += u.CompletionTokens
	ex.usage.TotalTokens += u.TotalTokens
}

// attemptedPairs returns the failed pairs with their final error kinds,
// sorted for stable error messages.
func (ex *exchange) attemptedPairs() []string {
	pairs := make([]string, 0, len(ex.attempted))
	for k, kind := range ex.attempted {
		pairs = append(pairs, fmt.Sprintf("%s (%s)", k, kind))
	}
	sort.Strings(pairs)
	return pairs
}

func (ex *exchange) exhaustedMessage() string {
	if len(ex.attempted) == 0 {
		return "no candidate model satisfies the request requirements"
	}
	return fmt.Sprintf("all candidates exhausted, attempted: %v", ex.attemptedPairs())
}

// Result is the terminal outcome of a successful exchange.
type Result struct {
	ExchangeID   string            `json:"exchange_id"`
	Provider     string            `json:"provider"`
	Model        string            `json:"model"`
	Content      string            `json:"content"`
	ToolCalls    []core.ToolCall   `json:"tool_calls,omitempty"`
	FinishReason string            `json:"finish_reason"`
	Usage        core.Usage        `json:"usage"`
	Iterations   []IterationRecord `json:"iterations"`
	Invocations  []ToolInvocation  `json:"tool_invocations,omitempty"`
	Failovers    int               `json:"failovers"`
	Messages     []core.Message    `json:"messages"`
}
