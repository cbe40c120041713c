package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nexuscore/agentcore/internal/convo"
)

// ExecConfig configures the Executor's default concurrency/timeout/retry
// behavior; individual Definitions may override Timeout/MaxAttempts/
// RetryBackoff.
type ExecConfig struct {
	// Concurrency bounds how many calls run at once when a batch is
	// dispatched in parallel. Default: 4.
	Concurrency int
	// PerToolTimeout is the default per-attempt timeout. Default: 30s.
	PerToolTimeout time.Duration
	// MaxAttempts is the default number of attempts per call. Default: 1.
	MaxAttempts int
	// RetryBackoff is the default wait between attempts.
	RetryBackoff time.Duration
}

func (c ExecConfig) withDefaults() ExecConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PerToolTimeout <= 0 {
		c.PerToolTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	return c
}

// Executor runs ToolCalls against a Host's registered Definitions,
// validating arguments, bounding concurrency, enforcing per-call timeouts,
// and retrying per Definition/Host configuration.
type Executor struct {
	host *Host
	cfg  ExecConfig
}

// NewExecutor builds an Executor bound to host.
func NewExecutor(host *Host, cfg ExecConfig) *Executor {
	return &Executor{host: host, cfg: cfg.withDefaults()}
}

// CallResult is one tool call's outcome, tagged with its position in the
// originating batch so callers can re-pair it with convo.ToolCall order.
type CallResult struct {
	Index    int
	Call     convo.ToolCall
	Result   Result
	Started  time.Time
	Finished time.Time
	TimedOut bool
}

// Event is a tool lifecycle notification the Agent Loop forwards to the
// Event Emitter; Executor never emits directly to avoid a dependency on
// internal/events.
type Event struct {
	Stage    string // started|failed|timeout|completed
	ToolName string
	CallID   string
	Attempt  int
	Meta     map[string]any
}

// EventFunc receives lifecycle Events; never blocks execution.
type EventFunc func(Event)

// ExecuteSequentially runs calls one at a time, in order. This is the
// default path: the Agent Loop only switches to ExecuteConcurrently when
// every call in the batch targets a Definition with SideEffectFree=true.
func (e *Executor) ExecuteSequentially(ctx context.Context, calls []convo.ToolCall, emit EventFunc) []CallResult {
	results := make([]CallResult, len(calls))
	for i, call := range calls {
		results[i] = e.runOne(ctx, i, call, emit)
	}
	return results
}

// ExecuteConcurrently runs calls with bounded parallelism, preserving
// result order (results[i] always corresponds to calls[i]) regardless of
// actual completion order, per spec Open Question 1.
func (e *Executor) ExecuteConcurrently(ctx context.Context, calls []convo.ToolCall, emit EventFunc) []CallResult {
	results := make([]CallResult, len(calls))
	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c convo.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = CallResult{
					Index: idx, Call: c,
					Result: Result{Content: "context canceled", IsError: true},
				}
				return
			}
			results[idx] = e.runOne(ctx, idx, c, emit)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Executor) runOne(ctx context.Context, idx int, call convo.ToolCall, emit EventFunc) CallResult {
	def, ok := e.host.Get(call.Name)
	if !ok {
		return CallResult{
			Index: idx, Call: call,
			Result:  Result{Content: "tool not found: " + call.Name, IsError: true},
			Started: time.Now(), Finished: time.Now(),
		}
	}

	if len(call.Name) > MaxToolNameLength || len(call.Arguments) > MaxToolParamsBytes {
		return CallResult{
			Index: idx, Call: call,
			Result:  Result{Content: "tool call exceeds size limits", IsError: true},
			Started: time.Now(), Finished: time.Now(),
		}
	}

	timeout := e.cfg.PerToolTimeout
	if def.Timeout > 0 {
		timeout = def.Timeout
	}
	maxAttempts := e.cfg.MaxAttempts
	if def.MaxAttempts > 0 {
		maxAttempts = def.MaxAttempts
	}
	backoff := e.cfg.RetryBackoff
	if def.RetryBackoff > 0 {
		backoff = def.RetryBackoff
	}

	started := time.Now()
	var result Result
	var timedOut bool

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		emitEvent(emit, Event{Stage: "started", ToolName: call.Name, CallID: call.ID, Attempt: attempt})

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, timedOut = e.runAttempt(attemptCtx, def, call)
		cancel()

		if !result.IsError {
			break
		}
		stage := "failed"
		if timedOut {
			stage = "timeout"
		}
		emitEvent(emit, Event{Stage: stage, ToolName: call.Name, CallID: call.ID, Attempt: attempt})

		if attempt < maxAttempts && backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				result = Result{Content: "tool execution canceled", IsError: true}
				attempt = maxAttempts
			}
		}
	}

	finished := time.Now()
	stage := "completed"
	if timedOut {
		stage = "timeout"
	} else if result.IsError {
		stage = "failed"
	}
	emitEvent(emit, Event{
		Stage: stage, ToolName: call.Name, CallID: call.ID,
		Meta: map[string]any{"duration_ms": finished.Sub(started).Milliseconds()},
	})

	if e.host.guard.active() {
		result = e.host.guard.Apply(call.Name, result)
	}

	return CallResult{Index: idx, Call: call, Result: result, Started: started, Finished: finished, TimedOut: timedOut}
}

func (e *Executor) runAttempt(ctx context.Context, def Definition, call convo.ToolCall) (Result, bool) {
	if err := e.host.Validate(call.Name, json.RawMessage(call.Arguments)); err != nil {
		return Result{Content: err.Error(), IsError: true}, false
	}

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := def.Handler(ctx, json.RawMessage(call.Arguments))
		select {
		case done <- outcome{res, err}:
		default:
		}
	}()

	select {
	case <-ctx.Done():
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		content := "tool execution canceled"
		if timedOut {
			content = fmt.Sprintf("tool %s execution timed out", def.Name)
		}
		return Result{Content: content, IsError: true}, timedOut
	case o := <-done:
		if o.err != nil {
			return Result{Content: o.err.Error(), IsError: true}, false
		}
		if o.result == nil {
			return Result{Content: "", IsError: false}, false
		}
		return *o.result, false
	}
}

func emitEvent(emit EventFunc, ev Event) {
	if emit == nil {
		return
	}
	emit(ev)
}
