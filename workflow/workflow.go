// Package workflow implements the Scheduler / Quiescence Loop (spec
// §4.7): it wires the Bus, State Container, Recording Controller, and
// Agent Registry for a single run, drives the run to quiescence (or
// timeout, or early termination via endWhen), and returns the run result.
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsignal/flowsignal/agent"
	"github.com/flowsignal/flowsignal/bus"
	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/recording"
	"github.com/flowsignal/flowsignal/rterrors"
	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/state"
	"github.com/flowsignal/flowsignal/store"
	"github.com/flowsignal/flowsignal/telemetry"
)

type (
	// RecordingOptions configures the run's Recording Controller. Mode
	// defaults to agent.ModeLive. Record requires Store; Replay requires
	// Store and RecordingID (spec §6 Configuration surface).
	RecordingOptions struct {
		Mode        agent.Mode
		Store       store.Store
		Name        string
		Tags        []string
		RecordingID string
	}

	// Config is the workflow run configuration (spec §6).
	Config struct {
		Agents    map[string]agent.Definition
		State     map[string]any
		Provider  provider.Provider
		Timeout   time.Duration
		EndWhen   func(state map[string]any) bool
		Reducers  map[string]agent.Reducer
		Recording RecordingOptions
		Input     any
		Logger    telemetry.Logger
	}

	// RunMetrics is the metrics sub-record of Result.
	RunMetrics struct {
		DurationMS  int64
		Activations int
	}

	// Result is the run result (spec §6).
	Result struct {
		State           map[string]any
		Signals         []signal.Signal
		Metrics         RunMetrics
		TerminatedEarly bool
		RecordingID     string
		Outcome         telemetry.Outcome
		Err             error
	}
)

// Run executes cfg to quiescence (or timeout, or early termination) and
// returns the result. Configuration and recording-setup errors are returned
// before any signal is emitted; once workflow:start has been emitted, a run
// always emits workflow:end before Run returns, regardless of outcome.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	b := bus.New(logger)
	st := state.New(cfg.State, b)

	rc, err := newController(ctx, cfg.Recording)
	if err != nil {
		return nil, err
	}
	rc.Attach(b)

	tracker := agent.NewTracker()

	var mu sync.Mutex
	terminated := false
	var fatalErr error
	timedOut := false

	var replaySource agent.ReplaySource
	if rc.Mode() == agent.ModeReplay {
		replaySource = rc
	}

	reg := agent.New(b, st, tracker, cfg.Provider, rc.Mode(), replaySource, runID, cfg.Input, logger)
	reg.Terminated = func() bool {
		mu.Lock()
		defer mu.Unlock()
		return terminated
	}
	reg.OnFatal = func(err error) {
		mu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		terminated = true
		mu.Unlock()
		b.Emit(ctx, signal.New("workflow:error", map[string]any{"phase": "execution", "error": err.Error()}, signal.Source{}))
	}
	reg.OnStateChanged = func(fields map[string]any) {
		if cfg.EndWhen == nil {
			return
		}
		mu.Lock()
		already := terminated
		if !already && cfg.EndWhen(fields) {
			terminated = true
		}
		shouldEmit := !already && terminated
		mu.Unlock()
		if shouldEmit {
			b.Emit(ctx, signal.New("workflow:terminating", nil, signal.Source{}))
		}
	}

	for pattern, reducer := range cfg.Reducers {
		reg.RegisterReducer(pattern, reducer)
	}
	for name, def := range cfg.Agents {
		reg.Register(name, def)
	}
	defer reg.Close()

	start := time.Now()
	b.Emit(ctx, signal.New("workflow:start", map[string]any{"state": st.Get()}, signal.Source{}))

	runCtx := ctx
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := awaitQuiescence(runCtx, tracker); err != nil {
		timedOut = true
		mu.Lock()
		if fatalErr == nil {
			fatalErr = &rterrors.TimeoutError{TimeoutMS: cfg.Timeout.Milliseconds()}
		}
		terminated = true
		mu.Unlock()
		b.Emit(ctx, signal.New("workflow:error", map[string]any{"phase": "execution", "error": "TimeoutError"}, signal.Source{}))
	}

	durationMS := time.Since(start).Milliseconds()
	finalState := st.Get()
	b.Emit(ctx, signal.New("workflow:end", map[string]any{
		"durationMs":  durationMS,
		"activations": countActivations(b.History()),
		"state":       finalState,
	}, signal.Source{}))

	if err := rc.Finalize(ctx, durationMS); err != nil {
		mu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		mu.Unlock()
	}

	mu.Lock()
	outcome := classifyOutcome(fatalErr, timedOut, terminated)
	result := &Result{
		State:           finalState,
		Signals:         b.History(),
		Metrics:         RunMetrics{DurationMS: durationMS, Activations: countActivations(b.History())},
		TerminatedEarly: terminated,
		RecordingID:     rc.RecordingID(),
		Outcome:         outcome,
		Err:             fatalErr,
	}
	mu.Unlock()

	return result, nil
}

func newController(ctx context.Context, opts RecordingOptions) (*recording.Controller, error) {
	switch opts.Mode {
	case agent.ModeRecord:
		return recording.NewRecord(ctx, opts.Store, store.Meta{Name: opts.Name, Tags: opts.Tags})
	case agent.ModeReplay:
		return recording.NewReplay(ctx, opts.Store, opts.RecordingID)
	default:
		return recording.NewLive(), nil
	}
}

func validateConfig(cfg Config) error {
	if len(cfg.Agents) == 0 {
		return rterrors.NewConfigError("at least one agent is required", nil)
	}
	for name, def := range cfg.Agents {
		if len(def.ActivateOn) == 0 {
			return rterrors.NewConfigError("agent \""+name+"\" must declare at least one activation pattern", nil)
		}
	}
	if err := agent.ValidateUpdates(cfg.Agents, cfg.State); err != nil {
		return err
	}
	switch cfg.Recording.Mode {
	case agent.ModeRecord:
		if cfg.Recording.Store == nil {
			return rterrors.NewConfigError("recording mode \"record\" requires a store", nil)
		}
	case agent.ModeReplay:
		if cfg.Recording.Store == nil || cfg.Recording.RecordingID == "" {
			return rterrors.NewConfigError("recording mode \"replay\" requires a store and a recordingId", nil)
		}
	}
	return nil
}

// awaitQuiescence loops snapshotting the tracker until it is idle, per
// spec §4.7 step 7: activations may chain, so a single wait is not
// sufficient.
func awaitQuiescence(ctx context.Context, tracker *agent.Tracker) error {
	for {
		idle, pending := tracker.Snapshot()
		if pending == 0 {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func countActivations(history []signal.Signal) int {
	n := 0
	for _, sig := range history {
		if sig.Name == "agent:activated" {
			n++
		}
	}
	return n
}

func classifyOutcome(fatalErr error, timedOut, terminated bool) telemetry.Outcome {
	switch {
	case timedOut:
		return telemetry.OutcomeTimeout
	case fatalErr != nil:
		return telemetry.OutcomeError
	case terminated:
		return telemetry.OutcomeTerminated
	default:
		return telemetry.OutcomeSuccess
	}
}
