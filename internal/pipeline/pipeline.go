package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jorge-barreto/patchr/internal/gate"
	"github.com/jorge-barreto/patchr/internal/metrics"
	"github.com/jorge-barreto/patchr/internal/phase"
	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

var tracer = otel.Tracer("github.com/jorge-barreto/patchr/internal/pipeline")

const (
	DefaultMaxAttempts  = 4
	DefaultPhaseTimeout = 5 * time.Minute
)

// Options are the recognized orchestration settings.
type Options struct {
	MaxAttempts    int
	PhaseTimeout   time.Duration
	NonDestructive bool
}

// DefaultOptions returns maxAttempts 4, a five minute phase timeout and
// non-destructive writes.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    DefaultMaxAttempts,
		PhaseTimeout:   DefaultPhaseTimeout,
		NonDestructive: true,
	}
}

// Validator classifies a patch. *gate.Gate is the production implementation.
type Validator interface {
	Check(ctx context.Context, in gate.Input) (*state.Verdict, error)
}

// Phases is the fixed phase graph.
type Phases struct {
	Extract   phase.Phase
	Recall    phase.Phase
	Decompose phase.Phase
	Generate  phase.Phase
	Recap     phase.Phase
}

// Orchestrator drives one run at a time through the phase graph. It keeps no
// per-run state, so one Orchestrator may serve concurrent runs.
type Orchestrator struct {
	Phases   Phases
	Gate     Validator
	Options  Options
	Logger   *zap.Logger
	Observer Observer
}

// New returns an orchestrator with the given phases and gate.
func New(phases Phases, g Validator, opts Options, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{Phases: phases, Gate: g, Options: opts, Logger: logger}
}

// Success is the terminal outcome of a run whose patch passed the gate.
type Success struct {
	Board *state.Blackboard
	Recap string
	Patch *state.Patch
}

// Failure is the terminal outcome of a run that stopped early.
type Failure struct {
	Kind        state.Kind
	Phase       string
	Attempt     int
	Diagnostic  string
	Diagnostics []string
	Board       *state.Blackboard
	Err         error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s at %s (attempt %d): %s", f.Kind, f.Phase, f.Attempt+1, f.Diagnostic)
}

func (f *Failure) Unwrap() error { return f.Err }

// Run executes the pipeline for a new blackboard.
func (o *Orchestrator) Run(ctx context.Context, runID, instruction string, tree scan.Tree) (*Success, error) {
	return o.RunBoard(ctx, state.New(runID, instruction, tree))
}

// RunBoard executes the pipeline on a freshly created blackboard. It returns
// exactly one of *Success or *Failure.
func (o *Orchestrator) RunBoard(ctx context.Context, b *state.Blackboard) (*Success, error) {
	opts := o.options()
	log := o.logger().With(zap.String("run_id", b.RunID))

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("run_id", b.RunID),
		attribute.Int("max_attempts", opts.MaxAttempts),
	))
	defer span.End()

	fail := func(kind state.Kind, at string, diag string, err error) (*Success, error) {
		f := &Failure{
			Kind:        kind,
			Phase:       at,
			Attempt:     b.Attempt,
			Diagnostic:  diag,
			Diagnostics: b.Diagnostics,
			Board:       b,
			Err:         err,
		}
		span.SetStatus(codes.Error, f.Error())
		metrics.RunsTotal.WithLabelValues(string(kind)).Inc()
		metrics.Generations.Observe(float64(b.Generations()))
		log.Error("run failed",
			zap.String("kind", string(kind)),
			zap.String("phase", at),
			zap.Int("attempt", b.Attempt),
			zap.String("diagnostic", diag))
		return nil, f
	}

	if strings.TrimSpace(b.Instruction) == "" {
		return fail(state.KindPrecondition, "INIT", "instruction is empty", nil)
	}
	log.Info("run started", zap.Int("files", len(b.Tree)), zap.Int("max_attempts", opts.MaxAttempts))

	for _, p := range []phase.Phase{o.Phases.Extract, o.Phases.Recall, o.Phases.Decompose} {
		if res := o.call(ctx, log, b, p); res.err != nil {
			return fail(res.kind(state.KindPhaseFailed), p.Name(), res.err.Error(), res.err)
		}
	}

	if len(b.Tasks) == 0 {
		return fail(state.KindPrecondition, state.PhaseGenerate, "task list is empty", nil)
	}

	nonDestructive := opts.NonDestructive || (b.Constraints != nil && b.Constraints.NonDestructive)
	for {
		res := o.call(ctx, log, b, o.Phases.Generate)
		if res.err != nil {
			if res.fatal || (res.outcome != state.OutcomeTimeout && !phase.IsRetryable(res.err)) {
				return fail(res.kind(state.KindPhaseFailed), state.PhaseGenerate, res.err.Error(), res.err)
			}
			diag := fmt.Sprintf("generation attempt %d failed: %v", b.Attempt+1, res.err)
			if !o.retry(log, b, opts, diag) {
				return fail(state.KindValidationExhausted, state.PhaseGenerate, diag, res.err)
			}
			continue
		}

		v, err := o.validate(ctx, log, b, opts, nonDestructive)
		if err != nil {
			kind := state.KindPhaseFailed
			switch {
			case ctx.Err() != nil:
				kind = state.KindCanceled
			case errors.Is(err, context.DeadlineExceeded):
				kind = state.KindTimeout
			}
			return fail(kind, state.PhaseValidate, err.Error(), err)
		}
		switch v.Status {
		case state.Pass:
		case state.NeedsFix:
			if !o.retry(log, b, opts, v.Feedback()) {
				return fail(state.KindValidationExhausted, state.PhaseValidate, v.Diagnostic, nil)
			}
			continue
		default:
			return fail(v.Kind, state.PhaseValidate, v.Diagnostic, nil)
		}
		break
	}

	if res := o.call(ctx, log, b, o.Phases.Recap); res.err != nil {
		return fail(res.kind(state.KindPhaseFailed), state.PhaseRecap, res.err.Error(), res.err)
	}

	span.SetStatus(codes.Ok, "")
	metrics.RunsTotal.WithLabelValues("success").Inc()
	metrics.Generations.Observe(float64(b.Generations()))
	log.Info("run complete", zap.Int("attempt", b.Attempt), zap.Int("generations", b.Generations()))
	return &Success{Board: b, Recap: b.Recap, Patch: b.Patch}, nil
}

// retry records a NEEDS_FIX diagnostic and reports whether another attempt is allowed.
func (o *Orchestrator) retry(log *zap.Logger, b *state.Blackboard, opts Options, diag string) bool {
	b.Diagnostics = append(b.Diagnostics, diag)
	if b.Attempt+1 >= opts.MaxAttempts {
		log.Warn("attempts exhausted", zap.Int("max_attempts", opts.MaxAttempts))
		return false
	}
	b.Attempt++
	log.Info("looping back to generate", zap.Int("attempt", b.Attempt), zap.String("diagnostic", diag))
	o.observer().LoopBack(b.Attempt, opts.MaxAttempts, diag)
	return true
}

// callResult is the outcome of one phase invocation.
type callResult struct {
	outcome string
	err     error
	fatal   bool       // the failure cannot be retried even for GENERATE
	fixed   state.Kind // set when the failure kind is already known
}

func (r callResult) kind(def state.Kind) state.Kind {
	if r.fixed != "" {
		return r.fixed
	}
	if r.outcome == state.OutcomeTimeout {
		return state.KindTimeout
	}
	return def
}

// call runs one phase under the phase timeout and merges its delta.
func (o *Orchestrator) call(ctx context.Context, log *zap.Logger, b *state.Blackboard, p phase.Phase) callResult {
	name := p.Name()
	if err := ctx.Err(); err != nil {
		return callResult{outcome: state.OutcomeFailed, err: err, fatal: true, fixed: state.KindCanceled}
	}

	pctx, cancel := context.WithTimeout(ctx, o.options().PhaseTimeout)
	defer cancel()
	pctx, span := tracer.Start(pctx, "phase."+name, trace.WithAttributes(
		attribute.Int("attempt", b.Attempt),
	))
	defer span.End()

	o.observer().PhaseStart(name, b.Attempt)
	start := time.Now()
	delta, err := p.Run(pctx, b)
	dur := time.Since(start)

	res := callResult{outcome: state.OutcomeOK}
	switch {
	case err != nil && ctx.Err() != nil:
		res = callResult{outcome: state.OutcomeFailed, err: err, fatal: true, fixed: state.KindCanceled}
	case ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded):
		// An overrun counts even when the phase ignored ctx and returned a delta.
		cause := err
		if cause == nil {
			cause = context.DeadlineExceeded
		}
		res = callResult{outcome: state.OutcomeTimeout, err: fmt.Errorf("timed out after %s: %w", o.options().PhaseTimeout, cause)}
	case err != nil:
		res = callResult{outcome: state.OutcomeFailed, err: err}
	default:
		if aerr := b.Apply(delta); aerr != nil {
			res = callResult{outcome: state.OutcomeFailed, err: aerr, fatal: true, fixed: state.KindPrecondition}
		}
	}

	detail := ""
	if res.err != nil {
		detail = res.err.Error()
		span.RecordError(res.err)
		span.SetStatus(codes.Error, detail)
	}
	b.Record(state.HistoryEntry{
		Phase:    name,
		Time:     start,
		Duration: dur,
		Outcome:  res.outcome,
		Attempt:  b.Attempt,
		Detail:   detail,
	})
	metrics.PhaseDuration.WithLabelValues(name, res.outcome).Observe(dur.Seconds())
	o.observer().PhaseEnd(name, res.outcome, dur, detail)
	if res.err != nil {
		log.Warn("phase failed", zap.String("phase", name), zap.String("outcome", res.outcome),
			zap.Int("attempt", b.Attempt), zap.Error(res.err))
	} else {
		log.Debug("phase complete", zap.String("phase", name), zap.Int("attempt", b.Attempt), zap.Duration("duration", dur))
	}
	return res
}

// validate runs the gate on the current patch under the phase timeout.
func (o *Orchestrator) validate(ctx context.Context, log *zap.Logger, b *state.Blackboard, opts Options, nonDestructive bool) (*state.Verdict, error) {
	gctx, cancel := context.WithTimeout(ctx, opts.PhaseTimeout)
	defer cancel()

	o.observer().PhaseStart(state.PhaseValidate, b.Attempt)
	start := time.Now()
	var files []state.File
	if b.Patch != nil {
		files = b.Patch.Files
	}
	v, err := o.Gate.Check(gctx, gate.Input{
		Files:          files,
		Tree:           b.Tree,
		Tasks:          b.Tasks,
		NonDestructive: nonDestructive,
	})
	dur := time.Since(start)
	timedOut := errors.Is(gctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	switch {
	case timedOut:
		v, err = nil, fmt.Errorf("gate timed out after %s: %w", opts.PhaseTimeout, context.DeadlineExceeded)
	case err == nil && v == nil:
		err = errors.New("gate returned no verdict")
	}

	entry := state.HistoryEntry{Phase: state.PhaseValidate, Time: start, Duration: dur, Attempt: b.Attempt}
	if err != nil {
		entry.Outcome = state.OutcomeFailed
		if timedOut {
			entry.Outcome = state.OutcomeTimeout
		}
		entry.Detail = err.Error()
	} else {
		b.Verdict = v
		entry.Outcome = v.Status
		entry.Detail = v.Diagnostic
		metrics.GateVerdicts.WithLabelValues(v.Status).Inc()
	}
	b.Record(entry)
	metrics.PhaseDuration.WithLabelValues(state.PhaseValidate, entry.Outcome).Observe(dur.Seconds())
	o.observer().PhaseEnd(state.PhaseValidate, entry.Outcome, dur, entry.Detail)
	log.Info("gate verdict", zap.String("outcome", entry.Outcome), zap.Int("attempt", b.Attempt))
	return v, err
}

func (o *Orchestrator) options() Options {
	opts := o.Options
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.PhaseTimeout <= 0 {
		opts.PhaseTimeout = DefaultPhaseTimeout
	}
	return opts
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Orchestrator) observer() Observer {
	if o.Observer == nil {
		return nopObserver{}
	}
	return o.Observer
}
