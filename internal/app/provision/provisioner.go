// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fnichol/iocage-provision/internal/executor"
	"github.com/fnichol/iocage-provision/internal/hostuser"
	"github.com/fnichol/iocage-provision/internal/jail"
	"github.com/fnichol/iocage-provision/internal/netaddr"
	"github.com/fnichol/iocage-provision/internal/plan"
	"github.com/fnichol/iocage-provision/internal/release"
)

type (
	// ReleaseResolver returns the base release for a request.
	ReleaseResolver interface {
		Resolve(override string) (release.Release, error)
	}

	// UserLookup reads a host account. It must not change host state.
	UserLookup interface {
		Lookup(username string) (*hostuser.Record, error)
	}

	// Planner turns a spec into steps.
	Planner interface {
		Build(spec jail.Spec) (*plan.Plan, error)
		DestroyStep(name jail.Name) plan.Step
	}

	// StepExecutor runs one step and blocks until it finishes.
	StepExecutor interface {
		Execute(ctx context.Context, step plan.Step) executor.StepOutcome
	}

	// PreflightFunc checks the host before any step runs.
	PreflightFunc func(ctx context.Context) error

	// Observer is notified as a run progresses. Calls happen on the
	// goroutine running Provision.
	Observer interface {
		StateChanged(from, to State)
		StepStarted(index, total int, step plan.Step)
		StepFinished(index, total int, outcome executor.StepOutcome)
	}

	// Result is the record of a run. On failure it holds everything that was
	// reached before the failure.
	Result struct {
		RunID    string
		State    State
		Spec     jail.Spec
		Plan     *plan.Plan
		Outcomes []executor.StepOutcome
		Cleanup  *executor.StepOutcome
		Summary  jail.Summary
	}

	// Option configures a Provisioner.
	Option func(*Provisioner)

	// Provisioner runs provisioning requests. A Provisioner holds no
	// per-run state and runs one request at a time per call.
	Provisioner struct {
		releases  ReleaseResolver
		users     UserLookup
		planner   Planner
		executor  StepExecutor
		policy    jail.FailurePolicy
		preflight []PreflightFunc
		observers []Observer
		newRunID  func() string
		logger    *slog.Logger
	}

	// run carries the state of a single Provision call.
	run struct {
		p      *Provisioner
		result *Result
	}
)

// WithFailurePolicy sets what happens to the jail after a failed step.
func WithFailurePolicy(policy jail.FailurePolicy) Option {
	return func(p *Provisioner) {
		p.policy = policy
	}
}

// WithPreflight adds a check that runs after planning and before the first
// step. Its error fails the run with ClassPrecondition.
func WithPreflight(fn PreflightFunc) Option {
	return func(p *Provisioner) {
		p.preflight = append(p.preflight, fn)
	}
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(p *Provisioner) {
		p.observers = append(p.observers, o)
	}
}

// WithRunID replaces the run id generator.
func WithRunID(fn func() string) Option {
	return func(p *Provisioner) {
		p.newRunID = fn
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// New creates a Provisioner from its collaborators.
func New(releases ReleaseResolver, users UserLookup, planner Planner, exec StepExecutor, opts ...Option) *Provisioner {
	p := &Provisioner{
		releases: releases,
		users:    users,
		planner:  planner,
		executor: exec,
		policy:   jail.KeepOnFailure,
		newRunID: uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan validates, resolves and plans req without running anything. The
// returned Result is in StatePlanning and has no outcomes.
func (p *Provisioner) Plan(req jail.Request) (*Result, error) {
	r := p.newRun()
	if err := r.prepare(req); err != nil {
		return r.result, err
	}
	return r.result, nil
}

// Provision runs req to completion or to the first failing step. The
// Result is never nil. The error, if any, is an *Error.
func (p *Provisioner) Provision(ctx context.Context, req jail.Request) (*Result, error) {
	r := p.newRun()
	if err := r.prepare(req); err != nil {
		return r.result, err
	}

	for _, check := range p.preflight {
		if err := check(ctx); err != nil {
			return r.result, r.fail(&Error{Class: ClassPrecondition, Stage: StatePlanning, Cause: err})
		}
	}
	r.advance(EventPlanned)

	return r.result, r.execute(ctx)
}

func (p *Provisioner) newRun() *run {
	return &run{
		p:      p,
		result: &Result{RunID: p.newRunID(), State: StateValidating},
	}
}

// prepare runs the side-effect-free stages and leaves the run in StatePlanning.
func (r *run) prepare(req jail.Request) error {
	log := r.p.logger.With("run_id", r.result.RunID, "jail", req.Name.String())

	log.Info("validating request")
	if err := req.Validate(); err != nil {
		return r.fail(&Error{Class: ClassValidation, Stage: StateValidating, Cause: err})
	}
	r.advance(EventValidated)

	log.Info("resolving defaults")
	spec, err := r.resolve(req)
	if err != nil {
		return r.fail(&Error{Class: ClassValidation, Stage: StateResolving, Cause: err})
	}
	r.result.Spec = spec
	log.Info("resolved",
		"address", spec.Address,
		"gateway", spec.Gateway,
		"release", spec.Release,
		"ssh", spec.SSH,
		"user", req.User)
	r.advance(EventResolved)

	log.Info("planning")
	if err := spec.Validate(); err != nil {
		return r.fail(&Error{Class: ClassInternal, Stage: StatePlanning, Cause: err})
	}
	pl, err := r.p.planner.Build(spec)
	if err != nil {
		return r.fail(&Error{Class: ClassInternal, Stage: StatePlanning, Cause: err})
	}
	r.result.Plan = pl
	log.Debug("plan built", "steps", pl.Len())
	return nil
}

func (r *run) resolve(req jail.Request) (jail.Spec, error) {
	addr, err := netaddr.Resolve(req.Address, req.Gateway)
	if err != nil {
		return jail.Spec{}, err
	}
	if !addr.GatewayOverridden {
		r.p.logger.Debug("computed default gateway", "gateway", addr.Gateway)
	}

	rel, err := r.p.releases.Resolve(req.Release)
	if err != nil {
		return jail.Spec{}, err
	}

	spec := jail.Spec{
		Name:    req.Name,
		Address: addr.Address,
		Gateway: addr.Gateway,
		Release: rel,
		SSH:     req.SSH,
		Thick:   req.Thick,
	}
	if req.User != "" {
		rec, err := r.p.users.Lookup(req.User)
		if err != nil {
			return jail.Spec{}, err
		}
		spec.User = rec
	}
	return spec, nil
}

// execute runs the plan and, on failure, the cleanup step. Once the first
// step starts the run is not cancellable: ctx keeps its values but loses its
// cancellation, so an interrupt cannot kill a step halfway or stop cleanup.
func (r *run) execute(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	steps := r.result.Plan.Steps()
	total := len(steps)
	log := r.p.logger.With("run_id", r.result.RunID, "jail", r.result.Spec.Name.String())
	log.Info("executing plan", "steps", total)

	for i, step := range steps {
		index := i + 1
		log.Info(step.Description, "step", fmt.Sprintf("%d/%d", index, total))
		for _, o := range r.p.observers {
			o.StepStarted(index, total, step)
		}

		outcome := r.p.executor.Execute(ctx, step)
		r.result.Outcomes = append(r.result.Outcomes, outcome)
		for _, o := range r.p.observers {
			o.StepFinished(index, total, outcome)
		}

		if !outcome.Succeeded() {
			perr := &Error{
				Class:     ClassExecution,
				Stage:     StateExecuting,
				Step:      index,
				Total:     total,
				Outcome:   &r.result.Outcomes[i],
				Completed: r.result.Outcomes[:i:i],
				Cause:     outcome.Err(),
			}
			perr.Cleanup = r.cleanup(ctx)
			r.result.Cleanup = perr.Cleanup
			return r.fail(perr)
		}
	}

	r.result.Summary = r.result.Spec.Summarize(r.result.RunID)
	r.advance(EventCompleted)
	log.Info("jail provisioned")
	return nil
}

// cleanup destroys the jail when the policy asks for it and the jail exists.
func (r *run) cleanup(ctx context.Context) *executor.StepOutcome {
	if r.p.policy != jail.DestroyOnFailure || !r.created() {
		return nil
	}
	step := r.p.planner.DestroyStep(r.result.Spec.Name)
	r.p.logger.Warn("destroying partially provisioned jail", "jail", r.result.Spec.Name.String())
	outcome := r.p.executor.Execute(ctx, step)
	if !outcome.Succeeded() {
		r.p.logger.Error("cleanup failed", "error", outcome.Err())
	}
	return &outcome
}

func (r *run) created() bool {
	for _, o := range r.result.Outcomes {
		if o.Step.Kind == plan.KindCreateJail && o.Succeeded() {
			return true
		}
	}
	return false
}

func (r *run) advance(event Event) {
	from := r.result.State
	to, err := Transition(from, event)
	if err != nil {
		panic(err)
	}
	r.result.State = to
	for _, o := range r.p.observers {
		o.StateChanged(from, to)
	}
}

func (r *run) fail(err *Error) error {
	r.advance(EventFailed)
	return err
}
