// Package orchestrator sequences the research loop into the execution loop.
// It makes no decisions of its own: it hands the plan from one phase to the
// other through a checkpoint, and can pick a run up again from any
// checkpoint.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/martinemde/planwright/architect"
	"github.com/martinemde/planwright/developer"
	"github.com/martinemde/planwright/events"
	"github.com/martinemde/planwright/explore"
	"github.com/martinemde/planwright/llm"
	"github.com/martinemde/planwright/logging"
	"github.com/martinemde/planwright/plan"
	"github.com/martinemde/planwright/runstate"
	"github.com/martinemde/planwright/workspace"
)

// Orchestrator runs both phases against one workspace.
type Orchestrator struct {
	architect *architect.Architect
	developer *developer.Developer
	store     runstate.Store
	emitter   *events.Emitter
	logger    *logging.Logger
}

type options struct {
	store     runstate.Store
	emitter   *events.Emitter
	logger    *logging.Logger
	architect architect.Config
	developer developer.Config
	explore   *explore.Config
}

type Option func(*options)

// WithStore checkpoints runs into store. The default is a MemoryStore.
func WithStore(store runstate.Store) Option {
	return func(o *options) { o.store = store }
}

func WithEmitter(em *events.Emitter) Option {
	return func(o *options) { o.emitter = em }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithArchitectConfig(cfg architect.Config) Option {
	return func(o *options) { o.architect = cfg }
}

func WithDeveloperConfig(cfg developer.Config) Option {
	return func(o *options) { o.developer = cfg }
}

// WithExploreConfig tunes the tool loop of both phases.
func WithExploreConfig(cfg explore.Config) Option {
	return func(o *options) { o.explore = &cfg }
}

func New(client llm.Completer, ws workspace.Workspace, opts ...Option) *Orchestrator {
	o := &options{
		logger:    logging.NopLogger(),
		architect: architect.DefaultConfig(),
		developer: developer.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = runstate.NewMemoryStore()
	}
	cp := runstate.StoreCheckpointer(o.store)

	archOpts := []architect.Option{
		architect.WithConfig(o.architect),
		architect.WithCheckpointer(cp),
		architect.WithEmitter(o.emitter),
		architect.WithLogger(o.logger),
	}
	devOpts := []developer.Option{
		developer.WithConfig(o.developer),
		developer.WithCheckpointer(cp),
		developer.WithEmitter(o.emitter),
		developer.WithLogger(o.logger),
	}
	if o.explore != nil {
		archOpts = append(archOpts, architect.WithExploreConfig(*o.explore))
		devOpts = append(devOpts, developer.WithExploreConfig(*o.explore))
	}

	return &Orchestrator{
		architect: architect.New(client, ws, archOpts...),
		developer: developer.New(client, ws, devOpts...),
		store:     o.store,
		emitter:   o.emitter,
		logger:    o.logger,
	}
}

// ResearchResult is the output of RunResearch. The run is left checkpointed
// in the execution phase, so Resume carries it on to execution.
type ResearchResult struct {
	RunID      string
	Plan       *plan.ImplementationPlan
	Summary    string
	Degraded   bool
	Reason     string
	Hypotheses []runstate.HypothesisRecord
}

// ExecutionResult is the output of RunExecution.
type ExecutionResult struct {
	RunID        string
	Diffs        []plan.AppliedDiff
	MutatedFiles []string
	Failures     []runstate.FailureRecord
}

// FullResult is the output of RunFull and Resume.
type FullResult struct {
	RunID        string
	Phase        runstate.Phase
	Plan         *plan.ImplementationPlan
	Summary      string
	Degraded     bool
	Diffs        []plan.AppliedDiff
	MutatedFiles []string
	Failures     []runstate.FailureRecord
}

// RunResearch runs the research loop for request and returns its plan.
func (o *Orchestrator) RunResearch(ctx context.Context, request string) (*ResearchResult, error) {
	st := runstate.New(request)
	if err := o.start(ctx, st); err != nil {
		return nil, err
	}
	if err := o.research(ctx, st); err != nil {
		o.finish(st, err)
		return nil, err
	}
	o.finish(st, nil)
	return researchResult(st), nil
}

// RunExecution runs the execution loop over p.
func (o *Orchestrator) RunExecution(ctx context.Context, p *plan.ImplementationPlan) (*ExecutionResult, error) {
	st := runstate.NewExecution(p)
	if err := p.Validate(); err != nil {
		return nil, &runstate.RunError{State: st, Err: err}
	}
	if err := o.start(ctx, st); err != nil {
		return nil, err
	}
	err := o.execute(ctx, st)
	o.finish(st, err)
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{
		RunID:        st.ID,
		Diffs:        st.Diffs,
		MutatedFiles: st.MutatedFiles(),
		Failures:     st.Failures,
	}, nil
}

// RunFull researches request and executes the resulting plan.
func (o *Orchestrator) RunFull(ctx context.Context, request string) (*FullResult, error) {
	st := runstate.New(request)
	if err := o.start(ctx, st); err != nil {
		return nil, err
	}
	err := o.continueRun(ctx, st)
	o.finish(st, err)
	if err != nil {
		return nil, err
	}
	return fullResult(st), nil
}

// Resume loads a checkpointed run and carries it to completion. A failed
// run is retried from the step that failed.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*FullResult, error) {
	st, err := o.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.Phase == runstate.PhaseDone {
		return fullResult(st), nil
	}
	reopen(st)

	o.emitter.Bind(st.ID)
	o.emitter.Emit(events.RunStart, map[string]interface{}{"resumed": true, "phase": string(st.Phase)})
	o.logger.WithRun(st.ID).Info("resuming run", "phase", st.Phase)

	err = o.continueRun(ctx, st)
	o.finish(st, err)
	if err != nil {
		return nil, err
	}
	return fullResult(st), nil
}

// Runs lists checkpointed runs, newest first.
func (o *Orchestrator) Runs(ctx context.Context) ([]runstate.Summary, error) {
	return o.store.List(ctx)
}

// Load returns a checkpointed run.
func (o *Orchestrator) Load(ctx context.Context, runID string) (*runstate.RunState, error) {
	return o.store.Load(ctx, runID)
}

func (o *Orchestrator) start(ctx context.Context, st *runstate.RunState) error {
	o.emitter.Bind(st.ID)
	if err := o.store.Save(ctx, st); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	o.emitter.Emit(events.RunStart, map[string]interface{}{"phase": string(st.Phase)})
	o.logger.WithRun(st.ID).Info("run started", "phase", st.Phase)
	return nil
}

func (o *Orchestrator) continueRun(ctx context.Context, st *runstate.RunState) error {
	if st.Phase == runstate.PhaseResearch {
		if err := o.research(ctx, st); err != nil {
			return err
		}
	}
	return o.execute(ctx, st)
}

// research runs the research loop and hands its plan to execution.
func (o *Orchestrator) research(ctx context.Context, st *runstate.RunState) error {
	o.emitter.Emit(events.PhaseStart, map[string]interface{}{"phase": string(runstate.PhaseResearch)})
	res, err := o.architect.Run(ctx, st)
	if err != nil {
		return err
	}
	o.emitter.Emit(events.PhaseEnd, map[string]interface{}{
		"phase":    string(runstate.PhaseResearch),
		"tasks":    len(res.Plan.Tasks),
		"degraded": res.Degraded,
	})
	return o.handoff(ctx, st)
}

// handoff seeds the execution phase with the plan at cursor (0, 0) and
// checkpoints. This checkpoint is where a research-only run stops.
func (o *Orchestrator) handoff(ctx context.Context, st *runstate.RunState) error {
	st.Phase = runstate.PhaseExecution
	st.SetCursor(plan.Cursor{})
	st.Execution = runstate.ExecutionState{}
	st.LastDiff = nil
	st.FileSnapshot = nil
	if err := o.store.Save(context.WithoutCancel(ctx), st); err != nil {
		return &runstate.RunError{State: st, Err: fmt.Errorf("checkpoint plan: %w", err)}
	}
	o.emitter.Emit(events.Checkpoint, map[string]interface{}{"phase": "handoff"})
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, st *runstate.RunState) error {
	o.emitter.Emit(events.PhaseStart, map[string]interface{}{"phase": string(runstate.PhaseExecution)})
	res, err := o.developer.Run(ctx, st)
	if err != nil {
		return err
	}
	st.Phase = runstate.PhaseDone
	if err := o.store.Save(context.WithoutCancel(ctx), st); err != nil {
		return &runstate.RunError{State: st, Err: fmt.Errorf("checkpoint completed run: %w", err)}
	}
	o.emitter.Emit(events.PhaseEnd, map[string]interface{}{
		"phase": string(runstate.PhaseExecution),
		"diffs": len(res.Diffs),
		"files": len(res.MutatedFiles),
	})
	return nil
}

func (o *Orchestrator) finish(st *runstate.RunState, err error) {
	data := map[string]interface{}{"phase": string(st.Phase)}
	logger := o.logger.WithRun(st.ID)
	if err != nil {
		data["error"] = err.Error()
		logger.Error("run stopped", "phase", st.Phase, "error", err)
	} else {
		logger.Info("run finished", "phase", st.Phase, "diffs", len(st.Diffs))
	}
	o.emitter.Emit(events.RunEnd, data)
}

// reopen puts a failed run back at the step that failed.
func reopen(st *runstate.RunState) {
	if st.Phase != runstate.PhaseFailed {
		return
	}
	st.Error = ""
	switch {
	case st.Research.State == string(architect.StateFailed):
		st.Phase = runstate.PhaseResearch
		st.Research.State = st.Research.FailedAt
		st.Research.FailedAt = ""
	case st.Execution.State == string(developer.StateFailed):
		st.Phase = runstate.PhaseExecution
		// SELECT restarts the failed atomic task with a fresh attempt count.
		st.Execution.State = string(developer.StateSelect)
		st.Execution.FailedAt = ""
	default:
		st.Phase = runstate.PhaseExecution
	}
}

func researchResult(st *runstate.RunState) *ResearchResult {
	return &ResearchResult{
		RunID:      st.ID,
		Plan:       st.Plan,
		Summary:    st.ResearchSummary,
		Degraded:   st.Research.Degraded,
		Reason:     st.Research.Reason,
		Hypotheses: st.Research.Hypotheses,
	}
}

func fullResult(st *runstate.RunState) *FullResult {
	return &FullResult{
		RunID:        st.ID,
		Phase:        st.Phase,
		Plan:         st.Plan,
		Summary:      st.ResearchSummary,
		Degraded:     st.Research.Degraded,
		Diffs:        st.Diffs,
		MutatedFiles: st.MutatedFiles(),
		Failures:     st.Failures,
	}
}
