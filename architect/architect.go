// Package architect implements the research loop. It forms hypotheses about
// the code base, has each one judged, investigates the accepted ones with
// read-only tools, and finally extracts an implementation plan.
//
// The loop always terminates: consecutive rejections are capped by
// MaxHypothesisRejections and accepted hypotheses by MaxResearchCycles.
// Hitting either ceiling forces plan extraction with whatever has been
// learned, and the result is marked degraded.
package architect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/planwright/events"
	"github.com/martinemde/planwright/explore"
	"github.com/martinemde/planwright/failure"
	"github.com/martinemde/planwright/history"
	"github.com/martinemde/planwright/llm"
	"github.com/martinemde/planwright/logging"
	"github.com/martinemde/planwright/plan"
	"github.com/martinemde/planwright/prompt"
	"github.com/martinemde/planwright/runstate"
	"github.com/martinemde/planwright/telemetry"
	"github.com/martinemde/planwright/workspace"
)

// State is a research loop state.
type State string

const (
	StateFormulate   State = "FORMULATE_HYPOTHESIS"
	StateValidate    State = "VALIDATE_HYPOTHESIS"
	StateResearch    State = "RESEARCH"
	StateExtractPlan State = "EXTRACT_PLAN"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

const (
	DefaultMaxHypothesisRejections = 3
	DefaultMaxResearchCycles       = 8
	DefaultToolRounds              = 12
)

// Config bounds the loop.
type Config struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	// MaxHypothesisRejections is the number of consecutive rejections that
	// forces plan extraction.
	MaxHypothesisRejections int
	// MaxResearchCycles caps accepted hypotheses over the whole phase.
	MaxResearchCycles int
	// ToolRounds caps tool rounds within one RESEARCH step.
	ToolRounds int
}

func DefaultConfig() Config {
	return Config{
		MaxHypothesisRejections: DefaultMaxHypothesisRejections,
		MaxResearchCycles:       DefaultMaxResearchCycles,
		ToolRounds:              DefaultToolRounds,
	}
}

// Architect holds what every research session shares.
type Architect struct {
	client       llm.Completer
	ws           workspace.Workspace
	emitter      *events.Emitter
	logger       *logging.Logger
	checkpointer runstate.Checkpointer
	explore      explore.Config
	cfg          Config
}

type Option func(*Architect)

func WithEmitter(em *events.Emitter) Option {
	return func(a *Architect) { a.emitter = em }
}

func WithLogger(l *logging.Logger) Option {
	return func(a *Architect) { a.logger = l }
}

// WithCheckpointer persists the run state after every step.
func WithCheckpointer(c runstate.Checkpointer) Option {
	return func(a *Architect) { a.checkpointer = c }
}

func WithConfig(cfg Config) Option {
	return func(a *Architect) { a.cfg = cfg }
}

// WithExploreConfig tunes the tool loop used by RESEARCH.
func WithExploreConfig(cfg explore.Config) Option {
	return func(a *Architect) { a.explore = cfg }
}

func New(client llm.Completer, ws workspace.Workspace, opts ...Option) *Architect {
	a := &Architect{
		client:  client,
		ws:      ws,
		logger:  logging.NopLogger(),
		explore: explore.DefaultConfig(),
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cfg.MaxHypothesisRejections <= 0 {
		a.cfg.MaxHypothesisRejections = DefaultMaxHypothesisRejections
	}
	if a.cfg.MaxResearchCycles <= 0 {
		a.cfg.MaxResearchCycles = DefaultMaxResearchCycles
	}
	if a.cfg.ToolRounds <= 0 {
		a.cfg.ToolRounds = DefaultToolRounds
	}
	if a.explore.Model == "" {
		a.explore.Model = a.cfg.Model
	}
	if a.explore.Temperature == nil {
		a.explore.Temperature = a.cfg.Temperature
	}
	return a
}

// Result is the outcome of a completed research phase.
type Result struct {
	Plan       *plan.ImplementationPlan
	Summary    string
	Hypotheses []runstate.HypothesisRecord
	Degraded   bool
	Reason     string
	History    []history.Entry
	// Snapshots maps every file read during research to its content hash.
	Snapshots map[string]string
	Usage     llm.Usage
}

// Run drives a session over st to a terminal state.
func (a *Architect) Run(ctx context.Context, st *runstate.RunState) (*Result, error) {
	return a.Session(st).Run(ctx)
}

// Session is one run's research loop. It owns st until Run returns.
type Session struct {
	arch     *Architect
	st       *runstate.RunState
	history  *history.Accumulating
	recorder *workspace.Recorder
	explorer *explore.Explorer
	logger   *logging.Logger
	env      prompt.Environment
	usage    llm.Usage
}

// Session binds the architect to st, picking up where a checkpoint left off.
func (a *Architect) Session(st *runstate.RunState) *Session {
	if st.Research.State == "" {
		st.Research.State = string(StateFormulate)
	}
	if st.Snapshots == nil {
		st.Snapshots = make(map[string]string)
	}

	recorder := workspace.NewRecorder(a.ws)
	recorder.Seed(st.Snapshots)

	buf := history.NewAccumulating(st.Research.History...)
	if buf.Len() == 0 {
		buf.Append(history.User(st.Request).Labeled("request"))
		st.Research.History = buf.Entries()
	}

	logger := a.logger.WithRun(st.ID).WithPhase(string(runstate.PhaseResearch))
	return &Session{
		arch:     a,
		st:       st,
		history:  buf,
		recorder: recorder,
		explorer: explore.New(a.client, recorder,
			explore.WithEmitter(a.emitter),
			explore.WithLogger(logger),
			explore.WithConfig(a.explore),
		),
		logger: logger,
		env:    prompt.NewEnvironment(a.ws, a.cfg.Model, ""),
	}
}

func (s *Session) State() State { return State(s.st.Research.State) }

// History returns the accumulated research history.
func (s *Session) History() []history.Entry { return s.history.Entries() }

// Run steps until DONE or FAILED, checkpointing after every step. A failure
// is returned as a *runstate.RunError carrying the run state.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	for !s.State().Terminal() {
		err := s.Step(ctx)
		if cerr := s.checkpoint(ctx); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return nil, &runstate.RunError{State: s.st, Err: err}
		}
	}
	if s.State() == StateFailed {
		return nil, &runstate.RunError{State: s.st, Err: errors.New(s.st.Error)}
	}
	return s.result(), nil
}

// Step performs one state transition. Errors other than cancellation move
// the loop to FAILED; after a cancellation the state is unchanged and the
// step can be retried.
func (s *Session) Step(ctx context.Context) (err error) {
	current := s.State()
	if current.Terminal() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return failure.Cancelled(stepName(current), err)
	}

	ctx, span := telemetry.StartSpan(ctx, "architect", "architect."+stepName(current),
		telemetry.AttrRunID.String(s.st.ID),
		telemetry.AttrState.String(string(current)),
		telemetry.AttrCycle.Int(s.st.Research.Cycles),
		telemetry.AttrRejections.Int(s.st.Research.Rejections),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	var next State
	switch current {
	case StateFormulate:
		next, err = s.formulate(ctx)
	case StateValidate:
		next, err = s.validate(ctx)
	case StateResearch:
		next, err = s.research(ctx)
	case StateExtractPlan:
		next, err = s.extractPlan(ctx)
	default:
		err = fmt.Errorf("unknown research state %q", current)
	}
	s.st.Research.History = s.history.Entries()

	if err != nil {
		if failure.KindOf(err) == failure.KindCancelled {
			return err
		}
		s.fail(current, err)
		return err
	}
	s.transition(current, next)
	return nil
}

type hypothesisOutput struct {
	Hypothesis string `json:"hypothesis" jsonschema_description:"The next research direction, or empty when research is sufficient."`
}

type verdictOutput struct {
	IsValid bool   `json:"is_valid" jsonschema_description:"Whether the hypothesis is a reasonable next research step."`
	Reason  string `json:"reason" jsonschema_description:"One sentence explaining the verdict."`
}

type planOutput struct {
	ResearchSummary string                    `json:"research_summary" jsonschema_description:"What the implementer needs to know about the code base."`
	Tasks           []plan.ImplementationTask `json:"tasks" jsonschema_description:"Ordered file-scoped tasks."`
}

func (s *Session) formulate(ctx context.Context) (State, error) {
	r := &s.st.Research
	if r.Cycles >= s.arch.cfg.MaxResearchCycles {
		s.degrade(fmt.Sprintf("research cycle ceiling reached after %d hypotheses", r.Cycles))
		return StateExtractPlan, nil
	}

	instruction, err := prompt.Formulate()
	if err != nil {
		return "", err
	}
	out, err := generate[hypothesisOutput](ctx, s, "formulate_hypothesis", instruction, nil)
	if err != nil {
		return "", err
	}

	h := strings.TrimSpace(out.Hypothesis)
	if h == "" {
		r.Reason = "research judged sufficient"
		s.logger.Info("no further hypotheses", "cycles", r.Cycles)
		return StateExtractPlan, nil
	}
	r.Hypothesis = h
	s.history.Append(history.Note("Hypothesis: " + h).Labeled("hypothesis"))
	s.arch.emitter.Emit(events.Hypothesis, map[string]interface{}{
		"hypothesis": h,
		"cycle":      r.Cycles + 1,
	})
	s.logger.Debug("hypothesis formulated", "hypothesis", h)
	return StateValidate, nil
}

func (s *Session) validate(ctx context.Context) (State, error) {
	r := &s.st.Research
	instruction, err := prompt.Validate(prompt.Architect{Hypothesis: r.Hypothesis})
	if err != nil {
		return "", err
	}
	out, err := generate[verdictOutput](ctx, s, "validate_hypothesis", instruction, nil)
	if err != nil {
		return "", err
	}

	r.Hypotheses = append(r.Hypotheses, runstate.HypothesisRecord{
		Cycle:      r.Cycles + 1,
		Hypothesis: r.Hypothesis,
		Valid:      out.IsValid,
		Reason:     out.Reason,
	})
	s.arch.emitter.Emit(events.Verdict, map[string]interface{}{
		"hypothesis": r.Hypothesis,
		"is_valid":   out.IsValid,
		"reason":     out.Reason,
	})

	if out.IsValid {
		r.Rejections = 0
		return StateResearch, nil
	}

	r.Rejections++
	s.history.Append(history.Note(fmt.Sprintf("Rejected hypothesis: %s\nReason: %s", r.Hypothesis, out.Reason)).Labeled("verdict"))
	s.logger.Debug("hypothesis rejected", "rejections", r.Rejections, "reason", out.Reason)
	r.Hypothesis = ""
	if r.Rejections >= s.arch.cfg.MaxHypothesisRejections {
		s.degrade(failure.HypothesisExhausted(r.Rejections).Error())
		return StateExtractPlan, nil
	}
	return StateFormulate, nil
}

func (s *Session) research(ctx context.Context) (State, error) {
	r := &s.st.Research
	system, err := s.system()
	if err != nil {
		return "", err
	}
	instruction, err := prompt.Research(prompt.Architect{Hypothesis: r.Hypothesis})
	if err != nil {
		return "", err
	}

	// The tool loop runs on a staged copy; history only gains a complete cycle.
	staged := history.NewAccumulating(s.history.Entries()...)
	before := staged.Len()
	res, err := s.explorer.Run(ctx, staged, system, instruction, s.arch.cfg.ToolRounds)
	if res != nil {
		s.usage = s.usage.Add(res.Usage)
	}
	for path, hash := range s.recorder.Snapshots() {
		s.st.Snapshots[path] = hash
	}
	if err != nil {
		return "", err
	}
	s.history.Append(staged.Entries()[before:]...)

	if n := len(r.Hypotheses); n > 0 {
		r.Hypotheses[n-1].Findings = res.Summary
	}
	r.Cycles++
	r.Hypothesis = ""
	s.logger.Info("research cycle complete",
		"cycle", r.Cycles,
		"tool_calls", res.ToolCalls,
		"round_limit_hit", res.RoundLimitHit,
	)
	return StateFormulate, nil
}

func (s *Session) extractPlan(ctx context.Context) (State, error) {
	r := &s.st.Research
	instruction, err := prompt.ExtractPlan(prompt.Architect{Degraded: r.Degraded, Reason: r.Reason})
	if err != nil {
		return "", err
	}
	out, err := generate(ctx, s, "extract_plan", instruction, func(o planOutput) error {
		return (&plan.ImplementationPlan{Tasks: o.Tasks}).Validate()
	})
	if err != nil {
		return "", err
	}

	s.st.Plan = &plan.ImplementationPlan{Tasks: out.Tasks}
	s.st.ResearchSummary = strings.TrimSpace(out.ResearchSummary)
	s.logger.Info("plan extracted",
		"tasks", len(out.Tasks),
		"atomic_tasks", s.st.Plan.AtomicTaskCount(),
		"degraded", r.Degraded,
	)
	return StateDone, nil
}

// generate makes one structured call with the research history folded into
// a single user message.
func generate[T any](ctx context.Context, s *Session, name, instruction string, check func(T) error) (T, error) {
	var zero T
	system, err := s.system()
	if err != nil {
		return zero, err
	}
	content := fmt.Sprintf("<research_history>\n%s\n</research_history>\n\n%s",
		history.Transcript(s.history.Entries(), 4000), instruction)

	res, err := llm.GenerateObject(ctx, s.arch.client, llm.ObjectRequest{
		Name:        name,
		Model:       s.arch.cfg.Model,
		System:      system,
		Messages:    []llm.Message{llm.UserMessage(content)},
		Temperature: s.arch.cfg.Temperature,
		MaxTokens:   s.arch.cfg.MaxTokens,
		Metadata:    map[string]string{"run_id": s.st.ID, "step": name},
	}, check)
	if err != nil {
		if ctx.Err() != nil {
			return zero, failure.Cancelled(name, err)
		}
		return zero, err
	}
	s.usage = s.usage.Add(res.Usage)
	if len(res.Responses) > 1 {
		s.arch.emitter.Emit(events.Retry, map[string]interface{}{"step": name, "reason": "malformed response"})
		s.logger.Warn("structured response needed a clarifying retry", "step", name)
	}
	return res.Value, nil
}

func (s *Session) system() (string, error) {
	return prompt.ArchitectSystem(prompt.Architect{Env: s.env, Request: s.st.Request})
}

// degrade records that plan extraction is being forced.
func (s *Session) degrade(reason string) {
	s.st.Research.Degraded = true
	s.st.Research.Reason = reason
	s.arch.emitter.Emit(events.Warning, map[string]interface{}{
		"message": "forcing plan extraction: " + reason,
	})
	s.logger.Warn("forcing plan extraction", "reason", reason)
}

func (s *Session) transition(from, to State) {
	s.st.Research.State = string(to)
	s.arch.emitter.Emit(events.StateTransition, map[string]interface{}{
		"phase": string(runstate.PhaseResearch),
		"from":  string(from),
		"to":    string(to),
	})
	s.logger.Debug("state transition", "from", from, "to", to)
}

func (s *Session) fail(at State, err error) {
	s.st.Research.State = string(StateFailed)
	s.st.Research.FailedAt = string(at)
	s.st.Phase = runstate.PhaseFailed
	s.st.Error = err.Error()
	s.st.Failures = append(s.st.Failures, runstate.NewFailureRecord(err, nil, 0, true))
	s.arch.emitter.Emit(events.Error, map[string]interface{}{
		"phase": string(runstate.PhaseResearch),
		"state": string(at),
		"error": err.Error(),
	})
	s.logger.Error("research failed", "state", at, "error", err)
}

func (s *Session) checkpoint(ctx context.Context) error {
	if s.arch.checkpointer == nil {
		return nil
	}
	if err := s.arch.checkpointer.Checkpoint(context.WithoutCancel(ctx), s.st); err != nil {
		return fmt.Errorf("checkpoint run %s: %w", s.st.ID, err)
	}
	s.arch.emitter.Emit(events.Checkpoint, map[string]interface{}{
		"phase": string(runstate.PhaseResearch),
		"state": s.st.Research.State,
	})
	return nil
}

func (s *Session) result() *Result {
	r := s.st.Research
	return &Result{
		Plan:       s.st.Plan,
		Summary:    s.st.ResearchSummary,
		Hypotheses: r.Hypotheses,
		Degraded:   r.Degraded,
		Reason:     r.Reason,
		History:    s.history.Entries(),
		Snapshots:  s.st.Snapshots,
		Usage:      s.usage,
	}
}

func stepName(s State) string { return strings.ToLower(string(s)) }
