// Package developer implements the execution loop: it walks an
// implementation plan one atomic task at a time, asks for a DiffSpec for
// each, and applies it to the target file.
package developer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
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

// State is an execution loop state.
type State string

const (
	StateSelect   State = "SELECT_ATOMIC_TASK"
	StateGather   State = "GATHER_CONTEXT"
	StateGenerate State = "GENERATE_DIFF"
	StateApply    State = "APPLY_DIFF"
	StateAdvance  State = "ADVANCE"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
)

func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// StalePolicy decides what happens when a file no longer matches the content
// research saw.
type StalePolicy string

const (
	StaleWarn   StalePolicy = "warn"
	StaleIgnore StalePolicy = "ignore"
	StaleFail   StalePolicy = "fail"
)

const DefaultMaxDiffAttempts = 2

// Config bounds the loop.
type Config struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	// MaxDiffAttempts is the number of GENERATE/APPLY attempts per atomic
	// task, the first included.
	MaxDiffAttempts int
	// ToolRounds enables exploration in GATHER_CONTEXT when positive.
	ToolRounds  int
	StalePolicy StalePolicy
}

func DefaultConfig() Config {
	return Config{
		MaxDiffAttempts: DefaultMaxDiffAttempts,
		StalePolicy:     StaleWarn,
	}
}

// Developer holds what every execution session shares.
type Developer struct {
	client       llm.Completer
	ws           workspace.Workspace
	emitter      *events.Emitter
	logger       *logging.Logger
	checkpointer runstate.Checkpointer
	explore      explore.Config
	cfg          Config
}

type Option func(*Developer)

func WithEmitter(em *events.Emitter) Option {
	return func(d *Developer) { d.emitter = em }
}

func WithLogger(l *logging.Logger) Option {
	return func(d *Developer) { d.logger = l }
}

func WithCheckpointer(c runstate.Checkpointer) Option {
	return func(d *Developer) { d.checkpointer = c }
}

func WithConfig(cfg Config) Option {
	return func(d *Developer) { d.cfg = cfg }
}

func WithExploreConfig(cfg explore.Config) Option {
	return func(d *Developer) { d.explore = cfg }
}

func New(client llm.Completer, ws workspace.Workspace, opts ...Option) *Developer {
	d := &Developer{
		client:  client,
		ws:      ws,
		logger:  logging.NopLogger(),
		explore: explore.DefaultConfig(),
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.MaxDiffAttempts <= 0 {
		d.cfg.MaxDiffAttempts = DefaultMaxDiffAttempts
	}
	if d.cfg.StalePolicy == "" {
		d.cfg.StalePolicy = StaleWarn
	}
	if d.explore.Model == "" {
		d.explore.Model = d.cfg.Model
	}
	if d.explore.Temperature == nil {
		d.explore.Temperature = d.cfg.Temperature
	}
	return d
}

// Result is the outcome of a completed execution phase.
type Result struct {
	Diffs        []plan.AppliedDiff
	MutatedFiles []string
	Failures     []runstate.FailureRecord
	Usage        llm.Usage
}

// Run drives a session over st to DONE.
func (d *Developer) Run(ctx context.Context, st *runstate.RunState) (*Result, error) {
	return d.Session(st).Run(ctx)
}

// Session is one run's execution loop. It owns st until Run returns.
type Session struct {
	dev      *Developer
	st       *runstate.RunState
	history  *history.Clearable
	explorer *explore.Explorer
	logger   *logging.Logger
	usage    llm.Usage
}

// Session binds the developer to st, picking up where a checkpoint left off.
func (d *Developer) Session(st *runstate.RunState) *Session {
	if st.Execution.State == "" {
		st.Execution.State = string(StateSelect)
	}
	if st.Snapshots == nil {
		st.Snapshots = make(map[string]string)
	}
	logger := d.logger.WithRun(st.ID).WithPhase(string(runstate.PhaseExecution))
	return &Session{
		dev:     d,
		st:      st,
		history: history.RestoreClearable(st.Execution.History, st.Execution.Resets),
		explorer: explore.New(d.client, d.ws,
			explore.WithEmitter(d.emitter),
			explore.WithLogger(logger),
			explore.WithConfig(d.explore),
		),
		logger: logger,
	}
}

func (s *Session) State() State { return State(s.st.Execution.State) }

// History returns the current atomic task's history.
func (s *Session) History() []history.Entry { return s.history.Entries() }

// Resets reports how many times the task history has been cleared.
func (s *Session) Resets() int { return s.history.Resets() }

// Run steps until DONE or FAILED, checkpointing after every step. A failure
// is returned as a *runstate.RunError carrying the run state.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if s.st.Plan == nil {
		err := failure.PlanInvalid("no plan to execute", nil)
		s.fail(s.State(), err)
		return nil, &runstate.RunError{State: s.st, Err: err}
	}
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

// Step performs one state transition. Retryable diff failures loop back to
// GATHER_CONTEXT until MaxDiffAttempts is spent. Any other error moves the
// loop to FAILED, except cancellation, which leaves the state unchanged.
func (s *Session) Step(ctx context.Context) (err error) {
	current := s.State()
	if current.Terminal() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return failure.Cancelled(stepName(current), err)
	}

	c := s.st.Cursor()
	ctx, span := telemetry.StartSpan(ctx, "developer", "developer."+stepName(current),
		telemetry.AttrRunID.String(s.st.ID),
		telemetry.AttrState.String(string(current)),
		telemetry.AttrTaskIdx.Int(c.TaskIdx),
		telemetry.AttrAtomicIdx.Int(c.AtomicTaskIdx),
		telemetry.AttrAttempt.Int(s.st.Execution.Attempt),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	var next State
	switch current {
	case StateSelect:
		next, err = s.selectTask()
	case StateGather:
		next, err = s.gather(ctx)
	case StateGenerate:
		next, err = s.generate(ctx)
	case StateApply:
		next, err = s.apply(ctx)
	case StateAdvance:
		next, err = s.advance()
	default:
		err = fmt.Errorf("unknown execution state %q", current)
	}

	if err != nil && failure.KindOf(err) != failure.KindCancelled {
		next, err = s.retry(current, err)
	}
	s.st.Execution.History = s.history.Entries()
	s.st.Execution.Resets = s.history.Resets()

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

func (s *Session) selectTask() (State, error) {
	c, done := plan.Normalize(s.st.Plan, s.st.Cursor())
	s.st.SetCursor(c)
	if done {
		s.logger.Info("plan complete", "diffs", len(s.st.Diffs))
		return StateDone, nil
	}
	ex := &s.st.Execution
	ex.Attempt = 1
	ex.Feedback, ex.Note, ex.Stale = "", "", ""
	return StateGather, nil
}

func (s *Session) gather(ctx context.Context) (State, error) {
	ex := &s.st.Execution
	task, atomic, _ := s.st.Plan.At(s.st.Cursor())

	if ex.Attempt <= 1 {
		s.history.Reset()
		s.history.Append(history.User(fmt.Sprintf("Step %s on %s: %s", s.step(), task.FilePath, atomic.Instruction)).Labeled("task"))
	} else if ex.Feedback != "" {
		s.history.Append(history.Note(fmt.Sprintf("Attempt %d failed: %s", ex.Attempt-1, ex.Feedback)).Labeled("retry"))
	}

	snap, err := s.readFile(task.FilePath)
	if err != nil {
		return "", err
	}
	s.st.FileSnapshot = snap

	if err := s.checkStale(snap); err != nil {
		return "", err
	}

	if s.dev.cfg.ToolRounds > 0 && ex.Attempt <= 1 {
		system, err := s.system(task.FilePath)
		if err != nil {
			return "", err
		}
		instruction, err := prompt.Gather(prompt.Developer{
			FilePath:    task.FilePath,
			LogicalTask: task.LogicalTask,
			Instruction: atomic.Instruction,
		})
		if err != nil {
			return "", err
		}
		res, err := s.explorer.Run(ctx, s.history, system, instruction, s.dev.cfg.ToolRounds)
		if res != nil {
			s.usage = s.usage.Add(res.Usage)
		}
		if err != nil {
			return "", err
		}
		ex.Note = res.Summary
	}
	return StateGenerate, nil
}

func (s *Session) readFile(p string) (*runstate.FileSnapshot, error) {
	key := s.key(p)
	content, err := s.dev.ws.Read(p)
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		return &runstate.FileSnapshot{Path: key}, nil
	case err != nil:
		if failure.KindOf(err) == failure.KindIOFailure {
			return nil, err
		}
		return nil, failure.IOFailure("read", p, err)
	}
	return &runstate.FileSnapshot{Path: key, Content: content, Hash: workspace.Hash(content), Exists: true}, nil
}

// checkStale compares the file against the hash recorded when research (or
// an earlier write in this run) last saw it.
func (s *Session) checkStale(snap *runstate.FileSnapshot) error {
	ex := &s.st.Execution
	ex.Stale = ""
	want, ok := s.st.Snapshots[snap.Path]
	if !ok || want == snap.Hash || s.dev.cfg.StalePolicy == StaleIgnore {
		return nil
	}

	msg := fmt.Sprintf("%s changed since it was read during research", snap.Path)
	if !snap.Exists {
		msg = fmt.Sprintf("%s was read during research but no longer exists", snap.Path)
	}
	if s.dev.cfg.StalePolicy == StaleFail {
		return failure.PlanInvalid(msg, nil)
	}
	ex.Stale = msg + "; the plan may not match its current content"
	s.dev.emitter.Emit(events.Warning, map[string]interface{}{"message": msg, "file_path": snap.Path})
	s.logger.Warn("stale file", "file_path", snap.Path)
	return nil
}

type replacementOutput struct {
	Replacement string `json:"replacement" jsonschema_description:"Text that takes the place of the original snippet, or the content to append or create."`
}

func (s *Session) generate(ctx context.Context) (State, error) {
	ex := &s.st.Execution
	task, atomic, _ := s.st.Plan.At(s.st.Cursor())
	snap := s.st.FileSnapshot
	if snap == nil {
		return StateGather, nil
	}

	extra := atomic.AdditionalContext
	if ex.Note != "" {
		extra = strings.TrimSpace(extra + "\n" + ex.Note)
	}
	instruction, err := prompt.GenerateDiff(prompt.Developer{
		FilePath:          task.FilePath,
		LogicalTask:       task.LogicalTask,
		Step:              s.step(),
		Instruction:       atomic.Instruction,
		AdditionalContext: extra,
		Exists:            snap.Exists,
		Content:           snap.Content,
		Stale:             ex.Stale,
		Feedback:          ex.Feedback,
	})
	if err != nil {
		return "", err
	}

	spec, err := object(ctx, s, "generate_diff", task.FilePath, instruction, plan.ValidateDiffSpec)
	if err != nil {
		return "", err
	}
	s.st.LastDiff = &spec
	data, _ := json.Marshal(spec)
	s.history.Append(history.Assistant(string(data), nil).Labeled("diff"))
	return StateApply, nil
}

func (s *Session) apply(ctx context.Context) (State, error) {
	task, _, _ := s.st.Plan.At(s.st.Cursor())
	snap := s.st.FileSnapshot
	if snap == nil || s.st.LastDiff == nil {
		return StateGather, nil
	}
	spec := *s.st.LastDiff

	if spec.OriginalCodeSnippet != "" {
		if _, err := Locate(task.FilePath, snap.Content, spec.OriginalCodeSnippet); err != nil {
			return "", err
		}
	}

	instruction, err := prompt.ReplacementRequest(prompt.Replacement{
		FilePath:        task.FilePath,
		TaskDescription: spec.TaskDescription,
		Snippet:         spec.OriginalCodeSnippet,
		Exists:          snap.Exists,
		Content:         snap.Content,
	})
	if err != nil {
		return "", err
	}
	out, err := object[replacementOutput](ctx, s, "replacement", task.FilePath, instruction, nil)
	if err != nil {
		return "", err
	}

	updated, err := Splice(task.FilePath, snap.Content, snap.Exists, spec, out.Replacement)
	if err != nil {
		return "", err
	}
	if err := s.dev.ws.Write(task.FilePath, updated); err != nil {
		if failure.KindOf(err) != failure.KindIOFailure {
			err = failure.IOFailure("write", task.FilePath, err)
		}
		return "", err
	}

	applied := plan.NewAppliedDiff(s.st.Cursor(), task.FilePath, spec, out.Replacement, snap.Content, updated, !snap.Exists)
	applied.BeforeHash = snap.Hash
	applied.AfterHash = workspace.Hash(updated)
	s.st.Execution.Pending = &applied
	s.st.Snapshots[snap.Path] = applied.AfterHash
	s.history.Append(history.Note("Applied to " + task.FilePath).Labeled("applied"))

	s.dev.emitter.Emit(events.DiffApplied, map[string]interface{}{
		"file_path": task.FilePath,
		"step":      s.step(),
		"created":   applied.Created,
	})
	s.logger.Info("diff applied", "file_path", task.FilePath, "step", s.step(), "created", applied.Created)
	return StateAdvance, nil
}

func (s *Session) advance() (State, error) {
	ex := &s.st.Execution
	if ex.Pending != nil {
		s.st.Diffs = append(s.st.Diffs, *ex.Pending)
		ex.Pending = nil
	}
	next, _ := plan.Advance(s.st.Plan, s.st.Cursor())
	s.st.SetCursor(next)
	ex.Attempt = 0
	ex.Feedback, ex.Note, ex.Stale = "", "", ""
	s.st.FileSnapshot = nil
	return StateSelect, nil
}

// retry turns a retryable failure in GENERATE or APPLY into another
// attempt. It returns err unchanged when the loop must stop.
func (s *Session) retry(at State, err error) (State, error) {
	ex := &s.st.Execution
	if at != StateGenerate && at != StateApply {
		return "", err
	}
	if !failure.Retryable(err) || ex.Attempt >= s.dev.cfg.MaxDiffAttempts {
		return "", err
	}

	ex.Attempt++
	ex.Feedback = err.Error()
	s.dev.emitter.Emit(events.Retry, map[string]interface{}{
		"step":    s.step(),
		"state":   string(at),
		"attempt": ex.Attempt,
		"error":   err.Error(),
	})
	s.logger.Warn("retrying atomic task", "step", s.step(), "attempt", ex.Attempt, "error", err)
	return StateGather, nil
}

// object makes one structured call with the task history folded into a
// single user message.
func object[T any](ctx context.Context, s *Session, name, filePath, instruction string, check func(T) error) (T, error) {
	var zero T
	system, err := s.system(filePath)
	if err != nil {
		return zero, err
	}
	content := instruction
	if s.history.Len() > 1 {
		content = fmt.Sprintf("<task_history>\n%s\n</task_history>\n\n%s",
			history.Transcript(s.history.Entries(), 4000), instruction)
	}

	res, err := llm.GenerateObject(ctx, s.dev.client, llm.ObjectRequest{
		Name:        name,
		Model:       s.dev.cfg.Model,
		System:      system,
		Messages:    []llm.Message{llm.UserMessage(content)},
		Temperature: s.dev.cfg.Temperature,
		MaxTokens:   s.dev.cfg.MaxTokens,
		Metadata:    map[string]string{"run_id": s.st.ID, "step": name},
	}, check)
	if err != nil {
		if ctx.Err() != nil {
			return zero, failure.Cancelled(name, err)
		}
		return zero, err
	}
	s.usage = s.usage.Add(res.Usage)
	return res.Value, nil
}

func (s *Session) system(filePath string) (string, error) {
	rendered := ""
	if s.st.Plan != nil {
		rendered = s.st.Plan.Render()
	}
	return prompt.DeveloperSystem(prompt.Developer{
		Env:     prompt.NewEnvironment(s.dev.ws, s.dev.cfg.Model, path.Dir(filePath)),
		Summary: s.st.ResearchSummary,
		Plan:    rendered,
	})
}

// step labels the cursor 1-based, e.g. "2.1".
func (s *Session) step() string {
	c := s.st.Cursor()
	return fmt.Sprintf("%d.%d", c.TaskIdx+1, c.AtomicTaskIdx+1)
}

func (s *Session) key(p string) string {
	if rel, err := s.dev.ws.Rel(p); err == nil {
		return rel
	}
	return p
}

func (s *Session) transition(from, to State) {
	s.st.Execution.State = string(to)
	s.dev.emitter.Emit(events.StateTransition, map[string]interface{}{
		"phase": string(runstate.PhaseExecution),
		"from":  string(from),
		"to":    string(to),
		"step":  s.step(),
	})
	s.logger.Debug("state transition", "from", from, "to", to, "step", s.step())
}

func (s *Session) fail(at State, err error) {
	c := s.st.Cursor()
	ex := &s.st.Execution
	ex.State = string(StateFailed)
	ex.FailedAt = string(at)
	s.st.Phase = runstate.PhaseFailed
	s.st.Error = err.Error()
	s.st.Failures = append(s.st.Failures, runstate.NewFailureRecord(err, &c, ex.Attempt, true))
	s.dev.emitter.Emit(events.Error, map[string]interface{}{
		"phase": string(runstate.PhaseExecution),
		"state": string(at),
		"step":  s.step(),
		"error": err.Error(),
	})
	s.logger.Error("execution failed", "state", at, "step", s.step(), "error", err)
}

func (s *Session) checkpoint(ctx context.Context) error {
	if s.dev.checkpointer == nil {
		return nil
	}
	if err := s.dev.checkpointer.Checkpoint(context.WithoutCancel(ctx), s.st); err != nil {
		return fmt.Errorf("checkpoint run %s: %w", s.st.ID, err)
	}
	s.dev.emitter.Emit(events.Checkpoint, map[string]interface{}{
		"phase": string(runstate.PhaseExecution),
		"state": s.st.Execution.State,
	})
	return nil
}

func (s *Session) result() *Result {
	return &Result{
		Diffs:        s.st.Diffs,
		MutatedFiles: s.st.MutatedFiles(),
		Failures:     s.st.Failures,
		Usage:        s.usage,
	}
}

func stepName(s State) string { return strings.ToLower(string(s)) }
