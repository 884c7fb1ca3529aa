// Package failure defines the error taxonomy shared by the research and
// execution loops.
//
// Every failure is a *Error tagged with a Kind. Callers match kinds with the
// sentinel values through errors.Is, or recover the full record with
// errors.As:
//
//	if failure.Is(err, failure.ErrDiffAmbiguous) { ... }
//
//	var fe *failure.Error
//	if failure.As(err, &fe) { log(fe.Path, fe.Matches) }
//
// Kinds fall into two groups. MalformedResponse, DiffAmbiguous and
// DiffNotFound are step-local and retried by the loop that produced them.
// IOFailure, PlanInvalid, HypothesisExhausted and Cancelled are surfaced to the
// caller.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Re-exported so callers can import a single errors package.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)

// Kind names a class of failure.
type Kind string

const (
	KindMalformedResponse   Kind = "malformed_response"
	KindHypothesisExhausted Kind = "hypothesis_exhausted"
	KindDiffAmbiguous       Kind = "diff_ambiguous"
	KindDiffNotFound        Kind = "diff_not_found"
	KindIOFailure           Kind = "io_failure"
	KindPlanInvalid         Kind = "plan_invalid"
	KindCancelled           Kind = "cancelled"
)

// Sentinels, one per Kind.
var (
	ErrMalformedResponse   = New("malformed response")
	ErrHypothesisExhausted = New("hypothesis rejections exhausted")
	ErrDiffAmbiguous       = New("diff snippet matches more than once")
	ErrDiffNotFound        = New("diff snippet not found")
	ErrIOFailure           = New("file system operation failed")
	ErrPlanInvalid         = New("implementation plan is invalid")
	ErrCancelled           = New("run cancelled")
)

var sentinels = map[Kind]error{
	KindMalformedResponse:   ErrMalformedResponse,
	KindHypothesisExhausted: ErrHypothesisExhausted,
	KindDiffAmbiguous:       ErrDiffAmbiguous,
	KindDiffNotFound:        ErrDiffNotFound,
	KindIOFailure:           ErrIOFailure,
	KindPlanInvalid:         ErrPlanInvalid,
	KindCancelled:           ErrCancelled,
}

// Error is a classified failure with enough context to report it without
// consulting the loop that raised it.
type Error struct {
	Kind    Kind
	Op      string // step or operation, e.g. "apply_diff"
	Path    string // file path when the failure concerns a file
	Detail  string
	Matches int // snippet occurrence count for diff failures
	Err     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(sentinels[e.Kind].Error())
	if e.Op != "" {
		fmt.Fprintf(&sb, " during %s", e.Op)
	}
	if e.Path != "" {
		fmt.Fprintf(&sb, " (%s)", e.Path)
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// MalformedResponse reports output from the reasoning capability that could
// not be parsed or did not pass validation.
func MalformedResponse(op, detail string, err error) *Error {
	return &Error{Kind: KindMalformedResponse, Op: op, Detail: detail, Err: err}
}

// HypothesisExhausted reports that the research loop reached its rejection
// ceiling.
func HypothesisExhausted(rejections int) *Error {
	return &Error{
		Kind:   KindHypothesisExhausted,
		Op:     "validate_hypothesis",
		Detail: fmt.Sprintf("%d consecutive hypotheses rejected", rejections),
	}
}

// DiffNotFound reports a snippet with zero occurrences in path.
func DiffNotFound(path, snippet string) *Error {
	return &Error{Kind: KindDiffNotFound, Op: "apply_diff", Path: path, Detail: quote(snippet)}
}

// DiffAmbiguous reports a snippet occurring more than once in path.
func DiffAmbiguous(path, snippet string, matches int) *Error {
	return &Error{
		Kind:    KindDiffAmbiguous,
		Op:      "apply_diff",
		Path:    path,
		Matches: matches,
		Detail:  fmt.Sprintf("%d occurrences of %s", matches, quote(snippet)),
	}
}

// IOFailure wraps a file system error.
func IOFailure(op, path string, err error) *Error {
	return &Error{Kind: KindIOFailure, Op: op, Path: path, Err: err}
}

// PlanInvalid reports a plan that failed the structural gate.
func PlanInvalid(detail string, err error) *Error {
	return &Error{Kind: KindPlanInvalid, Op: "extract_plan", Detail: detail, Err: err}
}

// Cancelled wraps a context error observed between steps.
func Cancelled(op string, err error) *Error {
	return &Error{Kind: KindCancelled, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var fe *Error
	if As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Retryable reports whether the failure is step-local and worth another
// attempt with refreshed context.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindMalformedResponse, KindDiffAmbiguous, KindDiffNotFound:
		return true
	default:
		return false
	}
}

// Fatal reports whether the failure must halt the run without retry.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindIOFailure, KindCancelled:
		return true
	default:
		return false
	}
}

func quote(snippet string) string {
	const limit = 80
	if len(snippet) > limit {
		snippet = snippet[:limit] + "..."
	}
	return fmt.Sprintf("%q", snippet)
}
