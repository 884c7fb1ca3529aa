package plan

import (
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// AppliedDiff records one successful atomic edit.
type AppliedDiff struct {
	Cursor      Cursor    `json:"cursor"`
	FilePath    string    `json:"file_path"`
	Diff        DiffSpec  `json:"diff"`
	Replacement string    `json:"replacement"`
	Created     bool      `json:"created"`
	BeforeHash  string    `json:"before_hash"`
	AfterHash   string    `json:"after_hash"`
	Patch       string    `json:"patch"`
	AppliedAt   time.Time `json:"applied_at"`
}

// NewAppliedDiff builds the record for an edit that turned before into
// after. The patch text is in diff-match-patch format.
func NewAppliedDiff(c Cursor, path string, spec DiffSpec, replacement, before, after string, created bool) AppliedDiff {
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(before, after)
	return AppliedDiff{
		Cursor:      c,
		FilePath:    path,
		Diff:        spec,
		Replacement: replacement,
		Created:     created,
		Patch:       dmp.PatchToText(patches),
		AppliedAt:   time.Now(),
	}
}
