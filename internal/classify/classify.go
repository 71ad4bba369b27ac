// Package classify sorts template/project differences into safe updates,
// conflicts, project-only customizations and skipped paths by triangulating
// each path's template and project fingerprints against its baseline.
package classify

import (
	"github.com/schaermu/templatesync/internal/hashstore"
	"github.com/schaermu/templatesync/internal/scope"
	"github.com/schaermu/templatesync/internal/tree"
)

// Bucket is the outcome of classifying one change.
type Bucket string

const (
	Safe        Bucket = "safe"
	Conflict    Bucket = "conflict"
	ProjectOnly Bucket = "project-only"
	Skipped     Bucket = "skipped"
)

// Reasons attached to entries.
const (
	ReasonNewInTemplate       = "file is new in the template"
	ReasonIntroducedSinceSync = "template introduced the file after the last sync"
	ReasonPredatesBaseline    = "file existed in the template at the last sync but has no baseline"
	ReasonBothChanged         = "template and project both changed since the last sync"
	ReasonTemplateChanged     = "only the template changed since the last sync"
	ReasonProjectChanged      = "only the project changed since the last sync"
	ReasonBaselineAnomaly     = "files differ but both match the baseline"
	ReasonTemplateRemoved     = "template removed a file the project left untouched"
	ReasonRemovedButModified  = "template removed a file the project changed"
	ReasonRemovedNoBaseline   = "template removed a file that has no baseline"
	ReasonNotFromTemplate     = "file never came from the template"
	ReasonUnknownOrigin       = "last sync commit is unknown and the template does not have the file"
	ReasonTypeClash           = "file on one side, directory on the other"
)

// Entry is a classified change.
type Entry struct {
	tree.FileChange
	Bucket Bucket
	// New marks entries whose template version should be written.
	New    bool
	Reason string
}

// Removal reports whether applying the entry deletes the project file.
func (e Entry) Removal() bool {
	return e.Status == tree.Deleted
}

// Result partitions the input changes. Every input change lands in exactly
// one bucket, in input order.
type Result struct {
	Safe        []Entry
	Conflicts   []Entry
	ProjectOnly []Entry
	Skipped     []Entry
}

// Len returns the number of classified changes.
func (r *Result) Len() int {
	return len(r.Safe) + len(r.Conflicts) + len(r.ProjectOnly) + len(r.Skipped)
}

// All returns every entry, bucket by bucket.
func (r *Result) All() []Entry {
	all := make([]Entry, 0, r.Len())
	all = append(all, r.Safe...)
	all = append(all, r.Conflicts...)
	all = append(all, r.ProjectOnly...)
	all = append(all, r.Skipped...)
	return all
}

// History answers whether a path was present in the template checkout at
// the last recorded sync commit.
type History interface {
	ExistedAtLastSync(path string) bool
}

// HistoryFunc adapts a function to History.
type HistoryFunc func(path string) bool

// ExistedAtLastSync calls f.
func (f HistoryFunc) ExistedAtLastSync(path string) bool {
	return f(path)
}

// NoHistory is used when there is no last sync commit.
var NoHistory History = HistoryFunc(func(string) bool { return false })

type unknownHistory struct{}

func (unknownHistory) ExistedAtLastSync(string) bool { return true }

// UnknownHistory is used when the last sync commit cannot be found in the
// template, e.g. after a force-push. Files the template still has are
// assumed to predate the baseline; files only the project has are never
// attributed to the template.
var UnknownHistory History = unknownHistory{}

// Input is everything classification reads besides the changes.
type Input struct {
	Baseline hashstore.Baseline
	Filter   *scope.Filter
	History  History
}

// Classify sorts every change into a bucket. It never fails: every
// combination of fingerprints and baseline maps to a defined bucket.
func Classify(changes []tree.FileChange, in Input) *Result {
	r := &Result{}
	for _, c := range changes {
		e := ClassifyChange(c, in)
		switch e.Bucket {
		case Safe:
			r.Safe = append(r.Safe, e)
		case Conflict:
			r.Conflicts = append(r.Conflicts, e)
		case ProjectOnly:
			r.ProjectOnly = append(r.ProjectOnly, e)
		default:
			r.Skipped = append(r.Skipped, e)
		}
	}
	return r
}

// ClassifyChange classifies a single change.
func ClassifyChange(c tree.FileChange, in Input) Entry {
	if reason, skip := in.Filter.Match(c.Path); skip {
		return Entry{FileChange: c, Bucket: Skipped, Reason: string(reason)}
	}

	history := in.History
	if history == nil {
		history = NoHistory
	}

	switch c.Status {
	case tree.Added:
		return Entry{FileChange: c, Bucket: Safe, New: true, Reason: ReasonNewInTemplate}
	case tree.Modified:
		return classifyModified(c, in.Baseline, history)
	case tree.Deleted:
		return classifyDeleted(c, in.Baseline, history)
	case tree.Clash:
		return Entry{FileChange: c, Bucket: Conflict, Reason: ReasonTypeClash}
	}

	return Entry{FileChange: c, Bucket: Conflict, Reason: "unknown change status " + string(c.Status)}
}

func classifyModified(c tree.FileChange, baseline hashstore.Baseline, history History) Entry {
	base, ok := baseline.Get(c.Path)
	if !ok {
		if !history.ExistedAtLastSync(c.Path) {
			return Entry{FileChange: c, Bucket: Safe, New: true, Reason: ReasonIntroducedSinceSync}
		}
		return Entry{FileChange: c, Bucket: Conflict, Reason: ReasonPredatesBaseline}
	}

	templateChanged := c.TemplateFingerprint != base
	projectChanged := c.ProjectFingerprint != base

	switch {
	case templateChanged && projectChanged:
		return Entry{FileChange: c, Bucket: Conflict, New: true, Reason: ReasonBothChanged}
	case templateChanged:
		return Entry{FileChange: c, Bucket: Safe, New: true, Reason: ReasonTemplateChanged}
	case projectChanged:
		return Entry{FileChange: c, Bucket: ProjectOnly, Reason: ReasonProjectChanged}
	default:
		return Entry{FileChange: c, Bucket: Conflict, Reason: ReasonBaselineAnomaly}
	}
}

// classifyDeleted handles paths the project has and the template does not.
// A removal is only safe when the baseline proves the project never touched
// the file; anything the project may have customized becomes a conflict.
func classifyDeleted(c tree.FileChange, baseline hashstore.Baseline, history History) Entry {
	base, ok := baseline.Get(c.Path)
	if !ok {
		if history == UnknownHistory {
			return Entry{FileChange: c, Bucket: Skipped, Reason: ReasonUnknownOrigin}
		}
		if history.ExistedAtLastSync(c.Path) {
			return Entry{FileChange: c, Bucket: Conflict, Reason: ReasonRemovedNoBaseline}
		}
		return Entry{FileChange: c, Bucket: Skipped, Reason: ReasonNotFromTemplate}
	}

	if c.ProjectFingerprint == base {
		return Entry{FileChange: c, Bucket: Safe, Reason: ReasonTemplateRemoved}
	}
	return Entry{FileChange: c, Bucket: Conflict, Reason: ReasonRemovedButModified}
}
