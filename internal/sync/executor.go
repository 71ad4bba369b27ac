package sync

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/schaermu/templatesync/internal/classify"
	"github.com/schaermu/templatesync/internal/hashstore"
	"github.com/schaermu/templatesync/internal/ownership"
	"github.com/schaermu/templatesync/internal/tree"
)

// ActionKind describes what the executor did, or would do, to one path.
type ActionKind string

const (
	ActionWrite   ActionKind = "write"
	ActionRemove  ActionKind = "remove"
	ActionSidecar ActionKind = "sidecar"
	// ActionRecord only updates bookkeeping; the project file is kept.
	ActionRecord ActionKind = "record"
	// ActionPending leaves a conflict for a later run.
	ActionPending ActionKind = "pending"
)

// Action is one executor decision.
type Action struct {
	Path       string
	Kind       ActionKind
	Bucket     string
	Resolution Resolution
	Reason     string
}

// FileError is a per-file failure. It does not stop the rest of the batch.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Options controls a single execution.
type Options struct {
	TemplateDir string
	ProjectDir  string
	Mode        Mode
	Resolutions Policy
	// DryRun computes every action and patch without touching the disk.
	DryRun bool
	Logger *slog.Logger
}

// Plan is the baseline-model input to Execute.
type Plan struct {
	Result *classify.Result
	// Identical files get their baseline established or refreshed.
	Identical []tree.Identical
	Baseline  hashstore.Baseline
	// Stale baseline entries name paths neither tree has any more.
	Stale []string
}

// Outcome is what an execution did. The config edits are returned as a
// patch and never applied here.
type Outcome struct {
	Actions []Action
	Errors  []FileError
	// Pending lists conflicts that are still unresolved.
	Pending   []string
	Baseline  *hashstore.Patch
	Ownership *ownership.Patch
}

// Complete reports whether every change was applied or resolved.
func (o *Outcome) Complete() bool {
	return len(o.Errors) == 0 && len(o.Pending) == 0
}

// Touched returns the project paths the execution wrote or removed. Merge
// sidecars are left out; they are scratch files for the user.
func (o *Outcome) Touched() []string {
	var paths []string
	for _, a := range o.Actions {
		if a.Kind == ActionWrite || a.Kind == ActionRemove {
			paths = append(paths, a.Path)
		}
	}
	return paths
}

// Count returns the number of actions of kind.
func (o *Outcome) Count(kind ActionKind) int {
	n := 0
	for _, a := range o.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

type executor struct {
	opts Options
	out  *Outcome
}

func newExecutor(opts Options) *executor {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &executor{opts: opts, out: &Outcome{}}
}

// Execute applies a baseline classification result.
func Execute(plan Plan, opts Options) *Outcome {
	x := newExecutor(opts)
	x.out.Baseline = hashstore.NewPatch()
	if opts.Mode == ModeNone || plan.Result == nil {
		return x.out
	}
	patch := x.out.Baseline

	for _, e := range plan.Result.Safe {
		if x.apply(e.Path, e.Removal(), string(e.Bucket), "", e.Reason) {
			patch.Set(e.Path, e.TemplateFingerprint)
		}
	}

	for _, e := range plan.Result.Conflicts {
		bucket := string(e.Bucket)
		if opts.Mode != ModeAll || e.Status == tree.Clash {
			x.pending(e.Path, bucket, "", e.Reason)
			continue
		}

		r := opts.Resolutions.For(e.Path)
		switch {
		case r == ResolveOverride:
			if x.apply(e.Path, e.Removal(), bucket, r, e.Reason) {
				patch.Set(e.Path, e.TemplateFingerprint)
			}
		case r.keeps():
			x.record(e.Path, bucket, r, e.Reason)
			patch.Set(e.Path, e.TemplateFingerprint)
		case r == ResolveMerge && !e.Removal():
			x.sidecar(e.Path, bucket, e.Reason)
			x.out.Pending = append(x.out.Pending, e.Path)
		default:
			x.pending(e.Path, bucket, r, e.Reason)
		}
	}

	for _, id := range plan.Identical {
		if fp, ok := plan.Baseline.Get(id.Path); !ok || fp != id.Fingerprint {
			patch.Set(id.Path, id.Fingerprint)
		}
	}
	for _, path := range plan.Stale {
		patch.Remove(path)
	}

	return x.out
}

// ExecuteOwnership applies an ownership classification result.
func ExecuteOwnership(r *ownership.Result, opts Options) *Outcome {
	x := newExecutor(opts)
	x.out.Ownership = ownership.NewPatch()
	if opts.Mode == ModeNone || r == nil {
		return x.out
	}
	patch := x.out.Ownership

	for _, e := range r.ToCopy {
		x.apply(e.Path, false, string(e.Bucket), "", e.Reason)
	}
	for _, e := range r.ToDelete {
		x.apply(e.Path, true, string(e.Bucket), "", e.Reason)
	}

	for _, e := range r.Conflicts {
		bucket := string(e.Bucket)
		removed := e.TemplateFingerprint == hashstore.Missing
		if opts.Mode != ModeAll || e.Reason == ownership.ReasonTypeClash {
			x.pending(e.Path, bucket, "", e.Reason)
			continue
		}

		res := opts.Resolutions.For(e.Path)
		switch {
		case res == ResolveOverride:
			if x.apply(e.Path, removed, bucket, res, e.Reason) {
				patch.Hashes.Set(e.Path, e.TemplateFingerprint)
			}
		case res.keeps():
			x.record(e.Path, bucket, res, e.Reason)
			patch.Hashes.Set(e.Path, e.TemplateFingerprint)
		case res == ResolveMerge && !removed:
			x.sidecar(e.Path, bucket, e.Reason)
			x.out.Pending = append(x.out.Pending, e.Path)
		default:
			x.pending(e.Path, bucket, res, e.Reason)
		}
	}

	for _, e := range r.Diverged {
		bucket := string(e.Bucket)
		if opts.Mode != ModeAll {
			x.pending(e.Path, bucket, "", e.Reason)
			continue
		}

		res := opts.Resolutions.For(e.Path)
		switch {
		case res == ResolveOverride:
			x.apply(e.Path, false, bucket, res, e.Reason)
		case res.keeps():
			x.record(e.Path, bucket, res, e.Reason)
			patch.AddOverrides = append(patch.AddOverrides, e.Path)
			patch.Hashes.Set(e.Path, e.TemplateFingerprint)
		case res == ResolveMerge:
			if x.sidecar(e.Path, bucket, e.Reason) {
				patch.AddOverrides = append(patch.AddOverrides, e.Path)
				patch.Hashes.Set(e.Path, e.TemplateFingerprint)
			}
		default:
			x.pending(e.Path, bucket, res, e.Reason)
		}
	}

	return x.out
}

// apply writes the template version of path into the project, or removes
// the project file when remove is set. It reports whether the change
// landed, which is always true in a dry run.
func (x *executor) apply(path string, remove bool, bucket string, r Resolution, reason string) bool {
	action := Action{Path: path, Kind: ActionWrite, Bucket: bucket, Resolution: r, Reason: reason}
	dst := filepath.Join(x.opts.ProjectDir, filepath.FromSlash(path))

	var err error
	if remove {
		action.Kind = ActionRemove
		if !x.opts.DryRun {
			err = removeFile(x.opts.ProjectDir, dst)
		}
	} else if !x.opts.DryRun {
		err = copyFile(filepath.Join(x.opts.TemplateDir, filepath.FromSlash(path)), dst)
	}

	if err != nil {
		x.fail(path, string(action.Kind), err)
		return false
	}
	x.out.Actions = append(x.out.Actions, action)
	return true
}

// sidecar writes the template version of path next to the project file.
func (x *executor) sidecar(path, bucket, reason string) bool {
	if !x.opts.DryRun {
		src := filepath.Join(x.opts.TemplateDir, filepath.FromSlash(path))
		dst := sidecarPath(filepath.Join(x.opts.ProjectDir, filepath.FromSlash(path)))
		if err := copyFile(src, dst); err != nil {
			x.fail(path, string(ActionSidecar), err)
			return false
		}
	}
	x.out.Actions = append(x.out.Actions, Action{Path: path, Kind: ActionSidecar, Bucket: bucket, Resolution: ResolveMerge, Reason: reason})
	return true
}

func (x *executor) record(path, bucket string, r Resolution, reason string) {
	x.out.Actions = append(x.out.Actions, Action{Path: path, Kind: ActionRecord, Bucket: bucket, Resolution: r, Reason: reason})
}

func (x *executor) pending(path, bucket string, r Resolution, reason string) {
	x.out.Actions = append(x.out.Actions, Action{Path: path, Kind: ActionPending, Bucket: bucket, Resolution: r, Reason: reason})
	x.out.Pending = append(x.out.Pending, path)
}

func (x *executor) fail(path, op string, err error) {
	x.opts.Logger.Error("failed to apply change", "path", path, "op", op, "error", err)
	x.out.Errors = append(x.out.Errors, FileError{Path: path, Op: op, Err: err})
}
