// Package ownership classifies paths under the declared-intent model: the
// template owns the paths matched by templatePaths, and the project lists
// the owned paths it deliberately customizes as overrides.
package ownership

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/schaermu/templatesync/internal/config"
	"github.com/schaermu/templatesync/internal/hashstore"
	"github.com/schaermu/templatesync/internal/scope"
	"github.com/schaermu/templatesync/internal/tree"
)

// Bucket is the outcome of classifying one owned path.
type Bucket string

const (
	Copy      Bucket = "copy"
	Delete    Bucket = "delete"
	Conflict  Bucket = "conflict"
	Diverged  Bucket = "diverged"
	Unchanged Bucket = "unchanged"
	Excluded  Bucket = "excluded"
)

// Reasons attached to entries.
const (
	ReasonMissingInProject  = "template file missing from project"
	ReasonRemovedByTemplate = "template no longer has this file"
	ReasonOverrideChanged   = "template changed a file the project overrides"
	ReasonOverrideRemoved   = "template removed a file the project overrides"
	ReasonOverrideNoHash    = "override has no recorded template hash"
	ReasonUndeclaredEdit    = "project changed an owned file without declaring an override"
	ReasonInSync            = "in sync"
	ReasonOverrideUnchanged = "template left the override alone"
	ReasonOverrideDropped   = "template no longer has the override"
	ReasonTypeClash         = "file on one side, directory on the other"
	ReasonSidecar           = "merge sidecar of an override"
)

// Entry is a classified owned path.
type Entry struct {
	Path                string
	Bucket              Bucket
	TemplateFingerprint string
	ProjectFingerprint  string
	// Override is set when the project declared the path as customized.
	Override bool
	Reason   string
}

// Result partitions every owned path.
type Result struct {
	ToCopy    []Entry
	ToDelete  []Entry
	Conflicts []Entry
	Diverged  []Entry
	Unchanged []Entry
	Excluded  []Entry
}

// Len returns the number of classified paths.
func (r *Result) Len() int {
	return len(r.ToCopy) + len(r.ToDelete) + len(r.Conflicts) + len(r.Diverged) + len(r.Unchanged) + len(r.Excluded)
}

// All returns every entry, bucket by bucket.
func (r *Result) All() []Entry {
	all := make([]Entry, 0, r.Len())
	for _, b := range [][]Entry{r.ToCopy, r.ToDelete, r.Conflicts, r.Diverged, r.Unchanged, r.Excluded} {
		all = append(all, b...)
	}
	return all
}

// Rules is an immutable snapshot of an OwnershipConfig plus the run's
// extra exclusions.
type Rules struct {
	owned          scope.Set
	overrides      map[string]bool
	overrideHashes hashstore.Baseline
	filter         *scope.Filter
}

// NewRules compiles cfg. exclusions are merged into the config's
// ignoredFiles for this run; internal patterns are never synced.
func NewRules(cfg *config.OwnershipConfig, internal, exclusions []string) (*Rules, error) {
	owned, err := scope.CompileSet(cfg.TemplatePaths)
	if err != nil {
		return nil, err
	}
	filter, err := scope.New(scope.Rules{
		Internal:        internal,
		Ignored:         cfg.IgnoredFiles,
		TemplateIgnored: exclusions,
	})
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]bool, len(cfg.ProjectOverrides))
	for _, o := range cfg.ProjectOverrides {
		overrides[scope.Normalize(o)] = true
	}

	return &Rules{
		owned:          owned,
		overrides:      overrides,
		overrideHashes: hashstore.NewBaseline(cfg.OverrideHashes),
		filter:         filter,
	}, nil
}

// Owned reports whether path falls under a templatePaths glob.
func (r *Rules) Owned(path string) bool {
	_, ok := r.owned.Match(path)
	return ok
}

// IsOverride reports whether path is a declared override.
func (r *Rules) IsOverride(path string) bool {
	return r.overrides[path]
}

// Classify sorts every owned path found in the comparison. Paths outside
// templatePaths are not the template's business and are left out. Entries
// in each bucket are ordered by path.
func Classify(c *tree.Comparison, rules *Rules) *Result {
	r := &Result{}
	add := func(e Entry) {
		switch e.Bucket {
		case Copy:
			r.ToCopy = append(r.ToCopy, e)
		case Delete:
			r.ToDelete = append(r.ToDelete, e)
		case Conflict:
			r.Conflicts = append(r.Conflicts, e)
		case Diverged:
			r.Diverged = append(r.Diverged, e)
		case Excluded:
			r.Excluded = append(r.Excluded, e)
		default:
			r.Unchanged = append(r.Unchanged, e)
		}
	}

	owned := make([]tree.FileChange, 0, len(c.Changes)+len(c.Identical))
	for _, ch := range c.Changes {
		if rules.Owned(ch.Path) {
			owned = append(owned, ch)
		}
	}
	for _, id := range c.Identical {
		if rules.Owned(id.Path) {
			owned = append(owned, tree.FileChange{
				Path:                id.Path,
				TemplateFingerprint: id.Fingerprint,
				ProjectFingerprint:  id.Fingerprint,
			})
		}
	}
	slices.SortFunc(owned, func(a, b tree.FileChange) int {
		return cmp.Compare(a.Path, b.Path)
	})

	for _, ch := range owned {
		add(classifyOne(ch, rules))
	}

	return r
}

// classifyOne handles a single owned path. An empty Status means the two
// sides are identical.
func classifyOne(c tree.FileChange, rules *Rules) Entry {
	e := Entry{
		Path:                c.Path,
		TemplateFingerprint: c.TemplateFingerprint,
		ProjectFingerprint:  c.ProjectFingerprint,
		Override:            rules.IsOverride(c.Path),
	}

	if reason, skip := rules.filter.Match(c.Path); skip {
		e.Bucket, e.Reason = Excluded, string(reason)
		return e
	}

	if c.Status == tree.Clash {
		e.Bucket, e.Reason = Conflict, ReasonTypeClash
		return e
	}

	if e.Override {
		hash, ok := rules.overrideHashes.Get(c.Path)
		switch {
		case !ok && c.TemplateFingerprint == hashstore.Missing:
			// A kept removal drops the hash; the template re-adding the
			// file raises it again.
			e.Bucket, e.Reason = Unchanged, ReasonOverrideDropped
		case !ok:
			e.Bucket, e.Reason = Conflict, ReasonOverrideNoHash
		case c.TemplateFingerprint == hash:
			e.Bucket, e.Reason = Unchanged, ReasonOverrideUnchanged
		case c.TemplateFingerprint == hashstore.Missing:
			e.Bucket, e.Reason = Conflict, ReasonOverrideRemoved
		default:
			e.Bucket, e.Reason = Conflict, ReasonOverrideChanged
		}
		return e
	}

	switch c.Status {
	case tree.Added:
		e.Bucket, e.Reason = Copy, ReasonMissingInProject
	case tree.Deleted:
		if base, ok := strings.CutSuffix(c.Path, config.SidecarSuffix); ok && rules.IsOverride(base) {
			e.Bucket, e.Reason = Excluded, ReasonSidecar
			return e
		}
		e.Bucket, e.Reason = Delete, ReasonRemovedByTemplate
	case tree.Modified:
		e.Bucket, e.Reason = Diverged, ReasonUndeclaredEdit
	default:
		e.Bucket, e.Reason = Unchanged, ReasonInSync
	}
	return e
}

// Patch holds the OwnershipConfig edits produced by a run.
type Patch struct {
	AddOverrides []string
	Hashes       *hashstore.Patch
}

// NewPatch returns an empty patch.
func NewPatch() *Patch {
	return &Patch{Hashes: hashstore.NewPatch()}
}

// Empty reports whether the patch carries no edits.
func (p *Patch) Empty() bool {
	return p == nil || (len(p.AddOverrides) == 0 && p.Hashes.Empty())
}

// Apply writes the patch into cfg.
func (p *Patch) Apply(cfg *config.OwnershipConfig) {
	if p == nil {
		return
	}
	for _, path := range p.AddOverrides {
		if !cfg.IsOverride(path) {
			cfg.ProjectOverrides = append(cfg.ProjectOverrides, path)
		}
	}
	cfg.OverrideHashes = p.Hashes.Apply(maps.Clone(cfg.OverrideHashes))
}
