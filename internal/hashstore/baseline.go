package hashstore

import (
	"maps"
	"slices"
)

// Baseline is a read-only snapshot of the persisted path -> fingerprint map.
// Classification reads it; changes are expressed as a Patch instead.
type Baseline struct {
	hashes map[string]string
}

// NewBaseline copies hashes so later edits to the source map are not observed.
func NewBaseline(hashes map[string]string) Baseline {
	return Baseline{hashes: maps.Clone(hashes)}
}

// Get returns the recorded fingerprint for path. ok is false when no
// baseline was ever established for it.
func (b Baseline) Get(path string) (fingerprint string, ok bool) {
	fingerprint, ok = b.hashes[path]
	return fingerprint, ok
}

// Len returns the number of tracked paths.
func (b Baseline) Len() int {
	return len(b.hashes)
}

// Patch collects baseline edits produced by a sync run. Nothing is written
// until the caller applies it to the config and persists that.
type Patch struct {
	set    map[string]string
	remove map[string]struct{}
}

// NewPatch returns an empty patch.
func NewPatch() *Patch {
	return &Patch{
		set:    make(map[string]string),
		remove: make(map[string]struct{}),
	}
}

// Set records fingerprint as the new baseline for path. Setting Missing
// is the same as Remove.
func (p *Patch) Set(path, fingerprint string) {
	if fingerprint == Missing {
		p.Remove(path)
		return
	}
	delete(p.remove, path)
	p.set[path] = fingerprint
}

// Remove drops the baseline for path.
func (p *Patch) Remove(path string) {
	delete(p.set, path)
	p.remove[path] = struct{}{}
}

// Lookup reports the pending edit for path. removed is true when the patch
// drops the entry.
func (p *Patch) Lookup(path string) (fingerprint string, removed, ok bool) {
	if fp, found := p.set[path]; found {
		return fp, false, true
	}
	if _, found := p.remove[path]; found {
		return Missing, true, true
	}
	return "", false, false
}

// Empty reports whether the patch carries no edits.
func (p *Patch) Empty() bool {
	return p == nil || (len(p.set) == 0 && len(p.remove) == 0)
}

// Len returns the number of edited paths.
func (p *Patch) Len() int {
	if p == nil {
		return 0
	}
	return len(p.set) + len(p.remove)
}

// Paths returns the edited paths in sorted order.
func (p *Patch) Paths() []string {
	if p == nil {
		return nil
	}
	paths := make([]string, 0, p.Len())
	for path := range p.set {
		paths = append(paths, path)
	}
	for path := range p.remove {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// Apply writes the edits into hashes, allocating the map if needed, and
// returns it.
func (p *Patch) Apply(hashes map[string]string) map[string]string {
	if hashes == nil {
		hashes = make(map[string]string)
	}
	if p == nil {
		return hashes
	}
	for path := range p.remove {
		delete(hashes, path)
	}
	for path, fp := range p.set {
		hashes[path] = fp
	}
	return hashes
}

// Merge folds other into p; edits in other win.
func (p *Patch) Merge(other *Patch) {
	if other == nil {
		return
	}
	for path := range other.remove {
		p.Remove(path)
	}
	for path, fp := range other.set {
		p.Set(path, fp)
	}
}
