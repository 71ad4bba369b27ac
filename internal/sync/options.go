package sync

import (
	"fmt"
	"strings"

	"github.com/schaermu/templatesync/internal/scope"
)

// Mode selects which classified changes a run applies.
type Mode string

const (
	// ModeNone applies nothing and only reports.
	ModeNone Mode = "none"
	// ModeSafe applies changes that cannot lose project work.
	ModeSafe Mode = "safe"
	// ModeAll applies safe changes and resolves conflicts per policy.
	ModeAll Mode = "all"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeNone, ModeSafe, ModeAll:
		return m, nil
	case "":
		return ModeSafe, nil
	default:
		return "", fmt.Errorf("invalid sync mode %q (must be none, safe or all)", s)
	}
}

// Resolution decides what happens to a conflict.
type Resolution string

const (
	// ResolveOverride writes the template version over the project file.
	ResolveOverride Resolution = "override"
	// ResolveSkip keeps the project file and records the template version
	// as seen.
	ResolveSkip Resolution = "skip"
	// ResolveKeep is the ownership name for ResolveSkip: the project keeps
	// its version and the path becomes an override.
	ResolveKeep Resolution = "keep"
	// ResolveMerge writes the template version to a sidecar file.
	ResolveMerge Resolution = "merge"
	// ResolveNothing leaves the conflict pending.
	ResolveNothing Resolution = "nothing"
)

// ParseResolution validates a resolution name.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(s)); r {
	case ResolveOverride, ResolveSkip, ResolveKeep, ResolveMerge, ResolveNothing:
		return r, nil
	case "":
		return ResolveNothing, nil
	default:
		return "", fmt.Errorf("invalid resolution %q (must be override, skip, keep, merge or nothing)", s)
	}
}

// keeps reports whether r keeps the project's version.
func (r Resolution) keeps() bool {
	return r == ResolveSkip || r == ResolveKeep
}

// Policy maps conflicts to resolutions: a default plus per-path choices.
type Policy struct {
	Default Resolution
	Paths   map[string]Resolution
}

// For returns the resolution for path.
func (p Policy) For(path string) Resolution {
	if r, ok := p.Paths[path]; ok {
		return r
	}
	if p.Default == "" {
		return ResolveNothing
	}
	return p.Default
}

// ParsePathResolutions parses "path=resolution" pairs.
func ParsePathResolutions(pairs []string) (map[string]Resolution, error) {
	out := make(map[string]Resolution, len(pairs))
	for _, pair := range pairs {
		path, name, ok := strings.Cut(pair, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid path resolution %q (want path=resolution)", pair)
		}
		r, err := ParseResolution(name)
		if err != nil {
			return nil, err
		}
		out[scope.Normalize(path)] = r
	}
	return out, nil
}
