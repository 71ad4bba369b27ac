// Package scope decides which paths take part in a sync run.
package scope

import (
	"fmt"
)

// Reason names the rule that took a path out of scope.
type Reason string

const (
	ReasonIgnored         Reason = "ignored"
	ReasonProjectSpecific Reason = "project-specific"
	ReasonTemplateIgnored Reason = "template-ignored"
	ReasonInternal        Reason = "internal"
)

// Rules lists the glob patterns feeding a Filter, one slice per reason.
type Rules struct {
	Ignored         []string
	ProjectSpecific []string
	TemplateIgnored []string
	Internal        []string
}

// Set is an ordered list of compiled patterns.
type Set []*Pattern

// CompileSet compiles every pattern, failing on the first malformed one.
func CompileSet(patterns []string) (Set, error) {
	set := make(Set, 0, len(patterns))
	for _, raw := range patterns {
		p, err := Compile(raw)
		if err != nil {
			return nil, err
		}
		set = append(set, p)
	}
	return set, nil
}

// Match returns the first pattern matching path.
func (s Set) Match(path string) (*Pattern, bool) {
	for _, p := range s {
		if p.Match(path) {
			return p, true
		}
	}
	return nil, false
}

type group struct {
	reason Reason
	set    Set
}

// Filter is the merged ignore set for one run. A nil Filter keeps every path.
type Filter struct {
	groups []group
}

// New compiles rules into a Filter. A malformed glob is a configuration
// error and must abort the run before anything is written.
func New(rules Rules) (*Filter, error) {
	f := &Filter{}
	for _, g := range []struct {
		reason   Reason
		patterns []string
	}{
		{ReasonInternal, rules.Internal},
		{ReasonIgnored, rules.Ignored},
		{ReasonProjectSpecific, rules.ProjectSpecific},
		{ReasonTemplateIgnored, rules.TemplateIgnored},
	} {
		set, err := CompileSet(g.patterns)
		if err != nil {
			return nil, fmt.Errorf("%s patterns: %w", g.reason, err)
		}
		if len(set) > 0 {
			f.groups = append(f.groups, group{reason: g.reason, set: set})
		}
	}
	return f, nil
}

// Match returns the reason path is out of scope, if any.
func (f *Filter) Match(path string) (Reason, bool) {
	if f == nil {
		return "", false
	}
	for _, g := range f.groups {
		if _, ok := g.set.Match(path); ok {
			return g.reason, true
		}
	}
	return "", false
}

// Skip reports whether path is out of scope.
func (f *Filter) Skip(path string) bool {
	_, skip := f.Match(path)
	return skip
}
