package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/templatesync/internal/hashstore"
	"github.com/schaermu/templatesync/internal/scope"
)

const (
	// FileName is the project config written by init.
	FileName = ".templatesync.yaml"
	// LegacyFileName is the JSON config of older projects. Comments and
	// trailing commas are tolerated.
	LegacyFileName = ".templatesync.json"
	// LockFileName guards a project against concurrent runs.
	LockFileName = ".templatesync.lock"
	// SidecarSuffix is appended to a path to hold the template version of
	// a conflict left for manual merging.
	SidecarSuffix = ".template"

	// DefaultBranch is used when templateBranch is empty.
	DefaultBranch = "main"
)

// ErrNotFound is returned when a project has no config file.
var ErrNotFound = errors.New("config file not found")

// Kind discriminates the two config shapes.
type Kind string

const (
	KindSync      Kind = "sync"
	KindOwnership Kind = "ownership"
)

// Format is the on-disk encoding of a config file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Source describes where the template lives and how far the project has
// been synced with it. Both config shapes carry it.
type Source struct {
	TemplateRepoLocation string     `yaml:"templateRepoLocation" json:"templateRepoLocation"`
	TemplateBranch       string     `yaml:"templateBranch" json:"templateBranch"`
	LastSyncCommit       string     `yaml:"lastSyncCommit,omitempty" json:"lastSyncCommit,omitempty"`
	LastSyncDate         *time.Time `yaml:"lastSyncDate,omitempty" json:"lastSyncDate,omitempty"`
}

// RepoLocation returns the template location with environment variables expanded.
func (s *Source) RepoLocation() string {
	return os.ExpandEnv(s.TemplateRepoLocation)
}

// Branch returns the template branch, falling back to DefaultBranch.
func (s *Source) Branch() string {
	if s.TemplateBranch == "" {
		return DefaultBranch
	}
	return s.TemplateBranch
}

// MarkSynced advances the commit pointer and sync date.
func (s *Source) MarkSynced(commit string, at time.Time) {
	s.LastSyncCommit = commit
	at = at.UTC().Truncate(time.Second)
	s.LastSyncDate = &at
}

// IsHTTPS returns true if the template location uses HTTPS
func (s *Source) IsHTTPS() bool {
	return strings.HasPrefix(s.RepoLocation(), "https://")
}

// IsSSH returns true if the template location uses SSH
func (s *Source) IsSSH() bool {
	loc := s.RepoLocation()
	return strings.HasPrefix(loc, "git@") || strings.HasPrefix(loc, "ssh://")
}

// SyncConfig is the baseline-tracking config shape.
type SyncConfig struct {
	Source `yaml:",inline"`

	// FileHashes is the baseline: path -> last agreed fingerprint.
	FileHashes           map[string]string `yaml:"fileHashes" json:"fileHashes"`
	IgnoredFiles         []string          `yaml:"ignoredFiles,omitempty" json:"ignoredFiles,omitempty"`
	ProjectSpecificFiles []string          `yaml:"projectSpecificFiles,omitempty" json:"projectSpecificFiles,omitempty"`
	TemplateIgnoredFiles []string          `yaml:"templateIgnoredFiles,omitempty" json:"templateIgnoredFiles,omitempty"`
	Checks               []string          `yaml:"checks,omitempty" json:"checks,omitempty"`
}

// Baseline returns an immutable snapshot of the file hashes.
func (c *SyncConfig) Baseline() hashstore.Baseline {
	return hashstore.NewBaseline(c.FileHashes)
}

// ApplyBaseline writes a baseline patch into FileHashes.
func (c *SyncConfig) ApplyBaseline(p *hashstore.Patch) {
	c.FileHashes = p.Apply(c.FileHashes)
}

// OwnershipConfig is the declared-intent config shape. The presence of the
// templatePaths key identifies it.
type OwnershipConfig struct {
	Source `yaml:",inline"`

	TemplatePaths    []string          `yaml:"templatePaths" json:"templatePaths"`
	ProjectOverrides []string          `yaml:"projectOverrides" json:"projectOverrides"`
	OverrideHashes   map[string]string `yaml:"overrideHashes" json:"overrideHashes"`
	IgnoredFiles     []string          `yaml:"ignoredFiles,omitempty" json:"ignoredFiles,omitempty"`
	Checks           []string          `yaml:"checks,omitempty" json:"checks,omitempty"`
}

// IsOverride reports whether the project declared path as customized.
func (c *OwnershipConfig) IsOverride(path string) bool {
	for _, o := range c.ProjectOverrides {
		if scope.Normalize(o) == path {
			return true
		}
	}
	return false
}

// File is a loaded config resolved to exactly one of its shapes.
type File struct {
	Path   string
	Format Format
	Kind   Kind

	Sync      *SyncConfig
	Ownership *OwnershipConfig
}

// Source returns the fields shared by both shapes.
func (f *File) Source() *Source {
	if f.Kind == KindOwnership {
		return &f.Ownership.Source
	}
	return &f.Sync.Source
}

// Checks returns the validation commands of either shape.
func (f *File) Checks() []string {
	if f.Kind == KindOwnership {
		return f.Ownership.Checks
	}
	return f.Sync.Checks
}

// NewSyncFile returns a fresh baseline-tracking config to be saved at path.
func NewSyncFile(path, repo, branch string) *File {
	return &File{
		Path:   path,
		Format: formatFor(path),
		Kind:   KindSync,
		Sync: &SyncConfig{
			Source:     Source{TemplateRepoLocation: repo, TemplateBranch: branch},
			FileHashes: map[string]string{},
		},
	}
}

// Find returns the config file path inside dir, preferring FileName over
// LegacyFileName.
func Find(dir string) (string, error) {
	for _, name := range []string{FileName, LegacyFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to stat config file: %w", err)
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNotFound, dir)
}

// LoadProject finds and loads the config of the project rooted at dir.
func LoadProject(dir string) (*File, error) {
	path, err := Find(dir)
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Load reads, parses and validates a config file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	f, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	f.Path = path

	f.applyDefaults()

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return f, nil
}

// Parse decodes data and resolves which shape it holds.
func Parse(data []byte, format Format) (*File, error) {
	if format == FormatJSON {
		data = jsonc.ToJSON(data)
	}

	keys, err := topLevelKeys(data, format)
	if err != nil {
		return nil, err
	}

	_, hasTemplatePaths := keys["templatePaths"]
	_, hasFileHashes := keys["fileHashes"]
	if hasTemplatePaths && hasFileHashes {
		return nil, fmt.Errorf("ambiguous config: both templatePaths and fileHashes are set")
	}

	f := &File{Format: format}
	if hasTemplatePaths {
		f.Kind = KindOwnership
		f.Ownership = &OwnershipConfig{}
		err = decode(data, format, f.Ownership)
	} else {
		f.Kind = KindSync
		f.Sync = &SyncConfig{}
		err = decode(data, format, f.Sync)
	}
	if err != nil {
		return nil, err
	}

	return f, nil
}

func topLevelKeys(data []byte, format Format) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	if format == FormatJSON {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, err
		}
		for k := range probe {
			keys[k] = struct{}{}
		}
		return keys, nil
	}

	var probe map[string]yaml.Node
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	for k := range probe {
		keys[k] = struct{}{}
	}
	return keys, nil
}

func decode(data []byte, format Format, v any) error {
	if format == FormatJSON {
		return json.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (f *File) applyDefaults() {
	switch f.Kind {
	case KindOwnership:
		if f.Ownership.OverrideHashes == nil {
			f.Ownership.OverrideHashes = map[string]string{}
		}
		if f.Ownership.ProjectOverrides == nil {
			f.Ownership.ProjectOverrides = []string{}
		}
	default:
		if f.Sync.FileHashes == nil {
			f.Sync.FileHashes = map[string]string{}
		}
	}
}

// Validate checks the configuration for errors. Malformed globs are caught
// here so a run aborts before touching the filesystem.
func (f *File) Validate() error {
	if f.Source().TemplateRepoLocation == "" {
		return fmt.Errorf("templateRepoLocation is required")
	}

	var globs map[string][]string
	switch f.Kind {
	case KindSync:
		globs = map[string][]string{
			"ignoredFiles":         f.Sync.IgnoredFiles,
			"projectSpecificFiles": f.Sync.ProjectSpecificFiles,
			"templateIgnoredFiles": f.Sync.TemplateIgnoredFiles,
		}
	case KindOwnership:
		if len(f.Ownership.TemplatePaths) == 0 {
			return fmt.Errorf("templatePaths must list at least one glob")
		}
		globs = map[string][]string{
			"templatePaths": f.Ownership.TemplatePaths,
			"ignoredFiles":  f.Ownership.IgnoredFiles,
		}
		for _, o := range f.Ownership.ProjectOverrides {
			if HasGlobMeta(o) {
				return fmt.Errorf("projectOverrides entry %q must be a path, not a glob", o)
			}
		}
	default:
		return fmt.Errorf("unknown config kind %q", f.Kind)
	}

	for _, field := range []string{"templatePaths", "ignoredFiles", "projectSpecificFiles", "templateIgnoredFiles"} {
		if _, err := scope.CompileSet(globs[field]); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}

	return nil
}

// Encode renders the config with stable key order and a trailing newline.
func (f *File) Encode() ([]byte, error) {
	var v any = f.Sync
	if f.Kind == KindOwnership {
		v = f.Ownership
	}

	if f.Format == FormatJSON {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the config atomically via a temp file in the same directory.
func (f *File) Save() error {
	data, err := f.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := f.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// HasGlobMeta reports whether s contains glob syntax.
func HasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// InternalPatterns lists the paths a sync must never touch: git metadata
// and the tool's own bookkeeping files.
func InternalPatterns() []string {
	return []string{
		".git/**",
		FileName,
		FileName + ".tmp",
		LegacyFileName,
		LegacyFileName + ".tmp",
		LockFileName,
	}
}
