package sync

import "github.com/schaermu/templatesync/internal/config"

// Report summarizes a run.
type Report struct {
	Kind           config.Kind
	Mode           Mode
	DryRun         bool
	TemplateCommit string
	// Classified counts paths per classifier bucket.
	Classified map[string]int

	Applied  int
	Recorded int
	Skipped  int
	Pending  int
	Errored  int
	Errors   []FileError
	Actions  []Action

	// Advanced is set when lastSyncCommit moved to TemplateCommit.
	Advanced  bool
	ChecksErr error
	Commit    string
}

// OK reports whether the run left nothing to follow up on.
func (r *Report) OK() bool {
	return r.Errored == 0 && r.Pending == 0 && r.ChecksErr == nil
}

func (r *Report) addOutcome(o *Outcome) {
	r.Actions = o.Actions
	r.Applied = o.Count(ActionWrite) + o.Count(ActionRemove) + o.Count(ActionSidecar)
	r.Recorded = o.Count(ActionRecord)
	r.Pending = len(o.Pending)
	r.Errors = o.Errors
	r.Errored = len(o.Errors)
}
