package models

// PlanStatus is the reconciler outcome for one project
type PlanStatus string

const (
	PlanStatusUnset          PlanStatus = ""                     // Zero value = not yet decided
	PlanStatusSkippedMissing PlanStatus = "skipped_missing_urls" // No cover or empty gallery; never written
	PlanStatusDryRun         PlanStatus = "dry_run"              // Planned but not applied
	PlanStatusApplied        PlanStatus = "applied"              // Written to the content store
	PlanStatusError          PlanStatus = "error"                // Write failed
)

// String implements fmt.Stringer for logging
func (s PlanStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known terminal value
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanStatusSkippedMissing, PlanStatusDryRun, PlanStatusApplied, PlanStatusError:
		return true
	}
	return false
}

// Severity is the level of a validator finding
type Severity string

const (
	SeverityOK    Severity = "ok"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// String implements fmt.Stringer for logging
func (s Severity) String() string {
	if s == "" {
		return string(SeverityOK)
	}
	return string(s)
}

// Rank orders severities so the worst finding per project can be picked
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarn:
		return 1
	}
	return 0
}

// EventType names an upload lifecycle event
type EventType string

const (
	EventRunStart   EventType = "run_start"
	EventFileSkip   EventType = "file_skip"
	EventFileDryRun EventType = "file_dry_run"
	EventFileRetry  EventType = "file_retry"
	EventFileDone   EventType = "file_done"
	EventFileFailed EventType = "file_failed"
	EventRunDone    EventType = "run_done"
)

// Image size keys of the optimizer, largest first
const (
	SizeLarge  = "lg"
	SizeMedium = "md"
	SizeSmall  = "sm"
)

// SizeKeys lists every derivative size in output order
var SizeKeys = []string{SizeLarge, SizeMedium, SizeSmall}
