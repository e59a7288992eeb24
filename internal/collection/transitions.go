package collection

import "fmt"

// allowedJobTransitions is the job state machine. Every status write must be
// explainable by a collector-driven outcome or an explicit reconciliation
// decision; anything outside this table is a bug, not a default.
var allowedJobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusProcessing},
	// processing -> pending requeues a job whose poll loop died after the
	// remote run finished; the executor re-claims it and resumes from the
	// remote status.
	JobStatusProcessing: {JobStatusPending, JobStatusDone, JobStatusEmptyResult, JobStatusFailed, JobStatusQuotaExceeded},
	// empty_result -> pending is the reconciliation retry path and the only
	// transition allowed to touch retry_count.
	JobStatusEmptyResult: {JobStatusPending, JobStatusVerified},
	JobStatusDone:        {JobStatusVerified},
	// failed -> done is the stale-failure correction, taken only when the
	// collector confirms the remote run actually finished.
	JobStatusFailed: {JobStatusDone},
}

// CanTransitionJob reports whether the job state machine allows from -> to.
func CanTransitionJob(from, to JobStatus) bool {
	for _, next := range allowedJobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateJobTransition returns a descriptive error for a disallowed move.
func ValidateJobTransition(from, to JobStatus) error {
	if !CanTransitionJob(from, to) {
		return fmt.Errorf("job transition %s -> %s not allowed", from, to)
	}
	return nil
}
