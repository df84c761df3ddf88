package model

// JobState represents the lifecycle state of a download job
type JobState string

const (
	// JobStateQueued means the job is waiting for a free worker slot
	JobStateQueued JobState = "Queued"

	// JobStateRunning means a worker is executing the job
	JobStateRunning JobState = "Running"

	// JobStateCompleted means the job finished successfully
	JobStateCompleted JobState = "Completed"

	// JobStateFailed means the job failed after exhausting internal retries
	JobStateFailed JobState = "Failed"

	// JobStateCancelled means the job was cancelled by the user
	JobStateCancelled JobState = "Cancelled"
)

// String returns the string representation of JobState
func (js JobState) String() string {
	return string(js)
}

// IsTerminal returns true if the job reached a final state
func (js JobState) IsTerminal() bool {
	return js == JobStateCompleted || js == JobStateFailed || js == JobStateCancelled
}

// IsActive returns true if a worker currently owns the job
func (js JobState) IsActive() bool {
	return js == JobStateRunning
}

// CanTransitionTo reports whether moving to next is a legal step of the job
// state machine. Transitions are monotonic; the only backward edge is
// Failed -> Queued through an explicit retry.
func (js JobState) CanTransitionTo(next JobState) bool {
	switch js {
	case JobStateQueued:
		return next == JobStateRunning || next == JobStateCancelled
	case JobStateRunning:
		return next.IsTerminal()
	case JobStateFailed:
		return next == JobStateQueued
	default:
		return false
	}
}

// BatchState represents the aggregate state of a batch, derived from the
// states of its jobs
type BatchState string

const (
	// BatchStateInProgress means at least one job has not finished yet
	BatchStateInProgress BatchState = "InProgress"

	// BatchStateCompleted means every job completed successfully
	BatchStateCompleted BatchState = "Completed"

	// BatchStateFailed means every job reached a terminal non-success state
	BatchStateFailed BatchState = "Failed"
)

// String returns the string representation of BatchState
func (bs BatchState) String() string {
	return string(bs)
}
