package download

import "github.com/tetor-04/IDM-YT/internal/model"

// EventType distinguishes what a worker is reporting
type EventType int

const (
	// EventProgress carries updated byte counters for a running transfer
	EventProgress EventType = iota

	// EventMetadata carries item metadata fetched at the lazy resolution
	// point: title, ranked formats and the descriptor picked for transfer
	EventMetadata

	// EventState carries a terminal state for the job
	EventState
)

// Event is a worker report. Workers only ever send events; the control loop
// is the sole writer of job state, which keeps the jobs race-free without a
// lock around every field.
type Event struct {
	Type  EventType
	JobID string

	// Progress fields
	BytesReceived int64
	BytesTotal    int64
	Rate          float64 // bytes per second, smoothed

	// Metadata fields
	Title   string
	Formats []model.FormatDescriptor
	Format  *model.FormatDescriptor

	// Terminal state fields
	State          model.JobState
	Reason         model.Reason
	LastError      string
	Degraded       bool
	DegradedReason string
	DestPath       string
}
