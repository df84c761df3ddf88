package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ID prefixes
const (
	JobIDPrefix   = "job-"
	BatchIDPrefix = "batch-"
)

// BytesTotalUnknown marks a transfer whose total size is not known yet
const BytesTotalUnknown int64 = -1

// PostStep names one post-processing operation requested for a job
type PostStep string

const (
	// PostAudioTranscode converts the raw stream to the target audio codec
	PostAudioTranscode PostStep = "AudioTranscode"

	// PostSubtitleExtract writes the item's subtitle track beside the stream
	PostSubtitleExtract PostStep = "SubtitleExtract"

	// PostThumbnailSave saves the item's thumbnail beside the stream
	PostThumbnailSave PostStep = "ThumbnailSave"
)

// DownloadJob is the unit of work submitted to the scheduler. A job belongs
// to exactly one batch and one item. After scheduling it is mutated only by
// the scheduler's control path; workers report back through the event
// channel instead of writing shared state.
type DownloadJob struct {
	ID      string
	BatchID string
	Item    *ItemDescriptor

	// Selection is fixed at schedule time; changing quality afterwards
	// requires a new job, never a mutation of a running one.
	Selection FormatSelection

	// Format is the concrete descriptor, set once at the lazy resolution
	// point.
	Format *FormatDescriptor

	// DestPath is the destination path template for this job, with
	// collision disambiguation already applied. Placeholders that depend on
	// transfer-time knowledge (extension, late title) are substituted at
	// finalization.
	DestPath string

	PostSteps []PostStep

	State          JobState
	BytesReceived  int64
	BytesTotal     int64 // BytesTotalUnknown until the backend reports it
	Rate           float64
	Reason         Reason
	LastError      string
	Retries        int
	Degraded       bool
	DegradedReason string

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// ResetProgress clears the progress counters for an explicit retry
func (j *DownloadJob) ResetProgress() {
	j.BytesReceived = 0
	j.BytesTotal = BytesTotalUnknown
	j.Rate = 0
	j.Reason = ReasonNone
	j.LastError = ""
	j.Degraded = false
	j.DegradedReason = ""
	j.StartedAt = time.Time{}
	j.FinishedAt = time.Time{}
}

// Batch is an ordered set of jobs created together from one resolved URL
type Batch struct {
	ID        string
	SourceURL string
	Kind      SourceKind
	Title     string
	Jobs      []*DownloadJob

	// Skipped counts items that were unavailable during resolution and
	// excluded from the job list.
	Skipped int

	CreatedAt time.Time
}

// AggregateState derives the batch state as a pure function of its jobs'
// states: Completed if all jobs completed, Failed if every job reached a
// terminal non-success state, InProgress otherwise.
func (b *Batch) AggregateState() BatchState {
	return AggregateState(b.Jobs)
}

// AggregateState computes the batch aggregate for any job slice; see
// Batch.AggregateState.
func AggregateState(jobs []*DownloadJob) BatchState {
	allCompleted := true
	allTerminalNonSuccess := len(jobs) > 0
	for _, j := range jobs {
		if j.State != JobStateCompleted {
			allCompleted = false
		}
		if !j.State.IsTerminal() || j.State == JobStateCompleted {
			allTerminalNonSuccess = false
		}
	}
	switch {
	case allCompleted:
		return BatchStateCompleted
	case allTerminalNonSuccess:
		return BatchStateFailed
	default:
		return BatchStateInProgress
	}
}

// CountByState returns the number of jobs per state
func (b *Batch) CountByState() map[JobState]int {
	counts := make(map[JobState]int)
	for _, j := range b.Jobs {
		counts[j.State]++
	}
	return counts
}

// NewJobID generates a unique job ID using UUID v7 for time ordering
func NewJobID() string {
	return newID(JobIDPrefix)
}

// NewBatchID generates a unique batch ID
func NewBatchID() string {
	return newID(BatchIDPrefix)
}

func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to timestamp if UUID generation fails
		return fmt.Sprintf(prefix+"%d", time.Now().UnixNano())
	}
	return prefix + id.String()
}
