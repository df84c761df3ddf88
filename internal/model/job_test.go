package model

import (
	"strings"
	"testing"
)

func batchWithStates(states ...JobState) *Batch {
	b := &Batch{ID: NewBatchID()}
	for _, st := range states {
		b.Jobs = append(b.Jobs, &DownloadJob{ID: NewJobID(), BatchID: b.ID, State: st})
	}
	return b
}

func TestBatch_AggregateState(t *testing.T) {
	tests := []struct {
		name     string
		states   []JobState
		expected BatchState
	}{
		{"all completed", []JobState{JobStateCompleted, JobStateCompleted}, BatchStateCompleted},
		{"all failed", []JobState{JobStateFailed, JobStateFailed}, BatchStateFailed},
		{"all cancelled", []JobState{JobStateCancelled, JobStateCancelled}, BatchStateFailed},
		{"failed and cancelled", []JobState{JobStateFailed, JobStateCancelled}, BatchStateFailed},
		{"mixed with queued", []JobState{JobStateCompleted, JobStateQueued}, BatchStateInProgress},
		{"mixed with running", []JobState{JobStateFailed, JobStateRunning}, BatchStateInProgress},
		{"partial success", []JobState{JobStateCompleted, JobStateFailed, JobStateRunning}, BatchStateInProgress},
	}

	for _, test := range tests {
		b := batchWithStates(test.states...)
		if got := b.AggregateState(); got != test.expected {
			t.Errorf("%s: AggregateState() = %s, expected %s", test.name, got, test.expected)
		}
	}
}

func TestBatch_CountByState_TerminalSum(t *testing.T) {
	b := batchWithStates(JobStateCompleted, JobStateCompleted, JobStateFailed, JobStateCancelled)

	counts := b.CountByState()
	sum := counts[JobStateCompleted] + counts[JobStateFailed] + counts[JobStateCancelled]
	if sum != len(b.Jobs) {
		t.Errorf("terminal state counts sum to %d, expected %d", sum, len(b.Jobs))
	}
}

func TestDownloadJob_ResetProgress(t *testing.T) {
	job := &DownloadJob{
		State:         JobStateFailed,
		BytesReceived: 1024,
		BytesTotal:    4096,
		Rate:          512.0,
		Reason:        ReasonTransfer,
		LastError:     "connection reset",
		Retries:       1,
	}

	job.ResetProgress()

	if job.BytesReceived != 0 {
		t.Errorf("Expected BytesReceived to be 0, got %d", job.BytesReceived)
	}
	if job.BytesTotal != BytesTotalUnknown {
		t.Errorf("Expected BytesTotal to be unknown, got %d", job.BytesTotal)
	}
	if job.Rate != 0 {
		t.Errorf("Expected Rate to be 0, got %f", job.Rate)
	}
	if job.Reason != ReasonNone {
		t.Errorf("Expected Reason to be cleared, got %s", job.Reason)
	}
	if job.LastError != "" {
		t.Errorf("Expected LastError to be cleared, got %q", job.LastError)
	}
	if job.Retries != 1 {
		t.Errorf("Expected Retries to be untouched, got %d", job.Retries)
	}
}

func TestNewJobID(t *testing.T) {
	id1 := NewJobID()
	id2 := NewJobID()

	if id1 == id2 {
		t.Error("Expected different job IDs")
	}
	if !strings.HasPrefix(id1, JobIDPrefix) {
		t.Errorf("Expected ID to start with %q, got: %s", JobIDPrefix, id1)
	}
	if len(id1) != len(JobIDPrefix)+36 {
		t.Errorf("Expected ID length %d, got %d for ID: %s", len(JobIDPrefix)+36, len(id1), id1)
	}
}
