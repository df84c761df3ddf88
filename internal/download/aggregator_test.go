package download

import (
	"testing"
	"time"

	"github.com/tetor-04/IDM-YT/internal/model"
)

func aggBatch(states ...model.JobState) (*model.Batch, *Aggregator) {
	batch := &model.Batch{ID: "batch-agg", CreatedAt: time.Now()}
	for _, st := range states {
		batch.Jobs = append(batch.Jobs, &model.DownloadJob{
			ID:         model.NewJobID(),
			BatchID:    batch.ID,
			Item:       &model.ItemDescriptor{ID: "vid"},
			State:      st,
			BytesTotal: model.BytesTotalUnknown,
		})
	}
	return batch, NewAggregator(batch)
}

func TestSnapshot_EmptyBatchIsCompleted(t *testing.T) {
	_, agg := aggBatch()
	p := agg.Snapshot()
	if p.State != model.BatchStateCompleted {
		t.Errorf("Expected empty batch to aggregate as completed, got %s", p.State)
	}
	if p.Ratio() != 1.0 {
		t.Errorf("Expected ratio 1.0 for empty batch, got %f", p.Ratio())
	}
}

func TestSnapshot_States(t *testing.T) {
	tests := []struct {
		name     string
		states   []model.JobState
		expected model.BatchState
	}{
		{"all queued", []model.JobState{model.JobStateQueued, model.JobStateQueued}, model.BatchStateInProgress},
		{"all completed", []model.JobState{model.JobStateCompleted, model.JobStateCompleted}, model.BatchStateCompleted},
		{"all failed", []model.JobState{model.JobStateFailed, model.JobStateFailed}, model.BatchStateFailed},
		{"failed and cancelled", []model.JobState{model.JobStateFailed, model.JobStateCancelled}, model.BatchStateFailed},
		{"mixed success and failure", []model.JobState{model.JobStateCompleted, model.JobStateFailed}, model.BatchStateInProgress},
		{"one still running", []model.JobState{model.JobStateCompleted, model.JobStateRunning}, model.BatchStateInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, agg := aggBatch(tt.states...)
			if got := agg.Snapshot().State; got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestSnapshot_ByteRatioOnlyWhenAllTotalsKnown(t *testing.T) {
	batch, agg := aggBatch(model.JobStateRunning, model.JobStateRunning)

	// Only one job has a known total; ratio must fall back to terminal
	// job counting instead of trusting partial byte sums.
	batch.Jobs[0].BytesReceived = 500
	batch.Jobs[0].BytesTotal = 1000
	agg.Update(batch.Jobs[0])

	p := agg.Snapshot()
	if p.KnownTotals != 1 {
		t.Fatalf("Expected 1 known total, got %d", p.KnownTotals)
	}
	if r := p.Ratio(); r != 0.0 {
		t.Errorf("Expected job-count ratio 0.0, got %f", r)
	}

	batch.Jobs[1].BytesReceived = 250
	batch.Jobs[1].BytesTotal = 1000
	agg.Update(batch.Jobs[1])

	if r := agg.Snapshot().Ratio(); r != 0.375 {
		t.Errorf("Expected byte ratio 0.375, got %f", r)
	}
}

func TestUpdateCallback(t *testing.T) {
	batch, agg := aggBatch(model.JobStateQueued)

	var got []BatchProgress
	agg.SetUpdateCallback(func(p BatchProgress) {
		got = append(got, p)
	})

	batch.Jobs[0].State = model.JobStateCompleted
	agg.Update(batch.Jobs[0])

	if len(got) != 1 {
		t.Fatalf("Expected 1 callback invocation, got %d", len(got))
	}
	if got[0].Completed != 1 || got[0].State != model.BatchStateCompleted {
		t.Errorf("Expected completed snapshot, got %+v", got[0])
	}
}

func TestSubscribe_DropsWhenLagging(t *testing.T) {
	batch, agg := aggBatch(model.JobStateRunning)

	updates, unsubscribe := agg.Subscribe()
	defer unsubscribe()

	// Push more updates than the subscriber buffer holds; none of them
	// may block the caller.
	for i := 0; i < subscriberBuffer*3; i++ {
		batch.Jobs[0].BytesReceived = int64(i)
		agg.Update(batch.Jobs[0])
	}

	drained := 0
	for {
		select {
		case <-updates:
			drained++
		default:
			if drained == 0 || drained > subscriberBuffer {
				t.Errorf("Expected between 1 and %d buffered updates, got %d", subscriberBuffer, drained)
			}
			return
		}
	}
}
