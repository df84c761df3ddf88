package download

import (
	"sync"

	"github.com/tetor-04/IDM-YT/internal/model"
)

// Subscriber channel capacity; a slow subscriber drops updates instead of
// blocking the control loop
const subscriberBuffer = 16

// BatchProgress is a point-in-time view of a whole batch
type BatchProgress struct {
	BatchID string

	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
	Cancelled int

	// Skipped counts items excluded at resolution time; they are part of
	// the batch's story but never became jobs.
	Skipped int

	BytesReceived int64

	// BytesTotal sums the totals of jobs whose size is known. KnownTotals
	// says how many jobs that covers, so a ratio over bytes is only
	// trusted when every job reported a size.
	BytesTotal  int64
	KnownTotals int

	// Rate is the summed transfer rate of running jobs, bytes per second
	Rate float64

	State model.BatchState
}

// Ratio returns overall completion in [0, 1]. Byte-accurate when every job
// reported a size, otherwise the fraction of jobs in a terminal state.
func (p BatchProgress) Ratio() float64 {
	if p.Total == 0 {
		return 1.0
	}
	if p.KnownTotals == p.Total && p.BytesTotal > 0 {
		r := float64(p.BytesReceived) / float64(p.BytesTotal)
		if r > 1.0 {
			r = 1.0
		}
		return r
	}
	return float64(p.Completed+p.Failed+p.Cancelled) / float64(p.Total)
}

// Done reports whether every job reached a terminal state
func (p BatchProgress) Done() bool {
	return p.Queued == 0 && p.Running == 0
}

type jobStat struct {
	state    model.JobState
	received int64
	total    int64
	rate     float64
}

// Aggregator folds per-job updates into batch-level progress. The control
// loop is its only writer; snapshots and subscriptions are safe from any
// goroutine.
type Aggregator struct {
	mu      sync.RWMutex
	batchID string
	skipped int
	jobs    map[string]jobStat

	onUpdate func(BatchProgress) // callback for UI updates
	subs     map[int]chan BatchProgress
	nextSub  int
}

// NewAggregator seeds an aggregator from a batch's initial jobs
func NewAggregator(batch *model.Batch) *Aggregator {
	a := &Aggregator{
		batchID: batch.ID,
		skipped: batch.Skipped,
		jobs:    make(map[string]jobStat, len(batch.Jobs)),
		subs:    make(map[int]chan BatchProgress),
	}
	for _, j := range batch.Jobs {
		a.jobs[j.ID] = jobStat{state: j.State, total: j.BytesTotal}
	}
	return a
}

// SetUpdateCallback sets the callback invoked after every job update
func (a *Aggregator) SetUpdateCallback(callback func(BatchProgress)) {
	a.mu.Lock()
	a.onUpdate = callback
	a.mu.Unlock()
}

// Subscribe returns a channel of progress snapshots and a cancel function.
// Updates are dropped, not queued, when the subscriber lags.
func (a *Aggregator) Subscribe() (<-chan BatchProgress, func()) {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	ch := make(chan BatchProgress, subscriberBuffer)
	a.subs[id] = ch
	a.mu.Unlock()

	return ch, func() {
		a.mu.Lock()
		if sub, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(sub)
		}
		a.mu.Unlock()
	}
}

// Update records the job's current state and counters, then notifies
// subscribers with a fresh snapshot
func (a *Aggregator) Update(job *model.DownloadJob) {
	a.mu.Lock()
	a.jobs[job.ID] = jobStat{
		state:    job.State,
		received: job.BytesReceived,
		total:    job.BytesTotal,
		rate:     job.Rate,
	}
	snap := a.snapshotLocked()
	onUpdate := a.onUpdate
	for _, sub := range a.subs {
		select {
		case sub <- snap:
		default:
		}
	}
	a.mu.Unlock()

	if onUpdate != nil {
		onUpdate(snap)
	}
}

// Snapshot returns the current batch-level progress
func (a *Aggregator) Snapshot() BatchProgress {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() BatchProgress {
	p := BatchProgress{
		BatchID: a.batchID,
		Total:   len(a.jobs),
		Skipped: a.skipped,
	}

	allCompleted := true
	allTerminalNonSuccess := len(a.jobs) > 0

	for _, st := range a.jobs {
		switch st.state {
		case model.JobStateQueued:
			p.Queued++
		case model.JobStateRunning:
			p.Running++
			p.Rate += st.rate
		case model.JobStateCompleted:
			p.Completed++
		case model.JobStateFailed:
			p.Failed++
		case model.JobStateCancelled:
			p.Cancelled++
		}

		if st.received > 0 {
			p.BytesReceived += st.received
		}
		if st.total > 0 {
			p.BytesTotal += st.total
			p.KnownTotals++
		}

		if st.state != model.JobStateCompleted {
			allCompleted = false
		}
		if !st.state.IsTerminal() || st.state == model.JobStateCompleted {
			allTerminalNonSuccess = false
		}
	}

	switch {
	case allCompleted:
		p.State = model.BatchStateCompleted
	case allTerminalNonSuccess:
		p.State = model.BatchStateFailed
	default:
		p.State = model.BatchStateInProgress
	}
	return p
}
