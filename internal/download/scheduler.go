package download

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tetor-04/IDM-YT/internal/backend"
	"github.com/tetor-04/IDM-YT/internal/config"
	"github.com/tetor-04/IDM-YT/internal/model"
	"github.com/tetor-04/IDM-YT/internal/postprocess"
)

// Scheduler turns resolved batches into running downloads
type Scheduler struct {
	backend backend.Extractor
	post    *postprocess.Processor
	cfg     *config.Settings
}

// NewScheduler creates a scheduler. post may be nil when no post-processing
// steps will ever be requested.
func NewScheduler(b backend.Extractor, post *postprocess.Processor, cfg *config.Settings) *Scheduler {
	return &Scheduler{backend: b, post: post, cfg: cfg}
}

// Schedule starts the batch's jobs under the given concurrency limit and
// returns a handle for progress, cancellation and retry. A limit below one
// falls back to the configured maximum parallelism.
func (s *Scheduler) Schedule(ctx context.Context, batch *model.Batch, limit int) (*BatchHandle, error) {
	if batch == nil {
		return nil, fmt.Errorf("nil batch")
	}
	if limit < 1 {
		limit = s.cfg.MaxParallel
	}
	if limit < 1 {
		limit = 1
	}

	batchCtx, batchCancel := context.WithCancel(ctx)

	h := &BatchHandle{
		scheduler:   s,
		batch:       batch,
		agg:         NewAggregator(batch),
		// Unbuffered so a worker's terminal event is consumed by the
		// control loop before that worker can pick up another job. The
		// running count therefore never exceeds the worker limit.
		events:      make(chan Event),
		cmds:        make(chan command),
		dispatch:    make(chan workItem),
		closed:      make(chan struct{}),
		loopDone:    make(chan struct{}),
		batchCtx:    batchCtx,
		batchCancel: batchCancel,
	}

	h.wg.Add(limit)
	for i := 0; i < limit; i++ {
		go h.worker()
	}
	go h.run()

	log.Printf("Scheduled batch %s: %d jobs, %d skipped, limit %d", batch.ID, len(batch.Jobs), batch.Skipped, limit)
	return h, nil
}

// workItem is the read-only slice of a job handed to a worker. Workers get a
// snapshot of the immutable fields and a cancel channel; everything mutable
// flows back through events.
type workItem struct {
	jobID        string
	itemID       string
	itemURL      string
	selection    model.FormatSelection
	destTemplate string
	postSteps    []model.PostStep
	cancelCh     chan struct{}
}

// command kinds for the control loop
type cmdKind int

const (
	cmdCancelBatch cmdKind = iota
	cmdCancelJob
	cmdRetryJob
	cmdSnapshot
	cmdWait
)

type command struct {
	kind   cmdKind
	jobID  string
	reply  chan error
	jobs   chan []model.DownloadJob
	waiter chan struct{}
}

// BatchHandle controls one scheduled batch
type BatchHandle struct {
	scheduler *Scheduler
	batch     *model.Batch
	agg       *Aggregator

	events   chan Event
	cmds     chan command
	dispatch chan workItem

	closed    chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
	wg        sync.WaitGroup

	batchCtx    context.Context
	batchCancel context.CancelFunc
}

// Progress returns the current batch-level progress
func (h *BatchHandle) Progress() BatchProgress {
	return h.agg.Snapshot()
}

// SetUpdateCallback sets the callback invoked after every job update.
// The callback runs on the scheduling path and must not call back into
// the handle.
func (h *BatchHandle) SetUpdateCallback(callback func(BatchProgress)) {
	h.agg.SetUpdateCallback(callback)
}

// Subscribe returns a channel of progress snapshots and a cancel function
func (h *BatchHandle) Subscribe() (<-chan BatchProgress, func()) {
	return h.agg.Subscribe()
}

// Cancel requests cancellation of every queued and running job. Queued jobs
// go terminal immediately; running jobs stop at the next chunk boundary.
func (h *BatchHandle) Cancel() {
	h.send(command{kind: cmdCancelBatch, reply: make(chan error, 1)})
}

// CancelJob cancels one job. Cancelling a terminal job is a no-op.
func (h *BatchHandle) CancelJob(jobID string) error {
	cmd := command{kind: cmdCancelJob, jobID: jobID, reply: make(chan error, 1)}
	return h.send(cmd)
}

// Retry re-queues a failed job with fresh progress counters. Only failed
// jobs can be retried.
func (h *BatchHandle) Retry(jobID string) error {
	cmd := command{kind: cmdRetryJob, jobID: jobID, reply: make(chan error, 1)}
	return h.send(cmd)
}

// Jobs returns copies of every job in batch order
func (h *BatchHandle) Jobs() []model.DownloadJob {
	cmd := command{kind: cmdSnapshot, jobs: make(chan []model.DownloadJob, 1)}
	select {
	case h.cmds <- cmd:
		return <-cmd.jobs
	case <-h.loopDone:
		// Loop has exited; jobs are no longer mutated, copy directly
		return h.snapshotJobs()
	}
}

// snapshotJobs deep-copies the batch's jobs, detaching the item descriptors
// the control loop keeps filling in. Must run on the control loop while it
// is alive.
func (h *BatchHandle) snapshotJobs() []model.DownloadJob {
	jobs := make([]model.DownloadJob, 0, len(h.batch.Jobs))
	for _, j := range h.batch.Jobs {
		c := *j
		c.Item = j.Item.Clone()
		jobs = append(jobs, c)
	}
	return jobs
}

// Job returns a copy of one job
func (h *BatchHandle) Job(jobID string) (model.DownloadJob, bool) {
	for _, j := range h.Jobs() {
		if j.ID == jobID {
			return j, true
		}
	}
	return model.DownloadJob{}, false
}

// Wait blocks until every job is terminal or ctx is done. A retry issued
// after completion arms it again for a later Wait.
func (h *BatchHandle) Wait(ctx context.Context) error {
	cmd := command{kind: cmdWait, waiter: make(chan struct{}, 1)}
	select {
	case h.cmds <- cmd:
	case <-h.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cmd.waiter:
		return nil
	case <-h.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels everything still active and releases the workers. The
// handle is unusable afterwards.
func (h *BatchHandle) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.batchCancel()
	})
	<-h.loopDone
}

func (h *BatchHandle) send(cmd command) error {
	select {
	case h.cmds <- cmd:
		return <-cmd.reply
	case <-h.loopDone:
		return fmt.Errorf("batch %s is closed", h.batch.ID)
	}
}

// run is the control loop: the only goroutine that mutates jobs
func (h *BatchHandle) run() {
	defer close(h.loopDone)

	jobs := make(map[string]*model.DownloadJob, len(h.batch.Jobs))
	cancels := make(map[string]chan struct{}, len(h.batch.Jobs))
	var pending []*model.DownloadJob

	for _, j := range h.batch.Jobs {
		jobs[j.ID] = j
		if j.State == model.JobStateQueued {
			cancels[j.ID] = make(chan struct{})
			pending = append(pending, j)
		}
	}

	running := 0
	var waiters []chan struct{}
	closing := false
	closedCh := h.closed

	notifyIfDone := func() {
		if running > 0 || len(pending) > 0 {
			return
		}
		for _, w := range waiters {
			w <- struct{}{}
		}
		waiters = nil
	}
	notifyIfDone()

	for {
		// Dispatch is armed only while work is pending; a nil channel
		// drops the case from the select.
		var dispatch chan workItem
		var next workItem
		if len(pending) > 0 && !closing {
			j := pending[0]
			next = workItem{
				jobID:        j.ID,
				itemID:       j.Item.ID,
				itemURL:      j.Item.URL,
				selection:    j.Selection,
				destTemplate: j.DestPath,
				postSteps:    j.PostSteps,
				cancelCh:     cancels[j.ID],
			}
			dispatch = h.dispatch
		}

		select {
		case dispatch <- next:
			j := pending[0]
			pending = pending[1:]
			j.State = model.JobStateRunning
			j.StartedAt = time.Now()
			running++
			h.agg.Update(j)

		case ev := <-h.events:
			h.apply(jobs, cancels, ev, &running)
			notifyIfDone()

		case cmd := <-h.cmds:
			switch cmd.kind {
			case cmdSnapshot:
				cmd.jobs <- h.snapshotJobs()

			case cmdWait:
				if running == 0 && len(pending) == 0 {
					cmd.waiter <- struct{}{}
				} else {
					waiters = append(waiters, cmd.waiter)
				}

			case cmdCancelJob:
				cmd.reply <- h.cancelJob(jobs, cancels, &pending, cmd.jobID)
				notifyIfDone()

			case cmdCancelBatch:
				for id := range jobs {
					h.cancelJob(jobs, cancels, &pending, id)
				}
				cmd.reply <- nil
				notifyIfDone()

			case cmdRetryJob:
				if closing {
					cmd.reply <- fmt.Errorf("batch %s is closed", h.batch.ID)
					break
				}
				err := retryJob(jobs, cancels, &pending, cmd.jobID, h.scheduler.cfg.MaxJobRetries)
				if err == nil {
					// The aggregate must reflect the Failed -> Queued
					// transition even while no worker is free.
					h.agg.Update(jobs[cmd.jobID])
				}
				cmd.reply <- err
			}

		case <-closedCh:
			closedCh = nil
			closing = true
			// Mark what never ran; running workers see the cancelled
			// batch context and report terminal events.
			for _, j := range pending {
				h.finalizeCancelled(j, cancels)
			}
			pending = nil
			notifyIfDone()
		}

		if closing && running == 0 {
			return
		}
	}
}

// apply folds one worker event into job state
func (h *BatchHandle) apply(jobs map[string]*model.DownloadJob, cancels map[string]chan struct{}, ev Event, running *int) {
	j, ok := jobs[ev.JobID]
	if !ok {
		return
	}

	switch ev.Type {
	case EventProgress:
		if !j.State.IsActive() {
			return // late event from a cancelled worker
		}
		j.BytesReceived = ev.BytesReceived
		j.BytesTotal = ev.BytesTotal
		j.Rate = ev.Rate
		h.agg.Update(j)

	case EventMetadata:
		if j.Item.Title == "" {
			j.Item.Title = ev.Title
		}
		j.Item.Formats = ev.Formats
		j.Format = ev.Format

	case EventState:
		if !j.State.CanTransitionTo(ev.State) {
			log.Printf("Dropping invalid transition %s -> %s for job %s", j.State, ev.State, j.ID)
			return
		}
		if j.State == model.JobStateRunning {
			*running--
		}
		j.State = ev.State
		j.Reason = ev.Reason
		j.LastError = ev.LastError
		j.Degraded = ev.Degraded
		j.DegradedReason = ev.DegradedReason
		if ev.DestPath != "" {
			j.DestPath = ev.DestPath
		}
		if ev.BytesReceived > 0 {
			j.BytesReceived = ev.BytesReceived
			j.BytesTotal = ev.BytesTotal
		}
		j.Rate = 0
		j.FinishedAt = time.Now()
		delete(cancels, j.ID)
		h.agg.Update(j)
	}
}

// cancelJob cancels one job in whatever state it is. Terminal jobs are left
// alone.
func (h *BatchHandle) cancelJob(jobs map[string]*model.DownloadJob, cancels map[string]chan struct{}, pending *[]*model.DownloadJob, jobID string) error {
	j, ok := jobs[jobID]
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}

	switch j.State {
	case model.JobStateQueued:
		for i, p := range *pending {
			if p.ID == jobID {
				*pending = append((*pending)[:i], (*pending)[i+1:]...)
				break
			}
		}
		h.finalizeCancelled(j, cancels)
		return nil

	case model.JobStateRunning:
		if ch, ok := cancels[jobID]; ok {
			close(ch)
			delete(cancels, jobID)
		}
		return nil

	default:
		return nil
	}
}

// finalizeCancelled marks a never-started job terminal; no file was ever
// created for it
func (h *BatchHandle) finalizeCancelled(j *model.DownloadJob, cancels map[string]chan struct{}) {
	if ch, ok := cancels[j.ID]; ok {
		close(ch)
		delete(cancels, j.ID)
	}
	j.State = model.JobStateCancelled
	j.Reason = model.ReasonUserCancelled
	j.FinishedAt = time.Now()
	h.agg.Update(j)
}

// retryJob re-queues a failed job, up to the configured retry cap
func retryJob(jobs map[string]*model.DownloadJob, cancels map[string]chan struct{}, pending *[]*model.DownloadJob, jobID string, maxRetries int) error {
	j, ok := jobs[jobID]
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if j.State != model.JobStateFailed {
		return fmt.Errorf("job %s is %s, only failed jobs can be retried", jobID, j.State)
	}
	if j.Retries >= maxRetries {
		return fmt.Errorf("job %s exhausted its %d retries", jobID, maxRetries)
	}

	j.ResetProgress()
	j.Retries++
	j.State = model.JobStateQueued
	cancels[jobID] = make(chan struct{})
	*pending = append(*pending, j)
	return nil
}
