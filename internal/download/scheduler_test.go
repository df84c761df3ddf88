package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tetor-04/IDM-YT/internal/backend"
	"github.com/tetor-04/IDM-YT/internal/config"
	"github.com/tetor-04/IDM-YT/internal/model"
)

// fakeBackend simulates an extraction backend with controllable failures
type fakeBackend struct {
	infoErr error

	// streamFails makes the first N Stream calls per job fail transiently
	streamFails int32
	permanent   bool

	// holdStreams makes Stream block until release is closed or ctx ends;
	// holdURL holds only the stream for the matching URL
	holdStreams bool
	holdURL     string
	release     chan struct{}

	// failURL makes every Stream call for the matching URL fail permanently
	failURL string

	// stall makes Stream report progress once and then go silent until its
	// context is torn down
	stall bool

	active    int32
	maxActive int32
	calls     int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{release: make(chan struct{})}
}

func (f *fakeBackend) ListCollection(ctx context.Context, url string) ([]backend.ItemSummary, error) {
	return nil, nil
}

func (f *fakeBackend) FetchItemInfo(ctx context.Context, idOrURL string) (*backend.ItemInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	id := idOrURL
	if i := strings.LastIndex(idOrURL, "="); i >= 0 {
		id = idOrURL[i+1:]
	}
	return &backend.ItemInfo{
		ID:    id,
		Title: "Video " + id,
		Formats: []model.FormatDescriptor{
			{Kind: model.FormatVideo, Label: "720p", Container: "mp4", Height: 720, Bitrate: 2_000_000},
			{Kind: model.FormatAudioOnly, Label: "140kbps", Container: "m4a", Bitrate: 140_000},
		},
	}, nil
}

func (f *fakeBackend) Stream(ctx context.Context, idOrURL string, fd *model.FormatDescriptor, destPath string, onProgress backend.Progress) error {
	atomic.AddInt32(&f.calls, 1)

	cur := atomic.AddInt32(&f.active, 1)
	for {
		max := atomic.LoadInt32(&f.maxActive)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxActive, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.active, -1)

	if f.failURL != "" && idOrURL == f.failURL {
		return backend.Permanent(errors.New("access denied"))
	}

	if f.holdStreams || (f.holdURL != "" && idOrURL == f.holdURL) {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if f.stall {
		if onProgress != nil {
			onProgress(1, 100)
		}
		<-ctx.Done()
		return ctx.Err()
	}

	if n := atomic.LoadInt32(&f.streamFails); n > 0 {
		atomic.AddInt32(&f.streamFails, -1)
		err := errors.New("connection reset")
		if f.permanent {
			return backend.Permanent(err)
		}
		return backend.Transient(err)
	}

	content := []byte("media bytes")
	total := int64(len(content))
	if onProgress != nil {
		onProgress(total/2, total)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.WriteFile(destPath, content, 0644); err != nil {
		return backend.Permanent(err)
	}
	if onProgress != nil {
		onProgress(total, total)
	}
	return nil
}

func testConfig(t *testing.T) *config.Settings {
	t.Helper()
	cfg := config.DefaultSettings()
	cfg.DownloadDir = t.TempDir()
	cfg.RetryCooldownSec = 0.01
	cfg.ProgressIntervalMS = 1
	return cfg
}

func testBatch(cfg *config.Settings, n int) *model.Batch {
	batch := &model.Batch{
		ID:        model.NewBatchID(),
		Kind:      model.SourcePlaylist,
		CreatedAt: time.Now(),
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("vid%d", i)
		batch.Jobs = append(batch.Jobs, &model.DownloadJob{
			ID:      model.NewJobID(),
			BatchID: batch.ID,
			Item: &model.ItemDescriptor{
				ID:      id,
				URL:     "https://www.youtube.com/watch?v=" + id,
				BatchID: batch.ID,
			},
			Selection:  model.FormatSelection{Kind: model.FormatVideo, Preset: "best"},
			DestPath:   filepath.Join(cfg.DownloadDir, fmt.Sprintf("video-%d.%%(ext)s", i)),
			State:      model.JobStateQueued,
			BytesTotal: model.BytesTotalUnknown,
			CreatedAt:  time.Now(),
		})
	}
	return batch
}

// waitForState polls until the job reaches the state or the deadline passes
func waitForState(t *testing.T, h *BatchHandle, jobID string, state model.JobState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := h.Job(jobID); ok && j.State == state {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := h.Job(jobID)
	t.Fatalf("Job %s never reached %s, stuck at %s (%s)", jobID, state, j.State, j.LastError)
}

func TestSchedule_AllJobsComplete(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	batch := testBatch(cfg, 3)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 2)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	p := h.Progress()
	if p.Completed != 3 || p.State != model.BatchStateCompleted {
		t.Errorf("Expected 3 completed jobs and a completed batch, got %+v", p)
	}

	for _, j := range h.Jobs() {
		if j.State != model.JobStateCompleted {
			t.Errorf("Job %s: expected Completed, got %s", j.ID, j.State)
		}
		if _, err := os.Stat(j.DestPath); err != nil {
			t.Errorf("Job %s: expected file at %s, got %v", j.ID, j.DestPath, err)
		}
		if strings.HasSuffix(j.DestPath, TempSuffix) {
			t.Errorf("Job %s: final path still has temp suffix: %s", j.ID, j.DestPath)
		}
	}
}

func TestSchedule_ConcurrencyLimit(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	batch := testBatch(cfg, 5)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 2)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if max := atomic.LoadInt32(&fake.maxActive); max > 2 {
		t.Errorf("Expected at most 2 concurrent transfers, observed %d", max)
	}
	if p := h.Progress(); p.Completed != 5 {
		t.Errorf("Expected 5 completed jobs, got %+v", p)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	fake.holdStreams = true
	batch := testBatch(cfg, 2)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	first, second := batch.Jobs[0], batch.Jobs[1]
	waitForState(t, h, first.ID, model.JobStateRunning)

	if err := h.CancelJob(second.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	j, _ := h.Job(second.ID)
	if j.State != model.JobStateCancelled || j.Reason != model.ReasonUserCancelled {
		t.Errorf("Expected cancelled queued job, got %s (%s)", j.State, j.Reason)
	}

	close(fake.release)
	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	// The cancelled job never started, so nothing of it may be on disk
	entries, err := os.ReadDir(cfg.DownloadDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected exactly the first job's file, got %v", names)
	}
}

func TestCancelRunningJob(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	fake.holdStreams = true
	batch := testBatch(cfg, 1)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	jobID := batch.Jobs[0].ID
	waitForState(t, h, jobID, model.JobStateRunning)

	if err := h.CancelJob(jobID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	waitForState(t, h, jobID, model.JobStateCancelled)

	j, _ := h.Job(jobID)
	if j.Reason != model.ReasonUserCancelled {
		t.Errorf("Expected reason UserCancelled, got %s", j.Reason)
	}

	// No partial file may remain at or near the destination
	entries, err := os.ReadDir(cfg.DownloadDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty download dir after cancel, got %d entries", len(entries))
	}
}

func TestCancelBatch(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	fake.holdStreams = true
	batch := testBatch(cfg, 4)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 2)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	waitForState(t, h, batch.Jobs[0].ID, model.JobStateRunning)
	h.Cancel()

	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	for _, j := range h.Jobs() {
		if j.State != model.JobStateCancelled {
			t.Errorf("Job %s: expected Cancelled, got %s", j.ID, j.State)
		}
	}
}

func TestTransientFailureRetriesWithinTransfer(t *testing.T) {
	cfg := testConfig(t)
	cfg.TransferAttempts = 3
	fake := newFakeBackend()
	fake.streamFails = 2
	batch := testBatch(cfg, 1)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	j, _ := h.Job(batch.Jobs[0].ID)
	if j.State != model.JobStateCompleted {
		t.Errorf("Expected Completed after transient retries, got %s (%s)", j.State, j.LastError)
	}
	if j.Retries != 0 {
		t.Errorf("In-transfer attempts must not count as job retries, got %d", j.Retries)
	}
	if calls := atomic.LoadInt32(&fake.calls); calls != 3 {
		t.Errorf("Expected 3 stream attempts, got %d", calls)
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	cfg := testConfig(t)
	cfg.TransferAttempts = 3
	fake := newFakeBackend()
	fake.streamFails = 100
	fake.permanent = true
	batch := testBatch(cfg, 1)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	j, _ := h.Job(batch.Jobs[0].ID)
	if j.State != model.JobStateFailed || j.Reason != model.ReasonTransfer {
		t.Errorf("Expected Failed(TransferError), got %s (%s)", j.State, j.Reason)
	}
	if calls := atomic.LoadInt32(&fake.calls); calls != 1 {
		t.Errorf("Expected a single attempt for a permanent failure, got %d", calls)
	}
}

func TestRetryFailedJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.TransferAttempts = 1
	fake := newFakeBackend()
	fake.streamFails = 1
	batch := testBatch(cfg, 1)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	jobID := batch.Jobs[0].ID
	waitForState(t, h, jobID, model.JobStateFailed)

	j, _ := h.Job(jobID)
	if j.Reason != model.ReasonTransfer {
		t.Errorf("Expected reason TransferError, got %s", j.Reason)
	}

	if err := h.Retry(jobID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	waitForState(t, h, jobID, model.JobStateCompleted)

	j, _ = h.Job(jobID)
	if j.Retries != 1 {
		t.Errorf("Expected 1 retry recorded, got %d", j.Retries)
	}
	if j.LastError != "" || j.Reason != model.ReasonNone {
		t.Errorf("Expected failure details cleared on retry, got %q (%s)", j.LastError, j.Reason)
	}
}

func TestRetryCapsAtConfiguredMax(t *testing.T) {
	cfg := testConfig(t)
	cfg.TransferAttempts = 1
	cfg.MaxJobRetries = 1
	fake := newFakeBackend()
	fake.streamFails = 100
	batch := testBatch(cfg, 1)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	jobID := batch.Jobs[0].ID
	waitForState(t, h, jobID, model.JobStateFailed)

	if err := h.Retry(jobID); err != nil {
		t.Fatalf("First retry should be allowed: %v", err)
	}
	waitForState(t, h, jobID, model.JobStateFailed)

	if err := h.Retry(jobID); err == nil {
		t.Error("Expected error once the retry cap is exhausted")
	}
}

func TestRetryRejectsNonFailedJobs(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	batch := testBatch(cfg, 1)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if err := h.Retry(batch.Jobs[0].ID); err == nil {
		t.Error("Expected error retrying a completed job")
	}
}

func TestMetadataUnavailableFailsJob(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	fake.infoErr = model.ErrMetadataUnavailable
	batch := testBatch(cfg, 1)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	j, _ := h.Job(batch.Jobs[0].ID)
	if j.State != model.JobStateFailed || j.Reason != model.ReasonMetadataUnavailable {
		t.Errorf("Expected Failed(MetadataUnavailable), got %s (%s)", j.State, j.Reason)
	}
}

func TestFormatNotFoundFailsJob(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	batch := testBatch(cfg, 1)
	batch.Jobs[0].Selection = model.FormatSelection{Kind: model.FormatVideo, Label: "4320p"}

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	j, _ := h.Job(batch.Jobs[0].ID)
	if j.State != model.JobStateFailed || j.Reason != model.ReasonFormatNotFound {
		t.Errorf("Expected Failed(FormatNotFound), got %s (%s)", j.State, j.Reason)
	}
	if calls := atomic.LoadInt32(&fake.calls); calls != 0 {
		t.Errorf("A missing format must never stream a substitute, got %d stream calls", calls)
	}
}

func TestLazyFormatResolutionPublishesMetadata(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	batch := testBatch(cfg, 1)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	j, _ := h.Job(batch.Jobs[0].ID)
	if j.Item.Title == "" {
		t.Error("Expected item title filled in from fetched metadata")
	}
	if !j.Item.FormatsResolved() {
		t.Error("Expected formats resolved after the job ran")
	}
	if j.Format == nil || j.Format.Label != "720p" {
		t.Errorf("Expected selected 720p descriptor recorded, got %+v", j.Format)
	}
}

func TestSubscribeSeesTerminalSnapshot(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	fake.holdStreams = true
	batch := testBatch(cfg, 2)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 2)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	updates, unsubscribe := h.Subscribe()
	defer unsubscribe()
	close(fake.release)

	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	var last BatchProgress
	for {
		select {
		case p := <-updates:
			last = p
			if last.Done() && last.Completed == 2 {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Never observed a terminal snapshot, last %+v", last)
		}
	}
}

func TestJobs_SnapshotsDetachedFromLiveItems(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	batch := testBatch(cfg, 4)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 2)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	// Read item metadata continuously while the control loop is still
	// filling it in; snapshots must never hand out the live descriptors.
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, j := range h.Jobs() {
				_ = j.Item.Title
				_ = len(j.Item.Formats)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	if err := h.Wait(t.Context()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	close(stop)
	<-readerDone

	for i, j := range h.Jobs() {
		if j.Item == batch.Jobs[i].Item {
			t.Errorf("Job %s: snapshot shares the live item descriptor", j.ID)
		}
		if j.Item.Title == "" || !j.Item.FormatsResolved() {
			t.Errorf("Job %s: snapshot missing resolved metadata", j.ID)
		}
	}
}

func TestRetry_UpdatesAggregateWhileQueued(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeBackend()
	batch := testBatch(cfg, 2)
	fake.failURL = batch.Jobs[0].Item.URL
	fake.holdURL = batch.Jobs[1].Item.URL

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	waitForState(t, h, batch.Jobs[0].ID, model.JobStateFailed)
	waitForState(t, h, batch.Jobs[1].ID, model.JobStateRunning)

	if err := h.Retry(batch.Jobs[0].ID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	// The sole worker is held by the second job, so the retried job sits
	// queued; the aggregate must already reflect the transition.
	p := h.Progress()
	if p.Failed != 0 || p.Queued != 1 || p.Running != 1 {
		t.Errorf("Expected queued=1 running=1 failed=0 after retry, got %+v", p)
	}

	close(fake.release)
}

func TestStalledTransferFailsWithReasonStalled(t *testing.T) {
	cfg := testConfig(t)
	cfg.StallTimeoutSec = 1
	cfg.TransferAttempts = 2
	fake := newFakeBackend()
	fake.stall = true
	batch := testBatch(cfg, 1)

	h, err := NewScheduler(fake, nil, cfg).Schedule(context.Background(), batch, 1)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	defer h.Close()

	waitForState(t, h, batch.Jobs[0].ID, model.JobStateFailed)

	j, _ := h.Job(batch.Jobs[0].ID)
	if j.Reason != model.ReasonStalled {
		t.Errorf("Expected reason %s, got %s (%s)", model.ReasonStalled, j.Reason, j.LastError)
	}
	if got := atomic.LoadInt32(&fake.calls); got != 2 {
		t.Errorf("Expected the stalled transfer to be attempted twice, got %d", got)
	}
}
