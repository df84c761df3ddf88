package download

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tetor-04/IDM-YT/internal/backend"
	"github.com/tetor-04/IDM-YT/internal/format"
	"github.com/tetor-04/IDM-YT/internal/model"
	"github.com/tetor-04/IDM-YT/internal/platform"
	"github.com/tetor-04/IDM-YT/internal/postprocess"
)

// Transfer constants
const (
	// TempSuffix marks an in-flight download; the file is renamed to its
	// final path only after the transfer completes
	TempSuffix = ".part"

	// rateSmoothing is the EWMA weight of the newest rate sample
	rateSmoothing = 0.3
)

// errStalled marks a transfer aborted by the stall watchdog
var errStalled = errors.New("transfer stalled")

// worker pulls work items until the handle is closed
func (h *BatchHandle) worker() {
	defer h.wg.Done()
	for {
		select {
		case <-h.closed:
			return
		case item := <-h.dispatch:
			h.execute(item)
		}
	}
}

// execute runs one job end to end. It communicates exclusively through
// events; the only shared state it touches is the filesystem.
func (h *BatchHandle) execute(item workItem) {
	ctx, cancel := context.WithCancel(h.batchCtx)
	defer cancel()

	// Monitor for per-job cancel requests
	go func() {
		select {
		case <-item.cancelCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Formats are resolved lazily, only now that the item is actually
	// being downloaded.
	info, err := h.scheduler.backend.FetchItemInfo(ctx, item.itemURL)
	if err != nil {
		if ctx.Err() != nil {
			h.emitCancelled(item)
			return
		}
		h.emitFailed(item, model.ReasonMetadataUnavailable, err)
		return
	}

	ranked := format.Rank(info.Formats)

	desc, err := format.Select(ranked, item.selection)
	if err != nil || desc == nil {
		if err == nil {
			err = model.ErrFormatNotFound
		}
		h.events <- Event{Type: EventMetadata, JobID: item.jobID, Title: info.Title, Formats: ranked}
		h.emitFailed(item, model.ReasonFormatNotFound, err)
		return
	}

	h.events <- Event{Type: EventMetadata, JobID: item.jobID, Title: info.Title, Formats: ranked, Format: desc}

	dest, temp, err := h.finalizeDest(item, info, desc)
	if err != nil {
		h.emitFailed(item, model.ReasonTransfer, err)
		return
	}

	reason, err := h.transfer(ctx, item, desc, temp)
	if err != nil {
		os.Remove(temp)
		if ctx.Err() != nil && reason == model.ReasonUserCancelled {
			h.emitCancelled(item)
			return
		}
		h.emitFailed(item, reason, err)
		return
	}

	if err := os.Rename(temp, dest); err != nil {
		os.Remove(temp)
		h.emitFailed(item, model.ReasonTransfer, fmt.Errorf("finalizing download: %w", err))
		return
	}

	degraded, degradedReason, finalPath := h.postProcess(ctx, item, info, ranked, dest)

	h.events <- Event{
		Type:           EventState,
		JobID:          item.jobID,
		State:          model.JobStateCompleted,
		Degraded:       degraded,
		DegradedReason: degradedReason,
		DestPath:       finalPath,
	}
}

// finalizeDest expands the destination template with the metadata known only
// now, then reserves a collision-free path by creating its temp file
func (h *BatchHandle) finalizeDest(item workItem, info *backend.ItemInfo, desc *model.FormatDescriptor) (dest, temp string, err error) {
	vars := map[string]string{
		platform.PlaceholderTitle:      info.Title,
		platform.PlaceholderID:         info.ID,
		platform.PlaceholderUploader:   info.Uploader,
		platform.PlaceholderUploadDate: info.UploadDate,
		platform.PlaceholderExt:        desc.Container,
	}
	if desc.Height > 0 {
		vars[platform.PlaceholderResolution] = fmt.Sprintf("%dp", desc.Height)
	}

	dest = platform.ExpandTemplate(item.destTemplate, vars)
	if err := platform.EnsureDir(filepath.Dir(dest)); err != nil {
		return "", "", fmt.Errorf("creating download directory: %w", err)
	}

	dest, err = platform.ReservePath(dest, TempSuffix)
	if err != nil {
		return "", "", fmt.Errorf("reserving download path: %w", err)
	}
	return dest, dest + TempSuffix, nil
}

// transfer runs the attempt loop with exponential backoff. The returned
// reason classifies the failure for the job's terminal state.
func (h *BatchHandle) transfer(ctx context.Context, item workItem, desc *model.FormatDescriptor, temp string) (model.Reason, error) {
	cfg := h.scheduler.cfg

	attempts := cfg.TransferAttempts
	if attempts < 1 {
		attempts = 1
	}
	cooldown := time.Duration(cfg.RetryCooldownSec * float64(time.Second))

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(cooldown) * math.Pow(cfg.RetryExponent, float64(attempt-1)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return model.ReasonUserCancelled, ctx.Err()
			}
		}

		lastErr = h.transferOnce(ctx, item, desc, temp)
		if lastErr == nil {
			return model.ReasonNone, nil
		}
		if ctx.Err() != nil {
			return model.ReasonUserCancelled, lastErr
		}
		if !errors.Is(lastErr, errStalled) && !backend.IsTransient(lastErr) {
			return model.ReasonTransfer, lastErr
		}
	}

	if errors.Is(lastErr, errStalled) {
		return model.ReasonStalled, lastErr
	}
	return model.ReasonTransfer, lastErr
}

// transferOnce streams the format under a stall watchdog, throttling
// progress events
func (h *BatchHandle) transferOnce(ctx context.Context, item workItem, desc *model.FormatDescriptor, temp string) error {
	cfg := h.scheduler.cfg

	stallCtx, stallCancel := context.WithCancel(ctx)
	defer stallCancel()

	stallTimeout := time.Duration(cfg.StallTimeoutSec) * time.Second
	var stalled atomic.Bool
	watchdog := time.AfterFunc(stallTimeout, func() {
		stalled.Store(true)
		stallCancel()
	})
	defer watchdog.Stop()

	interval := time.Duration(cfg.ProgressIntervalMS) * time.Millisecond
	var lastEmit time.Time
	var lastBytes int64
	var lastSample time.Time
	var rate float64

	onProgress := func(received, total int64) {
		watchdog.Reset(stallTimeout)

		now := time.Now()
		if !lastEmit.IsZero() && now.Sub(lastEmit) < interval && received != total {
			return
		}

		if !lastSample.IsZero() {
			elapsed := now.Sub(lastSample).Seconds()
			if elapsed > 0 {
				sample := float64(received-lastBytes) / elapsed
				if rate == 0 {
					rate = sample
				} else {
					rate = rateSmoothing*sample + (1-rateSmoothing)*rate
				}
			}
		}
		lastEmit, lastSample, lastBytes = now, now, received

		h.events <- Event{
			Type:          EventProgress,
			JobID:         item.jobID,
			BytesReceived: received,
			BytesTotal:    total,
			Rate:          rate,
		}
	}

	err := h.scheduler.backend.Stream(stallCtx, item.itemURL, desc, temp, onProgress)
	if err != nil && stalled.Load() && ctx.Err() == nil {
		return fmt.Errorf("%w after %s without progress", errStalled, stallTimeout)
	}
	return err
}

// postProcess runs the requested steps; failures degrade the job rather
// than failing it
func (h *BatchHandle) postProcess(ctx context.Context, item workItem, info *backend.ItemInfo, ranked []model.FormatDescriptor, dest string) (degraded bool, reason, finalPath string) {
	finalPath = dest
	if len(item.postSteps) == 0 {
		return false, "", finalPath
	}
	if h.scheduler.post == nil {
		return true, "no post-processor configured", finalPath
	}

	res, err := h.scheduler.post.Process(ctx, postprocess.Input{
		JobID: item.jobID,
		Item: &model.ItemDescriptor{
			ID:       info.ID,
			URL:      item.itemURL,
			Title:    info.Title,
			Uploader: info.Uploader,
			Formats:  ranked,
		},
		Steps:   item.postSteps,
		RawPath: dest,
	})
	if err != nil {
		// Cancellation mid-step: the media file itself is complete, so
		// the job still counts as done, just degraded.
		return true, fmt.Sprintf("post-processing aborted: %v", err), finalPath
	}

	if _, statErr := os.Stat(dest); os.IsNotExist(statErr) && len(res.Outputs) > 0 {
		// The raw container was replaced, e.g. by an audio transcode
		finalPath = res.Outputs[0]
	}
	return res.Degraded, strings.Join(res.Reasons, "; "), finalPath
}

func (h *BatchHandle) emitCancelled(item workItem) {
	h.events <- Event{
		Type:   EventState,
		JobID:  item.jobID,
		State:  model.JobStateCancelled,
		Reason: model.ReasonUserCancelled,
	}
}

func (h *BatchHandle) emitFailed(item workItem, reason model.Reason, err error) {
	h.events <- Event{
		Type:      EventState,
		JobID:     item.jobID,
		State:     model.JobStateFailed,
		Reason:    reason,
		LastError: err.Error(),
	}
}
