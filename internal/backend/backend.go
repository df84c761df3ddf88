package backend

import (
	"context"
	"errors"
	"time"

	"github.com/tetor-04/IDM-YT/internal/model"
)

// ItemSummary is a flat collection entry: titles, durations and ids only,
// enough to show a row without paying the per-item metadata cost.
type ItemSummary struct {
	ID       string
	Title    string
	Duration time.Duration

	// Unavailable marks private or deleted entries that still appear in
	// collection listings.
	Unavailable bool
}

// ItemInfo is the full metadata for one item, including its selectable
// format descriptors.
type ItemInfo struct {
	ID         string
	Title      string
	Uploader   string
	UploadDate string // YYYYMMDD, empty if unknown
	Duration   time.Duration
	Formats    []model.FormatDescriptor
}

// Progress is invoked during a transfer with the bytes received so far and
// the total if known (model.BytesTotalUnknown otherwise).
type Progress func(received, total int64)

// Extractor is the capability contract for the media extraction backend.
// The engine assumes nothing about the implementation beyond this contract.
type Extractor interface {
	// ListCollection returns the flat listing of a playlist or channel URL.
	// Large collections may take tens of seconds; implementations must
	// honor ctx cancellation while listing.
	ListCollection(ctx context.Context, url string) ([]ItemSummary, error)

	// FetchItemInfo describes a single item and its available formats.
	FetchItemInfo(ctx context.Context, idOrURL string) (*ItemInfo, error)

	// Stream retrieves the selected format to destPath, calling onProgress
	// as bytes arrive. Cancellation is honored at chunk boundaries.
	// Failures are reported as *TransferError where the transient/permanent
	// distinction is known.
	Stream(ctx context.Context, idOrURL string, format *model.FormatDescriptor, destPath string, onProgress Progress) error
}

// TransferError wraps a streaming failure, distinguishing transient network
// conditions (worth retrying with backoff) from permanent ones such as
// permission denied or disk full.
type TransferError struct {
	Permanent bool
	Err       error
}

func (e *TransferError) Error() string {
	if e.Permanent {
		return "transfer failed (permanent): " + e.Err.Error()
	}
	return "transfer failed: " + e.Err.Error()
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retriable transfer failure
func Transient(err error) error {
	return &TransferError{Err: err}
}

// Permanent wraps err as a non-retriable transfer failure
func Permanent(err error) error {
	return &TransferError{Permanent: true, Err: err}
}

// IsTransient reports whether err is a transfer failure worth retrying
func IsTransient(err error) bool {
	var te *TransferError
	if errors.As(err, &te) {
		return !te.Permanent
	}
	return false
}
