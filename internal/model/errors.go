package model

import "errors"

// Reason classifies why a job ended in its terminal state. Reason codes are
// carried on events so the observer can render a specific message instead of
// a generic failure.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonUserCancelled       Reason = "UserCancelled"
	ReasonMetadataUnavailable Reason = "MetadataUnavailable"
	ReasonFormatNotFound      Reason = "FormatNotFound"
	ReasonTransfer            Reason = "TransferError"
	ReasonStalled             Reason = "Stalled"
)

var (
	// ErrUserCancelled signals a valid user-driven terminal outcome,
	// not a failure.
	ErrUserCancelled = errors.New("cancelled by user")

	// ErrFormatNotFound means a requested quality/label does not exist for
	// an item. It is surfaced to the caller for explicit re-selection and
	// never silently substituted.
	ErrFormatNotFound = errors.New("format not found")

	// ErrMetadataUnavailable means the extraction backend could not
	// describe an item (private, deleted or geo-blocked).
	ErrMetadataUnavailable = errors.New("metadata unavailable")
)
