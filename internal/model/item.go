package model

import "time"

// SourceKind classifies a user-supplied URL
type SourceKind string

const (
	// SourceSingleItem is a URL pointing at exactly one retrievable item
	SourceSingleItem SourceKind = "SingleItem"

	// SourcePlaylist is a URL pointing at an ordered collection of items
	SourcePlaylist SourceKind = "Playlist"

	// SourceChannel is a URL pointing at an uploader's full catalogue
	SourceChannel SourceKind = "Channel"

	// SourceAmbiguous is a URL carrying both a single-item id and a
	// collection id; resolution requires an explicit user choice
	SourceAmbiguous SourceKind = "Ambiguous"
)

// ItemDescriptor is the metadata for one retrievable unit. It is produced
// once by the resolution step and is immutable afterwards, except for
// SelectedFormat (set by the user before scheduling) and Formats/Title
// (filled in at the lazy resolution point by the scheduler control path).
type ItemDescriptor struct {
	ID            string
	URL           string
	Title         string
	Uploader      string
	UploadDate    string // YYYYMMDD, empty if unknown
	Duration      time.Duration
	PlaylistIndex int    // 1-based position within the source collection, 0 for single items
	BatchID       string // parent batch, empty when not part of one

	// Formats is nil until resolved; formats are fetched lazily, only when
	// the item is actually scheduled.
	Formats []FormatDescriptor

	// SelectedFormat is an optional explicit pick made before scheduling.
	SelectedFormat *FormatDescriptor
}

// FormatsResolved returns true once the item's formats have been fetched
func (it *ItemDescriptor) FormatsResolved() bool {
	return it.Formats != nil
}

// Clone returns a deep copy that is safe to read while the original keeps
// being filled in by the scheduler control path
func (it *ItemDescriptor) Clone() *ItemDescriptor {
	if it == nil {
		return nil
	}
	c := *it
	if it.Formats != nil {
		c.Formats = append([]FormatDescriptor(nil), it.Formats...)
	}
	if it.SelectedFormat != nil {
		sf := *it.SelectedFormat
		c.SelectedFormat = &sf
	}
	return &c
}
