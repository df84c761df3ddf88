package model

// FormatKind classifies a retrievable rendition of an item
type FormatKind string

const (
	// FormatVideo is a video rendition (possibly with muxed audio)
	FormatVideo FormatKind = "video"

	// FormatAudioOnly is an audio-only rendition
	FormatAudioOnly FormatKind = "audioOnly"

	// FormatThumbnail is a still-image preview of the item
	FormatThumbnail FormatKind = "thumbnail"

	// FormatSubtitle is a subtitle track
	FormatSubtitle FormatKind = "subtitle"
)

// FormatDescriptor describes one selectable rendition of an item.
// Descriptors are produced by the extraction backend and ranked by the
// format catalog; SourceID is the backend-specific handle (an itag, a
// selector expression, or a direct URL) needed to retrieve the rendition.
type FormatDescriptor struct {
	Kind       FormatKind
	Label      string // user-facing, e.g. "1080p" or "MP3 192kbps"
	Container  string // mp4, webm, m4a, jpg, vtt...
	Codec      string
	Height     int   // video formats only
	Bitrate    int   // bits per second, audio and video
	ApproxSize int64 // bytes, 0 if unknown
	SourceID   string
}

// FormatSelection captures what the user asked for before an item's formats
// are known. Selection is fixed at schedule time; the concrete descriptor is
// picked at the lazy resolution point inside the worker.
type FormatSelection struct {
	Kind   FormatKind
	Label  string // exact label match; empty means apply Preset
	Preset string // quality preset (best/medium/audio) when Label is empty
}
