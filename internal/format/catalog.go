package format

import (
	"fmt"
	"sort"

	"github.com/tetor-04/IDM-YT/internal/model"
)

// Quality presets for downloads
const (
	PresetBest   = "best"
	PresetMedium = "medium"
	PresetAudio  = "audio"
)

// MediumMaxHeight caps the resolution picked by the medium preset
const MediumMaxHeight = 720

// kindPriority orders mixed lists: video first, then audio, thumbnails,
// subtitles.
var kindPriority = map[model.FormatKind]int{
	model.FormatVideo:     0,
	model.FormatAudioOnly: 1,
	model.FormatThumbnail: 2,
	model.FormatSubtitle:  3,
}

// Rank returns the formats ordered best-first: video formats descending by
// (height, bitrate), audio formats descending by bitrate. The sort is stable
// so ties keep their original order, which makes Rank deterministic and
// idempotent.
func Rank(raw []model.FormatDescriptor) []model.FormatDescriptor {
	ranked := make([]model.FormatDescriptor, len(raw))
	copy(ranked, raw)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Kind != b.Kind {
			return kindPriority[a.Kind] < kindPriority[b.Kind]
		}
		switch a.Kind {
		case model.FormatVideo:
			if a.Height != b.Height {
				return a.Height > b.Height
			}
			return a.Bitrate > b.Bitrate
		case model.FormatAudioOnly:
			return a.Bitrate > b.Bitrate
		}
		return false
	})

	return ranked
}

// SelectBest returns the top-ranked format of the given kind, or nil when
// the item has no format of that kind. A nil result signals "unavailable",
// not an error.
func SelectBest(ranked []model.FormatDescriptor, kind model.FormatKind) *model.FormatDescriptor {
	for i := range ranked {
		if ranked[i].Kind == kind {
			return &ranked[i]
		}
	}
	return nil
}

// SelectByLabel returns the format whose user-facing label matches exactly.
// A miss is reported as model.ErrFormatNotFound and must be surfaced to the
// caller rather than silently substituted.
func SelectByLabel(ranked []model.FormatDescriptor, label string) (*model.FormatDescriptor, error) {
	for i := range ranked {
		if ranked[i].Label == label {
			return &ranked[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", model.ErrFormatNotFound, label)
}

// Select applies a job's selection to a ranked list: an exact label when one
// was given, the preset policy otherwise. A selection whose kind has no
// formats at all yields model.ErrFormatNotFound.
func Select(ranked []model.FormatDescriptor, sel model.FormatSelection) (*model.FormatDescriptor, error) {
	if sel.Label != "" {
		return SelectByLabel(ranked, sel.Label)
	}

	kind := sel.Kind
	if kind == "" {
		kind = model.FormatVideo
	}
	if sel.Preset == PresetAudio {
		kind = model.FormatAudioOnly
	}

	var chosen *model.FormatDescriptor
	switch sel.Preset {
	case PresetMedium:
		chosen = selectCapped(ranked, kind, MediumMaxHeight)
	default:
		chosen = SelectBest(ranked, kind)
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: no %s format available", model.ErrFormatNotFound, kind)
	}
	return chosen, nil
}

// selectCapped returns the best format of the kind whose height does not
// exceed maxHeight, falling back to the overall best when everything is
// above the cap.
func selectCapped(ranked []model.FormatDescriptor, kind model.FormatKind, maxHeight int) *model.FormatDescriptor {
	if kind != model.FormatVideo {
		return SelectBest(ranked, kind)
	}
	for i := range ranked {
		if ranked[i].Kind == kind && ranked[i].Height <= maxHeight {
			return &ranked[i]
		}
	}
	return SelectBest(ranked, kind)
}
