package postprocess

import (
	"context"
	"fmt"

	"github.com/tetor-04/IDM-YT/internal/backend"
	"github.com/tetor-04/IDM-YT/internal/model"
)

// Sidecar degradation reasons
const (
	NoThumbnailAvailable = "item has no thumbnail"
	NoSubtitleAvailable  = "item has no subtitle track"
)

// ThumbnailSaveStep fetches the largest available thumbnail and saves it
// next to the media file
type ThumbnailSaveStep struct {
	Fetcher backend.Extractor
}

// Kind implements Step
func (s *ThumbnailSaveStep) Kind() model.PostStep {
	return model.PostThumbnailSave
}

// Run implements Step
func (s *ThumbnailSaveStep) Run(ctx context.Context, in Input) (StepResult, error) {
	desc := bestThumbnail(in.Item.Formats)
	if desc == nil {
		return StepResult{Degraded: true, Reason: NoThumbnailAvailable}, nil
	}

	outputPath := replaceExt(in.RawPath, "."+extensionOr(desc.Container, "jpg"))
	if err := s.Fetcher.Stream(ctx, in.Item.URL, desc, outputPath, nil); err != nil {
		return StepResult{}, fmt.Errorf("fetching thumbnail: %w", err)
	}
	return StepResult{Outputs: []string{outputPath}}, nil
}

// SubtitleExtractStep fetches one subtitle track and saves it next to the
// media file
type SubtitleExtractStep struct {
	Fetcher backend.Extractor
}

// Kind implements Step
func (s *SubtitleExtractStep) Kind() model.PostStep {
	return model.PostSubtitleExtract
}

// Run implements Step
func (s *SubtitleExtractStep) Run(ctx context.Context, in Input) (StepResult, error) {
	desc := firstSubtitle(in.Item.Formats)
	if desc == nil {
		return StepResult{Degraded: true, Reason: NoSubtitleAvailable}, nil
	}

	outputPath := replaceExt(in.RawPath, "."+extensionOr(desc.Container, "vtt"))
	if err := s.Fetcher.Stream(ctx, in.Item.URL, desc, outputPath, nil); err != nil {
		return StepResult{}, fmt.Errorf("fetching subtitles: %w", err)
	}
	return StepResult{Outputs: []string{outputPath}}, nil
}

// bestThumbnail picks the thumbnail descriptor with the greatest height
func bestThumbnail(formats []model.FormatDescriptor) *model.FormatDescriptor {
	var best *model.FormatDescriptor
	for i := range formats {
		f := &formats[i]
		if f.Kind != model.FormatThumbnail {
			continue
		}
		if best == nil || f.Height > best.Height {
			best = f
		}
	}
	return best
}

// firstSubtitle picks the first subtitle track, preferring vtt containers
func firstSubtitle(formats []model.FormatDescriptor) *model.FormatDescriptor {
	var first *model.FormatDescriptor
	for i := range formats {
		f := &formats[i]
		if f.Kind != model.FormatSubtitle {
			continue
		}
		if f.Container == "vtt" {
			return f
		}
		if first == nil {
			first = f
		}
	}
	return first
}

// extensionOr returns the container name as a file extension, or the
// fallback when the backend did not report one
func extensionOr(container, fallback string) string {
	if container == "" {
		return fallback
	}
	return container
}
