package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goytdlp "github.com/lrstanley/go-ytdlp"
	ytget "github.com/ytget/ytdlp/v2"

	"github.com/tetor-04/IDM-YT/internal/backend"
	"github.com/tetor-04/IDM-YT/internal/model"
)

// URL parameters and separators
const (
	PlaylistParam  = "list="
	ParamSeparator = "&"
)

// URL templates
const (
	VideoURLTemplate = "https://www.youtube.com/watch?v=%s"
)

// Timeout and progress constants
const (
	DefaultListTimeout   = 60 * time.Second
	progressPollInterval = 250 * time.Millisecond
)

// Selector-backed format descriptors exposed by this adapter. yt-dlp picks
// the concrete rendition itself, so the catalogue is a fixed preset list;
// the heights are nominal and only order the presets.
var presetFormats = []model.FormatDescriptor{
	{Kind: model.FormatVideo, Label: "best", Container: "mp4", Height: 2160, SourceID: "bestvideo*+bestaudio/best"},
	{Kind: model.FormatVideo, Label: "720p", Container: "mp4", Height: 720, SourceID: "best[height<=720]"},
	{Kind: model.FormatAudioOnly, Label: "bestaudio", Container: "m4a", Bitrate: 160_000, SourceID: "bestaudio"},
}

// Client implements backend.Extractor on top of yt-dlp
type Client struct {
	listTimeout time.Duration
}

// New creates a new yt-dlp extraction client
func New() *Client {
	return &Client{listTimeout: DefaultListTimeout}
}

// SetListTimeout sets the timeout for collection listing
func (c *Client) SetListTimeout(timeout time.Duration) {
	c.listTimeout = timeout
}

// ListCollection returns the flat listing of a playlist URL
func (c *Client) ListCollection(ctx context.Context, url string) ([]backend.ItemSummary, error) {
	playlistID := extractPlaylistID(url)
	if playlistID == "" {
		return nil, fmt.Errorf("could not extract playlist ID from URL: %s", url)
	}

	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	d := ytget.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}

	summaries := make([]backend.ItemSummary, 0, len(items))
	for _, it := range items {
		summaries = append(summaries, backend.ItemSummary{
			ID:          it.VideoID,
			Title:       it.Title,
			Unavailable: it.VideoID == "",
		})
	}
	return summaries, nil
}

// FetchItemInfo returns the curated selector-backed format list. yt-dlp
// resolves titles and concrete renditions during the transfer itself.
func (c *Client) FetchItemInfo(ctx context.Context, idOrURL string) (*backend.ItemInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	formats := make([]model.FormatDescriptor, len(presetFormats))
	copy(formats, presetFormats)

	return &backend.ItemInfo{
		ID:      idFromURL(idOrURL),
		Formats: formats,
	}, nil
}

// Stream downloads the item through go-ytdlp with a throttled progress
// callback
func (c *Client) Stream(ctx context.Context, idOrURL string, fd *model.FormatDescriptor, destPath string, onProgress backend.Progress) error {
	dl := goytdlp.New().
		ForceOverwrites().
		Output(destPath)

	if fd != nil && fd.SourceID != "" {
		dl = dl.Format(fd.SourceID)
	}

	dl.ProgressFunc(progressPollInterval, func(update goytdlp.ProgressUpdate) {
		if onProgress == nil {
			return
		}
		total := model.BytesTotalUnknown
		if update.TotalBytes > 0 {
			total = int64(update.TotalBytes)
		}
		onProgress(int64(update.DownloadedBytes), total)
	})

	if _, err := dl.Run(ctx, idOrURL); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}
		return backend.Transient(err)
	}
	return nil
}

// extractPlaylistID extracts the playlist ID from various URL formats
func extractPlaylistID(url string) string {
	if !strings.Contains(url, PlaylistParam) {
		return ""
	}
	parts := strings.Split(url, PlaylistParam)
	if len(parts) < 2 {
		return ""
	}
	playlistPart := parts[1]
	if strings.Contains(playlistPart, ParamSeparator) {
		playlistPart = strings.Split(playlistPart, ParamSeparator)[0]
	}
	return playlistPart
}

// idFromURL pulls the video id out of a watch URL, or returns the input
// unchanged when it is already a bare id
func idFromURL(idOrURL string) string {
	if !strings.Contains(idOrURL, "v=") {
		return idOrURL
	}
	part := strings.SplitN(idOrURL, "v=", 2)[1]
	if strings.Contains(part, ParamSeparator) {
		part = strings.Split(part, ParamSeparator)[0]
	}
	return part
}

// WatchURL builds a canonical single-item URL from a video id
func WatchURL(id string) string {
	return fmt.Sprintf(VideoURLTemplate, id)
}
