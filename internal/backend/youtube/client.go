package youtube

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/tetor-04/IDM-YT/internal/backend"
	"github.com/tetor-04/IDM-YT/internal/model"
)

// Listing markers YouTube uses for entries that are gone but still listed
var unavailableTitles = []string{"[Private video]", "[Deleted video]"}

// Stream copy settings
const (
	chunkSize  = 64 * 1024
	dateLayout = "20060102"
)

// Client implements backend.Extractor on top of the kkdai/youtube library
type Client struct {
	yt   youtube.Client
	http *http.Client
}

// New creates a new YouTube extraction client
func New() *Client {
	return &Client{http: http.DefaultClient}
}

// ListCollection returns the flat listing of a playlist URL
func (c *Client) ListCollection(ctx context.Context, url string) ([]backend.ItemSummary, error) {
	pl, err := c.yt.GetPlaylistContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
	}

	summaries := make([]backend.ItemSummary, 0, len(pl.Videos))
	for _, entry := range pl.Videos {
		summaries = append(summaries, backend.ItemSummary{
			ID:          entry.ID,
			Title:       entry.Title,
			Duration:    entry.Duration,
			Unavailable: isUnavailableTitle(entry.Title),
		})
	}
	return summaries, nil
}

// FetchItemInfo describes a single video and maps its formats, thumbnails
// and caption tracks to format descriptors
func (c *Client) FetchItemInfo(ctx context.Context, idOrURL string) (*backend.ItemInfo, error) {
	v, err := c.yt.GetVideoContext(ctx, idOrURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
	}

	info := &backend.ItemInfo{
		ID:       v.ID,
		Title:    v.Title,
		Uploader: v.Author,
		Duration: v.Duration,
	}
	if !v.PublishDate.IsZero() {
		info.UploadDate = v.PublishDate.Format(dateLayout)
	}

	for _, f := range v.Formats {
		info.Formats = append(info.Formats, descriptorFromFormat(f))
	}
	for _, th := range v.Thumbnails {
		info.Formats = append(info.Formats, model.FormatDescriptor{
			Kind:      model.FormatThumbnail,
			Label:     fmt.Sprintf("thumbnail %dx%d", th.Width, th.Height),
			Container: containerFromURL(th.URL, "jpg"),
			Height:    int(th.Height),
			SourceID:  th.URL,
		})
	}
	for _, track := range v.CaptionTracks {
		info.Formats = append(info.Formats, model.FormatDescriptor{
			Kind:      model.FormatSubtitle,
			Label:     "subtitles " + track.LanguageCode,
			Container: "vtt",
			SourceID:  track.BaseURL,
		})
	}

	return info, nil
}

// Stream retrieves the selected format to destPath. Itag-backed formats go
// through the youtube stream API; thumbnail and subtitle descriptors carry a
// direct URL and are fetched over plain HTTP.
func (c *Client) Stream(ctx context.Context, idOrURL string, fd *model.FormatDescriptor, destPath string, onProgress backend.Progress) error {
	if fd == nil {
		return backend.Permanent(fmt.Errorf("no format selected"))
	}

	if fd.Kind == model.FormatThumbnail || fd.Kind == model.FormatSubtitle {
		return c.fetchURL(ctx, fd.SourceID, destPath, onProgress)
	}

	v, err := c.yt.GetVideoContext(ctx, idOrURL)
	if err != nil {
		return backend.Transient(err)
	}

	itag, err := strconv.Atoi(fd.SourceID)
	if err != nil {
		return backend.Permanent(fmt.Errorf("bad format source id %q: %w", fd.SourceID, err))
	}
	var target *youtube.Format
	for i := range v.Formats {
		if v.Formats[i].ItagNo == itag {
			target = &v.Formats[i]
			break
		}
	}
	if target == nil {
		// The format list can change between resolution and transfer.
		return backend.Permanent(fmt.Errorf("%w: itag %d no longer offered", model.ErrFormatNotFound, itag))
	}

	rc, size, err := c.yt.GetStreamContext(ctx, v, target)
	if err != nil {
		return backend.Transient(err)
	}
	defer rc.Close()

	return copyToFile(ctx, rc, size, destPath, onProgress)
}

// fetchURL downloads a direct URL (thumbnail, subtitle track) to destPath
func (c *Client) fetchURL(ctx context.Context, url, destPath string, onProgress backend.Progress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backend.Permanent(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return backend.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return backend.Transient(fmt.Errorf("HTTP %s", resp.Status))
	}

	return copyToFile(ctx, resp.Body, resp.ContentLength, destPath, onProgress)
}

// copyToFile copies src to destPath in chunks, checking cancellation and
// reporting progress at every chunk boundary
func copyToFile(ctx context.Context, src io.Reader, total int64, destPath string, onProgress backend.Progress) error {
	if total <= 0 {
		total = model.BytesTotalUnknown
	}

	out, err := os.Create(destPath)
	if err != nil {
		if os.IsPermission(err) {
			return backend.Permanent(err)
		}
		return backend.Transient(err)
	}
	defer out.Close()

	var received int64
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				if os.IsPermission(writeErr) {
					return backend.Permanent(writeErr)
				}
				return backend.Permanent(fmt.Errorf("writing %s: %w", destPath, writeErr))
			}
			received += int64(n)
			if onProgress != nil {
				onProgress(received, total)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return backend.Transient(readErr)
		}
	}
}

func descriptorFromFormat(f youtube.Format) model.FormatDescriptor {
	container, codec := parseMimeType(f.MimeType)

	fd := model.FormatDescriptor{
		Container:  container,
		Codec:      codec,
		Bitrate:    f.Bitrate,
		ApproxSize: f.ContentLength,
		SourceID:   strconv.Itoa(f.ItagNo),
	}
	if strings.HasPrefix(f.MimeType, "audio/") {
		fd.Kind = model.FormatAudioOnly
		fd.Label = fmt.Sprintf("audio %dkbps (%s)", f.Bitrate/1000, container)
	} else {
		fd.Kind = model.FormatVideo
		fd.Height = f.Height
		fd.Label = f.QualityLabel
		if fd.Label == "" {
			fd.Label = fmt.Sprintf("%dp", f.Height)
		}
	}
	return fd
}

// parseMimeType splits "video/mp4; codecs=\"avc1...\"" into container and codec
func parseMimeType(mimeType string) (container, codec string) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "mp4", ""
	}
	if idx := strings.Index(mediaType, "/"); idx >= 0 {
		container = mediaType[idx+1:]
	}
	codec = params["codecs"]
	return container, codec
}

func containerFromURL(url, fallback string) string {
	trimmed := url
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.LastIndex(trimmed, "."); idx >= 0 && idx < len(trimmed)-1 {
		return trimmed[idx+1:]
	}
	return fallback
}

func isUnavailableTitle(title string) bool {
	for _, marker := range unavailableTitles {
		if title == marker {
			return true
		}
	}
	return false
}
