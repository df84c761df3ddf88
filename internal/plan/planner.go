package plan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/tetor-04/IDM-YT/internal/backend"
	"github.com/tetor-04/IDM-YT/internal/config"
	"github.com/tetor-04/IDM-YT/internal/model"
	"github.com/tetor-04/IDM-YT/internal/platform"
)

// UserChoice resolves an ambiguous URL that carries both a single-item id
// and a collection id.
type UserChoice int

const (
	// ChoiceNone means no choice has been supplied yet
	ChoiceNone UserChoice = iota

	// ChoiceSingleOnly downloads only the single item from the URL
	ChoiceSingleOnly

	// ChoiceFullCollection downloads the whole playlist or channel
	ChoiceFullCollection

	// ChoiceCancel aborts resolution; this yields an empty batch and a
	// user-cancelled signal, not an error
	ChoiceCancel
)

// ErrChoiceRequired is returned when an ambiguous URL is resolved without a
// user choice.
var ErrChoiceRequired = errors.New("ambiguous URL requires a user choice")

// PlaylistURLTemplate builds a canonical collection URL from a list id
const PlaylistURLTemplate = "https://www.youtube.com/playlist?list=%s"

// Planner resolves source URLs into batches of download jobs
type Planner struct {
	backend   backend.Extractor
	cfg       *config.Settings
	selection model.FormatSelection
	postSteps []model.PostStep
}

// New creates a planner over the given extraction backend
func New(b backend.Extractor, cfg *config.Settings) *Planner {
	return &Planner{
		backend: b,
		cfg:     cfg,
		selection: model.FormatSelection{
			Kind:   model.FormatVideo,
			Preset: cfg.QualityPreset,
		},
	}
}

// SetSelection sets the format selection applied to every job of the next
// resolved batch
func (p *Planner) SetSelection(sel model.FormatSelection) {
	p.selection = sel
}

// SetPostSteps sets the post-processing steps requested for every job of the
// next resolved batch
func (p *Planner) SetPostSteps(steps []model.PostStep) {
	p.postSteps = steps
}

// Resolve turns a source URL into a batch of schedulable jobs. Collection
// listings can take tens of seconds; the call honors ctx cancellation while
// the listing is in progress. A single unavailable item inside a collection
// is skipped and counted, never aborting the whole batch.
func (p *Planner) Resolve(ctx context.Context, rawURL string, choice UserChoice) (*model.Batch, error) {
	cls := Classify(rawURL)

	batch := &model.Batch{
		ID:        model.NewBatchID(),
		SourceURL: rawURL,
		Kind:      cls.Kind,
		CreatedAt: time.Now(),
	}

	switch cls.Kind {
	case model.SourceAmbiguous:
		switch choice {
		case ChoiceCancel:
			return batch, model.ErrUserCancelled
		case ChoiceSingleOnly:
			batch.Kind = model.SourceSingleItem
			p.addSingleItem(batch, cls.ItemID, cleanSingleURL(rawURL))
			return batch, nil
		case ChoiceFullCollection:
			batch.Kind = model.SourcePlaylist
			listURL := rawURL
			if cls.CollectionID != "" {
				listURL = fmt.Sprintf(PlaylistURLTemplate, cls.CollectionID)
			}
			return batch, p.addCollection(ctx, batch, listURL)
		default:
			return nil, ErrChoiceRequired
		}

	case model.SourcePlaylist, model.SourceChannel:
		return batch, p.addCollection(ctx, batch, cls.URL)

	default:
		p.addSingleItem(batch, cls.ItemID, cls.URL)
		return batch, nil
	}
}

func (p *Planner) addSingleItem(batch *model.Batch, id, url string) {
	item := &model.ItemDescriptor{
		ID:      id,
		URL:     url,
		BatchID: batch.ID,
	}
	p.appendJob(batch, item, make(map[string]int))
}

func (p *Planner) addCollection(ctx context.Context, batch *model.Batch, listURL string) error {
	items, err := p.backend.ListCollection(ctx, listURL)
	if err != nil {
		return fmt.Errorf("listing collection: %w", err)
	}

	seen := make(map[string]int)
	for i, summary := range items {
		if summary.Unavailable || summary.ID == "" {
			batch.Skipped++
			log.Printf("Skipping unavailable item %d in %s", i+1, listURL)
			continue
		}
		item := &model.ItemDescriptor{
			ID:            summary.ID,
			URL:           watchURL(summary.ID),
			Title:         summary.Title,
			Duration:      summary.Duration,
			PlaylistIndex: i + 1,
			BatchID:       batch.ID,
		}
		p.appendJob(batch, item, seen)
	}
	return nil
}

// appendJob creates a job for the item with its destination template
// expanded as far as current knowledge allows; colliding destinations get a
// disambiguating suffix before scheduling.
func (p *Planner) appendJob(batch *model.Batch, item *model.ItemDescriptor, seen map[string]int) {
	dest := p.destTemplate(item)
	if n, ok := seen[dest]; ok {
		seen[dest] = n + 1
		dest = platform.WithSuffix(dest, n)
	} else {
		seen[dest] = 1
	}

	selection := p.selection
	if item.SelectedFormat != nil {
		// An explicit pre-scheduling pick on the item wins over the
		// planner-wide selection.
		selection = model.FormatSelection{
			Kind:  item.SelectedFormat.Kind,
			Label: item.SelectedFormat.Label,
		}
	}

	job := &model.DownloadJob{
		ID:         model.NewJobID(),
		BatchID:    batch.ID,
		Item:       item,
		Selection:  selection,
		DestPath:   dest,
		PostSteps:  append([]model.PostStep(nil), p.postSteps...),
		State:      model.JobStateQueued,
		BytesTotal: model.BytesTotalUnknown,
		CreatedAt:  time.Now(),
	}
	batch.Jobs = append(batch.Jobs, job)
}

// destTemplate expands the destination template with everything known at
// plan time; the extension and any still-missing fields are filled at
// job finalization.
func (p *Planner) destTemplate(item *model.ItemDescriptor) string {
	vars := map[string]string{}
	if item.Title != "" {
		vars[platform.PlaceholderTitle] = item.Title
	}
	if item.ID != "" {
		vars[platform.PlaceholderID] = item.ID
	}
	if item.PlaylistIndex > 0 {
		vars[platform.PlaceholderPlaylistIndex] = fmt.Sprintf("%02d", item.PlaylistIndex)
	}
	tmpl := filepath.Join(p.cfg.DownloadDir, p.cfg.FilenameTemplate)
	return platform.ExpandTemplate(tmpl, vars)
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
