package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tetor-04/IDM-YT/internal/backend"
	"github.com/tetor-04/IDM-YT/internal/backend/youtube"
	"github.com/tetor-04/IDM-YT/internal/backend/ytdlp"
	"github.com/tetor-04/IDM-YT/internal/config"
	"github.com/tetor-04/IDM-YT/internal/download"
	"github.com/tetor-04/IDM-YT/internal/format"
	"github.com/tetor-04/IDM-YT/internal/model"
	"github.com/tetor-04/IDM-YT/internal/plan"
	"github.com/tetor-04/IDM-YT/internal/postprocess"
)

// Exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

const progressRefresh = 500 * time.Millisecond

func main() {
	// Command line flags
	var (
		urlFlag       = flag.String("url", "", "Video, playlist or channel URL to download")
		outputFlag    = flag.String("output", "", "Output directory (overrides config)")
		configFlag    = flag.String("config", "", "Path to config file")
		backendFlag   = flag.String("backend", "youtube", "Extraction backend: youtube or ytdlp")
		qualityFlag   = flag.String("quality", "", "Quality preset: best, medium or audio (overrides config)")
		formatFlag    = flag.String("format", "", "Exact format label, e.g. 1080p (overrides -quality)")
		audioFlag     = flag.Bool("audio", false, "Download audio only and transcode to mp3")
		thumbnailFlag = flag.Bool("thumbnail", false, "Save the thumbnail next to the media file")
		subsFlag      = flag.Bool("subs", false, "Save a subtitle track next to the media file")
		parallelFlag  = flag.Int("parallel", 0, "Concurrent downloads (overrides config)")
		singleFlag    = flag.Bool("single", false, "For a URL naming both a video and a playlist, take the video only")
		allFlag       = flag.Bool("all", false, "For a URL naming both a video and a playlist, take the whole playlist")
		dryRunFlag    = flag.Bool("dry-run", false, "Resolve the URL and list jobs without downloading")
	)

	flag.Parse()

	url := *urlFlag
	if url == "" && flag.NArg() > 0 {
		url = flag.Arg(0)
	}
	if url == "" {
		fmt.Println("idm-yt - download videos, playlists and channels")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  idm-yt -url <URL> [options]")
		fmt.Println("  idm-yt <URL> [options]")
		fmt.Println()
		flag.PrintDefaults()
		os.Exit(exitUsage)
	}

	settings, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(exitFailure)
	}

	// Apply flags
	if *outputFlag != "" {
		settings.DownloadDir = *outputFlag
	}
	if *qualityFlag != "" {
		settings.QualityPreset = *qualityFlag
	}
	if *audioFlag {
		settings.QualityPreset = format.PresetAudio
	}
	if *parallelFlag > 0 {
		settings.MaxParallel = *parallelFlag
	}
	settings.Clamp()

	be, err := newBackend(*backendFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}

	// Handle interrupts
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	planner := plan.New(be, settings)
	if *formatFlag != "" {
		planner.SetSelection(model.FormatSelection{Kind: model.FormatVideo, Label: *formatFlag})
	}

	var steps []model.PostStep
	if *audioFlag {
		steps = append(steps, model.PostAudioTranscode)
	}
	if *thumbnailFlag {
		steps = append(steps, model.PostThumbnailSave)
	}
	if *subsFlag {
		steps = append(steps, model.PostSubtitleExtract)
	}
	planner.SetPostSteps(steps)

	choice := plan.ChoiceNone
	if *singleFlag {
		choice = plan.ChoiceSingleOnly
	}
	if *allFlag {
		choice = plan.ChoiceFullCollection
	}

	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, cancelling...")
		cancel()
	}()

	fmt.Printf("Resolving %s\n", url)
	batch, err := planner.Resolve(ctx, url, choice)
	switch {
	case errors.Is(err, plan.ErrChoiceRequired):
		fmt.Fprintln(os.Stderr, "This URL names both a video and a playlist.")
		fmt.Fprintln(os.Stderr, "Rerun with -single for the video only, or -all for the whole playlist.")
		os.Exit(exitUsage)
	case errors.Is(err, model.ErrUserCancelled):
		os.Exit(exitInterrupted)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error resolving URL: %v\n", err)
		os.Exit(exitFailure)
	}

	fmt.Printf("Resolved %s: %d jobs", batch.Kind, len(batch.Jobs))
	if batch.Skipped > 0 {
		fmt.Printf(", %d unavailable items skipped", batch.Skipped)
	}
	fmt.Println()

	if *dryRunFlag {
		for i, j := range batch.Jobs {
			title := j.Item.Title
			if title == "" {
				title = j.Item.ID
			}
			fmt.Printf("  %2d. %s -> %s\n", i+1, title, j.DestPath)
		}
		fmt.Println("\n[Dry run - not downloading]")
		return
	}
	if len(batch.Jobs) == 0 {
		return
	}

	if *audioFlag && !(postprocess.FFmpegTranscoder{}).Available() {
		fmt.Fprintln(os.Stderr, "Warning: ffmpeg not found; audio will keep its original container.")
	}

	post := postprocess.NewProcessor(postprocess.DefaultStepParallel)
	post.Register(postprocess.NewAudioTranscodeStep(settings.AudioBitrate))
	post.Register(&postprocess.ThumbnailSaveStep{Fetcher: be})
	post.Register(&postprocess.SubtitleExtractStep{Fetcher: be})

	scheduler := download.NewScheduler(be, post, settings)
	handle, err := scheduler.Schedule(ctx, batch, settings.MaxParallel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scheduling batch: %v\n", err)
		os.Exit(exitFailure)
	}
	defer handle.Close()

	// Second signal cancels the batch cooperatively; ctx already covers
	// the hard path.
	go func() {
		<-ctx.Done()
		handle.Cancel()
	}()

	renderUntilDone(handle)

	exitCode := printSummary(handle, ctx.Err() != nil)
	os.Exit(exitCode)
}

// newBackend picks the extraction backend by name
func newBackend(name string) (backend.Extractor, error) {
	switch name {
	case "youtube":
		return youtube.New(), nil
	case "ytdlp":
		return ytdlp.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q, want youtube or ytdlp", name)
	}
}

// renderUntilDone redraws a one-line progress status until every job is
// terminal
func renderUntilDone(handle *download.BatchHandle) {
	done := make(chan struct{})
	go func() {
		handle.Wait(context.Background())
		close(done)
	}()

	ticker := time.NewTicker(progressRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printProgress(handle.Progress())
		case <-done:
			printProgress(handle.Progress())
			fmt.Println()
			return
		}
	}
}

func printProgress(p download.BatchProgress) {
	terminal := p.Completed + p.Failed + p.Cancelled
	fmt.Printf("\r%d/%d done  %5.1f%%  %s  %d running",
		terminal, p.Total, p.Ratio()*100, formatRate(p.Rate), p.Running)
}

func formatRate(bytesPerSec float64) string {
	switch {
	case bytesPerSec >= 1024*1024:
		return fmt.Sprintf("%6.1f MB/s", bytesPerSec/1024/1024)
	case bytesPerSec >= 1024:
		return fmt.Sprintf("%6.1f KB/s", bytesPerSec/1024)
	default:
		return fmt.Sprintf("%6.0f B/s", bytesPerSec)
	}
}

// printSummary lists every job outcome and returns the process exit code
func printSummary(handle *download.BatchHandle, interrupted bool) int {
	jobs := handle.Jobs()

	failed := 0
	cancelled := 0
	for _, j := range jobs {
		title := j.Item.Title
		if title == "" {
			title = j.Item.ID
		}

		switch j.State {
		case model.JobStateCompleted:
			if j.Degraded {
				fmt.Printf("  done (degraded: %s): %s -> %s\n", j.DegradedReason, title, j.DestPath)
			} else {
				fmt.Printf("  done: %s -> %s\n", title, j.DestPath)
			}
		case model.JobStateFailed:
			failed++
			fmt.Printf("  failed (%s): %s: %s\n", j.Reason, title, j.LastError)
		case model.JobStateCancelled:
			cancelled++
			fmt.Printf("  cancelled: %s\n", title)
		default:
			fmt.Printf("  %s: %s\n", j.State, title)
		}
	}

	p := handle.Progress()
	fmt.Printf("\nComplete: %d/%d downloaded", p.Completed, p.Total)
	if p.Skipped > 0 {
		fmt.Printf(", %d skipped", p.Skipped)
	}
	if failed > 0 {
		fmt.Printf(", %d failed", failed)
	}
	fmt.Println()

	switch {
	case interrupted || cancelled == len(jobs) && len(jobs) > 0:
		return exitInterrupted
	case failed > 0:
		return exitFailure
	default:
		return exitOK
	}
}
