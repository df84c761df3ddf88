package postprocess

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tetor-04/IDM-YT/internal/model"
)

// Processor limits
const (
	// DefaultStepParallel bounds how many steps of one job run at once
	DefaultStepParallel = 2
)

// Input carries everything a step needs about a finished download
type Input struct {
	JobID string
	Item  *model.ItemDescriptor
	Steps []model.PostStep

	// RawPath is the downloaded media file at its final destination
	RawPath string
}

// StepResult is the outcome of a single step
type StepResult struct {
	// Outputs lists files the step produced
	Outputs []string

	// Degraded marks a step that could not do its work but should not
	// fail the job (missing tool, missing track). Reason explains it.
	Degraded bool
	Reason   string

	// RemoveRaw asks the processor to delete the raw media file once all
	// steps succeed. An audio transcode sets this so the intermediate
	// container does not linger next to the mp3.
	RemoveRaw bool
}

// Step is one post-processing operation
type Step interface {
	// Kind identifies which requested PostStep this step serves
	Kind() model.PostStep

	// Run executes the step for a finished download
	Run(ctx context.Context, in Input) (StepResult, error)
}

// Result aggregates the outcomes of all steps requested for a job
type Result struct {
	Outputs  []string
	Degraded bool
	Reasons  []string
}

// Processor dispatches requested post-processing steps to registered
// implementations
type Processor struct {
	steps    map[model.PostStep]Step
	parallel int
}

// NewProcessor creates a processor with the given per-job step parallelism
func NewProcessor(parallel int) *Processor {
	if parallel < 1 {
		parallel = DefaultStepParallel
	}
	return &Processor{
		steps:    make(map[model.PostStep]Step),
		parallel: parallel,
	}
}

// Register adds a step implementation, replacing any previous one of the
// same kind
func (p *Processor) Register(s Step) {
	p.steps[s.Kind()] = s
}

// Process runs every step the input requests. Step failures and unregistered
// steps degrade the result rather than erroring; only context cancellation
// aborts. When no step degraded and at least one step asked for it, the raw
// media file is removed.
func (p *Processor) Process(ctx context.Context, in Input) (*Result, error) {
	res := &Result{}
	if len(in.Steps) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	removeRaw := false

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)

	for _, kind := range in.Steps {
		step, ok := p.steps[kind]
		if !ok {
			mu.Lock()
			res.Degraded = true
			res.Reasons = append(res.Reasons, fmt.Sprintf("no implementation for step %s", kind))
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			sr, err := step.Run(gctx, in)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Printf("Post-processing step %s failed for job %s: %v", step.Kind(), in.JobID, err)
				res.Degraded = true
				res.Reasons = append(res.Reasons, fmt.Sprintf("%s: %v", step.Kind(), err))
				return nil
			}

			res.Outputs = append(res.Outputs, sr.Outputs...)
			if sr.Degraded {
				res.Degraded = true
				res.Reasons = append(res.Reasons, sr.Reason)
			}
			if sr.RemoveRaw {
				removeRaw = true
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	// The raw file survives whenever anything degraded, so a retry of the
	// post-processing never has to re-download.
	if removeRaw && !res.Degraded {
		removeFile(in.RawPath)
	}

	return res, nil
}
