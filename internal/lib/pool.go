package lib

import (
	"context"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc"
)

// Summary counts what happened to the files of one batch.
type Summary struct {
	// Skipped files were not eligible and never enqueued.
	Skipped int
	// Completed is the number of upload attempts that finished, whatever the outcome.
	Completed int

	Succeeded int
	Rejected  int
	Exhausted int
	Aborted   int
	// Errored files could not be read or moved.
	Errored int
}

// Pool runs a fixed number of upload workers over a shared queue.
type Pool struct {
	workers  int
	uploader FileUploader
	bar      *progressbar.ProgressBar

	wg conc.WaitGroup

	mu      sync.Mutex
	summary Summary
}

// NewPool creates a pool of workers. bar may be nil.
func NewPool(workers int, uploader FileUploader, bar *progressbar.ProgressBar) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{workers: workers, uploader: uploader, bar: bar}
}

// Start launches the workers. Each worker exits when it dequeues a sentinel
// or ctx is cancelled, so the caller must put one sentinel per worker.
func (p *Pool) Start(ctx context.Context, q *Queue[string]) {
	for i := 0; i < p.workers; i++ {
		p.wg.Go(func() {
			p.work(ctx, q, i)
		})
	}
}

// Wait blocks until every worker has exited.
// It re-panics if a worker panicked.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Summary returns a snapshot of the counts so far.
func (p *Pool) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary
}

func (p *Pool) work(ctx context.Context, q *Queue[string], id int) {
	for {
		path, ok, err := q.Get(ctx)
		if err != nil {
			logger.Debug("Worker cancelled", slog.Int("worker", id))
			return
		}
		if !ok {
			if err := q.TaskDone(); err != nil {
				logger.Error("Failed to mark sentinel done", slog.Int("worker", id), slog.String("error", err.Error()))
			}
			logger.Debug("Worker stopping", slog.Int("worker", id))
			return
		}

		result, err := p.uploader.UploadFile(ctx, path)
		p.record(result, err)
		if err != nil {
			logger.Error("Upload error",
				slog.String("file", path),
				slog.String("outcome", result.Outcome.String()),
				slog.String("error", err.Error()))
		}
		if err := q.TaskDone(); err != nil {
			logger.Error("Failed to mark task done", slog.String("file", path), slog.String("error", err.Error()))
		}
	}
}

func (p *Pool) record(result UploadResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.summary.Completed++
	switch {
	case result.Outcome == OutcomeAborted:
		p.summary.Aborted++
	case err != nil:
		p.summary.Errored++
	case result.Outcome == OutcomeSuccess:
		p.summary.Succeeded++
	case result.Outcome == OutcomeRejected:
		p.summary.Rejected++
	case result.Outcome == OutcomeExhausted:
		p.summary.Exhausted++
	}
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}
