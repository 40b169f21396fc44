package lib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ccfrost/mapupload/internal/config"
	"github.com/hashicorp/go-multierror"
	"github.com/schollz/progressbar/v3"
)

// ErrInterrupted is returned by UploadPath when ctx is cancelled before the batch finishes.
var ErrInterrupted = errors.New("upload interrupted")

// UploadOptions are per-run settings that do not come from the config file.
type UploadOptions struct {
	// DryRun lists the eligible files without uploading them.
	DryRun bool
	// ShowProgress draws a progress bar over the eligible files.
	ShowProgress bool
	// Uploader replaces the HTTP uploader built from the config.
	Uploader FileUploader
}

// UploadPath uploads every eligible image at path, which may be a single
// .jpg file or a directory tree.
// Eligible files are uploaded by cfg.Workers concurrent workers; each one ends
// up in cfg.SuccessDir or cfg.FailedDir when cfg.MoveFiles is set.
// If ctx is cancelled, UploadPath returns ErrInterrupted without waiting for
// in-flight uploads.
func UploadPath(ctx context.Context, cfg config.MapuploadConfig, path string, opts UploadOptions) (Summary, error) {
	if err := cfg.Validate(); err != nil {
		return Summary{}, fmt.Errorf("invalid config: %w", err)
	}

	candidates, err := CollectCandidates(ctx, path, cfg.SuccessDir, cfg.FailedDir)
	if ctx.Err() != nil {
		return interrupted(Summary{})
	}
	if err != nil {
		// Errors on sub-paths were already logged; carry on with what was found.
		var walkErrs *multierror.Error
		if !errors.As(err, &walkErrs) {
			return Summary{}, fmt.Errorf("failed to list images: %w", err)
		}
	}

	eligible, err := FilterEligible(ctx, candidates, HasSequenceMarker)
	if err != nil {
		return interrupted(Summary{})
	}
	skipped := len(candidates) - len(eligible)
	logger.Info("Found images to upload",
		slog.Int("eligible", len(eligible)),
		slog.Int("skipped", skipped))

	if opts.DryRun {
		for _, p := range eligible {
			logger.Info("Would upload", slog.String("file", p))
		}
		return Summary{Skipped: skipped}, nil
	}
	if len(eligible) == 0 {
		return Summary{Skipped: skipped}, nil
	}

	if err := ensureDirs(cfg.SuccessDir, cfg.FailedDir); err != nil {
		return Summary{}, err
	}

	q := NewQueue[string]()
	for _, p := range eligible {
		q.Put(p)
	}
	for i := 0; i < cfg.Workers; i++ {
		q.PutSentinel()
	}

	uploader := opts.Uploader
	if uploader == nil {
		uploader = NewUploader(ParamsFromConfig(cfg))
	}
	var bar *progressbar.ProgressBar
	if opts.ShowProgress {
		bar = NewProgressBar(len(eligible), "uploading")
	}

	pool := NewPool(cfg.Workers, uploader, bar)
	pool.Start(ctx, q)

	if err := q.Join(ctx); err != nil {
		summary := pool.Summary()
		summary.Skipped = skipped
		return interrupted(summary)
	}
	pool.Wait()
	if bar != nil {
		_ = bar.Finish()
	}

	summary := pool.Summary()
	summary.Skipped = skipped
	if summary.Aborted > 0 {
		// Cancelled after the last file was dequeued.
		return interrupted(summary)
	}
	logger.Debug("Finished uploading",
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("rejected", summary.Rejected),
		slog.Int("exhausted", summary.Exhausted),
		slog.Int("errored", summary.Errored))
	return summary, nil
}

func interrupted(summary Summary) (Summary, error) {
	logger.Warn("Upload interrupted",
		slog.Int("completed", summary.Completed),
		slog.Int("aborted", summary.Aborted))
	return summary, ErrInterrupted
}
