package lib

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// isJPEGName reports whether name has a .jpg extension, in any case.
func isJPEGName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".jpg")
}

// CollectCandidates returns the .jpg files to consider for upload.
// root may be a single .jpg file or a directory, which is walked recursively.
// Directories in skipDirs (typically the success and failed dirs) are not entered.
// Errors for individual sub-paths are logged and returned together with the
// candidates that were found. The walk stops early if ctx is cancelled.
func CollectCandidates(ctx context.Context, root string, skipDirs ...string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		if !info.Mode().IsRegular() || !isJPEGName(root) {
			return nil, fmt.Errorf("%s is neither a .jpg file nor a directory", root)
		}
		return []string{root}, nil
	}

	skip := make(map[string]struct{}, len(skipDirs))
	for _, dir := range skipDirs {
		if abs, err := filepath.Abs(dir); err == nil {
			skip[abs] = struct{}{}
		}
	}

	var candidates []string
	var walkErrs *multierror.Error
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// If the error is about the root itself, propagate it.
			if path == root {
				return err
			}
			// For other errors (e.g. permission on a sub-file/dir), log and try to continue.
			logger.Error("Error accessing path during walk, skipping",
				slog.String("path", path),
				slog.String("error", err.Error()))
			walkErrs = multierror.Append(walkErrs, err)
			return nil
		}

		if d.IsDir() {
			if path != root {
				if abs, err := filepath.Abs(path); err == nil {
					if _, ok := skip[abs]; ok {
						return filepath.SkipDir
					}
				}
			}
			return nil
		}
		if d.Type().IsRegular() && isJPEGName(d.Name()) {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	if walkErrs.ErrorOrNil() != nil {
		logger.Warn("Encountered errors during directory walk, proceeding with successfully found files",
			slog.Int("error_count", walkErrs.Len()))
	}
	return candidates, walkErrs.ErrorOrNil()
}

// FilterEligible returns the candidates for which check reports true, in order.
// Files that fail the check, or cannot be checked, are logged and skipped.
// It returns ctx.Err() as soon as ctx is cancelled.
func FilterEligible(ctx context.Context, candidates []string, check func(path string) (bool, error)) ([]string, error) {
	var eligible []string
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := check(path)
		if err != nil {
			logger.Warn("Skipping",
				slog.String("file", path),
				slog.String("error", err.Error()))
			continue
		}
		if !ok {
			logger.Info("Skipping", slog.String("file", path))
			continue
		}
		eligible = append(eligible, path)
	}
	return eligible, nil
}
