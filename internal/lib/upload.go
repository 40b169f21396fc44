//go:generate go run github.com/golang/mock/mockgen -source=${GOFILE} -destination=mock_file_uploader_test.go -package=lib FileUploader

package lib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccfrost/mapupload/internal/config"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Outcome is how an upload attempt ended.
type Outcome int

const (
	// OutcomeSuccess means the server answered 204 No Content.
	OutcomeSuccess Outcome = iota
	// OutcomeRejected means the server answered with any other status.
	OutcomeRejected
	// OutcomeExhausted means every attempt failed without a response.
	OutcomeExhausted
	// OutcomeAborted means the context was cancelled mid-upload.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRejected:
		return "rejected"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeAborted:
		return "aborted"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// UploadParams is the fixed configuration shared by all upload workers.
// It must not be modified once workers have started.
type UploadParams struct {
	URL         string
	AccessKeyID string
	ACL         string
	Policy      string
	Signature   string
	ContentType string
	KeyPrefix   string

	MoveFiles  bool
	SuccessDir string
	FailedDir  string

	MaxAttempts int
	Timeout     time.Duration
}

// ParamsFromConfig builds the upload parameters from a validated config.
func ParamsFromConfig(cfg config.MapuploadConfig) UploadParams {
	return UploadParams{
		URL:         cfg.Upload.URL,
		AccessKeyID: cfg.Upload.AccessKeyID,
		ACL:         cfg.Upload.ACL,
		Policy:      cfg.Upload.Policy,
		Signature:   cfg.Upload.Signature,
		ContentType: cfg.Upload.ContentType,
		KeyPrefix:   cfg.Upload.KeyPrefix,
		MoveFiles:   cfg.MoveFiles,
		SuccessDir:  cfg.SuccessDir,
		FailedDir:   cfg.FailedDir,
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.Upload.Timeout,
	}
}

// UploadResult describes what happened to one file.
type UploadResult struct {
	Path       string
	Outcome    Outcome
	StatusCode int
	Attempts   int
	// MovedTo is the new location of the file, or "" if it was not moved.
	MovedTo string
}

// FileUploader uploads a single file.
type FileUploader interface {
	UploadFile(ctx context.Context, path string) (UploadResult, error)
}

// Uploader posts files to a presigned upload form.
type Uploader struct {
	params     UploadParams
	httpClient *http.Client
}

var _ FileUploader = (*Uploader)(nil)

func NewUploader(params UploadParams) *Uploader {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = params.Timeout
	return &Uploader{
		params:     params,
		httpClient: httpClient,
	}
}

// ObjectKey returns the remote key for the file at path.
func (u *Uploader) ObjectKey(path string) string {
	return u.params.KeyPrefix + filepath.Base(path)
}

func (u *Uploader) formFields(path string) []FormField {
	return []FormField{
		{Name: "key", Value: u.ObjectKey(path)},
		{Name: "AWSAccessKeyId", Value: u.params.AccessKeyID},
		{Name: "acl", Value: u.params.ACL},
		{Name: "policy", Value: u.params.Policy},
		{Name: "signature", Value: u.params.Signature},
		{Name: "Content-Type", Value: u.params.ContentType},
	}
}

// UploadFile posts the file at path and moves it to the success or failed dir
// according to the response.
// Transport errors are retried immediately, up to MaxAttempts attempts in total.
// A file that exhausts its attempts is treated as failed.
// A non-nil error means the file could not be read or moved, or ctx was cancelled.
func (u *Uploader) UploadFile(ctx context.Context, path string) (UploadResult, error) {
	filename := filepath.Base(path)
	result := UploadResult{Path: path}
	logger.Info("Uploading", slog.String("file", filename))

	content, err := os.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("failed to read %s: %w", path, err)
	}
	body, header, err := EncodeMultipart(u.formFields(path),
		[]FormFile{{Name: "file", Filename: filename, Content: content}}, "")
	if err != nil {
		return result, fmt.Errorf("failed to encode %s: %w", path, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u.params.URL, body)
	if err != nil {
		return result, fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	client := &retryablehttp.Client{
		HTTPClient:   u.httpClient,
		RetryWaitMin: 0,
		RetryWaitMax: 0,
		RetryMax:     u.params.MaxAttempts - 1,
		Backoff:      noBackoff,
		CheckRetry:   retryTransportErrors(filename),
		RequestLogHook: func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
			result.Attempts = attempt + 1
			if attempt > 0 {
				logger.Debug("Retrying upload",
					slog.String("file", filename),
					slog.Int("attempt", result.Attempts))
			}
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			result.Outcome = OutcomeAborted
			logger.Warn("Upload aborted", slog.String("file", filename))
			return result, ctx.Err()
		}
		result.Outcome = OutcomeExhausted
		logger.Error("Giving up",
			slog.String("file", filename),
			slog.Int("attempts", result.Attempts),
			slog.String("error", err.Error()))
		return u.finish(result, u.params.FailedDir)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	result.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusNoContent {
		result.Outcome = OutcomeSuccess
		result, err = u.finish(result, u.params.SuccessDir)
		if err == nil {
			logger.Info("Success", slog.String("file", filename))
		}
		return result, err
	}

	result.Outcome = OutcomeRejected
	result, err = u.finish(result, u.params.FailedDir)
	if err == nil {
		logger.Warn("Failed",
			slog.String("file", filename),
			slog.Int("status", resp.StatusCode))
	}
	return result, err
}

// finish moves the uploaded file into dir, if moving is enabled.
func (u *Uploader) finish(result UploadResult, dir string) (UploadResult, error) {
	if !u.params.MoveFiles {
		return result, nil
	}
	dest, err := moveFile(result.Path, dir)
	if err != nil {
		return result, err
	}
	result.MovedTo = dest
	return result, nil
}

func noBackoff(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
	return 0
}

// retryTransportErrors retries only when no response was received.
// Any status code, including 5xx, is final.
func retryTransportErrors(filename string) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err == nil {
			return false, nil
		}
		logger.Warn(transportErrorMessage(err),
			slog.String("file", filename),
			slog.String("error", err.Error()))
		return true, nil
	}
}

// transportErrorMessage names the kind of failure for the log.
func transportErrorMessage(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timeout error"
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		strings.Contains(err.Error(), "malformed HTTP") {
		return "HTTP error"
	}
	return "URL error"
}
