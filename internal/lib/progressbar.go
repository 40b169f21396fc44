package lib

import "github.com/schollz/progressbar/v3"

// NewProgressBar returns a bar that counts files rather than bytes.
func NewProgressBar(numFiles int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(numFiles,
		progressbar.OptionSetDescription(description+":"),
		progressbar.OptionSetWidth(20), // Fit in an 80-column terminal.
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowIts(),
	)
}
