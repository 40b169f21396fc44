package lib

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	exif "github.com/dsoprea/go-exif/v2"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure"
)

const (
	// descriptionTagName is the IFD0 tag the Mapillary apps write their JSON into.
	descriptionTagName = "ImageDescription"
	// SequenceMarker is present in the description of every image taken with the Mapillary apps.
	SequenceMarker = "MAPSequenceUUID"
)

// ErrNotJPEG is returned for files whose content is not a JPEG.
var ErrNotJPEG = errors.New("not a JPEG file")

type markerStatus int

const (
	markerPresent markerStatus = iota
	markerNoDescription
	markerMissing
)

func (s markerStatus) reason() string {
	switch s {
	case markerNoDescription:
		return "file does not have any image description in EXIF tags"
	case markerMissing:
		return "file does not have Mapillary EXIF tags"
	}
	return ""
}

// HasSequenceMarker reports whether the image at path carries the Mapillary
// sequence marker in its EXIF image description.
// A false result is accompanied by a log line saying which part was missing.
func HasSequenceMarker(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	status, err := sequenceMarkerStatus(data)
	if err != nil {
		return false, fmt.Errorf("failed to read EXIF from %s: %w", path, err)
	}
	if status != markerPresent {
		logger.Info("Image is not eligible for upload",
			slog.String("file", path),
			slog.String("reason", status.reason()))
		return false, nil
	}
	return true, nil
}

// sequenceMarkerStatus inspects the raw bytes of a JPEG.
func sequenceMarkerStatus(data []byte) (status markerStatus, err error) {
	// The EXIF parser panics on some malformed input.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed EXIF data: %v", r)
		}
	}()

	if !jpegstructure.NewJpegMediaParser().LooksLikeFormat(data) {
		return 0, ErrNotJPEG
	}

	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return markerNoDescription, nil
		}
		return 0, err
	}

	tags, err := exif.GetFlatExifData(rawExif)
	if err != nil {
		return 0, err
	}

	found := false
	for _, tag := range tags {
		if tag.TagName != descriptionTagName {
			continue
		}
		found = true
		if strings.Contains(tagString(tag), SequenceMarker) {
			return markerPresent, nil
		}
	}
	if !found {
		return markerNoDescription, nil
	}
	return markerMissing, nil
}

func tagString(tag exif.ExifTag) string {
	if s, ok := tag.Value.(string); ok {
		return s
	}
	return tag.Formatted
}
