package lib

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	tagImageDescription = 0x010e
	tagModel            = 0x0110

	mapillaryDescription = `{"MAPSequenceUUID":"5e1c8a0e-3f3b-4d0a-9a57-3b7c2b1e9d11","MAPLatitude":55.6050,"MAPLongitude":13.0038}`
)

type asciiTag struct {
	id    uint16
	value string
}

// buildTIFF returns a big-endian TIFF block with a single IFD holding ASCII tags.
// Tags must be given in ascending id order.
func buildTIFF(tags ...asciiTag) []byte {
	be := binary.BigEndian
	ifdSize := 2 + 12*len(tags) + 4
	dataOffset := 8 + ifdSize

	out := []byte{'M', 'M', 0x00, 0x2a}
	out = be.AppendUint32(out, 8)
	out = be.AppendUint16(out, uint16(len(tags)))

	var data []byte
	for _, tag := range tags {
		value := append([]byte(tag.value), 0)
		out = be.AppendUint16(out, tag.id)
		out = be.AppendUint16(out, 2) // ASCII
		out = be.AppendUint32(out, uint32(len(value)))
		if len(value) <= 4 {
			inline := make([]byte, 4)
			copy(inline, value)
			out = append(out, inline...)
			continue
		}
		out = be.AppendUint32(out, uint32(dataOffset+len(data)))
		data = append(data, value...)
	}
	out = be.AppendUint32(out, 0) // No next IFD.
	return append(out, data...)
}

// jpegWithEXIF wraps a TIFF block in a minimal JPEG with an APP1 EXIF segment.
func jpegWithEXIF(tiff []byte) []byte {
	payload := append([]byte("Exif\x00\x00"), tiff...)
	out := []byte{0xff, 0xd8, 0xff, 0xe1}
	out = binary.BigEndian.AppendUint16(out, uint16(2+len(payload)))
	out = append(out, payload...)
	return append(out, 0xff, 0xd9)
}

// jpegWithoutEXIF returns a minimal JPEG holding only a comment segment.
func jpegWithoutEXIF() []byte {
	comment := []byte("no metadata here")
	out := []byte{0xff, 0xd8, 0xff, 0xfe}
	out = binary.BigEndian.AppendUint16(out, uint16(2+len(comment)))
	out = append(out, comment...)
	return append(out, 0xff, 0xd9)
}

func mapillaryJPEG() []byte {
	return jpegWithEXIF(buildTIFF(
		asciiTag{id: tagImageDescription, value: mapillaryDescription},
		asciiTag{id: tagModel, value: "iPhone"},
	))
}

func writeImage(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644), "Failed to write image %s", path)
	return path
}

// assertFileExists checks that a regular file exists at path.
func assertFileExists(t *testing.T, path string, msg string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err, msg)
	require.False(t, info.IsDir(), msg)
}

// assertNotExists checks that nothing exists at path.
func assertNotExists(t *testing.T, path string, msg string) {
	t.Helper()
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), msg)
}

// captureLogs redirects the package logger into the returned buffer for the
// duration of the test.
func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := logger
	logger = slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() { logger = prev })
	return buf
}

// syncBuffer is a bytes.Buffer safe for use by concurrent handlers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
