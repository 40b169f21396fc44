package lib

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"math/big"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	boundaryChars  = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	boundaryLength = 30

	defaultContentType = "application/octet-stream"
)

// FormField is a plain form-data field.
type FormField struct {
	Name  string
	Value string
}

// FormFile is a form-data file attachment.
// ContentType is inferred from Filename when empty.
type FormFile struct {
	Name        string
	Filename    string
	Content     []byte
	ContentType string
}

// NewBoundary returns a random multipart boundary of digits and ASCII letters.
func NewBoundary() (string, error) {
	alphabetLen := big.NewInt(int64(len(boundaryChars)))
	var sb strings.Builder
	sb.Grow(boundaryLength)
	for range boundaryLength {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate boundary: %w", err)
		}
		sb.WriteByte(boundaryChars[n.Int64()])
	}
	return sb.String(), nil
}

// EncodeMultipart serializes fields and then files, each in slice order, as a
// multipart/form-data body. A new boundary is generated if boundary is "".
// The returned header holds Content-Type (with the boundary) and Content-Length.
func EncodeMultipart(fields []FormField, files []FormFile, boundary string) ([]byte, http.Header, error) {
	if boundary == "" {
		var err error
		if boundary, err = NewBoundary(); err != nil {
			return nil, nil, err
		}
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.SetBoundary(boundary); err != nil {
		return nil, nil, fmt.Errorf("invalid boundary %q: %w", boundary, err)
	}

	for _, f := range fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, nil, fmt.Errorf("failed to write field %s: %w", f.Name, err)
		}
	}

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(f.Name), escapeQuotes(f.Filename)))
		h.Set("Content-Type", fileContentType(f))
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create part for %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, nil, fmt.Errorf("failed to write file %s: %w", f.Filename, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", w.FormDataContentType())
	header.Set("Content-Length", strconv.Itoa(body.Len()))
	return body.Bytes(), header, nil
}

func fileContentType(f FormFile) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	if t := mime.TypeByExtension(filepath.Ext(f.Filename)); t != "" {
		return t
	}
	return defaultContentType
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
