// Package loader reads uploaded documents into ordered text segments.
package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Metadata keys set on every segment.
const (
	MetaSource = "source"
	MetaFormat = "format"
	MetaPage   = "page"
)

var (
	// ErrUnsupportedFormat matches every *UnsupportedFormatError.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNoText indicates a readable file that yielded no text.
	ErrNoText = errors.New("no text extracted")
)

// UnsupportedFormatError reports a file extension outside the supported set.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return "unsupported file type: (no extension)"
	}
	return "unsupported file type: " + e.Ext
}

// Is lets errors.Is(err, ErrUnsupportedFormat) match.
func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// IsUnsupportedFormat reports whether err is an unsupported-extension error.
func IsUnsupportedFormat(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat)
}

// Segment is a contiguous piece of raw document text, e.g. one PDF page.
type Segment struct {
	Text     string
	Metadata map[string]string
}

var supported = []string{".txt", ".pdf", ".docx", ".doc"}

// SupportedExtensions returns the accepted extensions, lower case with dot.
func SupportedExtensions() []string {
	return slices.Clone(supported)
}

// CheckExtension returns an *UnsupportedFormatError unless name has a
// supported extension (case-insensitive).
func CheckExtension(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(supported, ext) {
		return &UnsupportedFormatError{Ext: ext}
	}
	return nil
}

// Load reads path and returns its segments in document order.
func Load(path string) ([]Segment, error) {
	if err := CheckExtension(path); err != nil {
		return nil, err
	}

	var (
		segs []Segment
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		segs, err = loadText(path)
	case ".pdf":
		segs, err = loadPDF(path)
	case ".docx":
		segs, err = loadDocx(path)
	case ".doc":
		segs, err = loadDoc(path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", filepath.Base(path), err)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("loading %s: %w", filepath.Base(path), ErrNoText)
	}
	return segs, nil
}

// Text concatenates segment texts with newlines.
func Text(segs []Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Text
	}
	return strings.Join(parts, "\n")
}

func newSegment(path, format, text string) Segment {
	return Segment{
		Text: text,
		Metadata: map[string]string{
			MetaSource: path,
			MetaFormat: format,
		},
	}
}
