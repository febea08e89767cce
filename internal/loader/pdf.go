package loader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// loadPDF returns one segment per page that has text.
func loadPDF(path string) (segs []Segment, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			segs, err = nil, fmt.Errorf("reading pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		seg := newSegment(path, "pdf", text)
		seg.Metadata[MetaPage] = strconv.Itoa(i)
		segs = append(segs, seg)
	}
	return segs, nil
}
