package loader

import (
	"errors"
	"os"
	"strings"
	"unicode/utf16"
)

// minRun is the shortest printable run kept from a binary .doc.
const minRun = 4

// loadDoc handles legacy .doc uploads. Many are OOXML files with the old
// extension, so the docx reader is tried first; otherwise printable text
// runs are recovered from the binary.
func loadDoc(path string) ([]Segment, error) {
	text, err := docxText(path)
	if err == nil {
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		return []Segment{newSegment(path, "doc", text)}, nil
	}
	if !errors.Is(err, errNotOOXML) {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text = binaryText(data)
	if text == "" {
		return nil, nil
	}
	return []Segment{newSegment(path, "doc", text)}, nil
}

// binaryText extracts printable runs, trying both UTF-16LE (Word 97+
// unicode pieces) and single-byte text, and keeps whichever recovers more.
func binaryText(data []byte) string {
	wide := utf16Runs(data)
	narrow := byteRuns(data)
	if len([]rune(wide)) >= len([]rune(narrow)) {
		return wide
	}
	return narrow
}

func byteRuns(data []byte) string {
	var (
		runs []string
		cur  []byte
	)
	flush := func() {
		if len(strings.TrimSpace(string(cur))) >= minRun {
			runs = append(runs, strings.TrimSpace(string(cur)))
		}
		cur = cur[:0]
	}
	for _, b := range data {
		if isPrintableByte(b) {
			cur = append(cur, b)
			continue
		}
		flush()
	}
	flush()
	return strings.Join(runs, "\n")
}

func utf16Runs(data []byte) string {
	var (
		runs []string
		cur  []uint16
	)
	flush := func() {
		s := strings.TrimSpace(string(utf16.Decode(cur)))
		if len([]rune(s)) >= minRun {
			runs = append(runs, s)
		}
		cur = cur[:0]
	}
	for i := 0; i+1 < len(data); i += 2 {
		u := uint16(data[i]) | uint16(data[i+1])<<8
		if isPrintableUnit(u) {
			cur = append(cur, u)
			continue
		}
		flush()
	}
	flush()
	return strings.Join(runs, "\n")
}

func isPrintableByte(b byte) bool {
	return (b >= 0x20 && b < 0x7f) || b == '\t'
}

// isPrintableUnit accepts ASCII and Latin-1 units only.
func isPrintableUnit(u uint16) bool {
	return u == '\t' || (u >= 0x20 && u < 0x7f) || (u >= 0xa0 && u <= 0xff)
}
