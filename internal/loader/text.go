package loader

import (
	"bytes"
	"os"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func loadText(path string) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(data) == 0 {
		return nil, nil
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = string(bytes.ToValidUTF8(data, []byte("�")))
	}
	return []Segment{newSegment(path, "txt", text)}, nil
}
