package concept

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// strategy turns raw model output into concepts or fails with ErrGenerativeParse.
type strategy func(raw string) (Mapping, error)

// strategies are tried in order; the first success wins.
var strategies = []strategy{
	parseStrict,
	parseBraced,
	parseLines,
}

// Parse recovers a concept mapping from raw model output. It always returns
// a mapping: the sentinel when every strategy fails.
func Parse(raw string) (m Mapping) {
	defer func() {
		if r := recover(); r != nil {
			m = unparsed()
		}
	}()

	for _, s := range strategies {
		got, err := s(raw)
		if err == nil && len(got) > 0 {
			return got
		}
	}
	return unparsed()
}

// parseStrict decodes the whole trimmed text as JSON.
func parseStrict(raw string) (Mapping, error) {
	return decodeJSON([]byte(strings.TrimSpace(raw)))
}

// parseBraced decodes the first balanced {...} span.
func parseBraced(raw string) (Mapping, error) {
	span, ok := firstObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no balanced object", ErrGenerativeParse)
	}
	return decodeJSON([]byte(span))
}

// parseLines reads "key: value" lines, splitting on the first colon.
func parseLines(raw string) (Mapping, error) {
	var m Mapping
	for _, line := range strings.Split(raw, "\n") {
		i := strings.Index(line, ":")
		if i < 0 {
			continue
		}
		key := cleanKey(line[:i])
		value := cleanValue(line[i+1:])
		if key == "" || strings.Trim(value, "[]{}") == "" {
			continue
		}
		m = m.set(key, value)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: no key: value lines", ErrGenerativeParse)
	}
	return m, nil
}

func decodeJSON(data []byte) (Mapping, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrGenerativeParse)
	}
	var m Mapping
	var err error
	switch data[0] {
	case '{':
		m, err = decodeObject(data)
	case '[':
		m, err = decodeList(data)
	default:
		return nil, fmt.Errorf("%w: not a JSON object or array", ErrGenerativeParse)
	}
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: no concepts", ErrGenerativeParse)
	}
	return unwrap(m)
}

// decodeObject decodes a JSON object keeping key order. Non-string values
// are kept as compact JSON.
func decodeObject(data []byte) (Mapping, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerativeParse, err)
	}

	var m Mapping
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGenerativeParse, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string key", ErrGenerativeParse)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: value of %q: %v", ErrGenerativeParse, key, err)
		}
		m = m.set(key, valueString(raw))
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerativeParse, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrGenerativeParse)
	}
	return m, nil
}

// decodeList accepts [{"name": ..., "description": ...}, ...] and the
// concept/explanation spelling of the same fields.
func decodeList(data []byte) (Mapping, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerativeParse, err)
	}
	var m Mapping
	for _, item := range items {
		name := firstField(item, "name", "concept", "term")
		desc := firstField(item, "description", "explanation", "definition")
		if name == "" {
			continue
		}
		m = m.set(name, desc)
	}
	return m, nil
}

// wrapperKeys are the single keys models wrap a concept mapping in.
var wrapperKeys = []string{"concepts", "key_concepts", "data", "result"}

// unwrap replaces {"concepts": {...}} style wrappers by their content. Any
// other single key is a concept and is kept. A wrapper around an empty or
// undecodable body is a failure, not a concept named after the wrapper.
func unwrap(m Mapping) (Mapping, error) {
	if len(m) != 1 || !isWrapperKey(m[0].Name) {
		return m, nil
	}
	inner := strings.TrimSpace(m[0].Description)
	if inner == "" || (inner[0] != '{' && inner[0] != '[') {
		return m, nil
	}
	got, err := decodeJSON([]byte(inner))
	if err != nil {
		return nil, fmt.Errorf("%w: empty %q wrapper", ErrGenerativeParse, m[0].Name)
	}
	return got, nil
}

func isWrapperKey(key string) bool {
	key = strings.TrimSpace(key)
	for _, w := range wrapperKeys {
		if strings.EqualFold(key, w) {
			return true
		}
	}
	return false
}

func firstField(item map[string]json.RawMessage, names ...string) string {
	for _, n := range names {
		if raw, ok := item[n]; ok {
			if s := strings.TrimSpace(valueString(raw)); s != "" {
				return s
			}
		}
	}
	return ""
}

func valueString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// firstObject returns the first balanced {...} span, ignoring braces
// inside JSON strings. An opening brace that never closes is skipped and
// the scan resumes at the next one.
func firstObject(s string) (string, bool) {
	for from := 0; ; {
		i := strings.IndexByte(s[from:], '{')
		if i < 0 {
			return "", false
		}
		start := from + i
		if end, ok := closeObject(s, start); ok {
			return s[start:end], true
		}
		from = start + 1
	}
}

// closeObject returns the end of the object opened at s[start].
func closeObject(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

const quoteChars = "\"'`“”‘’*"

func cleanKey(s string) string {
	s = strings.TrimLeft(strings.TrimSpace(s), "{[ \t")
	s = trimBullet(s)
	s = strings.Trim(s, quoteChars)
	return strings.TrimSpace(s)
}

func cleanValue(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), ",;}] \t")
	s = strings.Trim(s, quoteChars)
	return strings.TrimSpace(s)
}

// trimBullet strips list markers such as "-", "*", "•", "1." and "2)".
func trimBullet(s string) string {
	for _, b := range []string{"- ", "* ", "• ", "-", "•"} {
		if strings.HasPrefix(s, b) {
			return strings.TrimSpace(s[len(b):])
		}
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
