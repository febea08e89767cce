// Package concept extracts key concepts from documents through a generative
// model and recovers them from loosely structured model output.
package concept

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Sentinel mapping returned when no strategy recovers any concept.
const (
	UnparsedKey   = "unparsed"
	UnparsedValue = "could not extract structured concepts"
)

// ErrGenerativeParse indicates model output that a parse strategy could not
// interpret. Parse recovers it and never returns it.
var ErrGenerativeParse = errors.New("malformed generative output")

// Concept is a named idea extracted from a document.
type Concept struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Mapping is an ordered concept name to description mapping. Order follows
// the model output, so the first entries are its leading concepts.
type Mapping []Concept

// Unparsed reports whether m is the parse-failure sentinel.
func (m Mapping) Unparsed() bool {
	return len(m) == 1 && m[0].Name == UnparsedKey && m[0].Description == UnparsedValue
}

// First returns at most n leading concepts.
func (m Mapping) First(n int) Mapping {
	if n < 0 || len(m) <= n {
		return m
	}
	return m[:n]
}

// Get returns the description stored for name.
func (m Mapping) Get(name string) (string, bool) {
	for _, c := range m {
		if c.Name == name {
			return c.Description, true
		}
	}
	return "", false
}

// set replaces the description of an existing name in place or appends.
func (m Mapping) set(name, desc string) Mapping {
	for i := range m {
		if m[i].Name == name {
			m[i].Description = desc
			return m
		}
	}
	return append(m, Concept{Name: name, Description: desc})
}

// MarshalJSON encodes m as a JSON object preserving order.
func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(c.Description)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func unparsed() Mapping {
	return Mapping{{Name: UnparsedKey, Description: UnparsedValue}}
}
