package graph

import "strings"

// RelationType is the closed set of edge kinds. Unknown kinds decode as
// RelationOther.
type RelationType string

const (
	RelationContains     RelationType = "contains"
	RelationSimilar      RelationType = "similar"
	RelationPrerequisite RelationType = "prerequisite"
	RelationExtension    RelationType = "extension"
	RelationExample      RelationType = "example"
	RelationOpposite     RelationType = "opposite"
	RelationOther        RelationType = "other"
)

// RelationTypes lists every relation type in display order.
func RelationTypes() []RelationType {
	return []RelationType{
		RelationContains,
		RelationSimilar,
		RelationPrerequisite,
		RelationExtension,
		RelationExample,
		RelationOpposite,
		RelationOther,
	}
}

// localized holds the UI labels each type also answers to in filters.
var localized = map[RelationType][]string{
	RelationContains:     {"包含"},
	RelationSimilar:      {"相似"},
	RelationPrerequisite: {"前置", "先决条件"},
	RelationExtension:    {"扩展", "延伸"},
	RelationExample:      {"示例", "例子"},
	RelationOpposite:     {"相反", "对立"},
	RelationOther:        {"其他"},
}

// ParseRelation maps s to a known type, case-insensitively.
func ParseRelation(s string) RelationType {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, r := range RelationTypes() {
		if string(r) == s {
			return r
		}
	}
	return RelationOther
}

// Valid reports whether r is one of the known types.
func (r RelationType) Valid() bool {
	_, ok := localized[r]
	return ok
}

// Labels returns the names r matches in filters: its own name first.
func (r RelationType) Labels() []string {
	return append([]string{string(r)}, localized[r]...)
}

// Matches reports whether label selects r. Matching is case-insensitive
// substring containment in either direction against any of r's labels.
func (r RelationType) Matches(label string) bool {
	sel := strings.ToLower(strings.TrimSpace(label))
	if sel == "" {
		return false
	}
	for _, l := range r.Labels() {
		l = strings.ToLower(l)
		if strings.Contains(l, sel) || strings.Contains(sel, l) {
			return true
		}
	}
	return false
}

// UnmarshalText decodes unknown names as RelationOther.
func (r *RelationType) UnmarshalText(b []byte) error {
	*r = ParseRelation(string(b))
	return nil
}
