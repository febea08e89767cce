package graph

import "testing"

func TestParseRelation(t *testing.T) {
	tests := []struct {
		in   string
		want RelationType
	}{
		{"contains", RelationContains},
		{" Similar ", RelationSimilar},
		{"PREREQUISITE", RelationPrerequisite},
		{"related-to", RelationOther},
		{"", RelationOther},
	}
	for _, tt := range tests {
		if got := ParseRelation(tt.in); got != tt.want {
			t.Errorf("ParseRelation(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRelationType_Matches(t *testing.T) {
	tests := []struct {
		r     RelationType
		label string
		want  bool
	}{
		{RelationSimilar, "相似", true},
		{RelationSimilar, "similar", true},
		{RelationSimilar, "Sim", true},
		{RelationSimilar, "very similar docs", true},
		{RelationContains, "相似", false},
		{RelationExample, "例子", true},
		{RelationOpposite, "similar", false},
		{RelationSimilar, "", false},
		{RelationSimilar, "   ", false},
	}
	for _, tt := range tests {
		if got := tt.r.Matches(tt.label); got != tt.want {
			t.Errorf("%s.Matches(%q) = %v, want %v", tt.r, tt.label, got, tt.want)
		}
	}
}

func TestRelationTypes_AllValid(t *testing.T) {
	for _, r := range RelationTypes() {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
		if labels := r.Labels(); labels[0] != string(r) || len(labels) < 2 {
			t.Errorf("%s labels = %v", r, labels)
		}
	}
	if RelationType("bogus").Valid() {
		t.Error("unknown type should not be valid")
	}
}
