package semantic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"unicode/utf8"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
	texts   []string
	err     error
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake" }

// texts maps document path to content.
func textFunc(texts map[string]string) TextFunc {
	return func(path string) (string, error) {
		t, ok := texts[path]
		if !ok {
			return "", errors.New("cannot load " + path)
		}
		return t, nil
	}
}

func docs(names ...string) []Document {
	out := make([]Document, len(names))
	for i, n := range names {
		out[i] = Document{Name: n, Path: "/u/" + n}
	}
	return out
}

func TestRelations_Threshold(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"a": {1, 1, 0, 0},
		"b": {1, 0, 1, 0}, // exactly 0.5 with a
		"c": {1, 1, 0.1, 0},
		"d": {0, 0, 0, 1},
	}}
	texts := map[string]string{"/u/a": "a", "/u/b": "b", "/u/c": "c", "/u/d": "d"}
	e := NewEngine(emb, WithTextFunc(textFunc(texts)))

	res, err := e.Relations(context.Background(), docs("a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("Relations() error = %v", err)
	}

	got := map[string]float64{}
	for _, r := range res.Relations {
		got[r.Source+"-"+r.Target] = r.Strength
		if r.Strength <= 0.5 || r.Strength > 1 {
			t.Errorf("strength %v out of (0.5, 1]", r.Strength)
		}
	}
	if _, ok := got["a-b"]; ok {
		t.Error("similarity of exactly 0.5 must not produce a relation")
	}
	if _, ok := got["a-c"]; !ok {
		t.Error("expected a-c relation")
	}
	if _, ok := got["b-a"]; ok {
		t.Error("pairs should be emitted once with source before target")
	}
	for k := range got {
		if k[len(k)-1] == 'd' {
			t.Errorf("orthogonal document related: %s", k)
		}
	}
}

func TestRelations_SkipsUnloadable(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"a": {1, 0}, "b": {1, 0.1}}}
	texts := map[string]string{"/u/a": "a", "/u/b": "b"}
	e := NewEngine(emb, WithTextFunc(textFunc(texts)))

	res, err := e.Relations(context.Background(), docs("a", "gone", "b"))
	if err != nil {
		t.Fatalf("Relations() error = %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Document != "gone" {
		t.Errorf("Skipped = %+v", res.Skipped)
	}
	if len(res.Relations) != 1 || res.Relations[0].Source != "a" || res.Relations[0].Target != "b" {
		t.Errorf("Relations = %+v", res.Relations)
	}
}

func TestRelations_EmbeddingFailureFailsCall(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("upstream down")}
	e := NewEngine(emb, WithTextFunc(textFunc(map[string]string{"/u/a": "a"})))
	if _, err := e.Relations(context.Background(), docs("a")); err == nil {
		t.Fatal("expected error")
	}
}

func TestRelations_FewerThanTwoDocuments(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"a": {1}}}
	e := NewEngine(emb, WithTextFunc(textFunc(map[string]string{"/u/a": "a"})))
	for _, in := range [][]Document{nil, docs("a")} {
		res, err := e.Relations(context.Background(), in)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Relations) != 0 {
			t.Errorf("Relations = %+v, want none", res.Relations)
		}
	}
}

func TestRelations_UsesCache(t *testing.T) {
	cache, _ := OpenCache(filepath.Join(t.TempDir(), "docvectors.gob"))
	emb := &fakeEmbedder{vectors: map[string][]float32{"a": {1, 0}, "b": {1, 0.2}}}
	texts := map[string]string{"/u/a": "a", "/u/b": "b"}
	e := NewEngine(emb, WithTextFunc(textFunc(texts)), WithCache(cache))

	first, err := e.Relations(context.Background(), docs("a", "b"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Relations(context.Background(), docs("a", "b"))
	if err != nil {
		t.Fatal(err)
	}
	if emb.calls != 2 {
		t.Errorf("embedding calls = %d, want 2", emb.calls)
	}
	if math.Abs(first.Relations[0].Strength-second.Relations[0].Strength) > 1e-12 {
		t.Error("cached result should match")
	}

	reopened, err := OpenCache(cache.path)
	if err != nil || reopened.Len() != 2 {
		t.Errorf("cache not persisted: len=%d err=%v", reopened.Len(), err)
	}
}

func TestRelations_TruncatesDocuments(t *testing.T) {
	long := "ééééé"
	emb := &fakeEmbedder{vectors: map[string][]float32{"ééé": {1}}}
	e := NewEngine(emb, WithTextFunc(textFunc(map[string]string{"/u/a": long})), WithMaxDocumentChars(3))
	if _, err := e.Relations(context.Background(), docs("a")); err != nil {
		t.Fatal(err)
	}
	if n := utf8.RuneCountInString(emb.texts[0]); n != 3 {
		t.Errorf("embedded %d runes, want 3", n)
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 0, "hello"},
		{"hello", 10, "hello"},
		{"hello", 2, "he"},
		{"知识库", 2, "知识"},
	}
	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
