package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestAppendAndAllChunks(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	records := []ChunkRecord{
		{FileName: "a.txt", FilePath: "/u/a.txt", Text: "alpha", Metadata: map[string]string{"page": "1"}, Vector: []float32{1, 0}},
		{FileName: "a.txt", FilePath: "/u/a.txt", Text: "beta", Metadata: map[string]string{}, Vector: []float32{0, 1}},
		{FileName: "b.txt", FilePath: "/u/b.txt", Text: "gamma", Metadata: nil, Vector: []float32{0.5, -0.5}},
	}
	meta := map[string]string{MetaModel: "m", MetaDimensions: "2"}
	if err := db.Append(ctx, meta, records); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	for i := 1; i < len(records); i++ {
		if records[i].ID <= records[i-1].ID {
			t.Errorf("IDs not increasing: %d then %d", records[i-1].ID, records[i].ID)
		}
	}

	got, err := db.AllChunks(ctx)
	if err != nil {
		t.Fatalf("AllChunks() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	for i := range got {
		if got[i].ID != records[i].ID || got[i].Text != records[i].Text {
			t.Errorf("chunk %d = %+v, want %+v", i, got[i], records[i])
		}
		if !reflect.DeepEqual(got[i].Vector, records[i].Vector) {
			t.Errorf("chunk %d vector = %v, want %v", i, got[i].Vector, records[i].Vector)
		}
	}
	if got[0].Metadata["page"] != "1" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}

	model, ok, err := db.Meta(ctx, MetaModel)
	if err != nil || !ok || model != "m" {
		t.Errorf("Meta(model) = %q, %v, %v", model, ok, err)
	}
	if _, ok, _ := db.Meta(ctx, "missing"); ok {
		t.Error("missing key should not be found")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	db, path := setupTestDB(t)
	ctx := context.Background()
	if err := db.Append(ctx, nil, []ChunkRecord{{FileName: "a", FilePath: "a", Text: "x", Vector: []float32{1}}}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db2, err := OpenDB(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	n, err := db2.Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("Count() = %d, %v, want 1", n, err)
	}
}

func TestAppend_CanceledContextWritesNothing(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.Append(ctx, nil, []ChunkRecord{{FileName: "a", FilePath: "a", Text: "x", Vector: []float32{1}}})
	if err == nil {
		t.Fatal("expected error")
	}
	n, _ := db.Count(context.Background())
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

func TestFiles(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	records := []ChunkRecord{
		{FileName: "b.pdf", FilePath: "/u/b.pdf", Text: "1", Vector: []float32{1}},
		{FileName: "a.txt", FilePath: "/u/a.txt", Text: "2", Vector: []float32{1}},
		{FileName: "b.pdf", FilePath: "/u/b.pdf", Text: "3", Vector: []float32{1}},
	}
	if err := db.Append(ctx, nil, records); err != nil {
		t.Fatal(err)
	}
	files, err := db.Files(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []FileStat{
		{FileName: "b.pdf", FilePath: "/u/b.pdf", Chunks: 2},
		{FileName: "a.txt", FilePath: "/u/a.txt", Chunks: 1},
	}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("Files() = %+v, want %+v", files, want)
	}
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3.4028235e38}
	got, err := DecodeVector(EncodeVector(v))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, v) {
		t.Errorf("DecodeVector() = %v, want %v", got, v)
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); !errors.Is(err, ErrCorruptVector) {
		t.Errorf("error = %v, want ErrCorruptVector", err)
	}
}
