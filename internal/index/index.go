// Package index keeps chunk embeddings in memory for search and persists
// them in SQLite.
package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/matsen/kbase/internal/chunker"
	"github.com/matsen/kbase/internal/embedding"
	"github.com/matsen/kbase/internal/logging"
	"github.com/matsen/kbase/internal/semantic"
	"github.com/matsen/kbase/internal/storage"
)

// DBFile is the index database name inside the index directory.
const DBFile = "index.db"

// DefaultTopK is the number of results Search returns when topK <= 0.
const DefaultTopK = 5

var (
	// ErrIndexUnavailable means nothing has been ingested yet.
	ErrIndexUnavailable = errors.New("index not initialized")

	// ErrDimensionMismatch means a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrModelMismatch means the index was built with a different embedding model.
	ErrModelMismatch = errors.New("index built with a different embedding model")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("index closed")
)

// Result is one ranked search hit.
type Result struct {
	Chunk chunker.Chunk
	Score float64
	ID    int64
}

// Stats describes the current index state.
type Stats struct {
	Initialized bool   `json:"initialized"`
	Chunks      int    `json:"chunks"`
	Dimensions  int    `json:"dimensions"`
	Model       string `json:"model"`
	Path        string `json:"path"`
}

// FileStat is re-exported for callers listing indexed files.
type FileStat = storage.FileStat

type entry struct {
	id     int64
	chunk  chunker.Chunk
	vector []float32
}

// Index is the process-wide embedding index handle. Ingests are serialized;
// searches run concurrently with each other but never with a write.
type Index struct {
	dir      string
	provider embedding.Provider
	logger   *logging.Logger

	ingestMu sync.Mutex

	mu      sync.RWMutex
	db      *storage.DB
	entries []entry
	dims    int
	model   string
	closed  bool
}

// Open loads the index stored in dir, if any. A missing database leaves the
// index uninitialized until the first Ingest.
func Open(ctx context.Context, dir string, provider embedding.Provider, logger *logging.Logger) (*Index, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	idx := &Index{dir: dir, provider: provider, logger: logger}

	path := idx.Path()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			logger.Info("embedding index not initialized", "path", path)
			return idx, nil
		}
		return nil, fmt.Errorf("checking index %s: %w", path, err)
	}

	db, err := storage.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	if err := idx.load(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	idx.db = db

	if idx.model != "" && idx.model != provider.ModelName() {
		logger.Warn("index was built with a different embedding model; rebuild the index",
			"index_model", idx.model, "provider_model", provider.ModelName())
	}
	logger.Info("embedding index loaded", "path", path, "chunks", len(idx.entries), "dimensions", idx.dims)
	return idx, nil
}

func (idx *Index) load(ctx context.Context, db *storage.DB) error {
	records, err := db.AllChunks(ctx)
	if err != nil {
		return fmt.Errorf("loading index: %w", err)
	}
	model, _, err := db.Meta(ctx, storage.MetaModel)
	if err != nil {
		return err
	}
	dimStr, ok, err := db.Meta(ctx, storage.MetaDimensions)
	if err != nil {
		return err
	}
	if ok {
		if idx.dims, err = strconv.Atoi(dimStr); err != nil {
			return fmt.Errorf("loading index: invalid dimensions %q", dimStr)
		}
	}
	idx.model = model

	idx.entries = make([]entry, 0, len(records))
	for _, r := range records {
		if idx.dims > 0 && len(r.Vector) != idx.dims {
			return fmt.Errorf("loading index: chunk %d: %w: got %d, want %d", r.ID, ErrDimensionMismatch, len(r.Vector), idx.dims)
		}
		idx.entries = append(idx.entries, entry{
			id:     r.ID,
			chunk:  chunker.Chunk{Text: r.Text, Metadata: r.Metadata},
			vector: r.Vector,
		})
	}
	return nil
}

// Path returns the database file location.
func (idx *Index) Path() string {
	return filepath.Join(idx.dir, DBFile)
}

// ModelName returns the embedding model used for new vectors.
func (idx *Index) ModelName() string {
	return idx.provider.ModelName()
}

// Ingest embeds chunks and appends them durably. It returns the number of
// chunks stored. On error nothing is appended.
func (idx *Index) Ingest(ctx context.Context, chunks []chunker.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	idx.ingestMu.Lock()
	defer idx.ingestMu.Unlock()

	if err := idx.checkModel(); err != nil {
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embs, err := idx.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(embs) != len(chunks) {
		return 0, fmt.Errorf("embedding chunks: got %d vectors for %d chunks", len(embs), len(chunks))
	}

	idx.mu.RLock()
	dims := idx.dims
	idx.mu.RUnlock()
	if dims == 0 {
		dims = embs[0].Dimensions()
	}

	records := make([]storage.ChunkRecord, len(chunks))
	for i, c := range chunks {
		if embs[i].Dimensions() != dims || dims == 0 {
			return 0, fmt.Errorf("chunk %d of %s: %w: got %d, want %d",
				i, c.FileName(), ErrDimensionMismatch, embs[i].Dimensions(), dims)
		}
		records[i] = storage.ChunkRecord{
			FileName: c.FileName(),
			FilePath: c.FilePath(),
			Text:     c.Text,
			Metadata: c.Metadata,
			Vector:   embs[i].Vector,
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return 0, ErrClosed
	}

	if idx.db == nil {
		if err := os.MkdirAll(idx.dir, 0o755); err != nil {
			return 0, fmt.Errorf("creating index directory: %w", err)
		}
		db, err := storage.OpenDB(idx.Path())
		if err != nil {
			return 0, fmt.Errorf("creating index: %w", err)
		}
		idx.db = db
	}

	meta := map[string]string{
		storage.MetaModel:      idx.provider.ModelName(),
		storage.MetaDimensions: strconv.Itoa(dims),
	}
	if err := idx.db.Append(ctx, meta, records); err != nil {
		return 0, fmt.Errorf("persisting chunks: %w", err)
	}

	for i, r := range records {
		idx.entries = append(idx.entries, entry{id: r.ID, chunk: chunks[i], vector: r.Vector})
	}
	idx.dims = dims
	idx.model = meta[storage.MetaModel]

	idx.logger.Debug("chunks indexed", "count", len(records), "total", len(idx.entries))
	return len(records), nil
}

// Search returns the topK chunks most similar to query, best first.
// An uninitialized index yields no results and no error.
func (idx *Index) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	results, err := idx.search(ctx, query, topK)
	if errors.Is(err, ErrIndexUnavailable) {
		return []Result{}, nil
	}
	return results, err
}

func (idx *Index) search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	idx.mu.RLock()
	initialized := len(idx.entries) > 0
	idx.mu.RUnlock()
	if !initialized {
		return nil, ErrIndexUnavailable
	}
	if err := idx.checkModel(); err != nil {
		return nil, err
	}

	q, err := idx.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, ErrClosed
	}
	if q.Dimensions() != idx.dims {
		return nil, fmt.Errorf("query: %w: got %d, want %d", ErrDimensionMismatch, q.Dimensions(), idx.dims)
	}

	results := make([]Result, len(idx.entries))
	for i, e := range idx.entries {
		results[i] = Result{Chunk: e.chunk, Score: semantic.CosineSimilarity(q.Vector, e.vector), ID: e.id}
	}
	slices.SortStableFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// EmbedText embeds arbitrary text with the index's model.
func (idx *Index) EmbedText(ctx context.Context, text string) ([]float32, error) {
	emb, err := idx.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

// Stats reports the current index state.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{
		Initialized: idx.db != nil && len(idx.entries) > 0,
		Chunks:      len(idx.entries),
		Dimensions:  idx.dims,
		Model:       idx.model,
		Path:        idx.Path(),
	}
}

// Inspect reads the stats of the index stored in dir without an embedding
// provider.
func Inspect(ctx context.Context, dir string) (Stats, error) {
	st := Stats{Path: filepath.Join(dir, DBFile)}
	if _, err := os.Stat(st.Path); err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("checking index %s: %w", st.Path, err)
	}

	db, err := storage.OpenDB(st.Path)
	if err != nil {
		return st, fmt.Errorf("opening index %s: %w", st.Path, err)
	}
	defer db.Close()

	if st.Chunks, err = db.Count(ctx); err != nil {
		return st, err
	}
	if st.Model, _, err = db.Meta(ctx, storage.MetaModel); err != nil {
		return st, err
	}
	dims, ok, err := db.Meta(ctx, storage.MetaDimensions)
	if err != nil {
		return st, err
	}
	if ok {
		st.Dimensions, _ = strconv.Atoi(dims)
	}
	st.Initialized = st.Chunks > 0
	return st, nil
}

// Files lists indexed files with their chunk counts, in first-ingest order.
func (idx *Index) Files(ctx context.Context) ([]FileStat, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.db == nil {
		return []FileStat{}, nil
	}
	return idx.db.Files(ctx)
}

// Close releases the database. The index is unusable afterwards.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	if idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

func (idx *Index) checkModel() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return ErrClosed
	}
	if idx.model != "" && idx.model != idx.provider.ModelName() {
		return fmt.Errorf("%w: index uses %s, provider is %s", ErrModelMismatch, idx.model, idx.provider.ModelName())
	}
	return nil
}
