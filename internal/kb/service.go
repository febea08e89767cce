// Package kb wires the knowledge-base pipeline: upload, ingestion, search,
// concept extraction and graph assembly.
package kb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/matsen/kbase/internal/answer"
	"github.com/matsen/kbase/internal/chunker"
	"github.com/matsen/kbase/internal/concept"
	"github.com/matsen/kbase/internal/config"
	"github.com/matsen/kbase/internal/embedding"
	"github.com/matsen/kbase/internal/genai"
	"github.com/matsen/kbase/internal/graph"
	"github.com/matsen/kbase/internal/index"
	"github.com/matsen/kbase/internal/loader"
	"github.com/matsen/kbase/internal/logging"
	"github.com/matsen/kbase/internal/metrics"
	"github.com/matsen/kbase/internal/remote"
	"github.com/matsen/kbase/internal/semantic"
)

// ErrInvalidInput marks caller mistakes such as an empty query.
var ErrInvalidInput = errors.New("invalid input")

// UploadResult describes one processed upload.
type UploadResult struct {
	Filename        string `json:"filename"`
	StoredPath      string `json:"stored_path"`
	ChunksProcessed int    `json:"chunks_processed"`
	KeyConcepts     string `json:"key_concepts"`
	ConceptsError   string `json:"concepts_error,omitempty"`
}

// DocumentInfo describes one stored upload.
type DocumentInfo struct {
	Filename string  `json:"filename"`
	Path     string  `json:"path"`
	SizeKB   float64 `json:"size_kb"`
}

// Service is the knowledge base. It owns the index handle.
type Service struct {
	cfg       *config.Config
	index     *index.Index
	splitter  *chunker.Splitter
	extractor *concept.Extractor
	answers   *answer.Synthesizer
	assembler *graph.Assembler
	cache     *semantic.VectorCache
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// Open builds the service described by cfg: data layout, embedding
// provider, index and generative model. A missing API key only fails the
// operations that need that model.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*Service, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if err := cfg.EnsureLayout(); err != nil {
		return nil, err
	}

	provider, err := embedding.New(cfg.Embedding, logger, m)
	if errors.Is(err, remote.ErrMissingAPIKey) {
		logger.Warn("embedding model not configured; ingestion and search are unavailable",
			"env", config.EnvOpenAIKey)
		provider = embedding.Unavailable(cfg.Embedding, err)
	} else if err != nil {
		return nil, fmt.Errorf("configuring embeddings: %w", err)
	}

	gen, err := genai.New(cfg.Generative, logger, m)
	if errors.Is(err, remote.ErrMissingAPIKey) {
		logger.Warn("generative model not configured; answers and concepts are unavailable",
			"env", config.EnvAnthropicKey)
		gen = unavailable{err: err}
	} else if err != nil {
		return nil, fmt.Errorf("configuring generative model: %w", err)
	}

	idx, err := index.Open(ctx, cfg.IndexPath(), provider, logger)
	if err != nil {
		return nil, err
	}

	cache, err := semantic.OpenCache(cfg.DocVectorCachePath())
	if err != nil {
		logger.Warn("document vector cache reset", "path", cfg.DocVectorCachePath(), "error", err)
	}

	return New(cfg, idx, gen, cache, logger, m), nil
}

// New assembles a service from its parts.
func New(cfg *config.Config, idx *index.Index, gen genai.Generator, cache *semantic.VectorCache, logger *logging.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	extractor := concept.NewExtractor(gen,
		concept.WithPreviewChars(cfg.Concepts.PreviewChars),
		concept.WithLogger(logger),
	)
	engine := semantic.NewEngine(idx,
		semantic.WithThreshold(cfg.Similarity.Threshold),
		semantic.WithMaxDocumentChars(cfg.Similarity.MaxDocumentChars),
		semantic.WithConcurrency(cfg.Similarity.Concurrency),
		semantic.WithCache(cache),
		semantic.WithLogger(logger),
	)
	return &Service{
		cfg:   cfg,
		index: idx,
		splitter: chunker.New(
			chunker.WithChunkSize(cfg.Chunker.ChunkSize),
			chunker.WithOverlap(cfg.Chunker.ChunkOverlap),
		),
		extractor: extractor,
		answers: answer.NewSynthesizer(gen,
			answer.WithMaxContextChars(cfg.Search.MaxContextChars),
			answer.WithLogger(logger),
		),
		assembler: graph.NewAssembler(extractor, engine,
			graph.WithConceptsPerDocument(cfg.Concepts.PerDocumentInGraph),
			graph.WithConcurrency(cfg.Concepts.Concurrency),
			graph.WithLogger(logger),
		),
		cache:   cache,
		logger:  logger,
		metrics: m,
	}
}

// Close releases the index.
func (s *Service) Close() error {
	return s.index.Close()
}

// Upload stores r under a fresh name keeping the extension of name,
// ingests it and extracts its key concepts. The stored file is removed if
// ingestion fails. A concept extraction failure is reported in the result.
func (s *Service) Upload(ctx context.Context, name string, r io.Reader) (*UploadResult, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: missing file name", ErrInvalidInput)
	}
	if err := loader.CheckExtension(name); err != nil {
		return nil, err
	}

	stored := filepath.Join(s.cfg.UploadsPath(), uuid.NewString()+filepath.Ext(name))
	if err := writeFile(stored, r); err != nil {
		return nil, fmt.Errorf("storing %s: %w", name, err)
	}

	n, err := s.IngestFile(ctx, stored)
	if err != nil {
		if rmErr := os.Remove(stored); rmErr != nil {
			s.logger.Warn("removing failed upload", "path", stored, "error", rmErr)
		}
		return nil, fmt.Errorf("processing %s: %w", name, err)
	}

	res := &UploadResult{Filename: name, StoredPath: stored, ChunksProcessed: n}
	raw, err := s.extractor.Extract(ctx, stored)
	if err != nil {
		s.logger.Warn("key concept extraction failed", "file", name, "error", err)
		res.ConceptsError = err.Error()
		return res, nil
	}
	res.KeyConcepts = raw

	s.logger.Info("document uploaded", "file", name, "stored", filepath.Base(stored), "chunks", n)
	return res, nil
}

// IngestFile loads, chunks and indexes the file at path.
func (s *Service) IngestFile(ctx context.Context, path string) (int, error) {
	segs, err := loader.Load(path)
	if err != nil {
		return 0, err
	}
	chunks := s.splitter.SplitSegments(path, segs)
	n, err := s.index.Ingest(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("indexing %s: %w", filepath.Base(path), err)
	}
	s.metrics.AddIngest(n)
	return n, nil
}

// Search answers query from the most similar chunks.
func (s *Service) Search(ctx context.Context, query string) (*answer.Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	results, err := s.index.Search(ctx, query, s.cfg.Search.TopK)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	chunks := make([]chunker.Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.Chunk
	}
	a, err := s.answers.Answer(ctx, query, chunks)
	if err != nil {
		return nil, err
	}
	s.metrics.IncSearch()
	return a, nil
}

// Documents lists the stored uploads in name order.
func (s *Service) Documents() ([]DocumentInfo, error) {
	return ListDocuments(s.cfg.UploadsPath())
}

// ListDocuments lists the regular files in dir. A missing dir is empty.
func ListDocuments(dir string) ([]DocumentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DocumentInfo{}, nil
		}
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	docs := make([]DocumentInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("listing documents: %w", err)
		}
		docs = append(docs, DocumentInfo{
			Filename: e.Name(),
			Path:     filepath.Join(dir, e.Name()),
			SizeKB:   roundKB(info.Size()),
		})
	}
	return docs, nil
}

func roundKB(size int64) float64 {
	return math.Round(float64(size)/1024*100) / 100
}

// KnowledgeGraph builds the graph of every stored upload and applies the
// relation filter when labels are given.
func (s *Service) KnowledgeGraph(ctx context.Context, labels []string) (*graph.Graph, error) {
	stored, err := s.Documents()
	if err != nil {
		return nil, err
	}
	docs := make([]semantic.Document, 0, len(stored))
	for _, d := range stored {
		if loader.CheckExtension(d.Filename) != nil {
			continue
		}
		docs = append(docs, semantic.Document{Name: d.Filename, Path: d.Path})
	}

	g, err := s.assembler.Build(ctx, docs)
	if err != nil {
		return nil, err
	}
	s.metrics.AddGraphBuild(g.FailureCounts())
	return graph.Filter(g, labels), nil
}

// Concepts extracts the key concepts of the file at path.
func (s *Service) Concepts(ctx context.Context, path string) (string, concept.Mapping, error) {
	raw, err := s.extractor.Extract(ctx, path)
	if err != nil {
		return "", nil, err
	}
	return raw, concept.Parse(raw), nil
}

// IndexedFiles lists the files in the index with their chunk counts.
func (s *Service) IndexedFiles(ctx context.Context) ([]index.FileStat, error) {
	return s.index.Files(ctx)
}

// IndexStats reports the index state.
func (s *Service) IndexStats() index.Stats {
	return s.index.Stats()
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// unavailable stands in for an unconfigured generative model.
type unavailable struct {
	err error
}

func (u unavailable) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return "", &remote.ExternalCallError{Service: "anthropic", Op: "messages", Err: u.err}
}
