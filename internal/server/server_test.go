package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsen/kbase/internal/answer"
	"github.com/matsen/kbase/internal/graph"
	"github.com/matsen/kbase/internal/index"
	"github.com/matsen/kbase/internal/kb"
	"github.com/matsen/kbase/internal/loader"
	"github.com/matsen/kbase/internal/logging"
	"github.com/matsen/kbase/internal/metrics"
)

type fakeKB struct {
	uploadName string
	uploadBody string
	uploadErr  error

	query     string
	searchErr error

	docs    []kb.DocumentInfo
	docsErr error

	labels   []string
	graph    *graph.Graph
	graphErr error
}

func (f *fakeKB) Upload(ctx context.Context, name string, r io.Reader) (*kb.UploadResult, error) {
	body, _ := io.ReadAll(r)
	f.uploadName, f.uploadBody = name, string(body)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &kb.UploadResult{Filename: name, StoredPath: "data/uploads/x.txt", ChunksProcessed: 1, KeyConcepts: "{}"}, nil
}

func (f *fakeKB) Search(ctx context.Context, query string) (*answer.Answer, error) {
	f.query = query
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &answer.Answer{
		Answer:  "Chunks overlap by 200 characters.",
		Sources: []answer.Source{{Title: "notes.txt", Path: "data/uploads/notes.txt"}},
	}, nil
}

func (f *fakeKB) Documents() ([]kb.DocumentInfo, error) {
	return f.docs, f.docsErr
}

func (f *fakeKB) KnowledgeGraph(ctx context.Context, labels []string) (*graph.Graph, error) {
	f.labels = labels
	if f.graphErr != nil {
		return nil, f.graphErr
	}
	return f.graph, nil
}

func (f *fakeKB) IndexStats() index.Stats {
	return index.Stats{Initialized: true, Chunks: 3}
}

func newTestServer(t *testing.T, f *fakeKB) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	srv := httptest.NewServer(New(f, logging.Nop(), m).Handler())
	t.Cleanup(srv.Close)
	return srv, m
}

func multipartBody(t *testing.T, field, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestUpload(t *testing.T) {
	f := &fakeKB{}
	srv, _ := newTestServer(t, f)

	body, ctype := multipartBody(t, "file", "notes.txt", "hello knowledge base")
	resp, err := http.Post(srv.URL+"/upload", ctype, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	decode(t, resp, &got)
	assert.Equal(t, "notes.txt", got["filename"])
	assert.Equal(t, "data/uploads/x.txt", got["stored_path"])
	assert.EqualValues(t, 1, got["chunks_processed"])
	assert.Equal(t, "{}", got["key_concepts"])
	assert.NotContains(t, got, "concepts_error")

	assert.Equal(t, "notes.txt", f.uploadName)
	assert.Equal(t, "hello knowledge base", f.uploadBody)
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		uploadErr  error
		wantStatus int
	}{
		{
			name:       "missing file field",
			field:      "document",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsupported format",
			field:      "file",
			uploadErr:  &loader.UnsupportedFormatError{Ext: ".pptx"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "processing failure",
			field:      "file",
			uploadErr:  fmt.Errorf("processing notes.txt: %w", errors.New("embedding failed")),
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeKB{uploadErr: tt.uploadErr})
			body, ctype := multipartBody(t, tt.field, "notes.txt", "x")
			resp, err := http.Post(srv.URL+"/upload", ctype, body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var got map[string]string
			decode(t, resp, &got)
			assert.NotEmpty(t, got["detail"])
		})
	}
}

func TestSearch(t *testing.T) {
	f := &fakeKB{}
	srv, _ := newTestServer(t, f)

	resp, err := http.PostForm(srv.URL+"/search", url.Values{"query": {"how are chunks built?"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Answer  string `json:"answer"`
		Sources []struct {
			Title string `json:"title"`
			Path  string `json:"path"`
		} `json:"sources"`
	}
	decode(t, resp, &got)
	assert.Equal(t, "how are chunks built?", f.query)
	assert.Equal(t, "Chunks overlap by 200 characters.", got.Answer)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "notes.txt", got.Sources[0].Title)
}

func TestSearch_InvalidInput(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKB{searchErr: fmt.Errorf("%w: empty query", kb.ErrInvalidInput)})

	resp, err := http.PostForm(srv.URL+"/search", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var got map[string]string
	decode(t, resp, &got)
	assert.Contains(t, got["detail"], "empty query")
}

func TestDocuments(t *testing.T) {
	f := &fakeKB{docs: []kb.DocumentInfo{{Filename: "a.txt", Path: "data/uploads/a.txt", SizeKB: 1.5}}}
	srv, _ := newTestServer(t, f)

	resp, err := http.Get(srv.URL + "/documents")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Documents []kb.DocumentInfo `json:"documents"`
	}
	decode(t, resp, &got)
	assert.Equal(t, f.docs, got.Documents)
}

func TestDocuments_Empty(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKB{docs: []kb.DocumentInfo{}})

	resp, err := http.Get(srv.URL + "/documents")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"documents":[]}`, string(raw))
}

func TestKnowledgeGraph(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			{ID: "a.txt", Name: "a.txt", Type: graph.NodeDocument, Size: graph.DocumentNodeSize},
			{ID: "a.txt_Chunking", Name: "Chunking", Type: graph.NodeConcept, Document: "a.txt", Size: graph.ConceptNodeSize},
		},
		Links: []graph.Edge{
			{Source: "a.txt", Target: "a.txt_Chunking", Type: graph.RelationContains, Value: graph.ContainsWeight},
		},
	}
	f := &fakeKB{graph: g}
	srv, _ := newTestServer(t, f)

	resp, err := http.Get(srv.URL + "/knowledge-graph?types=" + url.QueryEscape("包含, 相似"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Nodes []map[string]any `json:"nodes"`
		Links []map[string]any `json:"links"`
	}
	decode(t, resp, &got)
	assert.Equal(t, []string{"包含", "相似"}, f.labels)
	require.Len(t, got.Nodes, 2)
	require.Len(t, got.Links, 1)
	assert.Equal(t, "a.txt_Chunking", got.Links[0]["target"])
}

func TestKnowledgeGraph_NoTypes(t *testing.T) {
	f := &fakeKB{graph: &graph.Graph{Nodes: []graph.Node{}, Links: []graph.Edge{}}}
	srv, _ := newTestServer(t, f)

	resp, err := http.Get(srv.URL + "/knowledge-graph")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, f.labels)
}

func TestKnowledgeGraph_Failure(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKB{graphErr: errors.New("similarity: embedding a.txt failed")})

	resp, err := http.Get(srv.URL + "/knowledge-graph")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var got map[string]string
	decode(t, resp, &got)
	assert.Contains(t, got["detail"], "a.txt")
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKB{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var got struct {
		Status string      `json:"status"`
		Index  index.Stats `json:"index"`
	}
	decode(t, resp, &got)
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, 3, got.Index.Chunks)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKB{docs: []kb.DocumentInfo{}})

	resp, err := http.Get(srv.URL + "/documents")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `route="/documents"`)
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKB{docs: []kb.DocumentInfo{}})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/documents", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("x: %w", kb.ErrInvalidInput)))
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("x: %w", loader.ErrUnsupportedFormat)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(&http.MaxBytesError{Limit: 1}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestListenAndServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(&fakeKB{}, nil, nil).ListenAndServe(ctx, "127.0.0.1:0")
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
