package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/boosts"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/durable"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/kafka"
)

type recordingWriter struct{ events []kafka.Event }

func (w *recordingWriter) Publish(_ context.Context, ev kafka.Event) error {
	w.events = append(w.events, ev)
	return nil
}

func newServer(t *testing.T, pub EventPublisher, searchTimeout ...time.Duration) *httptest.Server {
	t.Helper()
	analyzer := tokenizer.New()
	store, err := boosts.NewMemoryStore("")
	require.NoError(t, err)
	ix, err := durable.Open(durable.Options{
		DataDir:     t.TempDir(),
		Parser:      analyzer,
		Compression: segment.CompressionZSTD,
		Facets:      store.Categories,
	})
	require.NoError(t, err)
	dealer, err := indexer.NewDealer(context.Background(), indexer.Options{
		RTISize:          100,
		DumpPollInterval: time.Millisecond,
		Parser:           analyzer,
		Durable:          ix,
		Boosts:           store,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	h := New(dealer, parser.New(analyzer, "title", "body"), pub, 10, 100)
	if len(searchTimeout) > 0 {
		h.WithSearchTimeout(searchTimeout[0])
	}
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		dealer.Close()
		ix.Close()
	})
	return srv
}

func do(t *testing.T, method, rawURL string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, rawURL, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func searchIDs(t *testing.T, srv *httptest.Server, q string) []string {
	t.Helper()
	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/search?q="+url.QueryEscape(q), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var ids []string
	for _, r := range body["results"].([]any) {
		ids = append(ids, r.(map[string]any)["doc_id"].(string))
	}
	return ids
}

func addDoc(t *testing.T, srv *httptest.Server, req ingestion.DocumentRequest) {
	t.Helper()
	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/documents", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
}

func TestAddSearchDelete(t *testing.T) {
	srv := newServer(t, nil)
	addDoc(t, srv, ingestion.DocumentRequest{
		ID:         "a",
		Fields:     map[string]string{"title": "Rust", "body": "systems programming"},
		Categories: map[string]string{"lang": "en"},
	})
	addDoc(t, srv, ingestion.DocumentRequest{ID: "b", Fields: map[string]string{"body": "functional programming"}})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/search?q=programming&limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, map[string]any{"lang": map[string]any{"en": float64(1)}}, body["facets"])

	assert.Equal(t, []string{"a"}, searchIDs(t, srv, "programming NOT functional"))
	assert.Equal(t, []string{"a"}, searchIDs(t, srv, "title:rust"))

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/documents/a", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"b"}, searchIDs(t, srv, "programming"))
}

func TestBoostsReorderResults(t *testing.T) {
	srv := newServer(t, nil)
	addDoc(t, srv, ingestion.DocumentRequest{ID: "a", Fields: map[string]string{"body": "search engine"}})
	addDoc(t, srv, ingestion.DocumentRequest{ID: "b", Fields: map[string]string{"body": "search engine"}})
	assert.Equal(t, []string{"a", "b"}, searchIDs(t, srv, "engine"))

	resp, _ := do(t, http.MethodPut, srv.URL+"/api/v1/documents/b/boosts", map[string]any{"boosts": []float64{1}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"b", "a"}, searchIDs(t, srv, "engine"))
}

func TestDumpKeepsDocumentsSearchable(t *testing.T) {
	srv := newServer(t, nil)
	addDoc(t, srv, ingestion.DocumentRequest{ID: "a", Fields: map[string]string{"body": "durable storage"}})

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/dump", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, "1", stats["durable.segments"])
	assert.Equal(t, "false", stats["rti.marked"])

	assert.Equal(t, []string{"a"}, searchIDs(t, srv, "storage"))

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", body["durable.docs"])
}

func TestSearchValidation(t *testing.T) {
	srv := newServer(t, nil)
	for _, q := range []string{"", "?q=x&limit=0", "?q=x&offset=-1", "?q=(x", "?q=x&offset=100", "?q=x&offset=9223372036854775807"} {
		resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/search"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/search?q=the", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["results"])
}

func TestAddDocumentValidation(t *testing.T) {
	srv := newServer(t, nil)
	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/documents", ingestion.DocumentRequest{ID: "a"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["fields"], "fields")
}

func TestIngest(t *testing.T) {
	srv := newServer(t, nil)
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/ingest", ingestion.IngestEvent{Op: ingestion.OpDelete, DocumentID: "a"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	w := &recordingWriter{}
	srv = newServer(t, publisher.New(w))
	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/ingest", ingestion.IngestEvent{Op: ingestion.OpDelete, DocumentID: "a"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ACCEPTED", body["status"])
	assert.Len(t, w.events, 1)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/ingest", ingestion.IngestEvent{Op: "merge", DocumentID: "a"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchTimeout(t *testing.T) {
	srv := newServer(t, nil, time.Nanosecond)
	addDoc(t, srv, ingestion.DocumentRequest{ID: "a", Fields: map[string]string{"body": "slow query"}})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/search?q=slow", nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "search failed", body["error"])
}
