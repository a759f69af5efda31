package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Config) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, Config{
		BaseURL:        srv.URL,
		Path:           "/v1/embeddings",
		Model:          "test-embed",
		APIKey:         "k",
		Dimension:      3,
		TimeoutSeconds: 5,
		RPMLimit:       0,
		Concurrency:    4,
		BatchSize:      2,
	}
}

func TestEmbedDocumentsPreservesOrder(t *testing.T) {
	srv, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResp{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i), 0, 0}, Index: len(req.Input) - 1 - i})
		}
		json.NewEncoder(w).Encode(resp)
	})
	_ = srv

	g := New(cfg)
	out, err := g.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, float32(1), out[0][0])
	assert.Equal(t, float32(0), out[1][0])
}

func TestEmbedDocumentsRetriesOn500ThenSucceeds(t *testing.T) {
	calls := 0
	srv, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req embedReq
		json.NewDecoder(r.Body).Decode(&req)
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := embedResp{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{1, 2, 3}, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	})
	_ = srv

	g := New(cfg)
	g.policy.BaseDelay = time.Millisecond
	g.policy.MaxDelay = 5 * time.Millisecond

	out, err := g.EmbedDocuments(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 2, calls)
}

func TestEmbedDocumentsPermanentOn401(t *testing.T) {
	calls := 0
	srv, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})
	_ = srv

	g := New(cfg)
	g.policy.BaseDelay = time.Millisecond
	g.policy.MaxDelay = 2 * time.Millisecond

	_, err := g.EmbedDocuments(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestEmbedDocumentsRejectsNonFiniteValues(t *testing.T) {
	srv, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		resp := embedResp{Data: []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{{Embedding: []float32{float32(math.NaN()), 0, 0}, Index: 0}}}
		json.NewEncoder(w).Encode(resp)
	})
	_ = srv

	g := New(cfg)
	_, err := g.EmbedDocuments(context.Background(), []string{"x"})
	require.Error(t, err)
}

func TestDeterministicEmbedderIsStableAndNormalized(t *testing.T) {
	d := NewDeterministicEmbedder(8)
	a, err := d.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	b, err := d.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var sumSq float64
	for _, v := range a {
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-6)

	c, err := d.EmbedQuery(context.Background(), "goodbye")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
