package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, string) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	hc := upstream.New(upstream.Options{Provider: domain.ProviderSupabase, Timeout: 2 * time.Second})
	return New(hc, srv.URL+"/", "service-role"), srv.URL
}

func TestUpload(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/galleries/g_abcdefgh/20260101/a.png", r.URL.Path)
		assert.Equal(t, "Bearer service-role", r.Header.Get("Authorization"))
		assert.Equal(t, "false", r.Header.Get("x-upsert"))
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, "data", string(b))
		_, _ = w.Write([]byte(`{"Key":"galleries/g_abcdefgh/20260101/a.png"}`))
	}))
	require.NoError(t, c.Upload(context.Background(), "galleries", "g_abcdefgh/20260101/a.png", "image/png", []byte("data")))
}

func TestUpload_Failure(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"Duplicate"}`))
	}))
	err := c.Upload(context.Background(), "galleries", "p", "image/png", nil)
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusInternalServerError, ue.Status)
	assert.Equal(t, `Supabase upload failed: 409 {"error":"Duplicate"}`, ue.Message)
}

func TestList(t *testing.T) {
	c, base := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/list/galleries", r.URL.Path)
		var body struct {
			Prefix string            `json:"prefix"`
			Limit  int               `json:"limit"`
			SortBy map[string]string `json:"sortBy"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "g_abcdefgh/", body.Prefix)
		assert.Equal(t, 1000, body.Limit)
		assert.Equal(t, map[string]string{"column": "created_at", "order": "desc"}, body.SortBy)
		_, _ = w.Write([]byte(`[
			{"name":"20260101","created_at":null,"metadata":null},
			{"name":"","created_at":"x"},
			{"name":"b.png","created_at":"2026-01-01T00:00:00Z","metadata":{"size":12,"mimetype":"image/png"}}
		]`))
	}))
	items, err := c.List(context.Background(), "galleries", "g_abcdefgh/", 1000)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "g_abcdefgh/20260101", items[0].Path)
	assert.Nil(t, items[0].Size)
	assert.Equal(t, "b.png", items[1].Name)
	assert.Equal(t, int64(12), *items[1].Size)
	assert.Equal(t, "image/png", *items[1].ContentType)
	assert.Equal(t, base+"/storage/v1/object/public/galleries/g_abcdefgh/b.png", items[1].PublicURL)
}

func TestNotConfigured(t *testing.T) {
	c := New(upstream.New(upstream.Options{}), "", "")
	assert.False(t, c.Configured())
	_, err := c.List(context.Background(), "b", "p/", 10)
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
	assert.ErrorIs(t, c.Upload(context.Background(), "b", "p", "x", nil), domain.ErrNotConfigured)
}
