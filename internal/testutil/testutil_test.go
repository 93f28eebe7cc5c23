package testutil

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Method", r.Method)
	w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
	w.Header().Set("Content-Type", "application/json")
	if r.Body == nil || r.ContentLength == 0 {
		_, _ = w.Write([]byte(`{"empty":true}`))
		return
	}
	body, _ := io.ReadAll(r.Body)
	_, _ = w.Write(body)
}

func TestServeJSON(t *testing.T) {
	t.Parallel()
	h := http.HandlerFunc(echo)

	rec := ServeJSON(t, h, http.MethodPost, "/x", map[string]int{"horizon": 12})
	assert.Equal(t, http.MethodPost, rec.Header().Get("X-Method"))
	assert.Equal(t, "application/json", rec.Header().Get("X-Content-Type"))
	got := DecodeJSON[map[string]int](t, rec)
	assert.Equal(t, 12, got["horizon"])

	rec = ServeJSON(t, h, http.MethodPost, "/x", []byte(`{"raw":1}`))
	assert.Equal(t, 1, DecodeJSON[map[string]int](t, rec)["raw"])

	rec = ServeJSON(t, h, http.MethodGet, "/x", nil)
	assert.Empty(t, rec.Header().Get("X-Content-Type"))
	require.True(t, DecodeJSON[map[string]bool](t, rec)["empty"])
	AssertStatusCode(t, rec.Code, http.StatusOK)
}
