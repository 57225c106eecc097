package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talocan/hharvest/errors"
)

func TestWriteErrorShape(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusNotFound, "nothing here")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "nothing here", body["message"])
}

func TestWriteStoreErrorMapsSentinels(t *testing.T) {
	w := httptest.NewRecorder()
	writeStoreError(w, errors.NewNotFoundError("task %s", "x"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	writeStoreError(w, errors.NewInvalidRequestError("bad input"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	writeStoreError(w, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequireMethod(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/stats", nil)

	assert.False(t, requireMethod(w, r, http.MethodGet))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	assert.True(t, requireMethod(w, r, http.MethodGet))
}

func TestExtractPathParts(t *testing.T) {
	parts := extractPathParts("/api/task/abc-123", "/api/task/")
	require.Len(t, parts, 1)
	assert.Equal(t, "abc-123", parts[0])

	parts = extractPathParts("/api/task/", "/api/task/")
	require.Len(t, parts, 1)
	assert.Equal(t, "", parts[0])
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "12345678", shortID("123456789abcdef"))
	assert.Equal(t, "short", shortID("short"))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "hello", tail("hello", 10))
	assert.Equal(t, "llo", tail("hello", 3))
	assert.Equal(t, "", tail("", 5))
}

func TestQueryInt(t *testing.T) {
	q := url.Values{"limit": []string{"25"}, "junk": []string{"abc"}}

	assert.Equal(t, 25, queryInt(q, "limit", 50))
	assert.Equal(t, 50, queryInt(q, "missing", 50))
	assert.Equal(t, 50, queryInt(q, "junk", 50))
}

func TestRound1(t *testing.T) {
	assert.Equal(t, 33.3, round1(33.333))
	assert.Equal(t, 66.7, round1(66.666))
	assert.Equal(t, 0.0, round1(0))
}
