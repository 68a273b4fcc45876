package fileserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olaf-neighbourhood/olaf/internal/logger"
)

func discardLogger() logger.Logger {
	return logger.NewLogger(io.Discard, logger.ErrorLevel)
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srv := New(dir, "http://example.invalid", discardLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := "hello binary blob"
	resp, err := http.Post(ts.URL+"/api/upload", "application/octet-stream", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.True(t, strings.HasPrefix(parsed.FileURL, "http://example.invalid/downloads/"))

	name := strings.TrimPrefix(parsed.FileURL, "http://example.invalid/downloads/")
	dlResp, err := http.Get(ts.URL + "/downloads/" + name)
	require.NoError(t, err)
	defer dlResp.Body.Close()
	require.Equal(t, http.StatusOK, dlResp.StatusCode)

	got, err := io.ReadAll(dlResp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestDownloadMissingFileReturns404(t *testing.T) {
	dir := t.TempDir()
	srv := New(dir, "http://example.invalid", discardLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/downloads/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadPathTraversalIsContained(t *testing.T) {
	dir := t.TempDir()
	srv := New(dir, "http://example.invalid", discardLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/downloads/../../etc/passwd")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadRejectsNonPostMethod(t *testing.T) {
	dir := t.TempDir()
	srv := New(dir, "http://example.invalid", discardLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/upload")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
