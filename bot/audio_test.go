package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscriber struct {
	text string
	err  error
	path string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.path = path
	return f.text, f.err
}

// mediaServer serves one fake voice note, answering both the HEAD pre-check
// and the streamed GET.
func mediaServer(t *testing.T, body []byte, advertise int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.FormatInt(advertise, 10))
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		io.Copy(w, bytes.NewReader(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAudioHandler(t *testing.T, maxSizeMB int, tr Transcriber) *audioHandler {
	t.Helper()
	return NewAudioHandler(t.TempDir(), maxSizeMB, "sid", "token", tr,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAudioDownloadWritesFileWithExtension(t *testing.T) {
	payload := []byte("OggS fake audio payload")
	srv := mediaServer(t, payload, int64(len(payload)))
	h := newTestAudioHandler(t, 1, nil)

	path, err := h.Download(context.Background(), srv.URL, "audio/ogg; codecs=opus")
	require.NoError(t, err)
	defer os.Remove(path)

	assert.Equal(t, ".ogg", filepath.Ext(path))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestAudioDownloadRejectsUnsupportedType(t *testing.T) {
	h := newTestAudioHandler(t, 1, nil)

	_, err := h.Download(context.Background(), "http://unused.invalid", "image/jpeg")
	assert.ErrorIs(t, err, ErrUnsupportedMedia)

	_, err = h.Download(context.Background(), "http://unused.invalid", "")
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestAudioDownloadRejectsAdvertisedOversize(t *testing.T) {
	// HEAD advertises 2 MiB against a 1 MiB cap; no GET should be needed.
	srv := mediaServer(t, nil, 2*1024*1024)
	h := newTestAudioHandler(t, 1, nil)

	_, err := h.Download(context.Background(), srv.URL, "audio/mpeg")
	assert.ErrorIs(t, err, ErrAudioTooLarge)
}

func TestAudioDownloadAbortsOversizeStream(t *testing.T) {
	// The CDN lies: HEAD advertises a small file, the stream is oversize.
	payload := bytes.Repeat([]byte("a"), 2048)
	srv := mediaServer(t, payload, 10)
	h := newTestAudioHandler(t, 1, nil)
	h.maxBytes = 1024

	_, err := h.Download(context.Background(), srv.URL, "audio/ogg")
	assert.ErrorIs(t, err, ErrAudioTooLarge)

	entries, readErr := os.ReadDir(h.storagePath)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "aborted download must not leave a partial file")
}

func TestAudioDownloadAcceptsExactlyAtLimit(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 1024)
	srv := mediaServer(t, payload, int64(len(payload)))
	h := newTestAudioHandler(t, 1, nil)
	h.maxBytes = 1024

	path, err := h.Download(context.Background(), srv.URL, "audio/wav")
	require.NoError(t, err)
	defer os.Remove(path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), info.Size())
}

func TestAudioTranscribeCleansUpTempFile(t *testing.T) {
	payload := []byte("fake audio")
	srv := mediaServer(t, payload, int64(len(payload)))
	tr := &fakeTranscriber{text: "necesito un mototaxi"}
	h := newTestAudioHandler(t, 1, tr)

	text, err := h.Transcribe(context.Background(), srv.URL, "audio/ogg")
	require.NoError(t, err)
	assert.Equal(t, "necesito un mototaxi", text)
	require.NotEmpty(t, tr.path)

	_, statErr := os.Stat(tr.path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestAudioTranscribeCleansUpOnTranscriberError(t *testing.T) {
	payload := []byte("fake audio")
	srv := mediaServer(t, payload, int64(len(payload)))
	tr := &fakeTranscriber{err: errors.New("stt offline")}
	h := newTestAudioHandler(t, 1, tr)

	_, err := h.Transcribe(context.Background(), srv.URL, "audio/ogg")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "stt offline"))

	entries, readErr := os.ReadDir(h.storagePath)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}
