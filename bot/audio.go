package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var allowedAudioTypes = []string{
	"audio/ogg",
	"audio/mpeg",
	"audio/mp4",
	"audio/wav",
	"audio/webm",
	"audio/amr",
}

// audioHandler downloads voice notes from the chat provider's media CDN
// and hands them to the transcription collaborator. Size is enforced twice:
// a HEAD pre-check against the advertised length, and a running counter
// during the streamed download, because the CDN does not always send an
// accurate content-length.
type audioHandler struct {
	storagePath string
	maxBytes    int64
	username    string
	password    string
	headClient  *http.Client
	getClient   *http.Client
	transcriber Transcriber
	logger      *slog.Logger
}

func NewAudioHandler(storagePath string, maxSizeMB int, username, password string, transcriber Transcriber, logger *slog.Logger) *audioHandler {
	return &audioHandler{
		storagePath: storagePath,
		maxBytes:    int64(maxSizeMB) * 1024 * 1024,
		username:    username,
		password:    password,
		headClient:  &http.Client{Timeout: 10 * time.Second},
		getClient:   &http.Client{Timeout: 60 * time.Second},
		transcriber: transcriber,
		logger:      logger,
	}
}

func isAllowedAudioType(contentType string) bool {
	for _, t := range allowedAudioTypes {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}
	return false
}

// validate rejects unsupported MIME types and audio whose advertised size
// exceeds the limit, before any bytes are transferred.
func (h *audioHandler) validate(ctx context.Context, mediaURL, contentType string) error {
	if contentType == "" || !isAllowedAudioType(contentType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedMedia, contentType)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, mediaURL, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(h.username, h.password)

	resp, err := h.headClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to validate media: %w", err)
	}
	resp.Body.Close()

	if resp.ContentLength > h.maxBytes {
		return fmt.Errorf("%w: %d bytes advertised", ErrAudioTooLarge, resp.ContentLength)
	}
	return nil
}

// Download fetches the audio into a temp file under the storage path and
// returns its path. The caller owns the file and must remove it.
func (h *audioHandler) Download(ctx context.Context, mediaURL, contentType string) (string, error) {
	if err := h.validate(ctx, mediaURL, contentType); err != nil {
		return "", err
	}

	extension := contentType
	if i := strings.Index(extension, "/"); i >= 0 {
		extension = extension[i+1:]
	}
	if i := strings.Index(extension, ";"); i >= 0 {
		extension = extension[:i]
	}
	if strings.Contains(extension, "opus") || strings.Contains(extension, "ogg") {
		extension = "ogg"
	}

	if err := os.MkdirAll(h.storagePath, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(h.storagePath, fmt.Sprintf("%s.%s", uuid.NewString(), extension))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(h.username, h.password)

	resp, err := h.getClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media download returned %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	// LimitReader gives us one byte past the cap; reading it means the
	// stream is oversize and the download aborts mid-flight.
	written, err := io.Copy(f, io.LimitReader(resp.Body, h.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if written > h.maxBytes {
		os.Remove(path)
		return "", fmt.Errorf("%w: aborted at %d bytes", ErrAudioTooLarge, written)
	}

	return path, nil
}

// Transcribe downloads and transcribes a voice note, always cleaning the
// temp file.
func (h *audioHandler) Transcribe(ctx context.Context, mediaURL, contentType string) (string, error) {
	path, err := h.Download(ctx, mediaURL, contentType)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			h.logger.Warn("failed to clean up audio file",
				slog.String("path", path),
				slog.Any("error", err))
		}
	}()

	return h.transcriber.Transcribe(ctx, path)
}
