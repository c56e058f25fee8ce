package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// httpAnalyzer calls the external language-extraction collaborator. The
// model behind the endpoint is interchangeable; the contract is one text in,
// one ExtractedData out.
type httpAnalyzer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewAnalyzer(endpoint, apiKey string) *httpAnalyzer {
	return &httpAnalyzer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type extractRequest struct {
	Text string `json:"text"`
}

func (a *httpAnalyzer) Extract(ctx context.Context, text string) (*ExtractedData, error) {
	body, err := json.Marshal(extractRequest{Text: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction service returned %d", resp.StatusCode)
	}

	var extracted ExtractedData
	if err := json.NewDecoder(resp.Body).Decode(&extracted); err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}
	return &extracted, nil
}

var _ Analyzer = (*httpAnalyzer)(nil)

// httpTranscriber sends an audio file to the speech-to-text collaborator.
type httpTranscriber struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewTranscriber(endpoint, apiKey string) *httpTranscriber {
	return &httpTranscriber{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

type transcribeResponse struct {
	Text string `json:"text"`
}

func (t *httpTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", f.Name())
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription service returned %d", resp.StatusCode)
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}
	return out.Text, nil
}

var _ Transcriber = (*httpTranscriber)(nil)
