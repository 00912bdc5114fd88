// Package transcribe converts uploaded voice audio to query text via a
// speech-to-text backend.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrTranscription wraps any backend failure; callers map it to a client
// error since bad audio is indistinguishable from an unrecognizable one.
type TranscriptionError struct {
	Cause error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("Audio transcription failed: %v", e.Cause)
}

func (e *TranscriptionError) Unwrap() error { return e.Cause }

// Transcriber turns a WAV payload into query text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// HTTPTranscriber posts audio as multipart form data to a speech-to-text
// service and expects {"text": "..."} back.
type HTTPTranscriber struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewHTTPTranscriber(baseURL string, timeout time.Duration) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTranscriber{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", &TranscriptionError{Cause: err}
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", &TranscriptionError{Cause: err}
	}
	if err := form.Close(); err != nil {
		return "", &TranscriptionError{Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/transcribe", &buf)
	if err != nil {
		return "", &TranscriptionError{Cause: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return "", &TranscriptionError{Cause: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &TranscriptionError{Cause: fmt.Errorf("backend status=%d body=%s", resp.StatusCode, body)}
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &TranscriptionError{Cause: err}
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", &TranscriptionError{Cause: fmt.Errorf("empty transcription")}
	}
	return out.Text, nil
}
