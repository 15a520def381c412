package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// FileOpener reads back a stored upload. Satisfied by internal/storage.
type FileOpener interface {
	Open(ctx context.Context, storedPath string) (io.ReadCloser, error)
}

// Recognizer is the remote text-recognition backend (a tesseract sidecar in
// production). It accepts the document bytes and returns recognized text.
type Recognizer struct {
	url    string
	files  FileOpener
	client *http.Client
}

// NewRecognizer builds an Extractor backed by an OCR HTTP service. The
// caller should bound requests with a context timeout; the invoice engine
// treats a timeout like any other extraction failure.
func NewRecognizer(url string, files FileOpener, timeout time.Duration) *Recognizer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Recognizer{
		url:    url,
		files:  files,
		client: &http.Client{Timeout: timeout},
	}
}

type recognizeResponse struct {
	Text string `json:"text"`
}

// Extract reads the stored file, sends it for recognition, and parses the
// recognized text. Errors here are hard I/O failures only; an invoice the
// recognizer could read but not understand comes back with empty fields.
func (r *Recognizer) Extract(ctx context.Context, storedPath string) (Extraction, error) {
	f, err := r.files.Open(ctx, storedPath)
	if err != nil {
		return Extraction{}, fmt.Errorf("open stored file: %w", err)
	}
	defer f.Close()

	body, contentType, err := multipartBody(storedPath, f)
	if err != nil {
		return Extraction{}, fmt.Errorf("build ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return Extraction{}, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return Extraction{}, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Extraction{}, fmt.Errorf("ocr service returned status %d", resp.StatusCode)
	}

	var rr recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return Extraction{}, fmt.Errorf("decode ocr response: %w", err)
	}
	return ParseText(rr.Text), nil
}

func multipartBody(name string, f io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("document", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
