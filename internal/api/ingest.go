package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/kalambet/tutorcore/internal/ingest"
)

const maxIngestBodySize = 10 << 20 // 10MB
const maxURLFetchSize = 5 << 20    // 5MB

// IngestRequest carries a document inline as text, as a base64 file, or as a
// URL to fetch.
type IngestRequest struct {
	Subject string `json:"subject"`
	Topic   string `json:"topic"`
	Type    string `json:"type"`   // text (default), file, url
	Format  string `json:"format"` // text, pdf, html; for url, taken from Content-Type when empty
	Content string `json:"content"`
	URL     string `json:"url"`
}

type IngestResponse struct {
	Fragments int      `json:"fragments"`
	IDs       []string `json:"ids"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if !decodeBody(w, r, maxIngestBodySize, &req) {
			return
		}
		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}

		var raw []byte
		switch req.Type {
		case "url":
			if req.URL == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required for type url")
				return
			}
			body, contentType, err := fetchURL(r.Context(), deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to fetch url: %v", err)
				return
			}
			raw = body
			if req.Format == "" {
				req.Format = formatForContentType(contentType)
			}
		case "file":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			raw = decoded
		case "", "text":
			raw = []byte(req.Content)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown type %q", req.Type)
			return
		}

		format, err := ingest.ParseFormat(req.Format)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		text, err := ingest.Load(raw, format)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to read document: %v", err)
			return
		}

		frags, err := deps.Ingester.Ingest(r.Context(), ingest.Document{Subject: req.Subject, Topic: req.Topic, Text: text})
		if errors.Is(err, ingest.ErrEmptyDocument) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store document: %v", err)
			return
		}

		ids := make([]string, len(frags))
		for i, f := range frags {
			ids[i] = f.ID
		}
		writeJSON(w, http.StatusCreated, IngestResponse{Fragments: len(frags), IDs: ids})
	}
}

func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func formatForContentType(ct string) string {
	mediaType, _, _ := mime.ParseMediaType(ct)
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return string(ingest.FormatHTML)
	case "application/pdf":
		return string(ingest.FormatPDF)
	default:
		return string(ingest.FormatText)
	}
}
