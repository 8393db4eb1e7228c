// Package pdf provides the deliverable renderer adapter.
// It calls an external rendering service that turns markdown into PDF.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

const maxPDFBytes = 32 << 20

// ServiceRenderer implements ports.PDFRenderer over HTTP.
type ServiceRenderer struct {
	serviceURL string
	client     *http.Client
}

// NewServiceRenderer creates a renderer for the service at serviceURL.
func NewServiceRenderer(serviceURL string) *ServiceRenderer {
	if serviceURL == "" {
		serviceURL = "http://localhost:8081"
	}
	return &ServiceRenderer{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type renderRequest struct {
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// errorResponse is the service's failure body.
type errorResponse struct {
	Error string `json:"error"`
}

// Render posts the document and returns the PDF bytes.
func (r *ServiceRenderer) Render(ctx context.Context, title, markdown string) ([]byte, error) {
	body, err := json.Marshal(renderRequest{Title: title, Markdown: markdown})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serviceURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling PDF service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("PDF render error (status %d): %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("PDF service returned status %d", resp.StatusCode)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, fmt.Errorf("PDF service returned %d bytes that are not a PDF", len(data))
	}
	return data, nil
}

// IsServiceHealthy checks if the rendering service is running.
func (r *ServiceRenderer) IsServiceHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.serviceURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

var _ ports.PDFRenderer = (*ServiceRenderer)(nil)
