package renderer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/vitrina/api/internal/services"
)

const (
	defaultTimeout    = 2 * time.Minute
	maxDocumentBytes  = 64 << 20
	maxLineBytes      = 96 << 20
	contentTypePDF    = "application/pdf"
	contentTypeNDJSON = "application/x-ndjson"
)

// Options configures the HTTP renderer client.
type Options struct {
	Endpoint   string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client posts catalog documents to a rendering service and returns the produced PDF.
// The service either answers with the PDF directly or streams newline-delimited progress
// frames ending with a frame that carries the base64 encoded document.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

type streamFrame struct {
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Error    string `json:"error"`
	PDF      string `json:"pdf"`
}

// NewClient validates options and builds a renderer client.
func NewClient(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("renderer: endpoint is required")
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint: endpoint,
		token:    strings.TrimSpace(opts.Token),
		http:     client,
	}, nil
}

// Render implements services.CatalogRenderer.
func (c *Client) Render(ctx context.Context, doc services.CatalogDocument, progress services.RenderProgressFunc) ([]byte, error) {
	if progress == nil {
		progress = func(string, int, string) {}
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("renderer: marshal document: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("renderer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", contentTypeNDJSON+", "+contentTypePDF)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("renderer: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("renderer: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == contentTypeNDJSON {
		return readStream(resp.Body, progress)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("renderer: read document: %w", err)
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("renderer: document exceeds %d bytes", maxDocumentBytes)
	}
	progress("rendered", 100, "")
	return data, nil
}

func readStream(r io.Reader, progress services.RenderProgressFunc) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame streamFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			return nil, fmt.Errorf("renderer: malformed stream frame: %w", err)
		}
		if frame.Error != "" {
			return nil, fmt.Errorf("renderer: %s", frame.Error)
		}
		if frame.PDF != "" {
			data, err := base64.StdEncoding.DecodeString(frame.PDF)
			if err != nil {
				return nil, fmt.Errorf("renderer: decode document: %w", err)
			}
			return data, nil
		}
		if frame.Step != "" {
			progress(frame.Step, frame.Progress, frame.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("renderer: read stream: %w", err)
	}
	return nil, errors.New("renderer: stream ended without a document")
}
