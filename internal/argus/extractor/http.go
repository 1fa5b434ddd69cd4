package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBody bounds a template response.
const maxResponseBody = 1 << 20

// HTTP calls a remote embedding service.  The image is POSTed as the raw
// request body and the service answers 200 with {"template":[...]} or 422
// when it finds no face.  Any other outcome is ErrModelUnavailable.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP returns an Extractor for the service at url.  A zero timeout
// means 10 seconds.
func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{url: url, client: &http.Client{Timeout: timeout}}
}

type templateResponse struct {
	Template []float64 `json:"template"`
}

func (h *HTTP) Extract(ctx context.Context, image []byte) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		return nil, ErrNoFaceDetected
	default:
		return nil, fmt.Errorf("%w: extractor returned %d", ErrModelUnavailable, resp.StatusCode)
	}

	var out templateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrModelUnavailable, err)
	}
	if len(out.Template) == 0 {
		return nil, fmt.Errorf("%w: empty template", ErrModelUnavailable)
	}
	return out.Template, nil
}
