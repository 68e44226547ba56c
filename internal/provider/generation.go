package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/pixelmint-ai/pixelmint/internal/config"
)

// maxImageBytes caps the generated image we are willing to read (32 MiB).
const maxImageBytes = 32 * 1024 * 1024

// GenerationClient calls the text-to-image provider. The deadline is the
// transport timeout configured on the http.Client.
type GenerationClient struct {
	url    string
	apiKey string
	httpc  *http.Client
}

// NewGenerationClient creates a client from configuration.
func NewGenerationClient(cfg config.GenerationConfig) *GenerationClient {
	return &GenerationClient{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		httpc:  &http.Client{Timeout: cfg.Timeout.Duration},
	}
}

// Generate submits a prompt and style and returns the produced image as a
// data URI. The in-flight call is canceled when ctx is done.
func (c *GenerationClient) Generate(ctx context.Context, prompt, style string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("prompt", fmt.Sprintf("%s, %s style", prompt, style)); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", mapStatus(resp.StatusCode)
	}

	raw, err := readBody(resp.Body, maxImageBytes)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: empty image body", ErrBadUpstream)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw), nil
}
