package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pixelmint-ai/pixelmint/internal/classify"
	"github.com/pixelmint-ai/pixelmint/internal/config"
)

// moderationModels is the model list requested from the moderation provider.
const moderationModels = "nudity,wad,offensive,text-content,gore"

// maxScoresBytes caps the score payload we are willing to read.
const maxScoresBytes = 1 * 1024 * 1024

// ModerationInput is either an uploaded image or a remote image URL.
type ModerationInput struct {
	Media    []byte // raw image bytes, or nil when URL is set
	Filename string
	URL      string
}

// ModerationClient calls the image-moderation provider under a fixed
// per-call deadline.
type ModerationClient struct {
	url       string
	apiUser   string
	apiSecret string
	timeout   time.Duration
	httpc     *http.Client
}

// NewModerationClient creates a client from configuration.
func NewModerationClient(cfg config.ModerationConfig) *ModerationClient {
	return &ModerationClient{
		url:       cfg.URL,
		apiUser:   cfg.APIUser,
		apiSecret: cfg.APISecret,
		timeout:   cfg.Timeout.Duration,
		httpc:     &http.Client{},
	}
}

// checkResponse is the provider's score envelope.
type checkResponse struct {
	Status string `json:"status"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
	Nudity classify.Scores `json:"nudity"`
}

// Check submits an image for moderation and returns the raw nudity scores,
// unmodified, for the classifier. The call is canceled when the deadline
// expires or ctx is done.
func (c *ModerationClient) Check(ctx context.Context, in ModerationInput) (*classify.Scores, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if in.URL != "" {
		if err := form.WriteField("url", in.URL); err != nil {
			return nil, fmt.Errorf("build form: %w", err)
		}
	} else {
		part, err := form.CreateFormFile("media", in.Filename)
		if err != nil {
			return nil, fmt.Errorf("build form: %w", err)
		}
		if _, err := part.Write(in.Media); err != nil {
			return nil, fmt.Errorf("build form: %w", err)
		}
	}
	for k, v := range map[string]string{
		"models":     moderationModels,
		"api_user":   c.apiUser,
		"api_secret": c.apiSecret,
	} {
		if err := form.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("build form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatus(resp.StatusCode)
	}

	raw, err := readBody(resp.Body, maxScoresBytes)
	if err != nil {
		return nil, err
	}

	var out checkResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadUpstream, err)
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrBadUpstream, out.Error.Message)
	}

	return &out.Nudity, nil
}
