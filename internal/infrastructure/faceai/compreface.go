// Package faceai implements repository.FaceRecognizer against a
// CompreFace-compatible recognition service.
package faceai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hszk-dev/photoflow/internal/domain/model"
	"github.com/hszk-dev/photoflow/internal/domain/repository"
)

// noFaceMessage is the service's verbatim "no face" error message. The
// service reports it as a 400, but it is a valid classification outcome.
const noFaceMessage = "No face is found in the given image"

// ClientConfig holds configuration for the CompreFace client.
type ClientConfig struct {
	// BaseURL is the service root (e.g. http://localhost:8000).
	BaseURL string
	// APIKey is the recognition service API key.
	APIKey string
	// DetectionThreshold is passed to the service as det_prob_threshold.
	// Boxes below it are not returned at all; the finer per-face cutoff is
	// applied by the classification rules.
	DetectionThreshold float64
	// Timeout bounds each HTTP call.
	Timeout time.Duration
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig(baseURL, apiKey string) ClientConfig {
	return ClientConfig{
		BaseURL:            baseURL,
		APIKey:             apiKey,
		DetectionThreshold: 0.8,
		Timeout:            30 * time.Second,
	}
}

// Client talks to a CompreFace-compatible HTTP API.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// Compile-time verification that Client implements repository.FaceRecognizer.
var _ repository.FaceRecognizer = (*Client)(nil)

// NewClient creates a new CompreFace client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type recognizeResponse struct {
	Result []struct {
		Box struct {
			Probability float64 `json:"probability"`
		} `json:"box"`
		Subjects []struct {
			Subject    string  `json:"subject"`
			Similarity float64 `json:"similarity"`
		} `json:"subjects"`
	} `json:"result"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Recognize detects faces in the image stream.
// A service-side "no face" response is reported as repository.ErrNoFace.
func (c *Client) Recognize(ctx context.Context, image io.Reader) ([]model.Face, error) {
	endpoint := fmt.Sprintf("%s/api/v1/recognition/recognize?%s", c.config.BaseURL, url.Values{
		"limit":              {"0"},
		"det_prob_threshold": {fmt.Sprintf("%g", c.config.DetectionThreshold)},
		"prediction_count":   {"1"},
	}.Encode())

	resp, err := c.postMultipart(ctx, endpoint, image)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read recognize response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && strings.Contains(apiErr.Message, noFaceMessage) {
			return nil, repository.ErrNoFace
		}
		return nil, fmt.Errorf("recognize failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed recognizeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode recognize response: %w", err)
	}

	faces := make([]model.Face, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		face := model.Face{Probability: r.Box.Probability}
		for _, s := range r.Subjects {
			face.Subjects = append(face.Subjects, model.SubjectMatch{
				Subject:    s.Subject,
				Similarity: s.Similarity,
			})
		}
		faces = append(faces, face)
	}
	return faces, nil
}

// AddSubject registers a new subject with the recognition service.
func (c *Client) AddSubject(ctx context.Context, subject string) error {
	payload, err := json.Marshal(map[string]string{"subject": subject})
	if err != nil {
		return fmt.Errorf("failed to marshal subject: %w", err)
	}

	endpoint := c.config.BaseURL + "/api/v1/recognition/subjects"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("add subject request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("add subject failed: status %d", resp.StatusCode)
	}
	return nil
}

// AddFace adds an example image of subject to the face collection.
func (c *Client) AddFace(ctx context.Context, image io.Reader, subject string) error {
	endpoint := fmt.Sprintf("%s/api/v1/recognition/faces?subject=%s",
		c.config.BaseURL, url.QueryEscape(subject))

	resp, err := c.postMultipart(ctx, endpoint, image)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("add face failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// ListSubjects returns all registered subjects.
func (c *Client) ListSubjects(ctx context.Context) ([]string, error) {
	endpoint := c.config.BaseURL + "/api/v1/recognition/subjects"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("x-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list subjects request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list subjects failed: status %d", resp.StatusCode)
	}

	var parsed struct {
		Subjects []string `json:"subjects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode subjects response: %w", err)
	}
	return parsed.Subjects, nil
}

// postMultipart uploads an image stream as the "file" part of a multipart
// POST. The body is buffered so the request carries a correct length; the
// pipeline only ever sends compressed variants or thumbnails here.
func (c *Client) postMultipart(ctx context.Context, endpoint string, image io.Reader) (*http.Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("failed to copy image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
