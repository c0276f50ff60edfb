package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-occluder/internal/constants"
)

const (
	defaultServiceURL = "http://localhost:8000"
	defaultModel      = "face-recognition"
)

// Client computes face descriptors using the face embedding service.
type Client struct {
	baseURL      string
	model        string
	dim          int
	pollInterval time.Duration
	client       *http.Client
}

// NewClient creates a new face embedding client. dim is the expected
// descriptor length; 0 disables the check.
func NewClient(baseURL, model string, dim int) *Client {
	if baseURL == "" {
		baseURL = defaultServiceURL
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		model:        model,
		dim:          dim,
		pollInterval: constants.HealthPollInterval,
		client:       &http.Client{},
	}
}

// WithPollInterval sets how often LoadModels checks the health endpoint.
func (c *Client) WithPollInterval(d time.Duration) *Client {
	if d > 0 {
		c.pollInterval = d
	}
	return c
}

// healthResponse represents the response from the health endpoint
type healthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded bool   `json:"models_loaded"`
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Model returns the model name being used
func (c *Client) Model() string {
	return c.model
}

// LoadModels polls the health endpoint while the service reports its models
// as not loaded yet. An unreachable service or a failing health check is
// returned at once.
func (c *Client) LoadModels(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		err := c.checkHealth(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrModelsNotLoaded) {
			return fmt.Errorf("face service health check: %w", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for face models: %w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

func (c *Client) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var health healthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !health.ModelsLoaded {
		return ErrModelsNotLoaded
	}
	return nil
}

// postMultipartImage posts the image as a multipart form with an explicit
// Content-Type detected from magic bytes.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// DetectAll detects faces and computes their descriptors
func (c *Client) DetectAll(ctx context.Context, imageData []byte) ([]Face, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(faceResp.Faces))
	for _, f := range faceResp.Faces {
		if len(f.Embedding) == 0 {
			return nil, fmt.Errorf("face %d: empty embedding returned", f.FaceIndex)
		}
		if c.dim > 0 && len(f.Embedding) != c.dim {
			return nil, fmt.Errorf("face %d: got %d values, want %d: %w", f.FaceIndex, len(f.Embedding), c.dim, ErrDimensionMismatch)
		}
		faces = append(faces, Face{
			Index:      f.FaceIndex,
			Descriptor: Descriptor(f.Embedding),
			BBox:       f.BBox,
			Score:      f.DetScore,
		})
	}

	return faces, nil
}

// DetectSingle returns the most confident face in the image, or nil when none is found
func (c *Client) DetectSingle(ctx context.Context, imageData []byte) (*Face, error) {
	faces, err := c.DetectAll(ctx, imageData)
	if err != nil {
		return nil, err
	}
	return BestFace(faces), nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
