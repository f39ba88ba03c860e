package facedetect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/kozaktomas/clone-finder/internal/database"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const defaultDetectorURL = "http://localhost:8000"

// HTTPDetector delegates detection to a face embedding server.
type HTTPDetector struct {
	baseURL     string
	client      *http.Client
	maxImageDim int
}

// HTTPOption configures an HTTPDetector.
type HTTPOption func(*HTTPDetector)

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPDetector) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// WithMaxImageDim downsizes larger images before upload. Zero disables.
func WithMaxImageDim(n int) HTTPOption {
	return func(h *HTTPDetector) { h.maxImageDim = n }
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPDetector) {
		if c != nil {
			h.client = c
		}
	}
}

// NewHTTPDetector creates a detector talking to baseURL.
func NewHTTPDetector(baseURL string, opts ...HTTPOption) *HTTPDetector {
	if baseURL == "" {
		baseURL = defaultDetectorURL
	}
	h := &HTTPDetector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// faceDetection is one face of the server response.
type faceDetection struct {
	FaceIndex int                     `json:"face_index"`
	Dim       int                     `json:"dim"`
	Embedding []float32               `json:"embedding"`
	BBox      []float64               `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64                 `json:"det_score"`
	Landmarks map[string][][2]float64 `json:"landmarks,omitempty"`
}

// faceResponse is the body returned by /embed/face.
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Detect uploads the image and returns the highest-scoring face.
func (h *HTTPDetector) Detect(ctx context.Context, imageData []byte, mode Mode) (*Detection, error) {
	payload, scale, err := downscale(imageData, h.maxImageDim)
	if err != nil {
		return nil, err
	}

	body, err := h.postMultipartImage(ctx, "/embed/face?mode="+url.QueryEscape(string(mode)), payload)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	best := -1
	for i, f := range resp.Faces {
		if len(f.BBox) != 4 {
			continue
		}
		if best < 0 || f.DetScore > resp.Faces[best].DetScore {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}

	f := resp.Faces[best]
	if len(f.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return &Detection{
		Box:       boxFromXYXY(f.BBox, scale),
		Landmarks: scaleLandmarks(f.Landmarks, scale),
		Embedding: f.Embedding,
	}, nil
}

// postMultipartImage posts the image as the "file" form field.
func (h *HTTPDetector) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	hdr.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if rejectsInput(resp.StatusCode) {
		return nil, fmt.Errorf("%w: API rejected image (status %d): %s", ErrInvalidImage, resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// rejectsInput reports a 4xx that blames the upload rather than the server.
func rejectsInput(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

// downscale shrinks the image to fit within maxDim and returns the factor
// that maps coordinates of the uploaded image back to the original.
func downscale(data []byte, maxDim int) ([]byte, float64, error) {
	if maxDim <= 0 {
		return data, 1, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if cfg.Width <= maxDim && cfg.Height <= maxDim {
		return data, 1, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	bounds := img.Bounds()
	ratio := float64(maxDim) / float64(max(bounds.Dx(), bounds.Dy()))
	newWidth := max(1, int(float64(bounds.Dx())*ratio))
	newHeight := max(1, int(float64(bounds.Dy())*ratio))

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90}); err != nil {
		return nil, 0, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), 1 / ratio, nil
}

func boxFromXYXY(b []float64, scale float64) database.BoundingBox {
	px := func(v float64) int { return int(math.Round(v * scale)) }
	return database.BoundingBox{Left: px(b[0]), Top: px(b[1]), Right: px(b[2]), Bottom: px(b[3])}
}

func scaleLandmarks(in map[string][][2]float64, scale float64) database.Landmarks {
	if len(in) == 0 {
		return nil
	}
	out := make(database.Landmarks, len(in))
	for name, pts := range in {
		scaled := make([]database.Point, len(pts))
		for i, p := range pts {
			scaled[i] = database.Point{X: int(math.Round(p[0] * scale)), Y: int(math.Round(p[1] * scale))}
		}
		out[name] = scaled
	}
	return out
}

// detectMIMEType detects the MIME type from image magic bytes.
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38:
		return "image/gif"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	return "application/octet-stream"
}
