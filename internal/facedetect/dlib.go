//go:build dlib

package facedetect

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/kozaktomas/clone-finder/internal/database"
)

// DlibDetector runs dlib models in process. The recognizer is not safe for
// concurrent use, calls are serialized.
type DlibDetector struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

func newDlibDetector(modelsDir string) (Detector, error) {
	return NewDlibDetector(modelsDir)
}

// NewDlibDetector loads the models from modelsDir:
// shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat
// and mmod_human_face_detector.dat for cnn mode.
func NewDlibDetector(modelsDir string) (*DlibDetector, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	return &DlibDetector{rec: rec}, nil
}

// Detect returns the largest face of the image.
func (d *DlibDetector) Detect(ctx context.Context, imageData []byte, mode Mode) (*Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jpg, err := asJPEG(imageData)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	var faces []face.Face
	if mode == ModeCNN {
		faces, err = d.rec.RecognizeCNN(jpg)
	} else {
		faces, err = d.rec.Recognize(jpg)
	}
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, nil
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if area(f.Rectangle) > area(best.Rectangle) {
			best = f
		}
	}

	points := make([]database.Point, len(best.Shapes))
	for i, p := range best.Shapes {
		points[i] = database.Point{X: p.X, Y: p.Y}
	}
	r := best.Rectangle
	return &Detection{
		Box:       database.BoundingBox{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X},
		Landmarks: database.Landmarks{"shape": points},
		Embedding: best.Descriptor[:],
	}, nil
}

// Close releases the dlib models.
func (d *DlibDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
}

func area(r image.Rectangle) int { return r.Dx() * r.Dy() }

// asJPEG re-encodes non-JPEG input, dlib only reads JPEG here.
func asJPEG(data []byte) ([]byte, error) {
	if detectMIMEType(data) == "image/jpeg" {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
