// Package facedetect locates a face in an image and computes its encoding.
package facedetect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/clone-finder/internal/config"
	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/metrics"
)

// Mode selects the detection model.
type Mode string

const (
	ModeHOG Mode = "hog" // fast
	ModeCNN Mode = "cnn" // accurate, slower
)

// ParseMode parses a mode name; empty means hog.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hog":
		return ModeHOG, nil
	case "cnn":
		return ModeCNN, nil
	default:
		return "", fmt.Errorf("unknown detection mode %q (want hog or cnn)", s)
	}
}

// ErrInvalidImage marks input the detector cannot read.
var ErrInvalidImage = errors.New("invalid image")

// Detection is the single face found in an image.
type Detection struct {
	Box       database.BoundingBox
	Landmarks database.Landmarks
	Embedding []float32
}

// Detector finds the dominant face of an image. It returns (nil, nil) when the
// image contains no face; an error means the detector itself failed.
type Detector interface {
	Detect(ctx context.Context, image []byte, mode Mode) (*Detection, error)
}

// New creates the detector selected by cfg.Backend.
func New(cfg config.DetectorConfig) (Detector, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "http":
		return NewHTTPDetector(cfg.URL,
			WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second),
			WithMaxImageDim(cfg.MaxImageDim)), nil
	case "dlib":
		return newDlibDetector(cfg.ModelsDir)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}

type instrumented struct {
	next    Detector
	metrics *metrics.Metrics
}

// Instrument records the outcome and latency of every call on m.
func Instrument(d Detector, m *metrics.Metrics) Detector {
	if m == nil {
		return d
	}
	return &instrumented{next: d, metrics: m}
}

func (i *instrumented) Detect(ctx context.Context, image []byte, mode Mode) (*Detection, error) {
	start := time.Now()
	det, err := i.next.Detect(ctx, image, mode)

	result := "found"
	switch {
	case err != nil:
		result = "error"
	case det == nil:
		result = "none"
	}
	i.metrics.RecordDetection(string(mode), result, time.Since(start).Seconds())
	return det, err
}
