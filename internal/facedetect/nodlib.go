//go:build !dlib

package facedetect

import "errors"

func newDlibDetector(string) (Detector, error) {
	return nil, errors.New("dlib detector not compiled in, rebuild with -tags dlib")
}
