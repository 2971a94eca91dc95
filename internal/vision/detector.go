// Copyright 2024 The Attendly Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package vision provides the face-detection and classifier
// capabilities. Both are pluggable behind the narrow interfaces in
// internal/types, so this package's job is to adapt a real
// detection/classifier library to those interfaces, not to
// reimplement computer vision.
package vision

import (
	"image"
	"os"
	"sort"

	pigo "github.com/esimov/pigo"

	"github.com/attendly/facetrack/internal/apperror"
	"github.com/attendly/facetrack/internal/types"
)

// PigoDetector adapts github.com/esimov/pigo, a pure-Go (cgo-free)
// Pico-cascade face detector, to types.FaceDetector.
type PigoDetector struct {
	classifier  *pigo.Pigo
	minSize     int
	maxSize     int
	shiftFactor float32
	scaleFactor float32
	minQuality  float32
}

var _ types.FaceDetector = (*PigoDetector)(nil)

// NewPigoDetector loads the cascade file at cascadePath and returns a
// ready-to-use PigoDetector. Tuning parameters are fixed at
// construction so Detect itself takes only the image and returns
// candidate face rectangles.
func NewPigoDetector(cascadePath string) (*PigoDetector, error) {
	raw, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, apperror.New(apperror.DetectorUnavailable, err, "could not read cascade file %q", cascadePath)
	}
	classifier, err := pigo.NewPigo().Unpack(raw)
	if err != nil {
		return nil, apperror.New(apperror.DetectorUnavailable, err, "could not unpack cascade file %q", cascadePath)
	}
	return &PigoDetector{
		classifier:  classifier,
		minSize:     24,
		maxSize:     1000,
		shiftFactor: 0.1,
		scaleFactor: 1.1,
		minQuality:  5.0,
	}, nil
}

// Detect implements types.FaceDetector.
func (d *PigoDetector) Detect(gray *image.Gray) ([]image.Rectangle, error) {
	bounds := gray.Bounds()
	cParams := pigo.CascadeParams{
		MinSize:     d.minSize,
		MaxSize:     d.maxSize,
		ShiftFactor: d.shiftFactor,
		ScaleFactor: d.scaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: gray.Pix,
			Rows:   bounds.Dy(),
			Cols:   bounds.Dx(),
			Dim:    bounds.Dx(),
		},
	}

	dets := d.classifier.RunCascade(cParams, 0.0)
	dets = d.classifier.ClusterDetections(dets, 0.2)

	rects := make([]image.Rectangle, 0, len(dets))
	for _, det := range dets {
		if det.Q < d.minQuality {
			continue
		}
		half := det.Scale / 2
		rects = append(rects, image.Rect(
			det.Col-half, det.Row-half,
			det.Col+half, det.Row+half,
		).Intersect(bounds))
	}
	// Largest-area-first makes the "tie-break: first returned" rule
	// in the training pipeline deterministic without every caller
	// re-sorting.
	sort.SliceStable(rects, func(i, j int) bool {
		return area(rects[i]) > area(rects[j])
	})
	return rects, nil
}

func area(r image.Rectangle) int {
	d := r.Size()
	return d.X * d.Y
}
