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

package vision

import (
	"image"
	"math"
	"os"
	"sync"

	"golang.org/x/image/draw"
	"gopkg.in/yaml.v3"

	"github.com/attendly/facetrack/internal/apperror"
	"github.com/attendly/facetrack/internal/types"
)

// CropSide is the fixed width/height every face crop is resized to
// before it reaches either the training pipeline or the classifier.
const CropSide = 200

// CentroidClassifier is a nearest-centroid classifier over normalized
// greyscale pixel vectors: training averages every sample assigned to
// a label into one centroid vector, and Predict reports the Euclidean
// distance (smaller is a better match) to the nearest centroid. No
// pure-Go LBPH-equivalent library was available, so a transparent,
// serializable, from-scratch classifier takes its place.
type CentroidClassifier struct {
	mu        sync.RWMutex
	centroids map[int][]float64
}

var _ types.Classifier = (*CentroidClassifier)(nil)

// NewCentroidClassifier returns an untrained classifier. Call Train or
// Load before Predict.
func NewCentroidClassifier() *CentroidClassifier {
	return &CentroidClassifier{centroids: map[int][]float64{}}
}

// modelFile is the on-disk shape persisted at modelPath by Train and
// read back by Load.
type modelFile struct {
	Side      int               `yaml:"side"`
	Centroids map[int][]float64 `yaml:"centroids"`
}

// Train implements types.Classifier.
func (c *CentroidClassifier) Train(samples []types.TrainingSample, modelPath string) error {
	if len(samples) == 0 {
		return apperror.New(apperror.Validation, nil, "cannot train classifier on zero samples")
	}

	sums := map[int][]float64{}
	counts := map[int]int{}
	for _, s := range samples {
		vec := normalize(s.Crop)
		sum, ok := sums[s.LabelID]
		if !ok {
			sum = make([]float64, len(vec))
		}
		for i, v := range vec {
			sum[i] += v
		}
		sums[s.LabelID] = sum
		counts[s.LabelID]++
	}

	centroids := make(map[int][]float64, len(sums))
	for label, sum := range sums {
		n := float64(counts[label])
		avg := make([]float64, len(sum))
		for i, v := range sum {
			avg[i] = v / n
		}
		centroids[label] = avg
	}

	c.mu.Lock()
	c.centroids = centroids
	c.mu.Unlock()

	return c.persist(centroids, modelPath)
}

// Load implements types.Classifier.
func (c *CentroidClassifier) Load(modelPath string) error {
	raw, err := os.ReadFile(modelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return apperror.New(apperror.ModelNotFound, err, "no trained model at %q", modelPath)
		}
		return apperror.New(apperror.ModelLoad, err, "could not read model %q", modelPath)
	}
	var mf modelFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return apperror.New(apperror.ModelLoad, err, "could not parse model %q", modelPath)
	}
	if mf.Centroids == nil {
		return apperror.New(apperror.ModelLoad, nil, "model %q has no trained labels", modelPath)
	}
	c.mu.Lock()
	c.centroids = mf.Centroids
	c.mu.Unlock()
	return nil
}

func (c *CentroidClassifier) persist(centroids map[int][]float64, modelPath string) error {
	mf := modelFile{Side: CropSide, Centroids: centroids}
	out, err := yaml.Marshal(mf)
	if err != nil {
		return apperror.New(apperror.Storage, err, "could not serialize trained model")
	}
	if err := os.WriteFile(modelPath, out, 0o644); err != nil {
		return apperror.New(apperror.Storage, err, "could not write trained model to %q", modelPath)
	}
	return nil
}

// Predict implements types.Classifier.
func (c *CentroidClassifier) Predict(crop *image.Gray) (types.Prediction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.centroids) == 0 {
		return types.Prediction{}, apperror.New(apperror.ModelNotFound, nil, "classifier has no trained labels")
	}
	vec := normalize(crop)

	bestLabel := 0
	bestDist := -1.0
	for label, centroid := range c.centroids {
		d := euclidean(vec, centroid)
		if bestDist < 0 || d < bestDist {
			bestDist = d
			bestLabel = label
		}
	}
	return types.Prediction{LabelID: bestLabel, Distance: bestDist}, nil
}

// Resize scales crop to CropSide x CropSide via golang.org/x/image/draw's
// Catmull-Rom scaler. Both the training pipeline and the recognition
// worker call this before handing a crop to the classifier, so a
// crop arriving at Train/Predict is always already normalized; the
// classifier itself resizes again defensively in case a caller (or a
// future classifier implementation) skips that step.
func Resize(crop *image.Gray) *image.Gray {
	if b := crop.Bounds(); b.Dx() == CropSide && b.Dy() == CropSide {
		return crop
	}
	dst := image.NewGray(image.Rect(0, 0, CropSide, CropSide))
	draw.CatmullRom.Scale(dst, dst.Bounds(), crop, crop.Bounds(), draw.Over, nil)
	return dst
}

// normalize resizes crop to CropSide x CropSide and flattens it to a
// float64 pixel vector in [0, 1].
func normalize(crop *image.Gray) []float64 {
	dst := Resize(crop)
	vec := make([]float64, CropSide*CropSide)
	for i, px := range dst.Pix {
		vec[i] = float64(px) / 255.0
	}
	return vec
}

func euclidean(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
