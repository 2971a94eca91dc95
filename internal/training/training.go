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

// Package training implements the training pipeline: walk the
// registry's reference images, detect and crop the face in each, and
// fit the classifier over the resulting samples.
package training

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/attendly/facetrack/internal/apperror"
	"github.com/attendly/facetrack/internal/types"
	"github.com/attendly/facetrack/internal/vision"
)

// Mode selects which implementation trains the classifier.
type Mode string

const (
	// ModeAuto prefers the external recognizer when available, and
	// falls back to the native classifier otherwise.
	ModeAuto Mode = "auto"
	// ModeNative always trains the in-process classifier.
	ModeNative Mode = "native"
	// ModeExternal requires the external recognizer subprocess; Train
	// fails with External if it is unavailable.
	ModeExternal Mode = "external"
)

// Result summarizes one Train run.
type Result struct {
	SamplesTrained int
	SkippedNoFace  []string
	Implementation string // "native" or "external"
	ModelPath      string
	LabelNamesPath string
}

// Trainer ties the registry, detector, classifier, and optional
// external recognizer together into the training pipeline.
type Trainer struct {
	registry   types.Registry
	detector   types.FaceDetector
	classifier types.Classifier
	external   types.ExternalRecognizer // may be nil

	modelPath      string
	labelNamesPath string
}

// New returns a Trainer. modelPath and labelNamesPath are the on-disk
// artifacts a native Train run produces. external may be nil if no
// external recognizer subprocess is configured.
func New(registry types.Registry, detector types.FaceDetector, classifier types.Classifier, external types.ExternalRecognizer, modelPath, labelNamesPath string) *Trainer {
	return &Trainer{
		registry:       registry,
		detector:       detector,
		classifier:     classifier,
		external:       external,
		modelPath:      modelPath,
		labelNamesPath: labelNamesPath,
	}
}

// Train resolves mode to a concrete implementation and trains it over
// every enrolled subject's reference image.
func (t *Trainer) Train(ctx context.Context, mode Mode) (Result, error) {
	subjects, err := t.registry.List(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(subjects) == 0 {
		return Result{}, apperror.New(apperror.Precondition, nil, "no enrolled subjects to train on")
	}

	useExternal, err := t.resolveImplementation(ctx, mode)
	if err != nil {
		return Result{}, err
	}
	if useExternal {
		return t.trainExternal(ctx, subjects)
	}
	return t.trainNative(ctx, subjects)
}

// resolveImplementation decides which backend trains the model:
// external requires a one-time availability probe; native is always
// available; auto prefers external when it answers the probe.
func (t *Trainer) resolveImplementation(ctx context.Context, mode Mode) (useExternal bool, err error) {
	switch mode {
	case ModeNative, "":
		return false, nil
	case ModeExternal:
		if t.external == nil || !t.external.Available(ctx) {
			return false, apperror.New(apperror.External, nil, "external recognizer is not available")
		}
		return true, nil
	case ModeAuto:
		return t.external != nil && t.external.Available(ctx), nil
	default:
		return false, apperror.New(apperror.Validation, nil, "unknown training mode %q", mode)
	}
}

// trainNative walks every enrolled subject, detects and crops the
// largest face in its reference image, and fits the classifier over
// the resulting samples. A subject whose reference image yields no
// detected face is skipped, logged, and reported in Result rather than
// failing the whole run -- one bad enrollment photo should not block
// everyone else's training.
func (t *Trainer) trainNative(ctx context.Context, subjects []types.Subject) (Result, error) {
	if t.detector == nil {
		return Result{}, apperror.New(apperror.DetectorUnavailable, nil, "no face detector available for native training")
	}
	var samples []types.TrainingSample
	var skipped []string
	for _, s := range subjects {
		crop, err := t.cropLargestFace(s.ImagePath)
		if err != nil {
			log.WithError(err).WithField("subject", s.Name).Warn("skipping subject with no detected face")
			skipped = append(skipped, s.Name)
			continue
		}
		samples = append(samples, types.TrainingSample{Crop: crop, LabelID: s.LabelID})
	}
	if len(samples) == 0 {
		return Result{}, apperror.New(apperror.Training, nil, "no usable face crops across %d subjects", len(subjects))
	}

	if err := t.classifier.Train(samples, t.modelPath); err != nil {
		return Result{}, err
	}
	if err := writeLabelNames(t.labelNamesPath, subjects); err != nil {
		return Result{}, err
	}

	return Result{
		SamplesTrained: len(samples),
		SkippedNoFace:  skipped,
		Implementation: "native",
		ModelPath:      t.modelPath,
		LabelNamesPath: t.labelNamesPath,
	}, nil
}

// trainExternal delegates training to the external recognizer
// subprocess; the subprocess owns its own model artifact, so only
// label_names.txt is produced here for legacy consumers.
func (t *Trainer) trainExternal(ctx context.Context, subjects []types.Subject) (Result, error) {
	trainedCount, err := t.external.Train(ctx, subjects)
	if err != nil {
		return Result{}, err
	}
	if trainedCount == 0 {
		return Result{}, apperror.New(apperror.Training, nil, "external recognizer trained zero subjects")
	}
	if err := writeLabelNames(t.labelNamesPath, subjects); err != nil {
		return Result{}, err
	}
	return Result{
		SamplesTrained: trainedCount,
		Implementation: "external",
		LabelNamesPath: t.labelNamesPath,
	}, nil
}

// cropLargestFace opens path, detects faces, and returns the largest
// one converted to greyscale.
func (t *Trainer) cropLargestFace(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperror.New(apperror.Storage, err, "could not open reference image %q", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, apperror.New(apperror.Corruption, err, "could not decode reference image %q", path)
	}

	gray := toGray(img)
	rects, err := t.detector.Detect(gray)
	if err != nil {
		return nil, err
	}
	if len(rects) == 0 {
		return nil, apperror.New(apperror.Precondition, nil, "no face detected in %q", path)
	}

	// Detectors are not required to order results; pick the largest
	// rectangle explicitly rather than relying on index 0 (ties keep
	// the first-seen candidate).
	best := rects[0]
	bestArea := area(best)
	for _, r := range rects[1:] {
		if a := area(r); a > bestArea {
			best, bestArea = r, a
		}
	}
	return vision.Resize(gray.SubImage(best).(*image.Gray)), nil
}

func area(r image.Rectangle) int {
	d := r.Size()
	return d.X * d.Y
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	gray := image.NewGray(img.Bounds())
	draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
	return gray
}

// writeLabelNames persists the labelId -> name projection as a
// line-oriented "labelId=name" artifact for legacy consumers,
// sorted by label id so the file is stable across runs over the same
// enrollment set.
func writeLabelNames(path string, subjects []types.Subject) error {
	sorted := append([]types.Subject(nil), subjects...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LabelID < sorted[j].LabelID })

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return apperror.New(apperror.Storage, err, "could not create temp label names file")
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, s := range sorted {
		if _, err := fmt.Fprintf(w, "%d=%s\n", s.LabelID, s.Name); err != nil {
			tmp.Close()
			return apperror.New(apperror.Storage, err, "could not write label names file")
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return apperror.New(apperror.Storage, err, "could not flush label names file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperror.New(apperror.Storage, err, "could not fsync label names file")
	}
	if err := tmp.Close(); err != nil {
		return apperror.New(apperror.Storage, err, "could not close label names file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperror.New(apperror.Storage, err, "could not publish label names file")
	}
	cleanup = false
	return nil
}
