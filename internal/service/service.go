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

// Package service exposes the attendance engine's command surface
// (§6) as the methods of a plain Go type, Service. An HTTP (or any other) transport layer
// is expected to sit in front of this package and translate each
// Service method to and from its own wire format; no transport
// concerns appear here.
package service

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/attendly/facetrack/internal/apperror"
	"github.com/attendly/facetrack/internal/recognition"
	"github.com/attendly/facetrack/internal/training"
	"github.com/attendly/facetrack/internal/types"
)

// AttendancePathInfo is the result of the attendance.path command.
type AttendancePathInfo struct {
	Path   string
	Exists bool
	Size   int64
	Mtime  time.Time
}

// Service implements the full command surface table from §6.
type Service struct {
	registry   types.Registry
	labels     types.LabelMap
	ledger     types.Ledger
	trainer    *training.Trainer
	controller *recognition.Controller
	external   types.ExternalRecognizer
	detector   types.FaceDetector
	classifier types.Classifier
}

// New returns a Service wired over the given collaborators. external,
// detector, and classifier back the one-shot recognize-image command
// independently of the recognition worker's own session state.
func New(
	registry types.Registry,
	labels types.LabelMap,
	ledger types.Ledger,
	trainer *training.Trainer,
	controller *recognition.Controller,
	external types.ExternalRecognizer,
	detector types.FaceDetector,
	classifier types.Classifier,
) *Service {
	return &Service{
		registry:   registry,
		labels:     labels,
		ledger:     ledger,
		trainer:    trainer,
		controller: controller,
		external:   external,
		detector:   detector,
		classifier: classifier,
	}
}

// Register implements the register command.
func (s *Service) Register(ctx context.Context, name, department string, imageBytes []byte, mimeType string) (types.Subject, error) {
	subject, err := s.registry.Register(ctx, name, department, imageBytes, mimeType)
	if err != nil {
		return types.Subject{}, err
	}
	if err := s.labels.Refresh(ctx); err != nil {
		log.WithError(err).Warn("label map refresh failed after register")
	}
	return subject, nil
}

// List implements the list command.
func (s *Service) List(ctx context.Context) ([]types.Subject, error) {
	return s.registry.List(ctx)
}

// Delete implements the delete command.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.registry.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.labels.Refresh(ctx); err != nil {
		log.WithError(err).Warn("label map refresh failed after delete")
	}
	return nil
}

// Train implements the train command.
func (s *Service) Train(ctx context.Context, mode training.Mode) (training.Result, error) {
	result, err := s.trainer.Train(ctx, mode)
	if err != nil {
		return training.Result{}, err
	}
	if result.Implementation == "native" {
		if err := s.classifier.Load(result.ModelPath); err != nil {
			log.WithError(err).Warn("could not reload classifier after training")
		}
	}
	return result, nil
}

// RecognitionStart implements the recognition.start command.
func (s *Service) RecognitionStart(ctx context.Context) (recognition.StartResult, error) {
	return s.controller.Start(ctx)
}

// RecognitionStop implements the recognition.stop command.
func (s *Service) RecognitionStop(ctx context.Context) (recognition.StopResult, error) {
	return s.controller.Stop(ctx)
}

// RecognitionStatus implements the recognition.status command.
func (s *Service) RecognitionStatus() (running bool, message string) {
	return s.controller.Status()
}

// RecognizeImage implements the recognize-image command: a one-shot
// detect+predict pass over a still image, independent of whether the
// recognition worker session is running. It prefers the external
// recognizer when one is configured and available, falling back to
// the native detector/classifier pair otherwise.
func (s *Service) RecognizeImage(ctx context.Context, imageBytes []byte) ([]types.RecognizedFace, error) {
	if s.external != nil && s.external.Available(ctx) {
		tmp, err := os.CreateTemp("", "facetrack-recognize-*.jpg")
		if err != nil {
			return nil, apperror.New(apperror.External, err, "could not stage image for external recognizer")
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(imageBytes); err != nil {
			tmp.Close()
			return nil, apperror.New(apperror.External, err, "could not write staged image")
		}
		if err := tmp.Close(); err != nil {
			return nil, apperror.New(apperror.External, err, "could not close staged image")
		}
		return s.external.Recognize(ctx, tmp.Name())
	}
	return s.recognizeNative(imageBytes)
}

func (s *Service) recognizeNative(imageBytes []byte) ([]types.RecognizedFace, error) {
	if s.detector == nil {
		return nil, apperror.New(apperror.DetectorUnavailable, nil, "no face detector available and no external recognizer is configured")
	}
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, apperror.New(apperror.Validation, err, "could not decode image")
	}
	gray := toGray(img)
	rects, err := s.detector.Detect(gray)
	if err != nil {
		return nil, err
	}

	out := make([]types.RecognizedFace, 0, len(rects))
	for _, rect := range rects {
		crop := gray.SubImage(rect).(*image.Gray)
		pred, err := s.classifier.Predict(crop)
		if err != nil {
			out = append(out, types.RecognizedFace{Rect: rect, Recognized: false, Name: "Unknown"})
			continue
		}
		entry, known := s.labels.Lookup(pred.LabelID)
		if !known {
			out = append(out, types.RecognizedFace{Rect: rect, Recognized: false, Name: "Unknown", Distance: pred.Distance})
			continue
		}
		out = append(out, types.RecognizedFace{
			Rect:       rect,
			Recognized: true,
			Name:       entry.Name,
			Department: entry.Department,
			Distance:   pred.Distance,
		})
	}
	return out, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	gray := image.NewGray(img.Bounds())
	draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
	return gray
}

// AttendancePath implements the attendance.path command.
func (s *Service) AttendancePath(ctx context.Context) (AttendancePathInfo, error) {
	path := s.ledger.Path()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return AttendancePathInfo{Path: path, Exists: false}, nil
	}
	if err != nil {
		return AttendancePathInfo{}, apperror.New(apperror.Storage, err, "could not stat ledger %q", path)
	}
	return AttendancePathInfo{Path: path, Exists: true, Size: info.Size(), Mtime: info.ModTime()}, nil
}
