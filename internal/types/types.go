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

// Package types contains the data types and collaborator interfaces
// that define the major functional blocks of the attendance engine.
// Keeping them in one leaf package -- with no dependency on any
// concrete implementation -- is what lets the registry, the ledger,
// the vision capabilities, and the recognition worker be wired
// together (and substituted in tests) without import cycles.
package types

import (
	"context"
	"image"
	"time"
)

// Subject is an enrolled person with a reference face image and a
// classifier label.
type Subject struct {
	ID         int64
	Name       string
	Department string
	ImagePath  string
	LabelID    int
	CreatedAt  time.Time
}

// Registry is the subject registry contract.
type Registry interface {
	// Register validates, persists the reference image, assigns the
	// next label id, and inserts the subject row.
	Register(ctx context.Context, name, department string, image []byte, mimeType string) (Subject, error)
	// List returns every subject in insertion order.
	List(ctx context.Context) ([]Subject, error)
	// FindByName returns the subject with the given name, or a
	// NotFound apperror.
	FindByName(ctx context.Context, name string) (Subject, error)
	// FindByLabel returns the subject with the given label id, or a
	// NotFound apperror.
	FindByLabel(ctx context.Context, labelID int) (Subject, error)
	// Delete removes the subject row and its image artifact.
	Delete(ctx context.Context, id int64) error
}

// LabelEntry is one projection row of the label map.
type LabelEntry struct {
	Name       string
	Department string
}

// LabelMap is a read-mostly labelId -> (name, department) projection
// of the registry, rebuilt at the start of each recognition session.
type LabelMap interface {
	// Refresh rebuilds the map from the registry's current contents.
	Refresh(ctx context.Context) error
	// Lookup returns the entry for labelID and whether it was found.
	Lookup(labelID int) (LabelEntry, bool)
	// Len reports how many labels are currently mapped.
	Len() int
}

// AttendanceStatus is the fixed status string written to the ledger.
// Only one status value exists today ("Present"); the type exists so a
// future caller cannot pass an arbitrary string into the sheet.
type AttendanceStatus string

// StatusPresent is the only status value emitted by the recognition
// worker today.
const StatusPresent AttendanceStatus = "Present"

// Ledger is the attendance ledger contract.
type Ledger interface {
	// MarkAttendance appends one row for (name, today) unless one
	// already exists, in which case it returns (false, nil).
	MarkAttendance(ctx context.Context, name, department string, status AttendanceStatus) (wrote bool, err error)
	// MarkedToday returns the set of names with a record dated today.
	MarkedToday(ctx context.Context) (map[string]struct{}, error)
	// Path returns the absolute path to the ledger artifact.
	Path() string
}

// FaceDetector is the face-detection capability. The specific
// cascade/classifier math behind an implementation is a capability
// dependency, not part of this engine's contract.
type FaceDetector interface {
	// Detect returns candidate face rectangles within a greyscale
	// image. "Largest face first" is NOT guaranteed by this
	// interface; callers that need that need it must compute it
	// themselves.
	Detect(gray *image.Gray) ([]image.Rectangle, error)
}

// Prediction is the result of a classifier's Predict call.
type Prediction struct {
	LabelID  int
	Distance float64
}

// TrainingSample pairs a normalized greyscale face crop with the
// label id it should train the classifier to recognize.
type TrainingSample struct {
	Crop    *image.Gray
	LabelID int
}

// Classifier is the classifier capability.
type Classifier interface {
	// Train builds a model from the given samples and persists it to
	// modelPath.
	Train(samples []TrainingSample, modelPath string) error
	// Load reads a previously trained model from modelPath.
	Load(modelPath string) error
	// Predict returns the best matching label and its distance for a
	// normalized greyscale crop. Smaller distance is a better match.
	Predict(crop *image.Gray) (Prediction, error)
}

// Frame is one greyscale-convertible capture from a FrameSource.
type Frame struct {
	Image image.Image
}

// FrameSource is the abstracted video frame producer.
type FrameSource interface {
	// Open acquires the underlying device exclusively.
	Open(ctx context.Context, deviceIndex int) error
	// Grab returns the next frame, or ok=false if none is currently
	// available (a transient condition the caller should back off
	// and retry, not an error).
	Grab(ctx context.Context) (frame Frame, ok bool, err error)
	// Close releases the device. Close must be idempotent.
	Close() error
}

// RecognizedFace is one face observed in a frame together with its
// classification outcome.
type RecognizedFace struct {
	Rect       image.Rectangle
	Recognized bool
	Name       string // "Unknown" when !Recognized
	Department string
	Distance   float64
}

// ExternalRecognizer is the external recognizer subprocess bridge
//: an optional, higher-accuracy alternative to the native
// Classifier, speaking the same train/recognize contract over a
// subprocess instead of in-process.
type ExternalRecognizer interface {
	// Available reports whether the external recognizer executable
	// could be located and responds to a version probe.
	Available(ctx context.Context) bool
	// Train invokes the subprocess's train verb over the given
	// subjects and returns how many were actually trained.
	Train(ctx context.Context, subjects []Subject) (trainedCount int, err error)
	// Recognize invokes the subprocess's recognize verb against the
	// image at imagePath.
	Recognize(ctx context.Context, imagePath string) ([]RecognizedFace, error)
}
