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

// Package recognition implements the recognition worker and its
// lifecycle controller: a single-instance Idle/Starting/
// Running/Stopping state machine driving frame acquisition, face
// detection, classification, confidence gating, and attendance
// emission.
package recognition

import (
	"context"
	"image"
	"image/draw"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/attendly/facetrack/internal/metrics"
	"github.com/attendly/facetrack/internal/types"
	"github.com/attendly/facetrack/internal/util/notify"
	"github.com/attendly/facetrack/internal/util/stopper"
	"github.com/attendly/facetrack/internal/vision"
)

// State is one point in the worker's state machine.
type State int

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Status is the value published through the worker's notify.Var and
// returned by Controller.Status.
type Status struct {
	State   State
	Message string // set on a Starting->Idle init-fail transition
}

// Deps bundles the collaborators the worker composes. All fields are
// required.
type Deps struct {
	Labels     types.LabelMap
	Ledger     types.Ledger
	Detector   types.FaceDetector
	Classifier types.Classifier
	Frames     types.FrameSource

	ConfidenceThreshold float64
	CameraIndex         int
	FrameBackoff        time.Duration
	FrameInterval       time.Duration
}

// worker runs one recognition session on its own goroutine. A new
// worker is constructed for every Controller.Start call; nothing
// about it is reused across sessions.
type worker struct {
	deps      Deps
	sessionID string
	log       *log.Entry

	status *notify.Var[Status]
	marked map[string]struct{}

	lastFrame image.Image // most recent decoded frame
}

func newWorker(deps Deps, status *notify.Var[Status]) *worker {
	sessionID := uuid.NewString()
	return &worker{
		deps:      deps,
		sessionID: sessionID,
		log:       log.WithField("session", sessionID),
		status:    status,
		marked:    map[string]struct{}{},
	}
}

// run executes the full start sequence followed by the per-frame loop
// until sc is stopped or a fatal error occurs. run always calls
// sc.Done() exactly once before returning, per the stopper contract.
func (w *worker) run(sc *stopper.Context) {
	defer sc.Done()

	if err := w.start(sc); err != nil {
		w.log.WithError(err).Warn("recognition worker failed to start")
		w.status.Set(Status{State: Idle, Message: err.Error()})
		return
	}
	w.log.Info("recognition session starting")

	w.status.Set(Status{State: Running})
	metrics.WorkerStateTransitions.WithLabelValues(Running.String()).Inc()

	w.loop(sc)

	w.status.Set(Status{State: Stopping})
	metrics.WorkerStateTransitions.WithLabelValues(Stopping.String()).Inc()
	if err := w.deps.Frames.Close(); err != nil {
		w.log.WithError(err).Warn("error releasing frame source on stop")
	}
	w.status.Set(Status{State: Idle})
	metrics.WorkerStateTransitions.WithLabelValues(Idle.String()).Inc()
	w.log.Info("recognition session stopped")
}

// start runs the worker's startup sequence. Model resolution and
// detector/classifier loading are the caller's responsibility via
// Deps -- Detector and Classifier arrive already loaded, so this only
// has to open the camera and refresh state.
func (w *worker) start(sc *stopper.Context) error {
	if err := w.deps.Frames.Open(sc, w.deps.CameraIndex); err != nil {
		return err
	}
	if err := w.deps.Labels.Refresh(sc); err != nil {
		w.deps.Frames.Close()
		return err
	}
	marked, err := w.deps.Ledger.MarkedToday(sc)
	if err != nil {
		w.deps.Frames.Close()
		return err
	}
	w.marked = marked
	return nil
}

// loop runs the per-frame recognition cycle until sc is stopped.
func (w *worker) loop(sc *stopper.Context) {
	for {
		select {
		case <-sc.Stopping():
			return
		default:
		}

		start := time.Now()
		frame, ok, err := w.deps.Frames.Grab(sc)
		if err != nil {
			w.log.WithError(err).Error("fatal error grabbing frame; stopping recognition")
			return
		}
		if !ok {
			select {
			case <-time.After(w.deps.FrameBackoff):
			case <-sc.Stopping():
				return
			}
			continue
		}

		w.lastFrame = frame.Image
		w.processFrame(sc, frame.Image)
		metrics.RecognitionFrameDuration.Observe(time.Since(start).Seconds())

		select {
		case <-time.After(w.deps.FrameInterval):
		case <-sc.Stopping():
			return
		}
	}
}

// processFrame runs one frame through greyscale conversion, face
// detection, per-face prediction, the confidence gate, and attendance
// emission.
func (w *worker) processFrame(ctx context.Context, img image.Image) {
	gray := toGray(img)
	rects, err := w.deps.Detector.Detect(gray)
	if err != nil {
		w.log.WithError(err).Warn("face detection failed on a frame; skipping")
		return
	}

	for _, rect := range rects {
		crop := vision.Resize(gray.SubImage(rect).(*image.Gray))
		pred, err := w.deps.Classifier.Predict(crop)
		if err != nil {
			w.log.WithError(err).Warn("classifier predict failed on a face; treating as unknown")
			metrics.RecognitionFacesTotal.WithLabelValues("unknown").Inc()
			continue
		}

		entry, known := w.deps.Labels.Lookup(pred.LabelID)
		accepted := known && pred.Distance < w.deps.ConfidenceThreshold
		if !accepted {
			metrics.RecognitionFacesTotal.WithLabelValues("unknown").Inc()
			continue
		}
		metrics.RecognitionFacesTotal.WithLabelValues("accepted").Inc()

		if _, already := w.marked[entry.Name]; already {
			continue
		}
		_, err = w.deps.Ledger.MarkAttendance(ctx, entry.Name, entry.Department, types.StatusPresent)
		if err != nil {
			w.log.WithError(err).WithField("name", entry.Name).Warn("attendance write failed")
		}
		// The advisory set gains the name regardless of write outcome, to
		// prevent immediate retry storms; the ledger remains authoritative
		// either way.
		w.marked[entry.Name] = struct{}{}
	}
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	gray := image.NewGray(img.Bounds())
	draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
	return gray
}
