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

package recognition

import (
	"context"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/attendly/facetrack/internal/apperror"
	"github.com/attendly/facetrack/internal/types"
	"github.com/attendly/facetrack/internal/util/notify"
	"github.com/attendly/facetrack/internal/util/singleton"
	"github.com/attendly/facetrack/internal/util/stopper"
)

// StartResult is returned by Controller.Start.
type StartResult struct {
	Started bool
	Running bool
}

// StopResult is returned by Controller.Stop.
type StopResult struct {
	Stopped bool
}

// ModelResolver locates the classifier artifact before a session
// starts: it probes an ordered list of candidate
// directories and loads the detector cascade and classifier.
type ModelResolver struct {
	SearchPath    []string
	ModelFileName string
	CascadePath   string

	NewDetector func(cascadePath string) (types.FaceDetector, error)
}

// resolve returns a freshly loaded detector after loading classifier
// in place from the model artifact, or a
// ModelNotFound/DetectorUnavailable/ModelLoad apperror.
func (m *ModelResolver) resolve(classifier types.Classifier) (types.FaceDetector, error) {
	var modelPath string
	for _, dir := range m.SearchPath {
		candidate := dir + m.ModelFileName
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			modelPath = candidate
			break
		}
	}
	if modelPath == "" {
		return nil, apperror.New(apperror.ModelNotFound, nil, "trained model %q not found in %v", m.ModelFileName, m.SearchPath)
	}

	detector, err := m.NewDetector(m.CascadePath)
	if err != nil {
		return nil, err
	}
	if err := classifier.Load(modelPath); err != nil {
		return nil, err
	}
	return detector, nil
}

// Controller is the lifecycle controller: it serializes
// Start/Stop against a single recognition worker and exposes a
// lock-free Status read.
type Controller struct {
	mu sync.Mutex

	resolver   *ModelResolver
	classifier types.Classifier
	newDeps    func(detector types.FaceDetector) Deps

	startDeadline time.Duration
	stopDeadline  time.Duration

	guard  singleton.Guard
	status *notify.Var[Status]
	sc     *stopper.Context // non-nil only while a session is active
	token  *singleton.Token
}

// NewController returns an idle Controller. newDeps builds the
// per-session Deps bundle once a detector has been resolved;
// classifier is shared and reloaded at the start of each session.
func NewController(resolver *ModelResolver, classifier types.Classifier, newDeps func(detector types.FaceDetector) Deps, startDeadline, stopDeadline time.Duration) *Controller {
	return &Controller{
		resolver:      resolver,
		classifier:    classifier,
		newDeps:       newDeps,
		startDeadline: startDeadline,
		stopDeadline:  stopDeadline,
		status:        notify.New(Status{State: Idle}),
	}
}

// Start resolves the trained model and detector, then launches a
// worker goroutine and waits for it to publish Running.
func (c *Controller) Start(ctx context.Context) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.Get().State != Idle {
		return StartResult{Started: false, Running: true}, apperror.New(apperror.AlreadyRunning, nil, "recognition worker is already running")
	}

	if c.sc != nil {
		// The previous session's worker published Idle on its own (a
		// start failure or a fatal grab error). Once it has joined, its
		// token and stopper are released so a new session can start.
		if err := c.sc.Wait(c.stopDeadline); err == nil {
			c.token.Release()
			c.token = nil
			c.sc = nil
		}
	}

	token, err := c.guard.TryAcquire()
	if err != nil {
		// Belt-and-suspenders: the mutex above should already prevent
		// this, but a held singleton means some worker is still
		// actually running regardless of what our own state thinks.
		return StartResult{Started: false, Running: true}, apperror.New(apperror.AlreadyRunning, err, "a recognition worker is already running")
	}

	detector, err := c.resolver.resolve(c.classifier)
	if err != nil {
		token.Release()
		return StartResult{Started: false, Running: false}, err
	}

	deps := c.newDeps(detector)
	c.status.Set(Status{State: Starting})
	c.token = token
	c.sc = stopper.New(context.Background())
	w := newWorker(deps, c.status)
	go w.run(c.sc)

	waitCtx, cancel := context.WithTimeout(ctx, c.startDeadline)
	defer cancel()
	final, err := c.status.Wait(waitCtx, func(s Status) bool {
		return s.State == Running || s.State == Idle
	})
	if err != nil || final.State != Running {
		msg := final.Message
		if msg == "" {
			msg = "worker did not reach Running before the start deadline"
		}
		return StartResult{Started: false, Running: false}, apperror.New(apperror.Precondition, nil, "%s", msg)
	}
	return StartResult{Started: true, Running: true}, nil
}

// Stop signals the running worker to exit and waits for it to join.
func (c *Controller) Stop(ctx context.Context) (StopResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.Get().State == Idle {
		return StopResult{Stopped: false}, apperror.New(apperror.NotRunning, nil, "recognition worker is not running")
	}

	c.sc.Stop()
	if err := c.sc.Wait(c.stopDeadline); err != nil {
		// The worker goroutine missed its join deadline and is
		// considered leaked: it may still be holding the camera and the
		// singleton token, so both are left in place rather than
		// released out from under it.
		log.WithError(err).Error("recognition worker did not stop within the deadline; treating worker and camera as leaked")
		return StopResult{Stopped: false}, apperror.New(apperror.Precondition, err, "recognition worker did not stop within the deadline; camera may be leaked")
	}

	if c.token != nil {
		c.token.Release()
		c.token = nil
	}
	c.sc = nil
	return StopResult{Stopped: true}, nil
}

// Status is a lock-free read of the worker's published state.
func (c *Controller) Status() (running bool, message string) {
	s := c.status.Get()
	return s.State == Running, s.Message
}
