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

// Package config gathers every filesystem path, timeout, and tunable
// constant used by the engine into one explicit record, constructed
// once at process start and passed by reference to every
// collaborator. No package in this repository reads an environment
// variable or a package-level global for any of these values.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/attendly/facetrack/internal/apperror"
)

// Config is the root configuration record for the attendance engine.
type Config struct {
	// ImageDir is where reference images are persisted.
	ImageDir string
	// RegistryDSN is the database/sql data source name for the
	// subject registry.
	RegistryDSN string
	// LedgerPath is the absolute path to the attendance.xlsx
	// artifact.
	LedgerPath string
	// ModelSearchPath is the ordered list of directories probed for
	// trained_model.yml at controller start.
	ModelSearchPath []string
	// ModelFileName is the base file name of the classifier artifact.
	ModelFileName string
	// LabelNamesFileName is the base file name of the legacy
	// labelId=name side file.
	LabelNamesFileName string

	// CameraIndex is the video device index opened by the frame
	// source. Defaults to 0, but is a config field rather than a
	// hard-coded constant.
	CameraIndex int

	// ConfidenceThreshold is the classifier acceptance gate: a
	// prediction is accepted iff its distance is strictly less than
	// this value. Smaller distance is a better match.
	ConfidenceThreshold float64

	// StartDeadline bounds how long Controller.Start waits for the
	// worker to publish Running before giving up.
	StartDeadline time.Duration
	// StopDeadline bounds how long Controller.Stop waits for the
	// worker goroutine to join after signaling it.
	StopDeadline time.Duration
	// FrameBackoff is the pause after a null frame grab.
	FrameBackoff time.Duration
	// FrameInterval caps the per-frame loop rate when no display
	// surface is available (~30Hz).
	FrameInterval time.Duration

	// ExternalRecognizerCommands is the ordered list of executable
	// names probed for the external recognizer adapter.
	ExternalRecognizerCommands []string
	// ExternalRecognizerTimeout bounds every subprocess invocation
	// (train, recognize, and the --version availability probe).
	ExternalRecognizerTimeout time.Duration

	// MetricsAddr, if non-empty, is the address on which the ops
	// listener exposes /metrics and /healthz. Empty disables it.
	MetricsAddr string
}

// Default returns a Config populated with reasonable out-of-the-box
// defaults, with all paths relative to the current working directory.
func Default() *Config {
	return &Config{
		ImageDir:           "student_images",
		RegistryDSN:        "file:attendance.db",
		LedgerPath:         "attendance.xlsx",
		ModelSearchPath:    []string{"./", "../"},
		ModelFileName:      "trained_model.yml",
		LabelNamesFileName: "label_names.txt",
		CameraIndex:        0,
		ConfidenceThreshold: 80.0,
		StartDeadline:       500 * time.Millisecond,
		StopDeadline:        3 * time.Second,
		FrameBackoff:        100 * time.Millisecond,
		FrameInterval:       33 * time.Millisecond,
		ExternalRecognizerCommands: []string{
			"facetrack-recognizer",
			"facetrack-recognizer.exe",
		},
		ExternalRecognizerTimeout: 30 * time.Second,
		MetricsAddr:               "",
	}
}

// Bind registers every scalar field as a flag on flags, using the
// current value of c as the default. The list fields ModelSearchPath
// and ExternalRecognizerCommands have no flag. Bind is provided for hosts that want
// CLI-flag overrides; the core engine has no dependency on flag
// parsing having happened.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.ImageDir, "imageDir", c.ImageDir,
		"directory where reference images are persisted")
	flags.StringVar(&c.RegistryDSN, "registryDSN", c.RegistryDSN,
		"database/sql data source name for the subject registry")
	flags.StringVar(&c.LedgerPath, "ledgerPath", c.LedgerPath,
		"path to the attendance.xlsx ledger artifact")
	flags.StringVar(&c.ModelFileName, "modelFileName", c.ModelFileName,
		"base file name of the trained classifier artifact")
	flags.StringVar(&c.LabelNamesFileName, "labelNamesFileName", c.LabelNamesFileName,
		"base file name of the legacy labelId=name side file")
	flags.IntVar(&c.CameraIndex, "cameraIndex", c.CameraIndex,
		"video device index opened by the frame source")
	flags.Float64Var(&c.ConfidenceThreshold, "confidenceThreshold", c.ConfidenceThreshold,
		"exclusive upper bound on accepted classifier distance; smaller is a better match")
	flags.DurationVar(&c.StartDeadline, "startDeadline", c.StartDeadline,
		"bound on how long Start waits for the worker to reach Running")
	flags.DurationVar(&c.StopDeadline, "stopDeadline", c.StopDeadline,
		"bound on how long Stop waits for the worker to join")
	flags.DurationVar(&c.FrameBackoff, "frameBackoff", c.FrameBackoff,
		"pause after a null frame grab")
	flags.DurationVar(&c.FrameInterval, "frameInterval", c.FrameInterval,
		"per-frame loop interval cap when no display surface is present")
	flags.DurationVar(&c.ExternalRecognizerTimeout, "externalRecognizerTimeout", c.ExternalRecognizerTimeout,
		"bound on every external recognizer subprocess invocation")
	flags.StringVar(&c.MetricsAddr, "metricsAddr", c.MetricsAddr,
		"address for the /metrics and /healthz ops listener; empty disables it")
}

// Validate checks the invariants Bind and Default cannot enforce by
// construction (e.g. a caller zeroing a field by hand).
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ImageDir) == "" {
		return apperror.New(apperror.Validation, nil, "imageDir must not be empty")
	}
	if strings.TrimSpace(c.RegistryDSN) == "" {
		return apperror.New(apperror.Validation, nil, "registryDSN must not be empty")
	}
	if strings.TrimSpace(c.LedgerPath) == "" {
		return apperror.New(apperror.Validation, nil, "ledgerPath must not be empty")
	}
	if len(c.ModelSearchPath) == 0 {
		return apperror.New(apperror.Validation, nil, "modelSearchPath must not be empty")
	}
	if c.CameraIndex < 0 {
		return apperror.New(apperror.Validation, nil, "cameraIndex must not be negative")
	}
	if c.ConfidenceThreshold <= 0 {
		return apperror.New(apperror.Validation, nil, "confidenceThreshold must be positive")
	}
	if c.StartDeadline <= 0 || c.StopDeadline <= 0 {
		return apperror.New(apperror.Validation, nil, "startDeadline and stopDeadline must be positive")
	}
	return nil
}
