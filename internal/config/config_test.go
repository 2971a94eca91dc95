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

package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/attendly/facetrack/internal/apperror"
)

func TestDefaultPassesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() failed Validate: %v", err)
	}
}

func TestBindOverridesDefaults(t *testing.T) {
	c := Default()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.Bind(flags)

	if err := flags.Parse([]string{
		"--imageDir=/tmp/images",
		"--cameraIndex=2",
		"--confidenceThreshold=50.5",
		"--startDeadline=1s",
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.ImageDir != "/tmp/images" {
		t.Errorf("ImageDir = %q, want /tmp/images", c.ImageDir)
	}
	if c.CameraIndex != 2 {
		t.Errorf("CameraIndex = %d, want 2", c.CameraIndex)
	}
	if c.ConfidenceThreshold != 50.5 {
		t.Errorf("ConfidenceThreshold = %v, want 50.5", c.ConfidenceThreshold)
	}
	if c.StartDeadline != time.Second {
		t.Errorf("StartDeadline = %v, want 1s", c.StartDeadline)
	}
}

func TestValidateRejectsEmptyPaths(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
	}{
		{"empty ImageDir", func(c *Config) { c.ImageDir = "  " }},
		{"empty RegistryDSN", func(c *Config) { c.RegistryDSN = "" }},
		{"empty LedgerPath", func(c *Config) { c.LedgerPath = "" }},
		{"empty ModelSearchPath", func(c *Config) { c.ModelSearchPath = nil }},
		{"negative CameraIndex", func(c *Config) { c.CameraIndex = -1 }},
		{"zero ConfidenceThreshold", func(c *Config) { c.ConfidenceThreshold = 0 }},
		{"zero StartDeadline", func(c *Config) { c.StartDeadline = 0 }},
		{"zero StopDeadline", func(c *Config) { c.StopDeadline = 0 }},
	}
	for _, tc := range cases {
		c := Default()
		tc.mutate(c)
		if err := c.Validate(); !apperror.Is(err, apperror.Validation) {
			t.Errorf("%s: Validate() = %v, want Validation error", tc.name, err)
		}
	}
}
