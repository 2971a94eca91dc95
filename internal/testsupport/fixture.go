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

// Package testsupport provides a complete, disposable Service instance
// for use from other packages' tests. One can be constructed by
// calling NewFixture.
package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/attendly/facetrack/internal/config"
	"github.com/attendly/facetrack/internal/service"
)

// Fixture is a fully wired Service backed entirely by a test's
// temporary directory: a throwaway SQLite file, a throwaway image
// directory, and a throwaway ledger path. No fixture ever touches a
// developer's working directory.
type Fixture struct {
	*service.Service

	Config *config.Config
}

// NewFixture builds a Fixture rooted at t.TempDir() and registers
// t.Cleanup to release it. The returned context is cancelled when the
// test ends.
func NewFixture(t *testing.T) (context.Context, *Fixture) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.ImageDir = dir + "/images"
	cfg.RegistryDSN = "file:" + dir + "/registry.db"
	cfg.LedgerPath = dir + "/attendance.xlsx"
	cfg.ModelSearchPath = []string{dir + "/"}
	// Tests never invoke the external recognizer subprocess; keep the
	// probe short so an accidental Available() call fails fast instead
	// of hanging the test run.
	cfg.ExternalRecognizerCommands = []string{"facetrack-recognizer-does-not-exist"}
	cfg.ExternalRecognizerTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	svc, cleanup, err := service.NewService(ctx, cfg)
	if err != nil {
		cancel()
		t.Fatalf("testsupport: failed to build fixture: %v", err)
	}
	t.Cleanup(func() {
		cleanup()
		cancel()
	})

	return ctx, &Fixture{Service: svc, Config: cfg}
}
