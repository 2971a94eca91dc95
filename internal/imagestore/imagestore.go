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

// Package imagestore persists reference images on disk under
// sanitized, path-traversal-safe filenames. It never touches the
// subject registry's database; the registry is the only caller and is
// responsible for sequencing Stage/Commit/Abort around its own
// transaction using a write-file-first, insert-row, rename recipe.
package imagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/attendly/facetrack/internal/apperror"
)

var unsafeChar = regexp.MustCompile(`[^A-Za-z0-9]`)

// Store persists reference images under dir.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperror.New(apperror.Storage, err, "could not create image directory %q", dir)
	}
	return &Store{dir: dir}, nil
}

// Staged is an image written to a temporary path but not yet
// committed to its final, sanitized name.
type Staged struct {
	dir       string
	tempPath  string
	finalPath string
}

// FinalPath is where the image will live once Commit succeeds.
func (s *Staged) FinalPath() string { return s.finalPath }

// Commit renames the temp file into place. Call it only after the
// registry row referencing FinalPath() has been durably inserted.
func (s *Staged) Commit() error {
	if err := os.Rename(s.tempPath, s.finalPath); err != nil {
		return apperror.New(apperror.Storage, err, "could not publish image %q", s.finalPath)
	}
	return nil
}

// Abort removes the temp file. Call it if any step between Stage and
// Commit fails, so no orphaned temp file is left behind.
func (s *Staged) Abort() {
	_ = os.Remove(s.tempPath)
}

// Stage sanitizes name into a filename of the form
// "<sanitized-name>_<epoch-ms>.<ext>", writes data into a sibling
// ".tmp" file, and returns a Staged handle. The caller decides when to
// Commit (rename into place) or Abort (delete the temp file). Register
// already rejects a duplicate subject name with Conflict before Stage
// is ever called, so two subjects can never collide on the same
// name+epoch-ms pair.
func (s *Store) Stage(name string, data []byte, ext string) (*Staged, error) {
	sanitized := unsafeChar.ReplaceAllString(name, "_")
	if sanitized == "" {
		return nil, apperror.New(apperror.Validation, nil, "name sanitizes to an empty filename")
	}
	fileName := fmt.Sprintf("%s_%d.%s", sanitized, time.Now().UnixMilli(), ext)
	finalPath := filepath.Join(s.dir, fileName)
	tempPath := finalPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return nil, apperror.New(apperror.Storage, err, "could not write staged image %q", tempPath)
	}
	return &Staged{dir: s.dir, tempPath: tempPath, finalPath: finalPath}, nil
}

// Delete removes the image at path. A missing file is not an error.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return apperror.New(apperror.Storage, err, "could not delete image %q", path)
	}
	return nil
}
