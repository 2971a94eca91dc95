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

package imagestore

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/attendly/facetrack/internal/apperror"
)

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "images")
	if _, err := New(dir); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected %q to exist as a directory", dir)
	}
}

func TestStageWritesTempFileNotFinalPath(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	staged, err := store.Stage("Ada Lovelace", []byte("jpeg-bytes"), "jpg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(staged.FinalPath()); !os.IsNotExist(err) {
		t.Fatalf("final path should not exist before Commit, stat err = %v", err)
	}
	if filepath.Ext(staged.FinalPath()) != ".jpg" {
		t.Fatalf("final path %q should end in .jpg", staged.FinalPath())
	}
}

func TestStageSanitizesUnsafeCharacters(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	staged, err := store.Stage("../../etc/passwd", []byte("x"), "jpg")
	if err != nil {
		t.Fatal(err)
	}
	if dir := filepath.Dir(staged.FinalPath()); dir != filepath.Clean(store.dir) {
		t.Fatalf("staged path escaped the store directory: %q", staged.FinalPath())
	}
	base := filepath.Base(staged.FinalPath())
	for _, r := range "./\\" {
		if containsRune(base, r) {
			t.Fatalf("sanitized filename %q still contains %q", base, string(r))
		}
	}
}

func TestStageRejectsNameThatSanitizesEmpty(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Stage("***", []byte("x"), "jpg")
	if !apperror.Is(err, apperror.Validation) {
		t.Fatalf("all-unsafe name: got %v, want Validation", err)
	}
}

func TestStageNamesFileSanitizedNameUnderscoreEpochMs(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	before := time.Now().UnixMilli()
	staged, err := store.Stage("Ada Lovelace", []byte("x"), "jpg")
	if err != nil {
		t.Fatal(err)
	}
	after := time.Now().UnixMilli()

	base := filepath.Base(staged.FinalPath())
	if filepath.Ext(base) != ".jpg" {
		t.Fatalf("final name %q does not end in .jpg", base)
	}
	trimmed := strings.TrimSuffix(base, ".jpg")
	idx := strings.LastIndex(trimmed, "_")
	if idx < 0 {
		t.Fatalf("final name %q has no <name>_<epoch-ms> separator", base)
	}
	namePart, msPart := trimmed[:idx], trimmed[idx+1:]
	if namePart != "Ada_Lovelace" {
		t.Fatalf("sanitized name part = %q, want %q", namePart, "Ada_Lovelace")
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		t.Fatalf("epoch-ms suffix %q did not parse as an integer: %v", msPart, err)
	}
	if ms < before || ms > after {
		t.Fatalf("epoch-ms suffix %d not within [%d, %d]", ms, before, after)
	}
}

func TestCommitRenamesIntoPlace(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	staged, err := store.Stage("Ada", []byte("payload"), "jpg")
	if err != nil {
		t.Fatal(err)
	}
	if err := staged.Commit(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(staged.FinalPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Fatalf("committed file contents = %q, want %q", got, "payload")
	}
}

func TestAbortRemovesTempFileAndLeavesNoFinalFile(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	staged, err := store.Stage("Ada", []byte("payload"), "jpg")
	if err != nil {
		t.Fatal(err)
	}
	staged.Abort()
	if _, err := os.Stat(staged.FinalPath()); !os.IsNotExist(err) {
		t.Fatalf("final path should not exist after Abort")
	}
	entries, err := os.ReadDir(store.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected store directory empty after Abort, got %v", entries)
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	staged, err := store.Stage("Ada", []byte("payload"), "jpg")
	if err != nil {
		t.Fatal(err)
	}
	if err := staged.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(staged.FinalPath()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(staged.FinalPath()); !os.IsNotExist(err) {
		t.Fatalf("file should be gone after Delete")
	}
}

func TestDeleteOnMissingFileIsNotAnError(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(filepath.Join(store.dir, "nope.jpg")); err != nil {
		t.Fatalf("Delete on a missing file should be a no-op, got %v", err)
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
