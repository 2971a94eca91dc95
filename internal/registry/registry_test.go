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

package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/attendly/facetrack/internal/apperror"
	"github.com/attendly/facetrack/internal/imagestore"
	"github.com/attendly/facetrack/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	db, cleanup, err := store.Open(context.Background(), "file:"+filepath.Join(dir, "registry.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(cleanup)

	images, err := imagestore.New(filepath.Join(dir, "images"))
	if err != nil {
		t.Fatalf("imagestore.New: %v", err)
	}
	return New(db, images)
}

func TestRegisterAssignsMonotonicLabelIDs(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	ada, err := r.Register(ctx, "Ada Lovelace", "Engineering", []byte("fake-jpeg"), "image/jpeg")
	if err != nil {
		t.Fatalf("Register Ada: %v", err)
	}
	if ada.LabelID != 0 {
		t.Errorf("Ada's LabelID = %d, want 0", ada.LabelID)
	}

	grace, err := r.Register(ctx, "Grace Hopper", "Engineering", []byte("fake-jpeg"), "image/jpeg")
	if err != nil {
		t.Fatalf("Register Grace: %v", err)
	}
	if grace.LabelID != 1 {
		t.Errorf("Grace's LabelID = %d, want 1", grace.LabelID)
	}
}

func TestRegisterRejectsEmptyFields(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name, department, mime string
		image                   []byte
	}{
		{"", "Engineering", "image/jpeg", []byte("x")},
		{"Ada", "", "image/jpeg", []byte("x")},
		{"Ada", "Engineering", "image/jpeg", nil},
		{"Ada", "Engineering", "text/plain", []byte("x")},
	}
	for _, c := range cases {
		_, err := r.Register(ctx, c.name, c.department, c.image, c.mime)
		if !apperror.Is(err, apperror.Validation) {
			t.Errorf("Register(%q, %q, %v, %q): got %v, want Validation", c.name, c.department, c.image, c.mime, err)
		}
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	if _, err := r.Register(ctx, "Ada Lovelace", "Engineering", []byte("x"), "image/jpeg"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := r.Register(ctx, "Ada Lovelace", "Sales", []byte("y"), "image/jpeg")
	if !apperror.Is(err, apperror.Conflict) {
		t.Fatalf("duplicate Register: got %v, want Conflict", err)
	}
}

func TestDeleteRemovesSubjectAndImage(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	ada, err := r.Register(ctx, "Ada Lovelace", "Engineering", []byte("x"), "image/jpeg")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Delete(ctx, ada.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err = r.FindByName(ctx, "Ada Lovelace")
	if !apperror.Is(err, apperror.NotFound) {
		t.Fatalf("FindByName after Delete: got %v, want NotFound", err)
	}
}

func TestDeleteUnknownIDReturnsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Delete(context.Background(), 999)
	if !apperror.Is(err, apperror.NotFound) {
		t.Fatalf("Delete unknown id: got %v, want NotFound", err)
	}
}

func TestFindByLabel(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	ada, err := r.Register(ctx, "Ada Lovelace", "Engineering", []byte("x"), "image/jpeg")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	found, err := r.FindByLabel(ctx, ada.LabelID)
	if err != nil {
		t.Fatalf("FindByLabel: %v", err)
	}
	if found.Name != "Ada Lovelace" {
		t.Fatalf("FindByLabel = %+v, want Ada Lovelace", found)
	}
}
