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

package labelmap

import (
	"context"
	"testing"

	"github.com/attendly/facetrack/internal/types"
)

type fakeRegistry struct {
	subjects []types.Subject
}

func (f *fakeRegistry) Register(ctx context.Context, name, department string, image []byte, mimeType string) (types.Subject, error) {
	panic("not used")
}
func (f *fakeRegistry) List(ctx context.Context) ([]types.Subject, error) { return f.subjects, nil }
func (f *fakeRegistry) FindByName(ctx context.Context, name string) (types.Subject, error) {
	panic("not used")
}
func (f *fakeRegistry) FindByLabel(ctx context.Context, labelID int) (types.Subject, error) {
	panic("not used")
}
func (f *fakeRegistry) Delete(ctx context.Context, id int64) error { panic("not used") }

func TestLookupMissesBeforeRefresh(t *testing.T) {
	m := New(&fakeRegistry{subjects: []types.Subject{{LabelID: 1, Name: "Ada"}}})
	if _, ok := m.Lookup(1); ok {
		t.Fatal("Lookup before Refresh should always miss")
	}
	if m.Len() != 0 {
		t.Fatalf("Len before Refresh = %d, want 0", m.Len())
	}
}

func TestRefreshPopulatesAndReplacesSnapshot(t *testing.T) {
	reg := &fakeRegistry{subjects: []types.Subject{
		{LabelID: 0, Name: "Ada", Department: "Eng"},
		{LabelID: 1, Name: "Grace", Department: "Math"},
	}}
	m := New(reg)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	entry, ok := m.Lookup(0)
	if !ok || entry.Name != "Ada" || entry.Department != "Eng" {
		t.Fatalf("Lookup(0) = (%+v, %v), want Ada/Eng", entry, ok)
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}

	reg.subjects = []types.Subject{{LabelID: 0, Name: "Ada Renamed", Department: "Eng"}}
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if _, ok := m.Lookup(1); ok {
		t.Fatal("Lookup(1) should miss after a Refresh that dropped it")
	}
	entry, ok = m.Lookup(0)
	if !ok || entry.Name != "Ada Renamed" {
		t.Fatalf("Lookup(0) after second Refresh = %+v, want Ada Renamed", entry)
	}
}
