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

// Package labelmap builds and holds the read-mostly labelId -> (name,
// department) projection of the registry.
package labelmap

import (
	"context"
	"sync"

	"github.com/attendly/facetrack/internal/types"
)

// Map implements types.LabelMap over a types.Registry.
type Map struct {
	registry types.Registry

	mu      sync.RWMutex
	entries map[int]types.LabelEntry
}

var _ types.LabelMap = (*Map)(nil)

// New returns an empty Map over registry. Call Refresh before first
// use; an empty Map reports every lookup as a miss.
func New(registry types.Registry) *Map {
	return &Map{registry: registry, entries: map[int]types.LabelEntry{}}
}

// Refresh implements types.LabelMap. It is safe to call concurrently
// with Lookup: the new snapshot is built off to the side and swapped
// in atomically.
func (m *Map) Refresh(ctx context.Context) error {
	subjects, err := m.registry.List(ctx)
	if err != nil {
		return err
	}

	next := make(map[int]types.LabelEntry, len(subjects))
	for _, s := range subjects {
		next[s.LabelID] = types.LabelEntry{Name: s.Name, Department: s.Department}
	}

	m.mu.Lock()
	m.entries = next
	m.mu.Unlock()
	return nil
}

// Lookup implements types.LabelMap.
func (m *Map) Lookup(labelID int) (types.LabelEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[labelID]
	return entry, ok
}

// Len implements types.LabelMap.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
