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

package ledger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/attendly/facetrack/internal/types"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestMarkAttendanceWritesThenDeduplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attendance.xlsx")
	l := New(path, fixedClock(time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)))

	wrote, err := l.MarkAttendance(context.Background(), "Ada Lovelace", "Engineering", types.StatusPresent)
	if err != nil {
		t.Fatalf("first MarkAttendance: %v", err)
	}
	if !wrote {
		t.Fatal("first MarkAttendance: wrote = false, want true")
	}

	wrote, err = l.MarkAttendance(context.Background(), "Ada Lovelace", "Engineering", types.StatusPresent)
	if err != nil {
		t.Fatalf("second MarkAttendance: %v", err)
	}
	if wrote {
		t.Fatal("second MarkAttendance on the same day: wrote = true, want false (duplicate)")
	}

	marked, err := l.MarkedToday(context.Background())
	if err != nil {
		t.Fatalf("MarkedToday: %v", err)
	}
	if _, ok := marked["Ada Lovelace"]; !ok {
		t.Fatalf("MarkedToday = %v, want it to contain Ada Lovelace", marked)
	}
}

func TestMarkAttendanceConcurrentCallsWriteExactlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attendance.xlsx")
	l := New(path, fixedClock(time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)))

	const n = 2
	results := make([]bool, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.MarkAttendance(context.Background(), "Ada Lovelace", "Engineering", types.StatusPresent)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("MarkAttendance[%d]: %v", i, err)
		}
	}
	wroteCount := 0
	for _, wrote := range results {
		if wrote {
			wroteCount++
		}
	}
	if wroteCount != 1 {
		t.Fatalf("concurrent MarkAttendance calls: wroteCount = %d, want exactly 1 (results=%v)", wroteCount, results)
	}

	marked, err := l.MarkedToday(context.Background())
	if err != nil {
		t.Fatalf("MarkedToday: %v", err)
	}
	if _, ok := marked["Ada Lovelace"]; !ok {
		t.Fatalf("MarkedToday = %v, want it to contain Ada Lovelace", marked)
	}
}

func TestMarkAttendanceNewDayIsNotADuplicate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attendance.xlsx")
	day1 := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	l := New(path, fixedClock(day1))
	if _, err := l.MarkAttendance(context.Background(), "Ada Lovelace", "Engineering", types.StatusPresent); err != nil {
		t.Fatalf("day1 MarkAttendance: %v", err)
	}

	l.clock = fixedClock(day2)
	wrote, err := l.MarkAttendance(context.Background(), "Ada Lovelace", "Engineering", types.StatusPresent)
	if err != nil {
		t.Fatalf("day2 MarkAttendance: %v", err)
	}
	if !wrote {
		t.Fatal("day2 MarkAttendance: wrote = false, want true (new day, not a duplicate)")
	}
}

func TestMarkedTodayOnMissingLedgerIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attendance.xlsx")
	l := New(path, nil)
	marked, err := l.MarkedToday(context.Background())
	if err != nil {
		t.Fatalf("MarkedToday: %v", err)
	}
	if len(marked) != 0 {
		t.Fatalf("MarkedToday on a ledger that has never been written = %v, want empty", marked)
	}
}

func TestMarkAttendanceRecoversFromEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attendance.xlsx")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("seed empty ledger: %v", err)
	}

	l := New(path, fixedClock(time.Now()))
	wrote, err := l.MarkAttendance(context.Background(), "Ada Lovelace", "Engineering", types.StatusPresent)
	if err != nil {
		t.Fatalf("MarkAttendance on empty file: %v", err)
	}
	if !wrote {
		t.Fatal("MarkAttendance on recovered empty file: wrote = false, want true")
	}
}

func TestPathIsAbsolute(t *testing.T) {
	l := New("relative/attendance.xlsx", nil)
	if !filepath.IsAbs(l.Path()) {
		t.Fatalf("Path() = %q, want an absolute path", l.Path())
	}
}
