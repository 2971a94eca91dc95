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

// Package ledger implements the attendance ledger: a
// concurrency-safe, crash-resilient, at-most-once-per-day append to a
// single-sheet spreadsheet artifact, published through a temp-file-
// then-rename protocol.
package ledger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tealeg/xlsx"

	"github.com/attendly/facetrack/internal/apperror"
	"github.com/attendly/facetrack/internal/metrics"
	"github.com/attendly/facetrack/internal/types"
)

const (
	sheetName = "Attendance"
)

var header = []string{"Name", "Department", "Date", "Status"}

// dateColumn is the authoritative column index for the per-day
// duplicate check: the fixed header order above puts Date at index 2.
// A legacy variant of this logic (not reproduced here, see
// SPEC_FULL.md §9) read column index 1 instead and under-counted
// duplicates.
const dateColumn = 2

// Clock is the time source used to compute "today"; tests inject a
// fixed clock instead of depending on the wall clock.
type Clock func() time.Time

// Ledger implements types.Ledger over a tealeg/xlsx workbook.
type Ledger struct {
	path  string
	clock Clock

	mu sync.Mutex
}

var _ types.Ledger = (*Ledger)(nil)

// New returns a Ledger backed by the workbook at path. now defaults to
// time.Now when nil.
func New(path string, now Clock) *Ledger {
	if now == nil {
		now = time.Now
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Ledger{path: abs, clock: now}
}

// Path implements types.Ledger.
func (l *Ledger) Path() string { return l.path }

func (l *Ledger) today() string {
	return l.clock().Format("2006-01-02")
}

// MarkAttendance implements types.Ledger's seven-step write protocol.
func (l *Ledger) MarkAttendance(
	ctx context.Context, name, department string, status types.AttendanceStatus,
) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.LedgerWriteDuration.Observe(time.Since(start).Seconds())
	}()

	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.today()

	file, existed, err := l.openOrRecover()
	if err != nil {
		metrics.AttendanceMarks.WithLabelValues("error").Inc()
		return false, err
	}

	// First duplicate check: close most of the race window before we
	// do any work building the updated workbook.
	if existed && hasRecord(file, name, today) {
		metrics.AttendanceMarks.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	sheet, err := ensureSheet(file)
	if err != nil {
		metrics.AttendanceMarks.WithLabelValues("error").Inc()
		return false, err
	}

	// Second duplicate check, immediately before mutating in memory. It
	// scans the same in-memory workbook as the first check; the file is
	// not re-read, so it does not detect rows written by another
	// process. Writers in this process are serialized by l.mu, which is
	// held from before the first check.
	if hasRecord(file, name, today) {
		metrics.AttendanceMarks.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	row := sheet.AddRow()
	for _, v := range []string{name, department, today, string(status)} {
		row.AddCell().Value = v
	}

	if err := l.publish(file); err != nil {
		metrics.AttendanceMarks.WithLabelValues("error").Inc()
		return false, err
	}

	metrics.AttendanceMarks.WithLabelValues("written").Inc()
	return true, nil
}

// MarkedToday implements types.Ledger.
func (l *Ledger) MarkedToday(ctx context.Context) (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.today()
	file, existed, err := l.openOrRecover()
	if err != nil {
		return nil, err
	}
	out := map[string]struct{}{}
	if !existed {
		return out, nil
	}
	for _, sheet := range file.Sheets {
		for _, row := range sheet.Rows {
			if len(row.Cells) <= dateColumn {
				continue
			}
			if row.Cells[dateColumn].Value == today {
				out[row.Cells[0].Value] = struct{}{}
			}
		}
	}
	return out, nil
}

// hasRecord reports whether file already contains a row for
// (name, today), keyed on the authoritative dateColumn.
func hasRecord(file *xlsx.File, name, today string) bool {
	for _, sheet := range file.Sheets {
		for _, row := range sheet.Rows {
			if len(row.Cells) <= dateColumn {
				continue
			}
			if row.Cells[0].Value == name && row.Cells[dateColumn].Value == today {
				return true
			}
		}
	}
	return false
}

// ensureSheet returns the Attendance sheet, creating it (with a bold
// header row) if the workbook is new.
func ensureSheet(file *xlsx.File) (*xlsx.Sheet, error) {
	if sheet, ok := file.Sheet[sheetName]; ok {
		return sheet, nil
	}
	sheet, err := file.AddSheet(sheetName)
	if err != nil {
		return nil, apperror.New(apperror.Storage, err, "could not create %q sheet", sheetName)
	}

	boldStyle := xlsx.NewStyle()
	boldStyle.Font.Bold = true
	boldStyle.ApplyFont = true

	row := sheet.AddRow()
	for _, h := range header {
		cell := row.AddCell()
		cell.Value = h
		cell.SetStyle(boldStyle)
	}
	return sheet, nil
}

// openOrRecover opens the existing workbook at l.path. A zero-length
// file, or one whose container cannot be parsed as a zip archive, is
// treated as recoverable corruption: it is deleted and the caller
// proceeds as though no ledger existed yet. existed reports whether a
// (now possibly recovered-from) file was present to read from.
func (l *Ledger) openOrRecover() (file *xlsx.File, existed bool, err error) {
	info, statErr := os.Stat(l.path)
	switch {
	case os.IsNotExist(statErr):
		return xlsx.NewFile(), false, nil
	case statErr != nil:
		return nil, false, apperror.New(apperror.Storage, statErr, "could not stat ledger %q", l.path)
	case info.Size() == 0:
		log.WithField("path", l.path).Warn("recovering from empty attendance ledger")
		if rmErr := os.Remove(l.path); rmErr != nil {
			return nil, false, apperror.New(apperror.Storage, rmErr, "could not remove empty ledger %q", l.path)
		}
		return xlsx.NewFile(), false, nil
	}

	file, openErr := xlsx.OpenFile(l.path)
	if openErr == nil {
		return file, true, nil
	}
	if !isRecoverableCorruption(openErr) {
		return nil, false, apperror.New(apperror.Storage, openErr, "could not open ledger %q", l.path)
	}

	log.WithError(openErr).WithField("path", l.path).
		Warn("recovering from truncated/corrupt attendance ledger")
	if rmErr := os.Remove(l.path); rmErr != nil {
		return nil, false, apperror.New(apperror.Storage, rmErr, "could not remove corrupt ledger %q", l.path)
	}
	return xlsx.NewFile(), false, nil
}

// isRecoverableCorruption reports whether err looks like "the zip
// container is truncated or malformed" rather than an unrelated I/O
// failure. Unrecognized errors are treated as unrecoverable Storage
// failures so we never silently discard a ledger we merely failed to
// read for some transient reason (permissions, a held lock, etc.).
func isRecoverableCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := errors.Cause(err).Error()
	switch msg {
	case "zip: not a valid zip file", "zip: file overlaps metadata", "unexpected EOF", "EOF":
		return true
	default:
		return false
	}
}

// publish serializes file to a sibling temp file, syncs it, and
// atomically renames it into place (steps 5-6 of the write protocol).
// On any failure the temp file is removed.
func (l *Ledger) publish(file *xlsx.File) error {
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return apperror.New(apperror.Storage, err, "could not create temp ledger file")
	}
	tmpPath := tmp.Name()
	cleanupTemp := true
	defer func() {
		if cleanupTemp {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := file.Write(tmp); err != nil {
		tmp.Close()
		return apperror.New(apperror.Storage, err, "could not serialize ledger workbook")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperror.New(apperror.Storage, err, "could not fsync temp ledger file")
	}
	if err := tmp.Close(); err != nil {
		return apperror.New(apperror.Storage, err, "could not close temp ledger file")
	}

	finalName := l.path
	if err := os.Rename(tmpPath, finalName); err != nil {
		return apperror.New(apperror.Storage, err, "could not publish ledger %q", finalName)
	}
	cleanupTemp = false
	return nil
}
