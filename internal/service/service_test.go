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

package service_test

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/attendly/facetrack/internal/apperror"
	"github.com/attendly/facetrack/internal/testsupport"
	"github.com/attendly/facetrack/internal/training"
)

func pngBytes(t *testing.T, side int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, side, side))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestRegisterListDelete(t *testing.T) {
	ctx, fx := testsupport.NewFixture(t)

	subject, err := fx.Register(ctx, "Ada Lovelace", "Engineering", pngBytes(t, 64), "image/png")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if subject.LabelID != 0 {
		t.Errorf("first subject's LabelID = %d, want 0", subject.LabelID)
	}

	second, err := fx.Register(ctx, "Grace Hopper", "Engineering", pngBytes(t, 64), "image/png")
	if err != nil {
		t.Fatalf("Register second subject: %v", err)
	}
	if second.LabelID != 1 {
		t.Errorf("second subject's LabelID = %d, want 1", second.LabelID)
	}

	subjects, err := fx.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(subjects) != 2 {
		t.Fatalf("List returned %d subjects, want 2", len(subjects))
	}

	if err := fx.Delete(ctx, subject.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	subjects, err = fx.List(ctx)
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(subjects) != 1 || subjects[0].Name != "Grace Hopper" {
		t.Fatalf("List after delete = %+v, want only Grace Hopper", subjects)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	ctx, fx := testsupport.NewFixture(t)
	if _, err := fx.Register(ctx, "Ada Lovelace", "Engineering", pngBytes(t, 64), "image/png"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := fx.Register(ctx, "Ada Lovelace", "Engineering", pngBytes(t, 64), "image/png")
	if !apperror.Is(err, apperror.Conflict) {
		t.Fatalf("duplicate Register: got %v, want Conflict", err)
	}
}

func TestAttendancePathReportsMissingLedger(t *testing.T) {
	ctx, fx := testsupport.NewFixture(t)
	info, err := fx.AttendancePath(ctx)
	if err != nil {
		t.Fatalf("AttendancePath: %v", err)
	}
	if info.Exists {
		t.Fatal("AttendancePath reports Exists before any attendance has ever been marked")
	}
}

func TestTrainWithoutEnrolledSubjectsFails(t *testing.T) {
	ctx, fx := testsupport.NewFixture(t)
	_, err := fx.Train(ctx, training.ModeNative)
	if !apperror.Is(err, apperror.Precondition) {
		t.Fatalf("Train with nothing enrolled: got %v, want Precondition", err)
	}
}

func TestRecognitionStatusStartsIdle(t *testing.T) {
	_, fx := testsupport.NewFixture(t)
	running, message := fx.RecognitionStatus()
	if running || message != "" {
		t.Fatalf("RecognitionStatus = (%v, %q), want (false, \"\")", running, message)
	}
}

func TestRecognitionStopWhenIdleFails(t *testing.T) {
	ctx, fx := testsupport.NewFixture(t)
	_, err := fx.RecognitionStop(ctx)
	if !apperror.Is(err, apperror.NotRunning) {
		t.Fatalf("RecognitionStop while idle: got %v, want NotRunning", err)
	}
}

func TestRecognizeImageWithoutDetectorOrExternalFails(t *testing.T) {
	ctx, fx := testsupport.NewFixture(t)
	_, err := fx.RecognizeImage(ctx, pngBytes(t, 64))
	if !apperror.Is(err, apperror.DetectorUnavailable) {
		t.Fatalf("RecognizeImage with no cascade and no external recognizer: got %v, want DetectorUnavailable", err)
	}
}
