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

package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewWithoutCauseFormatsMessage(t *testing.T) {
	err := New(Validation, nil, "field %q is required", "name")
	if err.Error() != "Validation: field \"name\" is required" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestNewWithCauseWrapsAndUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := New(Storage, cause, "writing ledger")
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should see through to the wrapped cause")
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(Conflict, nil, "duplicate name")
	if !Is(err, Conflict) {
		t.Fatal("Is(err, Conflict) = false, want true")
	}
	if Is(err, NotFound) {
		t.Fatal("Is(err, NotFound) = true, want false")
	}
}

func TestIsOnPlainErrorIsFalse(t *testing.T) {
	if Is(errors.New("boom"), Unknown) {
		t.Fatal("a plain error should never match a tagged Kind")
	}
}

func TestKindOfOnTaggedAndPlainErrors(t *testing.T) {
	if got := KindOf(New(AlreadyRunning, nil, "x")); got != AlreadyRunning {
		t.Fatalf("KindOf tagged error = %v, want AlreadyRunning", got)
	}
	if got := KindOf(errors.New("plain")); got != Unknown {
		t.Fatalf("KindOf plain error = %v, want Unknown", got)
	}
	if got := KindOf(nil); got != Unknown {
		t.Fatalf("KindOf nil = %v, want Unknown", got)
	}
}

func TestKindStringCoversEveryNamedKind(t *testing.T) {
	kinds := []Kind{
		Validation, Conflict, NotFound, Precondition, Storage, Corruption,
		CameraUnavailable, DetectorUnavailable, ModelLoad, ModelNotFound,
		AlreadyRunning, NotRunning, External, Training,
	}
	for _, k := range kinds {
		if k.String() == "Unknown" {
			t.Errorf("Kind %d stringifies to Unknown", k)
		}
	}
	if Unknown.String() != "Unknown" {
		t.Fatalf("Unknown.String() = %q, want Unknown", Unknown.String())
	}
	if Kind(999).String() != "Unknown" {
		t.Fatal("an unrecognized Kind value should stringify to Unknown")
	}
}

func TestErrorIsUsableInFmtVerbs(t *testing.T) {
	err := New(Validation, errors.New("cause"), "context %d", 1)
	if s := fmt.Sprintf("%v", err); s == "" {
		t.Fatal("fmt.Sprintf(%v) returned empty string")
	}
}
