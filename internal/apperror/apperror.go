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

// Package apperror defines the tagged error kinds shared across the
// recognition and attendance engine. Every component maps an
// underlying failure onto exactly one Kind so that a future transport
// layer has a single, predictable surface to translate into wire
// errors.
package apperror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind tags an Error with the abstract failure category from the
// component design.
type Kind int

const (
	// Unknown is the zero value; it should never be returned by a
	// well-behaved component.
	Unknown Kind = iota
	Validation
	Conflict
	NotFound
	Precondition
	Storage
	Corruption
	CameraUnavailable
	DetectorUnavailable
	ModelLoad
	ModelNotFound
	AlreadyRunning
	NotRunning
	External
	Training
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "Validation"
	case Conflict:
		return "Conflict"
	case NotFound:
		return "NotFound"
	case Precondition:
		return "Precondition"
	case Storage:
		return "Storage"
	case Corruption:
		return "Corruption"
	case CameraUnavailable:
		return "CameraUnavailable"
	case DetectorUnavailable:
		return "DetectorUnavailable"
	case ModelLoad:
		return "ModelLoad"
	case ModelNotFound:
		return "ModelNotFound"
	case AlreadyRunning:
		return "AlreadyRunning"
	case NotRunning:
		return "NotRunning"
	case External:
		return "External"
	case Training:
		return "Training"
	default:
		return "Unknown"
	}
}

// Error is a tagged, stack-carrying error. The embedded error is
// produced by github.com/pkg/errors so that Cause/Unwrap chains and
// %+v stack traces keep working for callers that care.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.err) }

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error { return e.err }

// New builds an *Error of the given Kind. If cause is non-nil, it is
// wrapped with a stack trace; otherwise a fresh error is created from
// the format string.
func New(kind Kind, cause error, format string, args ...any) *Error {
	var err error
	if cause != nil {
		err = errors.Wrapf(cause, format, args...)
	} else {
		err = errors.Errorf(format, args...)
	}
	return &Error{Kind: kind, err: err}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning Unknown if err is not
// a tagged *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Unknown
}
