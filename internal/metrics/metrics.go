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

// Package metrics registers the Prometheus instruments shared across
// the registry, ledger, and recognition worker: package-level
// promauto vars plus a shared latency bucket set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets is the shared histogram bucket set, widened slightly
// to cover disk-bound ledger writes.
var LatencyBuckets = []float64{
	.001, .002, .005, .01, .02, .05, .1, .2, .5, 1, 2, 5,
}

var (
	// RegistryOperations counts subject-registry calls by operation
	// and outcome ("ok", "validation", "conflict", "notfound",
	// "storage").
	RegistryOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facetrack_registry_operations_total",
		Help: "Count of subject registry operations by outcome.",
	}, []string{"op", "outcome"})

	// AttendanceMarks counts MarkAttendance outcomes ("written",
	// "duplicate", "error").
	AttendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facetrack_attendance_marks_total",
		Help: "Count of attendance ledger write attempts by outcome.",
	}, []string{"outcome"})

	// LedgerWriteDuration observes the time taken by the ledger's
	// read-modify-write-rename protocol.
	LedgerWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facetrack_ledger_write_duration_seconds",
		Help:    "Latency of one MarkAttendance write protocol execution.",
		Buckets: LatencyBuckets,
	})

	// RecognitionFrameDuration observes per-frame processing latency
	// in the recognition worker's loop.
	RecognitionFrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facetrack_recognition_frame_duration_seconds",
		Help:    "Latency of one frame through detect+predict+gate.",
		Buckets: LatencyBuckets,
	})

	// RecognitionFacesTotal counts faces seen by gate outcome
	// ("accepted", "unknown").
	RecognitionFacesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facetrack_recognition_faces_total",
		Help: "Count of faces observed by confidence-gate outcome.",
	}, []string{"outcome"})

	// WorkerStateTransitions counts every recognition worker state
	// transition, useful for spotting restart loops.
	WorkerStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facetrack_worker_state_transitions_total",
		Help: "Count of recognition worker state transitions by target state.",
	}, []string{"state"})
)
