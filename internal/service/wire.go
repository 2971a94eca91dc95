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

//go:build wireinject
// +build wireinject

package service

import (
	"context"
	"database/sql"

	"github.com/google/wire"

	"github.com/attendly/facetrack/internal/config"
	"github.com/attendly/facetrack/internal/extrecognizer"
	"github.com/attendly/facetrack/internal/framesource"
	"github.com/attendly/facetrack/internal/imagestore"
	"github.com/attendly/facetrack/internal/labelmap"
	"github.com/attendly/facetrack/internal/ledger"
	"github.com/attendly/facetrack/internal/recognition"
	"github.com/attendly/facetrack/internal/registry"
	"github.com/attendly/facetrack/internal/store"
	"github.com/attendly/facetrack/internal/training"
	"github.com/attendly/facetrack/internal/types"
	"github.com/attendly/facetrack/internal/vision"
)

// ProvideDB opens the registry's SQLite pool.
func ProvideDB(ctx context.Context, cfg *config.Config) (*sql.DB, func(), error) {
	db, cleanup, err := store.Open(ctx, cfg.RegistryDSN)
	return db, cleanup, err
}

// ProvideImageStore constructs the image store.
func ProvideImageStore(cfg *config.Config) (*imagestore.Store, error) {
	return imagestore.New(cfg.ImageDir)
}

// ProvideRegistry constructs the subject registry.
func ProvideRegistry(db *sql.DB, images *imagestore.Store) types.Registry {
	return registry.New(db, images)
}

// ProvideLabelMap constructs the label map.
func ProvideLabelMap(reg types.Registry) types.LabelMap {
	return labelmap.New(reg)
}

// ProvideLedger constructs the attendance ledger.
func ProvideLedger(cfg *config.Config) types.Ledger {
	return ledger.New(cfg.LedgerPath, nil)
}

// ProvideClassifier constructs the shared classifier instance.
func ProvideClassifier() types.Classifier {
	return vision.NewCentroidClassifier()
}

// ProvideDetector constructs the shared detector instance used
// by recognize-image; the recognition worker loads its own detector
// per session via ModelResolver.
func ProvideDetector(cfg *config.Config) (types.FaceDetector, error) {
	return vision.NewPigoDetector(cfg.ModelSearchPath[0] + "facefinder")
}

// ProvideExternalRecognizer constructs the external recognizer
// subprocess adapter.
func ProvideExternalRecognizer(cfg *config.Config) types.ExternalRecognizer {
	return extrecognizer.New(cfg.ExternalRecognizerCommands, cfg.ExternalRecognizerTimeout)
}

// ProvideTrainer constructs the training pipeline.
func ProvideTrainer(reg types.Registry, detector types.FaceDetector, classifier types.Classifier, external types.ExternalRecognizer, cfg *config.Config) *training.Trainer {
	modelPath := cfg.ModelSearchPath[0] + cfg.ModelFileName
	labelNamesPath := cfg.ModelSearchPath[0] + cfg.LabelNamesFileName
	return training.New(reg, detector, classifier, external, modelPath, labelNamesPath)
}

// ProvideController constructs the recognition lifecycle controller.
func ProvideController(cfg *config.Config, labels types.LabelMap, led types.Ledger, classifier types.Classifier) *recognition.Controller {
	resolver := &recognition.ModelResolver{
		SearchPath:    cfg.ModelSearchPath,
		ModelFileName: cfg.ModelFileName,
		CascadePath:   cfg.ModelSearchPath[0] + "facefinder",
		NewDetector: func(cascadePath string) (types.FaceDetector, error) {
			return vision.NewPigoDetector(cascadePath)
		},
	}
	newDeps := func(detector types.FaceDetector) recognition.Deps {
		return recognition.Deps{
			Labels:              labels,
			Ledger:              led,
			Detector:            detector,
			Classifier:          classifier,
			Frames:              framesource.New(),
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			CameraIndex:         cfg.CameraIndex,
			FrameBackoff:        cfg.FrameBackoff,
			FrameInterval:       cfg.FrameInterval,
		}
	}
	return recognition.NewController(resolver, classifier, newDeps, cfg.StartDeadline, cfg.StopDeadline)
}

// ProviderSet wires every collaborator the command surface needs.
var ProviderSet = wire.NewSet(
	ProvideDB,
	ProvideImageStore,
	ProvideRegistry,
	ProvideLabelMap,
	ProvideLedger,
	ProvideClassifier,
	ProvideDetector,
	ProvideExternalRecognizer,
	ProvideTrainer,
	ProvideController,
	New,
)

// NewService builds a fully wired Service from a Config.
func NewService(ctx context.Context, cfg *config.Config) (*Service, func(), error) {
	panic(wire.Build(ProviderSet))
}
