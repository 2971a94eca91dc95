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

// Package registry implements the subject registry: CRUD over
// subjects, monotonic label-id assignment, and name-uniqueness
// enforcement, backed by internal/store's SQLite pool and
// internal/imagestore's sanitized filesystem persistence.
package registry

import (
	"context"
	"database/sql"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/attendly/facetrack/internal/apperror"
	"github.com/attendly/facetrack/internal/imagestore"
	"github.com/attendly/facetrack/internal/metrics"
	"github.com/attendly/facetrack/internal/types"
)

var mimeExt = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
}

// Registry implements types.Registry.
type Registry struct {
	db     *sql.DB
	images *imagestore.Store
}

var _ types.Registry = (*Registry)(nil)

// New returns a Registry backed by db and images.
func New(db *sql.DB, images *imagestore.Store) *Registry {
	return &Registry{db: db, images: images}
}

// Register implements types.Registry.
func (r *Registry) Register(
	ctx context.Context, name, department string, image []byte, mimeType string,
) (types.Subject, error) {
	name = strings.TrimSpace(name)
	department = strings.TrimSpace(department)

	if name == "" {
		metrics.RegistryOperations.WithLabelValues("register", "validation").Inc()
		return types.Subject{}, apperror.New(apperror.Validation, nil, "name must not be empty")
	}
	if department == "" {
		metrics.RegistryOperations.WithLabelValues("register", "validation").Inc()
		return types.Subject{}, apperror.New(apperror.Validation, nil, "department must not be empty")
	}
	if len(image) == 0 {
		metrics.RegistryOperations.WithLabelValues("register", "validation").Inc()
		return types.Subject{}, apperror.New(apperror.Validation, nil, "image must not be empty")
	}
	ext, ok := mimeExt[strings.ToLower(mimeType)]
	if !ok {
		metrics.RegistryOperations.WithLabelValues("register", "validation").Inc()
		return types.Subject{}, apperror.New(apperror.Validation, nil, "unsupported image mime type %q", mimeType)
	}

	if _, err := r.FindByName(ctx, name); err == nil {
		metrics.RegistryOperations.WithLabelValues("register", "conflict").Inc()
		return types.Subject{}, apperror.New(apperror.Conflict, nil, "a subject named %q already exists", name)
	} else if !apperror.Is(err, apperror.NotFound) {
		return types.Subject{}, err
	}

	staged, err := r.images.Stage(name, image, ext)
	if err != nil {
		metrics.RegistryOperations.WithLabelValues("register", "storage").Inc()
		return types.Subject{}, err
	}

	subject, err := r.insertRow(ctx, name, department, staged.FinalPath())
	if err != nil {
		staged.Abort()
		metrics.RegistryOperations.WithLabelValues("register", "storage").Inc()
		return types.Subject{}, err
	}

	if err := staged.Commit(); err != nil {
		// The row references a file that doesn't exist at its final
		// path; roll the row back so the registry never describes an
		// artifact that isn't there.
		if _, delErr := r.db.ExecContext(ctx, `DELETE FROM subjects WHERE id = ?`, subject.ID); delErr != nil {
			log.WithError(delErr).Error("could not roll back subject row after failed image publish")
		}
		metrics.RegistryOperations.WithLabelValues("register", "storage").Inc()
		return types.Subject{}, err
	}

	metrics.RegistryOperations.WithLabelValues("register", "ok").Inc()
	return subject, nil
}

// insertRow computes the next label id and inserts the subject row in
// a single transaction, so concurrent Register calls cannot observe
// or assign the same label id (P1).
func (r *Registry) insertRow(ctx context.Context, name, department, imagePath string) (types.Subject, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Subject{}, apperror.New(apperror.Storage, err, "could not begin registry transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op once Commit succeeds

	var maxLabel sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(label_id) FROM subjects`).Scan(&maxLabel); err != nil {
		return types.Subject{}, apperror.New(apperror.Storage, err, "could not read current max label id")
	}
	nextLabel := 0
	if maxLabel.Valid {
		nextLabel = int(maxLabel.Int64) + 1
	}

	createdAt := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO subjects (name, department, image_path, label_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, department, imagePath, nextLabel, createdAt)
	if err != nil {
		return types.Subject{}, apperror.New(apperror.Storage, err, "could not insert subject row")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.Subject{}, apperror.New(apperror.Storage, err, "could not read inserted subject id")
	}
	if err := tx.Commit(); err != nil {
		return types.Subject{}, apperror.New(apperror.Storage, err, "could not commit registry transaction")
	}

	return types.Subject{
		ID:         id,
		Name:       name,
		Department: department,
		ImagePath:  imagePath,
		LabelID:    nextLabel,
		CreatedAt:  createdAt,
	}, nil
}

// List implements types.Registry.
func (r *Registry) List(ctx context.Context) ([]types.Subject, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, department, image_path, label_id, created_at FROM subjects ORDER BY id ASC`)
	if err != nil {
		return nil, apperror.New(apperror.Storage, err, "could not list subjects")
	}
	defer rows.Close()

	var out []types.Subject
	for rows.Next() {
		var s types.Subject
		if err := rows.Scan(&s.ID, &s.Name, &s.Department, &s.ImagePath, &s.LabelID, &s.CreatedAt); err != nil {
			return nil, apperror.New(apperror.Storage, err, "could not scan subject row")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.New(apperror.Storage, err, "could not iterate subject rows")
	}
	return out, nil
}

// FindByName implements types.Registry.
func (r *Registry) FindByName(ctx context.Context, name string) (types.Subject, error) {
	return r.findOne(ctx, `SELECT id, name, department, image_path, label_id, created_at FROM subjects WHERE name = ?`, name)
}

// FindByLabel implements types.Registry.
func (r *Registry) FindByLabel(ctx context.Context, labelID int) (types.Subject, error) {
	return r.findOne(ctx, `SELECT id, name, department, image_path, label_id, created_at FROM subjects WHERE label_id = ?`, labelID)
}

func (r *Registry) findOne(ctx context.Context, query string, arg any) (types.Subject, error) {
	var s types.Subject
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&s.ID, &s.Name, &s.Department, &s.ImagePath, &s.LabelID, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return types.Subject{}, apperror.New(apperror.NotFound, nil, "no subject found")
	}
	if err != nil {
		return types.Subject{}, apperror.New(apperror.Storage, err, "could not query subject")
	}
	return s, nil
}

// Delete implements types.Registry.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	var imagePath string
	err := r.db.QueryRowContext(ctx, `SELECT image_path FROM subjects WHERE id = ?`, id).Scan(&imagePath)
	if err == sql.ErrNoRows {
		metrics.RegistryOperations.WithLabelValues("delete", "notfound").Inc()
		return apperror.New(apperror.NotFound, nil, "no subject with id %d", id)
	}
	if err != nil {
		metrics.RegistryOperations.WithLabelValues("delete", "storage").Inc()
		return apperror.New(apperror.Storage, err, "could not look up subject %d", id)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM subjects WHERE id = ?`, id); err != nil {
		metrics.RegistryOperations.WithLabelValues("delete", "storage").Inc()
		return apperror.New(apperror.Storage, err, "could not delete subject row %d", id)
	}

	if err := r.images.Delete(imagePath); err != nil {
		metrics.RegistryOperations.WithLabelValues("delete", "storage").Inc()
		return err
	}
	metrics.RegistryOperations.WithLabelValues("delete", "ok").Inc()
	return nil
}
