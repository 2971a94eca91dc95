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

// Package store opens and migrates the SQLite-backed subject registry
// database: a thin pool/lifecycle wrapper narrowed to the single
// embedded database this engine needs.
package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS subjects (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE,
	department  TEXT NOT NULL,
	image_path  TEXT NOT NULL,
	label_id    INTEGER NOT NULL UNIQUE,
	created_at  TIMESTAMP NOT NULL
)`

// Open opens (creating if necessary) the SQLite database named by
// dsn, applies pragmas for WAL concurrency, and ensures the subjects
// schema exists. The returned cleanup function closes the pool.
func Open(ctx context.Context, dsn string) (*sql.DB, func(), error) {
	connString := dsn
	if !strings.Contains(connString, "?") {
		connString += "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", connString)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not open subject registry database")
	}
	// SQLite allows only one writer at a time; a single connection
	// avoids "database is locked" errors under our own WAL pragma
	// rather than fighting the driver's pool with retries.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, errors.Wrap(err, "could not ping subject registry database")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, nil, errors.Wrap(err, "could not create subjects schema")
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("could not close subject registry database")
		}
	}
	return db, cleanup, nil
}
