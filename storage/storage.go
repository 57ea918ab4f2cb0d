/*
 * Copyright 2018 The ThunderDB Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package storage owns the sqlite3 connections behind Metadata and
// NodeStore. A dsn may be opened by both in the same process (metadata and
// per-database table storage share one node's local disk), so opens are
// cached by dsn rather than reopened per caller.
//
// Although a sql.DB should be safe for concurrent use according to
// https://golang.org/pkg/database/sql/#OpenDB, the go-sqlite3 implementation only guarantees
// the safety of concurrent readers. See https://github.com/mattn/go-sqlite3/issues/148 for details.
package storage

import (
	"database/sql"
	"sync"

	// Register go-sqlite3 engine.
	_ "github.com/mattn/go-sqlite3"
)

var (
	index = struct {
		mu *sync.Mutex
		db map[string]*sql.DB
	}{
		&sync.Mutex{},
		make(map[string]*sql.DB),
	}
)

// openDB returns the cached *sql.DB for dsn, opening it if this is the
// first request for that dsn in this process.
func openDB(dsn string) (db *sql.DB, err error) {
	index.mu.Lock()
	defer index.mu.Unlock()

	db = index.db[dsn]
	if db == nil {
		db, err = sql.Open("sqlite3", dsn)

		if err != nil {
			return nil, err
		}

		index.db[dsn] = db
	}

	return db, err
}
