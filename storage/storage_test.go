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

package storage

import (
	"fmt"
	"io/ioutil"
	"testing"
)

func TestOpenDBCachesByDSN(t *testing.T) {
	fl, err := ioutil.TempFile("", "sqlite3-")
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	dsn := fmt.Sprintf("file:%s", fl.Name())

	db1, err := openDB(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db2, err := openDB(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if db1 != db2 {
		t.Fatal("openDB returned a different *sql.DB for the same dsn")
	}
}

func TestOpenDBDistinctDSN(t *testing.T) {
	fl1, err := ioutil.TempFile("", "sqlite3-")
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	fl2, err := ioutil.TempFile("", "sqlite3-")
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	db1, err := openDB(fmt.Sprintf("file:%s", fl1.Name()))
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	db2, err := openDB(fmt.Sprintf("file:%s", fl2.Name()))
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	if db1 == db2 {
		t.Fatal("openDB returned the same *sql.DB for distinct dsns")
	}
}
