/*
 * Copyright 2018 The CovenantSQL Authors.
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

package txn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/sql/parser"
)

func TestNewAndVerify(t *testing.T) {
	priv, _, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	stmt, err := parser.Parse(`INSERT INTO t(a) VALUES (1);`)
	require.NoError(t, err)

	tx, err := New(priv, "mydb", 0, stmt)
	require.NoError(t, err)
	require.NoError(t, tx.Verify())
}

func TestVerifyFailsOnTamperedCounter(t *testing.T) {
	priv, _, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	stmt, err := parser.Parse(`INSERT INTO t(a) VALUES (1);`)
	require.NoError(t, err)

	tx, err := New(priv, "mydb", 0, stmt)
	require.NoError(t, err)
	tx.Counter = 1
	require.Error(t, tx.Verify())
}

func TestJSONRoundTrip(t *testing.T) {
	priv, _, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	stmt, err := parser.Parse(`UPDATE t SET a = 1 WHERE id = 2;`)
	require.NoError(t, err)

	tx, err := New(priv, "mydb", 3, stmt)
	require.NoError(t, err)

	buf, err := json.Marshal(tx)
	require.NoError(t, err)

	var out Transaction
	require.NoError(t, json.Unmarshal(buf, &out))
	require.NoError(t, out.Verify())
	require.Equal(t, tx.Database, out.Database)
	require.Equal(t, tx.Counter, out.Counter)
}
