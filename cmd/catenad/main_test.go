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

package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Alalun/catena/storage"
)

var dsnSeq int

func newTestNodeStore(t *testing.T) *storage.NodeStore {
	t.Helper()
	dsnSeq++
	dsn := fmt.Sprintf("file:catenad-test-%d?mode=memory&cache=shared", dsnSeq)
	ns, err := storage.OpenNodeStore(dsn)
	require.NoError(t, err)
	return ns
}

func TestLoadOrCreateIdentityGeneratesOnce(t *testing.T) {
	store := newTestNodeStore(t)

	first, err := loadOrCreateIdentity(store, "genesis-seed")
	require.NoError(t, err)
	require.NotEmpty(t, first.PublicKey)
	require.NotEmpty(t, first.PrivateKey)
	require.NotEmpty(t, first.UUID)
	require.Equal(t, "genesis-seed", first.GenesisSeed)

	second, err := loadOrCreateIdentity(store, "")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLoadOrCreateIdentityOverridesSeedOnExistingIdentity(t *testing.T) {
	store := newTestNodeStore(t)

	first, err := loadOrCreateIdentity(store, "")
	require.NoError(t, err)
	require.Empty(t, first.GenesisSeed)

	second, err := loadOrCreateIdentity(store, "new-seed")
	require.NoError(t, err)
	require.Equal(t, first.UUID, second.UUID)
	require.Equal(t, "new-seed", second.GenesisSeed)
}

func TestJoinListCollectsRepeatedValues(t *testing.T) {
	var j joinList
	require.NoError(t, j.Set("ws://a:8338"))
	require.NoError(t, j.Set("ws://b:8338"))
	require.Equal(t, joinList{"ws://a:8338", "ws://b:8338"}, j)
	require.Equal(t, "ws://a:8338,ws://b:8338", j.String())
}
