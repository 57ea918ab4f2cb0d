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

package restapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/ledger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	_, pub, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	led, err := ledger.New(1, nil)
	require.NoError(t, err)
	return &Server{PublicKey: pub, UUID: "test-uuid", Ledger: led}
}

func router(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/identity", s.handleIdentity)
	r.HandleFunc("/status", s.handleStatus)
	return r
}

func TestIdentityEndpointReportsUUIDAndKey(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/identity", nil)
	rw := httptest.NewRecorder()
	router(s).ServeHTTP(rw, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &body))
	data := body["data"].(map[string]interface{})
	require.Equal(t, "test-uuid", data["uuid"])
	require.Equal(t, s.PublicKey.Hex(), data["publicKey"])
}

func TestStatusEndpointReportsNilHeightBeforeGenesis(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/status", nil)
	rw := httptest.NewRecorder()
	router(s).ServeHTTP(rw, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &body))
	data := body["data"].(map[string]interface{})
	require.Nil(t, data["height"])
}
