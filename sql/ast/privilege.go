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

package ast

import "github.com/Alalun/catena/crypto/hash"

// PrivilegeKind enumerates the privilege tokens a statement can require.
// See spec §4.3: Kind ∈ {create, delete, drop, insert, update, grant,
// template(hash), never}.
type PrivilegeKind string

// Privilege kinds.
const (
	PrivilegeCreate   PrivilegeKind = "create"
	PrivilegeDelete   PrivilegeKind = "delete"
	PrivilegeDrop     PrivilegeKind = "drop"
	PrivilegeInsert   PrivilegeKind = "insert"
	PrivilegeUpdate   PrivilegeKind = "update"
	PrivilegeGrant    PrivilegeKind = "grant"
	PrivilegeTemplate PrivilegeKind = "template"
	// PrivilegeNever is never satisfied by any grant; it marks statements
	// that must not be directly user-executable (e.g. CREATE INDEX).
	PrivilegeNever PrivilegeKind = "never"
)

// Privilege is a single authorization token a statement requires: a kind,
// and optionally a table it is scoped to (nil means database-wide).
type Privilege struct {
	Kind PrivilegeKind
	// Table is nil for a database-wide privilege.
	Table *Ident
	// TemplateHash is set only when Kind == PrivilegeTemplate.
	TemplateHash *hash.Hash
}

// TableName returns the scoped table name, or "" if the privilege is
// database-wide.
func (p Privilege) TableName() string {
	if p.Table == nil {
		return ""
	}
	return string(*p.Table)
}

// TablePrivilege builds a table-scoped privilege.
func TablePrivilege(kind PrivilegeKind, table Ident) Privilege {
	t := table
	return Privilege{Kind: kind, Table: &t}
}

// DatabasePrivilege builds a database-wide (unscoped) privilege.
func DatabasePrivilege(kind PrivilegeKind) Privilege {
	return Privilege{Kind: kind}
}

// TemplatePrivilege builds the privilege that a template grant satisfies.
func TemplatePrivilege(h hash.Hash) Privilege {
	return Privilege{Kind: PrivilegeTemplate, TemplateHash: &h}
}
