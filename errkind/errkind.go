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

// Package errkind names the error taxonomy shared by the parser, grants
// engine, executive, ledger and gossip layer: a small set of kinds a
// caller can switch on with errors.Is, independent of which package raised
// the error.
package errkind

import "github.com/pkg/errors"

// Kind is one bucket of the taxonomy.
type Kind string

// Kinds. See the field descriptions in the error handling design notes:
// each kind fixes how the raiser and its caller are expected to react.
const (
	Parse                  Kind = "Parse"
	FormatError            Kind = "FormatError"
	PrivilegeRequired      Kind = "PrivilegeRequired"
	Inconsecutive          Kind = "Inconsecutive"
	SignatureError         Kind = "SignatureError"
	PayloadSignatureError  Kind = "PayloadSignatureError"
	TooManyTransactions    Kind = "TooManyTransactions"
	InconsistentColumn     Kind = "InconsistentColumn"
	InconsistentParameter  Kind = "InconsistentParameter"
	UnboundParameter       Kind = "UnboundParameter"
	DoesNotExist           Kind = "DoesNotExist"
	AlreadyExists          Kind = "AlreadyExists"
	DatabaseNotEmpty       Kind = "DatabaseNotEmpty"
	RequiresDatabaseContext Kind = "RequiresDatabaseContext"
	MetadataError          Kind = "MetadataError"
	ConnectionClosed       Kind = "ConnectionClosed"
	Timeout                Kind = "Timeout"
	ExecutionFailed        Kind = "ExecutionFailed"
	Fatal                  Kind = "Fatal"
)

// Error pairs a Kind with a message, so callers can both log the message
// and switch on the kind.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

// Cause supports github.com/pkg/errors.Cause unwrapping.
func (e *Error) Cause() error { return e.cause }

// Unwrap supports the standard library's errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// String renders the kind as its bare name.
func (k Kind) String() string { return string(k) }

// New builds an *Error of the given kind with no wrapped cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind wrapping cause, or returns nil
// when cause is nil.
func Wrap(cause error, kind Kind, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == k
		}
		cause := errors.Unwrap(err)
		if cause == nil {
			return false
		}
		err = cause
	}
	return false
}
