// Copyright 2018-2019 CERN
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
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package errtypes contains the error kinds shared across the asset
// lifecycle subsystem. Kinds are plain string types rather than
// struct{error} wrappers so comparisons and logging stay cheap and
// callers can attach context to the message without allocating.
package errtypes

// InvalidInput is returned on sanitization/validation failures.
type InvalidInput string

func (e InvalidInput) Error() string { return "invalid input: " + string(e) }

// IsInvalidInput implements the IsInvalidInput interface.
func (e InvalidInput) IsInvalidInput() {}

// Forbidden is returned when a user lacks a required permission or
// attempts to cross a branch boundary.
type Forbidden string

func (e Forbidden) Error() string { return "forbidden: " + string(e) }

// IsForbidden implements the IsForbidden interface.
func (e Forbidden) IsForbidden() {}

// NotFound is returned when an asset, version, or blob is absent.
type NotFound string

func (e NotFound) Error() string { return "not found: " + string(e) }

// IsNotFound implements the IsNotFound interface.
func (e NotFound) IsNotFound() {}

// PreconditionFailed is returned when a status transition is attempted
// from the wrong state (archiving an archived asset, destroying an
// active one).
type PreconditionFailed string

func (e PreconditionFailed) Error() string { return "precondition failed: " + string(e) }

// IsPreconditionFailed implements the IsPreconditionFailed interface.
func (e PreconditionFailed) IsPreconditionFailed() {}

// Conflict is returned for duplicate-resource errors, e.g. username
// collisions.
type Conflict string

func (e Conflict) Error() string { return "conflict: " + string(e) }

// IsConflict implements the IsConflict interface.
func (e Conflict) IsConflict() {}

// StorageError is returned when the object store is unreachable or
// returns an error that isn't the NoChange sentinel.
type StorageError string

func (e StorageError) Error() string { return "storage error: " + string(e) }

// IsStorageError implements the IsStorageError interface.
func (e StorageError) IsStorageError() {}

// Internal is the catch-all for unclassified failures.
type Internal string

func (e Internal) Error() string { return "internal error: " + string(e) }

// IsInternal implements the IsInternal interface.
func (e Internal) IsInternal() {}

// IsInvalidInput is the interface to implement to mark an error as a
// validation failure.
type IsInvalidInput interface{ IsInvalidInput() }

// IsForbidden is the interface to implement to mark an error as a
// permission or isolation violation.
type IsForbidden interface{ IsForbidden() }

// IsNotFound is the interface to implement to mark an error as a
// missing-resource error.
type IsNotFound interface{ IsNotFound() }

// IsPreconditionFailed is the interface to implement to mark an error
// as a wrong-state transition.
type IsPreconditionFailed interface{ IsPreconditionFailed() }

// IsConflict is the interface to implement to mark an error as a
// duplicate-resource error.
type IsConflict interface{ IsConflict() }

// IsStorageError is the interface to implement to mark an error as
// originating from an unreachable or failing storage backend.
type IsStorageError interface{ IsStorageError() }

// IsInternal is the interface to implement to mark an error as
// unclassified.
type IsInternal interface{ IsInternal() }
