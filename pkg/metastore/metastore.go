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

// Package metastore is the authoritative relational record of every
// asset version, its lifecycle status, registered users, and the
// audit trail. It defines the Store contract plus a MySQL-backed
// implementation and an in-memory fake for tests.
package metastore

import (
	"context"
	"sort"
	"time"
)

// Status is an AssetVersion's position in the lifecycle state machine.
type Status string

const (
	StatusActive    Status = "active"
	StatusArchived  Status = "archived"
	StatusDestroyed Status = "destroyed"
)

// AssociatedFile is one (filename, version_id) pair. Represented as a
// slice of pairs rather than a map so insertion order survives the
// JSON round trip the way an ordered mapping would in a dynamically
// typed implementation.
type AssociatedFile struct {
	Filename  string `json:"filename"`
	VersionID string `json:"version_id"`
}

// ChangeStatus reports whether an upload's primary file differed from
// what is already on record, and why.
type ChangeStatus struct {
	Changed bool   `json:"changed"`
	Message string `json:"message"`
}

// AssetVersion is one row of commit_history: one primary file commit
// plus the associated files uploaded alongside or after it.
type AssetVersion struct {
	AssetPath           string
	VersionID           string
	PrimaryFilename     string
	AssetKey            string
	AssociatedFilenames []AssociatedFile
	UploadDate          time.Time
	ArchiveDate         time.Time
	DestroyDate         time.Time
	Branch              string
	Status              Status
	Checksum            string
	ChangeStatus        ChangeStatus
}

// AssociatedMap returns AssociatedFilenames as filename -> version_id,
// the representation merges are computed against.
func (a *AssetVersion) AssociatedMap() map[string]string {
	out := make(map[string]string, len(a.AssociatedFilenames))
	for _, f := range a.AssociatedFilenames {
		out[f.Filename] = f.VersionID
	}
	return out
}

// SetAssociatedFromMap replaces AssociatedFilenames with the given map,
// sorted by filename for deterministic persistence.
func (a *AssetVersion) SetAssociatedFromMap(m map[string]string) {
	out := make([]AssociatedFile, 0, len(m))
	for filename, versionID := range m {
		out = append(out, AssociatedFile{Filename: filename, VersionID: versionID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	a.AssociatedFilenames = out
}

// Response is the client-facing projection of an AssetVersion: branch
// and checksum are internal and never cross the API boundary.
type Response struct {
	AssetPath           string           `json:"asset_path"`
	VersionID           string           `json:"version_id"`
	PrimaryFilename     string           `json:"primary_filename"`
	AssociatedFilenames []AssociatedFile `json:"associated_filenames"`
	UploadDate          time.Time        `json:"upload_date"`
	ArchiveDate         time.Time        `json:"archive_date"`
	DestroyDate         time.Time        `json:"destroy_date"`
	Status              Status           `json:"status"`
	ChangeStatus        ChangeStatus     `json:"change_status"`
}

// ToResponse strips the internal-only fields (branch, checksum).
func (a *AssetVersion) ToResponse() Response {
	return Response{
		AssetPath:           a.AssetPath,
		VersionID:           a.VersionID,
		PrimaryFilename:     a.PrimaryFilename,
		AssociatedFilenames: a.AssociatedFilenames,
		UploadDate:          a.UploadDate,
		ArchiveDate:         a.ArchiveDate,
		DestroyDate:         a.DestroyDate,
		Status:              a.Status,
		ChangeStatus:        a.ChangeStatus,
	}
}

// Permission is one capability a User may hold.
type Permission string

const (
	PermUpload   Permission = "upload"
	PermDownload Permission = "download"
	PermList     Permission = "list"
	PermArchive  Permission = "archive"
	PermDestroy  Permission = "destroy"
	PermAdmin    Permission = "admin"
)

// User is one registered tenant or shared-tenant account.
type User struct {
	Username     string
	PasswordHash string
	Branch       string
	Permissions  []Permission
}

// Has reports whether u holds perm, admin implying every permission.
func (u User) Has(perm Permission) bool {
	for _, p := range u.Permissions {
		if p == PermAdmin || p == perm {
			return true
		}
	}
	return false
}

// AuditEvent is one append-only row of the audit trail.
type AuditEvent struct {
	Username  string
	AssetPath string
	VersionID string
	Branch    string
	Operation string
	Timestamp time.Time
	Success   bool
	Details   string
}

// Store is the capability set the lifecycle coordinator, scheduler,
// and identity layer depend on.
type Store interface {
	SaveMetadata(ctx context.Context, m *AssetVersion) error
	GetLatestActive(ctx context.Context, assetPath, branch string) (*AssetVersion, error)
	GetByPathVersion(ctx context.Context, assetPath, versionID, branch string) (*AssetVersion, error)
	UpdateStatus(ctx context.Context, assetPath, versionID, branch string, status Status) error
	DeleteMetadata(ctx context.Context, assetPath, versionID, branch string) error
	ListVersionsByKey(ctx context.Context, assetKey, branch string) ([]*AssetVersion, error)
	GetHeadVersion(ctx context.Context, assetPath, branch string) (string, error)
	IsPrimaryChanged(ctx context.Context, checksum, assetPath, branch string) (ChangeStatus, error)

	AssetsToArchive(ctx context.Context, before time.Time) ([]*AssetVersion, error)
	AssetsToDestroy(ctx context.Context, before time.Time) ([]*AssetVersion, error)

	LogAccess(ctx context.Context, e AuditEvent) error
	CleanupLogs(ctx context.Context, before time.Time, batchSize int) (int64, error)

	GetUserByName(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, username, passwordHash, branch string, permissions []Permission) error
	DeleteUser(ctx context.Context, username string) error
	ChangeSharedUserPermissions(ctx context.Context, username string, permissions []Permission) error
}
