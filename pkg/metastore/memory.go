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

package metastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
)

type recordKey struct {
	assetPath, versionID, branch string
}

// Memory is an in-memory Store used by unit tests.
type Memory struct {
	mu      sync.Mutex
	records map[recordKey]*AssetVersion
	users   map[string]*User
	audit   []AuditEvent
}

// NewMemory constructs an empty in-memory metadata store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[recordKey]*AssetVersion),
		users:   make(map[string]*User),
	}
}

func (m *Memory) SaveMetadata(_ context.Context, a *AssetVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.AssetKey = a.AssetPath + "/" + a.PrimaryFilename
	cp := *a
	cp.AssociatedFilenames = append([]AssociatedFile(nil), a.AssociatedFilenames...)
	m.records[recordKey{a.AssetPath, a.VersionID, a.Branch}] = &cp
	return nil
}

func (m *Memory) GetLatestActive(_ context.Context, assetPath, branch string) (*AssetVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *AssetVersion
	for _, r := range m.records {
		if r.AssetPath != assetPath || r.Branch != branch || r.Status != StatusActive {
			continue
		}
		if latest == nil || r.UploadDate.After(latest.UploadDate) {
			latest = r
		}
	}
	return cloneVersion(latest), nil
}

func (m *Memory) GetByPathVersion(_ context.Context, assetPath, versionID, branch string) (*AssetVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneVersion(m.records[recordKey{assetPath, versionID, branch}]), nil
}

func (m *Memory) UpdateStatus(_ context.Context, assetPath, versionID, branch string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordKey{assetPath, versionID, branch}]
	if !ok {
		return errtypes.NotFound(fmt.Sprintf("%s/%s@%s", branch, assetPath, versionID))
	}
	r.Status = status
	return nil
}

func (m *Memory) DeleteMetadata(_ context.Context, assetPath, versionID, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordKey{assetPath, versionID, branch})

	kept := m.audit[:0]
	for _, e := range m.audit {
		if e.AssetPath == assetPath && e.VersionID == versionID && e.Branch == branch {
			continue
		}
		kept = append(kept, e)
	}
	m.audit = kept
	return nil
}

func (m *Memory) ListVersionsByKey(_ context.Context, assetKey, branch string) ([]*AssetVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*AssetVersion
	for _, r := range m.records {
		if r.AssetKey == assetKey && r.Branch == branch && r.Status == StatusActive {
			out = append(out, cloneVersion(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadDate.After(out[j].UploadDate) })
	return out, nil
}

func (m *Memory) GetHeadVersion(_ context.Context, assetPath, branch string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var head *AssetVersion
	for _, r := range m.records {
		if r.AssetPath != assetPath || r.Branch != branch {
			continue
		}
		if head == nil || r.UploadDate.After(head.UploadDate) {
			head = r
		}
	}
	if head == nil {
		return "", nil
	}
	return head.VersionID, nil
}

func (m *Memory) IsPrimaryChanged(_ context.Context, checksum, assetPath, branch string) (ChangeStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if r.Branch != branch || r.Status != StatusActive || r.Checksum != checksum {
			continue
		}
		if r.AssetPath == assetPath {
			return ChangeStatus{Changed: false, Message: fmt.Sprintf("exists at same path: %s (version %s)", r.AssetPath, r.VersionID)}, nil
		}
		return ChangeStatus{Changed: false, Message: fmt.Sprintf("exists under %s as %s (version %s)", r.AssetPath, r.PrimaryFilename, r.VersionID)}, nil
	}
	return ChangeStatus{Changed: true, Message: "new file"}, nil
}

func (m *Memory) AssetsToArchive(_ context.Context, before time.Time) ([]*AssetVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AssetVersion
	for _, r := range m.records {
		if r.Status == StatusActive && !r.ArchiveDate.After(before) {
			out = append(out, cloneVersion(r))
		}
	}
	return out, nil
}

func (m *Memory) AssetsToDestroy(_ context.Context, before time.Time) ([]*AssetVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AssetVersion
	for _, r := range m.records {
		if r.Status == StatusArchived && !r.DestroyDate.After(before) {
			out = append(out, cloneVersion(r))
		}
	}
	return out, nil
}

func (m *Memory) LogAccess(_ context.Context, e AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) CleanupLogs(_ context.Context, before time.Time, _ int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []AuditEvent
	var removed int64
	for _, e := range m.audit {
		if e.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.audit = kept
	return removed, nil
}

// AuditEvents exposes the recorded audit trail for assertions in tests.
func (m *Memory) AuditEvents() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEvent(nil), m.audit...)
}

func (m *Memory) GetUserByName(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) CreateUser(_ context.Context, username, passwordHash, branch string, permissions []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return errtypes.Conflict(fmt.Sprintf("user %q already exists", username))
	}
	m.users[username] = &User{Username: username, PasswordHash: passwordHash, Branch: branch, Permissions: permissions}
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, username)
	return nil
}

func (m *Memory) ChangeSharedUserPermissions(_ context.Context, username string, permissions []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range permissions {
		if p == PermAdmin {
			return errtypes.Forbidden("shared users cannot be granted admin")
		}
	}
	u, ok := m.users[username]
	if !ok {
		return errtypes.NotFound(username)
	}
	u.Permissions = permissions
	return nil
}

func cloneVersion(a *AssetVersion) *AssetVersion {
	if a == nil {
		return nil
	}
	cp := *a
	cp.AssociatedFilenames = append([]AssociatedFile(nil), a.AssociatedFilenames...)
	return &cp
}
