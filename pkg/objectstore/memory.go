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

package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
)

type memObject struct {
	versionID   string
	content     []byte
	contentType string
	checksum    string
	deleted     bool
}

// Memory is an in-memory Store used by unit tests and local
// development. Every key keeps its full version history, matching the
// immutability contract of the real backend.
type Memory struct {
	mu       sync.Mutex
	versions map[string][]memObject // branch/key -> versions, oldest first
	publicURL string
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{versions: make(map[string][]memObject), publicURL: "https://public.example.test"}
}

func (m *Memory) nsKey(branch, key string) string { return branch + "/" + key }

func (m *Memory) Upload(_ context.Context, branch, key string, body io.Reader, contentType string, _ map[string]string) (Commit, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return Commit{}, errtypes.StorageError(err.Error())
	}
	checksum := sha256Hex(data)

	m.mu.Lock()
	defer m.mu.Unlock()

	ns := m.nsKey(branch, key)
	history := m.versions[ns]
	if len(history) > 0 {
		head := history[len(history)-1]
		if !head.deleted && head.checksum == checksum {
			return Commit{}, ErrNoChange
		}
	}

	versionID := uuid.NewString()
	m.versions[ns] = append(history, memObject{
		versionID:   versionID,
		content:     data,
		contentType: contentType,
		checksum:    checksum,
	})
	return Commit{VersionID: versionID, Checksum: checksum}, nil
}

func (m *Memory) Read(_ context.Context, branch, key, versionID string, wantContent bool) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.versions[m.nsKey(branch, key)]
	obj, ok := findVersion(history, versionID)
	if !ok || obj.deleted {
		return Object{}, errtypes.NotFound(fmt.Sprintf("%s/%s@%s", branch, key, versionID))
	}

	result := Object{
		ContentType: obj.contentType,
		VersionID:   obj.versionID,
		URL:         fmt.Sprintf("%s/%s/%s?versionId=%s", m.publicURL, branch, key, obj.versionID),
	}
	if wantContent {
		result.Content = append([]byte(nil), obj.content...)
	}
	return result, nil
}

func (m *Memory) Delete(_ context.Context, branch, key, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns := m.nsKey(branch, key)
	history := m.versions[ns]
	checksum := ""
	if len(history) > 0 {
		checksum = history[len(history)-1].checksum
	}
	m.versions[ns] = append(history, memObject{versionID: versionID, deleted: true, checksum: checksum})
	return nil
}

func (m *Memory) DeleteAssociated(ctx context.Context, branch, assetPrefix, primaryFilename string) error {
	keys, err := m.List(ctx, branch, assetPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if strings.HasSuffix(k, "/"+primaryFilename) || k == primaryFilename {
			continue
		}
		_ = m.Delete(ctx, branch, k, "")
	}
	return nil
}

func (m *Memory) List(_ context.Context, branch, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nsPrefix := m.nsKey(branch, prefix)
	var keys []string
	for ns, history := range m.versions {
		if !strings.HasPrefix(ns, nsPrefix) {
			continue
		}
		if len(history) == 0 || history[len(history)-1].deleted {
			continue
		}
		keys = append(keys, strings.TrimPrefix(ns, branch+"/"))
	}
	return keys, nil
}

func (m *Memory) EnsureRepository(context.Context, string, string, string) error { return nil }
func (m *Memory) EnsureBranch(context.Context, string, string, string) error     { return nil }

func (m *Memory) HeadVersion(_ context.Context, branch, assetPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.versions[m.nsKey(branch, assetPath)]
	if len(history) == 0 {
		return "", nil
	}
	return history[len(history)-1].versionID, nil
}

func findVersion(history []memObject, versionID string) (memObject, bool) {
	if versionID == "" {
		if len(history) == 0 {
			return memObject{}, false
		}
		return history[len(history)-1], true
	}
	for _, v := range history {
		if v.versionID == versionID {
			return v, true
		}
	}
	return memObject{}, false
}
