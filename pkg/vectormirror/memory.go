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

package vectormirror

import (
	"context"
	"sync"
)

// Memory is an in-memory Mirror fake for unit tests. It keeps points in
// a map and fails any method named in FailOn, so tests can assert the
// coordinator treats its errors as non-fatal.
type Memory struct {
	mu     sync.Mutex
	points map[string]Point
	FailOn map[string]bool // method name -> force an error
}

// NewMemory constructs an empty in-memory mirror.
func NewMemory() *Memory {
	return &Memory{points: make(map[string]Point), FailOn: make(map[string]bool)}
}

func (m *Memory) key(collection, assetPath, versionID, branch string) string {
	return collection + "|" + branch + "|" + assetPath + "|" + versionID
}

func (m *Memory) EnsureCollections(context.Context) error {
	if m.FailOn["EnsureCollections"] {
		return errFake
	}
	return nil
}

func (m *Memory) UpsertOrUpdate(_ context.Context, p Point) error {
	if m.FailOn["UpsertOrUpdate"] {
		return errFake
	}
	collection, ok := CollectionFor(p.MediaClass)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[m.key(collection, p.AssetPath, p.VersionID, p.Branch)] = p
	return nil
}

func (m *Memory) UpdatePayload(_ context.Context, p Point) error {
	if m.FailOn["UpdatePayload"] {
		return errFake
	}
	collection, ok := CollectionFor(p.MediaClass)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.points[m.key(collection, p.AssetPath, p.VersionID, p.Branch)]
	if !ok {
		existing = p
	}
	existing.Payload = p.Payload
	m.points[m.key(collection, p.AssetPath, p.VersionID, p.Branch)] = existing
	return nil
}

func (m *Memory) MarkArchived(_ context.Context, assetPath, versionID, branch, mediaClass string) error {
	if m.FailOn["MarkArchived"] {
		return errFake
	}
	collection, ok := CollectionFor(mediaClass)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(collection, assetPath, versionID, branch)
	p, ok := m.points[k]
	if !ok {
		return nil
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	p.Payload["status"] = "archived"
	m.points[k] = p
	return nil
}

func (m *Memory) Delete(_ context.Context, assetPath, versionID, branch, mediaClass string) error {
	if m.FailOn["Delete"] {
		return errFake
	}
	collection, ok := CollectionFor(mediaClass)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, m.key(collection, assetPath, versionID, branch))
	return nil
}

// Get exposes a stored point for assertions in tests.
func (m *Memory) Get(mediaClass, assetPath, versionID, branch string) (Point, bool) {
	collection, ok := CollectionFor(mediaClass)
	if !ok {
		return Point{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.points[m.key(collection, assetPath, versionID, branch)]
	return p, ok
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errFake = fakeError("vectormirror: simulated failure")
