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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionFor(t *testing.T) {
	cases := map[string]string{
		"document": CollectionDocuments,
		"audio":    CollectionAudios,
		"video":    CollectionVideos,
		"image":    CollectionImages,
	}
	for mediaClass, want := range cases {
		got, ok := CollectionFor(mediaClass)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := CollectionFor("other")
	assert.False(t, ok)
}

func TestMemoryUpsertThenMarkArchivedThenDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	p := Point{AssetPath: "video/clip", VersionID: "v1", Branch: "tenant_space", MediaClass: "video", Payload: map[string]any{"status": "active"}}
	require.NoError(t, m.UpsertOrUpdate(ctx, p))

	got, ok := m.Get("video", "video/clip", "v1", "tenant_space")
	require.True(t, ok)
	assert.Equal(t, "active", got.Payload["status"])

	require.NoError(t, m.MarkArchived(ctx, "video/clip", "v1", "tenant_space", "video"))
	got, ok = m.Get("video", "video/clip", "v1", "tenant_space")
	require.True(t, ok)
	assert.Equal(t, "archived", got.Payload["status"])

	require.NoError(t, m.Delete(ctx, "video/clip", "v1", "tenant_space", "video"))
	_, ok = m.Get("video", "video/clip", "v1", "tenant_space")
	assert.False(t, ok)
}

func TestMemoryIgnoresOtherMediaClass(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertOrUpdate(ctx, Point{AssetPath: "other/file", VersionID: "v1", Branch: "b", MediaClass: "other"}))
	_, ok := m.Get("other", "other/file", "v1", "b")
	assert.False(t, ok)
}

func TestMemorySimulatedFailure(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.FailOn["UpsertOrUpdate"] = true
	err := m.UpsertOrUpdate(ctx, Point{AssetPath: "a", VersionID: "v1", Branch: "b", MediaClass: "image"})
	assert.Error(t, err)
}
