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
	"time"

	"github.com/bluele/gcache"
)

// HeadCache caches GetHeadVersion lookups. It is read-mostly and
// invalidated eagerly on every write that could move an asset_path's
// head (SaveMetadata, UpdateStatus, DeleteMetadata), so a stale read
// only survives between an external write and the next coordinator
// call that touches the same asset_path.
type HeadCache struct {
	cache gcache.Cache
	ttl   time.Duration
}

// NewHeadCache builds an LRU cache capped at size entries.
func NewHeadCache(size int, ttl time.Duration) *HeadCache {
	if size <= 0 {
		size = 1024
	}
	return &HeadCache{
		cache: gcache.New(size).LRU().Build(),
		ttl:   ttl,
	}
}

func headCacheKey(branch, assetPath string) string { return branch + "\x00" + assetPath }

// Get returns the cached head version_id for (branch, assetPath).
func (h *HeadCache) Get(branch, assetPath string) (string, bool) {
	v, err := h.cache.Get(headCacheKey(branch, assetPath))
	if err != nil {
		return "", false
	}
	return v.(string), true
}

// Set caches versionID for (branch, assetPath), expiring after ttl.
func (h *HeadCache) Set(branch, assetPath, versionID string) {
	_ = h.cache.SetWithExpire(headCacheKey(branch, assetPath), versionID, h.ttl)
}

// Invalidate evicts any cached head version for (branch, assetPath).
func (h *HeadCache) Invalidate(branch, assetPath string) {
	h.cache.Remove(headCacheKey(branch, assetPath))
}
