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

// Package vectormirror keeps a best-effort search index in step with
// the authoritative metadata store. It is consulted only to speed up
// discovery; every write path treats its failures as non-fatal.
package vectormirror

import "context"

// Collection names, one per media class that can hold a vector entry.
const (
	CollectionDocuments = "documents"
	CollectionAudios    = "audios"
	CollectionVideos    = "videos"
	CollectionImages    = "images"
)

// Dimension is the fixed vector width every collection is created with.
const Dimension = 1024

// Point is one mirrored record. Vector is left zero-valued: no
// embedding model is in scope, only the payload and its lifecycle.
type Point struct {
	AssetPath  string
	VersionID  string
	Branch     string
	MediaClass string
	Payload    map[string]any
	Vector     []float32
}

// Mirror is the capability set the lifecycle coordinator depends on.
// Every method is expected to be called with the caller already having
// decided the failure is non-fatal; implementations should not retry
// indefinitely.
type Mirror interface {
	UpsertOrUpdate(ctx context.Context, p Point) error
	UpdatePayload(ctx context.Context, p Point) error
	MarkArchived(ctx context.Context, assetPath, versionID, branch, mediaClass string) error
	Delete(ctx context.Context, assetPath, versionID, branch, mediaClass string) error
	EnsureCollections(ctx context.Context) error
}

// CollectionFor maps a media class to its mirror collection. The
// "other" class has no collection: it is never mirrored.
func CollectionFor(mediaClass string) (string, bool) {
	switch mediaClass {
	case "document":
		return CollectionDocuments, true
	case "audio":
		return CollectionAudios, true
	case "video":
		return CollectionVideos, true
	case "image":
		return CollectionImages, true
	default:
		return "", false
	}
}
