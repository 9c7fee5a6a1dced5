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

// Package objectstore defines the contract for the immutable,
// versioned blob backend the asset lifecycle coordinator commits
// against, plus a concrete S3-API adapter and an in-memory fake for
// tests.
package objectstore

import (
	"context"
	"io"
)

// ErrNoChange is the sentinel the Store returns from Upload when a
// commit would produce no diff against the current HEAD of key. The
// coordinator branches on this by comparing against the sentinel
// itself rather than comparing status codes and message text.
var ErrNoChange = noChangeError{}

type noChangeError struct{}

func (noChangeError) Error() string { return "object store: commit produced no change" }

// Commit is the outcome of a successful Upload: the store-assigned
// version identifier and the strong content checksum it reports.
type Commit struct {
	VersionID string
	Checksum  string
}

// Object is the result of a Read call.
type Object struct {
	Content     []byte
	ContentType string
	URL         string
	VersionID   string
}

// Store is the capability set the lifecycle coordinator depends on.
// Any commit-based, content-addressed object store can satisfy it.
type Store interface {
	// Upload commits bytes at key on branch as a new version. Returns
	// ErrNoChange itself, unwrapped, if the commit would be
	// byte-identical to the current HEAD of key.
	Upload(ctx context.Context, branch, key string, body io.Reader, contentType string, userMetadata map[string]string) (Commit, error)

	// Read fetches an object's metadata and, if wantContent is true,
	// its bytes, along with a presigned URL rewritten to the public
	// endpoint.
	Read(ctx context.Context, branch, key, versionID string, wantContent bool) (Object, error)

	// Delete commits a deletion of key at HEAD on branch. Historical
	// versions remain reachable by their version id.
	Delete(ctx context.Context, branch, key, versionID string) error

	// DeleteAssociated deletes every key under assetPrefix except the
	// one ending in primaryFilename. Each key is removed by its own
	// Delete call; the deletions are not grouped into a single commit.
	DeleteAssociated(ctx context.Context, branch, assetPrefix, primaryFilename string) error

	// List returns every key under prefix on branch.
	List(ctx context.Context, branch, prefix string) ([]string, error)

	// EnsureRepository idempotently creates the named repository with
	// the given default branch and storage namespace.
	EnsureRepository(ctx context.Context, repoID, defaultBranch, storageNamespace string) error

	// EnsureBranch idempotently creates branch off source (default
	// "main") within repoID.
	EnsureBranch(ctx context.Context, repoID, branch, source string) error

	// HeadVersion returns the identifier of the current HEAD version
	// for assetPath's primary key on branch, or "" if none exists.
	HeadVersion(ctx context.Context, branch, assetPath string) (string, error)
}
