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

package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencloud-eu/assetmanager/pkg/accesslog"
	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
	"github.com/opencloud-eu/assetmanager/pkg/objectstore"
	"github.com/opencloud-eu/assetmanager/pkg/vectormirror"
)

const testBranch = "alice_space"

func newTestCoordinator(t *testing.T) (*Coordinator, *metastore.Memory, *vectormirror.Memory) {
	t.Helper()
	meta := metastore.NewMemory()
	objects := objectstore.NewMemory()
	vectors := vectormirror.NewMemory()
	audit := accesslog.New(meta)
	c := New(objects, meta, vectors, audit, time.UTC, 4)
	return c, meta, vectors
}

func testUser() *metastore.User {
	return &metastore.User{Username: "alice", Branch: testBranch, Permissions: []metastore.Permission{
		metastore.PermUpload, metastore.PermDownload, metastore.PermList, metastore.PermArchive, metastore.PermDestroy,
	}}
}

func TestUploadCreatesActiveAssetVersion(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "annual_report.pdf", Content: []byte("report contents")}, nil, 30, 30)
	require.NoError(t, err)

	assert.Equal(t, "document/annual_report", record.AssetPath)
	assert.Equal(t, "annual_report.pdf", record.PrimaryFilename)
	assert.Equal(t, metastore.StatusActive, record.Status)
	assert.True(t, record.ChangeStatus.Changed)
	assert.NotEmpty(t, record.VersionID)
}

func TestUploadSameContentIsNoChangeAndReusesVersion(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	first, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "annual_report.pdf", Content: []byte("same bytes")}, nil, 30, 30)
	require.NoError(t, err)

	second, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "annual_report.pdf", Content: []byte("same bytes")}, nil, 30, 30)
	require.NoError(t, err)

	assert.Equal(t, first.VersionID, second.VersionID)
	assert.False(t, second.ChangeStatus.Changed)
}

func TestUploadWithAssociatedFilesMerges(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch,
		NamedFile{Filename: "annual_report.pdf", Content: []byte("report")},
		[]NamedFile{{Filename: "cover.png", Content: []byte("\x89PNGfakecoverimage")}, {Filename: "notes.txt", Content: []byte("notes")}},
		30, 30)
	require.NoError(t, err)

	assoc := record.AssociatedMap()
	assert.Contains(t, assoc, "cover.png")
	assert.Contains(t, assoc, "notes.txt")
}

func TestUploadRejectsCrossBranchUser(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	_, err := c.Upload(ctx, user, "other_space", NamedFile{Filename: "a.pdf", Content: []byte("x")}, nil, 30, 30)
	require.Error(t, err)
	_, ok := err.(errtypes.IsForbidden)
	assert.True(t, ok)
}

func TestUploadRejectsEmptyPrimaryFilename(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	_, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "", Content: []byte("x")}, nil, 30, 30)
	require.Error(t, err)
	_, ok := err.(errtypes.IsInvalidInput)
	assert.True(t, ok)
}

func TestAddAssociatedFilesToActiveVersion(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "report.pdf", Content: []byte("report")}, nil, 30, 30)
	require.NoError(t, err)

	updated, err := c.AddAssociatedFiles(ctx, user, testBranch, record.AssetPath, []NamedFile{{Filename: "extra.txt", Content: []byte("extra")}}, "")
	require.NoError(t, err)
	assert.Contains(t, updated.AssociatedMap(), "extra.txt")
}

func TestAddAssociatedFilesRejectsArchivedTarget(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "report.pdf", Content: []byte("report")}, nil, 30, 30)
	require.NoError(t, err)

	_, err = c.Archive(ctx, user, testBranch, record.AssetPath, record.VersionID)
	require.NoError(t, err)

	_, err = c.AddAssociatedFiles(ctx, user, testBranch, record.AssetPath, []NamedFile{{Filename: "extra.txt", Content: []byte("extra")}}, record.VersionID)
	require.Error(t, err)
	_, ok := err.(errtypes.IsPreconditionFailed)
	assert.True(t, ok)
}

func TestRetrieveReturnsPrimaryAndAssociatedFiles(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch,
		NamedFile{Filename: "report.pdf", Content: []byte("report")},
		[]NamedFile{{Filename: "extra.txt", Content: []byte("extra")}},
		30, 30)
	require.NoError(t, err)

	result, err := c.Retrieve(ctx, user, testBranch, record.AssetPath, record.VersionID, true)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", result.PrimaryFile.Filename)
	assert.Equal(t, []byte("report"), result.PrimaryFile.Content)
	require.Len(t, result.AssociatedFiles, 1)
	assert.Equal(t, "extra.txt", result.AssociatedFiles[0].Filename)
}

func TestRetrieveMissingAssetReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	_, err := c.Retrieve(ctx, user, testBranch, "document/nope", "v1", false)
	require.Error(t, err)
	_, ok := err.(errtypes.IsNotFound)
	assert.True(t, ok)
}

func TestArchiveThenDestroyLifecycle(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "report.pdf", Content: []byte("report")}, nil, 30, 30)
	require.NoError(t, err)

	archived, err := c.Archive(ctx, user, testBranch, record.AssetPath, record.VersionID)
	require.NoError(t, err)
	assert.Equal(t, metastore.StatusArchived, archived.Status)

	destroyed, err := c.Destroy(ctx, user, testBranch, record.AssetPath, record.VersionID)
	require.NoError(t, err)
	assert.Equal(t, metastore.StatusDestroyed, destroyed.Status)

	_, err = c.Meta.GetByPathVersion(ctx, record.AssetPath, record.VersionID, testBranch)
	require.NoError(t, err)
}

func TestArchiveTwiceFailsPrecondition(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "report.pdf", Content: []byte("report")}, nil, 30, 30)
	require.NoError(t, err)

	_, err = c.Archive(ctx, user, testBranch, record.AssetPath, record.VersionID)
	require.NoError(t, err)

	_, err = c.Archive(ctx, user, testBranch, record.AssetPath, record.VersionID)
	require.Error(t, err)
	_, ok := err.(errtypes.IsPreconditionFailed)
	assert.True(t, ok)
}

func TestDestroyRejectsActiveAsset(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "report.pdf", Content: []byte("report")}, nil, 30, 30)
	require.NoError(t, err)

	_, err = c.Destroy(ctx, user, testBranch, record.AssetPath, record.VersionID)
	require.Error(t, err)
	_, ok := err.(errtypes.IsPreconditionFailed)
	assert.True(t, ok)
}

func TestListVersionsReturnsPresignedEntries(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "report.pdf", Content: []byte("report")}, nil, 30, 30)
	require.NoError(t, err)

	entries, err := c.ListVersions(ctx, user, testBranch, record.AssetPath+"/report.pdf")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, record.VersionID, entries[0].VersionID)
	assert.NotEmpty(t, entries[0].URL)
}

func TestUploadSameBytesDifferentFilenameReportsDuplicate(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	_, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "greeting.txt", Content: []byte("Hello")}, nil, 30, 30)
	require.NoError(t, err)

	second, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "hi.txt", Content: []byte("Hello")}, nil, 30, 30)
	require.NoError(t, err)
	assert.False(t, second.ChangeStatus.Changed)
	assert.Contains(t, second.ChangeStatus.Message, "document/greeting")
}

func TestAssociatedMergeNewestWinsPerFilename(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch,
		NamedFile{Filename: "greeting.txt", Content: []byte("Hello")},
		[]NamedFile{{Filename: "fr.txt", Content: []byte("Bonjour")}},
		30, 30)
	require.NoError(t, err)
	firstFr := record.AssociatedMap()["fr.txt"]

	_, err = c.AddAssociatedFiles(ctx, user, testBranch, record.AssetPath, []NamedFile{{Filename: "es.txt", Content: []byte("Hola")}}, "")
	require.NoError(t, err)

	updated, err := c.AddAssociatedFiles(ctx, user, testBranch, record.AssetPath, []NamedFile{{Filename: "fr.txt", Content: []byte("Salut")}}, "")
	require.NoError(t, err)

	assoc := updated.AssociatedMap()
	require.Len(t, assoc, 2)
	assert.Contains(t, assoc, "es.txt")
	assert.NotEqual(t, firstFr, assoc["fr.txt"])
}

func TestUploadMirrorsVersionIntoVectorIndex(t *testing.T) {
	ctx := context.Background()
	c, _, vectors := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "report.pdf", Content: []byte("report")}, nil, 30, 30)
	require.NoError(t, err)

	point, ok := vectors.Get("document", record.AssetPath, record.VersionID, testBranch)
	require.True(t, ok)
	assert.Equal(t, "active", point.Payload["status"])
}

func TestDestroyRemovesVectorMirrorEntryAndAuditTrail(t *testing.T) {
	ctx := context.Background()
	c, meta, vectors := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "report.pdf", Content: []byte("report")}, nil, 30, 30)
	require.NoError(t, err)

	_, err = c.Archive(ctx, user, testBranch, record.AssetPath, record.VersionID)
	require.NoError(t, err)

	_, err = c.Destroy(ctx, user, testBranch, record.AssetPath, record.VersionID)
	require.NoError(t, err)

	_, ok := vectors.Get("document", record.AssetPath, record.VersionID, testBranch)
	assert.False(t, ok)

	// Pre-destroy audit entries for the version are gone; only the
	// destroy event itself, written after the metadata delete, remains.
	for _, e := range meta.AuditEvents() {
		if e.AssetPath == record.AssetPath && e.VersionID == record.VersionID {
			assert.Equal(t, "destroy", e.Operation)
		}
	}
}

func TestEveryLifecycleOperationWritesOneAuditRow(t *testing.T) {
	ctx := context.Background()
	c, meta, _ := newTestCoordinator(t)
	user := testUser()

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "report.pdf", Content: []byte("report")}, nil, 30, 30)
	require.NoError(t, err)
	assert.Len(t, meta.AuditEvents(), 1)

	_, err = c.Retrieve(ctx, user, testBranch, record.AssetPath, record.VersionID, false)
	require.NoError(t, err)
	assert.Len(t, meta.AuditEvents(), 2)

	_, err = c.Archive(ctx, user, testBranch, record.AssetPath, record.VersionID)
	require.NoError(t, err)
	assert.Len(t, meta.AuditEvents(), 3)
}

func TestVectorMirrorFailureDoesNotFailUpload(t *testing.T) {
	ctx := context.Background()
	c, _, vectors := newTestCoordinator(t)
	user := testUser()
	vectors.FailOn["UpsertOrUpdate"] = true

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "report.pdf", Content: []byte("report")}, nil, 30, 30)
	require.NoError(t, err)
	assert.Equal(t, metastore.StatusActive, record.Status)
}

func TestVectorMirrorFailureDoesNotFailArchive(t *testing.T) {
	ctx := context.Background()
	c, _, vectors := newTestCoordinator(t)
	user := testUser()
	vectors.FailOn["MarkArchived"] = true

	record, err := c.Upload(ctx, user, testBranch, NamedFile{Filename: "report.pdf", Content: []byte("report")}, nil, 30, 30)
	require.NoError(t, err)

	archived, err := c.Archive(ctx, user, testBranch, record.AssetPath, record.VersionID)
	require.NoError(t, err)
	assert.Equal(t, metastore.StatusArchived, archived.Status)
}
