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
	"bytes"
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUploadThenNoChange(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.Upload(ctx, "alice_space", "document/report/report.pdf", bytes.NewReader([]byte("same")), "application/pdf", nil)
	require.NoError(t, err)
	require.NotEmpty(t, first.VersionID)
	require.NotEmpty(t, first.Checksum)

	_, err = m.Upload(ctx, "alice_space", "document/report/report.pdf", bytes.NewReader([]byte("same")), "application/pdf", nil)
	assert.Equal(t, ErrNoChange, err)

	second, err := m.Upload(ctx, "alice_space", "document/report/report.pdf", bytes.NewReader([]byte("different")), "application/pdf", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.VersionID, second.VersionID)
}

func TestMemoryReadHistoricalVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.Upload(ctx, "alice_space", "document/report/report.pdf", bytes.NewReader([]byte("one")), "application/pdf", nil)
	require.NoError(t, err)
	_, err = m.Upload(ctx, "alice_space", "document/report/report.pdf", bytes.NewReader([]byte("two")), "application/pdf", nil)
	require.NoError(t, err)

	obj, err := m.Read(ctx, "alice_space", "document/report/report.pdf", first.VersionID, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), obj.Content)
	assert.NotEmpty(t, obj.URL)
}

func TestMemoryHeadVersionTracksLatestCommit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	head, err := m.HeadVersion(ctx, "alice_space", "document/report/report.pdf")
	require.NoError(t, err)
	assert.Empty(t, head)

	_, err = m.Upload(ctx, "alice_space", "document/report/report.pdf", bytes.NewReader([]byte("one")), "application/pdf", nil)
	require.NoError(t, err)
	second, err := m.Upload(ctx, "alice_space", "document/report/report.pdf", bytes.NewReader([]byte("two")), "application/pdf", nil)
	require.NoError(t, err)

	head, err = m.HeadVersion(ctx, "alice_space", "document/report/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, second.VersionID, head)
}

func TestMemoryDeleteAssociatedKeepsPrimary(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Upload(ctx, "alice_space", "document/report/report.pdf", bytes.NewReader([]byte("primary")), "application/pdf", nil)
	require.NoError(t, err)
	_, err = m.Upload(ctx, "alice_space", "document/report/notes.txt", bytes.NewReader([]byte("notes")), "text/plain", nil)
	require.NoError(t, err)

	require.NoError(t, m.DeleteAssociated(ctx, "alice_space", "document/report", "report.pdf"))

	keys, err := m.List(ctx, "alice_space", "document/report")
	require.NoError(t, err)
	assert.Equal(t, []string{"document/report/report.pdf"}, keys)
}

func TestMemoryBranchIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Upload(ctx, "alice_space", "document/report/report.pdf", bytes.NewReader([]byte("alice")), "application/pdf", nil)
	require.NoError(t, err)

	_, err = m.Read(ctx, "bob_space", "document/report/report.pdf", "", false)
	require.Error(t, err)
}

func TestRewriteHostPreservesPathAndQuery(t *testing.T) {
	private, err := url.Parse("http://minio.internal:9000/assets/alice_space/document/report/report.pdf?X-Amz-Signature=abc123&versionId=v1")
	require.NoError(t, err)

	got := rewriteHost(private, "https", "files.example.com")
	want := "https://files.example.com/assets/alice_space/document/report/report.pdf?X-Amz-Signature=abc123&versionId=v1"
	assert.Equal(t, want, got)

	// Deterministic: rewriting the same URL again yields the same bytes.
	assert.Equal(t, got, rewriteHost(private, "https", "files.example.com"))
}

func TestObjectKeyNamespacesByBranch(t *testing.T) {
	assert.Equal(t, "alice_space/document/report/report.pdf", objectKey("alice_space", "document/report/report.pdf"))
	assert.Equal(t, "alice_space/document/report/report.pdf", objectKey("alice_space", "/document/report/report.pdf"))
}
