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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/opencloud-eu/assetmanager/pkg/alog"
	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
)

var logger = alog.New("objectstore")

// S3Adapter implements Store against any S3-API-compatible backend
// with versioning enabled on the bucket. Because plain S3 has no
// native "commit" concept, the commit-per-operation discipline spec'd
// for the underlying content-addressed store is layered on top here:
// every Upload first computes the new content's checksum and compares
// it against the checksum of the current HEAD object before writing,
// so a byte-identical re-upload surfaces as ErrNoChange instead of a
// redundant new version.
type S3Adapter struct {
	client       *minio.Client
	bucket       string
	publicScheme string
	publicHost   string
	presignTTL   time.Duration
}

// NewS3Adapter constructs an adapter against an already-configured
// minio client. publicURL is the externally reachable endpoint that
// presigned URLs are rewritten to point at.
func NewS3Adapter(client *minio.Client, bucket, publicURL string) (*S3Adapter, error) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return nil, fmt.Errorf("objectstore: invalid public url: %w", err)
	}
	return &S3Adapter{
		client:       client,
		bucket:       bucket,
		publicScheme: u.Scheme,
		publicHost:   u.Host,
		presignTTL:   15 * time.Minute,
	}, nil
}

func objectKey(branch, key string) string {
	return branch + "/" + strings.TrimPrefix(key, "/")
}

// Upload implements Store.
func (a *S3Adapter) Upload(ctx context.Context, branch, key string, body io.Reader, contentType string, userMetadata map[string]string) (Commit, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return Commit{}, errtypes.StorageError(err.Error())
	}
	checksum := sha256Hex(data)
	fullKey := objectKey(branch, key)

	if existing, err := a.client.StatObject(ctx, a.bucket, fullKey, minio.StatObjectOptions{}); err == nil {
		if existingChecksum, ok := existing.UserMetadata["X-Amz-Meta-Checksum"]; ok && existingChecksum == checksum {
			return Commit{}, ErrNoChange
		}
	}

	meta := map[string]string{"checksum": checksum}
	for k, v := range userMetadata {
		meta[k] = v
	}

	info, err := retryUpload(ctx, func() (minio.UploadInfo, error) {
		return a.client.PutObject(ctx, a.bucket, fullKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: meta,
		})
	})
	if err != nil {
		return Commit{}, errtypes.StorageError(err.Error())
	}

	versionID := info.VersionID
	if versionID == "" {
		versionID = checksum
	}
	logger.Info().Str("key", fullKey).Str("version_id", versionID).Msg("committed object")
	return Commit{VersionID: versionID, Checksum: checksum}, nil
}

// Read implements Store.
func (a *S3Adapter) Read(ctx context.Context, branch, key, versionID string, wantContent bool) (Object, error) {
	fullKey := objectKey(branch, key)

	stat, err := a.client.StatObject(ctx, a.bucket, fullKey, minio.StatObjectOptions{VersionID: versionID})
	if err != nil {
		if isNotFound(err) {
			return Object{}, errtypes.NotFound(fmt.Sprintf("%s@%s", fullKey, versionID))
		}
		return Object{}, errtypes.StorageError(err.Error())
	}

	presigned, err := a.client.PresignedGetObject(ctx, a.bucket, fullKey, a.presignTTL, url.Values{"versionId": []string{versionID}})
	if err != nil {
		return Object{}, errtypes.StorageError(err.Error())
	}
	publicURL := rewriteHost(presigned, a.publicScheme, a.publicHost)

	obj := Object{
		ContentType: stat.ContentType,
		URL:         publicURL,
		VersionID:   versionID,
	}

	if wantContent {
		reader, err := a.client.GetObject(ctx, a.bucket, fullKey, minio.GetObjectOptions{VersionID: versionID})
		if err != nil {
			return Object{}, errtypes.StorageError(err.Error())
		}
		defer reader.Close()
		content, err := io.ReadAll(reader)
		if err != nil {
			return Object{}, errtypes.StorageError(err.Error())
		}
		obj.Content = content
	}
	return obj, nil
}

// Delete implements Store.
func (a *S3Adapter) Delete(ctx context.Context, branch, key, versionID string) error {
	fullKey := objectKey(branch, key)
	err := a.client.RemoveObject(ctx, a.bucket, fullKey, minio.RemoveObjectOptions{VersionID: versionID})
	if err != nil && !isNotFound(err) {
		return errtypes.StorageError(err.Error())
	}
	return nil
}

// DeleteAssociated implements Store.
func (a *S3Adapter) DeleteAssociated(ctx context.Context, branch, assetPrefix, primaryFilename string) error {
	keys, err := a.List(ctx, branch, assetPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if strings.HasSuffix(k, "/"+primaryFilename) || k == primaryFilename {
			continue
		}
		if err := a.Delete(ctx, branch, k, ""); err != nil {
			logger.Warn().Str("key", k).Err(err).Msg("failed to delete stale associated object")
		}
	}
	return nil
}

// List implements Store.
func (a *S3Adapter) List(ctx context.Context, branch, prefix string) ([]string, error) {
	fullPrefix := objectKey(branch, prefix)
	var keys []string
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: fullPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errtypes.StorageError(obj.Err.Error())
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, branch+"/"))
	}
	return keys, nil
}

// EnsureRepository implements Store. Buckets are the repository
// analogue in the S3 adapter; creation is idempotent.
func (a *S3Adapter) EnsureRepository(ctx context.Context, repoID, defaultBranch, storageNamespace string) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return errtypes.StorageError(err.Error())
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return errtypes.StorageError(err.Error())
	}
	return a.client.EnableVersioning(ctx, a.bucket)
}

// EnsureBranch implements Store. Branches are modeled as key
// namespaces (a leading "{branch}/" prefix), so there's nothing to
// provision up front beyond the bucket itself.
func (a *S3Adapter) EnsureBranch(ctx context.Context, repoID, branch, source string) error {
	return nil
}

// HeadVersion implements Store.
func (a *S3Adapter) HeadVersion(ctx context.Context, branch, assetPath string) (string, error) {
	stat, err := a.client.StatObject(ctx, a.bucket, objectKey(branch, assetPath), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", errtypes.StorageError(err.Error())
	}
	return stat.VersionID, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.Code == "NoSuchVersion"
}

func rewriteHost(u *url.URL, scheme, host string) string {
	rewritten := *u
	if scheme != "" {
		rewritten.Scheme = scheme
	}
	if host != "" {
		rewritten.Host = host
	}
	return rewritten.String()
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
