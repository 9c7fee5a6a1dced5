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
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
	"github.com/opencloud-eu/assetmanager/pkg/filetype"
	"github.com/opencloud-eu/assetmanager/pkg/identity"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
	"github.com/opencloud-eu/assetmanager/pkg/metrics"
	"github.com/opencloud-eu/assetmanager/pkg/objectstore"
	"github.com/opencloud-eu/assetmanager/pkg/pathutil"
	"github.com/opencloud-eu/assetmanager/pkg/vectormirror"
)

// Upload sanitizes and type-detects the primary file, commits it to
// the object store, fans out the associated files, and persists the
// merged record. A byte-identical re-upload resolves to the existing
// active record instead of minting a new version.
func (c *Coordinator) Upload(ctx context.Context, user *metastore.User, branch string, primary NamedFile, associated []NamedFile, archiveTTLDays, destroyTTLDays int) (*metastore.AssetVersion, error) {
	start := time.Now()
	record, err := c.upload(ctx, user, branch, primary, associated, archiveTTLDays, destroyTTLDays)
	metrics.Observe("upload", start, &err)
	return record, err
}

func (c *Coordinator) upload(ctx context.Context, user *metastore.User, branch string, primary NamedFile, associated []NamedFile, archiveTTLDays, destroyTTLDays int) (*metastore.AssetVersion, error) {
	if err := identity.Check(user, branch, metastore.PermUpload); err != nil {
		return nil, err
	}

	primaryFilename, err := pathutil.SanitizeFilename(primary.Filename)
	if err != nil {
		return nil, err
	}

	prefix := primary.Content
	if len(prefix) > 512 {
		prefix = prefix[:512]
	}
	info := filetype.Detect(primaryFilename, prefix)

	basePath, err := pathutil.SanitizePath(info.BasePath)
	if err != nil {
		return nil, err
	}
	assetPath, err := pathutil.SanitizePath(basePath + "/" + pathutil.Stem(primaryFilename))
	if err != nil {
		return nil, err
	}
	primaryKey := assetPath + "/" + primaryFilename

	uploadDate := c.now()
	archiveDate := uploadDate.AddDate(0, 0, archiveTTLDays)
	destroyDate := archiveDate.AddDate(0, 0, destroyTTLDays)
	userMetadata := userMetadataFor(uploadDate, archiveDate, destroyDate)

	var prior *metastore.AssetVersion
	var versionID, checksum string

	commit, err := c.Objects.Upload(ctx, branch, primaryKey, bytes.NewReader(primary.Content), info.MIMEType, userMetadata)
	switch {
	case err == objectstore.ErrNoChange:
		prior, err = c.Meta.GetLatestActive(ctx, assetPath, branch)
		if err != nil {
			return nil, err
		}
		if prior == nil {
			return nil, errtypes.Internal("primary file unchanged but no prior active record found")
		}
		versionID, checksum = prior.VersionID, prior.Checksum
	case err != nil:
		c.Audit.Record(ctx, user.Username, assetPath, "", branch, "upload", false, err.Error())
		return nil, errtypes.StorageError(err.Error())
	default:
		versionID, checksum = commit.VersionID, commit.Checksum
		if derr := c.Objects.DeleteAssociated(ctx, branch, assetPath, primaryFilename); derr != nil {
			logger.Warn().Err(derr).Str("asset_path", assetPath).Msg("failed to purge stale associated files")
		}
	}

	fallback := func(filename string) (string, bool) {
		if prior != nil {
			if v, ok := prior.AssociatedMap()[filename]; ok {
				return v, true
			}
			return "", false
		}
		active, gerr := c.Meta.GetLatestActive(ctx, assetPath, branch)
		if gerr != nil || active == nil {
			return "", false
		}
		v, ok := active.AssociatedMap()[filename]
		return v, ok
	}
	newAssociated := c.uploadAssociated(ctx, branch, assetPath, associated, userMetadata, fallback)

	var record *metastore.AssetVersion
	if prior == nil {
		record = &metastore.AssetVersion{
			AssetPath:       assetPath,
			VersionID:       versionID,
			PrimaryFilename: primaryFilename,
			UploadDate:      uploadDate,
			ArchiveDate:     archiveDate,
			DestroyDate:     destroyDate,
			Branch:          branch,
			Status:          metastore.StatusActive,
			Checksum:        checksum,
		}
		record.SetAssociatedFromMap(newAssociated)
	} else {
		merged := prior.AssociatedMap()
		for filename, vid := range newAssociated {
			merged[filename] = vid
		}
		prior.SetAssociatedFromMap(merged)
		record = prior
	}

	changeStatus, err := c.Meta.IsPrimaryChanged(ctx, checksum, assetPath, branch)
	if err != nil {
		return nil, err
	}
	record.ChangeStatus = changeStatus

	if err := c.Meta.SaveMetadata(ctx, record); err != nil {
		return nil, err
	}

	c.mirrorUpsert(ctx, record, info.MediaClass)

	c.Audit.Record(ctx, user.Username, assetPath, versionID, branch, "upload", true, "")
	return record, nil
}

// mirrorUpsert pushes the record's current state into the vector
// mirror. Mirror failures never fail the operation that triggered them.
func (c *Coordinator) mirrorUpsert(ctx context.Context, record *metastore.AssetVersion, mediaClass filetype.MediaClass) {
	err := c.Vectors.UpsertOrUpdate(ctx, vectormirror.Point{
		AssetPath:  record.AssetPath,
		VersionID:  record.VersionID,
		Branch:     record.Branch,
		MediaClass: string(mediaClass),
		Payload: map[string]any{
			"asset_path":       record.AssetPath,
			"version_id":       record.VersionID,
			"primary_filename": record.PrimaryFilename,
			"status":           string(record.Status),
			"upload_date":      record.UploadDate.Format(time.RFC3339),
		},
	})
	if err != nil {
		logger.Warn().Err(err).Str("asset_path", record.AssetPath).Msg("vector mirror upsert failed")
		metrics.VectorMirrorFailuresTotal.WithLabelValues("upsert_or_update").Inc()
	}
}

// AddAssociatedFiles appends sidecar files to an existing active
// version, merging by filename with the newest upload winning.
func (c *Coordinator) AddAssociatedFiles(ctx context.Context, user *metastore.User, branch, assetPath string, files []NamedFile, targetVersionID string) (*metastore.AssetVersion, error) {
	start := time.Now()
	record, err := c.addAssociatedFiles(ctx, user, branch, assetPath, files, targetVersionID)
	metrics.Observe("add_associated_files", start, &err)
	return record, err
}

func (c *Coordinator) addAssociatedFiles(ctx context.Context, user *metastore.User, branch, assetPath string, files []NamedFile, targetVersionID string) (*metastore.AssetVersion, error) {
	if err := identity.Check(user, branch, metastore.PermUpload); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errtypes.InvalidInput("no associated files provided")
	}

	assetPath, err := pathutil.SanitizePath(assetPath)
	if err != nil {
		return nil, err
	}

	var target *metastore.AssetVersion
	if targetVersionID != "" {
		target, err = c.Meta.GetByPathVersion(ctx, assetPath, targetVersionID, branch)
	} else {
		target, err = c.Meta.GetLatestActive(ctx, assetPath, branch)
	}
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errtypes.NotFound(assetPath)
	}
	if target.Status != metastore.StatusActive {
		return nil, errtypes.PreconditionFailed("target asset version is not active")
	}

	userMetadata := userMetadataFor(target.UploadDate, target.ArchiveDate, target.DestroyDate)

	fallback := func(filename string) (string, bool) {
		v, ok := target.AssociatedMap()[filename]
		return v, ok
	}
	newAssociated := c.uploadAssociated(ctx, branch, assetPath, files, userMetadata, fallback)
	if len(newAssociated) == 0 {
		return nil, errtypes.StorageError("all associated file uploads failed")
	}

	merged := target.AssociatedMap()
	for filename, vid := range newAssociated {
		merged[filename] = vid
	}
	target.SetAssociatedFromMap(merged)

	if err := c.Meta.SaveMetadata(ctx, target); err != nil {
		return nil, err
	}

	c.mirrorUpsert(ctx, target, filetype.Detect(target.PrimaryFilename, nil).MediaClass)

	c.Audit.Record(ctx, user.Username, assetPath, target.VersionID, branch, "add_associated_files", true, fmt.Sprintf("added %d associated files", len(newAssociated)))
	return target, nil
}

// Retrieve loads a version's metadata and fetches its primary and
// associated files. The primary must exist; associated files that fail
// to fetch are dropped from the response.
func (c *Coordinator) Retrieve(ctx context.Context, user *metastore.User, branch, assetPath, versionID string, wantContent bool) (*RetrieveResult, error) {
	start := time.Now()
	result, err := c.retrieve(ctx, user, branch, assetPath, versionID, wantContent)
	metrics.Observe("retrieve", start, &err)
	return result, err
}

func (c *Coordinator) retrieve(ctx context.Context, user *metastore.User, branch, assetPath, versionID string, wantContent bool) (*RetrieveResult, error) {
	if err := identity.Check(user, branch, metastore.PermDownload); err != nil {
		return nil, err
	}

	assetPath, err := pathutil.SanitizePath(assetPath)
	if err != nil {
		return nil, err
	}

	record, err := c.Meta.GetByPathVersion(ctx, assetPath, versionID, branch)
	if err != nil {
		return nil, err
	}
	if record == nil {
		c.Audit.Record(ctx, user.Username, assetPath, versionID, branch, "retrieve", false, "asset not found")
		return nil, errtypes.NotFound(assetPath)
	}

	primaryObj, err := c.Objects.Read(ctx, branch, assetPath+"/"+record.PrimaryFilename, record.VersionID, wantContent)
	if err != nil {
		c.Audit.Record(ctx, user.Username, assetPath, versionID, branch, "retrieve", false, "primary file not found")
		return nil, errtypes.NotFound(record.PrimaryFilename)
	}

	associatedFiles := c.downloadAssociated(ctx, branch, assetPath, record.AssociatedFilenames, wantContent)

	c.Audit.Record(ctx, user.Username, assetPath, versionID, branch, "retrieve", true, "")
	return &RetrieveResult{
		Metadata: record.ToResponse(),
		PrimaryFile: RetrievedFile{
			Filename:    record.PrimaryFilename,
			ContentType: primaryObj.ContentType,
			VersionID:   primaryObj.VersionID,
			URL:         primaryObj.URL,
			Content:     primaryObj.Content,
		},
		AssociatedFiles: associatedFiles,
	}, nil
}

// Archive transitions an active version to archived, then polls the
// metadata store until the new status is observable so callers never
// read their own write as stale.
func (c *Coordinator) Archive(ctx context.Context, user *metastore.User, branch, assetPath, versionID string) (*metastore.AssetVersion, error) {
	start := time.Now()
	record, err := c.archive(ctx, user, branch, assetPath, versionID)
	metrics.Observe("archive", start, &err)
	return record, err
}

func (c *Coordinator) archive(ctx context.Context, user *metastore.User, branch, assetPath, versionID string) (*metastore.AssetVersion, error) {
	if err := identity.Check(user, branch, metastore.PermArchive); err != nil {
		return nil, err
	}

	assetPath, err := pathutil.SanitizePath(assetPath)
	if err != nil {
		return nil, err
	}

	record, err := c.Meta.GetByPathVersion(ctx, assetPath, versionID, branch)
	if err != nil {
		return nil, err
	}
	if record == nil {
		c.Audit.Record(ctx, user.Username, assetPath, versionID, branch, "archive", false, "asset not found")
		return nil, errtypes.NotFound(assetPath)
	}
	if record.Status != metastore.StatusActive {
		c.Audit.Record(ctx, user.Username, assetPath, versionID, branch, "archive", false, "asset is "+string(record.Status))
		return nil, errtypes.PreconditionFailed("asset is " + string(record.Status))
	}

	if err := c.Meta.UpdateStatus(ctx, assetPath, versionID, branch, metastore.StatusArchived); err != nil {
		return nil, err
	}

	if verr := c.Vectors.MarkArchived(ctx, assetPath, versionID, branch, mediaClassOf(record.PrimaryFilename)); verr != nil {
		logger.Warn().Err(verr).Str("asset_path", assetPath).Msg("vector mirror archive failed")
		metrics.VectorMirrorFailuresTotal.WithLabelValues("mark_archived").Inc()
	}

	c.Audit.Record(ctx, user.Username, assetPath, versionID, branch, "archive", true, "")

	archived, err := c.waitUntilArchived(ctx, assetPath, versionID, branch)
	if err != nil {
		return nil, err
	}
	return archived, nil
}

func (c *Coordinator) waitUntilArchived(ctx context.Context, assetPath, versionID, branch string) (*metastore.AssetVersion, error) {
	deadline := time.Now().Add(c.ArchiveVisibilityTimeout)
	for {
		record, err := c.Meta.GetByPathVersion(ctx, assetPath, versionID, branch)
		if err != nil {
			return nil, err
		}
		if record != nil && record.Status == metastore.StatusArchived {
			return record, nil
		}
		if time.Now().After(deadline) {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.ArchivePollInterval):
		}
	}
}

// Destroy removes an archived version. Blobs are physically deleted
// only when the version is the object-store head; older versions stay
// behind for the store's own garbage collection.
func (c *Coordinator) Destroy(ctx context.Context, user *metastore.User, branch, assetPath, versionID string) (*metastore.AssetVersion, error) {
	start := time.Now()
	record, err := c.destroy(ctx, user, branch, assetPath, versionID)
	metrics.Observe("destroy", start, &err)
	return record, err
}

func (c *Coordinator) destroy(ctx context.Context, user *metastore.User, branch, assetPath, versionID string) (*metastore.AssetVersion, error) {
	if err := identity.Check(user, branch, metastore.PermDestroy); err != nil {
		return nil, err
	}

	assetPath, err := pathutil.SanitizePath(assetPath)
	if err != nil {
		return nil, err
	}

	record, err := c.Meta.GetByPathVersion(ctx, assetPath, versionID, branch)
	if err != nil {
		return nil, err
	}
	if record == nil {
		c.Audit.Record(ctx, user.Username, assetPath, versionID, branch, "destroy", false, "asset not found")
		return nil, errtypes.NotFound(assetPath)
	}
	if record.Status != metastore.StatusArchived {
		c.Audit.Record(ctx, user.Username, assetPath, versionID, branch, "destroy", false, "asset is "+string(record.Status))
		return nil, errtypes.PreconditionFailed("asset is not archived")
	}

	headVersion, err := c.Meta.GetHeadVersion(ctx, assetPath, branch)
	if err != nil {
		return nil, err
	}
	if headVersion == record.VersionID {
		c.deleteBlobs(ctx, branch, assetPath, record)
	} else {
		logger.Info().Str("asset_path", assetPath).Str("version_id", versionID).Msg("destroy target is not the head version, leaving blobs to garbage collection")
	}

	if err := c.Meta.DeleteMetadata(ctx, assetPath, versionID, branch); err != nil {
		return nil, err
	}

	if mediaClass := mediaClassOf(record.PrimaryFilename); mediaClass != "" {
		if verr := c.Vectors.Delete(ctx, assetPath, versionID, branch, mediaClass); verr != nil {
			logger.Warn().Err(verr).Str("asset_path", assetPath).Msg("vector mirror delete failed")
			metrics.VectorMirrorFailuresTotal.WithLabelValues("delete").Inc()
		}
	}

	c.Audit.Record(ctx, user.Username, assetPath, versionID, branch, "destroy", true, "")

	record.Status = metastore.StatusDestroyed
	return record, nil
}

func (c *Coordinator) deleteBlobs(ctx context.Context, branch, assetPath string, record *metastore.AssetVersion) {
	if err := c.Objects.Delete(ctx, branch, assetPath+"/"+record.PrimaryFilename, record.VersionID); err != nil {
		logger.Error().Err(err).Str("asset_path", assetPath).Msg("failed to delete primary file")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range record.AssociatedFilenames {
		f := f
		if f.Filename == "" {
			continue
		}
		g.Go(func() error {
			if err := c.Objects.Delete(gctx, branch, assetPath+"/"+f.Filename, f.VersionID); err != nil {
				logger.Error().Err(err).Str("filename", f.Filename).Msg("failed to delete associated file")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ListVersions returns every active version stored under key, each
// with a freshly presigned URL.
func (c *Coordinator) ListVersions(ctx context.Context, user *metastore.User, branch, key string) ([]VersionEntry, error) {
	start := time.Now()
	entries, err := c.listVersions(ctx, user, branch, key)
	metrics.Observe("list_versions", start, &err)
	return entries, err
}

func (c *Coordinator) listVersions(ctx context.Context, user *metastore.User, branch, key string) ([]VersionEntry, error) {
	if err := identity.Check(user, branch, metastore.PermList); err != nil {
		return nil, err
	}

	key, err := pathutil.SanitizePath(key)
	if err != nil {
		return nil, err
	}
	basePath := key
	if idx := lastSlash(key); idx >= 0 {
		basePath = key[:idx]
	}

	rows, err := c.Meta.ListVersionsByKey(ctx, key, branch)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var entries []VersionEntry
	sem := make(chan struct{}, c.AssociatedConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	for _, row := range rows {
		row := row
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			defer func() { <-sem }()

			obj, err := c.Objects.Read(gctx, branch, key, row.VersionID, false)
			if err != nil {
				c.Audit.Record(gctx, user.Username, row.AssetPath, row.VersionID, branch, "list_version", false, err.Error())
				return nil
			}
			mu.Lock()
			entries = append(entries, VersionEntry{Key: key, VersionID: row.VersionID, LastModified: row.UploadDate, URL: obj.URL})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.Audit.Record(ctx, user.Username, basePath, "", branch, "list", true, "")
	return entries, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func mediaClassOf(filename string) string {
	return string(filetype.Detect(filename, nil).MediaClass)
}
