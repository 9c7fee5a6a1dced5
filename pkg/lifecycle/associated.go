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
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/opencloud-eu/assetmanager/pkg/filetype"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
	"github.com/opencloud-eu/assetmanager/pkg/objectstore"
	"github.com/opencloud-eu/assetmanager/pkg/pathutil"
)

// uploadAssociated fans out associated-file uploads with a bounded
// concurrency cap. Any per-file error is swallowed and logged; when a
// file's upload returns ErrNoChange, fallbackVersionID supplies the
// version_id to keep rather than skipping the file outright. Returns
// filename -> version_id for every file that succeeded.
func (c *Coordinator) uploadAssociated(ctx context.Context, branch, assetPath string, files []NamedFile, userMetadata map[string]string, fallbackVersionID func(filename string) (string, bool)) map[string]string {
	results := make(map[string]string, len(files))
	if len(files) == 0 {
		return results
	}

	var mu sync.Mutex
	sem := make(chan struct{}, c.AssociatedConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	for _, f := range files {
		f := f
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			defer func() { <-sem }()

			filename, err := pathutil.SanitizeFilename(f.Filename)
			if err != nil {
				logger.Warn().Err(err).Str("filename", f.Filename).Msg("skipping associated file with invalid name")
				return nil
			}

			contentType := detectAssociated(filename, f.Content)
			key := assetPath + "/" + filename
			commit, err := c.Objects.Upload(gctx, branch, key, bytes.NewReader(f.Content), contentType, userMetadata)
			switch {
			case err == objectstore.ErrNoChange:
				if versionID, ok := fallbackVersionID(filename); ok {
					mu.Lock()
					results[filename] = versionID
					mu.Unlock()
				}
			case err != nil:
				logger.Warn().Err(err).Str("filename", filename).Msg("associated file upload failed")
			default:
				mu.Lock()
				results[filename] = commit.VersionID
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// downloadAssociated fans out associated-file reads with the same
// bounded concurrency cap. Per-file failures are logged and omitted.
func (c *Coordinator) downloadAssociated(ctx context.Context, branch, assetPath string, files []metastore.AssociatedFile, wantContent bool) []RetrievedFile {
	if len(files) == 0 {
		return nil
	}

	var mu sync.Mutex
	var out []RetrievedFile
	sem := make(chan struct{}, c.AssociatedConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	for _, f := range files {
		f := f
		if f.Filename == "" {
			continue
		}
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			defer func() { <-sem }()

			obj, err := c.Objects.Read(gctx, branch, assetPath+"/"+f.Filename, f.VersionID, wantContent)
			if err != nil {
				logger.Warn().Err(err).Str("filename", f.Filename).Msg("failed to retrieve associated file")
				return nil
			}
			rf := RetrievedFile{
				Filename:    f.Filename,
				ContentType: obj.ContentType,
				VersionID:   obj.VersionID,
				URL:         obj.URL,
				Content:     obj.Content,
			}
			mu.Lock()
			out = append(out, rf)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func detectAssociated(filename string, content []byte) string {
	prefix := content
	if len(prefix) > 512 {
		prefix = prefix[:512]
	}
	return filetype.Detect(filename, prefix).MIMEType
}
