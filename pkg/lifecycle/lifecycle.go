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

// Package lifecycle is the coordinator at the center of the asset
// manager: it drives the object store, metadata store, and vector
// mirror through the upload/retrieve/archive/destroy state machine,
// enforcing permissions and the monotonic status transitions along
// the way.
package lifecycle

import (
	"time"

	"github.com/opencloud-eu/assetmanager/pkg/accesslog"
	"github.com/opencloud-eu/assetmanager/pkg/alog"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
	"github.com/opencloud-eu/assetmanager/pkg/objectstore"
	"github.com/opencloud-eu/assetmanager/pkg/vectormirror"
)

var logger = alog.New("lifecycle")

// NamedFile is one uploaded blob paired with its client-supplied name.
type NamedFile struct {
	Filename string
	Content  []byte
}

// RetrievedFile is one file in a Retrieve response.
type RetrievedFile struct {
	Filename    string
	ContentType string
	VersionID   string
	URL         string
	Content     []byte
}

// RetrieveResult is the full response of a Retrieve call.
type RetrieveResult struct {
	Metadata        metastore.Response
	PrimaryFile     RetrievedFile
	AssociatedFiles []RetrievedFile
}

// VersionEntry is one row of a ListVersions response.
type VersionEntry struct {
	Key          string
	VersionID    string
	LastModified time.Time
	URL          string
}

// Coordinator wires the three collaborator stores together behind the
// lifecycle operations. Every field is safe for concurrent use, which
// is what lets a single Coordinator serve every in-flight request.
type Coordinator struct {
	Objects objectstore.Store
	Meta    metastore.Store
	Vectors vectormirror.Mirror
	Audit   *accesslog.Logger

	Location *time.Location

	// AssociatedConcurrency bounds how many associated-file uploads or
	// downloads run at once per request. Clamped to [1,16].
	AssociatedConcurrency int

	// ArchiveVisibilityTimeout bounds how long Archive polls the
	// metadata store waiting for the status update to become visible.
	ArchiveVisibilityTimeout time.Duration
	ArchivePollInterval      time.Duration
}

// New builds a Coordinator. A zero-valued AssociatedConcurrency is
// raised to the default of 4.
func New(objects objectstore.Store, meta metastore.Store, vectors vectormirror.Mirror, audit *accesslog.Logger, loc *time.Location, associatedConcurrency int) *Coordinator {
	if associatedConcurrency <= 0 {
		associatedConcurrency = 4
	}
	if associatedConcurrency > 16 {
		associatedConcurrency = 16
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Coordinator{
		Objects:                  objects,
		Meta:                     meta,
		Vectors:                  vectors,
		Audit:                    audit,
		Location:                 loc,
		AssociatedConcurrency:    associatedConcurrency,
		ArchiveVisibilityTimeout: 5 * time.Second,
		ArchivePollInterval:      25 * time.Millisecond,
	}
}

func (c *Coordinator) now() time.Time { return time.Now().In(c.Location) }

func userMetadataFor(uploadDate, archiveDate, destroyDate time.Time) map[string]string {
	return map[string]string{
		"upload_date":  uploadDate.Format(time.RFC3339),
		"archive_date": archiveDate.Format(time.RFC3339),
		"destroy_date": destroyDate.Format(time.RFC3339),
	}
}
