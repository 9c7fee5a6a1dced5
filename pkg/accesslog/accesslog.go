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

// Package accesslog wraps the metastore audit trail with the field
// set every lifecycle operation reports on, success or failure.
package accesslog

import (
	"context"
	"time"

	"github.com/opencloud-eu/assetmanager/pkg/alog"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
)

var logger = alog.New("accesslog")

// Logger records audit events against a metastore.Store. It never
// returns an error to callers: a failed audit write is logged, not
// propagated, so it cannot abort the operation it is describing.
type Logger struct {
	store metastore.Store
}

// New wraps store.
func New(store metastore.Store) *Logger {
	return &Logger{store: store}
}

// Record appends one audit event. Failures are logged, not returned:
// the audit trail is diagnostic, and losing an entry must never fail
// the operation it documents.
func (l *Logger) Record(ctx context.Context, username, assetPath, versionID, branch, operation string, success bool, details string) {
	event := metastore.AuditEvent{
		Username:  username,
		AssetPath: assetPath,
		VersionID: versionID,
		Branch:    branch,
		Operation: operation,
		Timestamp: time.Now(),
		Success:   success,
		Details:   details,
	}
	if err := l.store.LogAccess(ctx, event); err != nil {
		logger.Error().Err(err).Str("operation", operation).Str("asset_path", assetPath).Msg("failed to record audit event")
	}
}
