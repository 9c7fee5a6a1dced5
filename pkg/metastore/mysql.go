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
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/opencloud-eu/assetmanager/pkg/alog"
	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
)

var logger = alog.New("metastore")

const schema = `
CREATE TABLE IF NOT EXISTS commit_history (
	asset_path VARCHAR(255),
	version_id VARCHAR(255),
	branch VARCHAR(255),
	primary_filename VARCHAR(255),
	asset_key VARCHAR(255),
	associated_filenames JSON,
	upload_date DATETIME,
	archive_date DATETIME,
	destroy_date DATETIME,
	status VARCHAR(50),
	checksum VARCHAR(255),
	PRIMARY KEY (asset_path, version_id, branch)
);
CREATE TABLE IF NOT EXISTS users (
	username VARCHAR(255) PRIMARY KEY,
	password_hash VARCHAR(255),
	branch VARCHAR(255),
	permissions JSON,
	created_at DATETIME
);
CREATE TABLE IF NOT EXISTS audit_log (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	username VARCHAR(255),
	asset_path VARCHAR(255),
	version_id VARCHAR(255),
	branch VARCHAR(255),
	operation VARCHAR(50),
	timestamp DATETIME,
	success BOOLEAN,
	details TEXT
);
`

var indexes = []string{
	`CREATE INDEX idx_archive_date ON commit_history (archive_date)`,
	`CREATE INDEX idx_destroy_date ON commit_history (destroy_date)`,
	`CREATE INDEX idx_status ON commit_history (status)`,
	`CREATE INDEX idx_asset_key ON commit_history (asset_key)`,
	`CREATE INDEX idx_asset_path_branch ON commit_history (asset_path, branch)`,
	`CREATE INDEX idx_asset_path_version_branch ON commit_history (asset_path, version_id, branch)`,
	`CREATE INDEX idx_checksum_branch ON commit_history (checksum, branch)`,
	`CREATE INDEX idx_audit_log ON audit_log (asset_path, version_id, branch)`,
}

// MySQL is the production MetadataStore backed by database/sql and
// the go-sql-driver/mysql driver.
type MySQL struct {
	db        *sql.DB
	headCache *HeadCache
}

// DSN builds a go-sql-driver/mysql data source name from discrete
// fields.
func DSN(user, password, host string, port int, database string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true", user, password, host, port, database)
}

// Open connects to MySQL, applies the schema, and returns a ready
// Store. Safe to call repeatedly - schema application is idempotent.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int, headCacheSize int, headCacheTTL time.Duration) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errtypes.StorageError(err.Error())
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	if err := db.PingContext(ctx); err != nil {
		return nil, errtypes.StorageError(err.Error())
	}

	m := &MySQL{db: db, headCache: NewHeadCache(headCacheSize, headCacheTTL)}
	if err := m.initSchema(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MySQL) initSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return errtypes.StorageError(err.Error())
	}
	for _, idx := range indexes {
		if _, err := m.db.ExecContext(ctx, idx); err != nil {
			// MySQL error 1061 is "duplicate key name" - idempotent re-run.
			if !isDuplicateKeyName(err) {
				return errtypes.StorageError(err.Error())
			}
		}
	}
	logger.Info().Msg("metadata schema initialized")
	return nil
}

// The mysql driver surfaces these as *mysql.MySQLError values; string
// matching keeps this file independent of that type's stability.
func isDuplicateKeyName(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "1061") || strings.Contains(err.Error(), "Duplicate key name"))
}

func (m *MySQL) SaveMetadata(ctx context.Context, a *AssetVersion) error {
	assocJSON, err := json.Marshal(a.AssociatedFilenames)
	if err != nil {
		return errtypes.Internal(err.Error())
	}
	a.AssetKey = a.AssetPath + "/" + a.PrimaryFilename

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO commit_history (
			asset_path, version_id, primary_filename, asset_key, associated_filenames,
			upload_date, archive_date, destroy_date, branch, status, checksum
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			primary_filename = VALUES(primary_filename),
			asset_key = VALUES(asset_key),
			associated_filenames = VALUES(associated_filenames),
			upload_date = VALUES(upload_date),
			archive_date = VALUES(archive_date),
			destroy_date = VALUES(destroy_date),
			status = VALUES(status),
			checksum = VALUES(checksum)
	`, a.AssetPath, a.VersionID, a.PrimaryFilename, a.AssetKey, assocJSON,
		a.UploadDate, a.ArchiveDate, a.DestroyDate, a.Branch, a.Status, a.Checksum)
	if err != nil {
		return errtypes.StorageError(err.Error())
	}
	m.headCache.Invalidate(a.Branch, a.AssetPath)
	return nil
}

const selectColumns = `asset_path, version_id, primary_filename, asset_key, associated_filenames,
	upload_date, archive_date, destroy_date, branch, status, checksum`

func (m *MySQL) scanOne(row *sql.Row) (*AssetVersion, error) {
	var a AssetVersion
	var assocJSON []byte
	err := row.Scan(&a.AssetPath, &a.VersionID, &a.PrimaryFilename, &a.AssetKey, &assocJSON,
		&a.UploadDate, &a.ArchiveDate, &a.DestroyDate, &a.Branch, &a.Status, &a.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errtypes.StorageError(err.Error())
	}
	if len(assocJSON) > 0 {
		if err := json.Unmarshal(assocJSON, &a.AssociatedFilenames); err != nil {
			return nil, errtypes.Internal(err.Error())
		}
	}
	return &a, nil
}

func (m *MySQL) GetLatestActive(ctx context.Context, assetPath, branch string) (*AssetVersion, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM commit_history
		WHERE asset_path = ? AND status = 'active' AND branch = ?
		ORDER BY upload_date DESC LIMIT 1
	`, assetPath, branch)
	return m.scanOne(row)
}

func (m *MySQL) GetByPathVersion(ctx context.Context, assetPath, versionID, branch string) (*AssetVersion, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM commit_history
		WHERE asset_path = ? AND version_id = ? AND branch = ?
	`, assetPath, versionID, branch)
	return m.scanOne(row)
}

func (m *MySQL) UpdateStatus(ctx context.Context, assetPath, versionID, branch string, status Status) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE commit_history SET status = ? WHERE asset_path = ? AND version_id = ? AND branch = ?
	`, status, assetPath, versionID, branch)
	if err != nil {
		return errtypes.StorageError(err.Error())
	}
	m.headCache.Invalidate(branch, assetPath)
	return nil
}

func (m *MySQL) DeleteMetadata(ctx context.Context, assetPath, versionID, branch string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errtypes.StorageError(err.Error())
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM commit_history WHERE asset_path = ? AND version_id = ? AND branch = ?`, assetPath, versionID, branch); err != nil {
		return errtypes.StorageError(err.Error())
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_log WHERE asset_path = ? AND version_id = ? AND branch = ?`, assetPath, versionID, branch); err != nil {
		return errtypes.StorageError(err.Error())
	}
	if err := tx.Commit(); err != nil {
		return errtypes.StorageError(err.Error())
	}
	m.headCache.Invalidate(branch, assetPath)
	return nil
}

func (m *MySQL) ListVersionsByKey(ctx context.Context, assetKey, branch string) ([]*AssetVersion, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM commit_history
		WHERE asset_key = ? AND branch = ? AND status = 'active'
		ORDER BY upload_date DESC
	`, assetKey, branch)
	if err != nil {
		return nil, errtypes.StorageError(err.Error())
	}
	defer rows.Close()

	var out []*AssetVersion
	for rows.Next() {
		var a AssetVersion
		var assocJSON []byte
		if err := rows.Scan(&a.AssetPath, &a.VersionID, &a.PrimaryFilename, &a.AssetKey, &assocJSON,
			&a.UploadDate, &a.ArchiveDate, &a.DestroyDate, &a.Branch, &a.Status, &a.Checksum); err != nil {
			return nil, errtypes.StorageError(err.Error())
		}
		if len(assocJSON) > 0 {
			_ = json.Unmarshal(assocJSON, &a.AssociatedFilenames)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (m *MySQL) GetHeadVersion(ctx context.Context, assetPath, branch string) (string, error) {
	if v, ok := m.headCache.Get(branch, assetPath); ok {
		return v, nil
	}

	var versionID string
	err := m.db.QueryRowContext(ctx, `
		SELECT version_id FROM commit_history
		WHERE asset_path = ? AND branch = ?
		ORDER BY upload_date DESC LIMIT 1
	`, assetPath, branch).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errtypes.StorageError(err.Error())
	}
	m.headCache.Set(branch, assetPath, versionID)
	return versionID, nil
}

func (m *MySQL) IsPrimaryChanged(ctx context.Context, checksum, assetPath, branch string) (ChangeStatus, error) {
	var existingAssetPath, existingVersionID, existingPrimary string
	err := m.db.QueryRowContext(ctx, `
		SELECT asset_path, version_id, primary_filename FROM commit_history
		WHERE checksum = ? AND branch = ? AND status = 'active' LIMIT 1
	`, checksum, branch).Scan(&existingAssetPath, &existingVersionID, &existingPrimary)
	if errors.Is(err, sql.ErrNoRows) {
		return ChangeStatus{Changed: true, Message: "new file"}, nil
	}
	if err != nil {
		return ChangeStatus{}, errtypes.StorageError(err.Error())
	}
	if existingAssetPath == assetPath {
		return ChangeStatus{Changed: false, Message: fmt.Sprintf("exists at same path: %s (version %s)", existingAssetPath, existingVersionID)}, nil
	}
	return ChangeStatus{Changed: false, Message: fmt.Sprintf("exists under %s as %s (version %s)", existingAssetPath, existingPrimary, existingVersionID)}, nil
}

func (m *MySQL) AssetsToArchive(ctx context.Context, before time.Time) ([]*AssetVersion, error) {
	return m.queryByDate(ctx, `status = 'active' AND archive_date <= ?`, before)
}

func (m *MySQL) AssetsToDestroy(ctx context.Context, before time.Time) ([]*AssetVersion, error) {
	return m.queryByDate(ctx, `status = 'archived' AND destroy_date <= ?`, before)
}

func (m *MySQL) queryByDate(ctx context.Context, where string, before time.Time) ([]*AssetVersion, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM commit_history WHERE `+where, before)
	if err != nil {
		return nil, errtypes.StorageError(err.Error())
	}
	defer rows.Close()

	var out []*AssetVersion
	for rows.Next() {
		var a AssetVersion
		var assocJSON []byte
		if err := rows.Scan(&a.AssetPath, &a.VersionID, &a.PrimaryFilename, &a.AssetKey, &assocJSON,
			&a.UploadDate, &a.ArchiveDate, &a.DestroyDate, &a.Branch, &a.Status, &a.Checksum); err != nil {
			return nil, errtypes.StorageError(err.Error())
		}
		if len(assocJSON) > 0 {
			_ = json.Unmarshal(assocJSON, &a.AssociatedFilenames)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (m *MySQL) LogAccess(ctx context.Context, e AuditEvent) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO audit_log (username, asset_path, version_id, branch, operation, timestamp, success, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Username, e.AssetPath, e.VersionID, e.Branch, e.Operation, e.Timestamp, e.Success, e.Details)
	if err != nil {
		return errtypes.StorageError(err.Error())
	}
	return nil
}

func (m *MySQL) CleanupLogs(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	var total int64
	for {
		res, err := m.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < ? LIMIT ?`, before, batchSize)
		if err != nil {
			return total, errtypes.StorageError(err.Error())
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, errtypes.StorageError(err.Error())
		}
		total += n
		if n == 0 {
			break
		}
	}
	return total, nil
}

func (m *MySQL) GetUserByName(ctx context.Context, username string) (*User, error) {
	var u User
	var permJSON []byte
	err := m.db.QueryRowContext(ctx, `
		SELECT username, password_hash, branch, permissions FROM users WHERE username = ?
	`, username).Scan(&u.Username, &u.PasswordHash, &u.Branch, &permJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errtypes.StorageError(err.Error())
	}
	if len(permJSON) > 0 {
		if err := json.Unmarshal(permJSON, &u.Permissions); err != nil {
			return nil, errtypes.Internal(err.Error())
		}
	}
	return &u, nil
}

func (m *MySQL) CreateUser(ctx context.Context, username, passwordHash, branch string, permissions []Permission) error {
	permJSON, err := json.Marshal(permissions)
	if err != nil {
		return errtypes.Internal(err.Error())
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, branch, permissions, created_at) VALUES (?, ?, ?, ?, ?)
	`, username, passwordHash, branch, permJSON, time.Now())
	if err != nil {
		if isDuplicateEntry(err) {
			return errtypes.Conflict(fmt.Sprintf("user %q already exists", username))
		}
		return errtypes.StorageError(err.Error())
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "1062") || strings.Contains(err.Error(), "Duplicate entry"))
}

func (m *MySQL) DeleteUser(ctx context.Context, username string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return errtypes.StorageError(err.Error())
	}
	return nil
}

func (m *MySQL) ChangeSharedUserPermissions(ctx context.Context, username string, permissions []Permission) error {
	for _, p := range permissions {
		if p == PermAdmin {
			return errtypes.Forbidden("shared users cannot be granted admin")
		}
	}
	permJSON, err := json.Marshal(permissions)
	if err != nil {
		return errtypes.Internal(err.Error())
	}
	_, err = m.db.ExecContext(ctx, `UPDATE users SET permissions = ? WHERE username = ?`, permJSON, username)
	if err != nil {
		return errtypes.StorageError(err.Error())
	}
	return nil
}

// Close releases the underlying connection pool.
func (m *MySQL) Close() error { return m.db.Close() }
