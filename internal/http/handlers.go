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

package http

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
	"github.com/opencloud-eu/assetmanager/pkg/identity"
	"github.com/opencloud-eu/assetmanager/pkg/lifecycle"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
)

const maxUploadMemory = 32 << 20

// handleCreateTenantAdmin implements POST /users: a brand-new admin
// account scoped to its own branch, named after the username.
func (s *Server) handleCreateTenantAdmin(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errtypes.InvalidInput("malformed request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, errtypes.InvalidInput(err.Error()))
		return
	}

	existing, err := s.meta.GetUserByName(r.Context(), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing != nil {
		writeError(w, errtypes.Conflict("username already exists"))
		return
	}

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		writeError(w, errtypes.Internal(err.Error()))
		return
	}
	branch := req.Username + "_space"
	if err := s.objects.EnsureBranch(r.Context(), s.repoID, branch, "main"); err != nil {
		writeError(w, err)
		return
	}
	if err := s.meta.CreateUser(r.Context(), req.Username, hash, branch, []metastore.Permission{metastore.PermAdmin}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success", Username: req.Username})
}

// handleLogin implements POST /token: an OAuth2-password-style form
// login producing a bearer credential.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, errtypes.InvalidInput("malformed form body"))
		return
	}
	username := r.FormValue("username")
	password := r.FormValue("password")

	user, err := s.auth.Authenticate(r.Context(), username, password)
	if err != nil {
		// Login failures are 401, not the 403 every other denied
		// request maps to: the caller has no credential yet.
		if _, ok := err.(errtypes.IsForbidden); ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Detail: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer", Username: user.Username, Branch: user.Branch})
}

// handleCreateSharedUser implements POST /shared-users: admin-only,
// creates a non-admin user scoped to the admin's own branch.
func (s *Server) handleCreateSharedUser(w http.ResponseWriter, r *http.Request) {
	admin := userFromContext(r)
	if !admin.Has(metastore.PermAdmin) {
		writeError(w, errtypes.Forbidden("only admins can create shared users"))
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errtypes.InvalidInput("malformed request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, errtypes.InvalidInput(err.Error()))
		return
	}
	if len(req.Permissions) == 0 {
		writeError(w, errtypes.InvalidInput("permissions are required"))
		return
	}
	for _, p := range req.Permissions {
		if p == metastore.PermAdmin {
			writeError(w, errtypes.Forbidden("shared users cannot be granted admin"))
			return
		}
	}

	existing, err := s.meta.GetUserByName(r.Context(), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing != nil {
		writeError(w, errtypes.Conflict("username already exists"))
		return
	}

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		writeError(w, errtypes.Internal(err.Error()))
		return
	}
	if err := s.meta.CreateUser(r.Context(), req.Username, hash, admin.Branch, req.Permissions); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success", Username: req.Username})
}

// handleDeleteSharedUser implements DELETE /shared-users: admin-only,
// restricted to shared users of the admin's own branch.
func (s *Server) handleDeleteSharedUser(w http.ResponseWriter, r *http.Request) {
	admin := userFromContext(r)
	if !admin.Has(metastore.PermAdmin) {
		writeError(w, errtypes.Forbidden("only admins can delete shared users"))
		return
	}

	var req userActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errtypes.InvalidInput("malformed request body"))
		return
	}
	if req.Username == "" {
		writeError(w, errtypes.InvalidInput("username is required"))
		return
	}

	target, err := s.meta.GetUserByName(r.Context(), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	if target == nil {
		writeError(w, errtypes.NotFound("user not found"))
		return
	}
	if target.Has(metastore.PermAdmin) {
		writeError(w, errtypes.InvalidInput("user is not a shared user"))
		return
	}
	if target.Branch != admin.Branch {
		writeError(w, errtypes.Forbidden("user is not a shared user of your branch"))
		return
	}

	if err := s.meta.DeleteUser(r.Context(), req.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success"})
}

// handleChangeSharedUserPermissions implements PUT /shared-users.
func (s *Server) handleChangeSharedUserPermissions(w http.ResponseWriter, r *http.Request) {
	admin := userFromContext(r)
	if !admin.Has(metastore.PermAdmin) {
		writeError(w, errtypes.Forbidden("only admins can change shared users' permissions"))
		return
	}

	var req userActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errtypes.InvalidInput("malformed request body"))
		return
	}
	if req.Username == "" {
		writeError(w, errtypes.InvalidInput("username is required"))
		return
	}
	if len(req.Permissions) == 0 {
		writeError(w, errtypes.InvalidInput("permissions are required"))
		return
	}
	for _, p := range req.Permissions {
		if p == metastore.PermAdmin {
			writeError(w, errtypes.Forbidden("shared users cannot be granted admin"))
			return
		}
	}

	target, err := s.meta.GetUserByName(r.Context(), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	if target == nil {
		writeError(w, errtypes.NotFound("user not found"))
		return
	}
	if target.Has(metastore.PermAdmin) {
		writeError(w, errtypes.InvalidInput("user is not a shared user"))
		return
	}
	if target.Branch != admin.Branch {
		writeError(w, errtypes.Forbidden("user is not a shared user of your branch"))
		return
	}

	if err := s.meta.ChangeSharedUserPermissions(r.Context(), req.Username, req.Permissions); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success"})
}

// handleUpload implements POST /fileupload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, errtypes.InvalidInput("malformed multipart form"))
		return
	}

	primary, err := readNamedFile(r.MultipartForm, "primary_file")
	if err != nil {
		writeError(w, errtypes.InvalidInput("primary_file is required"))
		return
	}
	associated, err := readNamedFiles(r.MultipartForm, "associated_files")
	if err != nil {
		writeError(w, errtypes.InvalidInput(err.Error()))
		return
	}

	archiveTTL, err := formInt(r, "archive_ttl", 30)
	if err != nil {
		writeError(w, errtypes.InvalidInput("archive_ttl must be an integer"))
		return
	}
	destroyTTL, err := formInt(r, "destroy_ttl", 30)
	if err != nil {
		writeError(w, errtypes.InvalidInput("destroy_ttl must be an integer"))
		return
	}
	if archiveTTL < 0 || destroyTTL < 0 {
		writeError(w, errtypes.InvalidInput("ttl values must not be negative"))
		return
	}

	record, err := s.coordinator.Upload(r.Context(), user, user.Branch, primary, associated, archiveTTL, destroyTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record.ToResponse())
}

// handleAddAssociatedFiles implements POST /add-associated-files/*.
func (s *Server) handleAddAssociatedFiles(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	assetPath := chi.URLParam(r, "*")

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, errtypes.InvalidInput("malformed multipart form"))
		return
	}
	associated, err := readNamedFiles(r.MultipartForm, "associated_files")
	if err != nil {
		writeError(w, errtypes.InvalidInput(err.Error()))
		return
	}
	targetVersionID := r.FormValue("primary_version_id")

	record, err := s.coordinator.AddAssociatedFiles(r.Context(), user, user.Branch, assetPath, associated, targetVersionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record.ToResponse())
}

// handleRetrieve implements GET /filedownload/{asset_path}/{version_id}.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	assetPath, versionID, ok := splitTrailingSegment(chi.URLParam(r, "*"))
	if !ok {
		writeError(w, errtypes.InvalidInput("asset path and version id are required"))
		return
	}
	wantContent, _ := strconv.ParseBool(r.URL.Query().Get("return_file_content"))

	result, err := s.coordinator.Retrieve(r.Context(), user, user.Branch, assetPath, versionID, wantContent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRetrieveResponse(result))
}

// handleArchive implements POST /filearchive/{asset_path}/{version_id}.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	assetPath, versionID, ok := splitTrailingSegment(chi.URLParam(r, "*"))
	if !ok {
		writeError(w, errtypes.InvalidInput("asset path and version id are required"))
		return
	}

	record, err := s.coordinator.Archive(r.Context(), user, user.Branch, assetPath, versionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record.ToResponse())
}

// handleDestroy implements POST /delfile/{asset_path}/{version_id}.
func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	assetPath, versionID, ok := splitTrailingSegment(chi.URLParam(r, "*"))
	if !ok {
		writeError(w, errtypes.InvalidInput("asset path and version id are required"))
		return
	}

	record, err := s.coordinator.Destroy(r.Context(), user, user.Branch, assetPath, versionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record.ToResponse())
}

// handleListVersions implements GET /fileversions/{asset_path}/{filename}.
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	assetPath, filename, ok := splitTrailingSegment(chi.URLParam(r, "*"))
	if !ok {
		writeError(w, errtypes.InvalidInput("asset path and filename are required"))
		return
	}

	entries, err := s.coordinator.ListVersions(r.Context(), user, user.Branch, assetPath+"/"+filename)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]versionEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, versionEntryResponse{
			Key:          e.Key,
			VersionID:    e.VersionID,
			LastModified: e.LastModified.Format(time.RFC3339),
			URL:          e.URL,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// splitTrailingSegment splits a chi wildcard capture into everything
// before the last "/" (the asset_path, itself possibly multi-segment)
// and the fixed-shape trailing segment (version_id or filename).
func splitTrailingSegment(path string) (head, tail string, ok bool) {
	idx := lastSlashIndex(path)
	if idx <= 0 || idx == len(path)-1 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}

func lastSlashIndex(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func formInt(r *http.Request, field string, fallback int) (int, error) {
	v := r.FormValue(field)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func readNamedFile(form *multipart.Form, field string) (lifecycle.NamedFile, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return lifecycle.NamedFile{}, errtypes.InvalidInput(field + " is required")
	}
	return openNamedFile(headers[0])
}

func readNamedFiles(form *multipart.Form, field string) ([]lifecycle.NamedFile, error) {
	headers := form.File[field]
	out := make([]lifecycle.NamedFile, 0, len(headers))
	for _, h := range headers {
		f, err := openNamedFile(h)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func openNamedFile(header *multipart.FileHeader) (lifecycle.NamedFile, error) {
	f, err := header.Open()
	if err != nil {
		return lifecycle.NamedFile{}, errtypes.InvalidInput("failed to open uploaded file " + header.Filename)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return lifecycle.NamedFile{}, errtypes.InvalidInput("failed to read uploaded file " + header.Filename)
	}
	return lifecycle.NamedFile{Filename: header.Filename, Content: content}, nil
}
