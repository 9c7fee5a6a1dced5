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
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencloud-eu/assetmanager/pkg/accesslog"
	"github.com/opencloud-eu/assetmanager/pkg/lifecycle"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
	"github.com/opencloud-eu/assetmanager/pkg/objectstore"
	"github.com/opencloud-eu/assetmanager/pkg/token/jwtmanager"
	"github.com/opencloud-eu/assetmanager/pkg/vectormirror"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	meta := metastore.NewMemory()
	objects := objectstore.NewMemory()
	vectors := vectormirror.NewMemory()
	audit := accesslog.New(meta)
	coordinator := lifecycle.New(objects, meta, vectors, audit, time.UTC, 4)
	tokens := jwtmanager.New([]byte("test-secret"), "HS256", time.Hour)
	return NewServer(coordinator, meta, objects, "assets-repo", tokens, audit)
}

func createTenant(t *testing.T, s *Server, username, password string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func login(t *testing.T, s *Server, username, password string) string {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func uploadFile(t *testing.T, s *Server, token, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("primary_file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/fileupload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestCreateTenantThenLoginThenUpload(t *testing.T) {
	s := newTestServer(t)
	createTenant(t, s, "alice", "pw")
	token := login(t, s, "alice", "pw")

	rec := uploadFile(t, s, token, "greeting.txt", "Hello", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		AssetPath    string `json:"asset_path"`
		Status       string `json:"status"`
		ChangeStatus struct {
			Changed bool `json:"changed"`
		} `json:"change_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "document/greeting", resp.AssetPath)
	assert.Equal(t, "active", resp.Status)
	assert.True(t, resp.ChangeStatus.Changed)
}

func TestCreateTenantDuplicateUsernameConflicts(t *testing.T) {
	s := newTestServer(t)
	createTenant(t, s, "alice", "pw")

	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "pw2"})
	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginWithWrongPasswordIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	createTenant(t, s, "alice", "pw")

	form := url.Values{"username": {"alice"}, "password": {"nope"}}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadWithoutTokenIsRejected(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/fileupload", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUploadRejectsNegativeTTL(t *testing.T) {
	s := newTestServer(t)
	createTenant(t, s, "alice", "pw")
	token := login(t, s, "alice", "pw")

	rec := uploadFile(t, s, token, "greeting.txt", "Hello", map[string]string{"archive_ttl": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveTwiceReturnsBadRequest(t *testing.T) {
	s := newTestServer(t)
	createTenant(t, s, "alice", "pw")
	token := login(t, s, "alice", "pw")

	rec := uploadFile(t, s, token, "greeting.txt", "Hello", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		AssetPath string `json:"asset_path"`
		VersionID string `json:"version_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	archive := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/filearchive/"+resp.AssetPath+"/"+resp.VersionID, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, archive().Code)
	assert.Equal(t, http.StatusBadRequest, archive().Code)
}

func TestRetrieveReturnsUploadedContent(t *testing.T) {
	s := newTestServer(t)
	createTenant(t, s, "alice", "pw")
	token := login(t, s, "alice", "pw")

	rec := uploadFile(t, s, token, "greeting.txt", "Hello", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var uploaded struct {
		AssetPath string `json:"asset_path"`
		VersionID string `json:"version_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))

	req := httptest.NewRequest(http.MethodGet, "/filedownload/"+uploaded.AssetPath+"/"+uploaded.VersionID+"?return_file_content=true", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	dl := httptest.NewRecorder()
	s.ServeHTTP(dl, req)
	require.Equal(t, http.StatusOK, dl.Code, dl.Body.String())

	var resp struct {
		PrimaryFile struct {
			Filename string `json:"filename"`
			Content  []byte `json:"content"`
		} `json:"primary_file"`
	}
	require.NoError(t, json.Unmarshal(dl.Body.Bytes(), &resp))
	assert.Equal(t, "greeting.txt", resp.PrimaryFile.Filename)
	assert.Equal(t, []byte("Hello"), resp.PrimaryFile.Content)
}

func TestSharedUserCannotBeCreatedWithAdmin(t *testing.T) {
	s := newTestServer(t)
	createTenant(t, s, "alice", "pw")
	token := login(t, s, "alice", "pw")

	body, _ := json.Marshal(map[string]any{
		"username":    "bob",
		"password":    "pw",
		"permissions": []string{"admin"},
	})
	req := httptest.NewRequest(http.MethodPost, "/shared-users", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSharedUserCannotBeGrantedAdmin(t *testing.T) {
	s := newTestServer(t)
	createTenant(t, s, "alice", "pw")
	token := login(t, s, "alice", "pw")

	create, _ := json.Marshal(map[string]any{
		"username":    "bob",
		"password":    "pw",
		"permissions": []string{"upload"},
	})
	req := httptest.NewRequest(http.MethodPost, "/shared-users", bytes.NewReader(create))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	change, _ := json.Marshal(map[string]any{
		"username":    "bob",
		"permissions": []string{"admin"},
	})
	req = httptest.NewRequest(http.MethodPut, "/shared-users", bytes.NewReader(change))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSharedUserLifecycle(t *testing.T) {
	s := newTestServer(t)
	createTenant(t, s, "alice", "pw")
	token := login(t, s, "alice", "pw")

	create, _ := json.Marshal(map[string]any{
		"username":    "bob",
		"password":    "pw",
		"permissions": []string{"upload", "download"},
	})
	req := httptest.NewRequest(http.MethodPost, "/shared-users", bytes.NewReader(create))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	change, _ := json.Marshal(map[string]any{
		"username":    "bob",
		"permissions": []string{"download"},
	})
	req = httptest.NewRequest(http.MethodPut, "/shared-users", bytes.NewReader(change))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	del, _ := json.Marshal(map[string]any{"username": "bob"})
	req = httptest.NewRequest(http.MethodDelete, "/shared-users", bytes.NewReader(del))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
