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
	"net/http"

	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
	"github.com/opencloud-eu/assetmanager/pkg/lifecycle"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
)

var errUnauthorized = errtypes.Forbidden("missing or malformed bearer token")

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().Err(err).Msg("failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errtypes.HTTPStatus(err), errorBody{Detail: err.Error()})
}

type errorBody struct {
	Detail string `json:"detail"`
}

type statusBody struct {
	Status   string `json:"status"`
	Username string `json:"username,omitempty"`
}

// tokenResponse is the login response shape.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username"`
	Branch      string `json:"branch"`
}

// createUserRequest is the body for POST /users and POST /shared-users.
type createUserRequest struct {
	Username    string                 `json:"username" validate:"required"`
	Password    string                 `json:"password" validate:"required"`
	Permissions []metastore.Permission `json:"permissions"`
}

// userActionRequest is the body for DELETE /shared-users and PUT /shared-users.
type userActionRequest struct {
	Username    string                 `json:"username" validate:"required"`
	Permissions []metastore.Permission `json:"permissions"`
}

type retrievedFileResponse struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	VersionID   string `json:"version_id"`
	URL         string `json:"url"`
	Content     []byte `json:"content,omitempty"`
}

type retrieveResponse struct {
	Metadata        metastore.Response      `json:"metadata"`
	PrimaryFile     retrievedFileResponse   `json:"primary_file"`
	AssociatedFiles []retrievedFileResponse `json:"associated_files"`
}

func toRetrieveResponse(r *lifecycle.RetrieveResult) retrieveResponse {
	assoc := make([]retrievedFileResponse, 0, len(r.AssociatedFiles))
	for _, f := range r.AssociatedFiles {
		assoc = append(assoc, toRetrievedFileResponse(f))
	}
	return retrieveResponse{
		Metadata:        r.Metadata,
		PrimaryFile:     toRetrievedFileResponse(r.PrimaryFile),
		AssociatedFiles: assoc,
	}
}

func toRetrievedFileResponse(f lifecycle.RetrievedFile) retrievedFileResponse {
	return retrievedFileResponse{
		Filename:    f.Filename,
		ContentType: f.ContentType,
		VersionID:   f.VersionID,
		URL:         f.URL,
		Content:     f.Content,
	}
}

type versionEntryResponse struct {
	Key          string `json:"key"`
	VersionID    string `json:"version_id"`
	LastModified string `json:"last_modified"`
	URL          string `json:"url"`
}
