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

// Package http is the HTTP surface described in the external
// interfaces section: user lifecycle, login, and the asset lifecycle
// endpoints, all routed with chi and authenticated with bearer tokens.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/opencloud-eu/assetmanager/pkg/accesslog"
	"github.com/opencloud-eu/assetmanager/pkg/alog"
	"github.com/opencloud-eu/assetmanager/pkg/identity"
	"github.com/opencloud-eu/assetmanager/pkg/lifecycle"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
	"github.com/opencloud-eu/assetmanager/pkg/metrics"
	"github.com/opencloud-eu/assetmanager/pkg/objectstore"
	"github.com/opencloud-eu/assetmanager/pkg/token/jwtmanager"
)

var logger = alog.New("http")
var validate = validator.New()

// Server wires the chi router to the lifecycle coordinator, identity
// layer, and token manager.
type Server struct {
	router      chi.Router
	coordinator *lifecycle.Coordinator
	meta        metastore.Store
	objects     objectstore.Store
	repoID      string
	auth        *identity.Authenticator
	tokens      *jwtmanager.Manager
	audit       *accesslog.Logger
}

// NewServer builds a Server and registers every route. objects and
// repoID are needed to provision a tenant's object-store branch when
// an admin account is created.
func NewServer(coordinator *lifecycle.Coordinator, meta metastore.Store, objects objectstore.Store, repoID string, tokens *jwtmanager.Manager, audit *accesslog.Logger) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		coordinator: coordinator,
		meta:        meta,
		objects:     objects,
		repoID:      repoID,
		auth:        identity.NewAuthenticator(meta),
		tokens:      tokens,
		audit:       audit,
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/metrics", metrics.Handler().ServeHTTP)
	s.router.Post("/token", s.handleLogin)
	s.router.Post("/users", s.handleCreateTenantAdmin)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/shared-users", s.handleCreateSharedUser)
		r.Delete("/shared-users", s.handleDeleteSharedUser)
		r.Put("/shared-users", s.handleChangeSharedUserPermissions)

		r.Post("/fileupload", s.handleUpload)
		// asset_path itself may contain slashes (e.g. "video/annual_report"),
		// so these routes take a trailing wildcard and split off the last
		// segment as the fixed-shape parameter (version_id or filename).
		r.Post("/add-associated-files/*", s.handleAddAssociatedFiles)
		r.Get("/filedownload/*", s.handleRetrieve)
		r.Post("/filearchive/*", s.handleArchive)
		r.Post("/delfile/*", s.handleDestroy)
		r.Get("/fileversions/*", s.handleListVersions)
	})
}
