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

// Package identity resolves bearer credentials to a metastore.User and
// enforces the permission model every lifecycle operation is gated on.
package identity

import (
	"context"

	"github.com/alexedwards/argon2id"

	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
)

// HashPassword produces an argon2id hash suitable for storage in
// metastore.User.PasswordHash.
func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2id.DefaultParams)
}

// VerifyPassword reports whether password matches hash.
func VerifyPassword(password, hash string) (bool, error) {
	return argon2id.ComparePasswordAndHash(password, hash)
}

// Authenticator resolves credentials to a user record.
type Authenticator struct {
	store metastore.Store
}

// NewAuthenticator builds an Authenticator backed by store.
func NewAuthenticator(store metastore.Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate verifies username/password and returns the matching
// user. A missing user and a wrong password both surface as Forbidden,
// never distinguishing the two to callers.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*metastore.User, error) {
	user, err := a.store.GetUserByName(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errtypes.Forbidden("invalid credentials")
	}
	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, errtypes.Internal(err.Error())
	}
	if !ok {
		return nil, errtypes.Forbidden("invalid credentials")
	}
	return user, nil
}

// Check enforces that branch is non-empty, that user holds perm and,
// unless they are admin (admins pass for any branch), that branch
// matches their own. Cross-branch access by a non-admin is always
// rejected, even for a user who otherwise holds the permission.
func Check(user *metastore.User, branch string, perm metastore.Permission) error {
	if user == nil {
		return errtypes.Forbidden("not authenticated")
	}
	if branch == "" {
		return errtypes.InvalidInput("branch is required")
	}
	if !user.Has(metastore.PermAdmin) && user.Branch != branch {
		return errtypes.Forbidden("cross-branch access denied")
	}
	if !user.Has(perm) {
		return errtypes.Forbidden("missing permission: " + string(perm))
	}
	return nil
}
