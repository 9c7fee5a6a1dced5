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

package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	ok, err := VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemory()
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, "alice", hash, "alice_space", []metastore.Permission{metastore.PermUpload}))

	auth := NewAuthenticator(store)

	user, err := auth.Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = auth.Authenticate(ctx, "alice", "wrong")
	assertForbidden(t, err)

	_, err = auth.Authenticate(ctx, "nobody", "whatever")
	assertForbidden(t, err)
}

func assertForbidden(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	_, ok := err.(errtypes.IsForbidden)
	assert.True(t, ok, "expected a Forbidden error, got %T: %v", err, err)
}

func TestCheckCrossBranchDenied(t *testing.T) {
	user := &metastore.User{Username: "alice", Branch: "alice_space", Permissions: []metastore.Permission{metastore.PermUpload}}

	assert.NoError(t, Check(user, "alice_space", metastore.PermUpload))
	assert.Error(t, Check(user, "bob_space", metastore.PermUpload))
	assert.Error(t, Check(user, "alice_space", metastore.PermAdmin))
}

func TestCheckAdminBypassesBranch(t *testing.T) {
	admin := &metastore.User{Username: "root", Branch: "root_space", Permissions: []metastore.Permission{metastore.PermAdmin}}
	assert.NoError(t, Check(admin, "anyone_else_space", metastore.PermDestroy))
}
