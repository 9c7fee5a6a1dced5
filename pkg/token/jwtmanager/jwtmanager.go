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

// Package jwtmanager issues and verifies the bearer tokens that carry
// a caller's identity and permission set across the HTTP boundary.
package jwtmanager

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
)

// Claims is the token payload: who the caller is, which branch they
// are scoped to, and what they are allowed to do.
type Claims struct {
	Username    string                 `json:"username"`
	Branch      string                 `json:"branch"`
	Permissions []metastore.Permission `json:"permissions"`
	jwt.RegisteredClaims
}

// Manager issues and verifies Claims signed with a shared secret.
type Manager struct {
	secret    []byte
	algorithm string
	ttl       time.Duration
}

// New builds a Manager. algorithm must name one of golang-jwt's HMAC
// signing methods (HS256, HS384, HS512).
func New(secret []byte, algorithm string, ttl time.Duration) *Manager {
	return &Manager{secret: secret, algorithm: algorithm, ttl: ttl}
}

func (m *Manager) signingMethod() *jwt.SigningMethodHMAC {
	switch m.algorithm {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}

// Issue mints a signed token for user, scoped to user.Branch.
func (m *Manager) Issue(user *metastore.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username:    user.Username,
		Branch:      user.Branch,
		Permissions: user.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			Subject:   user.Username,
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(m.signingMethod(), claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", errtypes.Internal(fmt.Sprintf("sign token: %v", err))
	}
	return signed, nil
}

// Verify parses and validates raw, returning its Claims.
func (m *Manager) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errtypes.Forbidden("invalid or expired token")
	}
	return claims, nil
}

// ToUser projects Claims back into the metastore.User shape the
// permission checks operate on.
func (c *Claims) ToUser() *metastore.User {
	return &metastore.User{Username: c.Username, Branch: c.Branch, Permissions: c.Permissions}
}
