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

// Package config loads the asset lifecycle service's startup options.
package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config is the flat set of options recognized at startup. Driver
// specific knobs live under their own nested blocks so a given
// backend's settings don't leak into the others.
type Config struct {
	Network string `json:"network"`
	Address string `json:"address"`

	Storage  StorageConfig  `json:"storage"`
	Metadata MetadataConfig `json:"metadata"`
	Vector   VectorConfig   `json:"vector"`
	Auth     AuthConfig     `json:"auth"`

	Timezone string `json:"timezone"`

	AutoArchiveAt     string        `json:"auto_archive_hhmm"`
	AutoDestroyAt     string        `json:"auto_destroy_hhmm"`
	AuditRetention    time.Duration `json:"audit_retention"`
	UploadConcurrency int           `json:"upload_concurrency"`
}

// StorageConfig configures the object store adapter.
type StorageConfig struct {
	Endpoint         string `json:"storage_endpoint"`
	PublicURL        string `json:"storage_public_url"`
	AccessKey        string `json:"storage_access_key"`
	SecretKey        string `json:"storage_secret_key"`
	UseTLS           bool   `json:"use_tls"`
	DefaultBucket    string `json:"default_bucket"`
	RepositoryID     string `json:"repository_id"`
	DefaultBranch    string `json:"default_branch"`
	DefaultRetention int    `json:"default_retention_days"`
	MainBranchRetain int    `json:"main_branch_retention_days"`
}

// MetadataConfig configures the metadata store.
type MetadataConfig struct {
	Host          string        `json:"metadata_host"`
	Port          int           `json:"port"`
	User          string        `json:"user"`
	Password      string        `json:"password"`
	Database      string        `json:"database"`
	MaxOpenConns  int           `json:"max_open_conns"`
	MaxIdleConns  int           `json:"max_idle_conns"`
	HeadCacheSize int           `json:"head_cache_size"`
	HeadCacheTTL  time.Duration `json:"head_cache_ttl"`
}

// VectorConfig configures the vector index mirror.
type VectorConfig struct {
	Host string `json:"vector_host"`
	Port int    `json:"vector_port"`
}

// AuthConfig configures bearer token issuance.
type AuthConfig struct {
	JWTSecret      string        `json:"jwt_secret"`
	JWTAlgorithm   string        `json:"jwt_algorithm"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
}

// Default returns a Config with sane defaults for local development.
func Default() *Config {
	return &Config{
		Network:  "tcp",
		Address:  ":9999",
		Timezone: "UTC",
		Storage: StorageConfig{
			DefaultBucket:    "assets",
			RepositoryID:     "assets-repo",
			DefaultBranch:    "main",
			DefaultRetention: 30,
			MainBranchRetain: 90,
		},
		Metadata: MetadataConfig{
			Port:          3306,
			MaxOpenConns:  10,
			MaxIdleConns:  1,
			HeadCacheSize: 4096,
			HeadCacheTTL:  30 * time.Second,
		},
		Vector: VectorConfig{
			Port: 6379,
		},
		Auth: AuthConfig{
			JWTAlgorithm:   "HS256",
			AccessTokenTTL: 60 * time.Minute,
		},
		AutoArchiveAt:     "03:00",
		AutoDestroyAt:     "03:30",
		AuditRetention:    120 * 24 * time.Hour,
		UploadConcurrency: 4,
	}
}

// LoadFromFile reads and parses a JSON config file, seeding it with
// Default() first so callers only need to specify overrides.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
