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

package vectormirror

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/opencloud-eu/assetmanager/pkg/alog"
)

var logger = alog.New("vectormirror")

// Redis mirrors points into a go-redis client, one hash per point keyed
// by collection and the (asset_path, version_id, branch) filter. There
// is no vector database in play here: the hash carries the payload and
// a JSON-encoded vector, which is enough to exercise the same upsert /
// mark-archived / delete contract a real vector store would expose.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an already-configured client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func pointKey(collection, assetPath, versionID, branch string) string {
	return fmt.Sprintf("vecmirror:%s:%s|%s|%s", collection, branch, assetPath, versionID)
}

func (r *Redis) EnsureCollections(ctx context.Context) error {
	for _, c := range []string{CollectionDocuments, CollectionAudios, CollectionVideos, CollectionImages} {
		key := "vecmirror:meta:" + c
		if err := r.client.HSet(ctx, key, map[string]any{
			"dimension": Dimension,
			"distance":  "cosine",
		}).Err(); err != nil {
			return err
		}
	}
	logger.Info().Msg("vector collections ensured")
	return nil
}

func (r *Redis) UpsertOrUpdate(ctx context.Context, p Point) error {
	collection, ok := CollectionFor(p.MediaClass)
	if !ok {
		return nil
	}
	key := pointKey(collection, p.AssetPath, p.VersionID, p.Branch)

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return err
	}
	vector, err := json.Marshal(p.Vector)
	if err != nil {
		return err
	}

	fields := map[string]any{
		"asset_path": p.AssetPath,
		"version_id": p.VersionID,
		"branch":     p.Branch,
		"payload":    string(payload),
		"vector":     string(vector),
	}
	if exists == 0 {
		fields["id"] = uuid.NewString()
	}
	return r.client.HSet(ctx, key, fields).Err()
}

func (r *Redis) UpdatePayload(ctx context.Context, p Point) error {
	collection, ok := CollectionFor(p.MediaClass)
	if !ok {
		return nil
	}
	key := pointKey(collection, p.AssetPath, p.VersionID, p.Branch)

	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, key, map[string]any{"payload": string(payload)}).Err()
}

func (r *Redis) MarkArchived(ctx context.Context, assetPath, versionID, branch, mediaClass string) error {
	collection, ok := CollectionFor(mediaClass)
	if !ok {
		return nil
	}
	key := pointKey(collection, assetPath, versionID, branch)

	raw, err := r.client.HGet(ctx, key, "payload").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	var payload map[string]any
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return err
		}
	} else {
		payload = map[string]any{}
	}
	payload["status"] = "archived"

	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, key, map[string]any{"payload": string(encoded)}).Err()
}

func (r *Redis) Delete(ctx context.Context, assetPath, versionID, branch, mediaClass string) error {
	collection, ok := CollectionFor(mediaClass)
	if !ok {
		return nil
	}
	return r.client.Del(ctx, pointKey(collection, assetPath, versionID, branch)).Err()
}
