// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oliacesso/relay-server/pkg/core"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares settings between relay instances. Each setting lives in
// its own key so a write from one instance is visible to the next read on
// every other instance.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(ctx context.Context, addr, password string, db int, keyPrefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if keyPrefix == "" {
		keyPrefix = "relay:settings:"
	}

	r := &RedisStore{client: client, keyPrefix: keyPrefix}
	if err := r.seed(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return r, nil
}

func (r *RedisStore) key(name string) string {
	return r.keyPrefix + name
}

// seed writes defaults without overwriting values another instance set.
func (r *RedisStore) seed(ctx context.Context) error {
	pipe := r.client.Pipeline()
	for _, s := range core.DefaultSettings(time.Now().UTC()) {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal setting: %w", err)
		}
		pipe.SetNX(ctx, r.key(s.Key), data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (core.Setting, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.Setting{}, fmt.Errorf("%w: key=%s", core.ErrSettingNotFound, key)
		}
		return core.Setting{}, err
	}
	var s core.Setting
	if err := json.Unmarshal(data, &s); err != nil {
		return core.Setting{}, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return s, nil
}

func (r *RedisStore) List(ctx context.Context) ([]core.Setting, error) {
	var out []core.Setting
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue // deleted between SCAN and GET
		}
		var s core.Setting
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *RedisStore) Set(ctx context.Context, s core.Setting) error {
	if s.Key == "" {
		return fmt.Errorf("%w: empty setting key", core.ErrInvalidRequest)
	}
	if s.LastModified.IsZero() {
		s.LastModified = time.Now().UTC()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal setting: %w", err)
	}
	return r.client.Set(ctx, r.key(s.Key), data, 0).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
