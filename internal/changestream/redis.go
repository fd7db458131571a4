// Copyright 2025 UMH Systems GmbH
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

package changestream

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/bson"
)

const redisKeyPrefix = "scada:changestream:"

// RedisCheckpoints keeps resume tokens in redis, for deployments that do not want
// bookkeeping documents in the SCADA database.
type RedisCheckpoints struct {
	rdb *redis.Client
}

func NewRedisCheckpoints(addr, password string, db int) *RedisCheckpoints {
	return &RedisCheckpoints{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (r *RedisCheckpoints) Load(ctx context.Context, key string) (bson.Raw, error) {
	b, err := r.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err = bson.Raw(b).Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *RedisCheckpoints) Save(ctx context.Context, key string, token bson.Raw) error {
	return r.rdb.Set(ctx, redisKeyPrefix+key, []byte(token), 0).Err()
}

// Ping is used as readiness check.
func (r *RedisCheckpoints) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisCheckpoints) Close() error {
	return r.rdb.Close()
}
