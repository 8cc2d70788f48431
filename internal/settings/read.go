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
	"strconv"

	"github.com/oliacesso/relay-server/pkg/core"
)

// Int reads key at call time, returning def when the store is nil, the key
// is missing or the value does not parse.
func Int(ctx context.Context, r core.SettingsReader, key string, def int) int {
	if r == nil {
		return def
	}
	s, err := r.Get(ctx, key)
	if err != nil {
		return def
	}
	v, err := strconv.Atoi(s.Value)
	if err != nil {
		return def
	}
	return v
}

func Bool(ctx context.Context, r core.SettingsReader, key string, def bool) bool {
	if r == nil {
		return def
	}
	s, err := r.Get(ctx, key)
	if err != nil {
		return def
	}
	v, err := strconv.ParseBool(s.Value)
	if err != nil {
		return def
	}
	return v
}
