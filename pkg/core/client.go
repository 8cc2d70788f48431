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

package core

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const unknown = "Unknown"

// NewCaller builds the caller identity for a freshly accepted connection.
// Every connection gets its own subscriber id, even from the same address.
func NewCaller(r *http.Request) Caller {
	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = unknown
	}
	return Caller{
		SubscriberID:  uuid.New().String(),
		RemoteAddress: RemoteAddress(r),
		UserAgent:     ua,
	}
}

// RemoteAddress prefers proxy headers over the socket address.
func RemoteAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if r.RemoteAddr == "" {
		return unknown
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
