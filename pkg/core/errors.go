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

import "errors"

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidRange      = errors.New("invalid date range: from must be before to")
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrNotRegistered     = errors.New("connection not registered")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionGone       = errors.New("session gone")
	ErrGeoAlreadySet     = errors.New("geo location already set")
	ErrTargetUnreachable = errors.New("target client not connected")
	ErrNoSubscriber      = errors.New("no subscriber for client")
	ErrHubClosed         = errors.New("event hub closed")
	ErrSettingNotFound   = errors.New("setting not found")
	ErrUnsupportedFormat = errors.New("unsupported report format")
)

type ErrorCategory string

const (
	CategoryValidation  ErrorCategory = "validation"
	CategoryNotFound    ErrorCategory = "not_found"
	CategoryGone        ErrorCategory = "gone"
	CategoryUnreachable ErrorCategory = "unreachable"
	CategoryInternal    ErrorCategory = "internal"
)

// CategoryOf maps an error returned by any component onto the
// caller-visible taxonomy.
func CategoryOf(err error) ErrorCategory {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, ErrNotRegistered),
		errors.Is(err, ErrGeoAlreadySet),
		errors.Is(err, ErrUnsupportedFormat):
		return CategoryValidation
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSettingNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrSessionGone):
		return CategoryGone
	case errors.Is(err, ErrTargetUnreachable), errors.Is(err, ErrNoSubscriber):
		return CategoryUnreachable
	default:
		return CategoryInternal
	}
}

// Failure is the structured error shape handed to synchronous callers.
type Failure struct {
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
}

// FailureOf hides the text of internal errors.
func FailureOf(err error) Failure {
	cat := CategoryOf(err)
	if cat == CategoryInternal {
		return Failure{Category: cat, Message: "internal error"}
	}
	return Failure{Category: cat, Message: err.Error()}
}
