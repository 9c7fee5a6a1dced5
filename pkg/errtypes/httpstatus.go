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

package errtypes

import "net/http"

// HTTPStatus maps an error returned by the lifecycle subsystem to the
// status code table in the system's error handling design. Unmatched
// errors fall back to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case is[IsInvalidInput](err):
		return http.StatusBadRequest
	case is[IsForbidden](err):
		return http.StatusForbidden
	case is[IsNotFound](err):
		return http.StatusNotFound
	case is[IsPreconditionFailed](err):
		return http.StatusBadRequest
	case is[IsConflict](err):
		return http.StatusBadRequest
	case is[IsStorageError](err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func is[T any](err error) bool {
	_, ok := err.(T)
	return ok
}
