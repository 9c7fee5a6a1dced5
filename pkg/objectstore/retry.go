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

package objectstore

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
)

// retryUpload retries transient connection errors against the object
// store with exponential backoff, up to a handful of attempts. It
// never retries ErrNoChange or any non-transient API error - those
// are control-flow signals, not outages.
func retryUpload(ctx context.Context, op func() (minio.UploadInfo, error)) (minio.UploadInfo, error) {
	var result minio.UploadInfo

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)

	err := backoff.Retry(func() error {
		info, err := op()
		if err == nil {
			result = info
			return nil
		}
		if errors.Is(err, ErrNoChange) || !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)

	return result, err
}

func isTransient(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "InternalError", "SlowDown", "ServiceUnavailable", "RequestTimeout":
		return true
	}
	return resp.Code == ""
}
