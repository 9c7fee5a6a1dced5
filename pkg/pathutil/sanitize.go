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

// Package pathutil normalizes and validates asset paths and filenames
// before they ever reach the object store or metadata store.
package pathutil

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/opencloud-eu/assetmanager/pkg/errtypes"
)

var invalidFilenameChar = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizePath collapses repeated separators, strips leading and
// trailing slashes, and rejects empty input or any ".." segment.
func SanitizePath(p string) (string, error) {
	if p == "" {
		return "", errtypes.InvalidInput("empty path")
	}

	collapsed := collapseSeparators(p)
	collapsed = strings.Trim(collapsed, "/")
	if collapsed == "" {
		return "", errtypes.InvalidInput("empty path")
	}

	for _, segment := range strings.Split(collapsed, "/") {
		if segment == ".." {
			return "", errtypes.InvalidInput("path traversal detected: " + p)
		}
	}
	return collapsed, nil
}

// SanitizeFilename URL-decodes, strips any directory prefix, replaces
// characters outside [A-Za-z0-9_.-] with underscores, and rejects the
// empty string, ".", and "..".
func SanitizeFilename(name string) (string, error) {
	if name == "" {
		return "", errtypes.InvalidInput("filename is required")
	}

	// Percent-decode only: a "+" in a filename is a literal plus, not
	// an encoded space.
	decoded, err := url.PathUnescape(name)
	if err != nil {
		decoded = name
	}

	base := decoded
	if idx := strings.LastIndexByte(decoded, '/'); idx >= 0 {
		base = decoded[idx+1:]
	}
	if idx := strings.LastIndexByte(base, '\\'); idx >= 0 {
		base = base[idx+1:]
	}

	base = invalidFilenameChar.ReplaceAllString(base, "_")

	if base == "" || base == "." || base == ".." {
		return "", errtypes.InvalidInput("invalid filename: " + name)
	}
	return base, nil
}

// Stem returns the filename without its final extension, the way
// os.path.splitext's first element behaves.
func Stem(filename string) string {
	ext := path.Ext(filename)
	return strings.TrimSuffix(filename, ext)
}

func collapseSeparators(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	prevSep := false
	for _, r := range p {
		isSep := r == '/' || r == '\\'
		if isSep {
			if !prevSep {
				b.WriteByte('/')
			}
			prevSep = true
			continue
		}
		prevSep = false
		b.WriteRune(r)
	}
	return b.String()
}
