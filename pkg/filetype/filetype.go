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

// Package filetype detects the MIME type and media class of an
// uploaded file from its name and, when available, a prefix of its
// bytes. Detection is deterministic: extension first, content sniff
// second, ties broken in favor of the extension.
package filetype

import (
	"net/http"
	"path"
	"strings"
)

// MediaClass is one of the four recognized asset buckets, or Other.
type MediaClass string

const (
	Video    MediaClass = "video"
	Audio    MediaClass = "audio"
	Image    MediaClass = "image"
	Document MediaClass = "document"
	Other    MediaClass = "other"
)

// Info is the result of type detection.
type Info struct {
	MIMEType   string
	MediaClass MediaClass
	BasePath   string
}

// extTable is the public extension-to-media-class contract. Entries
// here take priority over content sniffing.
var extTable = map[string]MediaClass{
	".mp4": Video, ".mov": Video, ".mkv": Video, ".avi": Video, ".webm": Video,
	".mp3": Audio, ".wav": Audio, ".flac": Audio, ".m4a": Audio, ".ogg": Audio,
	".png": Image, ".jpg": Image, ".jpeg": Image, ".gif": Image, ".bmp": Image, ".webp": Image, ".svg": Image,
	".pdf": Document, ".doc": Document, ".docx": Document, ".txt": Document,
	".md": Document, ".csv": Document, ".xls": Document, ".xlsx": Document, ".ppt": Document, ".pptx": Document,
}

var extMIME = map[string]string{
	".mp4": "video/mp4", ".mov": "video/quicktime", ".mkv": "video/x-matroska", ".avi": "video/x-msvideo", ".webm": "video/webm",
	".mp3": "audio/mpeg", ".wav": "audio/wav", ".flac": "audio/flac", ".m4a": "audio/mp4", ".ogg": "audio/ogg",
	".png": "image/png", ".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".gif": "image/gif", ".bmp": "image/bmp", ".webp": "image/webp", ".svg": "image/svg+xml",
	".pdf": "application/pdf", ".doc": "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain", ".md": "text/markdown", ".csv": "text/csv",
	".xls": "application/vnd.ms-excel", ".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt": "application/vnd.ms-powerpoint", ".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// Detect returns the MIME type, media class, and base path for the
// given filename, consulting the byte prefix only when the extension
// is unrecognized.
func Detect(filename string, prefix []byte) Info {
	ext := strings.ToLower(path.Ext(filename))

	if class, ok := extTable[ext]; ok {
		return Info{MIMEType: extMIME[ext], MediaClass: class, BasePath: string(class)}
	}

	if len(prefix) > 0 {
		sniffed := http.DetectContentType(prefix)
		class := classFromMIME(sniffed)
		return Info{MIMEType: sniffed, MediaClass: class, BasePath: string(class)}
	}

	return Info{MIMEType: "application/octet-stream", MediaClass: Other, BasePath: string(Other)}
}

func classFromMIME(mimeType string) MediaClass {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return Video
	case strings.HasPrefix(mimeType, "audio/"):
		return Audio
	case strings.HasPrefix(mimeType, "image/"):
		return Image
	case strings.HasPrefix(mimeType, "text/"), strings.HasPrefix(mimeType, "application/pdf"):
		return Document
	default:
		return Other
	}
}
