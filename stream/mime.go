// Copyright (c) 2016-2019 Uber Technologies, Inc.
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
package stream

import "strings"

// videoMIMETypes overrides the handful of container extensions players most
// commonly request, since the host's system MIME database is not always
// present or accurate for video containers (notably .mkv and .ts, which
// net/http's default table on most platforms omits).
var videoMIMETypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".ts":   "video/mp2t",
	".flv":  "video/x-flv",
	".wmv":  "video/x-ms-wmv",
	".srt":  "text/plain",
	".vtt":  "text/vtt",
}

// contentType returns filename's MIME type by extension, defaulting to
// application/octet-stream for anything not recognized.
func contentType(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return "application/octet-stream"
	}
	ext := strings.ToLower(filename[i:])
	if ct, ok := videoMIMETypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
