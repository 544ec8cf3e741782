// Copyright 2025 Chainguard, Inc.
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

package vfs

import (
	"fmt"
	"strings"
)

// Sanitize validates name and returns its canonical form: '/'-separated,
// no leading or trailing separator, no empty segments. Any "." or ".."
// segment and any raw ':' or '\' rejects with ErrBadFilename. The check
// is purely lexical; symlink safety is enforced during resolution, where
// filesystem state is available.
//
// Sanitize is idempotent: feeding its output back in returns the same
// string. The empty string canonicalizes to itself and names the root.
func Sanitize(name string) (string, error) {
	if strings.ContainsAny(name, ":\\") {
		return "", fmt.Errorf("%q: %w", name, ErrBadFilename)
	}
	segs := make([]string, 0, strings.Count(name, "/")+1)
	for _, seg := range strings.Split(name, "/") {
		switch seg {
		case "":
			// Collapsed: leading, trailing, and doubled separators.
		case ".", "..":
			return "", fmt.Errorf("%q: %w", name, ErrBadFilename)
		default:
			segs = append(segs, seg)
		}
	}
	return strings.Join(segs, "/"), nil
}
