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

//go:build unix

package dirfs

import (
	"errors"

	"golang.org/x/sys/unix"

	"chainguard.dev/vfs/pkg/vfs"
)

// classifyErrno maps unix errnos onto the layer's sentinels. Returns nil
// for errnos with no dedicated class; callers fall back to the raw OS
// error.
func classifyErrno(err error) error {
	switch {
	case errors.Is(err, unix.ENOSPC):
		return vfs.ErrNoSpace
	case errors.Is(err, unix.ENOTEMPTY):
		return vfs.ErrDirNotEmpty
	case errors.Is(err, unix.EBUSY):
		return vfs.ErrBusy
	case errors.Is(err, unix.EROFS):
		return vfs.ErrReadOnly
	case errors.Is(err, unix.ENOTDIR):
		return vfs.ErrNotADirectory
	case errors.Is(err, unix.EISDIR):
		return vfs.ErrNotAFile
	case errors.Is(err, unix.ELOOP):
		return vfs.ErrSymlinkLoop
	}
	return nil
}
