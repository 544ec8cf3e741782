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
	"errors"

	"chainguard.dev/vfs/pkg/vfs/stream"
)

// Sentinel errors for every failure class the layer reports. All errors
// returned from FS operations wrap one of these (or an OS error for
// conditions the OS reports directly), so callers classify with
// errors.Is.
var (
	ErrNotFound         = errors.New("file not found")
	ErrBadFilename      = errors.New("insecure or malformed filename")
	ErrSymlinkForbidden = errors.New("symlink traversal forbidden")
	ErrSymlinkLoop      = errors.New("too many symlinks")
	ErrFilesOpen        = errors.New("files still open")
	ErrNoWriteDir       = errors.New("no write directory set")
	ErrNotMounted       = errors.New("locator not mounted")
	ErrUnsupported      = errors.New("unsupported archive format")
	ErrCorrupt          = errors.New("corrupt archive data")
	ErrReadOnly         = errors.New("filesystem is read-only")
	ErrNotAFile         = errors.New("not a file")
	ErrNotADirectory    = errors.New("not a directory")
	ErrDirNotEmpty      = errors.New("directory not empty")
	ErrNoSpace          = errors.New("no space left")
	ErrBusy             = errors.New("resource busy")
	ErrPermission       = errors.New("permission denied")
	ErrInvalid          = errors.New("invalid argument")
	ErrNotInitialized   = errors.New("not initialized")
	ErrClosed           = errors.New("handle already closed")
	ErrDuplicate        = errors.New("already registered")
	ErrBadPassword      = errors.New("bad password")
	ErrCallback         = errors.New("application callback error")

	// ErrWrongDirection and ErrPastEOF originate in the stream layer but
	// surface through handle operations, so they are re-exported here.
	ErrWrongDirection = stream.ErrWrongDirection
	ErrPastEOF        = stream.ErrPastEOF
)

// fail records err as the FS's last error before returning it. Every
// public operation funnels its failures through here, usually while
// holding f.mu, so errMu nests inside f.mu; nothing acquires f.mu while
// holding errMu.
func (f *FS) fail(err error) error {
	if err != nil {
		f.errMu.Lock()
		f.lastErr = err
		f.errMu.Unlock()
	}
	return err
}

// LastError returns the most recent error recorded by any operation on
// this FS, or nil. It exists for callers porting code written against
// last-error-slot APIs; new code should use the returned errors
// directly. The slot is per-FS, not per-goroutine, and is overwritten by
// the next failing call.
func (f *FS) LastError() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.lastErr
}
