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
	"context"
	"time"

	"chainguard.dev/vfs/pkg/vfs/stream"
)

// Info describes one entry as reported by a provider's Stat. Size and
// ModTime are zero for entries the format does not record them for.
type Info struct {
	Size    int64
	ModTime time.Time
	Dir     bool
	Symlink bool
}

// Provider is one container format: the native directory provider, an
// archive format, or an application plugin. A Provider is stateless;
// per-mount state lives in the Instance it opens.
type Provider interface {
	// Extension is the filename extension (without dot, lower case) the
	// provider has affinity for, or "" for none. Mount trials
	// extension-matching providers first.
	Extension() string

	// Open attempts to open the container at locator. st is a stream over
	// the container's bytes, or nil when locator is a directory. claimed
	// reports that the provider positively recognized the format, even if
	// opening subsequently failed; a claimed failure halts provider trial
	// so that a recognized-but-corrupt archive surfaces its own error
	// rather than "unsupported". On success the Instance takes ownership
	// of st and must close it.
	Open(ctx context.Context, st stream.Stream, locator string, forWrite bool) (inst Instance, claimed bool, err error)
}

// Instance is one opened container. All paths are canonical
// (pre-validated by Sanitize, "" meaning the container root). Instances
// must tolerate concurrent structural calls (Stat, Enumerate, OpenRead of
// different files); per-file decode state belongs to the returned
// streams, not the instance. Not-found conditions must wrap ErrNotFound,
// since the resolution engine treats them as fallthrough rather than
// failure.
type Instance interface {
	OpenRead(path string) (stream.Stream, error)
	OpenWrite(path string) (stream.Stream, error)
	OpenAppend(path string) (stream.Stream, error)
	Remove(path string) error
	Mkdir(path string) error
	Stat(path string) (Info, error)

	// Enumerate calls fn with the bare name of each direct child of the
	// directory at path, in no particular order. An error from fn aborts
	// the walk and is returned verbatim.
	Enumerate(path string, fn func(name string) error) error

	Close() error
}
