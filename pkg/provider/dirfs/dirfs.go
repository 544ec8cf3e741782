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

// Package dirfs is the native-directory provider: it maps a directory on
// the host filesystem into the virtual namespace and carries the full
// write surface. It is the only built-in provider usable as a write
// root.
package dirfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"chainguard.dev/vfs/pkg/vfs"
	"chainguard.dev/vfs/pkg/vfs/stream"
)

type provider struct{}

// NewProvider returns the directory provider. It claims any locator that
// is a directory on the host filesystem and nothing else.
func NewProvider() vfs.Provider {
	return provider{}
}

func (provider) Extension() string { return "" }

func (provider) Open(_ context.Context, st stream.Stream, locator string, _ bool) (vfs.Instance, bool, error) {
	if st != nil {
		// A byte stream means the locator is a regular file; not ours.
		return nil, false, nil
	}
	fi, err := os.Stat(locator)
	if err != nil {
		return nil, false, classify(err)
	}
	if !fi.IsDir() {
		return nil, false, nil
	}
	return &instance{base: locator}, true, nil
}

type instance struct {
	base string
}

// hostPath converts a canonical virtual path to a host path under the
// instance base. Canonical paths carry no "..", so a plain join cannot
// escape the base.
func (d *instance) hostPath(path string) string {
	return filepath.Join(d.base, filepath.FromSlash(path))
}

func (d *instance) OpenRead(path string) (stream.Stream, error) {
	host := d.hostPath(path)
	fi, err := os.Lstat(host)
	if err != nil {
		return nil, classify(err)
	}
	if fi.IsDir() {
		return nil, vfs.ErrNotAFile
	}
	st, err := stream.OpenFile(host, os.O_RDONLY, 0)
	if err != nil {
		return nil, classify(err)
	}
	return st, nil
}

func (d *instance) OpenWrite(path string) (stream.Stream, error) {
	st, err := stream.OpenFile(d.hostPath(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, classify(err)
	}
	return st, nil
}

func (d *instance) OpenAppend(path string) (stream.Stream, error) {
	st, err := stream.OpenFile(d.hostPath(path), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, classify(err)
	}
	return st, nil
}

func (d *instance) Remove(path string) error {
	return classify(os.Remove(d.hostPath(path)))
}

func (d *instance) Mkdir(path string) error {
	return classify(os.Mkdir(d.hostPath(path), 0o755))
}

func (d *instance) Stat(path string) (vfs.Info, error) {
	fi, err := os.Lstat(d.hostPath(path))
	if err != nil {
		return vfs.Info{}, classify(err)
	}
	return vfs.Info{
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Dir:     fi.IsDir(),
		Symlink: fi.Mode()&fs.ModeSymlink != 0,
	}, nil
}

func (d *instance) Enumerate(path string, fn func(string) error) error {
	entries, err := os.ReadDir(d.hostPath(path))
	if err != nil {
		return classify(err)
	}
	for _, e := range entries {
		if err := fn(e.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (d *instance) Close() error { return nil }

// classify wraps OS errors with the layer's sentinels so that callers
// can classify failures with errors.Is without knowing the provider.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return errors.Join(vfs.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return errors.Join(vfs.ErrPermission, err)
	case errors.Is(err, fs.ErrExist):
		return errors.Join(vfs.ErrDuplicate, err)
	}
	if kind := classifyErrno(err); kind != nil {
		return errors.Join(kind, err)
	}
	return err
}
