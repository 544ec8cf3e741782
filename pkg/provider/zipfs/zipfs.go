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

// Package zipfs is the read-only zip archive provider. Stored entries
// are served as zero-copy windows over the archive stream; deflated
// entries are inflated into memory at open time, so every returned
// stream is independently seekable.
package zipfs

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/klauspost/compress/flate"
	"go.opentelemetry.io/otel"

	"chainguard.dev/vfs/pkg/vfs"
	"chainguard.dev/vfs/pkg/vfs/stream"
	"chainguard.dev/vfs/pkg/vfs/tree"
)

type provider struct{}

func NewProvider() vfs.Provider {
	return provider{}
}

func (provider) Extension() string { return "zip" }

// Magic for local file headers and for empty archives (bare end-of-
// central-directory record).
var zipMagics = [][]byte{
	{'P', 'K', 0x03, 0x04},
	{'P', 'K', 0x05, 0x06},
}

func (provider) Open(ctx context.Context, st stream.Stream, locator string, forWrite bool) (vfs.Instance, bool, error) {
	if st == nil {
		return nil, false, nil
	}
	var sig [4]byte
	if _, err := io.ReadFull(st, sig[:]); err != nil {
		return nil, false, nil
	}
	claimed := false
	for _, magic := range zipMagics {
		if string(sig[:]) == string(magic) {
			claimed = true
			break
		}
	}
	if !claimed {
		return nil, false, nil
	}
	if forWrite {
		return nil, true, fmt.Errorf("%s: %w", locator, vfs.ErrReadOnly)
	}

	ctx, span := otel.Tracer("vfs").Start(ctx, "zipfs.index")
	defer span.End()

	size, err := st.Length()
	if err != nil {
		return nil, true, err
	}
	ra := stream.ReaderAt(st)
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %v: %w", locator, err, vfs.ErrCorrupt)
	}
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	inst := &instance{st: st, ra: ra, tree: tree.New()}
	for _, zf := range zr.File {
		name := strings.TrimSuffix(zf.Name, "/")
		clean, err := vfs.Sanitize(name)
		if err != nil || clean == "" {
			// Hostile or degenerate member names never enter the index.
			continue
		}
		e := inst.tree.Add(clean, zf.FileInfo().IsDir())
		if !e.Dir {
			e.Value = zf
		}
	}
	clog.FromContext(ctx).Debugf("indexed %s: %d entries", locator, inst.tree.Len())
	return inst, true, nil
}

type instance struct {
	st   stream.Stream
	ra   io.ReaderAt
	tree *tree.Tree
}

func (z *instance) file(path string) (*zip.File, error) {
	e := z.tree.Find(path)
	if e == nil {
		return nil, fmt.Errorf("%s: %w", path, vfs.ErrNotFound)
	}
	if e.Dir {
		return nil, fmt.Errorf("%s: %w", path, vfs.ErrNotAFile)
	}
	zf, ok := e.Value.(*zip.File)
	if !ok {
		// Directory synthesized from a child path, then shadowed.
		return nil, fmt.Errorf("%s: %w", path, vfs.ErrNotAFile)
	}
	return zf, nil
}

func (z *instance) OpenRead(path string) (stream.Stream, error) {
	zf, err := z.file(path)
	if err != nil {
		return nil, err
	}
	if zf.Method == zip.Store {
		off, err := zf.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("%s: %v: %w", path, err, vfs.ErrCorrupt)
		}
		return stream.NewSection(z.ra, off, int64(zf.UncompressedSize64)), nil
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, vfs.ErrCorrupt)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, vfs.ErrCorrupt)
	}
	return stream.NewMemory(data), nil
}

func (z *instance) OpenWrite(string) (stream.Stream, error)  { return nil, vfs.ErrReadOnly }
func (z *instance) OpenAppend(string) (stream.Stream, error) { return nil, vfs.ErrReadOnly }
func (z *instance) Remove(string) error                      { return vfs.ErrReadOnly }
func (z *instance) Mkdir(string) error                       { return vfs.ErrReadOnly }

func (z *instance) Stat(path string) (vfs.Info, error) {
	e := z.tree.Find(path)
	if e == nil {
		return vfs.Info{}, fmt.Errorf("%s: %w", path, vfs.ErrNotFound)
	}
	info := vfs.Info{Dir: e.Dir}
	if zf, ok := e.Value.(*zip.File); ok {
		info.Size = int64(zf.UncompressedSize64)
		info.ModTime = zf.Modified
		info.Symlink = zf.FileInfo().Mode()&fs.ModeSymlink != 0
	}
	return info, nil
}

func (z *instance) Enumerate(path string, fn func(string) error) error {
	e := z.tree.Find(path)
	if e == nil {
		return fmt.Errorf("%s: %w", path, vfs.ErrNotFound)
	}
	if !e.Dir {
		return fmt.Errorf("%s: %w", path, vfs.ErrNotADirectory)
	}
	return z.tree.Children(path, func(child *tree.Entry) error {
		return fn(child.Name())
	})
}

func (z *instance) Close() error {
	return z.st.Close()
}
