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

// Package tarfs is the read-only tar archive provider. Plain archives
// are indexed in place and entries served as zero-copy windows over the
// archive stream. Compressed archives (gzip, zstd, lz4, detected by
// magic rather than extension) are expanded once into a spill file and
// indexed there, so open files never pay for sequential decompression.
package tarfs

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"go.opentelemetry.io/otel"

	"chainguard.dev/vfs/pkg/vfs"
	"chainguard.dev/vfs/pkg/vfs/stream"
	"chainguard.dev/vfs/pkg/vfs/tree"
)

type provider struct{}

func NewProvider() vfs.Provider {
	return provider{}
}

func (provider) Extension() string { return "tar" }

type compression int

const (
	compressNone compression = iota
	compressGzip
	compressZstd
	compressLz4
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

func sniff(head []byte) compression {
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return compressGzip
	case bytes.HasPrefix(head, zstdMagic):
		return compressZstd
	case bytes.HasPrefix(head, lz4Magic):
		return compressLz4
	}
	return compressNone
}

// decompressor wraps r according to the sniffed compression.
func decompressor(r io.Reader, comp compression) (io.Reader, error) {
	switch comp {
	case compressGzip:
		return pgzip.NewReader(r)
	case compressZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case compressLz4:
		return lz4.NewReader(r), nil
	}
	return r, nil
}

// isTar checks the ustar magic of the first header block.
func isTar(r io.Reader) bool {
	var block [512]byte
	if _, err := io.ReadFull(r, block[:]); err != nil {
		return false
	}
	return bytes.Equal(block[257:262], []byte("ustar"))
}

func (provider) Open(ctx context.Context, st stream.Stream, locator string, forWrite bool) (vfs.Instance, bool, error) {
	if st == nil {
		return nil, false, nil
	}
	var head [6]byte
	n, _ := io.ReadFull(st, head[:])
	comp := sniff(head[:n])
	if _, err := st.Seek(0, io.SeekStart); err != nil {
		return nil, false, err
	}

	// Claim only after seeing a tar header through the (possibly
	// decompressing) reader: a gzip stream is not necessarily a tarball.
	probe, err := decompressor(st, comp)
	if err != nil {
		return nil, false, nil
	}
	tarLike := isTar(probe)
	if c, ok := probe.(io.Closer); ok {
		c.Close()
	}
	if !tarLike {
		return nil, false, nil
	}
	if forWrite {
		return nil, true, fmt.Errorf("%s: %w", locator, vfs.ErrReadOnly)
	}
	if _, err := st.Seek(0, io.SeekStart); err != nil {
		return nil, true, err
	}

	ctx, span := otel.Tracer("vfs").Start(ctx, "tarfs.index")
	defer span.End()
	log := clog.FromContext(ctx)

	inst := &instance{st: st, tree: tree.New()}
	if comp == compressNone {
		size, err := st.Length()
		if err != nil {
			return nil, true, err
		}
		inst.ra = stream.ReaderAt(st)
		inst.size = size
	} else {
		spill, err := os.CreateTemp("", "vfs-tar-*")
		if err != nil {
			return nil, true, err
		}
		dec, err := decompressor(st, comp)
		if err != nil {
			spill.Close()
			os.Remove(spill.Name())
			return nil, true, fmt.Errorf("%s: %v: %w", locator, err, vfs.ErrCorrupt)
		}
		written, err := io.Copy(spill, dec)
		if c, ok := dec.(io.Closer); ok {
			c.Close()
		}
		if err != nil {
			spill.Close()
			os.Remove(spill.Name())
			return nil, true, fmt.Errorf("%s: %v: %w", locator, err, vfs.ErrCorrupt)
		}
		inst.spill = spill
		inst.ra = spill
		inst.size = written
		log.Debugf("expanded %s: %d bytes", locator, written)
	}

	if err := inst.index(); err != nil {
		inst.Close()
		return nil, true, fmt.Errorf("%s: %v: %w", locator, err, vfs.ErrCorrupt)
	}
	log.Debugf("indexed %s: %d entries", locator, inst.tree.Len())
	return inst, true, nil
}

// entry is the per-file payload attached to tree entries.
type entry struct {
	hdr    *tar.Header
	offset int64
}

type instance struct {
	st    stream.Stream
	spill *os.File // non-nil when the archive was compressed
	ra    io.ReaderAt
	size  int64
	tree  *tree.Tree
}

// countReader tracks how many bytes the tar reader has consumed, which
// after each Next call is the offset of the entry's data.
type countReader struct {
	r io.Reader
	n int64
}

func (cr *countReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

func (t *instance) index() error {
	cr := &countReader{r: bufio.NewReaderSize(io.NewSectionReader(t.ra, 0, t.size), 1<<20)}
	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		clean, err := vfs.Sanitize(hdr.Name)
		if err != nil || clean == "" {
			// Hostile or degenerate member names never enter the index.
			continue
		}
		e := t.tree.Add(clean, hdr.Typeflag == tar.TypeDir)
		if !e.Dir {
			e.Value = &entry{hdr: hdr, offset: cr.n}
		}
	}
}

func (t *instance) OpenRead(path string) (stream.Stream, error) {
	e := t.tree.Find(path)
	if e == nil {
		return nil, fmt.Errorf("%s: %w", path, vfs.ErrNotFound)
	}
	fe, ok := e.Value.(*entry)
	if !ok || e.Dir {
		return nil, fmt.Errorf("%s: %w", path, vfs.ErrNotAFile)
	}
	if fe.hdr.Typeflag != tar.TypeReg {
		return nil, fmt.Errorf("%s: %w", path, vfs.ErrNotAFile)
	}
	return stream.NewSection(t.ra, fe.offset, fe.hdr.Size), nil
}

func (t *instance) OpenWrite(string) (stream.Stream, error)  { return nil, vfs.ErrReadOnly }
func (t *instance) OpenAppend(string) (stream.Stream, error) { return nil, vfs.ErrReadOnly }
func (t *instance) Remove(string) error                      { return vfs.ErrReadOnly }
func (t *instance) Mkdir(string) error                       { return vfs.ErrReadOnly }

func (t *instance) Stat(path string) (vfs.Info, error) {
	e := t.tree.Find(path)
	if e == nil {
		return vfs.Info{}, fmt.Errorf("%s: %w", path, vfs.ErrNotFound)
	}
	info := vfs.Info{Dir: e.Dir}
	if fe, ok := e.Value.(*entry); ok {
		info.Size = fe.hdr.Size
		info.ModTime = fe.hdr.ModTime
		info.Symlink = fe.hdr.Typeflag == tar.TypeSymlink || fe.hdr.Typeflag == tar.TypeLink
	}
	return info, nil
}

func (t *instance) Enumerate(path string, fn func(string) error) error {
	e := t.tree.Find(path)
	if e == nil {
		return fmt.Errorf("%s: %w", path, vfs.ErrNotFound)
	}
	if !e.Dir {
		return fmt.Errorf("%s: %w", path, vfs.ErrNotADirectory)
	}
	return t.tree.Children(path, func(child *tree.Entry) error {
		return fn(child.Name())
	})
}

func (t *instance) Close() error {
	var firstErr error
	if t.spill != nil {
		if err := t.spill.Close(); err != nil {
			firstErr = err
		}
		if err := os.Remove(t.spill.Name()); err != nil && firstErr == nil {
			firstErr = err
		}
		t.spill = nil
	}
	if err := t.st.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
