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

package tarfs

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/psanford/memfs"
	"github.com/stretchr/testify/require"

	"chainguard.dev/vfs/pkg/vfs"
	"chainguard.dev/vfs/pkg/vfs/stream"
)

// sourceTree builds the fixture filesystem the archives are built from.
func sourceTree(t *testing.T) (*memfs.FS, map[string]string) {
	t.Helper()
	files := map[string]string{
		"readme.txt":       "hello from tar",
		"maps/m1.bsp":      "map one geometry",
		"maps/m2.bsp":      "map two geometry",
		"sound/fx/sfx.ogg": "ogg bytes",
	}
	rootFS := memfs.New()
	for name, content := range files {
		require.NoError(t, rootFS.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, rootFS.WriteFile(name, []byte(content), 0o644))
	}
	return rootFS, files
}

// tarFromFS serializes the fixture tree into an uncompressed tarball.
func tarFromFS(t *testing.T, rootFS *memfs.FS) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	err := fs.WalkDir(rootFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		content, err := fs.ReadFile(rootFS, path)
		if err != nil {
			return err
		}
		_, err = tw.Write(content)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func compress(t *testing.T, data []byte, kind string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch kind {
	case "gzip":
		w = pgzip.NewWriter(&buf)
	case "zstd":
		enc, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		w = enc
	case "lz4":
		w = lz4.NewWriter(&buf)
	default:
		return data
	}
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newFS(t *testing.T) *vfs.FS {
	t.Helper()
	f := vfs.New(vfs.WithProviders(NewProvider()))
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestMountAndReadAllCompressions(t *testing.T) {
	ctx := context.Background()
	rootFS, files := sourceTree(t)
	plain := tarFromFS(t, rootFS)

	for _, kind := range []string{"plain", "gzip", "zstd", "lz4"} {
		t.Run(kind, func(t *testing.T) {
			locator := filepath.Join(t.TempDir(), "fixture.tar")
			require.NoError(t, os.WriteFile(locator, compress(t, plain, kind), 0o644))

			f := newFS(t)
			require.NoError(t, f.Mount(ctx, locator))

			for name, want := range files {
				got, err := f.ReadFile(name)
				require.NoError(t, err, name)
				require.Equal(t, want, string(got), name)
			}

			info, err := f.Stat("maps")
			require.NoError(t, err)
			require.True(t, info.Dir)

			children, err := f.ReadDir("maps")
			require.NoError(t, err)
			require.Equal(t, []string{"m1.bsp", "m2.bsp"}, children)

			// Independent concurrent-capable opens of different files.
			h1, err := f.OpenRead("maps/m1.bsp")
			require.NoError(t, err)
			h2, err := f.OpenRead("maps/m2.bsp")
			require.NoError(t, err)
			b1, err := io.ReadAll(h1)
			require.NoError(t, err)
			b2, err := io.ReadAll(h2)
			require.NoError(t, err)
			require.Equal(t, files["maps/m1.bsp"], string(b1))
			require.Equal(t, files["maps/m2.bsp"], string(b2))
			require.NoError(t, h1.Close())
			require.NoError(t, h2.Close())
		})
	}
}

func TestSpillFileCleanedUp(t *testing.T) {
	rootFS, _ := sourceTree(t)
	data := compress(t, tarFromFS(t, rootFS), "gzip")
	locator := filepath.Join(t.TempDir(), "fixture.tgz")
	require.NoError(t, os.WriteFile(locator, data, 0o644))

	st, err := stream.OpenFile(locator, os.O_RDONLY, 0)
	require.NoError(t, err)
	opened, claimed, err := NewProvider().Open(context.Background(), st, locator, false)
	require.NoError(t, err)
	require.True(t, claimed)
	inst := opened.(*instance)
	require.NotNil(t, inst.spill)

	spillName := inst.spill.Name()
	_, err = os.Stat(spillName)
	require.NoError(t, err)

	require.NoError(t, inst.Close())
	_, err = os.Stat(spillName)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestSymlinkEntriesGuarded(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "data/real.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: 4,
	}))
	_, err := tw.Write([]byte("real"))
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "escape", Typeflag: tar.TypeSymlink, Linkname: "../../etc", Mode: 0o777,
	}))
	require.NoError(t, tw.Close())

	locator := filepath.Join(t.TempDir(), "links.tar")
	require.NoError(t, os.WriteFile(locator, buf.Bytes(), 0o644))

	f := newFS(t)
	require.NoError(t, f.Mount(ctx, locator))

	got, err := f.ReadFile("data/real.txt")
	require.NoError(t, err)
	require.Equal(t, "real", string(got))

	_, err = f.OpenRead("escape")
	require.ErrorIs(t, err, vfs.ErrSymlinkForbidden)
}

func TestTruncatedTarClaimedCorrupt(t *testing.T) {
	ctx := context.Background()
	rootFS, _ := sourceTree(t)
	plain := tarFromFS(t, rootFS)

	// Keep the first header block intact so the format is recognized,
	// then cut the archive mid-entry.
	locator := filepath.Join(t.TempDir(), "cut.tar")
	require.NoError(t, os.WriteFile(locator, plain[:700], 0o644))

	f := newFS(t)
	err := f.Mount(ctx, locator)
	require.ErrorIs(t, err, vfs.ErrCorrupt)
	require.NotErrorIs(t, err, vfs.ErrUnsupported)
}

func TestDecompressorClose(t *testing.T) {
	rootFS, _ := sourceTree(t)
	plain := tarFromFS(t, rootFS)

	// The gzip and zstd readers hold resources until closed; closing
	// after a full drain must succeed without disturbing the output.
	for _, kind := range []string{"gzip", "zstd"} {
		data := compress(t, plain, kind)
		dec, err := decompressor(bytes.NewReader(data), sniff(data))
		require.NoError(t, err, kind)
		got, err := io.ReadAll(dec)
		require.NoError(t, err, kind)
		require.Equal(t, plain, got, kind)

		c, ok := dec.(io.Closer)
		require.True(t, ok, kind)
		require.NoError(t, c.Close(), kind)
	}
}

func TestNotATar(t *testing.T) {
	ctx := context.Background()
	locator := filepath.Join(t.TempDir(), "noise.tar")
	require.NoError(t, os.WriteFile(locator, bytes.Repeat([]byte{0xAB}, 2048), 0o644))
	f := newFS(t)
	require.ErrorIs(t, f.Mount(ctx, locator), vfs.ErrUnsupported)
}
