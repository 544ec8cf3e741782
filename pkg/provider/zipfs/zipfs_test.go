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

package zipfs

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"chainguard.dev/vfs/pkg/vfs"
)

// buildZip writes a zip archive to disk and returns its path. Entries
// alternate between stored and deflated so both open paths are covered.
func buildZip(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	method := zip.Store
	for entry, content := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: entry, Method: method})
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
		if method == zip.Store {
			method = zip.Deflate
		} else {
			method = zip.Store
		}
	}
	require.NoError(t, zw.Close())
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func newFS(t *testing.T) *vfs.FS {
	t.Helper()
	f := vfs.New(vfs.WithProviders(NewProvider()))
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestMountAndRead(t *testing.T) {
	ctx := context.Background()
	files := map[string]string{
		"readme.txt":          "top level",
		"level/data.bin":      "binary payload here",
		"level/more/deep.txt": "deep",
	}
	locator := buildZip(t, "game.zip", files)

	f := newFS(t)
	require.NoError(t, f.Mount(ctx, locator))

	for name, want := range files {
		got, err := f.ReadFile(name)
		require.NoError(t, err, name)
		require.Equal(t, want, string(got), name)
	}

	// Synthesized directories stat as directories.
	info, err := f.Stat("level/more")
	require.NoError(t, err)
	require.True(t, info.Dir)

	info, err = f.Stat("level/data.bin")
	require.NoError(t, err)
	require.EqualValues(t, len(files["level/data.bin"]), info.Size)

	children, err := f.ReadDir("level")
	require.NoError(t, err)
	require.Equal(t, []string{"data.bin", "more"}, children)
}

func TestMountAtPoint(t *testing.T) {
	ctx := context.Background()
	locator := buildZip(t, "X.dat", map[string]string{"level/data.bin": "zipped"})

	f := newFS(t)
	require.NoError(t, f.Mount(ctx, locator, vfs.AtMountPoint("/mods/a")))

	require.True(t, f.Exists("/mods/a/level/data.bin"))
	require.False(t, f.Exists("/level/data.bin"))

	point, err := f.MountPoint(locator)
	require.NoError(t, err)
	require.Equal(t, "/mods/a", point)
}

func TestClaimByMagicNotExtension(t *testing.T) {
	ctx := context.Background()
	// A zip with a foreign extension is still claimed by signature.
	locator := buildZip(t, "bundle.dat", map[string]string{"a.txt": "1"})
	f := newFS(t)
	require.NoError(t, f.Mount(ctx, locator))
	require.True(t, f.Exists("a.txt"))
}

func TestCorruptClaimed(t *testing.T) {
	ctx := context.Background()
	// Valid signature, truncated body: claimed, then corrupt.
	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04truncated"), 0o644))

	f := newFS(t)
	err := f.Mount(ctx, path)
	require.ErrorIs(t, err, vfs.ErrCorrupt)
	require.NotErrorIs(t, err, vfs.ErrUnsupported)
}

func TestNotAZip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plain.zip")
	require.NoError(t, os.WriteFile(path, []byte("just some text"), 0o644))

	f := newFS(t)
	require.ErrorIs(t, f.Mount(ctx, path), vfs.ErrUnsupported)
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	locator := buildZip(t, "ro.zip", map[string]string{"a": "1"})
	f := newFS(t)
	require.ErrorIs(t, f.SetWriteRoot(ctx, locator), vfs.ErrReadOnly)
}

func TestHostileNamesExcluded(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"../escape.txt", "ok.txt", "a/../b.txt"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	path := filepath.Join(t.TempDir(), "hostile.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	f := newFS(t)
	require.NoError(t, f.Mount(ctx, path))
	require.True(t, f.Exists("ok.txt"))
	require.False(t, f.Exists("../escape.txt"))
	require.False(t, f.Exists("escape.txt"))
	require.False(t, f.Exists("a/../b.txt"))
	require.False(t, f.Exists("b.txt"))
}

func TestSeekWithinEntry(t *testing.T) {
	ctx := context.Background()
	locator := buildZip(t, "seek.zip", map[string]string{"data": "0123456789"})
	f := newFS(t)
	require.NoError(t, f.Mount(ctx, locator))

	h, err := f.OpenRead("data")
	require.NoError(t, err)
	defer h.Close()
	_, err = h.Seek(5, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(h)
	require.NoError(t, err)
	require.Equal(t, "56789", string(rest))
}
