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

package stream

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryReadSeek(t *testing.T) {
	st := NewMemory([]byte("hello, world"))
	defer st.Close()

	b := make([]byte, 5)
	n, err := st.Read(b)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b[:n]))

	pos, err := st.Tell()
	require.NoError(t, err)
	require.EqualValues(t, 5, pos)

	length, err := st.Length()
	require.NoError(t, err)
	require.EqualValues(t, 12, length)

	_, err = st.Seek(7, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(st)
	require.NoError(t, err)
	require.Equal(t, "world", string(rest))

	_, err = st.Seek(-1, io.SeekStart)
	require.ErrorIs(t, err, ErrPastEOF)

	_, err = st.Write([]byte("nope"))
	require.ErrorIs(t, err, ErrWrongDirection)
}

func TestMemoryDupSharesBacking(t *testing.T) {
	st := NewMemory([]byte("shared data"))
	dup, err := st.Dup()
	require.NoError(t, err)

	// Advance the original; the duplicate starts at zero independently.
	b := make([]byte, 6)
	_, err = st.Read(b)
	require.NoError(t, err)

	all, err := io.ReadAll(dup)
	require.NoError(t, err)
	require.Equal(t, "shared data", string(all))

	require.NoError(t, st.Close())
	// The duplicate holds its own reference; data survives the original.
	_, err = dup.Seek(0, io.SeekStart)
	require.NoError(t, err)
	all, err = io.ReadAll(dup)
	require.NoError(t, err)
	require.Equal(t, "shared data", string(all))
	require.NoError(t, dup.Close())
}

func TestMemoryBufferWrite(t *testing.T) {
	st := NewMemoryBuffer()
	defer st.Close()

	_, err := st.Write([]byte("abcdef"))
	require.NoError(t, err)
	_, err = st.Seek(3, io.SeekStart)
	require.NoError(t, err)
	_, err = st.Write([]byte("XY"))
	require.NoError(t, err)

	_, err = st.Seek(0, io.SeekStart)
	require.NoError(t, err)
	all, err := io.ReadAll(st)
	require.NoError(t, err)
	require.Equal(t, "abcXYf", string(all))

	// Writable Dup snapshots instead of sharing.
	dup, err := st.Dup()
	require.NoError(t, err)
	defer dup.Close()
	_, err = st.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = st.Write([]byte("zzz"))
	require.NoError(t, err)
	snap, err := io.ReadAll(dup)
	require.NoError(t, err)
	require.Equal(t, "abcXYf", string(snap))
}

func TestFileStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	w, err := OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = w.Write([]byte("file contents"))
	require.NoError(t, err)
	b := make([]byte, 4)
	_, err = w.Read(b)
	require.ErrorIs(t, err, ErrWrongDirection)
	_, err = w.Dup()
	require.ErrorIs(t, err, ErrWrongDirection)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := OpenFile(path, os.O_RDONLY, 0)
	require.NoError(t, err)
	defer r.Close()
	length, err := r.Length()
	require.NoError(t, err)
	require.EqualValues(t, 13, length)

	dup, err := r.Dup()
	require.NoError(t, err)
	defer dup.Close()
	all, err := io.ReadAll(dup)
	require.NoError(t, err)
	require.Equal(t, "file contents", string(all))
}

func TestSection(t *testing.T) {
	base := NewMemory([]byte("xxxPAYLOADyyy"))
	defer base.Close()
	st := NewSection(ReaderAt(base), 3, 7)

	all, err := io.ReadAll(st)
	require.NoError(t, err)
	require.Equal(t, "PAYLOAD", string(all))

	length, err := st.Length()
	require.NoError(t, err)
	require.EqualValues(t, 7, length)

	dup, err := st.Dup()
	require.NoError(t, err)
	_, err = dup.Seek(3, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(dup)
	require.NoError(t, err)
	require.Equal(t, "LOAD", string(rest))

	_, err = st.Write([]byte("no"))
	require.ErrorIs(t, err, ErrWrongDirection)
}
