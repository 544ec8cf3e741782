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
	"io"

	"chainguard.dev/vfs/pkg/vfs/stream"
)

// File is an open handle. It couples a byte stream to the mount entry
// that produced it, so the entry cannot be unmounted while the handle is
// open, and layers optional client-side buffering over the stream.
//
// A File is not internally synchronized. Use Dup for concurrent access
// to the same data.
type File struct {
	fs      *FS
	st      stream.Stream
	ent     *mountEntry
	writing bool
	closed  bool

	// Lazy buffer. For read handles buf[bufPos:bufLen] holds bytes not
	// yet delivered; for write handles buf[:bufLen] holds bytes not yet
	// written through.
	buf    []byte
	bufPos int
	bufLen int
}

// OpenRead opens the file at name for reading, resolving it through the
// search path. Opening a directory (real or virtual) fails with
// ErrNotAFile.
func (f *FS) OpenRead(name string) (*File, error) {
	path, err := Sanitize(name)
	if err != nil {
		return nil, f.fail(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	loc, info, err := f.lookup(path)
	if err != nil {
		return nil, f.fail(fmt.Errorf("open %s: %w", path, err))
	}
	if loc == nil || info.Dir {
		return nil, f.fail(fmt.Errorf("open %s: %w", path, ErrNotAFile))
	}
	st, err := loc.ent.inst.OpenRead(loc.local)
	if err != nil {
		return nil, f.fail(fmt.Errorf("open %s: %w", path, err))
	}
	h := &File{fs: f, st: st, ent: loc.ent}
	f.readHandles[h] = struct{}{}
	return h, nil
}

// OpenWrite opens the file at name for writing under the write root,
// truncating an existing file. The parent directory must already exist;
// see Mkdir.
func (f *FS) OpenWrite(name string) (*File, error) {
	return f.openMutable(name, false)
}

// OpenAppend opens the file at name for appending under the write root,
// creating it if missing.
func (f *FS) OpenAppend(name string) (*File, error) {
	return f.openMutable(name, true)
}

func (f *FS) openMutable(name string, appendTo bool) (*File, error) {
	path, err := Sanitize(name)
	if err != nil {
		return nil, f.fail(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ent, local, err := f.resolveWrite(path)
	if err != nil {
		return nil, f.fail(err)
	}
	var st stream.Stream
	if appendTo {
		st, err = ent.inst.OpenAppend(local)
	} else {
		st, err = ent.inst.OpenWrite(local)
	}
	if err != nil {
		return nil, f.fail(fmt.Errorf("open %s: %w", path, err))
	}
	if appendTo {
		// Seed the position so Tell reports end-of-file before the first
		// write; O_APPEND streams otherwise sit at zero until written.
		if _, err := st.Seek(0, io.SeekEnd); err != nil {
			st.Close()
			return nil, f.fail(fmt.Errorf("open %s: %w", path, err))
		}
	}
	h := &File{fs: f, st: st, ent: ent, writing: true}
	f.writeHandles[h] = struct{}{}
	return h, nil
}

func (h *File) Read(p []byte) (int, error) {
	if h.closed {
		return 0, h.fs.fail(ErrClosed)
	}
	if h.writing {
		return 0, h.fs.fail(ErrWrongDirection)
	}
	if h.buf == nil {
		return h.st.Read(p)
	}
	total := 0
	for len(p) > 0 {
		if h.bufPos < h.bufLen {
			n := copy(p, h.buf[h.bufPos:h.bufLen])
			h.bufPos += n
			p = p[n:]
			total += n
			continue
		}
		// Refill only once the buffer is exhausted.
		n, err := h.st.Read(h.buf)
		if n > 0 {
			h.bufPos, h.bufLen = 0, n
			continue
		}
		if err == nil {
			err = io.EOF
		}
		if total > 0 && err == io.EOF {
			return total, nil
		}
		return total, err
	}
	return total, nil
}

func (h *File) Write(p []byte) (int, error) {
	if h.closed {
		return 0, h.fs.fail(ErrClosed)
	}
	if !h.writing {
		return 0, h.fs.fail(ErrWrongDirection)
	}
	if h.buf == nil {
		return h.st.Write(p)
	}
	total := 0
	for len(p) > 0 {
		if h.bufLen == len(h.buf) {
			if err := h.flushPending(); err != nil {
				return total, err
			}
		}
		n := copy(h.buf[h.bufLen:], p)
		h.bufLen += n
		p = p[n:]
		total += n
	}
	return total, nil
}

// flushPending writes through buffered write data. No-op for read
// handles.
func (h *File) flushPending() error {
	if !h.writing || h.bufLen == 0 {
		return nil
	}
	if _, err := h.st.Write(h.buf[:h.bufLen]); err != nil {
		return err
	}
	h.bufLen = 0
	return nil
}

// Tell reports the logical position: the stream position corrected for
// bytes sitting in the buffer.
func (h *File) Tell() (int64, error) {
	if h.closed {
		return 0, h.fs.fail(ErrClosed)
	}
	pos, err := h.st.Tell()
	if err != nil {
		return 0, h.fs.fail(err)
	}
	if h.writing {
		return pos + int64(h.bufLen), nil
	}
	return pos - int64(h.bufLen-h.bufPos), nil
}

// Length reports the file's total length. Pending writes are flushed
// first so the answer reflects everything written so far.
func (h *File) Length() (int64, error) {
	if h.closed {
		return 0, h.fs.fail(ErrClosed)
	}
	if err := h.flushPending(); err != nil {
		return 0, h.fs.fail(err)
	}
	n, err := h.st.Length()
	if err != nil {
		return 0, h.fs.fail(err)
	}
	return n, nil
}

func (h *File) Seek(offset int64, whence int) (int64, error) {
	if h.closed {
		return 0, h.fs.fail(ErrClosed)
	}
	cur, err := h.Tell()
	if err != nil {
		return 0, err
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = cur + offset
	case io.SeekEnd:
		length, err := h.Length()
		if err != nil {
			return 0, err
		}
		abs = length + offset
	default:
		return 0, h.fs.fail(fmt.Errorf("seek whence %d: %w", whence, ErrInvalid))
	}
	if abs < 0 {
		return 0, h.fs.fail(ErrPastEOF)
	}
	if err := h.flushPending(); err != nil {
		return 0, h.fs.fail(err)
	}
	h.bufPos, h.bufLen = 0, 0
	if _, err := h.st.Seek(abs, io.SeekStart); err != nil {
		return 0, h.fs.fail(err)
	}
	return abs, nil
}

// SetBuffer resizes the handle's client-side buffer; zero disables
// buffering. Pending writes are flushed first, and read handles are
// repositioned to their logical offset so no buffered bytes are lost.
func (h *File) SetBuffer(size int) error {
	if h.closed {
		return h.fs.fail(ErrClosed)
	}
	if size < 0 {
		return h.fs.fail(fmt.Errorf("buffer size %d: %w", size, ErrInvalid))
	}
	if err := h.flushPending(); err != nil {
		return h.fs.fail(err)
	}
	if !h.writing && h.bufLen > h.bufPos {
		if _, err := h.st.Seek(int64(h.bufPos-h.bufLen), io.SeekCurrent); err != nil {
			return h.fs.fail(err)
		}
	}
	h.bufPos, h.bufLen = 0, 0
	if size == 0 {
		h.buf = nil
	} else {
		h.buf = make([]byte, size)
	}
	return nil
}

// Flush writes through any buffered data and asks the stream to sync.
func (h *File) Flush() error {
	if h.closed {
		return h.fs.fail(ErrClosed)
	}
	if err := h.flushPending(); err != nil {
		return h.fs.fail(err)
	}
	return h.fs.fail(h.st.Flush())
}

// Dup returns an independent handle over the same data: fresh buffer
// state, same owning mount entry, position reset to zero.
func (h *File) Dup() (*File, error) {
	if h.closed {
		return nil, h.fs.fail(ErrClosed)
	}
	if err := h.flushPending(); err != nil {
		return nil, h.fs.fail(err)
	}
	st, err := h.st.Dup()
	if err != nil {
		return nil, h.fs.fail(err)
	}
	dup := &File{fs: h.fs, st: st, ent: h.ent, writing: h.writing}
	h.fs.mu.Lock()
	if h.writing {
		h.fs.writeHandles[dup] = struct{}{}
	} else {
		h.fs.readHandles[dup] = struct{}{}
	}
	h.fs.mu.Unlock()
	return dup, nil
}

// Close flushes pending writes, unlinks the handle from its registry and
// destroys the stream. If the flush fails the handle stays open and
// registered so the close can be retried.
func (h *File) Close() error {
	if h.closed {
		return h.fs.fail(ErrClosed)
	}
	if err := h.flushPending(); err != nil {
		return h.fs.fail(err)
	}
	h.fs.mu.Lock()
	if h.writing {
		delete(h.fs.writeHandles, h)
	} else {
		delete(h.fs.readHandles, h)
	}
	h.fs.mu.Unlock()
	h.closed = true
	return h.fs.fail(h.st.Close())
}

// ReadFile reads the whole file at name through the search path.
func (f *FS) ReadFile(name string) ([]byte, error) {
	h, err := f.OpenRead(name)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	b, err := io.ReadAll(h)
	if err != nil {
		return nil, f.fail(err)
	}
	return b, nil
}

// WriteFile writes data to name under the write root, truncating any
// existing file.
func (f *FS) WriteFile(name string, data []byte) error {
	h, err := f.OpenWrite(name)
	if err != nil {
		return err
	}
	if _, err := h.Write(data); err != nil {
		h.Close()
		return f.fail(err)
	}
	return h.Close()
}
