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

// Package stream provides the seekable byte streams that back every open
// file in the virtual filesystem: native files, refcounted memory buffers,
// and windows over a shared io.ReaderAt. Streams are not internally
// synchronized; callers that need concurrent access to the same data must
// Dup the stream or provide their own locking.
package stream

import (
	"errors"
	"io"
	"sync"
)

var (
	// ErrWrongDirection is returned when reading a write-only stream or
	// writing a read-only one.
	ErrWrongDirection = errors.New("file opened for the wrong direction")

	// ErrPastEOF is returned for seeks that would place the position
	// before the start of the stream.
	ErrPastEOF = errors.New("position out of range")
)

// Stream is a single open byte sequence. Read and Write are optional
// capabilities; everything else is mandatory. A Stream is owned by exactly
// one open handle or provider instance and is destroyed by Close.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker

	// Tell reports the current position without moving it.
	Tell() (int64, error)

	// Length reports the total byte length of the stream.
	Length() (int64, error)

	// Dup returns an independent stream over the same backing data with
	// its position reset to zero. Read-only backing data is shared;
	// writable streams may refuse or snapshot.
	Dup() (Stream, error)

	// Flush forces any pending writes to the backing store.
	Flush() error

	Close() error
}

// resolveSeek translates a whence-relative seek into an absolute position.
func resolveSeek(offset int64, whence int, pos, length int64) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = pos + offset
	case io.SeekEnd:
		abs = length + offset
	default:
		return 0, errors.New("invalid seek whence")
	}
	if abs < 0 {
		return 0, ErrPastEOF
	}
	return abs, nil
}

// ReaderAt adapts a Stream to io.ReaderAt. The adapter serializes
// seek+read pairs, so a single adapter may be shared by concurrent
// section streams over one underlying stream.
func ReaderAt(s Stream) io.ReaderAt {
	return &streamReaderAt{s: s}
}

type streamReaderAt struct {
	mu sync.Mutex
	s  Stream
}

func (r *streamReaderAt) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.s.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(r.s, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}
