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
	"sync"
)

// refBuf is a refcounted immutable byte slice shared between a memory
// stream and its duplicates.
type refBuf struct {
	mu   sync.Mutex
	refs int
	data []byte
}

func (b *refBuf) acquire() {
	b.mu.Lock()
	b.refs++
	b.mu.Unlock()
}

func (b *refBuf) release() {
	b.mu.Lock()
	b.refs--
	if b.refs == 0 {
		b.data = nil
	}
	b.mu.Unlock()
}

type memoryStream struct {
	buf      *refBuf
	pos      int64
	writable bool
	closed   bool
}

// NewMemory returns a read-only stream over data. The slice is not
// copied; the caller must not mutate it afterwards.
func NewMemory(data []byte) Stream {
	return &memoryStream{buf: &refBuf{refs: 1, data: data}}
}

// NewMemoryBuffer returns an empty, growable read-write stream. Its Dup
// snapshots the current contents rather than sharing them.
func NewMemoryBuffer() Stream {
	return &memoryStream{buf: &refBuf{refs: 1}, writable: true}
}

func (s *memoryStream) Read(p []byte) (int, error) {
	if s.pos >= int64(len(s.buf.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.buf.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *memoryStream) Write(p []byte) (int, error) {
	if !s.writable {
		return 0, ErrWrongDirection
	}
	if grow := s.pos + int64(len(p)) - int64(len(s.buf.data)); grow > 0 {
		s.buf.data = append(s.buf.data, make([]byte, grow)...)
	}
	n := copy(s.buf.data[s.pos:], p)
	s.pos += int64(n)
	return n, nil
}

func (s *memoryStream) Seek(offset int64, whence int) (int64, error) {
	abs, err := resolveSeek(offset, whence, s.pos, int64(len(s.buf.data)))
	if err != nil {
		return 0, err
	}
	s.pos = abs
	return abs, nil
}

func (s *memoryStream) Tell() (int64, error) {
	return s.pos, nil
}

func (s *memoryStream) Length() (int64, error) {
	return int64(len(s.buf.data)), nil
}

func (s *memoryStream) Dup() (Stream, error) {
	if s.writable {
		snap := make([]byte, len(s.buf.data))
		copy(snap, s.buf.data)
		return NewMemory(snap), nil
	}
	s.buf.acquire()
	return &memoryStream{buf: s.buf}, nil
}

func (s *memoryStream) Flush() error { return nil }

func (s *memoryStream) Close() error {
	if !s.closed {
		s.closed = true
		s.buf.release()
	}
	return nil
}
