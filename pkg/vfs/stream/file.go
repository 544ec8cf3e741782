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
	"io/fs"
	"os"
)

type fileStream struct {
	f        *os.File
	path     string
	readable bool
	writable bool
}

// OpenFile opens a native file as a Stream using os.OpenFile flags.
func OpenFile(path string, flag int, perm fs.FileMode) (Stream, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	acc := flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR)
	return &fileStream{
		f:        f,
		path:     path,
		readable: acc == os.O_RDONLY || acc == os.O_RDWR,
		writable: acc == os.O_WRONLY || acc == os.O_RDWR,
	}, nil
}

func (s *fileStream) Read(p []byte) (int, error) {
	if !s.readable {
		return 0, ErrWrongDirection
	}
	return s.f.Read(p)
}

func (s *fileStream) Write(p []byte) (int, error) {
	if !s.writable {
		return 0, ErrWrongDirection
	}
	return s.f.Write(p)
}

func (s *fileStream) Seek(offset int64, whence int) (int64, error) {
	return s.f.Seek(offset, whence)
}

func (s *fileStream) Tell() (int64, error) {
	return s.f.Seek(0, io.SeekCurrent)
}

func (s *fileStream) Length() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Dup reopens the file read-only. Duplicating a write-only stream is not
// supported, since the duplicate could observe torn writes.
func (s *fileStream) Dup() (Stream, error) {
	if !s.readable {
		return nil, ErrWrongDirection
	}
	return OpenFile(s.path, os.O_RDONLY, 0)
}

func (s *fileStream) Flush() error {
	if !s.writable {
		return nil
	}
	return s.f.Sync()
}

func (s *fileStream) Close() error {
	return s.f.Close()
}
