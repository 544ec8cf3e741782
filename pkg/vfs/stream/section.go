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

import "io"

// sectionStream is a read-only window over a shared io.ReaderAt, the way
// archive providers expose one file out of a larger container without
// copying it. The backing ReaderAt must be safe for concurrent ReadAt.
type sectionStream struct {
	sr   *io.SectionReader
	ra   io.ReaderAt
	off  int64
	size int64
}

// NewSection returns a stream over size bytes of ra starting at off.
func NewSection(ra io.ReaderAt, off, size int64) Stream {
	return &sectionStream{
		sr:   io.NewSectionReader(ra, off, size),
		ra:   ra,
		off:  off,
		size: size,
	}
}

func (s *sectionStream) Read(p []byte) (int, error) {
	return s.sr.Read(p)
}

func (s *sectionStream) Write([]byte) (int, error) {
	return 0, ErrWrongDirection
}

func (s *sectionStream) Seek(offset int64, whence int) (int64, error) {
	abs, err := s.sr.Seek(offset, whence)
	if err != nil {
		return 0, ErrPastEOF
	}
	return abs, nil
}

func (s *sectionStream) Tell() (int64, error) {
	return s.sr.Seek(0, io.SeekCurrent)
}

func (s *sectionStream) Length() (int64, error) {
	return s.size, nil
}

func (s *sectionStream) Dup() (Stream, error) {
	return NewSection(s.ra, s.off, s.size), nil
}

func (s *sectionStream) Flush() error { return nil }
func (s *sectionStream) Close() error { return nil }
