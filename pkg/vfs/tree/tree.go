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

// Package tree turns the flat entry list of an archive manifest into a
// navigable hierarchy. Archives routinely omit directory entries, so Add
// synthesizes missing ancestors. The tree is rooted at the empty path.
package tree

import (
	"cmp"
	"slices"
	"strings"
)

// Entry is one node of the tree. Value is free for the owning archive
// provider to attach per-entry state (offsets, headers).
type Entry struct {
	Path  string
	Dir   bool
	Value any

	parent *Entry
}

// Name returns the final path segment.
func (e *Entry) Name() string {
	if i := strings.LastIndexByte(e.Path, '/'); i >= 0 {
		return e.Path[i+1:]
	}
	return e.Path
}

// Parent returns the containing directory entry, or nil for the root.
func (e *Entry) Parent() *Entry { return e.parent }

// Tree is a hierarchy indexed by canonical path. Not safe for concurrent
// mutation; archive providers build it once at open time.
type Tree struct {
	byPath   map[string]*Entry
	children map[string][]*Entry
}

func New() *Tree {
	root := &Entry{Path: "", Dir: true}
	return &Tree{
		byPath:   map[string]*Entry{"": root},
		children: map[string][]*Entry{},
	}
}

// Add inserts path, creating any missing ancestor directories. It is
// idempotent by path: re-adding returns the existing entry unchanged,
// except that a synthesized file entry later re-added as a directory is
// promoted.
func (t *Tree) Add(path string, dir bool) *Entry {
	if e, ok := t.byPath[path]; ok {
		if dir && !e.Dir {
			e.Dir = true
		}
		return e
	}
	var parent *Entry
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		parent = t.Add(path[:i], true)
	} else {
		parent = t.byPath[""]
	}
	e := &Entry{Path: path, Dir: dir, parent: parent}
	t.byPath[path] = e
	t.children[parent.Path] = append(t.children[parent.Path], e)
	return e
}

// Find returns the entry at path, or nil.
func (t *Tree) Find(path string) *Entry {
	return t.byPath[path]
}

// Len reports the number of entries, excluding the root.
func (t *Tree) Len() int {
	return len(t.byPath) - 1
}

// Children invokes fn for each direct child of the directory at path, in
// insertion order. A non-nil error from fn aborts the walk and is
// returned verbatim.
func (t *Tree) Children(path string, fn func(*Entry) error) error {
	for _, e := range t.children[path] {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// List returns the direct children of path sorted by name.
func (t *Tree) List(path string) []*Entry {
	out := slices.Clone(t.children[path])
	slices.SortFunc(out, func(a, b *Entry) int {
		return cmp.Compare(a.Name(), b.Name())
	})
	return out
}
