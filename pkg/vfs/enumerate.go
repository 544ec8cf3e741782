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
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ReadDir lists the directory at name, interpolating results from every
// overlapping search-path entry. The result is de-duplicated by name and
// sorted by codepoint. The callback contract, EnumerateDir, is looser;
// the two are intentionally distinct.
func (f *FS) ReadDir(name string) ([]string, error) {
	path, err := Sanitize(name)
	if err != nil {
		return nil, f.fail(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]struct{}{}
	if err := f.enumerate(path, func(child string) error {
		seen[child] = struct{}{}
		return nil
	}); err != nil {
		return nil, f.fail(err)
	}
	out := make([]string, 0, len(seen))
	for child := range seen {
		out = append(out, child)
	}
	slices.Sort(out)
	return out, nil
}

// EnumerateDir streams the children of the directory at name to fn, in
// no guaranteed order. A name shadowed by several mounts may be emitted
// more than once. A non-nil error from fn aborts the enumeration and is
// reported wrapped in ErrCallback.
func (f *FS) EnumerateDir(name string, fn func(child string) error) error {
	path, err := Sanitize(name)
	if err != nil {
		return f.fail(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail(f.enumerate(path, fn))
}

// enumerate walks every search-path entry overlapping the directory at
// path. Mount points contribute their next segment as a virtual child.
// Caller holds f.mu.
func (f *FS) enumerate(path string, fn func(string) error) error {
	found := false
	for _, ent := range f.search {
		rel, mode := ent.contains(path)
		switch mode {
		case containsNo:
			continue
		case containsVirtual:
			found = true
			rest := ent.point
			if path != "" {
				rest = ent.point[len(path)+1:]
			}
			child, _, _ := strings.Cut(rest, "/")
			if err := fn(child); err != nil {
				return fmt.Errorf("%v: %w", err, ErrCallback)
			}
			continue
		}
		local := ent.local(rel)
		info, err := ent.inst.Stat(local)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		if !info.Dir {
			continue
		}
		found = true
		if err := ent.inst.Enumerate(local, func(child string) error {
			if err := fn(child); err != nil {
				return fmt.Errorf("%v: %w", err, ErrCallback)
			}
			return nil
		}); err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return nil
}
