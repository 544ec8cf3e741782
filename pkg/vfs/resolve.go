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
	"strings"
)

// containment of a canonical path relative to a mount entry.
const (
	containsNo      = iota // entry's namespace does not cover the path
	containsInside         // path maps into the container
	containsVirtual        // path exists only as mount-point scaffolding
)

// contains classifies path against the entry's mount point, boundary
// aware: "a/b" is under prefix "a", but "abc" is not. rel is the path
// rewritten relative to the mount point, valid for containsInside.
func (e *mountEntry) contains(path string) (rel string, mode int) {
	switch {
	case e.point == "":
		return path, containsInside
	case path == e.point:
		return "", containsInside
	case strings.HasPrefix(path, e.point+"/"):
		return path[len(e.point)+1:], containsInside
	case path == "" || strings.HasPrefix(e.point, path+"/"):
		// The path is an ancestor of the mount point: it exists as a
		// directory even if no container provides it.
		return "", containsVirtual
	}
	return "", containsNo
}

// local prepends the entry's sub-root to a rewritten path.
func (e *mountEntry) local(rel string) string {
	if e.sub == "" {
		return rel
	}
	if rel == "" {
		return e.sub
	}
	return e.sub + "/" + rel
}

// location is a successful read resolution: the authoritative entry and
// the provider-local path within it.
type location struct {
	ent   *mountEntry
	local string
}

// lookup walks the search path head to tail and returns the first entry
// whose namespace covers the path, together with its stat info. A nil
// location with a nil error means the path exists only as a virtual
// directory; virtual containment terminates the walk just like a real
// hit, so a later mount cannot shadow an earlier mount's scaffolding.
// Not-found in one entry falls through to the next; any other provider
// error halts the walk and propagates. Caller holds f.mu.
func (f *FS) lookup(path string) (*location, Info, error) {
	for _, ent := range f.search {
		rel, mode := ent.contains(path)
		switch mode {
		case containsNo:
			continue
		case containsVirtual:
			return nil, Info{Dir: true}, nil
		}
		local := ent.local(rel)
		info, err := ent.inst.Stat(local)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, Info{}, err
		}
		if !f.permitSymlinks {
			if err := checkSymlinks(ent.inst, local, info); err != nil {
				return nil, Info{}, err
			}
		}
		return &location{ent: ent, local: local}, info, nil
	}
	return nil, Info{}, fmt.Errorf("%s: %w", path, ErrNotFound)
}

// checkSymlinks rejects the resolution when the target or any of its
// ancestor segments is a symlink inside the container. This guards
// against an archive using an internal symlink to escape its own
// subtree. Missing ancestors (archives often omit directory entries) are
// not an error.
func checkSymlinks(inst Instance, local string, info Info) error {
	if info.Symlink {
		return fmt.Errorf("%s: %w", local, ErrSymlinkForbidden)
	}
	for i := 0; i < len(local); i++ {
		if local[i] != '/' {
			continue
		}
		prefix := local[:i]
		pi, err := inst.Stat(prefix)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		if pi.Symlink {
			return fmt.Errorf("%s: %w", prefix, ErrSymlinkForbidden)
		}
	}
	return nil
}

// resolveWrite maps a canonical path onto the write root. All mutating
// operations route through here; there is no write fallback to the
// search path. Caller holds f.mu.
func (f *FS) resolveWrite(path string) (*mountEntry, string, error) {
	if f.write == nil {
		return nil, "", fmt.Errorf("%s: %w", path, ErrNoWriteDir)
	}
	return f.write, f.write.local(path), nil
}

// Stat reports information about the entry at path, consulting the
// search path in priority order. Ancestors of mount points exist as
// directories even when no mounted container provides them.
func (f *FS) Stat(name string) (Info, error) {
	path, err := Sanitize(name)
	if err != nil {
		return Info{}, f.fail(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if path == "" && len(f.search) > 0 {
		return Info{Dir: true}, nil
	}
	_, info, err := f.lookup(path)
	if err != nil {
		return Info{}, f.fail(err)
	}
	return info, nil
}

// Exists reports whether path resolves in the current search path.
func (f *FS) Exists(name string) bool {
	_, err := f.Stat(name)
	return err == nil
}

// Mkdir creates the directory at path under the write root, creating
// missing ancestors one segment at a time. It stops at the first
// failure; ancestors already created are left in place and are not
// rolled back.
func (f *FS) Mkdir(name string) error {
	path, err := Sanitize(name)
	if err != nil {
		return f.fail(err)
	}
	if path == "" {
		return f.fail(fmt.Errorf("mkdir: %w", ErrInvalid))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ent, local, err := f.resolveWrite(path)
	if err != nil {
		return f.fail(err)
	}
	start := 0
	if ent.sub != "" {
		start = len(ent.sub) + 1
	}
	for i := start; i <= len(local); i++ {
		if i != len(local) && local[i] != '/' {
			continue
		}
		prefix := local[:i]
		info, err := ent.inst.Stat(prefix)
		if err == nil {
			if !info.Dir {
				return f.fail(fmt.Errorf("mkdir %s: %w", prefix, ErrNotADirectory))
			}
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return f.fail(fmt.Errorf("mkdir %s: %w", prefix, err))
		}
		if err := ent.inst.Mkdir(prefix); err != nil {
			return f.fail(fmt.Errorf("mkdir %s: %w", prefix, err))
		}
	}
	return nil
}

// Remove deletes the file or empty directory at path under the write
// root.
func (f *FS) Remove(name string) error {
	path, err := Sanitize(name)
	if err != nil {
		return f.fail(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ent, local, err := f.resolveWrite(path)
	if err != nil {
		return f.fail(err)
	}
	if err := ent.inst.Remove(local); err != nil {
		return f.fail(fmt.Errorf("remove %s: %w", path, err))
	}
	return nil
}
