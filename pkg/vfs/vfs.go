// Copyright 2022, 2023 Chainguard, Inc.
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

// Package vfs unifies native directories and archive files into one
// hierarchical, read-mostly namespace plus a single writable root.
// Mounted roots form an ordered search path; the first root containing a
// path wins. Caller paths are validated so that untrusted archive content
// cannot escape its mount via ".." or symlink tricks.
package vfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"chainguard.dev/vfs/pkg/vfs/stream"
)

// mountEntry is one mounted root: a provider instance plus the locator it
// was opened from, an optional mount point within the virtual namespace,
// and an optional sub-root narrowing lookups inside the container.
type mountEntry struct {
	inst    Instance
	prov    Provider
	locator string
	point   string // canonical; "" mounts at the namespace root
	sub     string // canonical; "" means the container root
}

// FS is the application-owned state of the layer: provider registry,
// search path, write root, and both open-handle registries, all guarded
// by one mutex. The zero value is not usable; construct with New.
type FS struct {
	mu           sync.Mutex
	providers    []Provider
	search       []*mountEntry
	write        *mountEntry
	readHandles  map[*File]struct{}
	writeHandles map[*File]struct{}
	tracer       trace.Tracer

	permitSymlinks bool

	// The last-error slot has its own lock so LastError never contends
	// with mount-table walks. Lock order: errMu nests inside f.mu, never
	// the reverse; see FS.fail.
	errMu   sync.Mutex
	lastErr error
}

// Option configures an FS at construction time.
type Option func(*FS)

// WithPermitSymlinks disables the symlink traversal guard. Only safe when
// every mounted container is trusted.
func WithPermitSymlinks() Option {
	return func(f *FS) { f.permitSymlinks = true }
}

// WithProviders registers providers during construction, in order.
func WithProviders(ps ...Provider) Option {
	return func(f *FS) { f.providers = append(f.providers, ps...) }
}

func New(opts ...Option) *FS {
	f := &FS{
		readHandles:  map[*File]struct{}{},
		writeHandles: map[*File]struct{}{},
		tracer:       otel.Tracer("vfs"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RegisterProvider appends p to the provider registry. Registration order
// is the trial order for locators whose extension matches no provider.
func (f *FS) RegisterProvider(p Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.providers {
		if q == p {
			return f.fail(fmt.Errorf("provider %T: %w", p, ErrDuplicate))
		}
	}
	f.providers = append(f.providers, p)
	return nil
}

// DeregisterProvider removes p. It fails with ErrFilesOpen while any
// mounted entry (or the write root) was opened by p.
func (f *FS) DeregisterProvider(p Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ent := range f.search {
		if ent.prov == p {
			return f.fail(fmt.Errorf("deregister %T: %s still mounted: %w", p, ent.locator, ErrFilesOpen))
		}
	}
	if f.write != nil && f.write.prov == p {
		return f.fail(fmt.Errorf("deregister %T: write root %s: %w", p, f.write.locator, ErrFilesOpen))
	}
	for i, q := range f.providers {
		if q == p {
			f.providers = append(f.providers[:i], f.providers[i+1:]...)
			return nil
		}
	}
	return f.fail(fmt.Errorf("provider %T: %w", p, ErrNotMounted))
}

// MountOption configures a single Mount call.
type MountOption func(*mountOpts)

type mountOpts struct {
	point   string
	prepend bool
}

// AtMountPoint mounts the root at the given prefix of the virtual
// namespace instead of at its root.
func AtMountPoint(point string) MountOption {
	return func(o *mountOpts) { o.point = point }
}

// Prepend puts the new root at the head of the search path, giving it
// highest priority. The default appends.
func Prepend() MountOption {
	return func(o *mountOpts) { o.prepend = true }
}

// initialized rejects use of a zero FS value, which lacks the handle
// registries.
func (f *FS) initialized() error {
	if f.readHandles == nil {
		return ErrNotInitialized
	}
	return nil
}

// Mount adds the directory or archive at locator to the search path.
// Mounting an already-mounted locator is a no-op that succeeds and leaves
// the search path unchanged.
func (f *FS) Mount(ctx context.Context, locator string, opts ...MountOption) error {
	if err := f.initialized(); err != nil {
		return f.fail(err)
	}
	var o mountOpts
	for _, opt := range opts {
		opt(&o)
	}
	point, err := Sanitize(o.point)
	if err != nil {
		return f.fail(err)
	}

	ctx, span := f.tracer.Start(ctx, "Mount")
	defer span.End()
	log := clog.FromContext(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ent := range f.search {
		if ent.locator == locator {
			log.Debugf("mount %s: already mounted, ignoring", locator)
			return nil
		}
	}

	ent, err := f.openLocator(ctx, locator, false)
	if err != nil {
		return f.fail(fmt.Errorf("mount %s: %w", locator, err))
	}
	ent.point = point
	if o.prepend {
		f.search = append([]*mountEntry{ent}, f.search...)
	} else {
		f.search = append(f.search, ent)
	}
	log.Infof("mounted %s at /%s", locator, point)
	return nil
}

// openLocator resolves a locator to a provider instance. Trial order:
// providers whose declared extension matches the locator's
// (case-insensitive) first, then the remaining providers in registration
// order. A provider that claims the format halts the trial, success or
// not. Caller holds f.mu.
func (f *FS) openLocator(ctx context.Context, locator string, forWrite bool) (*mountEntry, error) {
	fi, err := os.Stat(locator)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrNotFound)
	}

	var st stream.Stream
	if !fi.IsDir() {
		flag := os.O_RDONLY
		if forWrite {
			flag = os.O_RDWR
		}
		st, err = stream.OpenFile(locator, flag, 0)
		if err != nil {
			return nil, err
		}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(locator)), ".")
	ordered := make([]Provider, 0, len(f.providers))
	for _, p := range f.providers {
		if p.Extension() != "" && p.Extension() == ext {
			ordered = append(ordered, p)
		}
	}
	for _, p := range f.providers {
		if p.Extension() == "" || p.Extension() != ext {
			ordered = append(ordered, p)
		}
	}

	for _, p := range ordered {
		if st != nil {
			if _, err := st.Seek(0, io.SeekStart); err != nil {
				st.Close()
				return nil, err
			}
		}
		inst, claimed, err := p.Open(ctx, st, locator, forWrite)
		if err == nil && inst != nil {
			return &mountEntry{inst: inst, prov: p, locator: locator}, nil
		}
		if claimed {
			// Recognized but unusable: surface the provider's own error
			// instead of falling through to "unsupported".
			if st != nil {
				st.Close()
			}
			return nil, err
		}
	}
	if st != nil {
		st.Close()
	}
	return nil, ErrUnsupported
}

// Unmount removes the root mounted from locator. It fails with
// ErrFilesOpen while any open handle still references that root; closing
// the handles makes the unmount retryable.
func (f *FS) Unmount(locator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ent := range f.search {
		if ent.locator != locator {
			continue
		}
		if f.entryBusy(ent) {
			return f.fail(fmt.Errorf("unmount %s: %w", locator, ErrFilesOpen))
		}
		f.search = append(f.search[:i], f.search[i+1:]...)
		if err := ent.inst.Close(); err != nil {
			return f.fail(fmt.Errorf("unmount %s: %w", locator, err))
		}
		return nil
	}
	return f.fail(fmt.Errorf("unmount %s: %w", locator, ErrNotMounted))
}

func (f *FS) entryBusy(ent *mountEntry) bool {
	for h := range f.readHandles {
		if h.ent == ent {
			return true
		}
	}
	for h := range f.writeHandles {
		if h.ent == ent {
			return true
		}
	}
	return false
}

// SetWriteRoot designates locator as the single target of all write,
// append, mkdir and delete operations. An empty locator clears the write
// root, disabling writes. Replacing or clearing fails with ErrFilesOpen
// while write handles are open on the current root.
func (f *FS) SetWriteRoot(ctx context.Context, locator string) error {
	if err := f.initialized(); err != nil {
		return f.fail(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.write != nil {
		for h := range f.writeHandles {
			if h.ent == f.write {
				return f.fail(fmt.Errorf("set write root: %w", ErrFilesOpen))
			}
		}
	}
	if locator == "" {
		if f.write != nil {
			old := f.write
			f.write = nil
			if err := old.inst.Close(); err != nil {
				return f.fail(err)
			}
		}
		return nil
	}
	ent, err := f.openLocator(ctx, locator, true)
	if err != nil {
		return f.fail(fmt.Errorf("set write root %s: %w", locator, err))
	}
	old := f.write
	f.write = ent
	if old != nil {
		if err := old.inst.Close(); err != nil {
			return f.fail(err)
		}
	}
	clog.FromContext(ctx).Infof("write root set to %s", locator)
	return nil
}

// SetRoot narrows future lookups in the root mounted from locator to the
// given subpath inside the container ("" restores the full container).
// Already-open handles are unaffected.
func (f *FS) SetRoot(locator, sub string) error {
	clean, err := Sanitize(sub)
	if err != nil {
		return f.fail(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	found := false
	for _, ent := range f.search {
		if ent.locator == locator {
			ent.sub = clean
			found = true
		}
	}
	if f.write != nil && f.write.locator == locator {
		f.write.sub = clean
		found = true
	}
	if !found {
		return f.fail(fmt.Errorf("set root %s: %w", locator, ErrNotMounted))
	}
	return nil
}

// MountPoint reports where locator is mounted, as an absolute virtual
// path ("/" for the namespace root).
func (f *FS) MountPoint(locator string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ent := range f.search {
		if ent.locator == locator {
			return "/" + ent.point, nil
		}
	}
	return "", f.fail(fmt.Errorf("%s: %w", locator, ErrNotMounted))
}

// Mounts returns the locators of the search path in priority order.
func (f *FS) Mounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.search))
	for i, ent := range f.search {
		out[i] = ent.locator
	}
	return out
}

// WriteRoot returns the locator of the current write root, or "".
func (f *FS) WriteRoot() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.write == nil {
		return ""
	}
	return f.write.locator
}

// Close unmounts everything and clears the write root. It fails with
// ErrFilesOpen while any handle is open; closing them makes Close
// retryable. The FS is reusable afterwards.
func (f *FS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.readHandles) != 0 || len(f.writeHandles) != 0 {
		return f.fail(fmt.Errorf("close: %w", ErrFilesOpen))
	}
	var firstErr error
	for _, ent := range f.search {
		if err := ent.inst.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.search = nil
	if f.write != nil {
		if err := f.write.inst.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.write = nil
	}
	return f.fail(firstErr)
}
