// Copyright The NRI Plugins Authors. All Rights Reserved.
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

// Package shmem provides shared memory files used as demand paged backing
// store for buffers.
//
// A File is an anonymous in-memory file. Its pages are only populated when
// first touched. The file can be mapped multiple times, all mappings share
// the same pages, and tearing down a mapping invalidates exactly that view
// without affecting the pages themselves.
package shmem

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	logger "github.com/etna-drm/bomgr/pkg/log"
)

var (
	ErrNoMem      = fmt.Errorf("shmem: out of memory")
	ErrInvalid    = fmt.Errorf("shmem: invalid argument")
	ErrPagesInUse = fmt.Errorf("shmem: pages still in use")
	ErrClosed     = fmt.Errorf("shmem: file closed")
)

var (
	log = logger.Get("shmem")
)

// PageSize returns the size of a memory page.
func PageSize() int64 {
	return int64(unix.Getpagesize())
}

// Addr returns the address of the first byte of the given memory.
func Addr(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// File is a shared memory file.
type File struct {
	sync.Mutex
	name  string
	file  *os.File
	size  int64
	pages []byte
	maps  int
}

// Mapping is a shared mapping of a File.
type Mapping struct {
	f    *File
	data []byte
}

// New creates a new shared memory file of the given size, which must be a
// multiple of the page size.
func New(name string, size int64) (*File, error) {
	if size <= 0 || size%PageSize() != 0 {
		return nil, fmt.Errorf("%w: size %d is not a positive multiple of %d",
			ErrInvalid, size, PageSize())
	}

	file, err := openFile(name)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create %s: %w", ErrNoMem, name, err)
	}

	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: failed to size %s to %d: %w", ErrNoMem, name, size, err)
	}

	log.Debug("created %s (%d bytes)", name, size)

	return &File{
		name: name,
		file: file,
		size: size,
	}, nil
}

// Name returns the name of the file.
func (f *File) Name() string {
	return f.name
}

// Size returns the size of the file.
func (f *File) Size() int64 {
	return f.size
}

// GetPages returns the pages of the file, mapping them in if necessary.
func (f *File) GetPages() ([][]byte, error) {
	f.Lock()
	defer f.Unlock()

	if f.file == nil {
		return nil, ErrClosed
	}

	if f.pages == nil {
		data, err := f.mmap()
		if err != nil {
			return nil, err
		}
		f.pages = data
	}

	var (
		size  = PageSize()
		count = f.size / size
		pages = make([][]byte, 0, count)
	)
	for i := int64(0); i < count; i++ {
		pages = append(pages, f.pages[i*size:(i+1)*size:(i+1)*size])
	}

	return pages, nil
}

// PutPages drops the pages of the file obtained by GetPages. The contents
// of the file are preserved.
func (f *File) PutPages() error {
	f.Lock()
	defer f.Unlock()

	if f.pages == nil {
		return nil
	}

	if err := unix.Munmap(f.pages); err != nil {
		return fmt.Errorf("shmem: failed to unmap pages of %s: %w", f.name, err)
	}
	f.pages = nil

	return nil
}

// HasPages returns true if the pages of the file are currently held.
func (f *File) HasPages() bool {
	f.Lock()
	defer f.Unlock()
	return f.pages != nil
}

// Map creates a new shared mapping of the whole file.
func (f *File) Map() (*Mapping, error) {
	f.Lock()
	defer f.Unlock()

	if f.file == nil {
		return nil, ErrClosed
	}

	data, err := f.mmap()
	if err != nil {
		return nil, err
	}
	f.maps++

	return &Mapping{f: f, data: data}, nil
}

// Close releases the file. All pages must have been put and all mappings
// unmapped.
func (f *File) Close() error {
	f.Lock()
	defer f.Unlock()

	if f.file == nil {
		return nil
	}
	if f.pages != nil || f.maps > 0 {
		return fmt.Errorf("%w: %s (pages held: %v, mappings: %d)", ErrPagesInUse,
			f.name, f.pages != nil, f.maps)
	}

	err := f.file.Close()
	f.file = nil

	log.Debug("closed %s", f.name)

	return err
}

func (f *File) mmap() ([]byte, error) {
	data, err := unix.Mmap(int(f.file.Fd()), 0, int(f.size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to map %s: %w", ErrNoMem, f.name, err)
	}
	return data, nil
}

// Bytes returns the mapped memory.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Unmap tears down the mapping. The mapped memory must not be accessed
// afterwards.
func (m *Mapping) Unmap() error {
	if m.data == nil {
		return nil
	}

	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("shmem: failed to unmap view of %s: %w", m.f.name, err)
	}
	m.data = nil

	m.f.Lock()
	m.f.maps--
	m.f.Unlock()

	return nil
}
