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

package gem

import (
	"github.com/etna-drm/bomgr/pkg/gem/sg"
)

// backend is the backing store strategy of a buffer object. All methods are
// called with the manager lock held.
type backend interface {
	// getPages makes the backing memory resident.
	getPages() error
	// hasPages returns true if the backing memory is resident.
	hasPages() bool
	// getSGT builds the scatter-gather table of resident memory.
	getSGT() error
	// sgTable returns the scatter-gather table, if built.
	sgTable() *sg.Table
	// mmap prepares a user mapping.
	mmap(mp *Mapping) error
	// page returns the memory to install for a page of a user mapping.
	page(mp *Mapping, pgoff int) ([]byte, error)
	// munmap tears down a user mapping.
	munmap(mp *Mapping) error
	// vmap returns a linear kernel mapping of resident memory.
	vmap() ([]byte, error)
	// paddr returns the physical address of contiguous memory.
	paddr() (uint64, bool)
	// release frees everything, in order: the kernel mapping, the
	// scatter-gather table and the backing memory.
	release() error
}
