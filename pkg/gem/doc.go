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

// Package gem implements a memory manager for buffer objects shared between
// the CPU and a GPU.
//
// A Manager hands out buffer objects backed either by demand-paged shared
// memory or by a physically contiguous DMA region. Resources of an object are
// acquired lazily: pages and the scatter-gather table on the first CPU fault
// or device address request, the device virtual address from the managers'
// address space allocator on the first device address request. Objects
// referenced by GPU submissions are tracked as active, with per object read
// and write fences gating CPU access until the GPU is done with them. An
// object is destroyed once the last reference to it is dropped, which is only
// allowed while it is inactive and unpinned.
//
// All state changing operations are serialized by a single manager-wide lock
// which can be acquired interruptibly. Device addresses, once established,
// can be read without taking the lock.
package gem
