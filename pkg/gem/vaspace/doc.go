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

// Package vaspace implements a free-list allocator for a flat range of
// device visible addresses.
//
// The allocator hands out nodes, each describing a contiguous range of the
// managed address space. Free space is tracked as a list of free ranges kept
// sorted by start address. Adjacent free ranges are always coalesced, so the
// free list is minimal at all times and freeing every node restores the
// initial single free range.
//
// Two placement policies are available. FirstFit picks the lowest free range
// large enough for a request. BestFit picks the smallest such range, with
// ties resolved in favor of the lowest start address. Both are deterministic
// for a given sequence of operations.
//
// An Allocator is not safe for concurrent use. Callers are expected to
// serialize access, typically with the lock protecting the objects which
// own the allocated nodes.
package vaspace
