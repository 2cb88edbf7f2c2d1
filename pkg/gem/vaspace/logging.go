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

package vaspace

import (
	logger "github.com/etna-drm/bomgr/pkg/log"
	"github.com/etna-drm/bomgr/pkg/utils"
)

var (
	log     = logger.Get("vaspace")
	details = logger.Get("vaspace-details")
)

// Dump logs the free and used ranges of the allocator.
func (a *Allocator) Dump(prefix string) {
	if !details.DebugEnabled() {
		return
	}

	details.Debug("%s%s: %s, capacity %s, used %s, available %s", prefix, a.name, a.space,
		utils.PrettySize(int64(a.Capacity())), utils.PrettySize(int64(a.Used())),
		utils.PrettySize(int64(a.Available())))

	if len(a.free) == 0 {
		details.Debug("%s  no free ranges", prefix)
	} else {
		details.Debug("%s  free ranges:", prefix)
		for _, r := range a.free {
			details.Debug("%s    - %s (%s)", prefix, r, utils.PrettySize(int64(r.Size)))
		}
	}

	if len(a.used) == 0 {
		return
	}

	details.Debug("%s  nodes:", prefix)
	a.ForeachNode(func(n *Node) bool {
		details.Debug("%s    - %s, owner %v", prefix, n, n.owner)
		return true
	})
}
