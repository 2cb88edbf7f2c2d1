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
	logger "github.com/etna-drm/bomgr/pkg/log"
	"github.com/etna-drm/bomgr/pkg/utils"
)

var (
	log     = logger.Get("gem")
	details = logger.Get("gem-details")
)

// Dump logs the state of the manager and its objects.
func (m *Manager) Dump(prefix string) {
	if !details.DebugEnabled() {
		return
	}

	m.mustLock()
	defer m.unlock()

	s := m.stats
	details.Debug("%s%s: created %d, freed %d, faults %d (busy %d, failed %d)", prefix,
		m.name, s.Created, s.Freed, s.Faults, s.BusyFaults, s.FailedFaults)

	for _, sl := range m.slots {
		if o := sl.obj; o != nil {
			details.Debug("%s  - %s (%s)", prefix, o.describeLocked(), utils.PrettySize(o.size))
		}
	}

	m.iovas.Dump(prefix + "  ")
	m.offsets.Dump(prefix + "  ")
}
