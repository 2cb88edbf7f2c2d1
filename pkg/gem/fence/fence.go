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

package fence

import (
	"fmt"
)

// Fence is a single point on a timeline.
type Fence struct {
	Timeline *Timeline
	Seq      uint32
}

// IsValid returns true if the fence refers to a timeline.
func (f Fence) IsValid() bool {
	return f.Timeline != nil
}

// String returns a string representation of the fence.
func (f Fence) String() string {
	if !f.IsValid() {
		return "<no fence>"
	}
	return fmt.Sprintf("%s#%d", f.Timeline.name, f.Seq)
}
