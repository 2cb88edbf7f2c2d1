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

package log

import (
	"github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1/log/klogcontrol"
)

// Config configures logging.
//
// +k8s:deepcopy-gen=true
type Config struct {
	// Debug lists logger sources to enable debug messages for. Entries are
	// comma-separated [state:]source lists, for instance "gem,fence" or
	// "on:all,off:gem-details".
	// +optional
	Debug []string `json:"debug,omitempty"`
	// Source prefixes messages with the name of the logger emitting them.
	// +optional
	Source bool `json:"source,omitempty"`
	// Klog configures the klog backend.
	// +optional
	Klog klogcontrol.Config `json:"klog,omitempty"`
}

// DebugEnabled returns true if any debug sources are configured.
func (c *Config) DebugEnabled() bool {
	return c != nil && len(c.Debug) > 0
}
