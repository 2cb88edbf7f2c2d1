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

// Package v1alpha1 contains the v1alpha1 configuration of the buffer
// object manager.
package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1/device"
	"github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1/gem"
	"github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1/log"
)

const (
	// APIVersion is the API version of the configuration.
	APIVersion = "config.bomgr.etna-drm.io/v1alpha1"
	// Kind is the kind of the configuration.
	Kind = "BufferManager"
)

// BufferManager represents the configuration of a buffer object manager.
type BufferManager struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec BufferManagerSpec `json:"spec"`
}

// BufferManagerSpec describes a buffer object manager.
type BufferManagerSpec struct {
	// +optional
	Manager gem.Config `json:"manager,omitempty"`
	// +optional
	Device device.Config `json:"device,omitempty"`
	// +optional
	Log log.Config `json:"log,omitempty"`
	// +optional
	Instrumentation instrumentation.Config `json:"instrumentation,omitempty"`
}
