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

package device

import (
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1/gem"
)

// Config provides configuration for simulated devices.
// +k8s:deepcopy-gen=true
type Config struct {
	// DMA is the carveout contiguous buffers are allocated from.
	// +optional
	DMA gem.Range `json:"dma,omitempty"`
	// IOMMU configures the simulated IOMMU.
	// +optional
	IOMMU IOMMU `json:"iommu,omitempty"`
	// Pipes is the number of simulated GPU pipes submitting work.
	// +optional
	// +kubebuilder:default=2
	Pipes int `json:"pipes,omitempty"`
}

// IOMMU configures a simulated IOMMU.
type IOMMU struct {
	// PageSize is the translation granule of the IOMMU. It defaults to
	// the CPU page size.
	// +optional
	PageSize *resource.Quantity `json:"pageSize,omitempty"`
}
