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

import "fmt"

var (
	ErrFailedOption = fmt.Errorf("vaspace: failed to apply option")
	ErrInvalidRange = fmt.Errorf("vaspace: invalid address range")
	ErrInvalidSize  = fmt.Errorf("vaspace: invalid allocation size")
	ErrInvalidFit   = fmt.Errorf("vaspace: invalid fit policy")
	ErrNoSpace      = fmt.Errorf("vaspace: address space exhausted")
	ErrUnknownNode  = fmt.Errorf("vaspace: unknown node")
	ErrInternal     = fmt.Errorf("vaspace: internal error")
)
