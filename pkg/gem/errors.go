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
	"errors"
	"fmt"

	"github.com/etna-drm/bomgr/pkg/gem/fence"
	"github.com/etna-drm/bomgr/pkg/gem/vaspace"
)

var (
	// ErrFailedOption is returned when a Manager option fails.
	ErrFailedOption = fmt.Errorf("gem: failed to apply option")
	// ErrInvalidArgument is returned for invalid flags, sizes and offsets.
	ErrInvalidArgument = fmt.Errorf("gem: invalid argument")
	// ErrInvalidHandle is returned for unknown or stale handles.
	ErrInvalidHandle = fmt.Errorf("gem: invalid handle")
	// ErrNoMem is returned when backing memory can't be allocated.
	ErrNoMem = fmt.Errorf("gem: out of memory")
	// ErrNoSpace is returned when the device address space is exhausted.
	ErrNoSpace = fmt.Errorf("gem: out of device address space")
	// ErrInterrupted is returned for a cancelled wait or lock acquisition.
	// The operation can be retried.
	ErrInterrupted = fmt.Errorf("gem: interrupted")
	// ErrTimeout is returned when a fence wait times out. The operation can
	// be retried.
	ErrTimeout = fmt.Errorf("gem: timed out")
	// ErrBusy is used internally when a concurrent actor already did the
	// job. It is never returned to callers as a failure.
	ErrBusy = fmt.Errorf("gem: busy")
	// ErrAccessFault is returned for CPU access outside a mapping.
	ErrAccessFault = fmt.Errorf("gem: access fault")
	// ErrClosed is returned for operations on a closed manager.
	ErrClosed = fmt.Errorf("gem: manager closed")
	// ErrContractViolation is used to panic on misuse of the API.
	ErrContractViolation = fmt.Errorf("gem: contract violation")
)

func contractViolation(format string, args ...interface{}) {
	err := fmt.Errorf("%w: "+format, append([]interface{}{ErrContractViolation}, args...)...)
	log.Error("%v", err)
	panic(err)
}

func failedOptionError(err error) error {
	return fmt.Errorf("%w: %w", ErrFailedOption, err)
}

// waitError translates an error from a fence wait.
func waitError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fence.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, fence.ErrInterrupted):
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	case errors.Is(err, fence.ErrInvalidFence):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}

// allocError translates an error from the address space allocators.
func allocError(err error) error {
	if errors.Is(err, vaspace.ErrNoSpace) {
		return fmt.Errorf("%w: %w", ErrNoSpace, err)
	}
	return fmt.Errorf("%w: %w", ErrNoMem, err)
}
