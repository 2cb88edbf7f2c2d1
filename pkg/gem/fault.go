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
	"context"
	"errors"
	"fmt"

	"github.com/etna-drm/bomgr/pkg/instrumentation/tracing"
)

// FaultResult is the outcome of a page fault.
type FaultResult int

const (
	// FaultNoPage means the page is installed, or the fault was interrupted
	// and the access should be retried.
	FaultNoPage FaultResult = iota
	// FaultOOM means memory for the page could not be allocated.
	FaultOOM
	// FaultSIGBUS means the access is invalid and must be aborted.
	FaultSIGBUS
)

// String returns the name of the fault result.
func (r FaultResult) String() string {
	switch r {
	case FaultNoPage:
		return "nopage"
	case FaultOOM:
		return "oom"
	case FaultSIGBUS:
		return "sigbus"
	}
	return fmt.Sprintf("%%!(gem:Bad-FaultResult %d)", r)
}

func (m *Manager) fault(ctx context.Context, mp *Mapping, offset int64) FaultResult {
	ctx, span := tracing.StartSpan(ctx, "gem.Fault",
		tracing.WithAttributes(
			tracing.Attribute("object", mp.obj.name),
			tracing.Attribute("offset", offset),
		))

	err := m.faultPage(ctx, mp, offset)

	var res FaultResult
	switch {
	case err == nil, errors.Is(err, ErrBusy), errors.Is(err, ErrInterrupted):
		// a racing fault already installing the page is success
		res = FaultNoPage
	case errors.Is(err, ErrNoMem):
		res = FaultOOM
	default:
		res = FaultSIGBUS
	}

	if res != FaultNoPage {
		span.End(err)
		if m.faultLimiter.Allow() {
			log.Warn("%s: fault at offset 0x%x failed (%s): %v", mp.obj, offset, res, err)
		}
	} else {
		span.End(nil)
	}

	return res
}

func (m *Manager) faultPage(ctx context.Context, mp *Mapping, offset int64) error {
	if offset < 0 || offset >= mp.size {
		return fmt.Errorf("%w: offset 0x%x of %d bytes mapping", ErrAccessFault, offset, mp.size)
	}

	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	m.stats.Faults++

	if mp.closed.Load() {
		m.stats.FailedFaults++
		return fmt.Errorf("%w: mapping of %s closed", ErrAccessFault, mp.obj)
	}

	o := mp.obj
	if err := o.getPagesLocked(); err != nil {
		m.stats.FailedFaults++
		return err
	}

	pgoff := int(offset / m.pageSize)
	data, err := o.be.page(mp, pgoff)
	if err != nil {
		m.stats.FailedFaults++
		return err
	}

	if !mp.install(pgoff, data) {
		m.stats.BusyFaults++
		return ErrBusy
	}

	details.Debug("%s: installed page %d", o, pgoff)

	return nil
}
