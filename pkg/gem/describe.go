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
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ObjectInfo is a snapshot of the state of an object.
type ObjectInfo struct {
	Name       string
	Handle     Handle
	Flags      Flags
	Kind       Kind
	Active     bool
	Owner      string
	ReadFence  uint32
	WriteFence uint32
	Refs       int
	Pins       int
	Maps       int
	Offset     uint64
	IOVA       uint64
	Mapped     bool
	VAddr      bool
	Resident   bool
	Size       int64
}

// Description is a snapshot of the objects of a Manager.
type Description struct {
	Active   []ObjectInfo
	Inactive []ObjectInfo
}

// Info returns a snapshot of the state of the object.
func (o *Object) Info(ctx context.Context) (ObjectInfo, error) {
	if err := o.m.lock(ctx); err != nil {
		return ObjectInfo{}, err
	}
	defer o.m.unlock()

	return o.infoLocked(), nil
}

func (o *Object) infoLocked() ObjectInfo {
	info := ObjectInfo{
		Name:       o.name,
		Handle:     o.Handle(),
		Flags:      o.flags,
		Kind:       o.kind,
		Active:     o.state == active,
		ReadFence:  o.readFence,
		WriteFence: o.writeFence,
		Refs:       o.refs,
		Pins:       o.pins,
		Maps:       o.maps,
		VAddr:      o.vaddr != nil,
		Resident:   o.be.hasPages(),
		Size:       o.size,
	}

	if o.owner != nil {
		info.Owner = o.owner.Name()
	}
	if o.mmap != nil {
		info.Offset = o.mmap.Start
	}
	if iova, ok := o.fastIOVA(); ok {
		info.IOVA = iova
		info.Mapped = true
	}

	return info
}

func (o *Object) describeLocked() string {
	return o.infoLocked().String()
}

// String returns the object state in a single line.
func (i ObjectInfo) String() string {
	state := 'I'
	if i.Active {
		state = 'A'
	}

	vaddr := "-"
	if i.VAddr {
		vaddr = "vmap"
	}

	handle := "-"
	if i.Handle != 0 {
		idx, _ := i.Handle.split()
		handle = strconv.Itoa(idx)
	}

	return fmt.Sprintf("%08x: %c(r=%d,w=%d) %-12s %2s (%2d) %08x %-4s %d",
		uint32(i.Flags), state, i.ReadFence, i.WriteFence, i.Name, handle,
		i.Refs, i.Offset, vaddr, i.Size)
}

// Describe returns a snapshot of all objects of the manager.
func (m *Manager) Describe(ctx context.Context) (*Description, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	d := &Description{}
	for _, s := range m.slots {
		o := s.obj
		if o == nil {
			continue
		}
		if o.state == active {
			d.Active = append(d.Active, o.infoLocked())
		} else {
			d.Inactive = append(d.Inactive, o.infoLocked())
		}
	}

	return d, nil
}

// WriteTo writes the description as text.
func (d *Description) WriteTo(w io.Writer) (int64, error) {
	str := &strings.Builder{}

	for _, list := range []struct {
		name string
		objs []ObjectInfo
	}{
		{"Active Objects", d.Active},
		{"Inactive Objects", d.Inactive},
	} {
		size := int64(0)
		fmt.Fprintf(str, "%s:\n", list.name)
		for _, i := range list.objs {
			fmt.Fprintf(str, "   %s\n", i)
			size += i.Size
		}
		fmt.Fprintf(str, "Total %d objects, %d bytes\n", len(list.objs), size)
	}

	n, err := io.WriteString(w, str.String())
	return int64(n), err
}
