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

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/etna-drm/bomgr/pkg/gem"
	"github.com/etna-drm/bomgr/pkg/gem/fence"
)

const (
	gpuLatency = 2 * time.Millisecond
	prepWait   = time.Second
)

var (
	bufferFlags = []gem.Flags{gem.FlagCached, gem.FlagWC, gem.FlagUncached}
)

// workload submits buffers from concurrent workers to simulated GPU pipes.
type workload struct {
	mgr        *gem.Manager
	pipes      int
	workers    int
	iterations int
}

// pipe is a simulated GPU pipe which completes submitted work in order.
type pipe struct {
	*fence.Timeline
	kick chan struct{}
}

func (w *workload) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	pipes := make([]*pipe, max(w.pipes, 1))
	for i := range pipes {
		p := &pipe{
			Timeline: fence.NewTimeline(fmt.Sprintf("pipe%d", i)),
			kick:     make(chan struct{}, 1),
		}
		pipes[i] = p
	}

	gpu, gpuCtx := errgroup.WithContext(context.Background())
	stop := make(chan struct{})
	for _, p := range pipes {
		p := p
		gpu.Go(func() error {
			return p.execute(gpuCtx, stop)
		})
	}

	for i := 0; i < w.workers; i++ {
		i := i
		p := pipes[i%len(pipes)]
		g.Go(func() error {
			return w.worker(ctx, i, p)
		})
	}

	err := g.Wait()
	close(stop)
	if gerr := gpu.Wait(); gerr != nil && err == nil {
		err = gerr
	}

	for _, p := range pipes {
		p.Signal(p.Emitted())
		if _, rerr := w.mgr.Retire(context.Background(), p); rerr != nil && err == nil {
			err = rerr
		}
	}

	return err
}

// execute completes the work emitted on the pipe after a short latency.
func (p *pipe) execute(ctx context.Context, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.kick:
		}

		time.Sleep(gpuLatency)
		p.Signal(p.Emitted())
	}
}

func (p *pipe) submit() uint32 {
	seq := p.Next()
	select {
	case p.kick <- struct{}{}:
	default:
	}
	return seq
}

func (w *workload) worker(ctx context.Context, id int, p *pipe) error {
	var (
		cmd  gem.Handle
		bufs []gem.Handle
		err  error
	)

	if cmd, err = w.mgr.Create(ctx, 4096, gem.FlagCmdStream); err != nil {
		return fmt.Errorf("worker %d: failed to create command buffer: %w", id, err)
	}
	defer func() {
		if err := w.mgr.Destroy(context.Background(), cmd); err != nil {
			log.Errorf("worker %d: failed to destroy command buffer: %v", id, err)
		}
	}()

	for i := 0; i < w.iterations; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		flags := bufferFlags[(id+i)%len(bufferFlags)]
		size := int64(4096 * (1 + (id+i)%4))

		h, err := w.mgr.Create(ctx, size, flags)
		if err != nil {
			if errors.Is(err, gem.ErrNoMem) {
				log.Debugf("worker %d: out of memory, retiring", id)
				w.retire(ctx, p, &bufs)
				continue
			}
			return fmt.Errorf("worker %d: create failed: %w", id, err)
		}
		bufs = append(bufs, h)

		if err := w.fill(ctx, h, id, i); err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		if _, err := w.mgr.GetIOVA(ctx, h); err != nil && !errors.Is(err, gem.ErrNoSpace) {
			return fmt.Errorf("worker %d: failed to map %s: %w", id, h, err)
		}

		seq := p.submit()
		err = w.mgr.Submit(ctx, p, seq,
			gem.SubmitEntry{Handle: cmd},
			gem.SubmitEntry{Handle: h, Write: true},
		)
		if err != nil {
			return fmt.Errorf("worker %d: submit failed: %w", id, err)
		}

		if err := w.readBack(ctx, h); err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}

		if len(bufs) >= 4 {
			w.retire(ctx, p, &bufs)
		}
	}

	w.retire(ctx, p, &bufs)

	return nil
}

func (w *workload) fill(ctx context.Context, h gem.Handle, id, i int) error {
	offset, err := w.mgr.MmapOffset(ctx, h)
	if err != nil {
		return fmt.Errorf("failed to get mmap offset of %s: %w", h, err)
	}

	mp, err := w.mgr.Mmap(ctx, offset)
	if err != nil {
		return fmt.Errorf("failed to map %s: %w", h, err)
	}
	defer mp.Close()

	data := []byte(fmt.Sprintf("worker %d, iteration %d", id, i))
	for off := int64(0); off < mp.Size(); off += 4096 {
		if _, err := mp.WriteAt(data, off); err != nil {
			return fmt.Errorf("failed to fill %s: %w", h, err)
		}
	}

	return nil
}

func (w *workload) readBack(ctx context.Context, h gem.Handle) error {
	if err := w.mgr.CPUPrepare(ctx, h, gem.PrepRead, prepWait); err != nil {
		return fmt.Errorf("failed to prepare %s for reading: %w", h, err)
	}
	defer func() {
		if err := w.mgr.CPUFini(ctx, h, gem.PrepRead); err != nil {
			log.Errorf("failed to finish CPU access to %s: %v", h, err)
		}
	}()

	if _, err := w.mgr.VAddr(ctx, h); err != nil {
		return fmt.Errorf("failed to map %s to kernel: %w", h, err)
	}

	return nil
}

func (w *workload) retire(ctx context.Context, p *pipe, bufs *[]gem.Handle) {
	if seq := p.Emitted(); !p.IsCompleted(seq) {
		if err := p.Wait(ctx, seq, prepWait); err != nil {
			log.Debugf("%s: wait for idle: %v", p.Name(), err)
		}
	}

	cnt, err := w.mgr.Retire(ctx, p)
	if err != nil {
		log.Warnf("%s: retire failed: %v", p.Name(), err)
		return
	}
	log.Debugf("%s: retired %d objects", p.Name(), cnt)

	for _, h := range *bufs {
		if err := w.mgr.Destroy(ctx, h); err != nil {
			log.Warnf("failed to destroy %s: %v", h, err)
		}
	}
	*bufs = (*bufs)[:0]
}
