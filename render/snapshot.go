// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/gpucore"
)

// snapshotSlots is the number of composite copies in flight: one being
// drawn, one waiting for pickup and one being downloaded.
const snapshotSlots = 3

var (
	errNoSnapshot   = errors.New("render: every snapshot slot is held by the downloader")
	errSnapshotDraw = errors.New("render: snapshot copy failed")
)

// snapshots copies the composite into textures handed to the downloader.
// A slot is not drawn again until the downloader releases it, so the
// graph can overwrite its composite on the next frame.
type snapshots struct {
	passes [snapshotSlots]*filter.Pass
	held   [snapshotSlots]atomic.Bool
	size   filter.Size
}

func newSnapshots(ctx gpucore.Context) *snapshots {
	s := &snapshots{}
	for i := range s.passes {
		s.passes[i] = filter.NewIdentity(ctx)
	}
	return s
}

// take copies comp into a free slot. The returned release hands the slot
// back; calling it more than once is a no-op. Every free slot is sized on
// a size change; a held slot is sized when it is taken next.
func (s *snapshots) take(comp gpucore.TextureID, size filter.Size) (gpucore.TextureID, func(), error) {
	if size != s.size {
		for i, p := range s.passes {
			if s.held[i].Load() {
				continue
			}
			if err := p.Configure(size, size); err != nil {
				return filter.NoTexture, nil, err
			}
		}
		s.size = size
	}
	for i, p := range s.passes {
		if s.held[i].Load() {
			continue
		}
		if err := p.Configure(size, size); err != nil {
			return filter.NoTexture, nil, err
		}
		tex := p.Apply(filter.Input{Texture: comp})
		if tex == filter.NoTexture {
			return filter.NoTexture, nil, errSnapshotDraw
		}
		held := &s.held[i]
		held.Store(true)
		var once sync.Once
		return tex, func() { once.Do(func() { held.Store(false) }) }, nil
	}
	return filter.NoTexture, nil, errNoSnapshot
}

func (s *snapshots) destroy() {
	for _, p := range s.passes {
		p.Destroy()
	}
}
