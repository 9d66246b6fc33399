// Package framepool manages contiguous ranges of physical page frames. A
// pool hands out frame numbers; exhaustion is reported as a distinct error,
// never as a sentinel frame number, so that frame 0 remains usable.
package framepool

import (
	"errors"
	"fmt"
	"log"
)

// ErrOutOfFrames is returned by Allocate when no contiguous run of free
// frames of the requested length exists.
var ErrOutOfFrames = errors.New("out of frames")

// A Pool allocates contiguous frames from a fixed range of physical memory.
// Pools are not safe for concurrent use; the surrounding kernel serializes
// access.
type Pool struct {
	name      string
	baseFrame uint32
	nFrames   uint32

	inUse     []bool
	freeCount uint32

	logger *log.Logger
}

// Name returns the name the pool was built with.
func (p *Pool) Name() string { return p.name }

// BaseFrame returns the first frame number the pool manages.
func (p *Pool) BaseFrame() uint32 { return p.baseFrame }

// TotalFrames returns the number of frames the pool manages.
func (p *Pool) TotalFrames() uint32 { return p.nFrames }

// FreeFrames returns the number of frames currently available.
func (p *Pool) FreeFrames() uint32 { return p.freeCount }

// Allocate reserves a contiguous run of count frames and returns the first
// frame number of the run. It returns ErrOutOfFrames when no such run
// exists.
func (p *Pool) Allocate(count uint32) (uint32, error) {
	if count == 0 {
		return 0, fmt.Errorf("pool %s: allocation of zero frames", p.name)
	}

	run := uint32(0)
	for i := uint32(0); i < p.nFrames; i++ {
		if p.inUse[i] {
			run = 0
			continue
		}

		run++
		if run == count {
			start := i + 1 - count
			for j := start; j <= i; j++ {
				p.inUse[j] = true
			}
			p.freeCount -= count

			return p.baseFrame + start, nil
		}
	}

	return 0, fmt.Errorf("pool %s: allocating %d frames: %w",
		p.name, count, ErrOutOfFrames)
}

// Release returns a run of count frames starting at baseFrame to the pool.
// Releasing a frame that is not in use or not managed by the pool is a
// programmer error.
func (p *Pool) Release(baseFrame, count uint32) {
	for f := baseFrame; f < baseFrame+count; f++ {
		i := p.index(f)
		if !p.inUse[i] {
			p.logger.Panicf("pool %s: releasing free frame %d", p.name, f)
		}

		p.inUse[i] = false
		p.freeCount++
	}
}

// MarkInaccessible permanently removes a run of frames from the pool, for
// regions of physical memory that must never be handed out.
func (p *Pool) MarkInaccessible(baseFrame, count uint32) {
	for f := baseFrame; f < baseFrame+count; f++ {
		i := p.index(f)
		if !p.inUse[i] {
			p.inUse[i] = true
			p.freeCount--
		}
	}
}

func (p *Pool) index(frame uint32) uint32 {
	if frame < p.baseFrame || frame >= p.baseFrame+p.nFrames {
		p.logger.Panicf("pool %s: frame %d outside managed range [%d, %d)",
			p.name, frame, p.baseFrame, p.baseFrame+p.nFrames)
	}

	return frame - p.baseFrame
}
