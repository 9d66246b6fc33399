package framepool

import (
	"log"
	"os"
)

// A Builder can build frame pools.
type Builder struct {
	baseFrame uint32
	nFrames   uint32
	logger    *log.Logger
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{}
}

// WithFrameRange sets the range of frames the pool manages, as the first
// frame number and the number of frames.
func (b Builder) WithFrameRange(baseFrame, nFrames uint32) Builder {
	b.baseFrame = baseFrame
	b.nFrames = nFrames
	return b
}

// WithLogger sets the logger used for diagnostics.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// Build returns a newly created pool with all frames free.
func (b Builder) Build(name string) *Pool {
	if b.nFrames == 0 {
		panic("frame pool must manage at least one frame")
	}

	logger := b.logger
	if logger == nil {
		logger = log.New(os.Stderr, "framepool: ", 0)
	}

	return &Pool{
		name:      name,
		baseFrame: b.baseFrame,
		nFrames:   b.nFrames,
		inUse:     make([]bool, b.nFrames),
		freeCount: b.nFrames,
		logger:    logger,
	}
}
