// Package frame provides the frame counter and fence source that the allocators poll to decide when
// memory released on the CPU is no longer referenced by work in flight on the GPU.
//
// Frame numbers start at 1. A completed frame of 0 means the GPU has not finished any frame yet, so
// nothing tagged with a real frame number can be reclaimed.
package frame

import (
	"fmt"

	"go.uber.org/atomic"
)

// DefaultFramesInFlight is the number of frames that may be executing on the GPU at once
// when no other value is configured
const DefaultFramesInFlight = 3

// Number is a monotonically increasing frame counter
type Number uint64

// Index identifies one of the per-frame resource versions: Number modulo the frames in flight
type Index int

// Source exposes the frame the CPU is currently recording and the last frame the GPU is known
// to have completed. Allocators only ever poll a Source, they never wait on it.
type Source interface {
	FrameNumber() Number
	CompletedFrame() Number
	FramesInFlight() int
}

// Clock is the Source implementation driven by the render loop: Advance is called once per
// frame on the CPU side and Signal is called with the last value observed on the frame fence.
type Clock struct {
	framesInFlight int
	current        *atomic.Uint64
	completed      *atomic.Uint64
}

var _ Source = &Clock{}

func NewClock(framesInFlight int) *Clock {
	if framesInFlight < 1 {
		framesInFlight = DefaultFramesInFlight
	}

	return &Clock{
		framesInFlight: framesInFlight,
		current:        atomic.NewUint64(1),
		completed:      atomic.NewUint64(0),
	}
}

func (c *Clock) FrameNumber() Number {
	return Number(c.current.Load())
}

func (c *Clock) CompletedFrame() Number {
	return Number(c.completed.Load())
}

func (c *Clock) FramesInFlight() int {
	return c.framesInFlight
}

// Index returns the resource version that the current frame should write to
func (c *Clock) Index() Index {
	return c.FrameNumber().Index(c.framesInFlight)
}

// InFlight returns the number of frames submitted but not yet completed. The frame currently being
// recorded is not counted.
func (c *Clock) InFlight() int {
	return int(c.FrameNumber() - c.CompletedFrame() - 1)
}

// Advance closes out the current frame and returns the number of the new one
func (c *Clock) Advance() Number {
	return Number(c.current.Inc())
}

// Signal records that the GPU has completed every frame up to and including completed.
// Signals are monotonic: a value lower than one already observed is ignored. Signalling a frame
// that has not been started yet panics.
func (c *Clock) Signal(completed Number) {
	if completed >= c.FrameNumber() {
		panic(fmt.Sprintf("frame %d was signalled complete but the current frame is only %d", completed, c.FrameNumber()))
	}

	for {
		old := c.completed.Load()
		if uint64(completed) <= old {
			return
		}

		if c.completed.CompareAndSwap(old, uint64(completed)) {
			return
		}
	}
}

// Index returns the resource version used by frame n
func (n Number) Index(framesInFlight int) Index {
	return Index(uint64(n) % uint64(framesInFlight))
}

// Fixed is a Source with values set directly by the caller, used where no render loop exists
// such as tools and tests
type Fixed struct {
	Current   Number
	Completed Number
	InFlight  int
}

var _ Source = &Fixed{}

func (f *Fixed) FrameNumber() Number    { return f.Current }
func (f *Fixed) CompletedFrame() Number { return f.Completed }
func (f *Fixed) FramesInFlight() int {
	if f.InFlight < 1 {
		return DefaultFramesInFlight
	}
	return f.InFlight
}
