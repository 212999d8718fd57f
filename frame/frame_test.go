package frame_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wisprender/gpualloc/frame"
)

func TestClockStartsWithNothingCompleted(t *testing.T) {
	clock := frame.NewClock(3)

	require.Equal(t, frame.Number(1), clock.FrameNumber())
	require.Equal(t, frame.Number(0), clock.CompletedFrame())
	require.Equal(t, 3, clock.FramesInFlight())
	require.Equal(t, frame.Index(1), clock.Index())
	require.Equal(t, 0, clock.InFlight())
}

func TestClockAdvanceAndIndex(t *testing.T) {
	clock := frame.NewClock(3)

	indices := []frame.Index{}
	for i := 0; i < 6; i++ {
		clock.Advance()
		indices = append(indices, clock.Index())
	}

	require.Equal(t, []frame.Index{2, 0, 1, 2, 0, 1}, indices)
	require.Equal(t, frame.Number(7), clock.FrameNumber())
	require.Equal(t, 6, clock.InFlight())
}

func TestClockSignalIsMonotonic(t *testing.T) {
	clock := frame.NewClock(2)
	for i := 0; i < 10; i++ {
		clock.Advance()
	}

	clock.Signal(5)
	require.Equal(t, frame.Number(5), clock.CompletedFrame())

	clock.Signal(3)
	require.Equal(t, frame.Number(5), clock.CompletedFrame())

	clock.Signal(9)
	require.Equal(t, frame.Number(9), clock.CompletedFrame())
}

func TestClockSignalFutureFramePanics(t *testing.T) {
	clock := frame.NewClock(2)

	require.Panics(t, func() {
		clock.Signal(1)
	})
}

func TestClockConcurrentSignal(t *testing.T) {
	clock := frame.NewClock(3)
	for i := 0; i < 100; i++ {
		clock.Advance()
	}

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(n frame.Number) {
			defer wg.Done()
			clock.Signal(n)
		}(frame.Number(i))
	}
	wg.Wait()

	require.Equal(t, frame.Number(100), clock.CompletedFrame())
}

func TestDefaultFramesInFlight(t *testing.T) {
	require.Equal(t, frame.DefaultFramesInFlight, frame.NewClock(0).FramesInFlight())
	require.Equal(t, frame.DefaultFramesInFlight, (&frame.Fixed{}).FramesInFlight())
}
