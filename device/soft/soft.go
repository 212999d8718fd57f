// Package soft implements device.Device on host memory. Heaps are byte slices, GPU addresses are
// synthetic but stable and non-overlapping, and residency hints are only counted. It backs the
// allocators in tools and tests where no graphics device exists.
package soft

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/memutils"
	"go.uber.org/atomic"
	"golang.org/x/exp/slog"
)

const (
	// addressGranularity is the alignment of every synthetic heap base address
	addressGranularity uint = 64 * 1024
	// addressBase keeps synthetic GPU addresses away from zero, which callers treat as null
	addressBase uint64 = 0x1_0000_0000
	// DefaultDescriptorIncrement matches a typical CBV/SRV/UAV descriptor size
	DefaultDescriptorIncrement = 32
)

type Options struct {
	// Budget caps the total bytes of live heaps. Zero means unlimited.
	Budget int
	// DescriptorIncrement is the handle stride of created descriptor heaps. Zero selects DefaultDescriptorIncrement.
	DescriptorIncrement int
}

// Device is a software device.Device
type Device struct {
	logger              *slog.Logger
	budget              int
	descriptorIncrement int

	usedBytes      *atomic.Int64
	liveHeaps      *atomic.Int64
	liveDescHeaps  *atomic.Int64
	nextGPUAddress *atomic.Uint64
	nextCPUHandle  *atomic.Uint64
	nextGPUHandle  *atomic.Uint64

	residencyCalls *atomic.Int64
}

var _ device.Device = &Device{}

func New(logger *slog.Logger, options Options) *Device {
	increment := options.DescriptorIncrement
	if increment <= 0 {
		increment = DefaultDescriptorIncrement
	}

	return &Device{
		logger:              memutils.LoggerOrDiscard(logger),
		budget:              options.Budget,
		descriptorIncrement: increment,

		usedBytes:      atomic.NewInt64(0),
		liveHeaps:      atomic.NewInt64(0),
		liveDescHeaps:  atomic.NewInt64(0),
		nextGPUAddress: atomic.NewUint64(addressBase),
		nextCPUHandle:  atomic.NewUint64(addressBase),
		nextGPUHandle:  atomic.NewUint64(addressBase),
		residencyCalls: atomic.NewInt64(0),
	}
}

// UsedBytes returns the total size of heaps that have not been released
func (d *Device) UsedBytes() int { return int(d.usedBytes.Load()) }

// LiveHeaps returns the number of heaps that have not been released
func (d *Device) LiveHeaps() int { return int(d.liveHeaps.Load()) }

// LiveDescriptorHeaps returns the number of descriptor heaps that have not been released
func (d *Device) LiveDescriptorHeaps() int { return int(d.liveDescHeaps.Load()) }

// ResidencyCalls returns the number of residency hints received by all heaps
func (d *Device) ResidencyCalls() int { return int(d.residencyCalls.Load()) }

func (d *Device) reserveAddressRange(size int) uint64 {
	span := uint64(memutils.AlignUp(size, addressGranularity))
	return d.nextGPUAddress.Add(span) - span
}

func (d *Device) CreateHeap(desc device.HeapDesc) (device.Heap, error) {
	d.logger.Debug("Device::CreateHeap")

	if desc.Size < 1 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "heap %q has size %d", desc.Name, desc.Size)
	}
	if desc.Alignment == 0 {
		desc.Alignment = 1
	}
	if err := memutils.CheckPow2(desc.Alignment, "heap alignment"); err != nil {
		return nil, err
	}
	if desc.Alignment > addressGranularity {
		return nil, errors.Newf("heap alignment %d exceeds the device address granularity %d", desc.Alignment, addressGranularity)
	}

	newUsed := d.usedBytes.Add(int64(desc.Size))
	if d.budget > 0 && newUsed > int64(d.budget) {
		d.usedBytes.Sub(int64(desc.Size))
		d.logger.LogAttrs(context.Background(), slog.LevelWarn, "heap creation exceeds device budget",
			slog.String("name", desc.Name),
			slog.Int("size", desc.Size),
			slog.Int("budget", d.budget),
		)
		return nil, errors.Wrapf(device.ErrOutOfDeviceMemory, "heap %q of %d bytes exceeds budget of %d", desc.Name, desc.Size, d.budget)
	}

	h := &heap{
		parent:  d,
		desc:    desc,
		address: d.reserveAddressRange(desc.Size),
	}
	if desc.Flags&device.HeapFlagCPUVisible != 0 {
		h.data = make([]byte, desc.Size)
	}
	d.liveHeaps.Inc()

	return h, nil
}

func (d *Device) CreateDescriptorHeap(desc device.DescriptorHeapDesc) (device.DescriptorHeap, error) {
	d.logger.Debug("Device::CreateDescriptorHeap")

	if desc.Count < 1 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "descriptor heap has %d descriptors", desc.Count)
	}

	span := uint64(memutils.AlignUp(desc.Count*d.descriptorIncrement, addressGranularity))
	h := &descriptorHeap{
		parent:    d,
		desc:      desc,
		increment: d.descriptorIncrement,
		cpuStart:  d.nextCPUHandle.Add(span) - span,
	}
	if desc.ShaderVisible {
		h.gpuStart = d.nextGPUHandle.Add(span) - span
	}
	d.liveDescHeaps.Inc()

	return h, nil
}
