package main

import (
	"io"
	"math/rand"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/wisprender/gpualloc/device/soft"
	"github.com/wisprender/gpualloc/frame"
	"github.com/wisprender/gpualloc/memutils"
	"github.com/wisprender/gpualloc/pools"
)

type simulateConfig struct {
	frames         int
	seed           int64
	opsPerFrame    int
	maxLifetime    int
	gpuLag         int
	framesInFlight int
	budget         int
	detailed       bool
}

var simulateFlags simulateConfig

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().IntVar(&simulateFlags.frames, "frames", 120, "Number of frames to simulate")
	cmd.Flags().Int64Var(&simulateFlags.seed, "seed", 1, "Seed of the workload generator")
	cmd.Flags().IntVar(&simulateFlags.opsPerFrame, "ops", 8, "Allocations attempted per frame")
	cmd.Flags().IntVar(&simulateFlags.maxLifetime, "lifetime", 30, "Maximum lifetime of an allocation in frames")
	cmd.Flags().IntVar(&simulateFlags.gpuLag, "lag", 2, "Frames the simulated GPU trails the CPU by")
	cmd.Flags().IntVar(&simulateFlags.framesInFlight, "frames-in-flight", frame.DefaultFramesInFlight, "Versions kept of every per-frame buffer")
	cmd.Flags().IntVar(&simulateFlags.budget, "budget", 0, "Device memory budget in bytes, 0 for unlimited")
	cmd.Flags().BoolVar(&simulateFlags.detailed, "detailed", false, "Include every heap and page in the statistics")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a randomized asset streaming workload",
		Long: `The simulate command streams constant buffers, structured buffers, meshes and
texture descriptors in and out of a pool context for a number of frames. The
simulated GPU completes frames a fixed number of frames behind the CPU, so
released descriptors are only reclaimed once their frame has completed.

Example:
  heapctl simulate --frames 600 --seed 7
  heapctl simulate --budget 33554432 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runSimulate(cmd.OutOrStdout(), cmd.ErrOrStderr(), simulateFlags)
			return err
		},
	}
	return cmd
}

type simulationResult struct {
	Frames               int
	Created              int
	Destroyed            int
	OutOfMemory          int
	DescriptorsReclaimed int
	PeakDeviceBytes      int
}

type liveResource struct {
	expires frame.Number
	destroy func() error
}

func runSimulate(out io.Writer, logOut io.Writer, cfg simulateConfig) (*simulationResult, error) {
	if cfg.frames < 1 || cfg.gpuLag < 0 || cfg.maxLifetime < 1 || cfg.opsPerFrame < 0 {
		return nil, cerrors.Newf("invalid simulation settings: %d frames, %d lag, %d lifetime, %d ops",
			cfg.frames, cfg.gpuLag, cfg.maxLifetime, cfg.opsPerFrame)
	}

	dev := soft.New(newLogger(logOut), soft.Options{Budget: cfg.budget})
	ctx, err := pools.NewContext(newLogger(logOut), dev, pools.ContextOptions{
		FramesInFlight: cfg.framesInFlight,
		Constants:      pools.BufferPoolOptions{Name: "constants"},
		Structured:     pools.BufferPoolOptions{Name: "structured"},
		Models:         pools.ModelPoolOptions{Name: "models"},
		Textures:       pools.TexturePoolOptions{DescriptorsPerPage: 64},
	})
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to create pool context")
	}

	random := rand.New(rand.NewSource(cfg.seed))
	result := &simulationResult{Frames: cfg.frames}
	var live []liveResource

	for f := 0; f < cfg.frames; f++ {
		current := ctx.FrameNumber()

		kept := live[:0]
		for _, resource := range live {
			if resource.expires > current {
				kept = append(kept, resource)
				continue
			}

			err = resource.destroy()
			if err != nil {
				return nil, err
			}
			result.Destroyed++
		}
		live = kept

		for op := 0; op < cfg.opsPerFrame; op++ {
			destroy, err := createRandomResource(ctx, random)
			if cerrors.Is(err, memutils.ErrOutOfMemory) {
				result.OutOfMemory++
				continue
			} else if err != nil {
				return nil, err
			}

			result.Created++
			live = append(live, liveResource{
				expires: current + frame.Number(1+random.Intn(cfg.maxLifetime)),
				destroy: destroy,
			})
		}

		if dev.UsedBytes() > result.PeakDeviceBytes {
			result.PeakDeviceBytes = dev.UsedBytes()
		}

		next := ctx.EndFrame()
		if int(next) > cfg.gpuLag+1 {
			result.DescriptorsReclaimed += ctx.SignalCompleted(next - frame.Number(cfg.gpuLag) - 1)
		}

		printStep(out, "frame %d: %d live, %d bytes on device\n", current, len(live), dev.UsedBytes())
	}

	err = ctx.Validate()
	if err != nil {
		return nil, cerrors.Wrap(err, "pools failed validation")
	}

	if jsonOut {
		writeSimulationJSON(out, ctx, result, cfg.detailed)
	} else {
		printStep(out, "created %d, destroyed %d, out of memory %d, reclaimed %d descriptors, peak %d bytes\n",
			result.Created, result.Destroyed, result.OutOfMemory, result.DescriptorsReclaimed, result.PeakDeviceBytes)
		printStep(out, "%s\n", ctx.BuildStatsString(cfg.detailed))
	}

	for _, resource := range live {
		err = resource.destroy()
		if err != nil {
			return nil, err
		}
		result.Destroyed++
	}

	// Let the GPU catch up so every released descriptor is reclaimed before teardown
	last := ctx.EndFrame()
	result.DescriptorsReclaimed += ctx.SignalCompleted(last - 1)

	err = ctx.Close()
	if err != nil {
		return nil, cerrors.Wrap(err, "pools were not empty after the simulation")
	}

	return result, nil
}

func createRandomResource(ctx *pools.Context, random *rand.Rand) (func() error, error) {
	switch random.Intn(4) {
	case 0:
		buffer, err := ctx.Constants().Create(16 + random.Intn(1024))
		if err != nil {
			return nil, err
		}

		data := make([]byte, buffer.UnalignedSize())
		random.Read(data)
		err = ctx.Constants().Write(buffer, ctx.FrameIndex(), 0, data)
		if err != nil {
			return nil, err
		}

		return func() error {
			ctx.Constants().Destroy(buffer)
			return nil
		}, nil
	case 1:
		buffer, err := ctx.Structured().Create(1+random.Intn(4096), 16)
		if err != nil {
			return nil, err
		}

		return func() error {
			ctx.Structured().Destroy(buffer)
			return nil
		}, nil
	case 2:
		indexSize := 2
		if random.Intn(2) == 0 {
			indexSize = 4
		}
		mesh, err := ctx.Models().CreateMesh(3+random.Intn(2048), 32, random.Intn(6144), indexSize)
		if err != nil {
			return nil, err
		}

		return func() error {
			return ctx.Models().DestroyMesh(mesh)
		}, nil
	default:
		textures, err := ctx.Textures().Create(1 + random.Intn(8))
		if err != nil {
			return nil, err
		}

		return func() error {
			ctx.Textures().Destroy(&textures)
			return nil
		}, nil
	}
}

func writeSimulationJSON(out io.Writer, ctx *pools.Context, result *simulationResult, detailed bool) {
	writer := jwriter.NewWriter()
	objState := writer.Object()

	objState.Name("Frames").Int(result.Frames)
	objState.Name("Created").Int(result.Created)
	objState.Name("Destroyed").Int(result.Destroyed)
	objState.Name("OutOfMemory").Int(result.OutOfMemory)
	objState.Name("DescriptorsReclaimed").Int(result.DescriptorsReclaimed)
	objState.Name("PeakDeviceBytes").Int(result.PeakDeviceBytes)
	ctx.WriteStats(objState.Name("Pools"), detailed)

	objState.End()
	out.Write(writer.Bytes())
	out.Write([]byte("\n"))
}

