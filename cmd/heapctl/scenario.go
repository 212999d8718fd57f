package main

import (
	"io"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/device/soft"
	"github.com/wisprender/gpualloc/frame"
	"github.com/wisprender/gpualloc/memutils/descriptor"
)

var scenarioPageSize int

func init() {
	cmd := newScenarioCmd()
	cmd.Flags().IntVar(&scenarioPageSize, "page-size", 16, "Descriptors per page")
	rootCmd.AddCommand(cmd)
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Walk through deferred descriptor reclamation step by step",
		Long: `The scenario command allocates from a descriptor pool, frees a run while its
frame is still in flight, shows that the run cannot be reused yet, completes the
frame and shows the run being handed out again from the same page and offset.
Every step is checked and the command fails if the pool misbehaves.

Example:
  heapctl scenario
  heapctl scenario --page-size 32 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd.OutOrStdout(), cmd.ErrOrStderr(), scenarioPageSize)
		},
	}
	return cmd
}

func runScenario(out io.Writer, logOut io.Writer, pageSize int) error {
	if pageSize < 2 {
		return cerrors.Newf("page size must be at least 2, not %d", pageSize)
	}
	runSize := pageSize/2 + 1

	clock := &frame.Fixed{Current: 5}
	dev := soft.New(newLogger(logOut), soft.Options{})
	allocator := descriptor.NewAllocator(newLogger(logOut), dev, clock, descriptor.AllocatorOptions{
		Kind:               device.DescriptorKindCBVSRVUAV,
		DescriptorsPerPage: pageSize,
		ShaderVisible:      true,
	})

	printStep(out, "frame %d: allocating %d descriptors from %d-descriptor pages\n", clock.Current, runSize, pageSize)
	first, err := allocator.Allocate(runSize)
	if err != nil {
		return err
	}
	firstPage := first.Page()
	firstHandle := first.CPUHandle()
	printStep(out, "  A: cpu 0x%x gpu 0x%x, page has %d free\n", first.CPUHandle(), first.GPUHandle(), firstPage.NumFreeHandles())

	second, err := allocator.Allocate(runSize)
	if err != nil {
		return err
	}
	if second.Page() == firstPage {
		return cerrors.New("B was placed on the same page as A")
	}
	printStep(out, "  B: cpu 0x%x on a new page, %d pages\n", second.CPUHandle(), allocator.PageCount())

	first.Free()
	printStep(out, "  A freed at frame %d, %d run(s) waiting\n", clock.Current, firstPage.StaleCount())

	probe, ok := firstPage.Allocate(runSize)
	if ok {
		probe.Free()
		return cerrors.New("A's descriptors were reused before its frame completed")
	}
	printStep(out, "  page of A refuses %d descriptors while frame %d is in flight\n", runSize, clock.Current)

	clock.Completed = clock.Current
	released := allocator.ReleaseStaleDescriptors()
	if released != runSize {
		return cerrors.Newf("expected %d descriptors to be released, got %d", runSize, released)
	}
	printStep(out, "frame %d completed: %d descriptors released, page has %d free\n", clock.Completed, released, firstPage.NumFreeHandles())

	third, err := allocator.Allocate(runSize)
	if err != nil {
		return err
	}
	if third.Page() != firstPage || third.CPUHandle() != firstHandle {
		return cerrors.New("C did not reuse the range released by A")
	}
	printStep(out, "  C: cpu 0x%x, same page and offset as A, %d pages\n", third.CPUHandle(), allocator.PageCount())

	err = allocator.Validate()
	if err != nil {
		return err
	}

	if jsonOut {
		writer := jwriter.NewWriter()
		allocator.PrintDetailedMap(&writer)
		out.Write(writer.Bytes())
		out.Write([]byte("\n"))
	}

	second.Free()
	third.Free()
	clock.Current++
	allocator.ReleaseStaleDescriptors()

	return allocator.Destroy()
}
