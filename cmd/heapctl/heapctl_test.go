package main

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func defaultSimulateConfig() simulateConfig {
	return simulateConfig{
		frames:         60,
		seed:           3,
		opsPerFrame:    6,
		maxLifetime:    10,
		gpuLag:         2,
		framesInFlight: 3,
	}
}

func TestSimulateIsDeterministic(t *testing.T) {
	var first, second bytes.Buffer

	resultA, err := runSimulate(&first, io.Discard, defaultSimulateConfig())
	require.NoError(t, err)
	resultB, err := runSimulate(&second, io.Discard, defaultSimulateConfig())
	require.NoError(t, err)

	require.Equal(t, resultA, resultB)
	require.Equal(t, first.String(), second.String())
	require.Equal(t, resultA.Created, resultA.Destroyed)
	require.Equal(t, 60*6, resultA.Created+resultA.OutOfMemory)
	require.Positive(t, resultA.DescriptorsReclaimed)
}

func TestSimulateUnderBudget(t *testing.T) {
	cfg := defaultSimulateConfig()
	// room for the model heaps and one constant heap only
	cfg.budget = 16*1024*1024 + 4*1024*1024 + 1024*1024

	result, err := runSimulate(io.Discard, io.Discard, cfg)
	require.NoError(t, err)
	require.Positive(t, result.OutOfMemory)
	require.LessOrEqual(t, result.PeakDeviceBytes, cfg.budget)
	require.Equal(t, result.Created, result.Destroyed)
}

func TestSimulateJSON(t *testing.T) {
	jsonOut = true
	defer func() { jsonOut = false }()

	var out bytes.Buffer
	cfg := defaultSimulateConfig()
	cfg.detailed = true
	_, err := runSimulate(&out, io.Discard, cfg)
	require.NoError(t, err)

	var document map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &document))
	require.Equal(t, float64(60), document["Frames"])
	require.Contains(t, document, "Pools")
	require.Contains(t, document["Pools"], "Textures")
}

func TestSimulateRejectsBadSettings(t *testing.T) {
	cfg := defaultSimulateConfig()
	cfg.frames = 0
	_, err := runSimulate(io.Discard, io.Discard, cfg)
	require.Error(t, err)
}

func TestScenario(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runScenario(&out, io.Discard, 16))
	require.Contains(t, out.String(), "refuses 9 descriptors while frame 5 is in flight")
	require.Contains(t, out.String(), "9 descriptors released")
	require.Contains(t, out.String(), "same page and offset as A")

	require.Error(t, runScenario(io.Discard, io.Discard, 1))
}

func TestRootCommandRunsScenario(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"scenario", "--page-size", "8"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	require.Contains(t, out.String(), "5 descriptors released")
}
