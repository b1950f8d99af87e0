package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskorchestrator/hitl"
)

func TestDefaultIsConservative(t *testing.T) {
	t.Parallel()
	cfg := Default()
	assert.Equal(t, 1000, cfg.MaxSteps)
	assert.Equal(t, time.Duration(0), cfg.Timeout)
	assert.Equal(t, 8, cfg.MaxConcurrentNodes)
	assert.Empty(t, cfg.HITL.Checkpoints)
	assert.Equal(t, "noop", cfg.HITL.Transport)
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
max_steps: 50
max_concurrent_nodes: 4
hitl:
  checkpoints: ["before_execute", "after_plan_generation"]
  root_plan_only: true
  transport: grpc
  grpc_address: "localhost:9090"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MaxSteps)
	assert.Equal(t, 4, cfg.MaxConcurrentNodes)
	assert.Equal(t, 6, cfg.MaxPlanningLayer, "unset fields keep Default()'s value")
	assert.True(t, cfg.HITL.RootPlanOnly)
	assert.Equal(t, "grpc", cfg.HITL.Transport)
	assert.Equal(t, "localhost:9090", cfg.HITL.GRPCAddress)
	assert.ElementsMatch(t, []string{"before_execute", "after_plan_generation"}, cfg.HITL.Checkpoints)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadReturnsErrorForMalformedYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_steps: [this is not an int"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestHITLCoordinatorConfigBuildsEnabledSet(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.HITL.Checkpoints = []string{"before_execute", "after_atomizer"}

	hc := cfg.HITLCoordinatorConfig()
	assert.True(t, hc.Enabled[hitl.CheckpointBeforeExecute])
	assert.True(t, hc.Enabled[hitl.CheckpointAfterAtomizer])
	assert.False(t, hc.Enabled[hitl.CheckpointAfterPlanGeneration])
}

func TestEngineProcessCycleConvertersCarryFieldsThrough(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.MaxSteps = 42
	cfg.MaxPlanningLayer = 3
	cfg.MaxConcurrentNodes = 5
	cfg.Recovery.Warning = time.Second
	cfg.Recovery.MaxRecoveryAttempts = 7

	ec := cfg.EngineConfig()
	assert.Equal(t, 42, ec.MaxSteps)
	assert.Equal(t, time.Second, ec.Recovery.Warning)
	assert.Equal(t, 7, ec.Recovery.MaxRecoveryAttempts)

	pc := cfg.ProcessConfig()
	assert.Equal(t, 3, pc.MaxPlanningLayer)

	cc := cfg.CycleConfig()
	assert.Equal(t, 5, cc.MaxConcurrentNodes)
}
