package jobs

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := NewRegistry(clock)

	job := reg.Start()
	assert.Equal(t, StateRunning, job.State)
	assert.Equal(t, clock.Now(), job.StartedAt)

	got, ok := reg.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StateRunning, got.State)

	clock.Advance(5 * time.Second)
	reg.Complete(job.ID, "reports/out.csv")

	got, ok = reg.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StateComplete, got.State)
	assert.Equal(t, "reports/out.csv", got.ArtifactPath)
	assert.Equal(t, 5*time.Second, got.FinishedAt.Sub(got.StartedAt))
}

func TestRegistryFail(t *testing.T) {
	reg := NewRegistry(clockwork.NewFakeClock())

	job := reg.Start()
	reg.Fail(job.ID, "boom")

	got, ok := reg.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StateError, got.State)
	assert.Equal(t, "boom", got.Error)
}

func TestRegistryTerminalStatesAreFinal(t *testing.T) {
	reg := NewRegistry(clockwork.NewFakeClock())

	job := reg.Start()
	reg.Complete(job.ID, "reports/out.csv")
	reg.Fail(job.ID, "late failure")

	got, ok := reg.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StateComplete, got.State)
	assert.Empty(t, got.Error)
}

func TestRegistryUnknownJob(t *testing.T) {
	reg := NewRegistry(nil)

	_, ok := reg.Get(uuid.New())
	assert.False(t, ok)

	// Transitions on unknown ids are no-ops.
	reg.Complete(uuid.New(), "x")
	reg.Fail(uuid.New(), "y")
}
