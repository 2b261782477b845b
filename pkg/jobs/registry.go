package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// State is a report job's lifecycle state. Running is initial; Complete and
// Error are terminal.
type State string

const (
	StateRunning  State = "Running"
	StateComplete State = "Complete"
	StateError    State = "Error"
)

// Job is a snapshot of one report job. ArtifactPath is set only in
// StateComplete; Error only in StateError.
type Job struct {
	ID           uuid.UUID
	State        State
	ArtifactPath string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Registry tracks report jobs by id. All state transitions happen behind the
// registry's lock; callers only ever see snapshots.
type Registry struct {
	mu    sync.RWMutex
	clock clockwork.Clock
	jobs  map[uuid.UUID]Job
}

func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		clock: clock,
		jobs:  make(map[uuid.UUID]Job),
	}
}

// Start registers a new running job and returns its snapshot.
func (r *Registry) Start() Job {
	job := Job{
		ID:        uuid.New(),
		State:     StateRunning,
		StartedAt: r.clock.Now(),
	}
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
	return job
}

// Complete transitions a job to StateComplete with its artifact path.
func (r *Registry) Complete(id uuid.UUID, artifactPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.State != StateRunning {
		return
	}
	job.State = StateComplete
	job.ArtifactPath = artifactPath
	job.FinishedAt = r.clock.Now()
	r.jobs[id] = job
}

// Fail transitions a job to StateError with the captured message.
func (r *Registry) Fail(id uuid.UUID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.State != StateRunning {
		return
	}
	job.State = StateError
	job.Error = message
	job.FinishedAt = r.clock.Now()
	r.jobs[id] = job
}

// Get returns a job snapshot by id.
func (r *Registry) Get(id uuid.UUID) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}
