package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/piratf/kampus-crawler/pkg/models"
)

// JobStatus represents the current state of an entity job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a background entity run
type Job struct {
	ID           string    `json:"id"`
	EntityID     string    `json:"entity_id"`
	EntityName   string    `json:"entity_name"`
	Status       JobStatus `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	PagesFetched int       `json:"pages_fetched"`
	Candidates   int       `json:"candidates"`
	Validated    int       `json:"validated"`
	Valid        int       `json:"valid"`
	Extracted    int       `json:"extracted"`
	Skipped      bool      `json:"skipped"`
	ErrorMessage string    `json:"error_message,omitempty"`

	// Internal fields
	ctx    context.Context
	cancel context.CancelFunc
}

func (j *Job) active() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}

// JobManager manages background entity jobs
type JobManager struct {
	jobs     map[string]*Job
	mu       sync.RWMutex
	byEntity map[string]string // entityID -> jobID for active jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:     make(map[string]*Job),
		byEntity: make(map[string]string),
	}
}

// CreateJob creates a job for an entity. If one is already active for it,
// that job is returned and created is false.
func (m *JobManager) CreateJob(entityID, name string) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.byEntity[entityID]; ok {
		if existing := m.jobs[existingID]; existing != nil && existing.active() {
			return existing, false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:         uuid.New().String(),
		EntityID:   entityID,
		EntityName: name,
		Status:     JobStatusPending,
		StartedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	m.jobs[job.ID] = job
	m.byEntity[entityID] = job.ID
	return job, true
}

// GetJob returns a copy of the job, or nil when the ID is unknown.
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		cp := *job
		return &cp
	}
	return nil
}

// IsRunning checks if a job is currently active for an entity
func (m *JobManager) IsRunning(entityID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, ok := m.byEntity[entityID]; ok {
		job := m.jobs[jobID]
		return job != nil && job.active()
	}
	return false
}

// UpdateStatus updates the status of a job
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status == JobStatusCancelled {
		return
	}
	job.Status = status
	if !job.active() {
		job.CompletedAt = time.Now()
		delete(m.byEntity, job.EntityID)
		job.cancel()
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// Finish records an entity result and completes or fails the job accordingly.
func (m *JobManager) Finish(jobID string, res models.EntityResult) {
	m.mu.Lock()
	if job, ok := m.jobs[jobID]; ok {
		job.PagesFetched = res.PagesFetched
		job.Candidates = len(res.Candidates)
		job.Validated = len(res.Validated)
		job.Extracted = len(res.Extracted)
		job.Skipped = res.Skipped
		job.Valid = 0
		for _, v := range res.Validated {
			if v.Verdict == models.VerdictValid {
				job.Valid++
			}
		}
	}
	m.mu.Unlock()

	if res.Success {
		m.UpdateStatus(jobID, JobStatusCompleted, "")
		return
	}
	m.UpdateStatus(jobID, JobStatusFailed, res.Error)
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !job.active() {
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.CompletedAt = time.Now()
	delete(m.byEntity, job.EntityID)
	return true
}

// CancelAll cancels all active jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.active() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.byEntity = make(map[string]string)
}

// ListJobs returns copies of all jobs
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	return jobs
}

// GetContext returns the context for a job (for running the pipeline)
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, ok := m.jobs[jobID]; ok {
		return job.ctx
	}
	return context.Background()
}
