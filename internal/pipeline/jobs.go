package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/benjamincozon/shoplens/internal/models"
)

// JobStore holds job state in process memory. Only the orchestrator mutates a
// given job; readers always get a value snapshot.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*models.Job)}
}

// Create registers a queued job for a URL and returns its snapshot.
func (s *JobStore) Create(url string, kind models.URLKind) models.Job {
	job := &models.Job{
		ID:        uuid.NewString(),
		URL:       url,
		URLKind:   kind,
		Status:    models.JobQueued,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return *job
}

// UpdateProgress moves a running job forward. Percent never decreases, and a
// terminal job is never moved back to running.
func (s *JobStore) UpdateProgress(id, stage string, percent int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: not found", id)
	}
	if job.Status == models.JobCompleted || job.Status == models.JobFailed {
		return nil
	}
	job.Status = models.JobRunning
	if percent < job.Progress.Percent {
		percent = job.Progress.Percent
	}
	job.Progress = models.Progress{Stage: stage, Percent: percent, Message: message}
	return nil
}

// SetResult completes a job with its final report.
func (s *JobStore) SetResult(id string, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: not found", id)
	}
	job.Status = models.JobCompleted
	job.Progress.Percent = 100
	job.Result = report
	job.Error = nil
	return nil
}

// SetError fails a job with a user-facing message. Progress freezes at the
// last reported value.
func (s *JobStore) SetError(id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: not found", id)
	}
	job.Status = models.JobFailed
	job.Result = nil
	job.Error = &message
	return nil
}

// Get returns a snapshot of a job.
func (s *JobStore) Get(id string) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}
