package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	categorizer "github.com/ryanburden/mercari-buddy"
)

// finished jobs are kept for polling until they expire or the cap evicts the oldest
const (
	defaultJobRetention    = time.Hour
	defaultMaxFinishedJobs = 1000
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is an asynchronously processed batch
type Job struct {
	ID         string                   `json:"id"`
	Status     JobStatus                `json:"status"`
	Products   int                      `json:"products"`
	Error      string                   `json:"error,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
	Result     *categorizer.BatchResult `json:"-"`
}

// jobs runs batches in the background. Jobs outlive their HTTP request but are canceled
// on shutdown.
type jobs struct {
	mu   sync.RWMutex
	byID map[string]*Job

	retention   time.Duration
	maxFinished int
	now         func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

func newJobs() *jobs {
	ctx, cancel := context.WithCancel(context.Background())
	return &jobs{
		byID:        make(map[string]*Job),
		retention:   defaultJobRetention,
		maxFinished: defaultMaxFinishedJobs,
		now:         func() time.Time { return time.Now().UTC() },
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (js *jobs) start(products int, run func(ctx context.Context) (*categorizer.BatchResult, error)) Job {
	j := &Job{
		ID:        uuid.NewString(),
		Status:    JobRunning,
		Products:  products,
		CreatedAt: js.now(),
	}

	js.mu.Lock()
	js.prune()
	js.byID[j.ID] = j
	snapshot := *j
	js.mu.Unlock()

	js.running.Add(1)
	go func() {
		defer js.running.Done()
		result, err := run(js.ctx)

		js.mu.Lock()
		defer js.mu.Unlock()
		now := js.now()
		j.FinishedAt = &now
		if err != nil {
			j.Status = JobFailed
			j.Error = err.Error()
			return
		}
		j.Status = JobCompleted
		j.Result = result
	}()
	return snapshot
}

// get returns a copy of the job
func (js *jobs) get(id string) (Job, bool) {
	js.mu.RLock()
	defer js.mu.RUnlock()
	j, ok := js.byID[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// prune drops expired finished jobs, then the oldest finished ones beyond maxFinished.
// Callers hold mu.
func (js *jobs) prune() {
	cutoff := js.now().Add(-js.retention)
	var finished []*Job
	for id, j := range js.byID {
		if j.FinishedAt == nil {
			continue
		}
		if j.FinishedAt.Before(cutoff) {
			delete(js.byID, id)
			continue
		}
		finished = append(finished, j)
	}
	if len(finished) <= js.maxFinished {
		return
	}
	sort.Slice(finished, func(a, b int) bool { return finished[a].FinishedAt.Before(*finished[b].FinishedAt) })
	for _, j := range finished[:len(finished)-js.maxFinished] {
		delete(js.byID, j.ID)
	}
}

// shutdown cancels running jobs and waits for them
func (js *jobs) shutdown() {
	js.cancel()
	js.running.Wait()
}
