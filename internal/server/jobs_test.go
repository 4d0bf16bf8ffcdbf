package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	categorizer "github.com/ryanburden/mercari-buddy"
)

func finishedJob(t *testing.T, js *jobs) Job {
	t.Helper()
	j := js.start(1, func(ctx context.Context) (*categorizer.BatchResult, error) {
		return &categorizer.BatchResult{ID: "b"}, nil
	})
	require.Eventually(t, func() bool {
		got, ok := js.get(j.ID)
		return ok && got.Status == JobCompleted
	}, time.Second, time.Millisecond)
	return j
}

func TestJobs_ExpiredJobsAreEvicted(t *testing.T) {
	js := newJobs()
	defer js.shutdown()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	js.now = func() time.Time { return clock }

	old := finishedJob(t, js)

	clock = clock.Add(defaultJobRetention + time.Minute)
	recent := finishedJob(t, js)

	_, ok := js.get(old.ID)
	assert.False(t, ok, "expired job should be evicted")
	_, ok = js.get(recent.ID)
	assert.True(t, ok)
}

func TestJobs_FinishedJobsAreCapped(t *testing.T) {
	js := newJobs()
	defer js.shutdown()
	js.maxFinished = 2
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	js.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, finishedJob(t, js).ID)
	}

	// the fourth start pruned down to two finished jobs before adding itself
	_, ok := js.get(ids[0])
	assert.False(t, ok)
	for _, id := range ids[1:] {
		_, ok := js.get(id)
		assert.True(t, ok, id)
	}
}

func TestJobs_RunningJobsAreKept(t *testing.T) {
	js := newJobs()
	js.maxFinished = 0
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	js.now = func() time.Time { return clock }

	release := make(chan struct{})
	running := js.start(1, func(ctx context.Context) (*categorizer.BatchResult, error) {
		<-release
		return &categorizer.BatchResult{}, nil
	})
	clock = clock.Add(2 * defaultJobRetention)
	js.start(1, func(ctx context.Context) (*categorizer.BatchResult, error) {
		<-release
		return &categorizer.BatchResult{}, nil
	})

	got, ok := js.get(running.ID)
	require.True(t, ok)
	assert.Equal(t, JobRunning, got.Status)

	close(release)
	js.shutdown()
}
