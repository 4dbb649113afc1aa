package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  int32
	fails bool
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	atomic.AddInt32(&j.runs, 1)
	if j.fails {
		return errors.New("boom")
	}
	return nil
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "test.job"}

	require.NoError(t, s.RunNow(job))
	assert.EqualValues(t, 1, atomic.LoadInt32(&job.runs))
}

func TestScheduler_RunNowPropagatesError(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "test.failing", fails: true}

	err := s.RunNow(job)
	assert.Error(t, err)
}

func TestScheduler_AddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "test.bad"}

	err := s.AddJob("not-a-cron-expr", job)
	assert.Error(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "test.cron"}
	require.NoError(t, s.AddJob("@every 1h", job))

	s.Start()
	s.Stop()
}
