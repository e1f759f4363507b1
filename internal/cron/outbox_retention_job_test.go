package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettledDeleter struct {
	lastCutoff  time.Time
	maxAttempts int
	called      int
	err         error
}

func (f *fakeSettledDeleter) DeleteSettledBefore(_ context.Context, cutoff time.Time, maxAttempts int) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	f.maxAttempts = maxAttempts
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

func TestOutboxRetentionJobDeletesSettledRows(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeSettledDeleter{}
	job := newOutboxRetentionJob(t, repo)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "sync-outbox-retention", job.Name())
	assert.True(t, repo.lastCutoff.Equal(now.Add(-syncOutboxRetentionDays*24*time.Hour)))
	assert.Equal(t, syncOutboxMaxAttempts, repo.maxAttempts)
	assert.Equal(t, 1, repo.called)
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	job := newOutboxRetentionJob(t, &fakeSettledDeleter{err: errors.New("boom")})
	assert.ErrorContains(t, job.Run(context.Background()), "boom")
}

func newOutboxRetentionJob(t *testing.T, repo *fakeSettledDeleter) *outboxRetentionJob {
	t.Helper()
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     newTestLogger(&bytes.Buffer{}),
		Repository: repo,
	})
	require.NoError(t, err)
	job, ok := jobIface.(*outboxRetentionJob)
	require.True(t, ok, "got %T", jobIface)
	return job
}
