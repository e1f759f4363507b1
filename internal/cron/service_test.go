package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
)

type fakeLock struct {
	held       bool
	acquireErr error
	releases   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newTestLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Level: logger.ParseLevel("debug"), Output: buf})
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	reg := prometheus.NewRegistry()
	ok := &testJob{name: "ok"}
	failing := &testJob{name: "failing", err: errors.New("boom")}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:   newTestLogger(buf),
		Registry: NewRegistry(ok, failing),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)

	require.NoError(t, service.RunOnce(context.Background()))
	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, failing.runs)
	assert.Equal(t, 1, lock.releases)
	assert.False(t, lock.held)
	assert.Contains(t, buf.String(), `"job":"failing"`)

	assert.Equal(t, float64(1), counterValue(t, reg, "fulfillment_cron_job_failure_total", "failing"))
	assert.Equal(t, float64(1), counterValue(t, reg, "fulfillment_cron_job_success_total", "ok"))
}

func TestRunOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := &testJob{name: "reconcile"}
	lock := &fakeLock{held: true}
	service, err := NewService(ServiceParams{
		Logger:   newTestLogger(&bytes.Buffer{}),
		Registry: NewRegistry(job),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)

	require.NoError(t, service.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
	assert.Zero(t, lock.releases)
	assert.Equal(t, float64(1), counterValue(t, reg, "fulfillment_cron_run_skipped_total", "reconcile"))
}

func TestRunOnceSurfacesLockErrors(t *testing.T) {
	job := &testJob{name: "reconcile"}
	service, err := NewService(ServiceParams{
		Logger:   newTestLogger(&bytes.Buffer{}),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{acquireErr: errors.New("redis down")},
	})
	require.NoError(t, err)

	assert.Error(t, service.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	job := &testJob{name: "reconcile"}
	service, err := NewService(ServiceParams{
		Logger:   newTestLogger(&bytes.Buffer{}),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, service.Run(ctx), context.Canceled)
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &fakeLock{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: newTestLogger(&bytes.Buffer{})})
	assert.Error(t, err)
}

type stubObtainer struct {
	err error
}

func (s stubObtainer) Obtain(context.Context, string, time.Duration, *redislock.Options) (*redislock.Lock, error) {
	return nil, s.err
}

func TestRedisLockNotObtained(t *testing.T) {
	lock, err := NewRedisLock(stubObtainer{err: redislock.ErrNotObtained}, "ff:lock:cron", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, lock.Release(context.Background()))

	failing, err := NewRedisLock(stubObtainer{err: errors.New("dial tcp")}, "ff:lock:cron", time.Minute)
	require.NoError(t, err)
	_, err = failing.Acquire(context.Background())
	assert.ErrorContains(t, err, "dial tcp")

	_, err = NewRedisLock(nil, "k", time.Minute)
	assert.Error(t, err)
	_, err = NewRedisLock(stubObtainer{}, "", time.Minute)
	assert.Error(t, err)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, job string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{job=%q} not found", name, job)
	return 0
}
