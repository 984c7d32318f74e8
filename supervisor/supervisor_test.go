package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ebogdum/lockfs/metrics"
)

type countingFinalizer struct {
	calls atomic.Int32
	err   error
}

func (f *countingFinalizer) Finalize() error {
	f.calls.Add(1)
	return f.err
}

func TestSupervisorRestartsExitedWorker(t *testing.T) {
	sup := New([]WorkerSpec{
		{Name: "crasher", Command: "true"},
	}, 100, 100, zap.NewNop())

	baseline := testutil.ToFloat64(metrics.WorkerRestartsTotal.WithLabelValues("crasher"))

	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() { _ = sup.Stop() })

	// "true" exits immediately; the supervisor must keep restarting it.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.WorkerRestartsTotal.WithLabelValues("crasher")) >= baseline+2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, sup.Stop())
}

func TestSupervisorStopTerminatesLongRunningWorker(t *testing.T) {
	sup := New([]WorkerSpec{
		{Name: "sleeper", Command: "sleep", Args: []string{"60"}},
	}, 1, 1, zap.NewNop())

	require.NoError(t, sup.Start(context.Background()))

	require.Eventually(t, func() bool {
		return sup.Status()["sleeper"] > 0
	}, time.Second, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- sup.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not terminate the worker")
	}
}

func TestSupervisorRunsFinalizersExactlyOnce(t *testing.T) {
	fin := &countingFinalizer{}
	sup := New(nil, 1, 1, zap.NewNop())
	sup.OnShutdown(fin)

	require.NoError(t, sup.Start(context.Background()))

	require.NoError(t, sup.Stop())
	require.NoError(t, sup.Stop())

	assert.Equal(t, int32(1), fin.calls.Load())
}

func TestSupervisorFinalizeSafeWithoutWorkers(t *testing.T) {
	fin := &countingFinalizer{}
	sup := New(nil, 1, 1, zap.NewNop())
	sup.OnShutdown(fin)

	// Stop without Start: still runs the finalizer once.
	require.NoError(t, sup.Stop())
	assert.Equal(t, int32(1), fin.calls.Load())
}

func TestSupervisorCollectsFinalizerErrors(t *testing.T) {
	failing := &countingFinalizer{err: assert.AnError}
	ok := &countingFinalizer{}
	sup := New(nil, 1, 1, zap.NewNop())
	sup.OnShutdown(failing)
	sup.OnShutdown(ok)

	err := sup.Stop()
	require.Error(t, err)
	// A failing finalizer must not stop the others from running.
	assert.Equal(t, int32(1), ok.calls.Load())
}

func TestSupervisorRejectsDoubleStart(t *testing.T) {
	sup := New(nil, 1, 1, zap.NewNop())
	require.NoError(t, sup.Start(context.Background()))
	require.Error(t, sup.Start(context.Background()))
	require.NoError(t, sup.Stop())
}

func TestSupervisorMissingCommandDoesNotCrash(t *testing.T) {
	sup := New([]WorkerSpec{
		{Name: "ghost", Command: "/no/such/binary"},
	}, 100, 100, zap.NewNop())

	require.NoError(t, sup.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, sup.Stop())
	assert.Equal(t, 0, sup.Status()["ghost"])
}
