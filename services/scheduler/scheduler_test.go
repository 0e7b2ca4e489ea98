package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/taskpool/core"
)

func TestScheduler_RunNow(t *testing.T) {
	s := New(core.NopLogger{})
	var runs int32
	s.Add("count", time.Hour, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	s.Add("fail", time.Hour, func(context.Context) error { return errors.New("boom") })
	s.Add("panic", time.Hour, func(context.Context) error { panic("oops") })

	assert.NoError(t, s.RunNow(context.Background(), "count"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))
	assert.EqualError(t, s.RunNow(context.Background(), "fail"), "boom")
	assert.Error(t, s.RunNow(context.Background(), "panic"))
	assert.Equal(t, ErrUnknownJob, errors.Cause(s.RunNow(context.Background(), "nope")))
	assert.Equal(t, []string{"count", "fail", "panic"}, s.Jobs())
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(core.NopLogger{})
	var runs int32
	s.Add("tick", 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("failures do not stop the job")
	})

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()
	got := atomic.LoadInt32(&runs)
	assert.GreaterOrEqual(t, got, int32(2))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, got, atomic.LoadInt32(&runs), "no run after Stop")
	s.Stop() // no-op
}

func TestScheduler_AddPanics(t *testing.T) {
	s := New(core.NopLogger{})
	fn := func(context.Context) error { return nil }
	assert.Panics(t, func() { s.Add("", time.Second, fn) })
	assert.Panics(t, func() { s.Add("x", 0, fn) })
	s.Add("x", time.Second, fn)
	assert.Panics(t, func() { s.Add("x", time.Second, fn) })
}
