package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"planboard/internal/eventbus"
	logx "planboard/pkg/logx"
)

type outcome struct {
	err      error
	attempts int
}

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 2 * time.Millisecond
	}
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func submit(t *testing.T, s *Service, task Task) outcome {
	t.Helper()
	done := make(chan outcome, 1)
	task.Done = func(err error, attempts int) { done <- outcome{err, attempts} }
	if err := s.Submit(context.Background(), task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	select {
	case o := <-done:
		return o
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s never completed", task.Name)
		return outcome{}
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: 3})
	var runs atomic.Int32
	o := submit(t, s, Task{Name: "patch", Run: func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("503")
		}
		return nil
	}})
	if o.err != nil || o.attempts != 3 {
		t.Fatalf("outcome = %v/%d, want nil/3", o.err, o.attempts)
	}
	if snap := s.Snapshot(); snap.Completed != 1 || len(snap.History) != 1 {
		t.Fatalf("Snapshot() completed=%d history=%d, want 1/1", snap.Completed, len(snap.History))
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: 5})
	rejected := errors.New("422 unprocessable")
	o := submit(t, s, Task{Name: "patch", Run: func(context.Context) error { return NoRetry(rejected) }})
	if !errors.Is(o.err, rejected) || o.attempts != 1 {
		t.Fatalf("outcome = %v/%d, want rejected/1", o.err, o.attempts)
	}
	if IsNoRetry(o.err) {
		t.Fatalf("Done error still wrapped in NoRetry")
	}
}

func TestRetriesExhausted(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: 2, CircuitTripFailures: -1})
	o := submit(t, s, Task{Name: "patch", Run: func(context.Context) error { return errors.New("down") }})
	if o.err == nil || o.attempts != 3 {
		t.Fatalf("outcome = %v/%d, want error/3", o.err, o.attempts)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: -1})
	o := submit(t, s, Task{Name: "boom", Run: func(context.Context) error { panic("bad") }})
	if o.err == nil || o.attempts != 1 {
		t.Fatalf("outcome = %v/%d, want panic error/1", o.err, o.attempts)
	}
}

func TestCircuitOpensPerKey(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: -1, CircuitTripFailures: 2, CircuitBaseDelay: time.Hour})
	fail := func(context.Context) error { return errors.New("down") }
	for i := 0; i < 2; i++ {
		submit(t, s, Task{Name: "patch", Key: "remote", Run: fail})
	}
	err := s.Submit(context.Background(), Task{Name: "patch", Key: "remote", Run: fail})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Submit() after trip error = %v, want ErrCircuitOpen", err)
	}
	if o := submit(t, s, Task{Name: "patch", Key: "other", Run: func(context.Context) error { return nil }}); o.err != nil {
		t.Fatalf("other key outcome = %v, want nil", o.err)
	}
	if snap := s.Snapshot(); snap.CircuitOpen != 1 || snap.CircuitTotal != 2 {
		t.Fatalf("circuits open/total = %d/%d, want 1/2", snap.CircuitOpen, snap.CircuitTotal)
	}
}

func TestNoRetryDoesNotTripCircuit(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, CircuitTripFailures: 1, CircuitBaseDelay: time.Hour})
	submit(t, s, Task{Name: "patch", Run: func(context.Context) error { return NoRetry(errors.New("400")) }})
	if err := s.Submit(context.Background(), Task{Name: "patch", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Submit() error = %v, want accepted", err)
	}
}

func TestStopFailsQueuedTasks(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "blocker", Run: func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	}})
	<-started

	var stopped atomic.Int32
	for i := 0; i < 3; i++ {
		err := s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }, Done: func(err error, _ int) {
			if errors.Is(err, ErrStopped) {
				stopped.Add(1)
			}
		}})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	close(release)
	if got := stopped.Load(); got != 3 {
		t.Fatalf("queued tasks failed with ErrStopped = %d, want 3", got)
	}
	if err := s.Enqueue(Task{Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue() after Stop error = %v, want ErrStopped", err)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	block := make(chan struct{})
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "blocker", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}})
	<-started
	defer close(block)

	noop := func(context.Context) error { return nil }
	if err := s.Enqueue(Task{Name: "a", Run: noop}); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}
	if err := s.Enqueue(Task{Name: "b", Run: noop}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Enqueue() error = %v, want ErrQueueFull", err)
	}
	if snap := s.Snapshot(); snap.DroppedQueueFull != 1 {
		t.Fatalf("DroppedQueueFull = %d, want 1", snap.DroppedQueueFull)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(opt, tt.retry, nil); got != tt.want {
			t.Fatalf("backoffDelay(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}

	rng := rand.New(rand.NewSource(1))
	hinted := RetryAfter(errors.New("429"), 10*time.Second)
	opt.RetryJitter = 0.2
	if got := backoffDelayWithHint(opt, 1, hinted, rng); got < 800*time.Millisecond || got > time.Second {
		t.Fatalf("hinted delay = %v, want within [800ms, 1s]", got)
	}
}
