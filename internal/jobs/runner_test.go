package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu     sync.Mutex
	calls  map[string]int
	failOn string
	done   chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: map[string]int{}, done: make(chan struct{}, 8)}
}

func (f *fakeStore) record(name string) (int64, error) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
	f.done <- struct{}{}
	if name == f.failOn {
		return 0, errors.New("boom")
	}
	return 1, nil
}

func (f *fakeStore) AutoCloseStaleSessions(context.Context, time.Duration) (int64, error) {
	return f.record("stale")
}
func (f *fakeStore) PurgeReadNotifications(context.Context, time.Duration) (int64, error) {
	return f.record("notifications")
}
func (f *fakeStore) PurgeAuditLog(context.Context, time.Duration) (int64, error) {
	return f.record("audit")
}

func (f *fakeStore) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func TestStart_RunsEveryJobOnce(t *testing.T) {
	fs := newFakeStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	NewRunner(fs, Config{
		StaleSessionMaxAge:    8 * time.Hour,
		NotificationRetention: 30 * 24 * time.Hour,
		AuditRetention:        90 * 24 * time.Hour,
	}, nil).Start(ctx)

	for i := 0; i < 3; i++ {
		select {
		case <-fs.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for initial job runs")
		}
	}

	for _, name := range []string{"stale", "notifications", "audit"} {
		if fs.count(name) != 1 {
			t.Fatalf("job %s ran %d times, want 1", name, fs.count(name))
		}
	}
}

func TestRunOnce_ErrorDoesNotPanic(t *testing.T) {
	fs := newFakeStore()
	fs.failOn = "stale"

	r := NewRunner(fs, Config{}, nil)
	r.runOnce(context.Background(), "stale_session_autoclose", func(c context.Context) (int64, error) {
		return fs.AutoCloseStaleSessions(c, time.Hour)
	})

	if fs.count("stale") != 1 {
		t.Fatalf("job ran %d times, want 1", fs.count("stale"))
	}
}
