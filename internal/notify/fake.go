package notify

import (
	"context"
	"sync"
)

// FakeNotifier records notifications in memory, for tests.
type FakeNotifier struct {
	mu   sync.Mutex
	Sent []Notification
}

func NewFakeNotifier() *FakeNotifier {
	return &FakeNotifier{}
}

func (f *FakeNotifier) Notify(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, n)
	return nil
}
