package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingStore struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *recordingStore) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return 1, nil
}

func (s *recordingStore) cleanupCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSweepCleansBothStores(t *testing.T) {
	noteStore := &recordingStore{}
	chatStore := &recordingStore{}

	s, err := New(Config{Notes: noteStore, Chats: chatStore})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	s.Sweep(context.Background())

	if noteStore.cleanupCalls() != 1 || chatStore.cleanupCalls() != 1 {
		t.Fatalf("expected one cleanup per store, got notes=%d chats=%d", noteStore.cleanupCalls(), chatStore.cleanupCalls())
	}
}

func TestSweepContinuesPastFailingStore(t *testing.T) {
	noteStore := &recordingStore{err: errors.New("storage fault")}
	chatStore := &recordingStore{}

	s, err := New(Config{Notes: noteStore, Chats: chatStore})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	s.Sweep(context.Background())

	if chatStore.cleanupCalls() != 1 {
		t.Fatalf("chat store should still be swept when note sweep fails")
	}
}

func TestRunSweepsOnTicksUntilCancelled(t *testing.T) {
	noteStore := &recordingStore{}
	chatStore := &recordingStore{}

	s, err := New(Config{Interval: 5 * time.Millisecond, Notes: noteStore, Chats: chatStore})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for noteStore.cleanupCalls() == 0 {
		select {
		case <-deadline:
			t.Fatalf("sweeper never ticked")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestNewRequiresBothStores(t *testing.T) {
	if _, err := New(Config{Notes: &recordingStore{}}); err == nil {
		t.Fatalf("missing chat store should fail")
	}
	if _, err := New(Config{Chats: &recordingStore{}}); err == nil {
		t.Fatalf("missing note store should fail")
	}
}
