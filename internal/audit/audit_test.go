package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *recordingSink) Write(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestQueue_DrainsEnqueuedEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{}
	q := NewQueue(ctx, 8, sink)

	q.Enqueue(Entry{Realm: "r1", Granted: true})
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(0), q.Dropped())
}

func TestQueue_DropsWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocking := &blockingSink{release: make(chan struct{})}
	q := NewQueue(ctx, 1, blocking)

	q.Enqueue(Entry{Realm: "r1"}) // consumed by the drain goroutine, blocks it
	require.Eventually(t, func() bool { return blocking.started() }, time.Second, time.Millisecond)

	q.Enqueue(Entry{Realm: "r2"}) // fills the buffered channel
	q.Enqueue(Entry{Realm: "r3"}) // dropped: channel full and drain is blocked

	close(blocking.release)
	assert.Eventually(t, func() bool { return q.Dropped() >= 1 }, time.Second, time.Millisecond)
}

type blockingSink struct {
	mu      sync.Mutex
	begun   bool
	release chan struct{}
}

func (s *blockingSink) Write(ctx context.Context, e Entry) error {
	s.mu.Lock()
	s.begun = true
	s.mu.Unlock()
	<-s.release
	return nil
}

func (s *blockingSink) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun
}
