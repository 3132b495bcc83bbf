// ABOUTME: Tests for the session subscriber hub
// ABOUTME: Covers fan-out, idempotent membership and failed-send eviction

package chat

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSub collects frames and can be told to fail sends.
type recordingSub struct {
	mu     sync.Mutex
	frames []Frame
	fail   bool
}

func (s *recordingSub) Send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("connection gone")
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSub) received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub := NewHub()
	a := &recordingSub{}
	b := &recordingSub{}
	hub.Subscribe("sess-1", a)
	hub.Subscribe("sess-1", b)

	hub.Broadcast("sess-1", Frame{Type: FrameContent, Content: "hi"})

	require.Len(t, a.received(), 1)
	require.Len(t, b.received(), 1)
	assert.Equal(t, "hi", a.received()[0].Content)
}

func TestBroadcastScopedToSession(t *testing.T) {
	hub := NewHub()
	a := &recordingSub{}
	b := &recordingSub{}
	hub.Subscribe("sess-1", a)
	hub.Subscribe("sess-2", b)

	hub.Broadcast("sess-1", Frame{Type: FrameDone})

	assert.Len(t, a.received(), 1)
	assert.Empty(t, b.received())
}

func TestSubscribeIdempotent(t *testing.T) {
	hub := NewHub()
	a := &recordingSub{}
	hub.Subscribe("sess-1", a)
	hub.Subscribe("sess-1", a)

	assert.Equal(t, 1, hub.SubscriberCount("sess-1"))

	hub.Broadcast("sess-1", Frame{Type: FrameDone})
	assert.Len(t, a.received(), 1)
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Unsubscribe("sess-1", &recordingSub{})
	assert.Equal(t, 0, hub.SubscriberCount("sess-1"))
}

func TestFailedSendDropsOnlyThatSubscriber(t *testing.T) {
	hub := NewHub()
	healthy := &recordingSub{}
	broken := &recordingSub{fail: true}
	hub.Subscribe("sess-1", healthy)
	hub.Subscribe("sess-1", broken)

	hub.Broadcast("sess-1", Frame{Type: FrameContent, Content: "first"})

	assert.Equal(t, 1, hub.SubscriberCount("sess-1"))
	require.Len(t, healthy.received(), 1)

	// The healthy subscriber keeps receiving after the eviction.
	hub.Broadcast("sess-1", Frame{Type: FrameContent, Content: "second"})
	assert.Len(t, healthy.received(), 2)
}

func TestBroadcastNoSubscribers(t *testing.T) {
	hub := NewHub()
	// Must not panic or block.
	hub.Broadcast("sess-1", Frame{Type: FrameDone})
}
