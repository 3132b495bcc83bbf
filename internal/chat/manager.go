// ABOUTME: Job manager owning one background generation task per session
// ABOUTME: Jobs outlive connections and settle messages through the store

package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/daybreak-ai/daybreak/internal/provider"
	"github.com/daybreak-ai/daybreak/internal/store"
)

// stoppedNotice is the content carried by a stopped frame.
const stoppedNotice = "Streaming stopped by user"

// settleTimeout bounds the store writes that settle a job after its own
// context is already cancelled.
const settleTimeout = 10 * time.Second

// Streamer is the upstream surface the manager needs. Satisfied by
// provider.Client; tests substitute a fake.
type Streamer interface {
	Stream(ctx context.Context, cfg provider.Config, messages []provider.ChatMessage) (<-chan provider.Event, error)
}

// job is the ownership record for one running generation.
type job struct {
	cancel    context.CancelFunc
	done      chan struct{}
	messageID string
}

// Manager owns at most one generation job per session. Jobs run in their own
// goroutines, detached from the connection that started them, and write all
// progress through the store so a crash never loses accumulated text.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*job
	store    store.Store
	hub      *Hub
	upstream Streamer
	logger   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(st store.Store, hub *Hub, upstream Streamer) *Manager {
	return &Manager{
		jobs:     make(map[string]*job),
		store:    st,
		hub:      hub,
		upstream: upstream,
		logger:   slog.Default().With("component", "chat-manager"),
	}
}

// Start begins a generation job for a session and returns the assistant
// placeholder message the job will fill. Any job already running for the
// session is cancelled and fully settled before the new placeholder is
// created, so the session never holds two streaming messages.
func (m *Manager) Start(ctx context.Context, sessionID string, cfg provider.Config, history []provider.ChatMessage) (*store.Message, error) {
	jobCtx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}

	for {
		m.mu.Lock()
		existing := m.jobs[sessionID]
		if existing == nil {
			m.jobs[sessionID] = j
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()

		existing.cancel()
		<-existing.done
	}

	msg, err := m.store.CreatePlaceholder(ctx, sessionID)
	if err != nil {
		m.mu.Lock()
		if m.jobs[sessionID] == j {
			delete(m.jobs, sessionID)
		}
		m.mu.Unlock()
		cancel()
		close(j.done)
		return nil, err
	}

	m.mu.Lock()
	j.messageID = msg.ID
	m.mu.Unlock()

	// Announced before the job goroutine exists so no content frame can
	// precede it.
	m.hub.Broadcast(sessionID, Frame{Type: FrameStreamingStart, MessageID: msg.ID})

	m.logger.Info("starting generation job", "session_id", sessionID, "message_id", msg.ID)
	go m.run(jobCtx, j, sessionID, msg.ID, cfg, history)

	return msg, nil
}

// Stop ends generation for a session. A live job is cancelled and awaited.
// With no live job, an orphaned streaming message (left by a crash) is
// finalized as interrupted. Returns false when there was nothing to stop.
func (m *Manager) Stop(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	j := m.jobs[sessionID]
	m.mu.Unlock()

	if j != nil {
		m.logger.Info("stopping generation job", "session_id", sessionID)
		j.cancel()
		<-j.done
		return true, nil
	}

	msg, err := m.store.FindStreaming(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.logger.Info("finalizing orphaned stream", "session_id", sessionID, "message_id", msg.ID)
	won, err := m.store.FinalizeMessage(ctx, msg.ID, store.StatusInterrupted, "")
	if err != nil {
		return false, err
	}
	if won {
		m.hub.Broadcast(sessionID, Frame{Type: FrameStopped, Content: stoppedNotice})
	}
	return true, nil
}

// Running reports whether a job is live for the session.
func (m *Manager) Running(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[sessionID] != nil
}

func (m *Manager) run(ctx context.Context, j *job, sessionID, messageID string, cfg provider.Config, history []provider.ChatMessage) {
	defer func() {
		m.mu.Lock()
		if m.jobs[sessionID] == j {
			delete(m.jobs, sessionID)
		}
		m.mu.Unlock()
		close(j.done)
	}()

	logger := m.logger.With("session_id", sessionID, "message_id", messageID)

	events, err := m.upstream.Stream(ctx, cfg, history)
	if err != nil {
		logger.Error("upstream stream failed to start", "error", err)
		m.settle(sessionID, messageID, store.StatusInterrupted, "",
			Frame{Type: FrameError, Content: err.Error()})
		return
	}

	for {
		// Cancellation is honored only while waiting for the next event. An
		// event already handed over is persisted and broadcast in full.
		var ev provider.Event
		var ok bool
		select {
		case <-ctx.Done():
			m.settle(sessionID, messageID, store.StatusInterrupted, "",
				Frame{Type: FrameStopped, Content: stoppedNotice})
			return
		case ev, ok = <-events:
			if !ok {
				// Closed without a terminal event: the producer observed
				// our cancellation mid-send.
				m.settle(sessionID, messageID, store.StatusInterrupted, "",
					Frame{Type: FrameStopped, Content: stoppedNotice})
				return
			}
		}

		switch ev := ev.(type) {
		case provider.ContentEvent:
			if err := m.appendDelta(messageID, ev); err != nil {
				logger.Error("persisting delta failed", "error", err)
				m.settle(sessionID, messageID, store.StatusInterrupted, "",
					Frame{Type: FrameError, Content: "failed to persist streamed content"})
				return
			}
			m.hub.Broadcast(sessionID, Frame{
				Type:     FrameContent,
				Content:  ev.Content,
				Thinking: ev.Thinking,
			})

		case provider.DoneEvent:
			m.completeJob(sessionID, messageID, ev.Usage)
			return

		case provider.ErrorEvent:
			logger.Warn("upstream reported error", "message", ev.Message)
			m.settle(sessionID, messageID, store.StatusInterrupted, "",
				Frame{Type: FrameError, Content: ev.Message})
			return
		}
	}
}

// appendDelta persists one content event, retrying once before giving up.
func (m *Manager) appendDelta(messageID string, ev provider.ContentEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	err := m.store.AppendDelta(ctx, messageID, ev.Content, ev.Thinking)
	if err == nil {
		return nil
	}

	m.logger.Warn("append failed, retrying once", "message_id", messageID, "error", err)
	return m.store.AppendDelta(ctx, messageID, ev.Content, ev.Thinking)
}

// completeJob settles a normally-finished generation.
func (m *Manager) completeJob(sessionID, messageID, usage string) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	won, err := m.store.FinalizeMessage(ctx, messageID, store.StatusCompleted, usage)
	if err != nil {
		m.logger.Error("finalizing completed message failed", "message_id", messageID, "error", err)
		return
	}
	if !won {
		// A concurrent stop settled the message first.
		return
	}

	if err := m.store.CompleteExchange(ctx, sessionID); err != nil {
		m.logger.Error("updating session counters failed", "session_id", sessionID, "error", err)
	}
	m.hub.Broadcast(sessionID, Frame{Type: FrameDone})
}

// settle finalizes a message into a terminal status and broadcasts the
// outcome frame, but only if this caller won the terminal transition.
func (m *Manager) settle(sessionID, messageID, status, usage string, frame Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	won, err := m.store.FinalizeMessage(ctx, messageID, status, usage)
	if err != nil {
		m.logger.Error("finalizing message failed",
			"message_id", messageID,
			"status", status,
			"error", err)
		return
	}
	if won {
		m.hub.Broadcast(sessionID, frame)
	}
}
