// Package session owns the lifecycle of remote desktop sessions: one
// engine plus one worker goroutine per session, with frame updates and
// errors delivered to an EventSink.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/xuanvinh1997/open-term/internal/rdp"
)

// Engine is the protocol client a session drives. *rdp.Client is the
// production implementation; tests substitute fakes.
type Engine interface {
	Connect(ctx context.Context) error
	ProcessEvents() ([]rdp.Rect, error)
	SendInput(events []rdp.InputEvent) error
	ExtractRect(r rdp.Rect) []byte
	Snapshot() []byte
	Dimensions() (width, height int)
	IsConnected() bool
	Disconnect() error
}

var _ Engine = (*rdp.Client)(nil)

// EventSink receives the output of session workers. Implementations
// must not block; a slow consumer stalls the session loop.
type EventSink interface {
	FrameUpdate(sessionID string, frame rdp.FrameUpdate)
	SessionError(sessionID string, err error)
	SessionClosed(sessionID string)
}

// EngineFactory builds the engine for a new session.
type EngineFactory func(cfg rdp.Config) Engine

func defaultEngineFactory(cfg rdp.Config) Engine {
	return rdp.NewClient(cfg)
}

const inputQueueSize = 256

type session struct {
	id     string
	engine Engine

	input    chan rdp.InputEvent
	batcher  *rdp.InputBatcher
	pace     *pacer
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *session) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Manager tracks active sessions keyed by ID.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	sink      EventSink
	newEngine EngineFactory
}

// Option configures a Manager.
type Option func(*Manager)

// WithEngineFactory replaces the engine constructor, used by tests to
// inject fakes.
func WithEngineFactory(f EngineFactory) Option {
	return func(m *Manager) { m.newEngine = f }
}

func NewManager(sink EventSink, opts ...Option) *Manager {
	m := &Manager{
		sessions:  make(map[string]*session),
		sink:      sink,
		newEngine: defaultEngineFactory,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession connects a new engine and registers it. The worker is
// not started yet; callers typically subscribe to the sink first and
// then call StartWorker.
func (m *Manager) CreateSession(ctx context.Context, cfg rdp.Config) (string, error) {
	engine := m.newEngine(cfg)
	if err := engine.Connect(ctx); err != nil {
		return "", err
	}

	s := &session{
		id:      uuid.NewString(),
		engine:  engine,
		input:   make(chan rdp.InputEvent, inputQueueSize),
		batcher: rdp.NewInputBatcher(),
		pace:    newPacer(),
		stop:    make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	width, height := engine.Dimensions()
	log.Printf("session %s created: host=%s quality=%s desktop=%dx%d",
		s.id, cfg.Host, cfg.Quality, width, height)
	return s.id, nil
}

// StartWorker launches the session's event loop goroutine.
func (m *Manager) StartWorker(sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	go m.runWorker(s)
	return nil
}

// SendInput queues events for the session worker. When the queue is
// full the oldest event is dropped rather than blocking the caller.
func (m *Manager) SendInput(sessionID string, events []rdp.InputEvent) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		select {
		case s.input <- ev:
			continue
		default:
		}
		select {
		case <-s.input:
		default:
		}
		select {
		case s.input <- ev:
		default:
		}
	}
	return nil
}

// GetDimensions returns the negotiated desktop size of the session.
func (m *Manager) GetDimensions(sessionID string) (width, height int, err error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return 0, 0, err
	}
	width, height = s.engine.Dimensions()
	return width, height, nil
}

// CloseSession stops the worker, disconnects the engine and removes the
// session. A second close of the same ID fails with a not-found error.
func (m *Manager) CloseSession(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	s.signalStop()
	err := s.engine.Disconnect()
	m.sink.SessionClosed(s.id)
	log.Printf("session %s closed", s.id)
	return err
}

// CloseAll terminates every session, used during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.CloseSession(id)
	}
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) lookup(sessionID string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return s, nil
}

// removeEnded drops a session whose worker exited on its own.
func (m *Manager) removeEnded(sessionID string) {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if ok {
		m.sink.SessionClosed(sessionID)
	}
}
