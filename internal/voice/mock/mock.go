// Package mock provides a scriptable voice.Engine for tests. Tests start
// the listener against the mock, then drive recognition by emitting
// result batches, errors and end events on the active session.
package mock

import (
	"sync"

	"github.com/voxiscribe/examclient/internal/voice"
)

// Engine records every session it opens so tests can assert exclusivity
// (at most one unstopped session at a time) and inspect pass configs.
type Engine struct {
	mu       sync.Mutex
	sessions []*Session
}

// NewEngine creates an empty mock engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Start opens a new scriptable session.
func (e *Engine) Start(cfg voice.Config, cb voice.Callbacks) (voice.Session, error) {
	s := &Session{Config: cfg, cb: cb}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

// Sessions returns every session ever opened, in creation order.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, len(e.sessions))
	copy(out, e.sessions)
	return out
}

// Active returns the most recent unstopped session, or nil.
func (e *Engine) Active() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.sessions) - 1; i >= 0; i-- {
		if !e.sessions[i].Stopped() {
			return e.sessions[i]
		}
	}
	return nil
}

// ActiveCount returns the number of currently unstopped sessions.
// The microphone contract requires this to never exceed one.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.sessions {
		if !s.Stopped() {
			n++
		}
	}
	return n
}

// Session is one scriptable recognition pass.
type Session struct {
	Config voice.Config
	cb     voice.Callbacks

	mu      sync.Mutex
	stopped bool
}

// Stop marks the session stopped and fires OnEnd synchronously, matching
// engines that confirm release of the capture device on stop.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	if s.cb.OnEnd != nil {
		s.cb.OnEnd()
	}
}

// Stopped reports whether the session has ended.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// EmitResult delivers a result batch. Ignored after the session stopped.
func (s *Session) EmitResult(results ...voice.Result) {
	if s.Stopped() {
		return
	}
	if s.cb.OnResult != nil {
		s.cb.OnResult(results)
	}
}

// EmitFinal delivers a single final fragment.
func (s *Session) EmitFinal(text string) {
	s.EmitResult(voice.Result{Transcript: text, Final: true})
}

// EmitInterim delivers a single non-final fragment.
func (s *Session) EmitInterim(text string) {
	s.EmitResult(voice.Result{Transcript: text})
}

// EmitError delivers a recognition error.
func (s *Session) EmitError(err error) {
	if s.Stopped() {
		return
	}
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

// EmitEnd simulates an engine-initiated end (e.g. silence timeout).
func (s *Session) EmitEnd() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	if s.cb.OnEnd != nil {
		s.cb.OnEnd()
	}
}
