// Package autosave persists in-progress answers on a fixed period and on
// demand. Saves are fire-and-forget: failures are logged and reported,
// never retried automatically, and never block navigation — the next
// periodic tick simply tries again with a fresh snapshot.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxiscribe/examclient/internal/api"
)

// Source provides answer snapshots. Each snapshot must be an independent
// copy: an in-flight save request is never mutated after being queued.
type Source interface {
	// Snapshot collects the current answer into the session state and
	// returns a copy of all answers in wire format. ok is false when
	// autosave is suppressed (a submission has started).
	Snapshot() (req api.AutosaveRequest, ok bool)
}

// Saver posts an autosave payload. *api.Client satisfies this.
type Saver interface {
	Autosave(ctx context.Context, req api.AutosaveRequest) error
}

// Policy runs the periodic loop and serves ad hoc saves.
type Policy struct {
	source   Source
	saver    Saver
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPolicy creates a Policy saving every interval once started.
func NewPolicy(source Source, saver Saver, interval time.Duration, log zerolog.Logger) *Policy {
	return &Policy{
		source:   source,
		saver:    saver,
		interval: interval,
		log:      log.With().Str("component", "autosave").Logger(),
	}
}

// Start launches the periodic loop. Call Stop (or cancel ctx) to end it.
func (p *Policy) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *Policy) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Trigger(ctx)
		}
	}
}

// Trigger performs one save with a fresh snapshot. Skipped silently when
// the source suppresses autosave (submission in progress).
func (p *Policy) Trigger(ctx context.Context) {
	req, ok := p.source.Snapshot()
	if !ok {
		p.log.Debug().Msg("Autosave suppressed")
		return
	}
	p.Save(ctx, req)
}

// Save posts one snapshot. Best effort: a failure is logged and dropped.
func (p *Policy) Save(ctx context.Context, req api.AutosaveRequest) {
	if err := p.saver.Autosave(ctx, req); err != nil {
		p.log.Warn().Err(err).Int("answers", len(req.Answers)).Msg("Autosave failed")
		return
	}
	p.log.Debug().Int("answers", len(req.Answers)).Msg("Progress saved")
}

// Stop ends the periodic loop. Safe to call before Start.
func (p *Policy) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
