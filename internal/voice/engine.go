// Package voice implements the two-stage hands-free control pipeline:
// a wakeword listener that waits for an activation phrase and a dictation
// listener that transcribes free text while recognizing command phrases.
//
// The speech-recognition capability itself is consumed as a black box via
// the Engine interface, which mirrors the event contract of browser-native
// continuous recognition (result batches, an error event, and an end event
// that fires whenever the engine stops, deliberately or not).
package voice

import "errors"

// Transient engine errors. These are recovered silently and never surface
// to the user.
var (
	// ErrNoSpeech is emitted when the engine heard nothing for a while.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrNoAudioDevice is emitted when audio capture is unavailable.
	ErrNoAudioDevice = errors.New("audio capture unavailable")
)

// IsTransient reports whether err is a recognition error that should be
// swallowed rather than surfaced.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNoSpeech) || errors.Is(err, ErrNoAudioDevice)
}

// Config describes one recognition pass.
type Config struct {
	// Continuous keeps the pass open across utterances instead of
	// finishing after the first final result.
	Continuous bool
	// InterimResults enables low-latency non-final fragments. Interim
	// text is preview-only and must never be persisted.
	InterimResults bool
	// Language is the BCP-47 recognition language tag.
	Language string
}

// Result is a single fragment of a recognition result batch.
type Result struct {
	Transcript string
	// Final marks the fragment as committed. Non-final fragments may be
	// revised by subsequent batches.
	Final bool
}

// Callbacks receive engine events. The engine delivers events one at a
// time; handlers must not assume any particular goroutine.
type Callbacks struct {
	// OnResult delivers a batch of result fragments.
	OnResult func(results []Result)
	// OnError reports a recognition error. The pass may or may not end
	// afterwards; an end is always signalled separately via OnEnd.
	OnError func(err error)
	// OnEnd fires when the pass stops for any reason — deliberate Stop,
	// engine-side silence timeout, or a fatal error.
	OnEnd func()
}

// Session is a running recognition pass. Exactly one session may hold the
// microphone at a time; callers must Stop the previous session before
// starting another.
type Session interface {
	// Stop requests the pass to end. OnEnd fires once the engine has
	// released the capture device. Stopping twice is safe.
	Stop()
}

// Engine abstracts the speech-recognition capability.
type Engine interface {
	Start(cfg Config, cb Callbacks) (Session, error)
}
