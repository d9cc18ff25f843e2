package voice

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Mode is the current listening state. Exactly one mode is active at a
// time and at most one engine session holds the microphone.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeWakeword  Mode = "wakeword"
	ModeDictation Mode = "dictation"
)

// Actions are the session operations a recognized dictation command
// drives. The listener never mutates exam state itself; it only invokes
// these callbacks.
type Actions interface {
	NextQuestion()
	PreviousQuestion()
	SubmitExam()
	RepeatQuestion()
}

// ListenerConfig wires the listener to its collaborators.
type ListenerConfig struct {
	// Language is the recognition language tag.
	Language string
	// Actions receives recognized commands.
	Actions Actions
	// OnTranscript receives the live dictation text (committed buffer
	// plus interim preview) after every result batch.
	OnTranscript func(text string)
	// OnWarning surfaces non-transient recognition problems to the user.
	OnWarning func(msg string)
}

// Listener is the two-stage recognition state machine: Wakeword mode
// waits for an activation phrase, Dictation mode transcribes free text
// and intercepts command phrases. Transitions always stop the previous
// engine session before starting the next one.
type Listener struct {
	engine      Engine
	cfg         ListenerConfig
	grammar     []command
	wakePhrases []string
	log         zerolog.Logger

	mu      sync.Mutex
	mode    Mode
	session Session
	// gen invalidates callbacks from superseded sessions. Every new
	// engine session bumps it; handlers bail out on a stale value.
	gen int
	// recording is the dictation intent flag: an engine end while it is
	// still set is unexpected and triggers a restart, an end after it
	// was cleared is a deliberate stop.
	recording bool
	// listening is the same intent flag for wakeword mode.
	listening bool
	buffer    string
	interim   string
}

// NewListener creates a Listener in Idle mode.
func NewListener(engine Engine, cfg ListenerConfig, log zerolog.Logger) *Listener {
	return &Listener{
		engine:      engine,
		cfg:         cfg,
		grammar:     defaultGrammar(),
		wakePhrases: defaultWakePhrases(),
		log:         log.With().Str("component", "voice").Logger(),
		mode:        ModeIdle,
	}
}

// Mode returns the currently active listening mode.
func (l *Listener) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// Transcript returns the committed dictation buffer.
func (l *Listener) Transcript() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.TrimSpace(l.buffer)
}

// StartWakeword stops whatever session is active and enters Wakeword
// mode. No-op when already listening for the wakeword.
func (l *Listener) StartWakeword() error {
	l.mu.Lock()
	if l.mode == ModeWakeword {
		l.mu.Unlock()
		return nil
	}
	// Invalidate the old session before stopping it: its synchronous
	// OnEnd must not start a competing pass of its own.
	l.gen++
	l.recording = false
	l.mode = ModeIdle
	prev := l.session
	l.session = nil
	l.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	return l.startWakewordSession()
}

// StartDictation stops the wakeword listener and enters Dictation mode
// with an empty transcript buffer. No-op when already dictating.
func (l *Listener) StartDictation() error {
	l.mu.Lock()
	if l.mode == ModeDictation {
		l.mu.Unlock()
		return nil
	}
	l.gen++
	l.listening = false
	l.mode = ModeIdle
	prev := l.session
	l.session = nil
	l.buffer = ""
	l.interim = ""
	l.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	return l.startDictationSession()
}

// StopDictation deliberately ends dictation. The listener returns to
// Wakeword mode once the engine confirms the end of the pass. No-op
// outside Dictation mode.
func (l *Listener) StopDictation() {
	l.mu.Lock()
	if l.mode != ModeDictation {
		l.mu.Unlock()
		return
	}
	l.recording = false
	sess := l.session
	l.mu.Unlock()

	l.log.Info().Msg("Dictation stopped")
	if sess != nil {
		sess.Stop()
	}
}

// Stop shuts the listener down completely (Idle mode, no session).
// Used on submission and disposal.
func (l *Listener) Stop() {
	l.mu.Lock()
	l.gen++ // Invalidate every pending callback, including restarts.
	l.recording = false
	l.listening = false
	l.mode = ModeIdle
	sess := l.session
	l.session = nil
	l.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
}

// ─── Wakeword mode ──────────────────────────────────────────────────

func (l *Listener) startWakewordSession() error {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mode = ModeWakeword
	l.listening = true
	l.mu.Unlock()

	sess, err := l.engine.Start(
		Config{Continuous: true, Language: l.cfg.Language},
		Callbacks{
			OnResult: func(rs []Result) { l.onWakewordResult(gen, rs) },
			OnError:  func(err error) { l.onWakewordError(gen, err) },
			OnEnd:    func() { l.onWakewordEnd(gen) },
		},
	)
	if err != nil {
		l.mu.Lock()
		if l.gen == gen {
			l.mode = ModeIdle
			l.listening = false
		}
		l.mu.Unlock()
		return err
	}
	l.adoptSession(gen, sess)
	l.log.Debug().Msg("Wakeword listener started")
	return nil
}

func (l *Listener) onWakewordResult(gen int, results []Result) {
	l.mu.Lock()
	if l.gen != gen || l.mode != ModeWakeword {
		l.mu.Unlock()
		return
	}
	matched := false
	for _, r := range results {
		if !r.Final {
			continue
		}
		text := strings.ToLower(strings.TrimSpace(r.Transcript))
		if includesAny(text, l.wakePhrases) {
			matched = true
			break
		}
	}
	l.mu.Unlock()

	if matched {
		l.log.Info().Msg("Wakeword detected")
		if err := l.StartDictation(); err != nil {
			l.warn("could not start dictation: " + err.Error())
		}
	}
}

func (l *Listener) onWakewordError(gen int, err error) {
	if IsTransient(err) {
		l.log.Debug().Err(err).Msg("Transient wakeword error")
		return
	}

	l.mu.Lock()
	stale := l.gen != gen
	l.mu.Unlock()
	if stale {
		return
	}

	// Non-fatal for the mode: surface a warning, keep listening.
	l.log.Warn().Err(err).Msg("Wakeword recognition error")
	l.warn("wakeword recognition error: " + err.Error())
}

func (l *Listener) onWakewordEnd(gen int) {
	l.mu.Lock()
	restart := l.gen == gen && l.mode == ModeWakeword && l.listening
	l.mu.Unlock()

	// Engines stop themselves after a period of silence; keep the
	// wakeword listener running until a deliberate stop.
	if restart {
		l.log.Debug().Msg("Wakeword pass ended, restarting")
		if err := l.startWakewordSession(); err != nil {
			l.warn("wakeword restart failed: " + err.Error())
		}
	}
}

// ─── Dictation mode ─────────────────────────────────────────────────

func (l *Listener) startDictationSession() error {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mode = ModeDictation
	l.recording = true
	l.mu.Unlock()

	sess, err := l.engine.Start(
		Config{Continuous: true, InterimResults: true, Language: l.cfg.Language},
		Callbacks{
			OnResult: func(rs []Result) { l.onDictationResult(gen, rs) },
			OnError:  func(err error) { l.onDictationError(gen, err) },
			OnEnd:    func() { l.onDictationEnd(gen) },
		},
	)
	if err != nil {
		// Fall back to waiting for the wakeword again.
		l.mu.Lock()
		if l.gen == gen {
			l.mode = ModeIdle
			l.recording = false
		}
		l.mu.Unlock()
		if werr := l.startWakewordSession(); werr != nil {
			l.log.Error().Err(werr).Msg("Wakeword fallback failed")
		}
		return err
	}
	l.adoptSession(gen, sess)
	l.log.Info().Msg("Dictation started")
	return nil
}

func (l *Listener) onDictationResult(gen int, results []Result) {
	l.mu.Lock()
	if l.gen != gen || l.mode != ModeDictation {
		l.mu.Unlock()
		return
	}

	var cmds []CommandKind
	interim := ""
	for _, r := range results {
		text := strings.TrimSpace(r.Transcript)
		if !r.Final {
			interim += r.Transcript
			continue
		}
		if kind, ok := matchCommand(l.grammar, text); ok {
			// Commands never reach the transcript buffer.
			cmds = append(cmds, kind)
			continue
		}
		if text != "" {
			l.buffer += text + " "
		}
	}
	if len(cmds) > 0 {
		// Don't preview interim fragments from a batch that carried a
		// command; they usually echo the command phrase.
		interim = ""
	}
	l.interim = interim
	live := strings.TrimSpace(l.buffer + l.interim)
	onTranscript := l.cfg.OnTranscript
	l.mu.Unlock()

	if onTranscript != nil {
		onTranscript(live)
	}
	for _, kind := range cmds {
		l.execute(kind)
	}
}

func (l *Listener) execute(kind CommandKind) {
	l.log.Info().Str("command", string(kind)).Msg("Voice command recognized")
	switch kind {
	case CmdNext:
		l.cfg.Actions.NextQuestion()
	case CmdPrevious:
		l.cfg.Actions.PreviousQuestion()
	case CmdSubmit:
		l.cfg.Actions.SubmitExam()
	case CmdRepeat:
		l.cfg.Actions.RepeatQuestion()
	case CmdStop:
		l.StopDictation()
	}
}

func (l *Listener) onDictationError(gen int, err error) {
	if IsTransient(err) {
		l.log.Debug().Err(err).Msg("Transient dictation error")
		return
	}

	l.mu.Lock()
	stale := l.gen != gen || l.mode != ModeDictation
	l.mu.Unlock()
	if stale {
		return
	}

	// Fatal engine error: warn and fall back to wakeword mode.
	l.log.Warn().Err(err).Msg("Dictation recognition error")
	l.warn("speech recognition error: " + err.Error())
	l.StopDictation()
}

func (l *Listener) onDictationEnd(gen int) {
	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		return
	}
	restart := l.mode == ModeDictation && l.recording
	l.mu.Unlock()

	if restart {
		// The engine gave up mid-recording; keep going.
		l.log.Debug().Msg("Dictation pass ended unexpectedly, restarting")
		if err := l.startDictationSession(); err != nil {
			l.warn("dictation restart failed: " + err.Error())
		}
		return
	}

	// Deliberate stop: hand the microphone back to the wakeword stage.
	if err := l.startWakewordSession(); err != nil {
		l.warn("wakeword restart failed: " + err.Error())
	}
}

// ─── Helpers ────────────────────────────────────────────────────────

// adoptSession records the session created for generation gen, unless a
// newer session superseded it in the meantime.
func (l *Listener) adoptSession(gen int, sess Session) {
	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		sess.Stop()
		return
	}
	l.session = sess
	l.mu.Unlock()
}

func (l *Listener) warn(msg string) {
	if l.cfg.OnWarning != nil {
		l.cfg.OnWarning(msg)
	}
}
