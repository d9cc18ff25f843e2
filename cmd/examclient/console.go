package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voxiscribe/examclient/internal/proctoring"
	"github.com/voxiscribe/examclient/internal/session"
	"github.com/voxiscribe/examclient/internal/voice"
)

// ─── Console UI ─────────────────────────────────────────────────────

// consoleUI renders the session to stdout. It is the development
// stand-in for a real rendering surface.
type consoleUI struct {
	mu sync.Mutex
}

func (u *consoleUI) RenderQuestion(v session.QuestionView) {
	u.mu.Lock()
	defer u.mu.Unlock()

	fmt.Printf("\n── Question %d of %d", v.Index+1, v.Total)
	if v.Marked {
		fmt.Print("  [marked for review]")
	}
	fmt.Printf("\n%s\n", v.Question.Text)

	if len(v.Question.Options) > 0 {
		keys := make([]string, 0, len(v.Question.Options))
		for k := range v.Question.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			marker := " "
			if k == v.Answer.SelectedOption {
				marker = "*"
			}
			fmt.Printf("  [%s] %s. %s\n", marker, k, v.Question.Options[k])
		}
	} else if v.Answer.AnswerText != "" {
		fmt.Printf("  answer: %s\n", v.Answer.AnswerText)
	}

	parts := make([]string, len(v.Statuses))
	for i, st := range v.Statuses {
		parts[i] = fmt.Sprintf("%d:%s", i+1, st)
	}
	fmt.Printf("  progress: %s\n", strings.Join(parts, " "))
}

func (u *consoleUI) ShowTimer(remaining time.Duration) {
	// Printing every second would drown the prompt; announce the clock
	// on the minute and during the final countdown.
	secs := int(remaining.Round(time.Second).Seconds())
	if secs%60 == 0 || secs <= 10 {
		u.mu.Lock()
		fmt.Printf("  time left %02d:%02d\n", secs/60, secs%60)
		u.mu.Unlock()
	}
}

func (u *consoleUI) ShowWarning(msg string) {
	u.mu.Lock()
	fmt.Printf("  warning: %s\n", msg)
	u.mu.Unlock()
}

func (u *consoleUI) Block(msg string) {
	u.mu.Lock()
	fmt.Printf("\n%s\n", msg)
	u.mu.Unlock()
}

func (u *consoleUI) Redirect(target string) {
	u.mu.Lock()
	fmt.Printf("\nExam finished — continue at %s\n", target)
	u.mu.Unlock()
}

// ─── Console speech synthesis ───────────────────────────────────────

// consoleSynth prints utterances instead of speaking them. Each Speak
// replaces the previous utterance by contract; on a console that simply
// means the previous line already scrolled by.
type consoleSynth struct{}

func (consoleSynth) Speak(text string) { fmt.Printf("  (reads aloud) %s\n", text) }
func (consoleSynth) Stop()             {}

// ─── Console speech engine ──────────────────────────────────────────

// consoleEngine simulates the recognition engine: text entered with the
// `say` console command is delivered to the active session as a final
// result, so the whole wakeword → dictation → command pipeline can be
// exercised without a microphone.
type consoleEngine struct {
	mu sync.Mutex
	cb *voice.Callbacks
}

func (e *consoleEngine) Start(cfg voice.Config, cb voice.Callbacks) (voice.Session, error) {
	e.mu.Lock()
	e.cb = &cb
	e.mu.Unlock()
	return &consoleSession{engine: e, cb: &cb}, nil
}

// Say delivers text as a final recognition result to the active pass.
func (e *consoleEngine) Say(text string) {
	e.mu.Lock()
	cb := e.cb
	e.mu.Unlock()
	if cb != nil && cb.OnResult != nil {
		cb.OnResult([]voice.Result{{Transcript: text, Final: true}})
	}
}

type consoleSession struct {
	engine *consoleEngine
	cb     *voice.Callbacks

	mu      sync.Mutex
	stopped bool
}

func (s *consoleSession) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.engine.mu.Lock()
	if s.engine.cb == s.cb {
		s.engine.cb = nil
	}
	s.engine.mu.Unlock()

	if s.cb.OnEnd != nil {
		s.cb.OnEnd()
	}
}

// ─── Synthetic media source ─────────────────────────────────────────

// syntheticSource stands in for a camera: it emits pseudo-random payload
// chunks at the recorder interval. The deny flag simulates the user
// refusing the permission prompt.
type syntheticSource struct {
	deny bool
}

func (s *syntheticSource) Acquire(ctx context.Context, c proctoring.Constraints) (proctoring.Stream, error) {
	if s.deny {
		return nil, proctoring.ErrPermissionDenied
	}
	return newSyntheticStream(), nil
}

type syntheticStream struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func newSyntheticStream() *syntheticStream {
	return &syntheticStream{closed: make(chan struct{})}
}

func (s *syntheticStream) Chunks(interval time.Duration) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.closed:
				return
			case <-ticker.C:
				payload := make([]byte, 4096)
				_, _ = rand.Read(payload)
				select {
				case out <- payload:
				case <-s.closed:
					return
				}
			}
		}
	}()
	return out
}

func (s *syntheticStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
