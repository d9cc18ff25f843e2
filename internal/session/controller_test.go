package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxiscribe/examclient/internal/api"
	"github.com/voxiscribe/examclient/internal/config"
	"github.com/voxiscribe/examclient/internal/model"
	"github.com/voxiscribe/examclient/internal/proctoring"
	"github.com/voxiscribe/examclient/internal/validator"
	"github.com/voxiscribe/examclient/internal/voice"
	"github.com/voxiscribe/examclient/internal/voice/mock"
)

func TestMain(m *testing.M) {
	validator.Setup()
	os.Exit(m.Run())
}

const examDoc = `{
	"id": 9,
	"title": "Chemistry Final",
	"duration": 30,
	"questions": [
		{"id": 1, "question_type": "MCQ", "question_text": "Symbol for gold?",
		 "options": {"A": "Au", "B": "Ag", "C": "Gd"}},
		{"id": 2, "question_type": "TEXT", "question_text": "Define an isotope."}
	]
}`

// ─── Fakes ──────────────────────────────────────────────────────────

// examServer is a minimal in-memory exam server for controller tests.
type examServer struct {
	mu         sync.Mutex
	autosaves  []api.AutosaveRequest
	submits    int
	failSubmit bool
	events     []string
	// eventGate, when set, blocks the event handler until closed.
	eventGate chan struct{}
}

func (s *examServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/autosave", func(w http.ResponseWriter, r *http.Request) {
		var req api.AutosaveRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.autosaves = append(s.autosaves, req)
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/submit_exam/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.submits++
		fail := s.failSubmit
		examID := strings.TrimPrefix(r.URL.Path, "/submit_exam/")
		s.mu.Unlock()
		if fail {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "session expired"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"redirect": "/exam/" + examID + "/complete",
		})
	})
	mux.HandleFunc("/proctoring/chunk", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/api/proctoring/event", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		gate := s.eventGate
		s.mu.Unlock()
		if gate != nil {
			<-gate
		}
		var ev struct {
			EventType string `json:"event_type"`
		}
		_ = json.NewDecoder(r.Body).Decode(&ev)
		s.mu.Lock()
		s.events = append(s.events, ev.EventType)
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	return mux
}

func (s *examServer) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

func (s *examServer) lastAutosave() (api.AutosaveRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.autosaves) == 0 {
		return api.AutosaveRequest{}, false
	}
	return s.autosaves[len(s.autosaves)-1], true
}

func (s *examServer) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// fakeUI records every controller-driven surface change.
type fakeUI struct {
	mu        sync.Mutex
	renders   []QuestionView
	warnings  []string
	blocks    []string
	redirects []string
	ticks     int
}

func (u *fakeUI) RenderQuestion(v QuestionView) {
	u.mu.Lock()
	u.renders = append(u.renders, v)
	u.mu.Unlock()
}

func (u *fakeUI) ShowTimer(time.Duration) {
	u.mu.Lock()
	u.ticks++
	u.mu.Unlock()
}

func (u *fakeUI) ShowWarning(msg string) {
	u.mu.Lock()
	u.warnings = append(u.warnings, msg)
	u.mu.Unlock()
}

func (u *fakeUI) Block(msg string) {
	u.mu.Lock()
	u.blocks = append(u.blocks, msg)
	u.mu.Unlock()
}

func (u *fakeUI) Redirect(target string) {
	u.mu.Lock()
	u.redirects = append(u.redirects, target)
	u.mu.Unlock()
}

func (u *fakeUI) lastRender() (QuestionView, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.renders) == 0 {
		return QuestionView{}, false
	}
	return u.renders[len(u.renders)-1], true
}

func (u *fakeUI) blocked() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.blocks))
	copy(out, u.blocks)
	return out
}

func (u *fakeUI) redirected() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.redirects))
	copy(out, u.redirects)
	return out
}

// fakeMediaSource implements proctoring.Source with an idle stream.
type fakeMediaSource struct {
	deny bool
}

func (s *fakeMediaSource) Acquire(ctx context.Context, c proctoring.Constraints) (proctoring.Stream, error) {
	if s.deny {
		return nil, proctoring.ErrPermissionDenied
	}
	return &idleStream{ch: make(chan []byte)}, nil
}

type idleStream struct {
	ch   chan []byte
	once sync.Once
}

func (s *idleStream) Chunks(time.Duration) <-chan []byte { return s.ch }
func (s *idleStream) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

// ─── Fixture ────────────────────────────────────────────────────────

type fixture struct {
	controller *Controller
	ui         *fakeUI
	engine     *mock.Engine
	server     *examServer
	ts         *httptest.Server
}

func newControllerFixture(t *testing.T, mutate func(*config.Config, *fakeMediaSource)) *fixture {
	t.Helper()

	server := &examServer{}
	ts := httptest.NewServer(server.handler())
	t.Cleanup(ts.Close)

	cfg := &config.Config{
		ServerURL:        ts.URL,
		RequestTimeout:   5 * time.Second,
		AutosaveInterval: time.Hour,
		ChunkInterval:    time.Hour,
		Language:         "en-US",
	}
	source := &fakeMediaSource{}
	if mutate != nil {
		mutate(cfg, source)
	}

	ui := &fakeUI{}
	engine := mock.NewEngine()
	client := api.NewClient(cfg, zerolog.Nop())
	c := New(cfg, client, engine, source, ui, voice.NopSynthesizer{}, zerolog.Nop())
	t.Cleanup(c.Dispose)

	return &fixture{controller: c, ui: ui, engine: engine, server: server, ts: ts}
}

func (f *fixture) load(t *testing.T) {
	t.Helper()
	if err := f.controller.Load(context.Background(), []byte(examDoc)); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestLoadRendersFirstQuestion(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	view, ok := f.ui.lastRender()
	if !ok {
		t.Fatal("nothing rendered")
	}
	if view.Index != 0 || view.Total != 2 {
		t.Errorf("view = %d/%d, want 0/2", view.Index, view.Total)
	}
	if view.Question.Type != model.QuestionMultipleChoice {
		t.Errorf("question type = %q", view.Question.Type)
	}
	if len(view.Statuses) != 2 {
		t.Errorf("statuses = %d, want 2", len(view.Statuses))
	}
}

func TestMalformedDataBlocksUI(t *testing.T) {
	f := newControllerFixture(t, nil)

	err := f.controller.Load(context.Background(), []byte(`{"id": 9`))
	if !errors.Is(err, model.ErrMalformedSession) {
		t.Fatalf("err = %v, want ErrMalformedSession", err)
	}
	blocks := f.ui.blocked()
	if len(blocks) != 1 {
		t.Fatalf("blocks = %v, want one message", blocks)
	}
	if len(f.ui.renders) != 0 {
		t.Error("partial exam UI rendered after fatal parse error")
	}
}

func TestNavigationPreservesAnswer(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	if err := f.controller.SetDraftOption("a"); err != nil {
		t.Fatalf("SetDraftOption: %v", err)
	}
	f.controller.Next()
	f.controller.Previous()

	view, _ := f.ui.lastRender()
	if view.Index != 0 {
		t.Fatalf("index = %d, want 0", view.Index)
	}
	if view.Answer.SelectedOption != "A" {
		t.Errorf("redisplayed option = %q, want %q (normalized)", view.Answer.SelectedOption, "A")
	}
	if view.Statuses[0] != model.StatusAnswered {
		t.Errorf("status = %q, want %q", view.Statuses[0], model.StatusAnswered)
	}
}

func TestGoToClampsOutOfRange(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	f.controller.GoTo(99)
	view, _ := f.ui.lastRender()
	if view.Index != 1 {
		t.Fatalf("index = %d, want clamp to 1", view.Index)
	}

	f.controller.GoTo(-5)
	view, _ = f.ui.lastRender()
	if view.Index != 0 {
		t.Fatalf("index = %d, want clamp to 0", view.Index)
	}
}

func TestSetDraftOptionRejectsUnknownKey(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	if err := f.controller.SetDraftOption("Z"); err == nil {
		t.Fatal("unknown option accepted")
	}
	f.controller.GoTo(1)
	if err := f.controller.SetDraftOption("A"); err == nil {
		t.Fatal("option accepted on a free text question")
	}
}

func TestToggleMarkForReviewIsIdempotentPair(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	f.controller.ToggleMarkForReview()
	view, _ := f.ui.lastRender()
	if !view.Marked || view.Statuses[0] != model.StatusReview {
		t.Fatalf("after toggle: marked=%v status=%q", view.Marked, view.Statuses[0])
	}

	f.controller.ToggleMarkForReview()
	view, _ = f.ui.lastRender()
	if view.Marked || view.Statuses[0] != model.StatusUnanswered {
		t.Fatalf("after second toggle: marked=%v status=%q", view.Marked, view.Statuses[0])
	}
}

func TestSnapshotCollectsCurrentDraft(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	f.controller.GoTo(1)
	f.controller.SetDraftText("an atom variant with different neutron count")

	req, ok := f.controller.Snapshot()
	if !ok {
		t.Fatal("snapshot suppressed unexpectedly")
	}
	if req.ExamID != "9" {
		t.Errorf("exam id = %q, want 9", req.ExamID)
	}
	var found bool
	for _, rec := range req.Answers {
		if rec.QuestionID == "2" && rec.AnswerText != "" {
			found = true
		}
	}
	if !found {
		t.Errorf("draft text missing from snapshot: %+v", req.Answers)
	}
}

func TestSubmitHappensAtMostOnce(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	if err := f.controller.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.controller.Submit(context.Background()); err != nil {
		t.Fatalf("duplicate Submit: %v", err)
	}

	if n := f.server.submitCount(); n != 1 {
		t.Fatalf("server received %d submissions, want 1", n)
	}
	if !f.controller.Submitted() {
		t.Error("Submitted() = false after success")
	}
	redirects := f.ui.redirected()
	if len(redirects) != 1 || redirects[0] != "/exam/9/complete" {
		t.Errorf("redirects = %v", redirects)
	}

	// Final flush reached the server before the submission.
	if _, ok := f.server.lastAutosave(); !ok {
		t.Error("no final autosave flush before submission")
	}
}

func TestFailedSubmitAllowsRetry(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	f.server.mu.Lock()
	f.server.failSubmit = true
	f.server.mu.Unlock()

	if err := f.controller.Submit(context.Background()); err == nil {
		t.Fatal("Submit succeeded against rejecting server")
	}
	if f.controller.Submitted() {
		t.Fatal("Submitted() = true after failure")
	}
	if len(f.ui.warnings) == 0 {
		t.Error("failed submission produced no warning")
	}

	f.server.mu.Lock()
	f.server.failSubmit = false
	f.server.mu.Unlock()

	if err := f.controller.Submit(context.Background()); err != nil {
		t.Fatalf("retry Submit: %v", err)
	}
	if n := f.server.submitCount(); n != 2 {
		t.Errorf("server received %d submissions, want 2", n)
	}
}

func TestAutosaveSuppressedAfterSubmission(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	if _, ok := f.controller.Snapshot(); !ok {
		t.Fatal("snapshot suppressed before submission")
	}
	if err := f.controller.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok := f.controller.Snapshot(); ok {
		t.Fatal("snapshot not suppressed after submission")
	}
}

func TestExpiryForcesSubmission(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	f.controller.handleExpiry()

	if n := f.server.submitCount(); n != 1 {
		t.Fatalf("server received %d submissions, want 1", n)
	}
	if !f.controller.Submitted() {
		t.Error("Submitted() = false after expiry")
	}
}

func TestProctoringDeniedAbortsMandatorySession(t *testing.T) {
	f := newControllerFixture(t, func(cfg *config.Config, src *fakeMediaSource) {
		cfg.ProctoringRequired = true
		src.deny = true
	})

	err := f.controller.Load(context.Background(), []byte(examDoc))
	if !errors.Is(err, proctoring.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	blocks := f.ui.blocked()
	if len(blocks) != 1 || !strings.Contains(blocks[0], "Webcam access") {
		t.Errorf("blocks = %v", blocks)
	}
	if len(f.ui.renders) != 0 {
		t.Error("exam rendered despite denied proctoring")
	}
}

func TestVoiceCommandNavigatesAndReportsTelemetry(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	wake := f.engine.Active()
	if wake == nil {
		t.Fatal("wakeword listener not started on load")
	}
	wake.EmitFinal("start answering")
	if got := f.controller.VoiceMode(); got != voice.ModeDictation {
		t.Fatalf("voice mode = %q, want dictation", got)
	}

	f.engine.Active().EmitFinal("next question")

	view, _ := f.ui.lastRender()
	if view.Index != 1 {
		t.Fatalf("index after voice command = %d, want 1", view.Index)
	}
	// Navigation cancels dictation; the listener is back on the wakeword.
	if got := f.controller.VoiceMode(); got != voice.ModeWakeword {
		t.Errorf("voice mode after navigation = %q, want wakeword", got)
	}

	// Telemetry is delivered asynchronously; wait for it to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var reported bool
		for _, ev := range f.server.eventTypes() {
			if ev == "voice_command" {
				reported = true
			}
		}
		if reported {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("voice_command telemetry missing, events = %v", f.server.eventTypes())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestVoiceCommandNotBlockedBySlowTelemetry(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	gate := make(chan struct{})
	f.server.mu.Lock()
	f.server.eventGate = gate
	f.server.mu.Unlock()
	defer close(gate)

	f.engine.Active().EmitFinal("start answering")
	f.engine.Active().EmitFinal("next question")

	// The telemetry request is still parked on the gate; navigation must
	// have completed regardless.
	view, _ := f.ui.lastRender()
	if view.Index != 1 {
		t.Fatalf("index = %d, want 1 (navigation waited on telemetry)", view.Index)
	}
}

func TestDictationStreamsIntoAnswerField(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	f.controller.GoTo(1) // Free text question.
	f.engine.Active().EmitFinal("start answering")
	dict := f.engine.Active()
	dict.EmitFinal("same protons")
	dict.EmitInterim("different neut")

	req, ok := f.controller.Snapshot()
	if !ok {
		t.Fatal("snapshot suppressed")
	}
	for _, rec := range req.Answers {
		if rec.QuestionID == "2" {
			// Interim text is included in the live draft by design; the
			// buffer-only commit happens when dictation advances.
			if !strings.HasPrefix(rec.AnswerText, "same protons") {
				t.Fatalf("answer text = %q", rec.AnswerText)
			}
			return
		}
	}
	t.Fatal("question 2 missing from snapshot")
}

func TestDisposeIsIdempotent(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.load(t)

	f.controller.Dispose()
	f.controller.Dispose()

	if n := f.engine.ActiveCount(); n != 0 {
		t.Errorf("voice sessions still active after Dispose: %d", n)
	}
}
