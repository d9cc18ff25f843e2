// Package session owns the exam-taking state and wires the timer,
// autosave, voice and proctoring subsystems together. The Controller is
// the single writer of session state: subsystems only emit events and
// commands into it, never mutate it directly.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxiscribe/examclient/internal/api"
	"github.com/voxiscribe/examclient/internal/autosave"
	"github.com/voxiscribe/examclient/internal/config"
	"github.com/voxiscribe/examclient/internal/model"
	"github.com/voxiscribe/examclient/internal/proctoring"
	"github.com/voxiscribe/examclient/internal/timer"
	"github.com/voxiscribe/examclient/internal/voice"
)

// UI is the rendering surface the controller drives. Implementations
// must return quickly; they are called from subsystem callbacks.
type UI interface {
	RenderQuestion(v QuestionView)
	ShowTimer(remaining time.Duration)
	ShowWarning(msg string)
	// Block replaces the whole surface with a fatal message. No partial
	// exam UI may remain visible afterwards.
	Block(msg string)
	// Redirect navigates away after a successful submission.
	Redirect(target string)
}

// QuestionView is everything the UI needs to render one question plus
// the progress panel.
type QuestionView struct {
	Index    int
	Total    int
	Question model.Question
	// Answer is the pending draft for the question, pre-populated from
	// the stored answer so navigation redisplays prior input.
	Answer   model.Answer
	Marked   bool
	Statuses []model.QuestionStatus
}

// submissionState separates "submission attempted" from "submission
// succeeded": a failed attempt resets to idle so the user can retry,
// while in-flight and done both make further Submit calls no-ops.
type submissionState int

const (
	submitIdle submissionState = iota
	submitInFlight
	submitDone
)

// Controller orchestrates one exam attempt.
type Controller struct {
	cfg    *config.Config
	client *api.Client
	ui     UI
	synth  voice.Synthesizer
	log    zerolog.Logger

	clock   *timer.Timer
	policy  *autosave.Policy
	voice   *voice.Listener
	capture *proctoring.Service

	mu         sync.Mutex
	sess       *model.ExamSession
	draft      model.Answer
	submission submissionState
	ctx        context.Context
	cancel     context.CancelFunc
	disposed   bool
}

// New creates a Controller and its owned subsystems. Nothing runs until
// Load succeeds.
func New(cfg *config.Config, client *api.Client, engine voice.Engine, source proctoring.Source, ui UI, synth voice.Synthesizer, log zerolog.Logger) *Controller {
	c := &Controller{
		cfg:    cfg,
		client: client,
		ui:     ui,
		synth:  synth,
		log:    log.With().Str("component", "session").Logger(),
	}
	c.clock = timer.New(log)
	c.policy = autosave.NewPolicy(c, client, cfg.AutosaveInterval, log)
	c.voice = voice.NewListener(engine, voice.ListenerConfig{
		Language:     cfg.Language,
		Actions:      voiceActions{c},
		OnTranscript: c.SetDraftText,
		OnWarning:    ui.ShowWarning,
	}, log)
	c.capture = proctoring.NewService(source, client, log)
	return c
}

// Load parses and validates the injected exam data, then brings the
// session up: proctoring capture first (denied permission aborts the
// exam when proctoring is mandatory), countdown, autosave loop, wakeword
// listener, and finally the first question.
func (c *Controller) Load(ctx context.Context, raw []byte) error {
	sess, err := model.ParseSession(raw)
	if err != nil {
		c.ui.Block("Exam data is corrupted or missing. Please contact your teacher.")
		return err
	}

	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.sess = sess
	c.ctx = ctx
	c.cancel = cancel
	c.draft = sess.Answers[sess.Current().ID]
	c.mu.Unlock()

	if c.cfg.ProctoringRequired {
		err := c.capture.Start(ctx, sess.ID, c.cfg.ChunkInterval, proctoring.Constraints{Video: true, Audio: true})
		if err != nil {
			cancel()
			if errors.Is(err, proctoring.ErrPermissionDenied) {
				c.ui.Block("Webcam access is required for this exam.")
			} else {
				c.ui.Block("Proctoring could not be started.")
			}
			return err
		}
	}

	c.clock.Start(ctx, sess.Duration, c.handleTick, c.handleExpiry)
	c.policy.Start(ctx)
	if err := c.voice.StartWakeword(); err != nil {
		// Voice control is an enhancement; the exam works without it.
		c.log.Warn().Err(err).Msg("Voice control unavailable")
		c.ui.ShowWarning("voice control unavailable: " + err.Error())
	}

	c.log.Info().
		Str("exam_id", sess.ID).
		Int("questions", len(sess.Questions)).
		Dur("duration", sess.Duration).
		Msg("Session loaded")

	c.renderCurrent(true)
	return nil
}

// ─── Drafting ───────────────────────────────────────────────────────

// SetDraftOption records a selected option for the current multiple
// choice question. The option key must exist in the question.
func (c *Controller) SetDraftOption(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return errors.New("no active session")
	}
	q := c.sess.Current()
	if q.Type != model.QuestionMultipleChoice {
		return errors.New("current question has no options")
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	if _, ok := q.Options[key]; !ok {
		return fmt.Errorf("unknown option %q", key)
	}
	c.draft.SelectedOption = key
	return nil
}

// SetDraftText records free text input for the current question. The
// dictation listener streams its live transcript through here, making
// dictation WYSIWYG.
func (c *Controller) SetDraftText(text string) {
	c.mu.Lock()
	if c.sess != nil {
		c.draft.AnswerText = text
	}
	c.mu.Unlock()
}

// collectLocked commits the draft into the answers map. This is the only
// write path into answers and MUST run before any operation that changes
// the current index or triggers submission: no answer edit is ever lost
// to navigation.
func (c *Controller) collectLocked() {
	q := c.sess.Current()
	a := c.sess.Answers[q.ID]
	if q.Type == model.QuestionMultipleChoice {
		a.SelectedOption = strings.ToUpper(strings.TrimSpace(c.draft.SelectedOption))
	} else {
		a.AnswerText = c.draft.AnswerText
	}
	c.sess.Answers[q.ID] = a
}

// ─── Navigation ─────────────────────────────────────────────────────

// Next moves to the following question. No-op at the last question.
func (c *Controller) Next() {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	target := c.sess.CurrentIndex + 1
	c.mu.Unlock()
	c.GoTo(target)
}

// Previous moves to the preceding question. No-op at the first question.
func (c *Controller) Previous() {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	target := c.sess.CurrentIndex - 1
	c.mu.Unlock()
	c.GoTo(target)
}

// GoTo jumps to the question at index, clamped to bounds. The current
// answer is collected first and any in-flight dictation for the old
// question is cancelled.
func (c *Controller) GoTo(index int) {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	c.collectLocked()
	c.mu.Unlock()

	c.voice.StopDictation()

	c.mu.Lock()
	if index < 0 {
		index = 0
	}
	if max := len(c.sess.Questions) - 1; index > max {
		index = max
	}
	changed := index != c.sess.CurrentIndex
	if changed {
		c.sess.CurrentIndex = index
		c.draft = c.sess.Answers[c.sess.Current().ID]
	}
	c.mu.Unlock()

	if changed {
		c.renderCurrent(true)
	}
}

// ToggleMarkForReview flips the review flag of the current question.
// Toggling twice restores the original state.
func (c *Controller) ToggleMarkForReview() {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	q := c.sess.Current()
	if c.sess.Marked[q.ID] {
		delete(c.sess.Marked, q.ID)
	} else {
		c.sess.Marked[q.ID] = true
	}
	c.mu.Unlock()
	c.renderCurrent(false)
}

// RepeatQuestion reads the current question aloud again, replacing any
// utterance in progress.
func (c *Controller) RepeatQuestion() {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	idx := c.sess.CurrentIndex
	text := c.sess.Current().Text
	c.mu.Unlock()
	c.synth.Speak(fmt.Sprintf("Question %d. %s", idx+1, text))
}

// StartDictation enters dictation mode directly, e.g. from a UI button.
func (c *Controller) StartDictation() error {
	return c.voice.StartDictation()
}

// StopDictation deliberately ends dictation, e.g. from a UI button.
func (c *Controller) StopDictation() {
	c.voice.StopDictation()
}

// VoiceMode exposes the current listening mode for UI affordances.
func (c *Controller) VoiceMode() voice.Mode {
	return c.voice.Mode()
}

// ─── Autosave ───────────────────────────────────────────────────────

// Snapshot implements autosave.Source. It collects the current answer
// and returns an independent copy of all answers in wire format.
// Suppressed once a submission is in flight or done, so a slow periodic
// save can never race the submission endpoint.
func (c *Controller) Snapshot() (api.AutosaveRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.submission != submitIdle {
		return api.AutosaveRequest{}, false
	}
	c.collectLocked()
	return c.snapshotLocked(), true
}

// snapshotLocked serializes the answers map into the flat wire list, in
// question order for determinism.
func (c *Controller) snapshotLocked() api.AutosaveRequest {
	answers := c.sess.CloneAnswers()
	records := make([]api.AnswerRecord, 0, len(answers))
	for _, q := range c.sess.Questions {
		a, ok := answers[q.ID]
		if !ok {
			continue
		}
		records = append(records, api.AnswerRecord{
			QuestionID:     q.ID,
			AnswerText:     a.AnswerText,
			SelectedOption: a.SelectedOption,
		})
	}
	return api.AutosaveRequest{ExamID: c.sess.ID, Answers: records}
}

// ─── Submission ─────────────────────────────────────────────────────

// Submit finalizes the exam. It executes at most once per session for
// successful or in-flight submissions, regardless of trigger (manual,
// timer expiry, voice command); a failed attempt resets the guard so the
// user can retry. Duplicate triggers return nil without side effects.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return errors.New("no active session")
	}
	if c.submission != submitIdle {
		c.mu.Unlock()
		c.log.Debug().Msg("Duplicate submit ignored")
		return nil
	}
	c.submission = submitInFlight
	c.collectLocked()
	req := c.snapshotLocked()
	examID := c.sess.ID
	c.mu.Unlock()

	c.log.Info().Str("exam_id", examID).Msg("Submitting exam")

	// Final flush, then release the microphone and camera before the
	// submission call.
	c.policy.Save(ctx, req)
	c.capture.Stop()
	c.voice.Stop()

	redirect, err := c.client.Submit(ctx, examID)
	if err != nil {
		c.mu.Lock()
		c.submission = submitIdle
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("Submission failed")
		c.ui.ShowWarning("submission failed, please retry: " + err.Error())
		return err
	}

	c.mu.Lock()
	c.submission = submitDone
	c.mu.Unlock()

	c.log.Info().Str("redirect", redirect).Msg("Exam submitted")
	c.synth.Speak("Exam submitted successfully")
	c.ui.Redirect(redirect)
	c.Dispose()
	return nil
}

// Submitted reports whether the session was successfully submitted.
func (c *Controller) Submitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submission == submitDone
}

// ─── Timer callbacks ────────────────────────────────────────────────

func (c *Controller) handleTick(remaining time.Duration) {
	c.ui.ShowTimer(remaining)
}

// handleExpiry forces submission when the countdown reaches zero. The
// guard in Submit makes a concurrent manual click harmless.
func (c *Controller) handleExpiry() {
	c.log.Info().Msg("Time is up, forcing submission")
	if err := c.Submit(c.lifecycleCtx()); err != nil {
		c.log.Error().Err(err).Msg("Forced submission failed")
	}
}

// ─── Rendering ──────────────────────────────────────────────────────

// renderCurrent pushes the current question to the UI and, when speak is
// set, reads it aloud (replacing any utterance in progress).
func (c *Controller) renderCurrent(speak bool) {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	q := c.sess.Current()
	view := QuestionView{
		Index:    c.sess.CurrentIndex,
		Total:    len(c.sess.Questions),
		Question: q,
		Answer:   c.draft,
		Marked:   c.sess.Marked[q.ID],
		Statuses: c.sess.Statuses(),
	}
	c.mu.Unlock()

	c.ui.RenderQuestion(view)
	if speak {
		c.synth.Speak(fmt.Sprintf("Question %d. %s", view.Index+1, q.Text))
	}
}

// Statuses returns the progress-panel projection.
func (c *Controller) Statuses() []model.QuestionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.Statuses()
}

// ─── Lifecycle ──────────────────────────────────────────────────────

// Dispose tears the session down: countdown, autosave loop, voice
// listener and media capture all stop, and media tracks are released.
// Safe to call multiple times.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	cancel := c.cancel
	c.mu.Unlock()

	c.clock.Stop()
	c.policy.Stop()
	c.voice.Stop()
	c.capture.Stop()
	c.synth.Stop()
	if cancel != nil {
		cancel()
	}
	c.log.Info().Msg("Session disposed")
}

func (c *Controller) lifecycleCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

// ─── Voice command wiring ───────────────────────────────────────────

// voiceActions adapts recognized commands onto controller operations and
// reports each executed command as a proctoring telemetry event.
type voiceActions struct {
	c *Controller
}

func (a voiceActions) NextQuestion() {
	a.emit("next")
	a.c.Next()
}

func (a voiceActions) PreviousQuestion() {
	a.emit("previous")
	a.c.Previous()
}

func (a voiceActions) SubmitExam() {
	a.emit("submit")
	if err := a.c.Submit(a.c.lifecycleCtx()); err != nil {
		a.c.log.Error().Err(err).Msg("Voice-triggered submission failed")
	}
}

func (a voiceActions) RepeatQuestion() {
	a.emit("repeat")
	a.c.RepeatQuestion()
}

func (a voiceActions) emit(command string) {
	// Telemetry is best effort and must never delay the command itself.
	go a.c.client.Event(a.c.lifecycleCtx(), "voice_command", map[string]any{
		"command": command,
	})
}
