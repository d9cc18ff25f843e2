package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/voxiscribe/examclient/internal/validator"
)

// ErrMalformedSession indicates the injected exam bootstrap data could not
// be parsed into a usable session. This is fatal: the UI must block with a
// message instead of rendering a partial exam.
var ErrMalformedSession = fmt.Errorf("malformed session data")

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "MCQ"
	QuestionFreeText       QuestionType = "TEXT"
)

// Question is immutable after load.
type Question struct {
	ID   string
	Type QuestionType
	Text string
	// Options maps option key → label. Present iff Type is MCQ.
	Options map[string]string
}

// Answer holds a student's response to a single question. Exactly one
// field is meaningful per question type; the other is ignored on submit.
type Answer struct {
	SelectedOption string `json:"selected_option"`
	AnswerText     string `json:"answer_text"`
}

// Filled reports whether the type-relevant field is non-empty.
func (a Answer) Filled(t QuestionType) bool {
	if t == QuestionMultipleChoice {
		return a.SelectedOption != ""
	}
	return strings.TrimSpace(a.AnswerText) != ""
}

// ExamSession is the in-memory state of one exam attempt. It is owned by
// the session controller, which is the single writer; subsystems only
// emit events and never mutate it directly.
type ExamSession struct {
	ID        string
	Title     string
	Duration  time.Duration
	Questions []Question
	// Answers is keyed by question ID and is updated only through the
	// controller's collect-current-answer step.
	Answers      map[string]Answer
	Marked       map[string]bool
	CurrentIndex int
}

// Current returns the question at CurrentIndex.
func (s *ExamSession) Current() Question {
	return s.Questions[s.CurrentIndex]
}

// CloneAnswers returns an independent copy of the answers map, so an
// in-flight autosave request is never mutated after being queued.
func (s *ExamSession) CloneAnswers() map[string]Answer {
	out := make(map[string]Answer, len(s.Answers))
	for id, a := range s.Answers {
		out[id] = a
	}
	return out
}

// QuestionStatus is the progress-panel state of one question.
type QuestionStatus string

const (
	StatusUnanswered QuestionStatus = "unanswered"
	StatusAnswered   QuestionStatus = "answered"
	StatusReview     QuestionStatus = "review"
)

// Statuses derives the progress-panel status for every question. It is a
// pure projection recomputed on each render, never stored.
func (s *ExamSession) Statuses() []QuestionStatus {
	out := make([]QuestionStatus, len(s.Questions))
	for i, q := range s.Questions {
		switch {
		case s.Marked[q.ID]:
			out[i] = StatusReview
		case s.Answers[q.ID].Filled(q.Type):
			out[i] = StatusAnswered
		default:
			out[i] = StatusUnanswered
		}
	}
	return out
}

// ─── Bootstrap parsing ──────────────────────────────────────────────

// bootstrapDoc mirrors the exam document injected at page load.
type bootstrapDoc struct {
	ID        json.Number         `json:"id" binding:"required"`
	Title     string              `json:"title" binding:"required"`
	Duration  int                 `json:"duration" binding:"required,min=1,max=480"`
	Questions []bootstrapQuestion `json:"questions" binding:"required,min=1,dive"`
	Answers   map[string]Answer   `json:"answers"`
}

type bootstrapQuestion struct {
	ID           json.Number       `json:"id" binding:"required"`
	QuestionType string            `json:"question_type" binding:"required"`
	QuestionText string            `json:"question_text" binding:"required"`
	Options      map[string]string `json:"options"`
}

// ParseSession validates raw bootstrap data into a strict typed session.
// Duration in the document is minutes; the session carries it as a
// time.Duration. Any parse or validation failure wraps
// ErrMalformedSession so callers can block the UI with a single check.
func ParseSession(raw []byte) (*ExamSession, error) {
	var doc bootstrapDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	if fields := validator.Struct(&doc); fields != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSession, fields)
	}

	questions := make([]Question, 0, len(doc.Questions))
	for i, bq := range doc.Questions {
		q := Question{
			ID:   bq.ID.String(),
			Type: QuestionFreeText,
			Text: bq.QuestionText,
		}
		if strings.EqualFold(bq.QuestionType, string(QuestionMultipleChoice)) {
			if len(bq.Options) == 0 {
				return nil, fmt.Errorf("%w: question %d has no options", ErrMalformedSession, i+1)
			}
			q.Type = QuestionMultipleChoice
			q.Options = bq.Options
		}
		questions = append(questions, q)
	}

	answers := make(map[string]Answer, len(questions))
	for id, a := range doc.Answers {
		a.SelectedOption = strings.ToUpper(strings.TrimSpace(a.SelectedOption))
		answers[id] = a
	}

	return &ExamSession{
		ID:        doc.ID.String(),
		Title:     doc.Title,
		Duration:  time.Duration(doc.Duration) * time.Minute,
		Questions: questions,
		Answers:   answers,
		Marked:    make(map[string]bool),
	}, nil
}
