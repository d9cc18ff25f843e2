package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxiscribe/examclient/internal/api"
)

type fakeSource struct {
	mu        sync.Mutex
	req       api.AutosaveRequest
	suppress  bool
	snapshots int
}

func (s *fakeSource) Snapshot() (api.AutosaveRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots++
	if s.suppress {
		return api.AutosaveRequest{}, false
	}
	return s.req, true
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []api.AutosaveRequest
	err   error
}

func (s *fakeSaver) Autosave(ctx context.Context, req api.AutosaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, req)
	return nil
}

func (s *fakeSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func TestTriggerSavesFreshSnapshot(t *testing.T) {
	source := &fakeSource{req: api.AutosaveRequest{
		ExamID:  "exam-1",
		Answers: []api.AnswerRecord{{QuestionID: "1", SelectedOption: "A"}},
	}}
	saver := &fakeSaver{}
	p := NewPolicy(source, saver, time.Hour, zerolog.Nop())

	p.Trigger(context.Background())

	if saver.count() != 1 {
		t.Fatalf("saves = %d, want 1", saver.count())
	}
	if got := saver.saved[0].ExamID; got != "exam-1" {
		t.Errorf("saved exam id = %q", got)
	}
}

func TestTriggerSkipsWhenSuppressed(t *testing.T) {
	source := &fakeSource{suppress: true}
	saver := &fakeSaver{}
	p := NewPolicy(source, saver, time.Hour, zerolog.Nop())

	p.Trigger(context.Background())

	if saver.count() != 0 {
		t.Fatalf("saves = %d, want 0 while suppressed", saver.count())
	}
}

func TestPeriodicLoop(t *testing.T) {
	source := &fakeSource{req: api.AutosaveRequest{ExamID: "exam-1"}}
	saver := &fakeSaver{}
	p := NewPolicy(source, saver, 5*time.Millisecond, zerolog.Nop())

	p.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	p.Stop()

	n := saver.count()
	if n < 2 {
		t.Fatalf("saves = %d, want at least 2 over several intervals", n)
	}

	// No further saves after Stop.
	time.Sleep(20 * time.Millisecond)
	if saver.count() != n {
		t.Errorf("saves after Stop = %d, want %d", saver.count(), n)
	}
}

func TestSaveFailureIsSwallowed(t *testing.T) {
	source := &fakeSource{req: api.AutosaveRequest{ExamID: "exam-1"}}
	saver := &fakeSaver{err: errors.New("server unreachable")}
	p := NewPolicy(source, saver, time.Hour, zerolog.Nop())

	// Must not panic or retry; the next trigger simply tries again.
	p.Trigger(context.Background())
	saver.mu.Lock()
	saver.err = nil
	saver.mu.Unlock()
	p.Trigger(context.Background())

	if saver.count() != 1 {
		t.Fatalf("saves = %d, want 1 after recovery", saver.count())
	}
}

func TestStopBeforeStartIsSafe(t *testing.T) {
	p := NewPolicy(&fakeSource{}, &fakeSaver{}, time.Hour, zerolog.Nop())
	p.Stop()
}
