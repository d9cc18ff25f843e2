// Package proctoring captures a media stream and uploads it in fixed
// interval chunks with strictly increasing sequence numbers. Upload is
// best effort: a failed chunk is reported via a telemetry event and
// dropped, never queued for retry — for a real-time proctoring feed a
// late chunk is nearly as useless as a missing one, and dropping bounds
// memory use.
package proctoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxiscribe/examclient/internal/api"
)

// ErrPermissionDenied is returned when the user refuses the capture
// devices. For proctoring-mandatory sessions this is fatal: the caller
// must abort the exam instead of continuing unmonitored.
var ErrPermissionDenied = errors.New("media capture permission denied")

// Constraints select the device classes to acquire.
type Constraints struct {
	Video  bool
	Audio  bool
	Screen bool
}

// Stream is an acquired media stream, consumed as a black box.
type Stream interface {
	// Chunks starts the recorder and returns the channel of encoded
	// media segments, one per interval. The channel is closed when the
	// stream is closed.
	Chunks(interval time.Duration) <-chan []byte

	// Close stops the recorder and releases every acquired track
	// (camera, microphone, screen) unconditionally — tracks must be
	// released even if the recorder never reached the recording state.
	Close() error
}

// Source acquires media streams, e.g. a device capture backend.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Uploader delivers chunks and telemetry events to the exam server.
// *api.Client satisfies this.
type Uploader interface {
	UploadChunk(ctx context.Context, chunk api.Chunk) error
	Event(ctx context.Context, eventType string, detail any)
}

// Service runs the capture/upload pipeline for one exam session.
type Service struct {
	source   Source
	uploader Uploader
	log      zerolog.Logger

	mu      sync.Mutex
	stream  Stream
	cancel  context.CancelFunc
	running bool
	seq     int
	done    chan struct{}
}

// NewService creates a stopped Service.
func NewService(source Source, uploader Uploader, log zerolog.Logger) *Service {
	return &Service{
		source:   source,
		uploader: uploader,
		log:      log.With().Str("component", "proctoring").Logger(),
	}
}

// Start acquires the media stream and begins chunked upload. Sequence
// numbers start at 0 and increase by one per emitted chunk, with the
// first chunk carrying the is-first marker. Returns ErrPermissionDenied
// (wrapped) when the user declines capture.
func (s *Service) Start(ctx context.Context, examID string, interval time.Duration, constraints Constraints) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("proctoring capture already running")
	}
	s.mu.Unlock()

	stream, err := s.source.Acquire(ctx, constraints)
	if err != nil {
		return fmt.Errorf("acquire media stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.stream = stream
	s.cancel = cancel
	s.running = true
	s.seq = 0
	s.done = done
	s.mu.Unlock()

	s.log.Info().Str("exam_id", examID).Dur("interval", interval).Msg("Capture started")
	go s.uploadLoop(ctx, examID, stream.Chunks(interval), done)
	return nil
}

func (s *Service) uploadLoop(ctx context.Context, examID string, chunks <-chan []byte, done chan struct{}) {
	defer close(done)

	for payload := range chunks {
		s.mu.Lock()
		seq := s.seq
		s.seq++
		s.mu.Unlock()

		chunk := api.Chunk{
			ExamID:   examID,
			Sequence: seq,
			First:    seq == 0,
			Payload:  payload,
		}
		if err := s.uploader.UploadChunk(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Drop the chunk and keep capturing; the resulting gap is
			// visible to the server through the sequence numbers.
			s.log.Warn().Err(err).Int("sequence", seq).Msg("Chunk upload failed, dropping")
			s.uploader.Event(ctx, "chunk_upload_failed", map[string]any{
				"exam_id":  examID,
				"sequence": seq,
			})
		}
	}
}

// Sequence returns the next sequence number to be assigned. Equals the
// number of chunks emitted so far.
func (s *Service) Sequence() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Stop halts the recorder and releases all media tracks unconditionally.
// Safe to call multiple times and when capture never started.
func (s *Service) Stop() {
	s.mu.Lock()
	stream := s.stream
	cancel := s.cancel
	done := s.done
	s.stream = nil
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Stream close error")
		}
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if stream != nil {
		s.log.Info().Msg("Capture stopped, tracks released")
	}
}
