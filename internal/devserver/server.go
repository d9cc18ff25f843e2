// Package devserver is an in-memory stand-in for the exam server's HTTP
// interface, used for local development and client tests. It implements
// only the surface the client consumes — autosave, submission, chunk
// upload and proctoring telemetry — and deliberately contains no grading,
// storage or authentication logic.
package devserver

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/voxiscribe/examclient/internal/api"
	"github.com/voxiscribe/examclient/internal/validator"
)

// Server holds the in-memory state of one devserver instance. All state
// is lost on restart, which matches the interface contract: the client
// keeps no local persistence either.
type Server struct {
	log zerolog.Logger
	hub *monitorHub

	mu        sync.Mutex
	answers   map[string][]api.AnswerRecord
	captures  map[string]*captureState
	events    []EventRecord
	submitted map[string]bool
}

// captureState tracks one proctoring capture record.
type captureState struct {
	RecordID uuid.UUID
	NextSeq  int
	Gaps     int
	Bytes    int64
}

// EventRecord is one stored proctoring telemetry event.
type EventRecord struct {
	EventType string `json:"event_type" binding:"required"`
	Detail    any    `json:"detail"`
	EventTS   int64  `json:"event_ts"`
}

// New creates an empty devserver. allowedOrigins configures CORS and
// WebSocket origin checks; empty means allow all (dev default).
func New(allowedOrigins []string, log zerolog.Logger) *Server {
	log = log.With().Str("component", "devserver").Logger()
	return &Server{
		log:       log,
		hub:       newMonitorHub(allowedOrigins, log),
		answers:   make(map[string][]api.AnswerRecord),
		captures:  make(map[string]*captureState),
		submitted: make(map[string]bool),
	}
}

// Router builds the Gin engine with all routes attached.
func (s *Server) Router(allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/autosave", s.handleAutosave)
	router.POST("/submit_exam/:exam_id", s.handleSubmit)
	router.POST("/proctoring/chunk", s.handleChunk)
	router.POST("/api/proctoring/event", s.handleEvent)
	router.GET("/ws/monitor", s.hub.Handle)

	return router
}

// handleAutosave stores the latest answer snapshot for an exam.
func (s *Server) handleAutosave(c *gin.Context) {
	var req api.AutosaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": fmt.Sprint(fields)})
		return
	}
	if req.ExamID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "exam_id is required"})
		return
	}

	s.mu.Lock()
	s.answers[req.ExamID] = req.Answers
	s.mu.Unlock()

	s.log.Debug().Str("exam_id", req.ExamID).Int("answers", len(req.Answers)).Msg("Autosave stored")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Progress auto-saved"})
}

// handleSubmit marks the attempt completed and returns the redirect
// target. Repeated submissions are tolerated (the client guard makes
// them rare, but a retry after a timeout that actually landed must not
// fail).
func (s *Server) handleSubmit(c *gin.Context) {
	examID := c.Param("exam_id")

	s.mu.Lock()
	s.submitted[examID] = true
	s.mu.Unlock()

	s.log.Info().Str("exam_id", examID).Msg("Exam submitted")
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"redirect": "/exam/" + examID + "/complete",
	})
}

// handleChunk accepts one multipart media chunk and tracks sequencing.
// Gaps signal dropped chunks on the client side and are logged, not
// rejected — the feed is best effort by contract.
func (s *Server) handleChunk(c *gin.Context) {
	examID := c.PostForm("exam_id")
	order := c.PostForm("chunk_order")
	if examID == "" || order == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "exam_id and chunk_order are required"})
		return
	}
	var seq int
	if _, err := fmt.Sscanf(order, "%d", &seq); err != nil || seq < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid chunk_order"})
		return
	}

	file, err := c.FormFile("video_chunk")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "video_chunk is required"})
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	size, _ := io.Copy(io.Discard, src)
	_ = src.Close()

	isFirst := c.PostForm("is_first") == "true"

	s.mu.Lock()
	state, ok := s.captures[examID]
	if !ok || isFirst {
		state = &captureState{RecordID: uuid.New()}
		s.captures[examID] = state
	}
	if seq > state.NextSeq {
		state.Gaps += seq - state.NextSeq
		s.log.Warn().
			Str("exam_id", examID).
			Int("expected", state.NextSeq).
			Int("got", seq).
			Msg("Chunk gap detected")
	}
	if seq >= state.NextSeq {
		state.NextSeq = seq + 1
	}
	state.Bytes += size
	recordID := state.RecordID
	s.mu.Unlock()

	s.log.Debug().
		Str("exam_id", examID).
		Str("record_id", recordID.String()).
		Int("sequence", seq).
		Int64("bytes", size).
		Msg("Chunk stored")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleEvent records a telemetry event and broadcasts it to monitor
// WebSocket connections.
func (s *Server) handleEvent(c *gin.Context) {
	var ev EventRecord
	if fields := validator.Bind(c, &ev); fields != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": fmt.Sprint(fields)})
		return
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()

	s.hub.Broadcast(ev)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ─── Test/inspection accessors ──────────────────────────────────────

// Answers returns the latest stored snapshot for an exam.
func (s *Server) Answers(examID string) []api.AnswerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.AnswerRecord, len(s.answers[examID]))
	copy(out, s.answers[examID])
	return out
}

// Submitted reports whether an exam was submitted.
func (s *Server) Submitted(examID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted[examID]
}

// ChunkCount returns the next expected sequence number for an exam.
func (s *Server) ChunkCount(examID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.captures[examID]; ok {
		return state.NextSeq
	}
	return 0
}

// Events returns all recorded telemetry events.
func (s *Server) Events() []EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventRecord, len(s.events))
	copy(out, s.events)
	return out
}
