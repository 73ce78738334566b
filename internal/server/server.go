// Package server exposes the review API: session inspection, remote speaker
// assignment, corpus summaries, and live log streaming over websocket.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/meeting-corpus/internal/assign"
	"github.com/codebuildervaibhav/meeting-corpus/internal/config"
	"github.com/codebuildervaibhav/meeting-corpus/internal/organize"
	"github.com/codebuildervaibhav/meeting-corpus/internal/session"
	"github.com/codebuildervaibhav/meeting-corpus/internal/storage"
	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

// Server is the review API over the session store.
type Server struct {
	cfg       *config.Config
	store     *session.Store
	builder   *organize.Builder
	index     *storage.Index // may be nil
	logBuffer *LogBuffer
	app       *fiber.App
}

// New creates the API server. index may be nil when the SQLite index is not
// in use; logBuffer may be nil to disable the log endpoints.
func New(cfg *config.Config, store *session.Store, builder *organize.Builder, index *storage.Index, logBuffer *LogBuffer) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		builder:   builder,
		index:     index,
		logBuffer: logBuffer,
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	s.app.Get("/sessions", s.handleListSessions)
	s.app.Get("/sessions/:name", s.handleGetSession)
	s.app.Get("/sessions/:name/transcript", s.handleGetTranscript)
	s.app.Get("/sessions/:name/review", s.handleGetReview)
	s.app.Post("/sessions/:name/assign", s.handleAssign)

	s.app.Get("/corpus/summary", s.handleCorpusSummary)

	if s.logBuffer != nil {
		s.app.Get("/logs", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"logs": s.logBuffer.Lines()})
		})
		s.app.Get("/ws/events", websocket.New(s.handleEvents))
	}
}

// sessionView is the list/detail representation of one session.
type sessionView struct {
	Session string       `json:"session"`
	Status  types.Status `json:"status"`
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	names, err := s.store.List()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	views := make([]sessionView, 0, len(names))
	for _, name := range names {
		views = append(views, sessionView{Session: name, Status: s.store.Status(name)})
	}
	return c.JSON(views)
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	name := c.Params("name")
	status := s.store.Status(name)
	if status == types.StatusPending && !s.store.HasCheckpoint(name) {
		if _, err := os.Stat(s.store.Dir(name)); err != nil {
			return c.Status(404).JSON(fiber.Map{"error": "session not found"})
		}
	}

	detail := fiber.Map{
		"session": name,
		"status":  status,
	}
	if cp, err := s.store.LoadCheckpoint(name); err == nil {
		detail["source_file"] = cp.SourceFile
		detail["speakers"] = cp.Speakers
		detail["segments"] = len(cp.Segments)
	}
	if rt, err := s.store.LoadRaw(name); err == nil {
		detail["entries"] = len(rt.Entries)
	}
	return c.JSON(detail)
}

func (s *Server) handleGetTranscript(c *fiber.Ctx) error {
	name := c.Params("name")
	switch s.store.Status(name) {
	case types.StatusCompleted:
		ft, err := s.store.LoadFinal(name)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(ft)
	case types.StatusAwaitingAssignment:
		rt, err := s.store.LoadRaw(name)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(rt)
	}
	return c.Status(404).JSON(fiber.Map{"error": "no transcript for this session yet"})
}

func (s *Server) handleGetReview(c *fiber.Ctx) error {
	name := c.Params("name")
	if s.store.Status(name) != types.StatusAwaitingAssignment {
		return c.Status(409).JSON(fiber.Map{"error": "session is not awaiting assignment"})
	}
	rt, err := s.store.LoadRaw(name)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	items := assign.BuildReview(s.store, rt, s.cfg.Assignment.SamplesPerSpeaker)
	return c.JSON(items)
}

// assignRequest is the remote assignment payload.
type assignRequest struct {
	Mappings types.SpeakerMapping `json:"mappings"`
}

func (s *Server) handleAssign(c *fiber.Ctx) error {
	name := c.Params("name")

	var req assignRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	stage := &assign.Stage{
		Store:    s.store,
		Prompter: assign.Fixed(req.Mappings),
		Samples:  s.cfg.Assignment.SamplesPerSpeaker,
		Force:    c.QueryBool("force"),
		AfterComplete: func() error {
			_, err := s.builder.Rebuild(time.Now().UTC())
			return err
		},
	}
	if err := stage.Run(name, time.Now().UTC()); err != nil {
		status := s.store.Status(name)
		if status != types.StatusAwaitingAssignment && !(stage.Force && status == types.StatusCompleted) {
			return c.Status(409).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	if s.index != nil {
		if err := s.index.Upsert(name, "", types.StatusCompleted, time.Now().UTC()); err != nil {
			log.Printf("Indexing session %s: %v", name, err)
		}
	}
	return c.JSON(fiber.Map{"session": name, "status": types.StatusCompleted})
}

func (s *Server) handleCorpusSummary(c *fiber.Ctx) error {
	data, err := os.ReadFile(filepath.Join(s.cfg.Directories.Corpus, "corpus_summary.json"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "corpus has not been built yet"})
	}
	c.Set("Content-Type", "application/json")
	return c.Send(data)
}

// handleEvents streams new log lines to a websocket client.
func (s *Server) handleEvents(c *websocket.Conn) {
	defer c.Close()

	ch, cancel := s.logBuffer.Subscribe()
	defer cancel()

	for line := range ch {
		if err := c.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}
}

// Listen serves the API until Shutdown is called.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	log.Printf("Review API listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
