// Package server exposes the world over HTTP: signal submission, snapshot
// reads, and the operator surface that advances, stages, releases, and drops.
// World operations must not interleave, so every mutating handler runs under
// one mutex.
package server

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"pkg.world.dev/epochal/events"
	"pkg.world.dev/epochal/world"
)

const defaultPort = "4040"

type Server struct {
	world *world.World
	app   *fiber.App
	hub   *events.Hub

	port string

	opMutex       sync.Mutex
	running       atomic.Bool
	shutdownMutex sync.Mutex
}

func New(w *world.World, opts ...Option) *Server {
	s := &Server{
		world: w,
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			JSONEncoder:           json.Marshal,
			JSONDecoder:           json.Unmarshal,
		}),
		port: defaultPort,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerHealthHandler()
	s.registerSignalHandler()
	s.registerContactHandler()
	s.registerOperatorHandlers()
	if s.hub != nil {
		s.registerEventsHandler("/events")
	}
	return s
}

// Serve blocks until Shutdown is called or the listener fails.
func (s *Server) Serve() error {
	s.running.Store(true)
	err := s.app.Listen(":" + s.port)
	s.running.Store(false)
	return eris.Wrap(err, "")
}

func (s *Server) Shutdown() error {
	s.shutdownMutex.Lock()
	defer s.shutdownMutex.Unlock()
	log.Info().Msg("Shutting down server.")
	if s.hub != nil {
		s.hub.Shutdown()
	}
	if err := s.app.Shutdown(); err != nil {
		return eris.Wrap(err, "")
	}
	log.Info().Msg("Successfully shut down server.")
	return nil
}

// Test routes a request through the server without a network listener.
func (s *Server) Test(req *http.Request, msTimeout ...int) (*http.Response, error) {
	return s.app.Test(req, msTimeout...)
}

func (s *Server) registerHealthHandler() {
	s.app.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.JSON(&HealthReply{
			IsServerRunning:  s.running.Load(),
			IsWorldListening: s.world.Listening(),
		})
	})
}

type HealthReply struct {
	IsServerRunning  bool `json:"is_server_running"`
	IsWorldListening bool `json:"is_world_listening"`
}

func (s *Server) registerEventsHandler(path string) {
	s.app.Use(path, events.WebSocketUpgrader)
	s.app.Get(path, websocketHandler(s.hub))
}
