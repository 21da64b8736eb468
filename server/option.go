package server

import (
	"pkg.world.dev/epochal/events"
)

type Option func(s *Server)

// WithPort overrides the default listen port.
func WithPort(port string) Option {
	return func(s *Server) {
		if port != "" {
			s.port = port
		}
	}
}

// WithHub attaches a notification hub. The server then serves the websocket
// subscription route and announces releases on it.
func WithHub(hub *events.Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}
