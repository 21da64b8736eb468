package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"pkg.world.dev/epochal/events"
)

func websocketHandler(hub *events.Hub) func(*fiber.Ctx) error {
	return websocket.New(hub.NewWebSocketNotificationHandler())
}
