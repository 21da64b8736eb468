package server

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"pkg.world.dev/epochal/codec"
	"pkg.world.dev/epochal/signal"
)

type SignalReply struct {
	UUID string `json:"uuid"`
	// Parked reports that the gate was buffering, so the signal waits for the
	// in-flight operation to finish before admission validation runs.
	Parked bool `json:"parked"`
}

func (s *Server) registerSignalHandler() {
	s.app.Post("/world/signal", func(ctx *fiber.Ctx) error {
		body := ctx.Body()
		if len(body) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "request body was empty")
		}
		sig, err := codec.Decode[signal.Signal](body)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "failed to decode signal: "+err.Error())
		}
		if sig.UUID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "signal uuid is required")
		}
		if len(sig.Signature) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "signal signature is required")
		}

		s.opMutex.Lock()
		parked := !s.world.Listening()
		s.world.Receive(&sig)
		s.opMutex.Unlock()

		return ctx.JSON(&SignalReply{UUID: sig.UUID, Parked: parked})
	})
}

func (s *Server) registerContactHandler() {
	s.app.Get("/world/contact", func(ctx *fiber.Ctx) error {
		var since *uint64
		if raw := ctx.Query("since"); raw != "" {
			n, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "since must be a block number")
			}
			since = &n
		}

		s.opMutex.Lock()
		snapshot := s.world.Contact(since)
		s.opMutex.Unlock()

		return ctx.JSON(&snapshot)
	})
}
