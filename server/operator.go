package server

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"pkg.world.dev/epochal/events"
)

type AdvanceRequest struct {
	// Target is the block to advance to. Absent, the target is derived from
	// the chain head minus the confirmation depth.
	Target *uint64 `json:"target"`
}

type StageRequest struct {
	Omega uint64 `json:"omega"`
}

type ReleaseRequest struct {
	// Signature is the hex-encoded signer signature over the staged epoch's
	// seal digest.
	Signature string `json:"signature"`
}

type DropRequest struct {
	UUIDs []string `json:"uuids"`
}

type DropReply struct {
	Dropped bool `json:"dropped"`
}

func (s *Server) registerOperatorHandlers() {
	s.app.Post("/world/advance", func(ctx *fiber.Ctx) error {
		var req AdvanceRequest
		if len(ctx.Body()) > 0 {
			if err := ctx.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "failed to decode advance request: "+err.Error())
			}
		}

		s.opMutex.Lock()
		defer s.opMutex.Unlock()
		if req.Target != nil {
			res, err := s.world.AdvanceTo(ctx.UserContext(), *req.Target)
			if err != nil {
				return err
			}
			return ctx.JSON(res)
		}
		res, err := s.world.Advance(ctx.UserContext())
		if err != nil {
			return err
		}
		return ctx.JSON(res)
	})

	s.app.Post("/world/stage", func(ctx *fiber.Ctx) error {
		var req StageRequest
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "failed to decode stage request: "+err.Error())
		}

		s.opMutex.Lock()
		defer s.opMutex.Unlock()
		if err := s.world.Stage(req.Omega); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return ctx.SendStatus(fiber.StatusOK)
	})

	s.app.Post("/world/release", func(ctx *fiber.Ctx) error {
		var req ReleaseRequest
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "failed to decode release request: "+err.Error())
		}
		signature := common.FromHex(req.Signature)
		if len(signature) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "a hex-encoded signature is required")
		}

		s.opMutex.Lock()
		defer s.opMutex.Unlock()
		if err := s.world.Release(ctx.UserContext(), signature); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if s.hub != nil {
			history := s.world.History()
			if err := s.hub.Emit(events.KindRelease, history[len(history)-1]); err != nil {
				// The release itself committed; a notification failure is not
				// the caller's problem.
				log.Error().Err(err).Msg("failed to announce release")
			}
		}
		return ctx.SendStatus(fiber.StatusOK)
	})

	s.app.Post("/world/drop", func(ctx *fiber.Ctx) error {
		var req DropRequest
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "failed to decode drop request: "+err.Error())
		}
		if len(req.UUIDs) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "at least one uuid is required")
		}

		s.opMutex.Lock()
		defer s.opMutex.Unlock()
		dropped, err := s.world.Drop(ctx.UserContext(), req.UUIDs)
		if err != nil {
			return err
		}
		if !dropped {
			return fiber.NewError(fiber.StatusConflict, "another world operation is in flight")
		}
		return ctx.JSON(&DropReply{Dropped: true})
	})
}
