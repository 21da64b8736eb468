package events

import (
	"github.com/rs/zerolog/log"

	"pkg.world.dev/epochal/world"
)

// WorldHooks returns a hook set that forwards every world event to the hub as
// a notification. Compose with other handlers by wrapping the returned fields.
func WorldHooks(hub *Hub) world.Hooks {
	forward := func(kind string, detail any) {
		if err := hub.Emit(kind, detail); err != nil {
			log.Logger.Error().Err(err).Msgf("failed to emit %q notification", kind)
		}
	}
	return world.Hooks{
		OnBuffer: func(ev world.BufferEvent, _ *world.World) {
			forward(KindBuffer, ev)
		},
		OnReceive: func(ev world.ReceiveEvent, _ *world.World) {
			forward(KindReceive, ev)
		},
		OnIgnore: func(ev world.IgnoreEvent, _ *world.World) {
			forward(KindIgnore, ev)
		},
		OnAdvance: func(ev *world.AdvanceResult, _ *world.World) {
			forward(KindAdvance, ev)
		},
		OnReject: func(ev world.RejectEvent, _ *world.World) {
			forward(KindReject, ev)
		},
		OnDrop: func(ev world.DropEvent, _ *world.World) {
			forward(KindDrop, ev)
		},
	}
}
