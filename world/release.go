package world

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"pkg.world.dev/epochal/epoch"
	"pkg.world.dev/epochal/gate"
	"pkg.world.dev/epochal/statsd"
)

// Stage freezes admission and finalizes the current epoch at the given ending
// block. Signing happens separately, possibly out of process, before Release.
func (w *World) Stage(omega uint64) error {
	w.gate.Store(gate.Buffering)
	if err := w.epoch.Finalize(omega); err != nil {
		return err
	}
	w.logger.Info().
		Uint64("number", w.epoch.Number()).
		Uint64("omega", omega).
		Msg("Epoch staged")
	return nil
}

// Release attaches the signer identity and signature to the staged epoch,
// verifies the seal, and hands the epoch to the release sink. Only after the
// sink succeeds does the world mutate: history append, pool clear, successor
// creation, gate on. A sink failure leaves the world staged so Release can be
// retried.
func (w *World) Release(ctx context.Context, signature []byte) error {
	startTime := time.Now()
	var span tracer.Span
	span, ctx = tracer.StartSpanFromContext(ctx, "epochal.span.release")
	defer span.Finish()

	ep := w.epoch
	if !ep.Finalized() {
		return eris.Wrap(epoch.ErrNotFinalized, "stage the epoch before releasing")
	}

	if err := ep.AttachSeal(w.signer, signature); err != nil {
		return err
	}
	// Sanity check, not a security boundary: the caller already obtained the
	// signature from the authorized signer.
	if err := ep.Verify(w.clock, w.signerAddr); err != nil {
		return err
	}

	if b, ok := w.clock.ReadNumber(ep.Omega()); ok {
		ep.AddParams(map[string]string{
			epoch.ParamReleased: strconv.FormatUint(b.Timestamp, 10),
		})
	}

	payload, err := ep.Payload()
	if err != nil {
		return err
	}

	if err := w.sink(ctx, ep); err != nil {
		// History is untouched and the epoch stays staged; safe to retry.
		return eris.Wrap(err, "release sink failed")
	}

	w.history = append(w.history, payload)
	w.buffered = nil
	w.received = nil
	w.dropped = map[string]uint64{}

	next, err := ep.Next()
	if err != nil {
		return err
	}
	w.epoch = next

	statsd.EmitReleaseStat(startTime)
	w.logger.Info().
		Uint64("released", payload.Number).
		Uint64("next", next.Number()).
		Msg("Epoch released")

	w.Listen(true)
	return nil
}
