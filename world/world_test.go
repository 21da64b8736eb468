package world_test

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"gotest.tools/v3/assert"

	"pkg.world.dev/epochal/clock/clocktest"
	"pkg.world.dev/epochal/epoch"
	"pkg.world.dev/epochal/sign"
	"pkg.world.dev/epochal/signal"
	"pkg.world.dev/epochal/world"
)

type fixture struct {
	t        *testing.T
	chain    *clocktest.Chain
	pk       *ecdsa.PrivateKey
	world    *world.World
	store    map[string][]byte
	released []*epoch.Payload
	sinkErr  error
}

func newFixture(t *testing.T, genesis, confirm int, head uint64, hooks world.Hooks) *fixture {
	t.Helper()
	pk, err := crypto.GenerateKey()
	assert.NilError(t, err)

	f := &fixture{
		t:     t,
		chain: clocktest.NewChain(head),
		pk:    pk,
		store: map[string][]byte{},
	}

	cfg := &world.WorldConfig{
		EpochalNamespace:     "testworld",
		EpochalSigner:        "signer-1",
		EpochalSignerAddress: sign.Address(pk),
		EpochalGenesis:       genesis,
		EpochalConfirm:       confirm,
	}
	f.world, err = world.NewWorld(cfg,
		world.WithGetBlock(f.chain.GetBlock),
		world.WithHead(f.chain.Head),
		world.WithTorrentData(func(_ context.Context, ref string) ([]byte, error) {
			bz, ok := f.store[ref]
			if !ok {
				return nil, eris.Errorf("no payload stored for %s", ref)
			}
			return bz, nil
		}),
		world.WithReleaseSink(func(_ context.Context, sealed *epoch.Epoch) error {
			if f.sinkErr != nil {
				return f.sinkErr
			}
			p, err := sealed.Payload()
			if err != nil {
				return err
			}
			bz, err := p.Bytes()
			if err != nil {
				return err
			}
			f.store[p.ID()] = bz
			f.released = append(f.released, p)
			return nil
		}),
		world.WithHooks(hooks),
	)
	assert.NilError(t, err)
	return f
}

func (f *fixture) signalAt(block uint64, writes string) *signal.Signal {
	f.t.Helper()
	s, err := signal.NewSigned(f.pk, f.world.Epoch().Ancestor(),
		clocktest.Block(block).Hash, json.RawMessage(writes))
	assert.NilError(f.t, err)
	return s
}

func (f *fixture) stageAndRelease(omega uint64) {
	f.t.Helper()
	assert.NilError(f.t, f.world.Stage(omega))
	digest, err := f.world.Epoch().SealDigest()
	assert.NilError(f.t, err)
	sig, err := sign.Sign(digest, f.pk)
	assert.NilError(f.t, err)
	assert.NilError(f.t, f.world.Release(context.Background(), sig))
}

func TestGenesisReceiveAdvance(t *testing.T) {
	f := newFixture(t, 100, 2, 110, world.Hooks{})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	s := f.signalAt(100, `{"gold":5}`)
	f.world.Receive(s)
	assert.Equal(t, 1, len(f.world.Received()))

	res, err := f.world.AdvanceTo(ctx, 102)
	assert.NilError(t, err)
	assert.Assert(t, res != nil)
	assert.Equal(t, 1, len(res.Included))
	assert.Equal(t, s.UUID, res.Included[0].UUID)
	assert.Equal(t, uint64(102), res.Position)

	pos, ok := f.world.Position()
	assert.Check(t, ok)
	assert.Equal(t, uint64(102), pos)
	assert.Equal(t, 0, len(f.world.Received()))
	assert.Equal(t, 1, len(f.world.Epoch().Signals()))
}

func TestAdvanceDerivesTargetFromHead(t *testing.T) {
	f := newFixture(t, 100, 2, 110, world.Hooks{})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	res, err := f.world.Advance(ctx)
	assert.NilError(t, err)
	assert.Assert(t, res != nil)
	assert.Equal(t, uint64(108), res.Position)
}

func TestDuplicateRejection(t *testing.T) {
	var ignored []world.IgnoreEvent
	f := newFixture(t, 100, 2, 110, world.Hooks{
		OnIgnore: func(ev world.IgnoreEvent, _ *world.World) { ignored = append(ignored, ev) },
	})
	assert.NilError(t, f.world.Build(context.Background(), nil, nil))

	s := f.signalAt(100, `{"gold":5}`)
	f.world.Receive(s)
	f.world.Receive(s)

	assert.Equal(t, 1, len(f.world.Received()))
	assert.Equal(t, 1, len(ignored))
	assert.ErrorIs(t, ignored[0].Err, world.ErrDuplicateSignal)
}

func TestEpochMismatchIgnored(t *testing.T) {
	var ignored []world.IgnoreEvent
	f := newFixture(t, 100, 2, 110, world.Hooks{
		OnIgnore: func(ev world.IgnoreEvent, _ *world.World) { ignored = append(ignored, ev) },
	})
	assert.NilError(t, f.world.Build(context.Background(), nil, nil))

	s := f.signalAt(100, `{"gold":5}`)
	s.Epoch = "some-other-lineage"
	f.world.Receive(s)

	assert.Equal(t, 0, len(f.world.Received()))
	assert.Equal(t, 1, len(ignored))
	assert.ErrorIs(t, ignored[0].Err, world.ErrEpochMismatch)
}

func TestAlreadyIncludedIgnored(t *testing.T) {
	var ignored []world.IgnoreEvent
	f := newFixture(t, 100, 2, 110, world.Hooks{
		OnIgnore: func(ev world.IgnoreEvent, _ *world.World) { ignored = append(ignored, ev) },
	})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	_, err := f.world.AdvanceTo(ctx, 104)
	assert.NilError(t, err)

	// Anchored at a block the world has already moved past.
	f.world.Receive(f.signalAt(101, `{"gold":5}`))
	assert.Equal(t, 0, len(f.world.Received()))
	assert.Equal(t, 1, len(ignored))
	assert.ErrorIs(t, ignored[0].Err, world.ErrAlreadyIncluded)
}

func TestRejectDoesNotAbortBatch(t *testing.T) {
	var rejected []world.RejectEvent
	f := newFixture(t, 100, 2, 110, world.Hooks{
		OnReject: func(ev world.RejectEvent, _ *world.World) { rejected = append(rejected, ev) },
	})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	good := f.signalAt(100, `{"gold":5}`)
	bad := f.signalAt(101, `{"gold":9}`)
	f.world.Receive(good)
	f.world.Receive(bad)
	// Tamper after admission so verification fails at inclusion time.
	bad.Payload = []byte(`{"gold":999}`)

	res, err := f.world.AdvanceTo(ctx, 103)
	assert.NilError(t, err)
	assert.Equal(t, 1, len(res.Included))
	assert.Equal(t, good.UUID, res.Included[0].UUID)
	assert.Equal(t, 1, len(res.Rejected))
	assert.Equal(t, 1, len(rejected))
	assert.Equal(t, uint64(103), res.Position)
}

func TestIdempotentNoOpAdvance(t *testing.T) {
	advances := 0
	f := newFixture(t, 100, 2, 110, world.Hooks{
		OnAdvance: func(_ *world.AdvanceResult, _ *world.World) { advances++ },
	})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	res, err := f.world.AdvanceTo(ctx, 105)
	assert.NilError(t, err)
	assert.Assert(t, res != nil)

	res, err = f.world.AdvanceTo(ctx, 105)
	assert.NilError(t, err)
	assert.Check(t, res == nil, "a no-progress advance must be a no-op")

	res, err = f.world.AdvanceTo(ctx, 103)
	assert.NilError(t, err)
	assert.Check(t, res == nil)
	assert.Equal(t, 1, advances)
}

func TestGateBuffersAndDrainsInOrder(t *testing.T) {
	var buffered, receivedOrder []string
	f := newFixture(t, 100, 2, 110, world.Hooks{
		OnBuffer: func(ev world.BufferEvent, _ *world.World) {
			buffered = append(buffered, ev.Signal.UUID)
		},
		OnReceive: func(ev world.ReceiveEvent, _ *world.World) {
			receivedOrder = append(receivedOrder, ev.Signal.UUID)
		},
	})
	assert.NilError(t, f.world.Build(context.Background(), nil, nil))

	f.world.Listen(false)
	a := f.signalAt(100, `{"a":1}`)
	b := f.signalAt(101, `{"b":2}`)
	f.world.Receive(a)
	f.world.Receive(b)

	assert.Equal(t, 2, len(buffered))
	assert.Equal(t, 0, len(f.world.Received()), "a buffering gate must not touch the received pool")

	f.world.Listen(true)
	assert.DeepEqual(t, []string{a.UUID, b.UUID}, receivedOrder)
	assert.Equal(t, 2, len(f.world.Received()))
}

func TestAllOrNothingSyncFailure(t *testing.T) {
	f := newFixture(t, 100, 2, 110, world.Hooks{})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	f.world.Receive(f.signalAt(100, `{"gold":5}`))

	f.chain.FailNext()
	_, err := f.world.AdvanceTo(ctx, 105)
	assert.Check(t, err != nil)

	_, positioned := f.world.Position()
	assert.Check(t, !positioned, "a failed sync must not move the position")
	assert.Equal(t, 1, len(f.world.Received()), "a failed sync must not split the received pool")
	assert.Check(t, f.world.Listening(), "the gate must be restored after an abort")

	// The same advance succeeds once the chain recovers.
	res, err := f.world.AdvanceTo(ctx, 105)
	assert.NilError(t, err)
	assert.Equal(t, 1, len(res.Included))
}

func TestDropWhileBusyIsRejected(t *testing.T) {
	f := newFixture(t, 100, 2, 110, world.Hooks{})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	s := f.signalAt(100, `{"gold":5}`)
	f.world.Receive(s)
	_, err := f.world.AdvanceTo(ctx, 102)
	assert.NilError(t, err)

	// Simulate an in-flight guarded operation holding the gate.
	f.world.Listen(false)
	ok, err := f.world.Drop(ctx, []string{s.UUID})
	assert.NilError(t, err)
	assert.Check(t, !ok)
	assert.Equal(t, 1, len(f.world.Epoch().Signals()))

	f.world.Listen(true)
	ok, err = f.world.Drop(ctx, []string{s.UUID})
	assert.NilError(t, err)
	assert.Check(t, ok)
	assert.Equal(t, 0, len(f.world.Epoch().Signals()))
}

func TestDropRecordsAuditEntry(t *testing.T) {
	var drops []world.DropEvent
	f := newFixture(t, 100, 2, 110, world.Hooks{
		OnDrop: func(ev world.DropEvent, _ *world.World) { drops = append(drops, ev) },
	})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	s := f.signalAt(100, `{"gold":5}`)
	f.world.Receive(s)
	_, err := f.world.AdvanceTo(ctx, 102)
	assert.NilError(t, err)

	ok, err := f.world.Drop(ctx, []string{s.UUID})
	assert.NilError(t, err)
	assert.Check(t, ok)
	assert.Equal(t, 1, len(drops))

	snap := f.world.Contact(nil)
	assert.Equal(t, uint64(102), snap.Dropped[s.UUID])
}

func TestDroppedMarkerReadmission(t *testing.T) {
	f := newFixture(t, 100, 2, 110, world.Hooks{})
	assert.NilError(t, f.world.Build(context.Background(), nil, nil))

	s := f.signalAt(100, `{"gold":5}`)
	s.MarkDropped(101)
	f.world.Receive(s)

	assert.Equal(t, 0, len(f.world.Received()),
		"a signal recovered with a dropped marker must not re-enter the pool")
	snap := f.world.Contact(nil)
	assert.Equal(t, uint64(101), snap.Dropped[s.UUID])
}

func TestOrderingDeterminism(t *testing.T) {
	run := func(order []int) ([]string, map[string][]byte) {
		f := newFixture(t, 100, 2, 110, world.Hooks{})
		ctx := context.Background()
		assert.NilError(t, f.world.Build(ctx, nil, nil))

		// Fixed identities so both runs admit the same signal set.
		mk := func(uuid string, block uint64, writes string) *signal.Signal {
			s, err := signal.NewSigned(f.pk, "", clocktest.Block(block).Hash, json.RawMessage(writes))
			assert.NilError(t, err)
			s.UUID = uuid
			// Re-sign for the fixed uuid.
			digest, err := s.Digest()
			assert.NilError(t, err)
			s.Signature, err = sign.Sign(digest, f.pk)
			assert.NilError(t, err)
			return s
		}
		signals := []*signal.Signal{
			mk("s-aa", 103, `{"gold":1}`),
			mk("s-bb", 101, `{"gold":2}`),
			mk("s-cc", 101, `{"gold":3}`),
		}
		for _, i := range order {
			f.world.Receive(signals[i])
		}
		res, err := f.world.AdvanceTo(ctx, 105)
		assert.NilError(t, err)

		included := make([]string, 0, len(res.Included))
		for _, s := range res.Included {
			included = append(included, s.UUID)
		}
		assert.NilError(t, f.world.Stage(105))
		return included, f.world.Epoch().Final()
	}

	orderA, finalA := run([]int{0, 1, 2})
	orderB, finalB := run([]int{2, 0, 1})

	assert.DeepEqual(t, orderA, orderB)
	assert.DeepEqual(t, finalA, finalB)
	assert.DeepEqual(t, []string{"s-bb", "s-cc", "s-aa"}, orderA)
}

func TestReleaseRotatesEpoch(t *testing.T) {
	f := newFixture(t, 100, 2, 110, world.Hooks{})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	f.world.Receive(f.signalAt(100, `{"gold":5}`))
	_, err := f.world.AdvanceTo(ctx, 103)
	assert.NilError(t, err)

	released := f.world.Epoch()
	f.stageAndRelease(103)

	assert.Equal(t, 1, len(f.world.History()))
	assert.Equal(t, 1, len(f.released))
	assert.Equal(t, uint64(1), f.world.Epoch().Number())
	assert.Equal(t, released.ID(), f.world.Epoch().Ancestor())
	assert.Check(t, f.world.Listening())
	assert.Equal(t, 0, len(f.world.Received()))

	// The released params carry the omega block timestamp.
	assert.Equal(t, "1700001236", f.released[0].Params[epoch.ParamReleased])
}

func TestReleaseSinkFailureKeepsWorldStaged(t *testing.T) {
	f := newFixture(t, 100, 2, 110, world.Hooks{})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	f.world.Receive(f.signalAt(100, `{"gold":5}`))
	_, err := f.world.AdvanceTo(ctx, 103)
	assert.NilError(t, err)

	assert.NilError(t, f.world.Stage(103))
	digest, err := f.world.Epoch().SealDigest()
	assert.NilError(t, err)
	sig, err := sign.Sign(digest, f.pk)
	assert.NilError(t, err)

	f.sinkErr = eris.New("transport down")
	err = f.world.Release(ctx, sig)
	assert.Check(t, err != nil)
	assert.Equal(t, 0, len(f.world.History()), "a failed sink must not touch history")
	assert.Equal(t, uint64(0), f.world.Epoch().Number(), "the epoch must stay staged")
	assert.Check(t, !f.world.Listening())

	// Retry with the same signature once the sink recovers.
	f.sinkErr = nil
	assert.NilError(t, f.world.Release(ctx, sig))
	assert.Equal(t, 1, len(f.world.History()))
	assert.Equal(t, uint64(1), f.world.Epoch().Number())
}

func TestReleaseRejectsBadSignature(t *testing.T) {
	f := newFixture(t, 100, 2, 110, world.Hooks{})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	_, err := f.world.AdvanceTo(ctx, 103)
	assert.NilError(t, err)
	assert.NilError(t, f.world.Stage(103))

	other, err := crypto.GenerateKey()
	assert.NilError(t, err)
	digest, err := f.world.Epoch().SealDigest()
	assert.NilError(t, err)
	sig, err := sign.Sign(digest, other)
	assert.NilError(t, err)

	err = f.world.Release(ctx, sig)
	assert.Check(t, err != nil)
	assert.Equal(t, 0, len(f.world.History()))
}

func TestReplayEquivalence(t *testing.T) {
	f := newFixture(t, 100, 2, 130, world.Hooks{})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	// Epoch 0: two signals.
	f.world.Receive(f.signalAt(100, `{"gold":5}`))
	f.world.Receive(f.signalAt(101, `{"iron":2}`))
	_, err := f.world.AdvanceTo(ctx, 105)
	assert.NilError(t, err)
	f.stageAndRelease(105)

	// Epoch 1: one more signal on top of the inherited state.
	f.world.Receive(f.signalAt(107, `{"gold":8}`))
	_, err = f.world.AdvanceTo(ctx, 110)
	assert.NilError(t, err)
	f.stageAndRelease(110)

	liveInitial := f.world.Epoch().Initial()
	history := f.world.History()
	assert.Equal(t, 2, len(history))

	// A fresh instance replaying the same history must converge on the same
	// live-epoch state.
	g := newFixture(t, 100, 2, 130, world.Hooks{})
	g.store = f.store
	assert.NilError(t, g.world.Build(ctx, history, nil))

	assert.Equal(t, f.world.Epoch().Number(), g.world.Epoch().Number())
	assert.Equal(t, f.world.Epoch().Ancestor(), g.world.Epoch().Ancestor())
	assert.DeepEqual(t, liveInitial, g.world.Epoch().Initial())
}

func TestBuildRepopulatesCurrentSignals(t *testing.T) {
	f := newFixture(t, 100, 2, 110, world.Hooks{})
	ctx := context.Background()

	pending := f.signalAt(104, `{"gold":5}`)
	recovered := f.signalAt(103, `{"iron":1}`)
	recovered.MarkDropped(102)

	err := f.world.Build(ctx, nil, func(context.Context) ([]*signal.Signal, error) {
		return []*signal.Signal{pending, recovered}, nil
	})
	assert.NilError(t, err)

	assert.Equal(t, 1, len(f.world.Received()))
	assert.Equal(t, pending.UUID, f.world.Received()[0].UUID)
	snap := f.world.Contact(nil)
	assert.Equal(t, uint64(102), snap.Dropped[recovered.UUID])
	assert.Check(t, f.world.Listening())
}

func TestContactSinceFilter(t *testing.T) {
	f := newFixture(t, 100, 2, 110, world.Hooks{})
	ctx := context.Background()
	assert.NilError(t, f.world.Build(ctx, nil, nil))

	early := f.signalAt(100, `{"a":1}`)
	late := f.signalAt(104, `{"b":2}`)
	f.world.Receive(early)
	f.world.Receive(late)
	_, err := f.world.AdvanceTo(ctx, 105)
	assert.NilError(t, err)

	snap := f.world.Contact(nil)
	assert.Equal(t, 2, len(snap.Signals))
	assert.Equal(t, "signer-1", snap.Signer)

	since := uint64(102)
	snap = f.world.Contact(&since)
	assert.Equal(t, 1, len(snap.Signals))
	assert.Equal(t, late.UUID, snap.Signals[0].UUID)
}

func TestPanickingHookIsIsolated(t *testing.T) {
	f := newFixture(t, 100, 2, 110, world.Hooks{
		OnReceive: func(world.ReceiveEvent, *world.World) { panic("handler bug") },
	})
	assert.NilError(t, f.world.Build(context.Background(), nil, nil))

	f.world.Receive(f.signalAt(100, `{"gold":5}`))
	assert.Equal(t, 1, len(f.world.Received()), "a panicking handler must not disturb admission")
}

func TestNewWorldValidatesConfig(t *testing.T) {
	_, err := world.NewWorld(&world.WorldConfig{EpochalSigner: "s"},
		world.WithTorrentData(func(context.Context, string) ([]byte, error) { return nil, nil }),
		world.WithReleaseSink(func(context.Context, *epoch.Epoch) error { return nil }),
	)
	assert.Check(t, err != nil, "missing genesis and signer address must fail fast")

	_, err = world.NewWorld(&world.WorldConfig{
		EpochalSigner:          "s",
		EpochalSignerAddress:   "0x0",
		EpochalGenesis:         50,
		EpochalDeploymentBlock: 100,
	})
	assert.Check(t, err != nil, "genesis below the deployment floor must fail fast")
}
