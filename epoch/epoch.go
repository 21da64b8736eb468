// Package epoch models an ordered, eventually-sealed batch of included
// signals plus the state snapshots they produced, anchored to a block range
// [alpha, omega]. An epoch is mutable only through Include and Drop until it
// is finalized; after Finalize it is immutable and can be signed, released,
// and succeeded by Next.
package epoch

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"pkg.world.dev/epochal/clock"
	"pkg.world.dev/epochal/codec"
	"pkg.world.dev/epochal/sign"
	"pkg.world.dev/epochal/signal"
)

// DefaultState is the state domain signal writes land in when the signal
// carries no world param.
const DefaultState = "world"

// ParamReleased is stamped on the epoch at release with the omega block's
// timestamp.
const ParamReleased = "released"

var (
	ErrFinalized    = eris.New("epoch is finalized")
	ErrNotFinalized = eris.New("epoch is not finalized")
)

// FetchFunc retrieves the serialized payload of an epoch from the durable
// transport.
type FetchFunc func(ctx context.Context, epochRef string) ([]byte, error)

// Descriptor identifies a new epoch within its lineage.
type Descriptor struct {
	Ancestor string
	Number   uint64
	Alpha    uint64
	// Initial holds the compressed final-state snapshots inherited from the
	// predecessor. Nil for a genesis epoch.
	Initial map[string][]byte
}

type Epoch struct {
	ancestor string
	number   uint64
	alpha    uint64
	omega    uint64
	sealed   bool

	initial map[string][]byte
	signals []*signal.Signal

	authorAlias string
	signature   []byte
	params      map[string]string

	// state is the live working state per domain, seeded by decompressing the
	// initial snapshots and mutated by signal inclusion.
	state map[string]map[string]json.RawMessage
	// final snapshots are computed exactly once, at Finalize.
	final map[string][]byte
}

// New instantiates an unfinalized epoch from its descriptor, hydrating the
// working state from the inherited snapshots.
func New(d Descriptor) (*Epoch, error) {
	state, err := inflate(d.Initial)
	if err != nil {
		return nil, err
	}
	return &Epoch{
		ancestor: d.Ancestor,
		number:   d.Number,
		alpha:    d.Alpha,
		initial:  copySnapshots(d.Initial),
		state:    state,
	}, nil
}

// Genesis returns epoch 0, starting at the given block with empty state.
func Genesis(alpha uint64) *Epoch {
	e, _ := New(Descriptor{Number: 0, Alpha: alpha})
	return e
}

func (e *Epoch) Ancestor() string            { return e.ancestor }
func (e *Epoch) Number() uint64              { return e.number }
func (e *Epoch) Alpha() uint64               { return e.alpha }
func (e *Epoch) Omega() uint64               { return e.omega }
func (e *Epoch) Finalized() bool             { return e.sealed }
func (e *Epoch) AuthorAlias() string         { return e.authorAlias }
func (e *Epoch) Signature() []byte           { return e.signature }
func (e *Epoch) Initial() map[string][]byte  { return copySnapshots(e.initial) }
func (e *Epoch) Signals() []*signal.Signal   { return append([]*signal.Signal{}, e.signals...) }
func (e *Epoch) Params() map[string]string   { return e.params }

// ID is the stable identity of this epoch, derived from its lineage position.
// Two instances describing the same epoch always share an ID, which is what
// links a history entry to its successor's ancestor.
func (e *Epoch) ID() string {
	return deriveID(e.ancestor, e.number, e.alpha)
}

func (e *Epoch) AddParams(params map[string]string) {
	if e.params == nil {
		e.params = make(map[string]string, len(params))
	}
	for k, v := range params {
		e.params[k] = v
	}
}

// Include folds one verified signal into the epoch: its payload writes are
// applied to the working state and the signal is appended to the ordered
// membership. Inclusion order determines final state; callers are responsible
// for sorting with the signal comparator first.
func (e *Epoch) Include(s *signal.Signal) error {
	if e.sealed {
		return ErrFinalized
	}
	if err := e.apply(s); err != nil {
		return err
	}
	e.signals = append(e.signals, s)
	return nil
}

// Drop removes the given uuids from the epoch's membership and rebuilds the
// working state by re-folding the remaining signals over the initial
// snapshots. When an included signal's payload is no longer held in memory,
// the epoch's own serialized payload is refetched through fetch to recover it.
func (e *Epoch) Drop(ctx context.Context, uuids []string, fetch FetchFunc) ([]*signal.Signal, error) {
	if e.sealed {
		return nil, ErrFinalized
	}
	drop := make(map[string]bool, len(uuids))
	for _, id := range uuids {
		drop[id] = true
	}

	var removed, remaining []*signal.Signal
	for _, s := range e.signals {
		if drop[s.UUID] {
			removed = append(removed, s)
		} else {
			remaining = append(remaining, s)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	if err := e.restorePayloads(ctx, remaining, fetch); err != nil {
		return nil, err
	}

	state, err := inflate(e.initial)
	if err != nil {
		return nil, err
	}
	e.state = state
	e.signals = e.signals[:0]
	for _, s := range remaining {
		if err := e.Include(s); err != nil {
			return nil, eris.Wrapf(err, "failed to re-include signal %s", s.UUID)
		}
	}
	return removed, nil
}

// Finalize seals the epoch at the given ending block. Membership and state
// freeze; the final snapshots are compressed once, here, and become the
// initial snapshots of the successor.
func (e *Epoch) Finalize(omega uint64) error {
	if e.sealed {
		return ErrFinalized
	}
	if omega < e.alpha {
		return eris.Errorf("omega %d precedes alpha %d", omega, e.alpha)
	}
	final, err := deflate(e.state)
	if err != nil {
		return err
	}
	e.omega = omega
	e.final = final
	e.sealed = true
	return nil
}

// Final returns the compressed final-state snapshots of a finalized epoch.
func (e *Epoch) Final() map[string][]byte {
	return copySnapshots(e.final)
}

// SealDigest is the signed content of a finalized epoch: lineage identity,
// block range, ordered membership, and final snapshots.
func (e *Epoch) SealDigest() ([]byte, error) {
	if !e.sealed {
		return nil, ErrNotFinalized
	}
	fields := [][]byte{
		[]byte(e.ancestor),
		u64be(e.number),
		u64be(e.alpha),
		u64be(e.omega),
	}
	for _, s := range e.signals {
		fields = append(fields, []byte(s.UUID))
	}
	for _, name := range sortedKeys(e.final) {
		fields = append(fields, []byte(name), e.final[name])
	}
	return sign.Digest(fields...)
}

// AttachSeal records the author alias and signature on a finalized epoch.
func (e *Epoch) AttachSeal(authorAlias string, signature []byte) error {
	if !e.sealed {
		return ErrNotFinalized
	}
	e.authorAlias = authorAlias
	e.signature = signature
	return nil
}

// Verify checks the epoch's own seal: the ending block must be confirmed by
// the clock and the signature must recover the given author address.
func (e *Epoch) Verify(c clock.Clock, hexAddress string) error {
	if !e.sealed {
		return ErrNotFinalized
	}
	if _, ok := c.ReadNumber(e.omega); !ok {
		return eris.Errorf("ending block %d is not confirmed", e.omega)
	}
	digest, err := e.SealDigest()
	if err != nil {
		return err
	}
	if err := sign.Verify(digest, e.signature, hexAddress); err != nil {
		return eris.Wrap(err, "epoch seal is invalid")
	}
	return nil
}

// Next creates the successor of a finalized epoch. The successor starts one
// block after omega and inherits the final snapshots as its initial state.
func (e *Epoch) Next() (*Epoch, error) {
	if !e.sealed {
		return nil, ErrNotFinalized
	}
	return New(Descriptor{
		Ancestor: e.ID(),
		Number:   e.number + 1,
		Alpha:    e.omega + 1,
		Initial:  e.Final(),
	})
}

// apply folds one signal's payload writes into the working state. An empty
// payload is a membership-only signal. A null write deletes the key.
func (e *Epoch) apply(s *signal.Signal) error {
	if len(s.Payload) == 0 {
		return nil
	}
	var writes map[string]json.RawMessage
	if err := json.Unmarshal(s.Payload, &writes); err != nil {
		return eris.Wrapf(err, "signal %s payload is not a state-write object", s.UUID)
	}
	domain := DefaultState
	if tag, ok := s.Params[signal.ParamWorld]; ok && tag != "" {
		domain = tag
	}
	if e.state[domain] == nil {
		e.state[domain] = map[string]json.RawMessage{}
	}
	for key := range writes {
		val := writes[key]
		if string(val) == "null" {
			delete(e.state[domain], key)
			continue
		}
		e.state[domain][key] = val
	}
	return nil
}

func (e *Epoch) restorePayloads(ctx context.Context, signals []*signal.Signal, fetch FetchFunc) error {
	missing := false
	for _, s := range signals {
		if s.Payload == nil {
			missing = true
			break
		}
	}
	if !missing {
		return nil
	}
	if fetch == nil {
		return eris.New("signal payloads are missing and no fetcher is available")
	}
	bz, err := fetch(ctx, e.ID())
	if err != nil {
		return eris.Wrap(err, "failed to refetch epoch data")
	}
	p, err := codec.Decode[Payload](bz)
	if err != nil {
		return err
	}
	byUUID := make(map[string]json.RawMessage, len(p.Signals))
	for _, s := range p.Signals {
		byUUID[s.UUID] = s.Payload
	}
	for _, s := range signals {
		if s.Payload == nil {
			s.Payload = byUUID[s.UUID]
		}
	}
	return nil
}

func deriveID(ancestor string, number, alpha uint64) string {
	digest, err := sign.Digest([]byte(ancestor), u64be(number), u64be(alpha))
	if err != nil {
		// keccak writes cannot fail on byte slices
		panic(err)
	}
	return common.BytesToHash(digest).Hex()
}

func inflate(snapshots map[string][]byte) (map[string]map[string]json.RawMessage, error) {
	state := make(map[string]map[string]json.RawMessage, len(snapshots))
	for name, packed := range snapshots {
		bz, err := codec.Decompress(packed)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to decompress snapshot %q", name)
		}
		domain, err := codec.Decode[map[string]json.RawMessage](bz)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to decode snapshot %q", name)
		}
		state[name] = domain
	}
	return state, nil
}

func deflate(state map[string]map[string]json.RawMessage) (map[string][]byte, error) {
	snapshots := make(map[string][]byte, len(state))
	for name, domain := range state {
		bz, err := codec.Encode(domain)
		if err != nil {
			return nil, err
		}
		packed, err := codec.Compress(bz)
		if err != nil {
			return nil, err
		}
		snapshots[name] = packed
	}
	return snapshots, nil
}

func copySnapshots(in map[string][]byte) map[string][]byte {
	if in == nil {
		return nil
	}
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func u64be(n uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return buf[:]
}
