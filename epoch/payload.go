package epoch

import (
	"sort"

	"github.com/rotisserie/eris"

	"pkg.world.dev/epochal/codec"
	"pkg.world.dev/epochal/signal"
)

// Payload is the serializable projection of a finalized epoch; it is what the
// world appends to history and what the durable transport stores and serves.
type Payload struct {
	Ancestor    string            `json:"ancestor,omitempty"`
	Number      uint64            `json:"number"`
	Alpha       uint64            `json:"alpha"`
	Omega       uint64            `json:"omega"`
	AuthorAlias string            `json:"authorAlias,omitempty"`
	Signature   []byte            `json:"signature,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	Signals     []*signal.Signal  `json:"signals"`
	Final       map[string][]byte `json:"final"`
}

// ID is the same lineage-derived identity as Epoch.ID.
func (p *Payload) ID() string {
	return deriveID(p.Ancestor, p.Number, p.Alpha)
}

func (p *Payload) Bytes() ([]byte, error) {
	return codec.Encode(p)
}

// SortPayloads orders history entries ascending by epoch number. The sort is
// stable so an already-ordered history passes through untouched.
func SortPayloads(history []*Payload) []*Payload {
	out := append([]*Payload{}, history...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Payload projects a finalized epoch into its serializable form.
func (e *Epoch) Payload() (*Payload, error) {
	if !e.sealed {
		return nil, ErrNotFinalized
	}
	return &Payload{
		Ancestor:    e.ancestor,
		Number:      e.number,
		Alpha:       e.alpha,
		Omega:       e.omega,
		AuthorAlias: e.authorAlias,
		Signature:   e.signature,
		Params:      e.params,
		Signals:     e.Signals(),
		Final:       e.Final(),
	}, nil
}

// Data hydrates this epoch from a serialized payload. State application is
// seeded from the given snapshots — the compressed final states of the
// predecessor — and the recorded signals are re-folded in their recorded
// order, which must reproduce the recorded final snapshots exactly. This is
// the replay path: every observer folding the same history converges on the
// same state.
func (e *Epoch) Data(bz []byte, seed map[string][]byte) error {
	if e.sealed {
		return ErrFinalized
	}
	p, err := codec.Decode[Payload](bz)
	if err != nil {
		return eris.Wrap(err, "failed to decode epoch payload")
	}
	if p.Ancestor != e.ancestor || p.Number != e.number || p.Alpha != e.alpha {
		return eris.Errorf("payload describes epoch %s, not %s", p.ID(), e.ID())
	}

	state, err := inflate(seed)
	if err != nil {
		return err
	}
	e.initial = copySnapshots(seed)
	e.state = state
	e.signals = nil
	e.params = p.Params

	for _, s := range p.Signals {
		if err := e.Include(s); err != nil {
			return eris.Wrapf(err, "failed to replay signal %s", s.UUID)
		}
	}
	if err := e.Finalize(p.Omega); err != nil {
		return err
	}
	if err := e.AttachSeal(p.AuthorAlias, p.Signature); err != nil {
		return err
	}

	if err := e.assertFinalMatches(p.Final); err != nil {
		return err
	}
	return nil
}

// assertFinalMatches compares the replayed final state with the recorded one,
// byte for byte on the decompressed form.
func (e *Epoch) assertFinalMatches(recorded map[string][]byte) error {
	if len(recorded) != len(e.final) {
		return eris.New("replayed state diverges from the recorded snapshots")
	}
	for name, packed := range recorded {
		want, err := codec.Decompress(packed)
		if err != nil {
			return err
		}
		mine, ok := e.final[name]
		if !ok {
			return eris.Errorf("replay lost state domain %q", name)
		}
		got, err := codec.Decompress(mine)
		if err != nil {
			return err
		}
		if string(want) != string(got) {
			return eris.Errorf("replayed state for %q diverges from the recorded snapshot", name)
		}
	}
	return nil
}
