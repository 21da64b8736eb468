// Package signal models the signed, addressable unit of change the world
// admits into epochs. A signal targets the ancestor of the epoch it wants to
// join and is anchored to a block of the confirmation clock; it becomes
// eligible for inclusion once its anchor block is confirmed.
package signal

import (
	"crypto/ecdsa"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"pkg.world.dev/epochal/clock"
	"pkg.world.dev/epochal/codec"
	"pkg.world.dev/epochal/sign"
)

const (
	// ParamWorld tags a signal with the world domain that admitted it.
	ParamWorld = "world"
	// ParamLocation is the optional location tag stripped at admission.
	ParamLocation = "location"
)

type Signal struct {
	UUID  string      `json:"uuid"`
	Epoch string      `json:"epoch"` // ancestor id of the epoch this signal targets
	Block common.Hash `json:"block"` // claimed anchoring block hash

	// BlockNumber is resolved against the clock; meaningless until Located.
	BlockNumber uint64 `json:"blockNumber"`
	Located     bool   `json:"located"`

	// Dropped is the block number this signal was removed at, if it ever was.
	Dropped *uint64 `json:"dropped,omitempty"`

	Author    string          `json:"author"`
	Signature []byte          `json:"signature"`
	Payload   json.RawMessage `json:"payload"`

	Params map[string]string `json:"params,omitempty"`
}

// FromRaw coerces arbitrary input into a Signal. Passing an existing *Signal
// through is the identity.
func FromRaw(data any) (*Signal, error) {
	switch v := data.(type) {
	case *Signal:
		return v, nil
	case Signal:
		return &v, nil
	case []byte:
		s, err := codec.Decode[Signal](v)
		if err != nil {
			return nil, eris.Wrap(err, "failed to decode signal")
		}
		return &s, nil
	case string:
		return FromRaw([]byte(v))
	default:
		bz, err := codec.Encode(v)
		if err != nil {
			return nil, eris.Wrap(err, "failed to coerce signal")
		}
		return FromRaw(bz)
	}
}

// NewSigned builds a signal over the given payload and signs it with pk.
func NewSigned(pk *ecdsa.PrivateKey, epochAncestor string, block common.Hash, payload any) (*Signal, error) {
	bz, err := codec.Encode(payload)
	if err != nil {
		return nil, err
	}
	s := &Signal{
		UUID:    uuid.NewString(),
		Epoch:   epochAncestor,
		Block:   block,
		Author:  sign.Address(pk),
		Payload: bz,
	}
	digest, err := s.Digest()
	if err != nil {
		return nil, err
	}
	s.Signature, err = sign.Sign(digest, pk)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Digest is the signed content of the signal: identity, ancestry, anchor, and
// payload. The author is excluded because it is recovered from the signature.
func (s *Signal) Digest() ([]byte, error) {
	return sign.Digest([]byte(s.UUID), []byte(s.Epoch), s.Block.Bytes(), s.Payload)
}

func (s *Signal) ClearLocation() {
	if s.Params != nil {
		delete(s.Params, ParamLocation)
	}
}

func (s *Signal) AddParams(params map[string]string) {
	if s.Params == nil {
		s.Params = make(map[string]string, len(params))
	}
	for k, v := range params {
		s.Params[k] = v
	}
}

// Locate resolves the claimed block hash against the clock. It reports whether
// the signal is now located; locating an already-located signal is a no-op.
func (s *Signal) Locate(c clock.Clock) bool {
	if s.Located {
		return true
	}
	b, ok := c.ReadHash(s.Block)
	if !ok {
		return false
	}
	s.BlockNumber = b.Number
	s.Located = true
	return true
}

// Verify checks the signal's authorship, integrity, and anchoring context
// against the given resolved block number.
func (s *Signal) Verify(c clock.Clock, blockNumber uint64) error {
	if !s.Located {
		return eris.New("signal has not been located")
	}
	if s.BlockNumber != blockNumber {
		return eris.Errorf("signal anchored at block %d, expected %d", s.BlockNumber, blockNumber)
	}
	b, ok := c.ReadNumber(blockNumber)
	if !ok {
		return eris.Errorf("block %d is not confirmed", blockNumber)
	}
	if b.Hash != s.Block {
		return eris.Errorf("anchor hash mismatch at block %d", blockNumber)
	}
	if s.Author == "" {
		return eris.New("signal has no author")
	}
	digest, err := s.Digest()
	if err != nil {
		return err
	}
	if err := sign.Verify(digest, s.Signature, s.Author); err != nil {
		return eris.Wrap(err, "signal signature is invalid")
	}
	return nil
}

// Compare is the deterministic total order used for inclusion: resolved block
// number first, then uuid as the tiebreak. Every replica sorting the same
// confirmed set with this order includes signals identically.
func (s *Signal) Compare(other *Signal) int {
	if s.BlockNumber != other.BlockNumber {
		if s.BlockNumber < other.BlockNumber {
			return -1
		}
		return 1
	}
	return strings.Compare(s.UUID, other.UUID)
}

// MarkDropped records the block number this signal was removed at.
func (s *Signal) MarkDropped(blockNumber uint64) {
	n := blockNumber
	s.Dropped = &n
}

func (s *Signal) String() string {
	return "signal " + s.UUID + " @ " + strconv.FormatUint(s.BlockNumber, 10)
}
