// Package sign provides the cryptographic signing and verification of signal and epoch digests.
package sign

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrSignatureValidationFailed is returned when a signature is not valid.
	ErrSignatureValidationFailed = errors.New("signature validation failed")
)

// Digest hashes an ordered list of fields into a single keccak digest. The field
// order is part of the contract; callers must always hash the same fields in the
// same order.
func Digest(fields ...[]byte) ([]byte, error) {
	hash := crypto.NewKeccakState()
	for _, field := range fields {
		if _, err := hash.Write(field); err != nil {
			return nil, err
		}
	}
	return hash.Sum(nil), nil
}

// Sign signs the given digest with the given private key.
func Sign(digest []byte, pk *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(digest, pk)
}

// Address returns the hex address derived from the given private key.
func Address(pk *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(pk.PublicKey).Hex()
}

// Recover returns the address that produced the given signature over the given digest.
func Recover(digest, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sig is a valid signature of digest made by the key behind
// hexAddress. If nil is returned, the signature is valid.
// Signature verification follows the pattern in crypto.TestSign:
// https://github.com/ethereum/go-ethereum/blob/master/crypto/crypto_test.go#L94
func Verify(digest, sig []byte, hexAddress string) error {
	signerAddr, err := Recover(digest, sig)
	if err != nil {
		return err
	}
	if signerAddr != common.HexToAddress(hexAddress) {
		return ErrSignatureValidationFailed
	}
	return nil
}
