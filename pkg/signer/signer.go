// Package signer wraps the secp256k1 keys used to authorize ledger
// submissions, covering both the direct role (one identity moves funds and
// pays gas) and the sponsor role (a distinct identity co-signs to pay gas).
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transaction digests with a single secp256k1 key.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewFromHex builds a signer from a hex-encoded private key, with or
// without a 0x prefix.
func NewFromHex(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}
	return &Signer{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// NewRandom generates a fresh keypair. Used by tests and local mode.
func NewRandom() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %v", err)
	}
	return &Signer{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the signer's identity.
func (s *Signer) Address() common.Address {
	return s.addr
}

// SignDigest produces a 65-byte recoverable signature over the digest.
func (s *Signer) SignDigest(digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %v", err)
	}
	return sig, nil
}

// Recover returns the address that produced the signature over the digest.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
