package signer

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromHex(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hex.EncodeToString(crypto.FromECDSA(key))

	t.Run("accepts raw hex", func(t *testing.T) {
		s, err := NewFromHex(hexKey)
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
	})

	t.Run("accepts 0x prefix and whitespace", func(t *testing.T) {
		s, err := NewFromHex("  0x" + hexKey + " ")
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := NewFromHex("not-a-key")
		assert.Error(t, err)
	})
}

func TestSignAndRecover(t *testing.T) {
	s, err := NewRandom()
	require.NoError(t, err)

	digest := crypto.Keccak256Hash([]byte("settlement payload"))
	sig, err := s.SignDigest(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	recovered, err := Recover(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recovered)

	// A different digest recovers a different address.
	other := crypto.Keccak256Hash([]byte("tampered payload"))
	recovered, err = Recover(other, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), recovered)
}
