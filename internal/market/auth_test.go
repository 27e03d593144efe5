package market

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

func TestRecoverSigner(t *testing.T) {
	key, addr := newKey(t)
	c := common.HexToHash("0xdeadbeef")
	sig := signRelay(t, key, c)

	got, err := RecoverSigner(RelayPayloadHash(c), sig)
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	got, err = RecoverSigner(RelayPayloadHash(c), raw)
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	require.NoError(t, VerifyAuthorization(RelayPayloadHash(c), sig, addr))
}

func TestVerifyAuthorizationRejects(t *testing.T) {
	key, addr := newKey(t)
	_, other := newKey(t)
	c := common.HexToHash("0x01")
	payload := RelayPayloadHash(c)
	sig := signRelay(t, key, c)

	mutate := func(f func(s []byte) []byte) []byte {
		return f(append([]byte(nil), sig...))
	}
	n := ethcrypto.S256().Params().N
	highS := mutate(func(s []byte) []byte {
		sv := new(big.Int).SetBytes(s[32:64])
		copy(s[32:64], common.LeftPadBytes(new(big.Int).Sub(n, sv).Bytes(), 32))
		s[64] = 55 - s[64]
		return s
	})

	tests := map[string]struct {
		sig     []byte
		payload common.Hash
		signer  common.Address
	}{
		"wrong signer":       {sig, payload, other},
		"other payload":      {sig, RelayPayloadHash(common.HexToHash("0x02")), addr},
		"empty":              {nil, payload, addr},
		"truncated":          {sig[:64], payload, addr},
		"too long":           {append(append([]byte(nil), sig...), 0), payload, addr},
		"recovery id 29":     {mutate(func(s []byte) []byte { s[64] = 29; return s }), payload, addr},
		"recovery id 2":      {mutate(func(s []byte) []byte { s[64] = 2; return s }), payload, addr},
		"zero r":             {mutate(func(s []byte) []byte { copy(s[:32], make([]byte, 32)); return s }), payload, addr},
		"malleable high s":   {highS, payload, addr},
		"flipped digest bit": {mutate(func(s []byte) []byte { s[5] ^= 0x80; return s }), payload, addr},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, VerifyAuthorization(tt.payload, tt.sig, tt.signer), domain.ErrAuthorization)
		})
	}
}

func TestCallerAuthorize(t *testing.T) {
	c := common.HexToHash("0xabc")

	_, err := Direct(common.Address{}).authorize(c)
	require.ErrorIs(t, err, domain.ErrAuthorization)

	addr := addrN(1)
	got, err := Direct(addr).authorize(c)
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	key, signer := newKey(t)
	sig := signRelay(t, key, c)
	caller := Relayed(signer, sig)
	sig[0] ^= 0xff // caller holds its own copy
	got, err = caller.authorize(c)
	require.NoError(t, err)
	assert.Equal(t, signer, got)
	assert.True(t, caller.IsRelayed())

	_, err = Relayed(addr, signRelay(t, key, c)).authorize(c)
	require.ErrorIs(t, err, domain.ErrAuthorization)
}
