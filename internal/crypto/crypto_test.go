package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/market"
)

// Hardhat's first well-known development account.
const (
	devKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner(devKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(devAddress), s.Address())

	_, err = NewSigner("0x1234")
	require.Error(t, err)
}

func TestSignRelayVerifies(t *testing.T) {
	s, err := NewSigner(devKey)
	require.NoError(t, err)

	bf, err := market.NewBlindingFactor()
	require.NoError(t, err)
	c := s.Commitment(domain.ChoiceYes, bf)
	assert.Equal(t, market.ComputeCommitment(domain.ChoiceYes, bf, s.Address()), c)

	sigHex, err := s.SignRelayHex(c)
	require.NoError(t, err)
	sig, err := DecodeSignature(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	require.NoError(t, market.VerifyAuthorization(market.RelayPayloadHash(c), sig, s.Address()))

	other, err := GenerateSigner()
	require.NoError(t, err)
	require.ErrorIs(t,
		market.VerifyAuthorization(market.RelayPayloadHash(c), sig, other.Address()),
		domain.ErrAuthorization)
}

func TestKeystoreRoundtrip(t *testing.T) {
	blob, err := EncryptKey(devKey, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), devAddress)

	keyHex, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, devKey[2:], keyHex)

	_, err = DecryptKey(blob, "wrong")
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = EncryptKey(devKey, "")
	require.Error(t, err)
	_, err = EncryptKey("not-hex", "pw")
	require.Error(t, err)
}

func TestLoadSigner(t *testing.T) {
	blob, err := EncryptKey(devKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	fromFile, err := LoadSigner(KeySource{KeystorePath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(devAddress), fromFile.Address())

	raw, err := LoadSigner(KeySource{RawPrivateKey: devKey, KeystorePath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, fromFile.Address(), raw.Address())

	_, err = LoadSigner(KeySource{KeystorePath: path, Password: "nope"})
	require.ErrorIs(t, err, ErrDecrypt)
	_, err = LoadSigner(KeySource{})
	require.Error(t, err)
}
