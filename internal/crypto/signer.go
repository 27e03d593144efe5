package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/market"
)

// Signer produces the participant signatures a relayer forwards with a
// commit or reveal.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(normalizeHex(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the key without 0x prefix, for EncryptKey.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(s.privateKey))
}

// Commitment computes the commitment this signer's address would submit.
func (s *Signer) Commitment(choice domain.Choice, bf market.BlindingFactor) common.Hash {
	return market.ComputeCommitment(choice, bf, s.address)
}

// SignRelay authorizes a relayer to submit the commit or reveal bound to
// commitment. The result is r || s || v with v in {27,28}.
func (s *Signer) SignRelay(commitment common.Hash) ([]byte, error) {
	return s.signDigest(market.RelayDigest(market.RelayPayloadHash(commitment)))
}

// SignRelayHex is SignRelay with 0x-hex output.
func (s *Signer) SignRelayHex(commitment common.Hash) (string, error) {
	sig, err := s.SignRelay(commitment)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// signDigest signs a 32-byte digest using secp256k1.
func (s *Signer) signDigest(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets emit {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// DecodeSignature parses a 0x-hex signature. Length is checked by the
// market's authenticator, not here.
func DecodeSignature(s string) ([]byte, error) {
	b, err := hex.DecodeString(normalizeHex(s))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signature is not hex: %w", err)
	}
	return b, nil
}
