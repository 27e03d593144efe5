// Package market implements a single commit-reveal binary prediction market:
// hidden commitments backed by a fixed wager, deadline-gated phases, a
// write-once oracle resolution and an equal split of the losing pot among
// the winners.
package market

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// BlindingFactor is the secret mixed into a commitment.
type BlindingFactor [32]byte

// NewBlindingFactor draws a blinding factor from crypto/rand.
func NewBlindingFactor() (BlindingFactor, error) {
	var bf BlindingFactor
	if _, err := rand.Read(bf[:]); err != nil {
		return BlindingFactor{}, fmt.Errorf("market: generate blinding factor: %w", err)
	}
	return bf, nil
}

// ParseBlindingFactor decodes a 0x-prefixed 32-byte hex string.
func ParseBlindingFactor(s string) (BlindingFactor, error) {
	b, err := decodeHex(s)
	if err != nil {
		return BlindingFactor{}, fmt.Errorf("market: blinding factor: %w", err)
	}
	if len(b) != 32 {
		return BlindingFactor{}, fmt.Errorf("market: blinding factor must be 32 bytes, got %d", len(b))
	}
	var bf BlindingFactor
	copy(bf[:], b)
	return bf, nil
}

// Hex returns the 0x-prefixed encoding.
func (bf BlindingFactor) Hex() string {
	return "0x" + hex.EncodeToString(bf[:])
}

// EncodeCommitment returns the packed preimage
//
//	committer (20 bytes) || uint256(choice) (32 bytes) || blindingFactor (32 bytes)
//
// which matches Solidity's abi.encodePacked(address, uint256, bytes32).
func EncodeCommitment(choice domain.Choice, bf BlindingFactor, committer common.Address) []byte {
	return concatBytes(
		committer.Bytes(),
		common.LeftPadBytes([]byte{byte(choice)}, 32),
		bf[:],
	)
}

// ComputeCommitment hashes the packed preimage with keccak256. It is the only
// function used to build commitments, both when committing and when
// verifying a reveal.
func ComputeCommitment(choice domain.Choice, bf BlindingFactor, committer common.Address) common.Hash {
	return ethcrypto.Keccak256Hash(EncodeCommitment(choice, bf, committer))
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	return hex.DecodeString(s)
}
