package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// signatureLength is r (32) || s (32) || v (1).
const signatureLength = 65

// Caller identifies who an operation acts for. A direct caller is the
// participant itself; a relayed caller is a third party carrying the
// participant's signature over the relay payload.
type Caller struct {
	addr      common.Address
	signature []byte
	relayed   bool
}

// Direct returns a Caller acting as addr.
func Direct(addr common.Address) Caller {
	return Caller{addr: addr}
}

// Relayed returns a Caller submitting on behalf of onBehalfOf, authorized by
// signature.
func Relayed(onBehalfOf common.Address, signature []byte) Caller {
	sig := make([]byte, len(signature))
	copy(sig, signature)
	return Caller{addr: onBehalfOf, signature: sig, relayed: true}
}

// Target returns the participant address the call claims to act for. It is
// not authenticated until authorize succeeds.
func (c Caller) Target() common.Address {
	return c.addr
}

// IsRelayed reports whether the call came through a relayer.
func (c Caller) IsRelayed() bool {
	return c.relayed
}

func (c Caller) String() string {
	if c.relayed {
		return "relayed:" + c.addr.Hex()
	}
	return "direct:" + c.addr.Hex()
}

// authorize resolves the verified acting address for an operation bound to
// commitment.
func (c Caller) authorize(commitment common.Hash) (common.Address, error) {
	if c.addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", domain.ErrAuthorization)
	}
	if !c.relayed {
		return c.addr, nil
	}
	if err := VerifyAuthorization(RelayPayloadHash(commitment), c.signature, c.addr); err != nil {
		return common.Address{}, err
	}
	return c.addr, nil
}

// RelayPayloadHash is keccak256(abi.encode(bytes32 commitment)). The ABI
// encoding of a single bytes32 is the word itself.
func RelayPayloadHash(commitment common.Hash) common.Hash {
	return ethcrypto.Keccak256Hash(commitment.Bytes())
}

// RelayDigest is the EIP-191 personal-message digest a participant signs:
// keccak256("\x19Ethereum Signed Message:\n32" || payloadHash).
func RelayDigest(payloadHash common.Hash) []byte {
	return accounts.TextHash(payloadHash.Bytes())
}

// RecoverSigner recovers the address that produced signature over the
// personal-message digest of payloadHash. Malformed signatures fail with
// ErrAuthorization.
func RecoverSigner(payloadHash common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != signatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes, got %d",
			domain.ErrAuthorization, signatureLength, len(signature))
	}

	sig := make([]byte, signatureLength)
	copy(sig, signature)

	// Accept both the raw recovery id {0,1} and the Ethereum form {27,28}.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: invalid signature values", domain.ErrAuthorization)
	}

	pub, err := ethcrypto.SigToPub(RelayDigest(payloadHash), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: recover public key: %v", domain.ErrAuthorization, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyAuthorization checks that signature over payloadHash was produced by
// claimedSigner.
func VerifyAuthorization(payloadHash common.Hash, signature []byte, claimedSigner common.Address) error {
	signer, err := RecoverSigner(payloadHash, signature)
	if err != nil {
		return err
	}
	if signer != claimedSigner {
		return fmt.Errorf("%w: signed by %s, claimed %s",
			domain.ErrAuthorization, signer.Hex(), claimedSigner.Hex())
	}
	return nil
}
