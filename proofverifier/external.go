package proofverifier

import (
	"context"

	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/keccak256"
)

// ExternalVerifier checks externally attested commits. The proof bytes carry
// a secp256k1 signature from the network's pre registered attestor key over
// (network id, epoch, state root).
type ExternalVerifier struct{}

func (v *ExternalVerifier) ProofType() l2registry.ProofType {
	return l2registry.ProofTypeExternal
}

// AttestationDigest is the digest the attestor signature must cover
func (v *ExternalVerifier) AttestationDigest(in CommitInput) []byte {
	return keccak256.Hash(
		[]byte(in.NetworkID),
		bridgeCommon.Uint64ToBytes(in.Epoch),
		in.StateRoot.Bytes(),
	)
}

func (v *ExternalVerifier) Verify(ctx context.Context, network l2registry.Network, in CommitInput) error {
	if len(in.Proof) != crypto.SignatureLength {
		return bridgeCommon.NewProofError(
			"attestation must be a %d byte signature, got %d bytes", crypto.SignatureLength, len(in.Proof))
	}
	pubKey, err := crypto.SigToPub(v.AttestationDigest(in), in.Proof)
	if err != nil {
		return bridgeCommon.NewProofError("malformed attestor signature: %s", err)
	}
	if crypto.PubkeyToAddress(*pubKey) != network.AttestorAddr {
		return bridgeCommon.NewProofError("attestation not signed by the registered attestor")
	}
	return nil
}
