package proofverifier

import (
	"context"

	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/keccak256"
)

var fraudDomain = []byte("l2-fraud")

// OptimisticVerifier accepts commits on submission. Correctness is enforced
// later: any party may submit a fraud proof against an exit while its
// challenge window is open. Fraud proofs are signatures from the network's
// registered fraud watcher over the disputed exit.
type OptimisticVerifier struct{}

func (v *OptimisticVerifier) ProofType() l2registry.ProofType {
	return l2registry.ProofTypeOptimistic
}

func (v *OptimisticVerifier) Verify(ctx context.Context, network l2registry.Network, in CommitInput) error {
	// accept on submission
	return nil
}

// FraudDigest is the digest a fraud proof signature must cover
func (v *OptimisticVerifier) FraudDigest(in FraudInput) []byte {
	return keccak256.Hash(
		fraudDomain,
		[]byte(in.NetworkID),
		bridgeCommon.Uint64ToBytes(in.Epoch),
		in.ExitID.Bytes(),
	)
}

func (v *OptimisticVerifier) VerifyFraud(ctx context.Context, network l2registry.Network, in FraudInput) error {
	if len(in.FraudProof) != crypto.SignatureLength {
		return bridgeCommon.NewProofError(
			"fraud proof must be a %d byte signature, got %d bytes", crypto.SignatureLength, len(in.FraudProof))
	}
	pubKey, err := crypto.SigToPub(v.FraudDigest(in), in.FraudProof)
	if err != nil {
		return bridgeCommon.NewProofError("malformed fraud proof signature: %s", err)
	}
	if crypto.PubkeyToAddress(*pubKey) != network.AttestorAddr {
		return bridgeCommon.NewProofError("fraud proof not signed by the registered fraud watcher")
	}
	return nil
}
