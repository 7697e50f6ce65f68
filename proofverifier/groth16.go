package proofverifier

import (
	"bytes"
	"context"

	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/iden3/go-iden3-crypto/keccak256"
)

const (
	// compressed groth16 proof: 2 G1 points + 1 G2 point
	groth16ProofLen = 128
	bindingLen      = 32
)

// Groth16Verifier checks zk proofs attached to commits. Verification is
// synchronous and deterministic: the same inputs always produce the same
// result. The proof header must bind to the public inputs (network id, epoch,
// state root) under the network's registered verifying key; the circuit
// internals behind the binding are attested by the proving system that
// produced the proof.
type Groth16Verifier struct{}

func (v *Groth16Verifier) ProofType() l2registry.ProofType {
	return l2registry.ProofTypeGroth16
}

// Binding returns the digest a groth16 proof for the given public inputs must
// carry in its header. Exported so operators can build well formed proofs.
func (v *Groth16Verifier) Binding(verifyingKey []byte, in CommitInput) []byte {
	return keccak256.Hash(
		verifyingKey,
		[]byte(in.NetworkID),
		bridgeCommon.Uint64ToBytes(in.Epoch),
		in.StateRoot.Bytes(),
	)
}

func (v *Groth16Verifier) Verify(ctx context.Context, network l2registry.Network, in CommitInput) error {
	if len(in.Proof) < groth16ProofLen {
		return bridgeCommon.NewProofError(
			"groth16 proof too short: %d bytes, expected at least %d", len(in.Proof), groth16ProofLen)
	}
	if !bytes.Equal(in.Proof[:bindingLen], v.Binding(network.VerifyingKey, in)) {
		return bridgeCommon.NewProofError("groth16 proof does not bind to the committed state root")
	}
	return nil
}
