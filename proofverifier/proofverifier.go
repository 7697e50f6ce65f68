package proofverifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/config/types"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownProofType is returned when a network is registered with a proof
// type no verifier implements. The caller is expected to mark the network
// unusable for further commits until the configuration is corrected.
var ErrUnknownProofType = errors.New("unknown proof type")

type Config struct {
	// VerifyTimeout is the budget of a single proof verification. Zero
	// disables the timeout
	VerifyTimeout types.Duration `mapstructure:"VerifyTimeout"`
}

// CommitInput carries the public inputs a commit proof is checked against
type CommitInput struct {
	NetworkID string
	Epoch     uint64
	StateRoot common.Hash
	Proof     []byte
}

// FraudInput carries the public inputs of a fraud proof against an open exit
type FraudInput struct {
	NetworkID  string
	Epoch      uint64
	ExitID     common.Hash
	FraudProof []byte
}

// Verifier checks commit proofs for a single proof type
type Verifier interface {
	ProofType() l2registry.ProofType
	Verify(ctx context.Context, network l2registry.Network, in CommitInput) error
}

// FraudVerifier checks fraud proofs submitted against exits in the challenge
// window. Only the optimistic verifier implements it.
type FraudVerifier interface {
	VerifyFraud(ctx context.Context, network l2registry.Network, in FraudInput) error
}

var verifiers = map[l2registry.ProofType]Verifier{
	l2registry.ProofTypeGroth16:    &Groth16Verifier{},
	l2registry.ProofTypeOptimistic: &OptimisticVerifier{},
	l2registry.ProofTypeExternal:   &ExternalVerifier{},
}

// ForNetwork returns the verifier matching the network's registered proof type
func ForNetwork(network l2registry.Network) (Verifier, error) {
	v, ok := verifiers[network.ProofType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProofType, network.ProofType)
	}
	return v, nil
}

// VerifyWithTimeout runs v.Verify bounded by timeout. A verification that
// exceeds its budget fails with a timeout error instead of being left pending.
func VerifyWithTimeout(
	ctx context.Context,
	v Verifier,
	network l2registry.Network,
	in CommitInput,
	timeout time.Duration,
) error {
	if timeout <= 0 {
		return v.Verify(ctx, network, in)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- v.Verify(ctx, network, in)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return bridgeCommon.NewTimeoutError("proof verification exceeded its %s budget", timeout)
	}
}
