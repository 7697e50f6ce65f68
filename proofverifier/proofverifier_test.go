package proofverifier

import (
	"context"
	"errors"
	"testing"
	"time"

	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestForNetwork(t *testing.T) {
	for _, proofType := range []l2registry.ProofType{
		l2registry.ProofTypeGroth16,
		l2registry.ProofTypeOptimistic,
		l2registry.ProofTypeExternal,
	} {
		v, err := ForNetwork(l2registry.Network{ProofType: proofType})
		require.NoError(t, err)
		require.Equal(t, proofType, v.ProofType())
	}

	_, err := ForNetwork(l2registry.Network{ProofType: "stark"})
	require.True(t, errors.Is(err, ErrUnknownProofType))
}

func TestGroth16Verify(t *testing.T) {
	v := &Groth16Verifier{}
	ctx := context.Background()
	network := l2registry.Network{
		ID:           "rollup-1",
		ProofType:    l2registry.ProofTypeGroth16,
		VerifyingKey: []byte("vk"),
	}
	in := CommitInput{
		NetworkID: "rollup-1",
		Epoch:     7,
		StateRoot: common.HexToHash("beef"),
	}

	proof := make([]byte, 128)
	copy(proof, v.Binding(network.VerifyingKey, in))
	in.Proof = proof
	require.NoError(t, v.Verify(ctx, network, in))

	t.Run("too short", func(t *testing.T) {
		short := in
		short.Proof = proof[:64]
		err := v.Verify(ctx, network, short)
		require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindProof))
	})

	t.Run("binding mismatch on different root", func(t *testing.T) {
		tampered := in
		tampered.StateRoot = common.HexToHash("dead")
		err := v.Verify(ctx, network, tampered)
		require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindProof))
	})

	t.Run("binding mismatch on different key", func(t *testing.T) {
		otherKey := network
		otherKey.VerifyingKey = []byte("other")
		err := v.Verify(ctx, otherKey, in)
		require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindProof))
	})
}

func TestOptimisticVerifyIsNoOp(t *testing.T) {
	v := &OptimisticVerifier{}
	require.NoError(t, v.Verify(context.Background(), l2registry.Network{}, CommitInput{}))
}

func TestOptimisticVerifyFraud(t *testing.T) {
	v := &OptimisticVerifier{}
	ctx := context.Background()
	attestor, err := crypto.GenerateKey()
	require.NoError(t, err)
	network := l2registry.Network{
		ID:           "optimistic-rollup",
		ProofType:    l2registry.ProofTypeOptimistic,
		AttestorAddr: crypto.PubkeyToAddress(attestor.PublicKey),
	}
	in := FraudInput{
		NetworkID: "optimistic-rollup",
		Epoch:     3,
		ExitID:    common.HexToHash("1234"),
	}

	sig, err := crypto.Sign(v.FraudDigest(in), attestor)
	require.NoError(t, err)
	in.FraudProof = sig
	require.NoError(t, v.VerifyFraud(ctx, network, in))

	t.Run("wrong length", func(t *testing.T) {
		bad := in
		bad.FraudProof = []byte("short")
		err := v.VerifyFraud(ctx, network, bad)
		require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindProof))
	})

	t.Run("wrong signer", func(t *testing.T) {
		stranger, err := crypto.GenerateKey()
		require.NoError(t, err)
		sig, err := crypto.Sign(v.FraudDigest(in), stranger)
		require.NoError(t, err)
		bad := in
		bad.FraudProof = sig
		verr := v.VerifyFraud(ctx, network, bad)
		require.True(t, bridgeCommon.IsKind(verr, bridgeCommon.KindProof))
	})

	t.Run("signature over a different exit", func(t *testing.T) {
		other := in
		other.ExitID = common.HexToHash("5678")
		sig, err := crypto.Sign(v.FraudDigest(other), attestor)
		require.NoError(t, err)
		bad := in
		bad.FraudProof = sig
		verr := v.VerifyFraud(ctx, network, bad)
		require.True(t, bridgeCommon.IsKind(verr, bridgeCommon.KindProof))
	})
}

func TestExternalVerify(t *testing.T) {
	v := &ExternalVerifier{}
	ctx := context.Background()
	attestor, err := crypto.GenerateKey()
	require.NoError(t, err)
	network := l2registry.Network{
		ID:           "external-rollup",
		ProofType:    l2registry.ProofTypeExternal,
		AttestorAddr: crypto.PubkeyToAddress(attestor.PublicKey),
	}
	in := CommitInput{
		NetworkID: "external-rollup",
		Epoch:     9,
		StateRoot: common.HexToHash("beef"),
	}

	sig, err := crypto.Sign(v.AttestationDigest(in), attestor)
	require.NoError(t, err)
	in.Proof = sig
	require.NoError(t, v.Verify(ctx, network, in))

	t.Run("signature over a different root", func(t *testing.T) {
		tampered := in
		tampered.StateRoot = common.HexToHash("dead")
		err := v.Verify(ctx, network, tampered)
		require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindProof))
	})
}

type slowVerifier struct{}

func (v *slowVerifier) ProofType() l2registry.ProofType { return "slow" }

func (v *slowVerifier) Verify(ctx context.Context, network l2registry.Network, in CommitInput) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return nil
	}
}

func TestVerifyWithTimeout(t *testing.T) {
	ctx := context.Background()

	err := VerifyWithTimeout(ctx, &slowVerifier{}, l2registry.Network{}, CommitInput{}, 5*time.Millisecond)
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindTimeout))

	// zero timeout disables the budget
	v := &OptimisticVerifier{}
	require.NoError(t, VerifyWithTimeout(ctx, v, l2registry.Network{}, CommitInput{}, 0))
}
