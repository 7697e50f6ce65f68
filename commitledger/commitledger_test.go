package commitledger

import (
	"context"
	"path"
	"sync"
	"testing"
	"time"

	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/config/types"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/dmrl789/ippan-bridge/log"
	"github.com/dmrl789/ippan-bridge/proofverifier"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/keccak256"
	"github.com/stretchr/testify/require"
)

type registryMock struct {
	mu       sync.Mutex
	networks map[string]l2registry.Network
}

func (m *registryMock) GetNetwork(ctx context.Context, id string) (l2registry.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	network, ok := m.networks[id]
	if !ok {
		return l2registry.Network{}, bridgeCommon.NewNotFoundError("network %s is not registered", id)
	}
	return network, nil
}

func (m *registryMock) SetStatus(ctx context.Context, id string, status l2registry.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	network := m.networks[id]
	network.Status = status
	m.networks[id] = network
	return nil
}

func newTestLedger(t *testing.T, cfg Config) (*CommitLedger, *registryMock) {
	t.Helper()
	if cfg.DBPath == "" {
		cfg.DBPath = path.Join(t.TempDir(), "commitledger.sqlite")
	}
	registry := &registryMock{networks: map[string]l2registry.Network{}}
	verifierCfg := proofverifier.Config{VerifyTimeout: types.NewDuration(time.Second)}
	ledger, err := New(log.WithFields("test", t.Name()), cfg, verifierCfg, registry)
	require.NoError(t, err)
	return ledger, registry
}

func optimisticCommit(epoch uint64) Commit {
	data := []byte("batch data")
	return Commit{
		NetworkID:  "optimistic-rollup",
		Epoch:      epoch,
		StateRoot:  common.HexToHash("beef"),
		DAHash:     common.BytesToHash(keccak256.Hash(data)),
		InlineData: data,
	}
}

func addOptimisticNetwork(registry *registryMock) {
	registry.networks["optimistic-rollup"] = l2registry.Network{
		ID:              "optimistic-rollup",
		ProofType:       l2registry.ProofTypeOptimistic,
		DAMode:          l2registry.DAModeInline,
		ChallengeWindow: time.Minute,
		Status:          l2registry.StatusActive,
		AttestorAddr:    common.HexToAddress("0xff01"),
	}
}

func TestSubmitCommitAcceptsAndAssignsID(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{})
	addOptimisticNetwork(registry)
	ctx := context.Background()

	c := optimisticCommit(1)
	accepted, err := ledger.SubmitCommit(ctx, c)
	require.NoError(t, err)
	require.Equal(t, c.Hash(), accepted.ID)
	require.False(t, accepted.AcceptedAt.IsZero())

	stored, err := ledger.GetCommit(ctx, "optimistic-rollup", 1)
	require.NoError(t, err)
	require.Equal(t, accepted.ID, stored.ID)
	require.Equal(t, c.StateRoot, stored.StateRoot)
	require.Equal(t, c.InlineData, stored.InlineData)
}

func TestSubmitCommitValidation(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{})
	addOptimisticNetwork(registry)
	ctx := context.Background()

	noNetwork := optimisticCommit(1)
	noNetwork.NetworkID = ""
	_, err := ledger.SubmitCommit(ctx, noNetwork)
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindValidation))

	noRoot := optimisticCommit(1)
	noRoot.StateRoot = common.Hash{}
	_, err = ledger.SubmitCommit(ctx, noRoot)
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindValidation))

	unknown := optimisticCommit(1)
	unknown.NetworkID = "unknown"
	_, err = ledger.SubmitCommit(ctx, unknown)
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindNotFound))
}

func TestSubmitCommitEpochOrdering(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{})
	addOptimisticNetwork(registry)
	ctx := context.Background()

	_, err := ledger.SubmitCommit(ctx, optimisticCommit(5))
	require.NoError(t, err)

	// resubmitting the exact same commit is not a silent success
	_, err = ledger.SubmitCommit(ctx, optimisticCommit(5))
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindOrdering))

	// anything at or below the head is stale
	_, err = ledger.SubmitCommit(ctx, optimisticCommit(4))
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindOrdering))

	// gaps are fine, epochs only need to increase
	_, err = ledger.SubmitCommit(ctx, optimisticCommit(100))
	require.NoError(t, err)

	last, err := ledger.GetLastCommit(ctx, "optimistic-rollup")
	require.NoError(t, err)
	require.Equal(t, uint64(100), last.Epoch)
}

func TestSubmitCommitMinEpochGap(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{MinEpochGap: types.NewDuration(time.Hour)})
	addOptimisticNetwork(registry)
	ctx := context.Background()

	_, err := ledger.SubmitCommit(ctx, optimisticCommit(1))
	require.NoError(t, err)

	_, err = ledger.SubmitCommit(ctx, optimisticCommit(2))
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindOrdering))
}

func TestSubmitCommitMaxCommitSize(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{MaxCommitSize: 4})
	addOptimisticNetwork(registry)

	_, err := ledger.SubmitCommit(context.Background(), optimisticCommit(1))
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindValidation))
}

func TestSubmitCommitInlineDataMustMatchDAHash(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{})
	addOptimisticNetwork(registry)
	ctx := context.Background()

	tampered := optimisticCommit(1)
	tampered.DAHash = common.HexToHash("dead")
	_, err := ledger.SubmitCommit(ctx, tampered)
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindValidation))

	missing := optimisticCommit(1)
	missing.InlineData = nil
	_, err = ledger.SubmitCommit(ctx, missing)
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindValidation))
}

func TestSubmitCommitExternalDA(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{})
	attestor, err := crypto.GenerateKey()
	require.NoError(t, err)
	registry.networks["external-rollup"] = l2registry.Network{
		ID:           "external-rollup",
		ProofType:    l2registry.ProofTypeExternal,
		DAMode:       l2registry.DAModeExternal,
		Status:       l2registry.StatusActive,
		AttestorAddr: crypto.PubkeyToAddress(attestor.PublicKey),
	}
	ctx := context.Background()

	c := Commit{
		NetworkID: "external-rollup",
		Epoch:     1,
		StateRoot: common.HexToHash("beef"),
		DAHash:    common.HexToHash("da"),
	}
	v := &proofverifier.ExternalVerifier{}
	sig, err := crypto.Sign(v.AttestationDigest(proofverifier.CommitInput{
		NetworkID: c.NetworkID,
		Epoch:     c.Epoch,
		StateRoot: c.StateRoot,
	}), attestor)
	require.NoError(t, err)
	c.Proof = sig

	_, err = ledger.SubmitCommit(ctx, c)
	require.NoError(t, err)

	// external DA requires the hash reference
	c2 := c
	c2.Epoch = 2
	c2.DAHash = common.Hash{}
	_, err = ledger.SubmitCommit(ctx, c2)
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindValidation))
}

func TestSubmitCommitGroth16(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{})
	registry.networks["rollup-1"] = l2registry.Network{
		ID:           "rollup-1",
		ProofType:    l2registry.ProofTypeGroth16,
		DAMode:       l2registry.DAModeExternal,
		Status:       l2registry.StatusActive,
		VerifyingKey: []byte("vk"),
	}
	ctx := context.Background()

	c := Commit{
		NetworkID: "rollup-1",
		Epoch:     1,
		StateRoot: common.HexToHash("beef"),
		DAHash:    common.HexToHash("da"),
	}
	v := &proofverifier.Groth16Verifier{}
	proof := make([]byte, 128)
	copy(proof, v.Binding([]byte("vk"), proofverifier.CommitInput{
		NetworkID: c.NetworkID,
		Epoch:     c.Epoch,
		StateRoot: c.StateRoot,
	}))
	c.Proof = proof

	_, err := ledger.SubmitCommit(ctx, c)
	require.NoError(t, err)

	// an invalid proof is rejected with a proof error
	bad := c
	bad.Epoch = 2
	_, err = ledger.SubmitCommit(ctx, bad)
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindProof))
}

func TestSubmitCommitInactiveNetwork(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{})
	addOptimisticNetwork(registry)
	network := registry.networks["optimistic-rollup"]
	network.Status = l2registry.StatusChallenged
	registry.networks["optimistic-rollup"] = network

	_, err := ledger.SubmitCommit(context.Background(), optimisticCommit(1))
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindValidation))
}

func TestSubmitCommitUnknownProofTypeDeactivatesNetwork(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{})
	registry.networks["weird"] = l2registry.Network{
		ID:        "weird",
		ProofType: "stark",
		DAMode:    l2registry.DAModeExternal,
		Status:    l2registry.StatusActive,
	}

	_, err := ledger.SubmitCommit(context.Background(), Commit{
		NetworkID: "weird",
		Epoch:     1,
		StateRoot: common.HexToHash("beef"),
		DAHash:    common.HexToHash("da"),
	})
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindValidation))
	require.Equal(t, l2registry.StatusInactive, registry.networks["weird"].Status)
}

func TestSubmitCommitConcurrentSameEpoch(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{})
	addOptimisticNetwork(registry)
	ctx := context.Background()

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.SubmitCommit(ctx, optimisticCommit(1))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		require.True(t,
			bridgeCommon.IsKind(err, bridgeCommon.KindOrdering) ||
				bridgeCommon.IsKind(err, bridgeCommon.KindConflict))
	}
	require.Equal(t, 1, accepted)
}

func TestGetCommitsAndHasCommits(t *testing.T) {
	ledger, registry := newTestLedger(t, Config{})
	addOptimisticNetwork(registry)
	ctx := context.Background()

	hasCommits, err := ledger.HasCommits(ctx, "optimistic-rollup")
	require.NoError(t, err)
	require.False(t, hasCommits)

	_, err = ledger.SubmitCommit(ctx, optimisticCommit(1))
	require.NoError(t, err)
	_, err = ledger.SubmitCommit(ctx, optimisticCommit(2))
	require.NoError(t, err)

	commits, err := ledger.GetCommits(ctx, "optimistic-rollup")
	require.NoError(t, err)
	require.Len(t, commits, 2)
	require.Equal(t, uint64(1), commits[0].Epoch)
	require.Equal(t, uint64(2), commits[1].Epoch)

	hasCommits, err = ledger.HasCommits(ctx, "optimistic-rollup")
	require.NoError(t, err)
	require.True(t, hasCommits)

	_, err = ledger.GetCommit(ctx, "optimistic-rollup", 99)
	require.True(t, bridgeCommon.IsKind(err, bridgeCommon.KindNotFound))
}
