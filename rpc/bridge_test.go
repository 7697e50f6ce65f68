package rpc

import (
	"context"
	"math/big"
	"testing"
	"time"

	cdkrpc "github.com/0xPolygon/cdk-rpc/rpc"
	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/commitledger"
	"github.com/dmrl789/ippan-bridge/exitprocessor"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/dmrl789/ippan-bridge/log"
	"github.com/dmrl789/ippan-bridge/rpc/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

type registryFake struct {
	networks map[string]l2registry.Network
	addErr   error
}

func (f *registryFake) AddNetwork(ctx context.Context, n l2registry.Network) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.networks[n.ID] = n
	return nil
}

func (f *registryFake) GetNetwork(ctx context.Context, id string) (l2registry.Network, error) {
	n, ok := f.networks[id]
	if !ok {
		return l2registry.Network{}, bridgeCommon.NewNotFoundError("network %s is not registered", id)
	}
	return n, nil
}

func (f *registryFake) GetNetworks(ctx context.Context) ([]l2registry.Network, error) {
	networks := []l2registry.Network{}
	for _, n := range f.networks {
		networks = append(networks, n)
	}
	return networks, nil
}

type ledgerFake struct {
	lastCommit commitledger.Commit
	submitErr  error
}

func (f *ledgerFake) SubmitCommit(ctx context.Context, c commitledger.Commit) (commitledger.Commit, error) {
	if f.submitErr != nil {
		return commitledger.Commit{}, f.submitErr
	}
	c.ID = c.Hash()
	f.lastCommit = c
	return c, nil
}

func (f *ledgerFake) GetCommit(ctx context.Context, networkID string, epoch uint64) (commitledger.Commit, error) {
	if f.lastCommit.Epoch != epoch {
		return commitledger.Commit{}, bridgeCommon.NewNotFoundError("no commit for epoch %d", epoch)
	}
	return f.lastCommit, nil
}

func (f *ledgerFake) GetLastCommit(ctx context.Context, networkID string) (commitledger.Commit, error) {
	if f.lastCommit.NetworkID == "" {
		return commitledger.Commit{}, bridgeCommon.NewNotFoundError("network %s has no commits", networkID)
	}
	return f.lastCommit, nil
}

type exiterFake struct {
	record     exitprocessor.ExitRecord
	lastReq    exitprocessor.ExitRequest
	fraudProof []byte
	submitErr  error
}

func (f *exiterFake) SubmitExit(ctx context.Context, req exitprocessor.ExitRequest) (exitprocessor.ExitRecord, error) {
	if f.submitErr != nil {
		return exitprocessor.ExitRecord{}, f.submitErr
	}
	f.lastReq = req
	return f.record, nil
}

func (f *exiterFake) Challenge(ctx context.Context, exitID common.Hash, fraudProof []byte) (exitprocessor.ExitRecord, error) {
	if f.submitErr != nil {
		return exitprocessor.ExitRecord{}, f.submitErr
	}
	f.fraudProof = fraudProof
	return f.record, nil
}

func (f *exiterFake) GetExits(ctx context.Context, networkID string, account common.Address) ([]exitprocessor.ExitRecord, error) {
	return []exitprocessor.ExitRecord{f.record}, nil
}

type bridgeWithFakes struct {
	bridge   *BridgeEndpoints
	registry *registryFake
	ledger   *ledgerFake
	exits    *exiterFake
}

func newBridgeWithFakes(t *testing.T) *bridgeWithFakes {
	t.Helper()
	registry := &registryFake{networks: map[string]l2registry.Network{}}
	ledger := &ledgerFake{}
	exits := &exiterFake{}
	logger := log.WithFields("test", t.Name())
	return &bridgeWithFakes{
		bridge:   NewBridgeEndpoints(logger, time.Second, time.Second, registry, ledger, exits),
		registry: registry,
		ledger:   ledger,
		exits:    exits,
	}
}

func TestRegisterNetwork(t *testing.T) {
	b := newBridgeWithFakes(t)

	result, err := b.bridge.RegisterNetwork(types.NetworkRequest{
		ID:        "rollup-1",
		ProofType: l2registry.ProofTypeGroth16,
		DAMode:    l2registry.DAModeInline,
	})
	require.Nil(t, err)
	require.Equal(t, "rollup-1", result)
	require.Contains(t, b.registry.networks, "rollup-1")
	require.Equal(t, time.Duration(0), b.registry.networks["rollup-1"].ChallengeWindow)
}

func TestRegisterNetworkError(t *testing.T) {
	b := newBridgeWithFakes(t)
	b.registry.addErr = bridgeCommon.NewValidationError("zk networks need a verifying key")

	_, err := b.bridge.RegisterNetwork(types.NetworkRequest{ID: "rollup-1"})
	require.NotNil(t, err)
	require.Equal(t, cdkrpc.InvalidParamsErrorCode, err.ErrorCode())
}

func TestGetNetworksMergesLastCommit(t *testing.T) {
	b := newBridgeWithFakes(t)
	b.registry.networks["rollup-1"] = l2registry.Network{
		ID:              "rollup-1",
		ProofType:       l2registry.ProofTypeOptimistic,
		ChallengeWindow: time.Minute,
		Status:          l2registry.StatusActive,
	}
	b.ledger.lastCommit = commitledger.Commit{NetworkID: "rollup-1", Epoch: 7}

	result, err := b.bridge.GetNetworks()
	require.Nil(t, err)
	infos, ok := result.([]types.NetworkInfo)
	require.True(t, ok)
	require.Len(t, infos, 1)
	require.Equal(t, uint64(7), infos[0].LastEpoch)
	require.Equal(t, uint64(60), infos[0].ChallengeWindow)
}

func TestGetNetworksWithoutCommits(t *testing.T) {
	b := newBridgeWithFakes(t)
	b.registry.networks["rollup-1"] = l2registry.Network{ID: "rollup-1"}

	result, err := b.bridge.GetNetworks()
	require.Nil(t, err)
	infos, ok := result.([]types.NetworkInfo)
	require.True(t, ok)
	require.Len(t, infos, 1)
	require.Equal(t, uint64(0), infos[0].LastEpoch)
}

func TestSubmitCommit(t *testing.T) {
	b := newBridgeWithFakes(t)

	result, err := b.bridge.SubmitCommit(types.CommitRequest{
		NetworkID: "rollup-1",
		Epoch:     3,
		StateRoot: common.HexToHash("beef"),
	})
	require.Nil(t, err)
	receipt, ok := result.(types.CommitReceipt)
	require.True(t, ok)
	require.Equal(t, uint64(3), receipt.Epoch)
	require.NotEqual(t, common.Hash{}, receipt.CommitID)
}

func TestSubmitCommitErrorCodes(t *testing.T) {
	testCases := []struct {
		name         string
		err          error
		expectedCode int
	}{
		{"ordering", bridgeCommon.NewOrderingError("epoch 3 is not above head 5"), cdkrpc.DefaultErrorCode},
		{"validation", bridgeCommon.NewValidationError("state root is empty"), cdkrpc.InvalidParamsErrorCode},
		{"proof", bridgeCommon.NewProofError("proof does not bind the commit"), cdkrpc.InvalidParamsErrorCode},
		{"not found", bridgeCommon.NewNotFoundError("network is not registered"), cdkrpc.NotFoundErrorCode},
		{"timeout", bridgeCommon.NewTimeoutError("verification timed out"), cdkrpc.DefaultErrorCode},
		{"conflict", bridgeCommon.NewConflictError("commit raced"), cdkrpc.DefaultErrorCode},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBridgeWithFakes(t)
			b.ledger.submitErr = tc.err

			_, err := b.bridge.SubmitCommit(types.CommitRequest{NetworkID: "rollup-1"})
			require.NotNil(t, err)
			require.Equal(t, tc.expectedCode, err.ErrorCode())
		})
	}
}

func TestVerifyExit(t *testing.T) {
	b := newBridgeWithFakes(t)
	b.exits.record = exitprocessor.ExitRecord{
		ID:     common.HexToHash("1234"),
		Status: exitprocessor.StatusChallengeWindow,
	}

	result, err := b.bridge.VerifyExit(types.ExitRequest{
		NetworkID: "rollup-1",
		Epoch:     1,
		Account:   common.HexToAddress("0xaa"),
		Amount:    (*hexutil.Big)(big.NewInt(100)),
		Nonce:     1,
	})
	require.Nil(t, err)
	receipt, ok := result.(types.ExitReceipt)
	require.True(t, ok)
	require.Equal(t, common.HexToHash("1234"), receipt.ExitID)
	require.Equal(t, exitprocessor.StatusChallengeWindow, receipt.Status)
}

func TestChallenge(t *testing.T) {
	b := newBridgeWithFakes(t)
	b.exits.record = exitprocessor.ExitRecord{
		ID:              common.HexToHash("1234"),
		Status:          exitprocessor.StatusRejected,
		RejectionReason: "fraud proof accepted",
	}

	result, err := b.bridge.Challenge(common.HexToHash("1234"), []byte("sig"))
	require.Nil(t, err)
	receipt, ok := result.(types.ChallengeReceipt)
	require.True(t, ok)
	require.Equal(t, exitprocessor.StatusRejected, receipt.Status)
	require.Equal(t, "fraud proof accepted", receipt.RejectionReason)
}

func TestGetExits(t *testing.T) {
	b := newBridgeWithFakes(t)
	b.exits.record = exitprocessor.ExitRecord{ID: common.HexToHash("1234")}

	result, err := b.bridge.GetExits("rollup-1", common.Address{})
	require.Nil(t, err)
	exits, ok := result.([]exitprocessor.ExitRecord)
	require.True(t, ok)
	require.Len(t, exits, 1)
}
