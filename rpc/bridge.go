package rpc

import (
	"context"
	"math/big"
	"time"

	"github.com/0xPolygon/cdk-rpc/rpc"
	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/commitledger"
	"github.com/dmrl789/ippan-bridge/exitprocessor"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/dmrl789/ippan-bridge/log"
	"github.com/dmrl789/ippan-bridge/rpc/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	// BRIDGE is the namespace of the bridge service
	BRIDGE    = "bridge"
	meterName = "github.com/dmrl789/ippan-bridge/rpc"

	zeroHex = "0x0"
)

// BridgeEndpoints contains implementations for the "bridge" RPC endpoints
type BridgeEndpoints struct {
	logger       *log.Logger
	meter        metric.Meter
	readTimeout  time.Duration
	writeTimeout time.Duration
	registry     Registryer
	ledger       Ledgerer
	exits        Exiter
}

// NewBridgeEndpoints returns BridgeEndpoints
func NewBridgeEndpoints(
	logger *log.Logger,
	writeTimeout time.Duration,
	readTimeout time.Duration,
	registry Registryer,
	ledger Ledgerer,
	exits Exiter,
) *BridgeEndpoints {
	meter := otel.Meter(meterName)
	return &BridgeEndpoints{
		logger:       logger,
		meter:        meter,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		registry:     registry,
		ledger:       ledger,
		exits:        exits,
	}
}

// rpcErr maps the domain error taxonomy onto JSON-RPC error codes
func rpcErr(err error) rpc.Error {
	switch bridgeCommon.KindOf(err) {
	case bridgeCommon.KindValidation, bridgeCommon.KindProof:
		return rpc.NewRPCError(rpc.InvalidParamsErrorCode, err.Error())
	case bridgeCommon.KindNotFound:
		return rpc.NewRPCError(rpc.NotFoundErrorCode, err.Error())
	default:
		return rpc.NewRPCError(rpc.DefaultErrorCode, err.Error())
	}
}

// RegisterNetwork registers a new L2 network on the bridge. Proof type and DA
// mode become immutable once the network has accepted commits.
func (b *BridgeEndpoints) RegisterNetwork(network types.NetworkRequest) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
	defer cancel()

	c, merr := b.meter.Int64Counter("register_network")
	if merr != nil {
		b.logger.Warnf("failed to create register_network counter: %s", merr)
	}
	c.Add(ctx, 1)

	err := b.registry.AddNetwork(ctx, l2registry.Network{
		ID:              network.ID,
		ProofType:       network.ProofType,
		DAMode:          network.DAMode,
		ChallengeWindow: time.Duration(network.ChallengeWindow) * time.Second,
		AttestorAddr:    network.AttestorAddr,
		VerifyingKey:    network.VerifyingKey,
	})
	if err != nil {
		return zeroHex, rpcErr(err)
	}
	return network.ID, nil
}

// GetNetworks returns the registry snapshot, each entry enriched with the
// head of the network's commit chain
func (b *BridgeEndpoints) GetNetworks() (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.readTimeout)
	defer cancel()

	c, merr := b.meter.Int64Counter("get_networks")
	if merr != nil {
		b.logger.Warnf("failed to create get_networks counter: %s", merr)
	}
	c.Add(ctx, 1)

	networks, err := b.registry.GetNetworks(ctx)
	if err != nil {
		return zeroHex, rpcErr(err)
	}
	infos := make([]types.NetworkInfo, 0, len(networks))
	for _, network := range networks {
		lastCommit, err := b.ledger.GetLastCommit(ctx, network.ID)
		if err != nil && !bridgeCommon.IsKind(err, bridgeCommon.KindNotFound) {
			return zeroHex, rpcErr(err)
		}
		infos = append(infos, types.NewNetworkInfo(network, lastCommit))
	}
	return infos, nil
}

// SubmitCommit submits a state commitment for an epoch of a registered
// network. The commit is proof verified before acceptance.
func (b *BridgeEndpoints) SubmitCommit(commit types.CommitRequest) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
	defer cancel()

	c, merr := b.meter.Int64Counter("submit_commit")
	if merr != nil {
		b.logger.Warnf("failed to create submit_commit counter: %s", merr)
	}
	c.Add(ctx, 1)

	accepted, err := b.ledger.SubmitCommit(ctx, commitledger.Commit{
		NetworkID:  commit.NetworkID,
		Epoch:      commit.Epoch,
		StateRoot:  commit.StateRoot,
		DAHash:     commit.DAHash,
		Proof:      commit.Proof,
		InlineData: commit.InlineData,
	})
	if err != nil {
		return zeroHex, rpcErr(err)
	}
	return types.CommitReceipt{CommitID: accepted.ID, Epoch: accepted.Epoch}, nil
}

// GetCommit returns the accepted commit of a network at an epoch
func (b *BridgeEndpoints) GetCommit(networkID string, epoch uint64) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.readTimeout)
	defer cancel()

	c, merr := b.meter.Int64Counter("get_commit")
	if merr != nil {
		b.logger.Warnf("failed to create get_commit counter: %s", merr)
	}
	c.Add(ctx, 1)

	commit, err := b.ledger.GetCommit(ctx, networkID, epoch)
	if err != nil {
		return zeroHex, rpcErr(err)
	}
	return commit, nil
}

// VerifyExit submits a withdrawal request, verifying its inclusion proof
// against the committed state root it references
func (b *BridgeEndpoints) VerifyExit(exit types.ExitRequest) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
	defer cancel()

	c, merr := b.meter.Int64Counter("verify_exit")
	if merr != nil {
		b.logger.Warnf("failed to create verify_exit counter: %s", merr)
	}
	c.Add(ctx, 1)

	var amount *big.Int
	if exit.Amount != nil {
		amount = exit.Amount.ToInt()
	}
	record, err := b.exits.SubmitExit(ctx, exitprocessor.ExitRequest{
		NetworkID: exit.NetworkID,
		Epoch:     exit.Epoch,
		Account:   exit.Account,
		Amount:    amount,
		Nonce:     exit.Nonce,
		LeafIndex: exit.LeafIndex,
		Proof:     exit.Proof,
	})
	if err != nil {
		return zeroHex, rpcErr(err)
	}
	return types.ExitReceipt{ExitID: record.ID, Status: record.Status}, nil
}

// Challenge submits a fraud proof against an exit inside its challenge window
func (b *BridgeEndpoints) Challenge(exitID common.Hash, fraudProof hexutil.Bytes) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
	defer cancel()

	c, merr := b.meter.Int64Counter("challenge")
	if merr != nil {
		b.logger.Warnf("failed to create challenge counter: %s", merr)
	}
	c.Add(ctx, 1)

	record, err := b.exits.Challenge(ctx, exitID, fraudProof)
	if err != nil {
		return zeroHex, rpcErr(err)
	}
	return types.ChallengeReceipt{
		ExitID:          record.ID,
		Status:          record.Status,
		RejectionReason: record.RejectionReason,
	}, nil
}

// GetExits returns exits filtered by network and/or account. Empty filters
// return everything.
func (b *BridgeEndpoints) GetExits(networkID string, account common.Address) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.readTimeout)
	defer cancel()

	c, merr := b.meter.Int64Counter("get_exits")
	if merr != nil {
		b.logger.Warnf("failed to create get_exits counter: %s", merr)
	}
	c.Add(ctx, 1)

	exits, err := b.exits.GetExits(ctx, networkID, account)
	if err != nil {
		return zeroHex, rpcErr(err)
	}
	return exits, nil
}
