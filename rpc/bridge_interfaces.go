package rpc

import (
	"context"

	"github.com/dmrl789/ippan-bridge/commitledger"
	"github.com/dmrl789/ippan-bridge/exitprocessor"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/ethereum/go-ethereum/common"
)

type Registryer interface {
	AddNetwork(ctx context.Context, n l2registry.Network) error
	GetNetwork(ctx context.Context, id string) (l2registry.Network, error)
	GetNetworks(ctx context.Context) ([]l2registry.Network, error)
}

type Ledgerer interface {
	SubmitCommit(ctx context.Context, c commitledger.Commit) (commitledger.Commit, error)
	GetCommit(ctx context.Context, networkID string, epoch uint64) (commitledger.Commit, error)
	GetLastCommit(ctx context.Context, networkID string) (commitledger.Commit, error)
}

type Exiter interface {
	SubmitExit(ctx context.Context, req exitprocessor.ExitRequest) (exitprocessor.ExitRecord, error)
	Challenge(ctx context.Context, exitID common.Hash, fraudProof []byte) (exitprocessor.ExitRecord, error)
	GetExits(ctx context.Context, networkID string, account common.Address) ([]exitprocessor.ExitRecord, error)
}
