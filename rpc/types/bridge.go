package types

import (
	"time"

	"github.com/dmrl789/ippan-bridge/commitledger"
	"github.com/dmrl789/ippan-bridge/exitprocessor"
	"github.com/dmrl789/ippan-bridge/l2registry"
	treeTypes "github.com/dmrl789/ippan-bridge/tree/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CommitRequest is the wire form of a state commitment submission
type CommitRequest struct {
	NetworkID  string        `json:"network_id"`
	Epoch      uint64        `json:"epoch"`
	StateRoot  common.Hash   `json:"state_root"`
	DAHash     common.Hash   `json:"da_hash"`
	Proof      hexutil.Bytes `json:"proof"`
	InlineData hexutil.Bytes `json:"inline_data,omitempty"`
}

// CommitReceipt is returned on an accepted commit
type CommitReceipt struct {
	CommitID common.Hash `json:"commit_id"`
	Epoch    uint64      `json:"epoch"`
}

// ExitRequest is the wire form of a withdrawal request
type ExitRequest struct {
	NetworkID string          `json:"l2_id"`
	Epoch     uint64          `json:"epoch"`
	Account   common.Address  `json:"account"`
	Amount    *hexutil.Big    `json:"amount"`
	Nonce     uint64          `json:"nonce"`
	LeafIndex uint32          `json:"leaf_index"`
	Proof     treeTypes.Proof `json:"proof_of_inclusion"`
}

// ExitReceipt is returned on an accepted exit
type ExitReceipt struct {
	ExitID common.Hash              `json:"exit_id"`
	Status exitprocessor.ExitStatus `json:"status"`
}

// ChallengeReceipt is returned on an accepted fraud proof
type ChallengeReceipt struct {
	ExitID          common.Hash              `json:"exit_id"`
	Status          exitprocessor.ExitStatus `json:"status"`
	RejectionReason string                   `json:"rejection_reason"`
}

// NetworkRequest is the wire form of an operator network registration
type NetworkRequest struct {
	ID              string               `json:"id"`
	ProofType       l2registry.ProofType `json:"proof_type"`
	DAMode          l2registry.DAMode    `json:"da_mode"`
	ChallengeWindow uint64               `json:"challenge_window_seconds"`
	AttestorAddr    common.Address       `json:"attestor_addr,omitempty"`
	VerifyingKey    hexutil.Bytes        `json:"verifying_key,omitempty"`
}

// NetworkInfo is a registry snapshot entry enriched with the head of the
// network's commit chain
type NetworkInfo struct {
	ID              string               `json:"id"`
	ProofType       l2registry.ProofType `json:"proof_type"`
	DAMode          l2registry.DAMode    `json:"da_mode"`
	ChallengeWindow uint64               `json:"challenge_window_seconds"`
	Status          l2registry.Status    `json:"status"`
	LastEpoch       uint64               `json:"last_epoch"`
	LastCommitAt    time.Time            `json:"last_commit_at"`
}

// NewNetworkInfo merges a registered network with its last accepted commit
func NewNetworkInfo(network l2registry.Network, lastCommit commitledger.Commit) NetworkInfo {
	return NetworkInfo{
		ID:              network.ID,
		ProofType:       network.ProofType,
		DAMode:          network.DAMode,
		ChallengeWindow: uint64(network.ChallengeWindow.Seconds()),
		Status:          network.Status,
		LastEpoch:       lastCommit.Epoch,
		LastCommitAt:    lastCommit.AcceptedAt,
	}
}
