package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/0xPolygon/cdk-rpc/rpc"
	"github.com/dmrl789/ippan-bridge/commitledger"
	"github.com/dmrl789/ippan-bridge/exitprocessor"
	"github.com/dmrl789/ippan-bridge/rpc/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type BridgeClientInterface interface {
	RegisterNetwork(network types.NetworkRequest) (string, error)
	GetNetworks() ([]types.NetworkInfo, error)
	SubmitCommit(commit types.CommitRequest) (*types.CommitReceipt, error)
	GetCommit(networkID string, epoch uint64) (*commitledger.Commit, error)
	VerifyExit(exit types.ExitRequest) (*types.ExitReceipt, error)
	Challenge(exitID common.Hash, fraudProof []byte) (*types.ChallengeReceipt, error)
	GetExits(networkID string, account common.Address) ([]exitprocessor.ExitRecord, error)
}

func (c *Client) RegisterNetwork(network types.NetworkRequest) (string, error) {
	response, err := rpc.JSONRPCCall(c.url, "bridge_registerNetwork", network)
	if err != nil {
		return "", err
	}
	if response.Error != nil {
		return "", fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result string
	return result, json.Unmarshal(response.Result, &result)
}

func (c *Client) GetNetworks() ([]types.NetworkInfo, error) {
	response, err := rpc.JSONRPCCall(c.url, "bridge_getNetworks")
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result []types.NetworkInfo
	return result, json.Unmarshal(response.Result, &result)
}

func (c *Client) SubmitCommit(commit types.CommitRequest) (*types.CommitReceipt, error) {
	response, err := rpc.JSONRPCCall(c.url, "bridge_submitCommit", commit)
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result types.CommitReceipt
	return &result, json.Unmarshal(response.Result, &result)
}

func (c *Client) GetCommit(networkID string, epoch uint64) (*commitledger.Commit, error) {
	response, err := rpc.JSONRPCCall(c.url, "bridge_getCommit", networkID, epoch)
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result commitledger.Commit
	return &result, json.Unmarshal(response.Result, &result)
}

func (c *Client) VerifyExit(exit types.ExitRequest) (*types.ExitReceipt, error) {
	response, err := rpc.JSONRPCCall(c.url, "bridge_verifyExit", exit)
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result types.ExitReceipt
	return &result, json.Unmarshal(response.Result, &result)
}

func (c *Client) Challenge(exitID common.Hash, fraudProof []byte) (*types.ChallengeReceipt, error) {
	response, err := rpc.JSONRPCCall(c.url, "bridge_challenge", exitID, hexutil.Bytes(fraudProof))
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result types.ChallengeReceipt
	return &result, json.Unmarshal(response.Result, &result)
}

func (c *Client) GetExits(networkID string, account common.Address) ([]exitprocessor.ExitRecord, error) {
	response, err := rpc.JSONRPCCall(c.url, "bridge_getExits", networkID, account)
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result []exitprocessor.ExitRecord
	return result, json.Unmarshal(response.Result, &result)
}
