/**
 * @description
 * This package provides the client for the HAVEN token contract. It wraps a
 * go-ethereum RPC client with the contract's ABI so the rest of the service
 * works in terms of mint/burn calldata and typed read views instead of raw
 * RPC calls.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum: RPC client, ABI packing, core types.
 */

package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// havenABI is the slice of the HAVEN contract the service calls.
const havenABI = `[
	{"name":"mint","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"reason","type":"string"}],"outputs":[]},
	{"name":"burnFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"amount","type":"uint256"},{"name":"reason","type":"string"}],"outputs":[]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"paused","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"name":"getEmissionStats","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"minted","type":"uint256"},{"name":"burned","type":"uint256"},{"name":"cap","type":"uint256"}]}
]`

// EmissionStats mirrors the contract's getEmissionStats view.
type EmissionStats struct {
	Minted *big.Int
	Burned *big.Int
	Cap    *big.Int
}

// Client talks to the HAVEN contract through a JSON-RPC node.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	abi      abi.ABI
}

// Dial connects to the node and binds the contract address.
func Dial(ctx context.Context, rpcURL, contractAddress string) (*Client, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(havenABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc node: %w", err)
	}
	return &Client{
		eth:      eth,
		contract: common.HexToAddress(contractAddress),
		abi:      parsed,
	}, nil
}

// ContractAddress returns the bound token contract address.
func (c *Client) ContractAddress() common.Address {
	return c.contract
}

// PendingNonceAt returns the node's view of the account's next nonce.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

// SuggestGasPrice returns the node's current gas price estimate.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

// TransactionReceipt fetches the receipt for a broadcast transaction.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

// MintCalldata packs a mint(to, amount, reason) call.
func (c *Client) MintCalldata(to common.Address, amount *big.Int, reason string) ([]byte, error) {
	return c.abi.Pack("mint", to, amount, reason)
}

// BurnCalldata packs a burnFrom(from, amount, reason) call.
func (c *Client) BurnCalldata(from common.Address, amount *big.Int, reason string) ([]byte, error) {
	return c.abi.Pack("burnFrom", from, amount, reason)
}

// BalanceOf returns the token balance of an account.
func (c *Client) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf return type %T", out[0])
	}
	return balance, nil
}

// TotalSupply returns the current token supply.
func (c *Client) TotalSupply(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "totalSupply")
	if err != nil {
		return nil, err
	}
	supply, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected totalSupply return type %T", out[0])
	}
	return supply, nil
}

// Paused reports whether the contract's circuit is paused.
func (c *Client) Paused(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, "paused")
	if err != nil {
		return false, err
	}
	paused, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected paused return type %T", out[0])
	}
	return paused, nil
}

// GetEmissionStats returns the contract's lifetime emission counters.
func (c *Client) GetEmissionStats(ctx context.Context) (*EmissionStats, error) {
	out, err := c.call(ctx, "getEmissionStats")
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("unexpected getEmissionStats arity %d", len(out))
	}
	stats := &EmissionStats{}
	var ok bool
	if stats.Minted, ok = out[0].(*big.Int); !ok {
		return nil, fmt.Errorf("unexpected minted type %T", out[0])
	}
	if stats.Burned, ok = out[1].(*big.Int); !ok {
		return nil, fmt.Errorf("unexpected burned type %T", out[1])
	}
	if stats.Cap, ok = out[2].(*big.Int); !ok {
		return nil, fmt.Errorf("unexpected cap type %T", out[2])
	}
	return stats, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s returned no values", method)
	}
	return out, nil
}
