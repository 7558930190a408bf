// Package chain wraps the go-ethereum client with the narrow read-only
// surface the position adapters need: packed eth_call plus native balance.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ncastellan/flare-portfolio/internal/errors"
)

// Caller is the read-only query surface consumed by adapters. Every call is
// bounded by the caller's context and can fail independently.
type Caller interface {
	Call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) ([]any, error)
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// Client is the ethclient-backed Caller implementation.
type Client struct {
	ec *ethclient.Client
}

func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, strings.TrimSpace(rpcURL))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	return &Client{ec: ec}, nil
}

func (c *Client) Close() {
	if c != nil && c.ec != nil {
		c.ec.Close()
	}
}

// Call packs method+args against the given ABI, performs eth_call at the
// latest block, and unpacks the outputs.
func (c *Client) Call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s call", method), err)
	}
	msg := ethereum.CallMsg{To: &contract, Data: data}
	raw, err := c.ec.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("eth_call %s on %s", method, contract.Hex()), err)
	}
	values, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s result", method), err)
	}
	return values, nil
}

func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.ec.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "query native balance", err)
	}
	return balance, nil
}

// MustParseABI parses an ABI fragment known at compile time. It panics on
// malformed input, which indicates a bug in the registry constants.
func MustParseABI(fragment string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(fragment))
	if err != nil {
		panic(fmt.Sprintf("parse abi fragment: %v", err))
	}
	return parsed
}
