// Package chain is the keeper's only path to the ledger: gas price, nonces,
// transaction submission, receipts, balances and the oracle and AMM quotes.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// Backend is the subset of *ethclient.Client the gateway uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ Backend = (*ethclient.Client)(nil)

// TxSigner signs transactions for identities it holds.
type TxSigner interface {
	SignTx(from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Contracts holds the addresses of the remote contracts.
type Contracts struct {
	Protocol    common.Address
	SwapNetwork common.Address
	PriceFeeds  common.Address
	Watcher     common.Address
}

// Config configures a Gateway.
type Config struct {
	Contracts   Contracts
	ReceiptPoll time.Duration
}

// Gateway wraps an RPC backend with the keeper's ledger operations.
type Gateway struct {
	backend   Backend
	signer    TxSigner
	tokens    *TokenRegistry
	contracts Contracts
	poll      time.Duration
	logger    *slog.Logger

	chainMu sync.Mutex
	chainID *big.Int
}

// Dial connects to rpcURL and returns the underlying client.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// NewGateway creates a Gateway. tokens may be nil when no ERC-20 balance or
// symbol lookups are needed.
func NewGateway(backend Backend, signer TxSigner, tokens *TokenRegistry, cfg Config, logger *slog.Logger) *Gateway {
	if tokens == nil {
		tokens = NewTokenRegistry(nil)
	}
	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Gateway{
		backend:   backend,
		signer:    signer,
		tokens:    tokens,
		contracts: cfg.Contracts,
		poll:      poll,
		logger:    logger.With(slog.String("component", "gateway")),
	}
}

// Tokens returns the registry the gateway resolves assets with.
func (g *Gateway) Tokens() *TokenRegistry { return g.tokens }

// ChainID returns the network chain id, fetched once and then reused.
func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	g.chainMu.Lock()
	defer g.chainMu.Unlock()
	if g.chainID != nil {
		return g.chainID, nil
	}
	id, err := g.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	g.chainID = id
	return id, nil
}

// GasPrice returns the node's current gas price suggestion. It is not cached.
func (g *Gateway) GasPrice(ctx context.Context) (*big.Int, error) {
	p, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: gas price: %w", err)
	}
	return p, nil
}

// PendingNonce returns the next nonce for addr including transactions still
// in the mempool. Callers must hold an exclusive lease on addr.
func (g *Gateway) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := g.backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce %s: %w", addr.Hex(), err)
	}
	return n, nil
}

// Submit signs call as from, sends it and waits until it is mined. A node
// rejection or a reverted receipt is returned as *SubmissionError.
func (g *Gateway) Submit(ctx context.Context, call Call, from common.Address, gasLimit uint64, gasPrice *big.Int, nonce uint64) (common.Hash, error) {
	chainID, err := g.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	to := call.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     call.Data,
	})
	signed, err := g.signer.SignTx(from, tx, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: %s: %w", call.Method, err)
	}

	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, &SubmissionError{Method: call.Method, Reason: revertReason(err), Err: err}
	}
	hash := signed.Hash()
	g.logger.DebugContext(ctx, "transaction sent",
		slog.String("method", call.Method),
		slog.String("tx", hash.Hex()),
		slog.String("from", from.Hex()),
		slog.Uint64("nonce", nonce),
	)

	receipt, err := g.waitMined(ctx, hash)
	if err != nil {
		return hash, fmt.Errorf("chain: %s: wait for %s: %w", call.Method, hash.Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return hash, nil
	}

	// Replay the call at the inclusion block to recover the revert reason.
	msg := ethereum.CallMsg{From: from, To: &to, Gas: gasLimit, GasPrice: gasPrice, Value: value, Data: call.Data}
	_, callErr := g.backend.CallContract(ctx, msg, receipt.BlockNumber)
	reason := "execution reverted"
	if callErr != nil {
		reason = revertReason(callErr)
	}
	return hash, &SubmissionError{Method: call.Method, TxHash: hash, Reason: reason, Mined: true}
}

// waitMined polls for the receipt of hash until it exists or ctx ends.
func (g *Gateway) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()
	for {
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			g.logger.WarnContext(ctx, "receipt poll failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Receipt fetches the receipt of hash once. It returns domain.ErrReceiptPending
// when the transaction is not mined yet.
func (g *Gateway) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := g.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), domain.ErrReceiptPending)
	}
	if err != nil {
		return nil, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

// Balance returns the balance of addr in asset: domain.AssetNative for the
// gas token, otherwise a token symbol or address.
func (g *Gateway) Balance(ctx context.Context, addr common.Address, asset string) (*big.Int, error) {
	if asset == "" || asset == domain.AssetNative {
		bal, err := g.backend.BalanceAt(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("chain: balance %s: %w", addr.Hex(), err)
		}
		return bal, nil
	}
	tok, err := g.tokens.Resolve(asset)
	if err != nil {
		return nil, err
	}
	out, err := g.call(ctx, erc20ABI, tok.Address, "balanceOf", addr)
	if err != nil {
		return nil, fmt.Errorf("chain: %s balance %s: %w", tok.Symbol, addr.Hex(), err)
	}
	return firstBig(out)
}

// OracleReturn asks the price feeds how much target a given amount of
// source is worth.
func (g *Gateway) OracleReturn(ctx context.Context, source, target common.Address, amount *big.Int) (*big.Int, error) {
	out, err := g.call(ctx, priceFeedsABI, g.contracts.PriceFeeds, "queryReturn", source, target, amount)
	if err != nil {
		return nil, fmt.Errorf("chain: oracle quote: %w", err)
	}
	return firstBig(out)
}

// SwapReturn returns the AMM conversion path from source to target and the
// amount of target that path yields for amount.
func (g *Gateway) SwapReturn(ctx context.Context, source, target common.Address, amount *big.Int) (*big.Int, []common.Address, error) {
	out, err := g.call(ctx, swapNetworkABI, g.contracts.SwapNetwork, "conversionPath", source, target)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: conversion path: %w", err)
	}
	if len(out) != 1 {
		return nil, nil, fmt.Errorf("chain: conversion path: unexpected result len %d", len(out))
	}
	path, ok := out[0].([]common.Address)
	if !ok {
		return nil, nil, fmt.Errorf("chain: conversion path: unexpected type %T", out[0])
	}
	if len(path) == 0 {
		return nil, nil, fmt.Errorf("chain: no conversion path %s -> %s", source.Hex(), target.Hex())
	}

	out, err = g.call(ctx, swapNetworkABI, g.contracts.SwapNetwork, "rateByPath", path, amount)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: rate by path: %w", err)
	}
	rate, err := firstBig(out)
	if err != nil {
		return nil, nil, err
	}
	return rate, path, nil
}

func (g *Gateway) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return contractABI.Unpack(method, out)
}

func firstBig(out []any) (*big.Int, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("chain: unexpected result len %d", len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: unexpected result type %T", out[0])
	}
	return v, nil
}
