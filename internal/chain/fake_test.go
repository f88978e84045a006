package chain

import (
	"bytes"
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend is an in-memory Backend. CallContract is answered by the
// handler registered for the 4-byte selector.
type fakeBackend struct {
	mu       sync.Mutex
	chainID  *big.Int
	gasPrice *big.Int
	nonces   map[common.Address]uint64
	balances map[common.Address]*big.Int
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	sendErr  error
	// status applied to receipts of sent transactions.
	status       uint64
	handlers     map[string]func(msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	chainIDCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  big.NewInt(30),
		gasPrice: big.NewInt(65_164_000),
		nonces:   map[common.Address]uint64{},
		balances: map[common.Address]*big.Int{},
		receipts: map[common.Hash]*types.Receipt{},
		status:   types.ReceiptStatusSuccessful,
		handlers: map[string]func(ethereum.CallMsg, *big.Int) ([]byte, error){},
	}
}

func (f *fakeBackend) handle(selector []byte, h func(ethereum.CallMsg, *big.Int) ([]byte, error)) {
	f.handlers[string(selector)] = h
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainIDCalls++
	return f.chainID, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeBackend) PendingNonceAt(_ context.Context, a common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[a], nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      f.status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(int64(100 + len(f.sent))),
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) BalanceAt(_ context.Context, a common.Address, _ *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[a]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, nil
	}
	for sel, h := range f.handlers {
		if bytes.Equal([]byte(sel), msg.Data[:4]) {
			return h(msg, block)
		}
	}
	return nil, nil
}

// revertError mimics the JSON-RPC error a node returns for a reverted call.
type revertError struct{ data string }

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorData() interface{} { return e.data }
