package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// Keyring holds the private keys of every configured signing identity,
// indexed by address, and remembers the configuration order.
type Keyring struct {
	mu      sync.RWMutex
	keys    map[common.Address]*ecdsa.PrivateKey
	wallets []domain.Wallet
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey)}
}

// Add registers a hex private key under purpose and returns its address.
// Adding the same key twice is an error.
func (k *Keyring) Add(purpose, privateKeyHex string) (common.Address, error) {
	raw, err := normalizeKey(privateKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, dup := k.keys[addr]; dup {
		return common.Address{}, fmt.Errorf("crypto: duplicate identity %s", addr.Hex())
	}
	k.keys[addr] = pk
	k.wallets = append(k.wallets, domain.Wallet{Address: addr, Purpose: purpose})
	return addr, nil
}

// AddSource resolves src and registers the result under purpose.
func (k *Keyring) AddSource(purpose string, src KeySource) (common.Address, error) {
	hexKey, err := ResolveKey(src)
	if err != nil {
		return common.Address{}, err
	}
	return k.Add(purpose, hexKey)
}

// Wallets returns the identities in the order they were added.
func (k *Keyring) Wallets() []domain.Wallet {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]domain.Wallet, len(k.wallets))
	copy(out, k.wallets)
	return out
}

// Has reports whether addr belongs to the keyring.
func (k *Keyring) Has(addr common.Address) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[addr]
	return ok
}

// SignTx signs tx for chainID with the key belonging to from.
func (k *Keyring) SignTx(from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	k.mu.RLock()
	pk, ok := k.keys[from]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("crypto: sign for %s: %w", from.Hex(), domain.ErrUnknownSigner)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), pk)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign tx: %w", err)
	}
	return signed, nil
}

// AddressOf returns the address derived from a hex private key.
func AddressOf(privateKeyHex string) (common.Address, error) {
	raw, err := normalizeKey(privateKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(pk.PublicKey), nil
}
