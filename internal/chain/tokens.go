package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// DefaultDecimals applies to tokens that are not in the registry.
const DefaultDecimals = 18

// Token is one configured ERC-20 token.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int
}

// TokenRegistry resolves token symbols and addresses in both directions.
// It is built once at startup and read-only afterwards.
type TokenRegistry struct {
	bySymbol  map[string]Token
	byAddress map[common.Address]Token
}

// NewTokenRegistry indexes tokens. Symbols are case-insensitive.
func NewTokenRegistry(tokens []Token) *TokenRegistry {
	r := &TokenRegistry{
		bySymbol:  make(map[string]Token, len(tokens)),
		byAddress: make(map[common.Address]Token, len(tokens)),
	}
	for _, t := range tokens {
		r.bySymbol[strings.ToUpper(t.Symbol)] = t
		r.byAddress[t.Address] = t
	}
	return r
}

// Resolve accepts a symbol or a hex address and returns the token. Unknown
// hex addresses resolve to a token with DefaultDecimals and the short address
// as symbol.
func (r *TokenRegistry) Resolve(symbolOrAddress string) (Token, error) {
	if t, ok := r.bySymbol[strings.ToUpper(symbolOrAddress)]; ok {
		return t, nil
	}
	if common.IsHexAddress(symbolOrAddress) {
		return r.Lookup(common.HexToAddress(symbolOrAddress)), nil
	}
	return Token{}, fmt.Errorf("chain: token %q: %w", symbolOrAddress, domain.ErrUnknownAsset)
}

// Lookup returns the registered token for addr, or a placeholder with
// DefaultDecimals.
func (r *TokenRegistry) Lookup(addr common.Address) Token {
	if t, ok := r.byAddress[addr]; ok {
		return t
	}
	hex := addr.Hex()
	return Token{Symbol: hex[:6] + "…" + hex[len(hex)-4:], Address: addr, Decimals: DefaultDecimals}
}

// Symbol returns the symbol for addr.
func (r *TokenRegistry) Symbol(addr common.Address) string {
	return r.Lookup(addr).Symbol
}

// Tokens returns every registered token.
func (r *TokenRegistry) Tokens() []Token {
	out := make([]Token, 0, len(r.byAddress))
	for _, t := range r.byAddress {
		out = append(out, t)
	}
	return out
}
