package domain

import "github.com/ethereum/go-ethereum/common"

// Wallet purposes. An identity is only leased for the purpose it is tagged with.
const (
	PurposeRollover  = "rollover"
	PurposeArbitrage = "arbitrage"
)

// AssetNative names the chain's native gas token in balance lookups.
const AssetNative = "native"

// Wallet is a pre-provisioned signing identity.
type Wallet struct {
	Address common.Address
	Purpose string
}

// WalletSummary is the read-only view of a pool member served to observers.
type WalletSummary struct {
	Address string `json:"address"`
	Purpose string `json:"purpose"`
	Leased  bool   `json:"leased"`
}
