package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABIs for the remote contracts the keeper talks to. Only the
// methods and events actually used are listed.
const (
	protocolABIJSON = `[
	{"type":"function","name":"rollover","stateMutability":"nonpayable","inputs":[
		{"name":"loanId","type":"bytes32"},
		{"name":"loanDataBytes","type":"bytes"}],"outputs":[]},
	{"type":"event","name":"Rollover","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"caller","type":"address","indexed":true},
		{"name":"loanId","type":"bytes32","indexed":true},
		{"name":"lender","type":"address","indexed":false},
		{"name":"loanToken","type":"address","indexed":false},
		{"name":"collateralToken","type":"address","indexed":false},
		{"name":"collateral","type":"uint256","indexed":false},
		{"name":"principal","type":"uint256","indexed":false},
		{"name":"endTimestamp","type":"uint256","indexed":false},
		{"name":"rewardReceiver","type":"address","indexed":false},
		{"name":"reward","type":"uint256","indexed":false}]}
]`

	swapNetworkABIJSON = `[
	{"type":"function","name":"conversionPath","stateMutability":"view","inputs":[
		{"name":"_sourceToken","type":"address"},
		{"name":"_targetToken","type":"address"}],"outputs":[
		{"name":"","type":"address[]"}]},
	{"type":"function","name":"rateByPath","stateMutability":"view","inputs":[
		{"name":"_path","type":"address[]"},
		{"name":"_amount","type":"uint256"}],"outputs":[
		{"name":"","type":"uint256"}]}
]`

	priceFeedsABIJSON = `[
	{"type":"function","name":"queryReturn","stateMutability":"view","inputs":[
		{"name":"sourceToken","type":"address"},
		{"name":"destToken","type":"address"},
		{"name":"sourceAmount","type":"uint256"}],"outputs":[
		{"name":"destAmount","type":"uint256"}]}
]`

	watcherABIJSON = `[
	{"type":"function","name":"arbitrage","stateMutability":"nonpayable","inputs":[
		{"name":"_conversionPath","type":"address[]"},
		{"name":"_amount","type":"uint256"},
		{"name":"_minProfit","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"Arbitrage","anonymous":false,"inputs":[
		{"name":"_beneficiary","type":"address","indexed":true},
		{"name":"_sourceToken","type":"address","indexed":true},
		{"name":"_targetToken","type":"address","indexed":true},
		{"name":"_sourceTokenAmount","type":"uint256","indexed":false},
		{"name":"_targetTokenAmount","type":"uint256","indexed":false},
		{"name":"_priceFeedAmount","type":"uint256","indexed":false},
		{"name":"_profit","type":"uint256","indexed":false}]}
]`

	erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"}],"outputs":[
		{"name":"","type":"uint256"}]}
]`
)

var (
	protocolABI    = mustParseABI(protocolABIJSON)
	swapNetworkABI = mustParseABI(swapNetworkABIJSON)
	priceFeedsABI  = mustParseABI(priceFeedsABIJSON)
	watcherABI     = mustParseABI(watcherABIJSON)
	erc20ABI       = mustParseABI(erc20ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
