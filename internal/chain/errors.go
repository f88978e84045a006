package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// profitNotMet is the revert reason the watcher contract uses when the
// realized swap output falls short of the requested minimum profit.
const profitNotMet = "minimum profit not met"

// SubmissionError reports a transaction the ledger rejected, either at send
// time or by reverting once mined. TxHash is zero when the node refused the
// transaction outright.
type SubmissionError struct {
	Method string
	TxHash common.Hash
	Reason string
	Mined  bool
	Err    error
}

func (e *SubmissionError) Error() string {
	where := "rejected"
	if e.Mined {
		where = "reverted in " + e.TxHash.Hex()
	}
	if e.Reason == "" {
		return fmt.Sprintf("chain: %s %s", e.Method, where)
	}
	return fmt.Sprintf("chain: %s %s: %s", e.Method, where, e.Reason)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsProfitNotMet reports whether the rejection is the watcher's slippage
// guard.
func (e *SubmissionError) IsProfitNotMet() bool {
	return strings.Contains(e.Reason, profitNotMet)
}

// AsSubmissionError unwraps err into a *SubmissionError if it carries one.
func AsSubmissionError(err error) (*SubmissionError, bool) {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// revertReason extracts a human-readable revert reason from a node error.
// JSON-RPC errors carrying revert data are decoded with abi.UnpackRevert;
// anything else falls back to the error text.
func revertReason(err error) string {
	if err == nil {
		return ""
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}
