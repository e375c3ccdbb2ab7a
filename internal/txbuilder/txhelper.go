package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// Transaction assembles the unsigned transaction. Legacy transactions use
// t.GasPrice and ignore the dynamic fee arguments.
func (t *BuiltTx) Transaction(chainID *big.Int, nonce uint64, gasTipCap, gasFeeCap *big.Int) *types.Transaction {
	to := t.To
	value := t.Value
	if value == nil {
		value = new(big.Int)
	}
	if t.Legacy() {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: t.GasPrice,
			Gas:      t.GasLimit,
			To:       &to,
			Value:    value,
			Data:     t.Data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       t.GasLimit,
		To:        &to,
		Value:     value,
		Data:      t.Data,
	})
}
