// Package rpctest provides an in-memory chain implementing rpc.Client for tests.
package rpctest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/xosactivity/internal/rpc"
)

var (
	selBalanceOf     = selector("balanceOf(address)")
	selDecimals      = selector("decimals()")
	selAllowance     = selector("allowance(address,address)")
	selApprove       = selector("approve(address,uint256)")
	selDeploymentFee = selector("deploymentFee()")
	selErrorString   = selector("Error(string)")
)

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// Token is the ERC20 state of a fake token contract.
type Token struct {
	Decimals    uint8
	DecimalsErr bool
	Balances    map[common.Address]*big.Int
	Allowances  map[common.Address]map[common.Address]*big.Int
}

// NewToken creates an empty token with the given decimals.
func NewToken(decimals uint8) *Token {
	return &Token{
		Decimals:   decimals,
		Balances:   make(map[common.Address]*big.Int),
		Allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *Token) balance(owner common.Address) *big.Int {
	if b, ok := t.Balances[owner]; ok {
		return b
	}
	return new(big.Int)
}

func (t *Token) allowance(owner, spender common.Address) *big.Int {
	if m, ok := t.Allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return new(big.Int)
}

// Chain is a deterministic fake chain. All methods are safe for concurrent use.
type Chain struct {
	mu sync.Mutex

	id            *big.Int
	baseFee       *big.Int
	tip           *big.Int
	deployRouter  common.Address
	deploymentFee *big.Int

	balances map[common.Address]*big.Int
	pending  map[common.Address]uint64
	tokens   map[common.Address]*Token
	receipts map[common.Hash]*types.Receipt
	polls    map[common.Hash]int
	sent     []*types.Transaction
	block    uint64

	// ReceiptDelay is the number of receipt polls answered with NotFound.
	ReceiptDelay int

	// Revert decides whether a sent transaction fails on-chain.
	Revert func(tx *types.Transaction) bool

	// RevertReason is returned when a reverted call is replayed at its block.
	// Empty means the replay itself fails without data.
	RevertReason string

	// Injected failures.
	ChainIDErr error
	NonceErr   error
	SendErr    error
	TipErr     error
	HeaderErr  error
	FeeErr     error

	closed bool
}

var _ rpc.Client = (*Chain)(nil)

// New returns an empty chain with a 1 gwei base fee and 1 gwei tip.
func New(chainID int64) *Chain {
	return &Chain{
		id:       big.NewInt(chainID),
		baseFee:  big.NewInt(1_000_000_000),
		tip:      big.NewInt(1_000_000_000),
		balances: make(map[common.Address]*big.Int),
		pending:  make(map[common.Address]uint64),
		tokens:   make(map[common.Address]*Token),
		receipts: make(map[common.Hash]*types.Receipt),
		polls:    make(map[common.Hash]int),
		block:    100,
	}
}

// SetBalance sets the native balance of addr in wei.
func (c *Chain) SetBalance(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(wei)
}

// Balance returns the native balance of addr.
func (c *Chain) Balance(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceLocked(addr))
}

// SetPendingNonce sets the pending transaction count for addr.
func (c *Chain) SetPendingNonce(addr common.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[addr] = nonce
}

// SetToken installs an ERC20 contract at addr.
func (c *Chain) SetToken(addr common.Address, token *Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[addr] = token
}

// Allowance returns the recorded allowance of owner for spender on token.
func (c *Chain) Allowance(token, owner, spender common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[token]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(t.allowance(owner, spender))
}

// SetDeployRouter configures the deployment router and its fee.
func (c *Chain) SetDeployRouter(addr common.Address, fee *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deployRouter = addr
	c.deploymentFee = new(big.Int).Set(fee)
}

// SetFees sets the base fee and suggested tip.
func (c *Chain) SetFees(baseFee, tip *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseFee = new(big.Int).Set(baseFee)
	c.tip = new(big.Int).Set(tip)
}

// Sent returns the transactions accepted so far, in order.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Transaction, len(c.sent))
	copy(out, c.sent)
	return out
}

// Closed reports whether Close was called.
func (c *Chain) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Chain) balanceLocked(addr common.Address) *big.Int {
	if b, ok := c.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

// ChainID implements rpc.Client.
func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ChainIDErr != nil {
		return nil, c.ChainIDErr
	}
	return new(big.Int).Set(c.id), nil
}

// BalanceAt implements rpc.Client.
func (c *Chain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return c.Balance(account), nil
}

// PendingNonceAt implements rpc.Client.
func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NonceErr != nil {
		return 0, c.NonceErr
	}
	return c.pending[account], nil
}

// CallContract implements rpc.Client for the ERC20 reads, deploymentFee and
// replays of reverted transactions.
func (c *Chain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if call.To == nil || len(call.Data) < 4 {
		return nil, errors.New("unsupported call")
	}
	sel := call.Data[:4]

	if token, ok := c.tokens[*call.To]; ok {
		switch {
		case bytes.Equal(sel, selBalanceOf):
			owner := common.BytesToAddress(call.Data[4:36])
			return common.LeftPadBytes(token.balance(owner).Bytes(), 32), nil
		case bytes.Equal(sel, selDecimals):
			if token.DecimalsErr {
				return nil, errors.New("execution reverted")
			}
			return common.LeftPadBytes([]byte{token.Decimals}, 32), nil
		case bytes.Equal(sel, selAllowance):
			owner := common.BytesToAddress(call.Data[4:36])
			spender := common.BytesToAddress(call.Data[36:68])
			return common.LeftPadBytes(token.allowance(owner, spender).Bytes(), 32), nil
		}
	}

	if *call.To == c.deployRouter && bytes.Equal(sel, selDeploymentFee) {
		if c.FeeErr != nil {
			return nil, c.FeeErr
		}
		return common.LeftPadBytes(c.deploymentFee.Bytes(), 32), nil
	}

	if blockNumber != nil {
		if c.RevertReason == "" {
			return nil, errors.New("missing trie node")
		}
		return nil, &revertError{data: hexutil.Encode(packRevert(c.RevertReason))}
	}
	return nil, nil
}

// HeaderByNumber implements rpc.Client.
func (c *Chain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.HeaderErr != nil {
		return nil, c.HeaderErr
	}
	return &types.Header{
		Number:  new(big.Int).SetUint64(c.block),
		BaseFee: new(big.Int).Set(c.baseFee),
	}, nil
}

// SuggestGasTipCap implements rpc.Client.
func (c *Chain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TipErr != nil {
		return nil, c.TipErr
	}
	return new(big.Int).Set(c.tip), nil
}

// SendTransaction implements rpc.Client. Each transaction is mined into its
// own block immediately.
func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return c.SendErr
	}
	if tx.ChainId().Cmp(c.id) != 0 {
		return fmt.Errorf("invalid chain id %s", tx.ChainId())
	}
	from, err := types.Sender(types.LatestSignerForChainID(c.id), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() < c.pending[from] {
		return fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", c.pending[from], tx.Nonce())
	}

	price := c.effectivePrice(tx)
	gasCost := new(big.Int).Mul(price, new(big.Int).SetUint64(tx.Gas()))
	total := new(big.Int).Add(gasCost, tx.Value())
	balance := c.balanceLocked(from)
	if balance.Cmp(total) < 0 {
		return fmt.Errorf("insufficient funds for gas * price + value: have %s want %s", balance, total)
	}

	c.pending[from] = tx.Nonce() + 1
	c.block++
	c.sent = append(c.sent, tx)

	status := types.ReceiptStatusSuccessful
	if c.Revert != nil && c.Revert(tx) {
		status = types.ReceiptStatusFailed
		c.balances[from] = new(big.Int).Sub(balance, gasCost)
	} else {
		c.balances[from] = new(big.Int).Sub(balance, total)
		c.applyLocked(from, tx)
	}

	c.receipts[tx.Hash()] = &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		TxHash:            tx.Hash(),
		GasUsed:           tx.Gas(),
		EffectiveGasPrice: price,
		BlockNumber:       new(big.Int).SetUint64(c.block),
	}
	return nil
}

func (c *Chain) effectivePrice(tx *types.Transaction) *big.Int {
	if tx.Type() == types.LegacyTxType {
		return new(big.Int).Set(tx.GasPrice())
	}
	price := new(big.Int).Add(c.baseFee, tx.GasTipCap())
	if price.Cmp(tx.GasFeeCap()) > 0 {
		price = new(big.Int).Set(tx.GasFeeCap())
	}
	return price
}

func (c *Chain) applyLocked(from common.Address, tx *types.Transaction) {
	if tx.To() == nil || len(tx.Data()) < 68 {
		return
	}
	token, ok := c.tokens[*tx.To()]
	if !ok || !bytes.Equal(tx.Data()[:4], selApprove) {
		return
	}
	spender := common.BytesToAddress(tx.Data()[4:36])
	amount := new(big.Int).SetBytes(tx.Data()[36:68])
	if token.Allowances[from] == nil {
		token.Allowances[from] = make(map[common.Address]*big.Int)
	}
	token.Allowances[from][spender] = amount
}

// TransactionReceipt implements rpc.Client.
func (c *Chain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls[txHash]++
	if c.polls[txHash] <= c.ReceiptDelay {
		return nil, ethereum.NotFound
	}
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// Close implements rpc.Client.
func (c *Chain) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

type revertError struct {
	data string
}

func (e *revertError) Error() string          { return "execution reverted" }
func (e *revertError) ErrorData() interface{} { return e.data }

func packRevert(reason string) []byte {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(reason)
	return append(append([]byte{}, selErrorString...), packed...)
}
