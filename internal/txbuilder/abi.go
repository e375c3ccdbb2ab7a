package txbuilder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const routerABIJSON = `[
	{"type":"function","name":"exactInputSingle","stateMutability":"payable",
	 "inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"fee","type":"uint24"},
		{"name":"recipient","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMinimum","type":"uint256"},
		{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
	 "outputs":[{"name":"amountOut","type":"uint256"}]},
	{"type":"function","name":"multicall","stateMutability":"payable",
	 "inputs":[{"name":"deadline","type":"uint256"},{"name":"data","type":"bytes[]"}],
	 "outputs":[{"name":"results","type":"bytes[]"}]},
	{"type":"function","name":"unwrapWETH9","stateMutability":"payable",
	 "inputs":[{"name":"amountMinimum","type":"uint256"},{"name":"recipient","type":"address"}],
	 "outputs":[]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

const tokenFactoryABIJSON = `[
	{"type":"function","name":"createToken","stateMutability":"payable",
	 "inputs":[{"name":"name","type":"string"},{"name":"symbol","type":"string"},
		{"name":"decimals","type":"uint8"},{"name":"totalSupply","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]}
]`

const deployRouterABIJSON = `[
	{"type":"function","name":"deploymentFee","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	routerABI       = mustParseABI(routerABIJSON)
	erc20ABI        = mustParseABI(erc20ABIJSON)
	tokenFactoryABI = mustParseABI(tokenFactoryABIJSON)
	deployRouterABI = mustParseABI(deployRouterABIJSON)

	stringArgs = abi.Arguments{{Type: mustNewType("string")}}
)

// DeploySelector prefixes the deploy router's deploy(bytes) call.
var DeploySelector = common.FromHex("0x8ffc0e4b")

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse ABI: %v", err))
	}
	return parsed
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

// ExactInputSingleParams is the router's single-pool swap tuple. The
// deadline is carried by the enclosing multicall.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// EncodeExactInputSingle encodes exactInputSingle(params).
func EncodeExactInputSingle(p ExactInputSingleParams) ([]byte, error) {
	return routerABI.Pack("exactInputSingle", p)
}

// EncodeUnwrapWETH9 encodes unwrapWETH9(amountMinimum, recipient).
func EncodeUnwrapWETH9(amountMinimum *big.Int, recipient common.Address) ([]byte, error) {
	return routerABI.Pack("unwrapWETH9", amountMinimum, recipient)
}

// EncodeMulticall encodes multicall(deadline, calls).
func EncodeMulticall(deadline *big.Int, calls [][]byte) ([]byte, error) {
	return routerABI.Pack("multicall", deadline, calls)
}

// EncodeApprove encodes approve(spender, amount).
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// EncodeCreateToken encodes createToken(name, symbol, decimals, totalSupply).
func EncodeCreateToken(name, symbol string, decimals uint8, supply *big.Int) ([]byte, error) {
	return tokenFactoryABI.Pack("createToken", name, symbol, decimals, supply)
}

// EncodeDeploy encodes the deploy router call: the 0x8ffc0e4b selector
// followed by abi.encode(string name).
func EncodeDeploy(name string) ([]byte, error) {
	args, err := stringArgs.Pack(name)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(DeploySelector)+len(args))
	data = append(data, DeploySelector...)
	return append(data, args...), nil
}
