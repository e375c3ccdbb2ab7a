// Package account loads the wallet accounts the engine operates on.
package account

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account holds a wallet key and its check-in token. Immutable after load.
type Account struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
	AuthToken  string
}

// NewAccount creates an account from a private key.
func NewAccount(privateKey *ecdsa.PrivateKey, authToken string) *Account {
	return &Account{
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		AuthToken:  authToken,
	}
}

// NewAccountFromHex creates an account from a hex-encoded private key,
// with or without the 0x prefix.
func NewAccountFromHex(hexKey, authToken string) (*Account, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, err
	}
	return NewAccount(privateKey, authToken), nil
}

// entry is the on-disk shape of one account.
type entry struct {
	PrivateKey string `json:"privateKey"`
	Token      string `json:"token"`
}

// Load reads accounts from a JSON file holding [{privateKey, token}, ...].
func Load(path string) ([]*Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open accounts: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates an account list. Any malformed entry rejects
// the whole list.
func Parse(r io.Reader) ([]*Account, error) {
	var entries []entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("no accounts found")
	}

	accounts := make([]*Account, 0, len(entries))
	for i, e := range entries {
		if e.PrivateKey == "" || e.Token == "" {
			return nil, fmt.Errorf("account at index %d missing privateKey or token", i)
		}
		acc, err := NewAccountFromHex(e.PrivateKey, e.Token)
		if err != nil {
			return nil, fmt.Errorf("account at index %d: invalid private key: %w", i, err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// ShortAddress renders an address as 0x1234...abcd for log lines.
func ShortAddress(addr common.Address) string {
	h := addr.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}

// Well-known test private keys (from Anvil/Hardhat default accounts).
var TestPrivateKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", // Account 0
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", // Account 1
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a", // Account 2
	"7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6", // Account 3
}

// LoadTestAccounts builds accounts from TestPrivateKeys with placeholder tokens.
func LoadTestAccounts() ([]*Account, error) {
	accounts := make([]*Account, 0, len(TestPrivateKeys))
	for i, hexKey := range TestPrivateKeys {
		acc, err := NewAccountFromHex(hexKey, fmt.Sprintf("token-%d", i))
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}
