package chainclient

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// erc20ABIJSON covers the subset of ERC-20 the Custody Manager and Vault
// Integration need (spec §6 "Chain protocol"): allowance, approve,
// transferFrom, balanceOf, decimals.
const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// erc4626ABIJSON covers the ERC-4626 vault form (spec §4.5, §6): deposit
// with a receiver, redeem, decimals.
const erc4626ABIJSON = `[
	{"constant":false,"inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"name":"deposit","outputs":[{"name":"shares","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"name":"redeem","outputs":[{"name":"assets","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// simpleVaultABIJSON covers the "simple" vault form (spec §4.5, §6):
// deposit(amount) credits the caller, withdraw(shares) the same way.
const simpleVaultABIJSON = `[
	{"constant":false,"inputs":[{"name":"amount","type":"uint256"}],"name":"deposit","outputs":[],"type":"function"},
	{"constant":false,"inputs":[{"name":"shares","type":"uint256"}],"name":"withdraw","outputs":[],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chainclient: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var (
	erc20ABI       = mustParseABI(erc20ABIJSON)
	erc4626ABI     = mustParseABI(erc4626ABIJSON)
	simpleVaultABI = mustParseABI(simpleVaultABIJSON)
)
