/*
Copyright 2025 Certforge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// WalletStatus is a derived snapshot of the minting wallet. It has no
// lifecycle of its own; it is recomputed from the chain on demand and cached
// briefly. All comparisons happen in wei; BalanceEth exists for display only.
type WalletStatus struct {
	Address     string `json:"address"`
	BalanceWei  string `json:"balance_wei"`
	BalanceEth  string `json:"balance_eth"`
	GasPriceWei string `json:"gas_price_wei"`
	CanMint     bool   `json:"can_mint"`
	IsLow       bool   `json:"is_low"`
	Network     string `json:"network"`
	ExplorerUrl string `json:"explorer_url,omitempty"`
}

// DeriveWalletStatus computes the wallet capability snapshot from a balance
// and gas price reading plus the configured floors.
func DeriveWalletStatus(address string, balance, gasPrice, minFloor, lowFloor *big.Int, network string) WalletStatus {
	status := WalletStatus{
		Address:     address,
		BalanceWei:  balance.String(),
		BalanceEth:  WeiToEth(balance),
		GasPriceWei: gasPrice.String(),
		CanMint:     balance.Cmp(minFloor) >= 0,
		IsLow:       balance.Cmp(lowFloor) < 0,
		Network:     network,
	}
	return status
}

// WeiToEth formats a wei amount as an ether string for human consumption.
func WeiToEth(wei *big.Int) string {
	return decimal.NewFromBigInt(wei, -18).String()
}
