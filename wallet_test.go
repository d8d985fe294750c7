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

package certforge

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/config"
)

func walletTestConfig() *config.Configuration {
	conf := testQueueConfig()
	conf.Chain.Network = "sepolia"
	conf.Chain.ExplorerUrl = "https://sepolia.etherscan.io"
	conf.Wallet.MinBalanceWei = "10000000000000000" // 0.01 ether
	conf.Wallet.LowBalanceWei = "50000000000000000" // 0.05 ether
	return conf
}

func TestWalletStatus_Healthy(t *testing.T) {
	forge, _, chainMock, _ := newTestForge(t)
	config.MockConfig(walletTestConfig())

	oneEther, _ := new(big.Int).SetString("1000000000000000000", 10)
	chainMock.On("Balance", mock.Anything).Return(oneEther, nil)
	chainMock.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(2_000_000_000), nil)
	chainMock.On("Address").Return("0xsigner")

	status, err := forge.WalletStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0xsigner", status.Address)
	assert.True(t, status.CanMint)
	assert.False(t, status.IsLow)
	assert.Equal(t, "1", status.BalanceEth)
	assert.Equal(t, "sepolia", status.Network)
	assert.Equal(t, "https://sepolia.etherscan.io/address/0xsigner", status.ExplorerUrl)
}

func TestWalletStatus_LowBalanceStillMints(t *testing.T) {
	forge, _, chainMock, _ := newTestForge(t)
	config.MockConfig(walletTestConfig())

	// Above the mint floor (0.01) but under the warning floor (0.05).
	balance, _ := new(big.Int).SetString("20000000000000000", 10)
	chainMock.On("Balance", mock.Anything).Return(balance, nil)
	chainMock.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(2_000_000_000), nil)
	chainMock.On("Address").Return("0xsigner")

	status, err := forge.WalletStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.CanMint)
	assert.True(t, status.IsLow)
}

func TestWalletStatus_BelowMintFloor(t *testing.T) {
	forge, _, chainMock, _ := newTestForge(t)
	config.MockConfig(walletTestConfig())

	balance, _ := new(big.Int).SetString("5000000000000000", 10) // 0.005 ether
	chainMock.On("Balance", mock.Anything).Return(balance, nil)
	chainMock.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(2_000_000_000), nil)
	chainMock.On("Address").Return("0xsigner")

	status, err := forge.WalletStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.CanMint)
	assert.True(t, status.IsLow)
}

func TestWalletStatus_RPCFailureSurfaces(t *testing.T) {
	forge, _, chainMock, _ := newTestForge(t)
	config.MockConfig(walletTestConfig())

	chainMock.On("Balance", mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := forge.WalletStatus(context.Background())
	assert.Error(t, err)
}

func TestAlertLowBalance_ThrottledByRedis(t *testing.T) {
	forge, _, chainMock, _ := newTestForge(t)
	config.MockConfig(walletTestConfig())

	balance, _ := new(big.Int).SetString("20000000000000000", 10)
	chainMock.On("Balance", mock.Anything).Return(balance, nil)
	chainMock.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(2_000_000_000), nil)
	chainMock.On("Address").Return("0xsigner")

	ctx := context.Background()
	_, err := forge.WalletStatus(ctx)
	require.NoError(t, err)

	// The throttle key is now held; a second low reading must not re-alert.
	held, err := forge.redis.Exists(ctx, lowBalanceAlertKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), held)

	ok, err := forge.redis.SetNX(ctx, lowBalanceAlertKey, "1", lowBalanceAlertTTL).Result()
	require.NoError(t, err)
	assert.False(t, ok)
}
