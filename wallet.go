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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/internal/notification"
	"github.com/certforge/certforge/model"
)

const (
	walletStatusCacheKey = "wallet:status"
	walletStatusCacheTTL = 30 * time.Second

	// lowBalanceAlertKey throttles low-balance alerts so a drained wallet
	// pages once, not once per status poll.
	lowBalanceAlertKey = "wallet:low_balance_alerted"
	lowBalanceAlertTTL = time.Hour
)

// WalletStatus reads the signer wallet's balance and gas price and reports
// whether it can fund mints. Readings are cached briefly since the status
// endpoint is polled by dashboards.
func (c *Certforge) WalletStatus(ctx context.Context) (*model.WalletStatus, error) {
	if cached := c.cachedWalletStatus(ctx); cached != nil {
		return cached, nil
	}

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	balance, err := c.chain.Balance(ctx)
	if err != nil {
		return nil, err
	}
	gasPrice, err := c.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	status := model.DeriveWalletStatus(
		c.chain.Address(),
		balance,
		gasPrice,
		conf.Wallet.MinBalance(),
		conf.Wallet.LowBalance(),
		conf.Chain.Network,
	)
	if conf.Chain.ExplorerUrl != "" {
		status.ExplorerUrl = fmt.Sprintf("%s/address/%s", conf.Chain.ExplorerUrl, status.Address)
	}

	if status.IsLow {
		c.alertLowBalance(ctx, status)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, walletStatusCacheKey, &status, walletStatusCacheTTL); err != nil {
			logrus.WithError(err).Debug("failed to cache wallet status")
		}
	}
	return &status, nil
}

func (c *Certforge) cachedWalletStatus(ctx context.Context) *model.WalletStatus {
	if c.cache == nil {
		return nil
	}
	var status model.WalletStatus
	if err := c.cache.Get(ctx, walletStatusCacheKey, &status); err != nil {
		return nil
	}
	if status.Address == "" {
		return nil
	}
	return &status
}

// alertLowBalance notifies operators, at most once per throttle window.
func (c *Certforge) alertLowBalance(ctx context.Context, status model.WalletStatus) {
	if c.redis != nil {
		ok, err := c.redis.SetNX(ctx, lowBalanceAlertKey, "1", lowBalanceAlertTTL).Result()
		if err != nil || !ok {
			return
		}
	}

	logrus.WithFields(logrus.Fields{
		"address":     status.Address,
		"balance_wei": status.BalanceWei,
		"can_mint":    status.CanMint,
	}).Warn("signer wallet balance is low")

	go func() {
		if err := SendWebhook(NewWebhook{Event: EventWalletLowBalance, Payload: status}); err != nil {
			logrus.WithError(err).Warn("failed to enqueue wallet.low_balance webhook")
		}
	}()
	notification.NotifyError(fmt.Errorf("signer wallet %s is low: %s ETH (can_mint=%t)",
		status.Address, status.BalanceEth, status.CanMint))
}

// MonitorWallet polls the wallet status on an interval until the context is
// cancelled. The worker command runs this alongside the processor so the
// wallet drains loudly instead of silently.
func (c *Certforge) MonitorWallet(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.WalletStatus(ctx); err != nil {
				logrus.WithError(err).Warn("wallet status poll failed")
			}
		}
	}
}
