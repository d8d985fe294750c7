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
	"math/big"

	"github.com/stretchr/testify/mock"

	"github.com/certforge/certforge/chain"
	"github.com/certforge/certforge/model"
)

// MockChainClient is a testify mock of the chain.Client interface.
type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) Address() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockChainClient) NetworkID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockChainClient) ContractAddress() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockChainClient) ExplorerTxUrl(txHash string) string {
	args := m.Called(txHash)
	return args.String(0)
}

func (m *MockChainClient) Balance(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChainClient) HasMinterRole(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockChainClient) SubmitMint(ctx context.Context, cert *model.CertificateRecord, metadataHash string) (string, error) {
	args := m.Called(ctx, cert, metadataHash)
	return args.String(0), args.Error(1)
}

func (m *MockChainClient) TransactionKnown(ctx context.Context, txHash string) (bool, error) {
	args := m.Called(ctx, txHash)
	return args.Bool(0), args.Error(1)
}

func (m *MockChainClient) AwaitConfirmation(ctx context.Context, txHash string) (*model.ChainRef, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChainRef), args.Error(1)
}

func (m *MockChainClient) GetCertificate(ctx context.Context, onChainID string) (*chain.OnChainCertificate, error) {
	args := m.Called(ctx, onChainID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chain.OnChainCertificate), args.Error(1)
}

// MockMetadataStore is a testify mock of the metadata.Store interface.
type MockMetadataStore struct {
	mock.Mock
}

func (m *MockMetadataStore) Upload(ctx context.Context, cert *model.CertificateRecord) (string, error) {
	args := m.Called(ctx, cert)
	return args.String(0), args.Error(1)
}
