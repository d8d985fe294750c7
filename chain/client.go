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

package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/model"
)

// OnChainCertificate is the registry contract's view of a minted certificate.
// These are the fields verification cross-checks against the off-chain record.
type OnChainCertificate struct {
	Student      string
	CourseName   string
	MetadataHash string
	IsValid      bool
}

// Client is the contract surface the issuer pipeline depends on. The worker,
// wallet monitor and verification service all talk to the chain through this
// interface so tests can substitute a double.
type Client interface {
	Address() string
	NetworkID() string
	ContractAddress() string
	ExplorerTxUrl(txHash string) string
	Balance(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HasMinterRole(ctx context.Context) (bool, error)
	SubmitMint(ctx context.Context, cert *model.CertificateRecord, metadataHash string) (string, error)
	TransactionKnown(ctx context.Context, txHash string) (bool, error)
	AwaitConfirmation(ctx context.Context, txHash string) (*model.ChainRef, error)
	GetCertificate(ctx context.Context, onChainID string) (*OnChainCertificate, error)
}

// rpcBackend is the subset of the Ethereum RPC the client uses.
// *ethclient.Client satisfies it; tests substitute a fake.
type rpcBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthClient talks to the certificate registry contract over JSON-RPC.
type EthClient struct {
	backend       rpcBackend
	registry      abi.ABI
	contract      common.Address
	chainID       *big.Int
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	network       string
	explorerUrl   string
	gasLimit      uint64
	confirmations uint64
	confirmWithin time.Duration
	callTimeout   time.Duration
	pollInterval  time.Duration
}

// NewClient dials the configured RPC endpoint and prepares the signing key.
// Configuration problems (bad key, bad contract address) surface as
// non-retryable ConfigErrors so callers do not burn retry budget on them.
func NewClient(conf config.ChainConfig) (*EthClient, error) {
	backend, err := ethclient.Dial(strings.TrimSpace(conf.RpcUrl))
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial chain rpc")
	}
	return newClient(backend, conf)
}

func newClient(backend rpcBackend, conf config.ChainConfig) (*EthClient, error) {
	registry, err := parseRegistryABI()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse registry abi")
	}

	if !common.IsHexAddress(conf.ContractAddress) {
		return nil, model.NewConfigError(fmt.Sprintf("invalid contract address %q", conf.ContractAddress))
	}

	privateKey, err := gethcrypto.HexToECDSA(strings.TrimPrefix(conf.PrivateKey, "0x"))
	if err != nil {
		return nil, model.NewConfigError("invalid signer private key")
	}

	return &EthClient{
		backend:       backend,
		registry:      registry,
		contract:      common.HexToAddress(conf.ContractAddress),
		chainID:       big.NewInt(conf.ChainID),
		privateKey:    privateKey,
		address:       gethcrypto.PubkeyToAddress(privateKey.PublicKey),
		network:       conf.Network,
		explorerUrl:   strings.TrimSuffix(conf.ExplorerUrl, "/"),
		gasLimit:      conf.GasLimit,
		confirmations: conf.Confirmations,
		confirmWithin: time.Duration(conf.ConfirmationTimeout) * time.Second,
		callTimeout:   time.Duration(conf.CallTimeout) * time.Second,
		pollInterval:  3 * time.Second,
	}, nil
}

// callCtx bounds a short RPC call so a hung node cannot strand a worker on a
// leased job. Confirmation waiting has its own longer deadline.
func (c *EthClient) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// Address returns the signer's wallet address.
func (c *EthClient) Address() string {
	return c.address.Hex()
}

// NetworkID returns the configured chain id as a decimal string.
func (c *EthClient) NetworkID() string {
	return c.chainID.String()
}

// ContractAddress returns the registry contract address.
func (c *EthClient) ContractAddress() string {
	return c.contract.Hex()
}

// ExplorerTxUrl builds a block-explorer link for a transaction, or returns an
// empty string when no explorer is configured.
func (c *EthClient) ExplorerTxUrl(txHash string) string {
	if c.explorerUrl == "" || txHash == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", c.explorerUrl, txHash)
}

// Balance returns the signer wallet's current balance in wei.
func (c *EthClient) Balance(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	balance, err := c.backend.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch wallet balance")
	}
	return balance, nil
}

// SuggestGasPrice returns the node's current gas price estimate.
func (c *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch gas price")
	}
	return price, nil
}

// HasMinterRole checks that the signer wallet holds MINTER_ROLE on the
// registry contract.
func (c *EthClient) HasMinterRole(ctx context.Context) (bool, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	data, err := c.registry.Pack("hasRole", minterRole, c.address)
	if err != nil {
		return false, errors.Wrap(err, "failed to pack hasRole call")
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return false, errors.Wrap(err, "hasRole call failed")
	}

	results, err := c.registry.Unpack("hasRole", out)
	if err != nil || len(results) == 0 {
		return false, errors.Wrap(err, "failed to unpack hasRole result")
	}
	granted, ok := results[0].(bool)
	if !ok {
		return false, errors.New("unexpected hasRole result type")
	}
	return granted, nil
}

// SubmitMint signs and broadcasts a mintCertificate transaction and returns
// its hash. The transaction is not confirmed yet when this returns; callers
// must persist the hash before awaiting confirmation so a crash between the
// two never causes a duplicate mint.
func (c *EthClient) SubmitMint(ctx context.Context, cert *model.CertificateRecord, metadataHash string) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	data, err := c.registry.Pack("mintCertificate",
		cert.StudentID, cert.CourseID, cert.CourseName,
		big.NewInt(cert.CompletionDate.UTC().Unix()), metadataHash)
	if err != nil {
		return "", errors.Wrap(err, "failed to pack mint call")
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch nonce")
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch gas price")
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign mint transaction")
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		if isInsufficientFunds(err) {
			return "", model.ErrInsufficientFunds
		}
		return "", errors.Wrap(err, "failed to broadcast mint transaction")
	}

	hash := signed.Hash().Hex()
	logrus.WithFields(logrus.Fields{
		"tx_hash":        hash,
		"certificate_id": cert.CertificateID,
		"nonce":          nonce,
	}).Info("mint transaction broadcast")

	return hash, nil
}

// TransactionKnown reports whether the node knows the transaction at all,
// pending or mined. A redelivered job resumes its pending transaction when
// this is true and resubmits when it is not.
func (c *EthClient) TransactionKnown(ctx context.Context, txHash string) (bool, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	_, _, err := c.backend.TransactionByHash(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to look up transaction")
	}
	return true, nil
}

// AwaitConfirmation polls until the transaction is mined and buried under the
// configured confirmation depth, then extracts the CertificateMinted event and
// returns the resulting chain reference. It returns ErrConfirmationTimeout
// when the deadline passes first; the transaction may still confirm later, so
// callers retry with the same hash rather than submitting a new one.
func (c *EthClient) AwaitConfirmation(ctx context.Context, txHash string) (*model.ChainRef, error) {
	hash := common.HexToHash(txHash)

	var ref *model.ChainRef
	var permanentErr error
	fail := func(err error) error {
		permanentErr = err
		return backoff.Permanent(err)
	}

	operation := func() error {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return errors.New("transaction not yet mined")
			}
			return errors.Wrap(err, "failed to fetch receipt")
		}
		if receipt.Status != gethtypes.ReceiptStatusSuccessful {
			return fail(fmt.Errorf("transaction %s reverted", txHash))
		}

		header, err := c.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to fetch chain head")
		}
		depth := new(big.Int).Sub(header.Number, receipt.BlockNumber)
		depth.Add(depth, big.NewInt(1))
		if depth.Cmp(new(big.Int).SetUint64(c.confirmations)) < 0 {
			return fmt.Errorf("insufficient confirmations: have %s want %d", depth, c.confirmations)
		}

		onChainID, err := extractMintedID(receipt, c.contract)
		if err != nil {
			return fail(err)
		}

		ref = &model.ChainRef{
			TxHash:          txHash,
			BlockNumber:     receipt.BlockNumber.Uint64(),
			ContractAddress: c.contract.Hex(),
			NetworkID:       c.chainID.String(),
			OnChainID:       onChainID,
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.pollInterval
	policy.MaxInterval = 15 * time.Second
	policy.MaxElapsedTime = c.confirmWithin

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		if permanentErr != nil {
			return nil, permanentErr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.ErrConfirmationTimeout
	}
	return ref, nil
}

// GetCertificate reads a minted certificate back from the registry contract.
func (c *EthClient) GetCertificate(ctx context.Context, onChainID string) (*OnChainCertificate, error) {
	certificateID, ok := new(big.Int).SetString(onChainID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid on-chain id %q", onChainID)
	}

	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	data, err := c.registry.Pack("getCertificate", certificateID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack getCertificate call")
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "getCertificate call failed")
	}

	results, err := c.registry.Unpack("getCertificate", out)
	if err != nil || len(results) < 4 {
		return nil, errors.Wrap(err, "failed to unpack getCertificate result")
	}

	student, _ := results[0].(string)
	courseName, _ := results[1].(string)
	metadataHash, _ := results[2].(string)
	isValid, _ := results[3].(bool)

	return &OnChainCertificate{
		Student:      student,
		CourseName:   courseName,
		MetadataHash: metadataHash,
		IsValid:      isValid,
	}, nil
}

// extractMintedID pulls the on-chain certificate id out of the
// CertificateMinted event emitted by the registry contract in this receipt.
func extractMintedID(receipt *gethtypes.Receipt, contract common.Address) (string, error) {
	for _, log := range receipt.Logs {
		if log == nil || log.Address != contract {
			continue
		}
		if len(log.Topics) < 3 || log.Topics[0] != certificateMintedSignature {
			continue
		}
		id := new(big.Int).SetBytes(log.Topics[2].Bytes())
		return id.String(), nil
	}
	return "", fmt.Errorf("no CertificateMinted event in transaction %s", receipt.TxHash.Hex())
}

func isInsufficientFunds(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}
