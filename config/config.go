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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"CERTFORGE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"CERTFORGE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"CERTFORGE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"CERTFORGE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"CERTFORGE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"CERTFORGE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"CERTFORGE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"CERTFORGE_REDIS_DNS"`
}

type TypeSenseConfig struct {
	Dns string `json:"dns" envconfig:"CERTFORGE_TYPESENSE_DNS"`
}

// ChainConfig holds everything needed to talk to the certificate contract.
// The contract ABI is fixed; only its address and the network vary per
// deployment.
type ChainConfig struct {
	RpcUrl              string `json:"rpc_url" envconfig:"CERTFORGE_CHAIN_RPC_URL"`
	ContractAddress     string `json:"contract_address" envconfig:"CERTFORGE_CHAIN_CONTRACT_ADDRESS"`
	ChainID             int64  `json:"chain_id" envconfig:"CERTFORGE_CHAIN_ID"`
	Network             string `json:"network" envconfig:"CERTFORGE_CHAIN_NETWORK"`
	ExplorerUrl         string `json:"explorer_url" envconfig:"CERTFORGE_CHAIN_EXPLORER_URL"`
	PrivateKey          string `json:"private_key" envconfig:"CERTFORGE_CHAIN_PRIVATE_KEY"`
	Confirmations       uint64 `json:"confirmations" envconfig:"CERTFORGE_CHAIN_CONFIRMATIONS"`
	ConfirmationTimeout int    `json:"confirmation_timeout_sec" envconfig:"CERTFORGE_CHAIN_CONFIRMATION_TIMEOUT_SEC"`
	CallTimeout         int    `json:"call_timeout_sec" envconfig:"CERTFORGE_CHAIN_CALL_TIMEOUT_SEC"`
	GasLimit            uint64 `json:"gas_limit" envconfig:"CERTFORGE_CHAIN_GAS_LIMIT"`
}

type S3StoreConfig struct {
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	AccessKeyId     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// MetadataStoreConfig selects the content-addressed store certificate
// metadata is uploaded to. "ipfs" talks to an IPFS node's HTTP API, "s3"
// stores blobs keyed by their sha256.
type MetadataStoreConfig struct {
	Provider   string        `json:"provider" envconfig:"CERTFORGE_METADATA_PROVIDER"`
	IpfsApiUrl string        `json:"ipfs_api_url" envconfig:"CERTFORGE_METADATA_IPFS_API_URL"`
	Timeout    int           `json:"timeout_sec" envconfig:"CERTFORGE_METADATA_TIMEOUT_SEC"`
	S3         S3StoreConfig `json:"s3"`
}

type QueueConfig struct {
	MaxAttempts              int    `json:"max_attempts" envconfig:"CERTFORGE_QUEUE_MAX_ATTEMPTS"`
	BackoffBaseSec           int    `json:"backoff_base_sec" envconfig:"CERTFORGE_QUEUE_BACKOFF_BASE_SEC"`
	BackoffCapSec            int    `json:"backoff_cap_sec" envconfig:"CERTFORGE_QUEUE_BACKOFF_CAP_SEC"`
	InsufficientFundsBackSec int    `json:"insufficient_funds_backoff_sec" envconfig:"CERTFORGE_QUEUE_INSUFFICIENT_FUNDS_BACKOFF_SEC"`
	VisibilityTimeoutSec     int    `json:"visibility_timeout_sec" envconfig:"CERTFORGE_QUEUE_VISIBILITY_TIMEOUT_SEC"`
	Workers                  int    `json:"workers" envconfig:"CERTFORGE_QUEUE_WORKERS"`
	PollIntervalSec          int    `json:"poll_interval_sec" envconfig:"CERTFORGE_QUEUE_POLL_INTERVAL_SEC"`
	WebhookQueue             string `json:"webhook_queue"`
	IndexQueue               string `json:"index_queue"`
	MonitoringPort           string `json:"monitoring_port" envconfig:"CERTFORGE_QUEUE_MONITORING_PORT"`
}

// WalletConfig carries the balance floors, expressed in wei as decimal
// strings since the amounts do not fit in int64.
type WalletConfig struct {
	MinBalanceWei string `json:"min_balance_wei" envconfig:"CERTFORGE_WALLET_MIN_BALANCE_WEI"`
	LowBalanceWei string `json:"low_balance_wei" envconfig:"CERTFORGE_WALLET_LOW_BALANCE_WEI"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"CERTFORGE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"CERTFORGE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"CERTFORGE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName   string              `json:"project_name" envconfig:"CERTFORGE_PROJECT_NAME"`
	Server        ServerConfig        `json:"server"`
	DataSource    DataSourceConfig    `json:"data_source"`
	Redis         RedisConfig         `json:"redis"`
	TypeSense     TypeSenseConfig     `json:"typesense"`
	TypeSenseKey  string              `json:"type_sense_key"`
	Chain         ChainConfig         `json:"chain"`
	MetadataStore MetadataStoreConfig `json:"metadata_store"`
	Queue         QueueConfig         `json:"queue"`
	Wallet        WalletConfig        `json:"wallet"`
	Notification  Notification        `json:"notification"`
	RateLimit     RateLimitConfig     `json:"rate_limit"`
	BackupDir     string              `json:"backup_dir" envconfig:"CERTFORGE_BACKUP_DIR"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("certforge", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called certforge.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Certforge Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Chain.RpcUrl == "" {
		log.Println("Error: Chain RPC URL is empty. It's a required field.")
		return errors.New("chain RPC URL is required")
	}

	if cnf.Chain.ContractAddress == "" {
		log.Println("Error: Certificate contract address is empty. It's a required field.")
		return errors.New("certificate contract address is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Chain.RpcUrl = strings.TrimSpace(cnf.Chain.RpcUrl)
	cnf.Chain.ContractAddress = strings.TrimSpace(cnf.Chain.ContractAddress)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Chain.Confirmations == 0 {
		cnf.Chain.Confirmations = 3
	}
	if cnf.Chain.ConfirmationTimeout == 0 {
		cnf.Chain.ConfirmationTimeout = 180
	}
	if cnf.Chain.CallTimeout == 0 {
		cnf.Chain.CallTimeout = 15
	}
	if cnf.Chain.GasLimit == 0 {
		cnf.Chain.GasLimit = 500000
	}
	if cnf.Chain.Network == "" {
		cnf.Chain.Network = "sepolia"
	}

	if cnf.MetadataStore.Provider == "" {
		cnf.MetadataStore.Provider = "ipfs"
	}
	if cnf.MetadataStore.Provider != "ipfs" && cnf.MetadataStore.Provider != "s3" {
		return fmt.Errorf("unknown metadata store provider %q", cnf.MetadataStore.Provider)
	}
	if cnf.MetadataStore.IpfsApiUrl == "" {
		cnf.MetadataStore.IpfsApiUrl = "http://localhost:5001"
	}
	if cnf.MetadataStore.Timeout == 0 {
		cnf.MetadataStore.Timeout = 30
	}

	if cnf.Queue.MaxAttempts == 0 {
		cnf.Queue.MaxAttempts = 5
	}
	if cnf.Queue.BackoffBaseSec == 0 {
		cnf.Queue.BackoffBaseSec = 30
	}
	if cnf.Queue.BackoffCapSec == 0 {
		cnf.Queue.BackoffCapSec = 1800
	}
	if cnf.Queue.InsufficientFundsBackSec == 0 {
		cnf.Queue.InsufficientFundsBackSec = 900
	}
	if cnf.Queue.VisibilityTimeoutSec == 0 {
		cnf.Queue.VisibilityTimeoutSec = 300
	}
	if cnf.Queue.Workers == 0 {
		cnf.Queue.Workers = 4
	}
	if cnf.Queue.PollIntervalSec == 0 {
		cnf.Queue.PollIntervalSec = 5
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.IndexQueue == "" {
		cnf.Queue.IndexQueue = "new:index"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5403"
	}

	if cnf.Wallet.MinBalanceWei == "" {
		// 0.01 ether
		cnf.Wallet.MinBalanceWei = "10000000000000000"
	}
	if cnf.Wallet.LowBalanceWei == "" {
		// 0.05 ether
		cnf.Wallet.LowBalanceWei = "50000000000000000"
	}
	if _, err := ParseWei(cnf.Wallet.MinBalanceWei); err != nil {
		return err
	}
	if _, err := ParseWei(cnf.Wallet.LowBalanceWei); err != nil {
		return err
	}

	if cnf.BackupDir == "" {
		cnf.BackupDir = "backups"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// ParseWei parses a decimal wei string into a big.Int.
func ParseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}

// MinBalance returns the configured mint floor in wei.
func (w WalletConfig) MinBalance() *big.Int {
	v, err := ParseWei(w.MinBalanceWei)
	if err != nil {
		return big.NewInt(0)
	}
	return v
}

// LowBalance returns the configured warning floor in wei.
func (w WalletConfig) LowBalance() *big.Int {
	v, err := ParseWei(w.LowBalanceWei)
	if err != nil {
		return big.NewInt(0)
	}
	return v
}

// BackoffBase returns the retry backoff base as a duration.
func (q QueueConfig) BackoffBase() time.Duration {
	return time.Duration(q.BackoffBaseSec) * time.Second
}

// BackoffCap returns the retry backoff cap as a duration.
func (q QueueConfig) BackoffCap() time.Duration {
	return time.Duration(q.BackoffCapSec) * time.Second
}

// InsufficientFundsBackoff returns the distinct, longer backoff used when the
// minting wallet is below the mint floor. Funding requires a manual top-up,
// so hammering the chain with short retries buys nothing.
func (q QueueConfig) InsufficientFundsBackoff() time.Duration {
	return time.Duration(q.InsufficientFundsBackSec) * time.Second
}

// VisibilityTimeout returns how long a dequeued job stays invisible to other
// workers before it is redelivered.
func (q QueueConfig) VisibilityTimeout() time.Duration {
	return time.Duration(q.VisibilityTimeoutSec) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
