package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxBlockRangeSize   = 1000
	defaultGasLimitMultiplier  = 1.2
	defaultMaxAttempts         = 5
	defaultReceiptTimeout      = 5 * time.Minute
	defaultReservationTimeout  = 10 * time.Minute
	defaultMaxConcurrency      = 4
	defaultShutdownTimeout     = 30 * time.Second
	defaultBlockIndexInterval  = 15 * time.Second
	defaultBackoffInitial      = time.Second
	defaultBackoffMax          = time.Minute
	defaultBackoffMultiplier   = 2
	defaultBackoffRandomFactor = 0.5
)

var (
	ErrUnknownChain         = errors.New("unknown chain")
	ErrDuplicateDestination = errors.New("duplicate destination chain")
	ErrMissingSigner        = errors.New("missing signer")
	ErrNoDestinations       = errors.New("bridge has no destinations")
)

type RPCConfig struct {
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
}

type ChainConfig struct {
	RPC                *RPCConfig    `yaml:"rpc"`
	ChainID            string        `yaml:"chain_id"`
	BlockTime          time.Duration `yaml:"block_time"`
	BlockIndexInterval time.Duration `yaml:"block_index_interval"`
	SafeLogsRequest    bool          `yaml:"safe_logs_request"`
}

type SourceConfig struct {
	ChainName          string         `yaml:"chain"`
	Chain              *ChainConfig   `yaml:"-"`
	Address            common.Address `yaml:"address"`
	StartBlock         uint           `yaml:"start_block"`
	BlockConfirmations uint           `yaml:"required_block_confirmations"`
	MaxBlockRangeSize  uint           `yaml:"max_block_range_size"`
}

type DestinationConfig struct {
	ChainName          string         `yaml:"chain"`
	Chain              *ChainConfig   `yaml:"-"`
	Address            common.Address `yaml:"address"`
	Signer             string         `yaml:"signer"`
	MaxGasPrice        *big.Int       `yaml:"max_gas_price"`
	GasLimitMultiplier float64        `yaml:"gas_limit_multiplier"`
	BlockConfirmations uint           `yaml:"required_block_confirmations"`
}

type BackoffConfig struct {
	InitialInterval     time.Duration `yaml:"initial_interval"`
	MaxInterval         time.Duration `yaml:"max_interval"`
	Multiplier          float64       `yaml:"multiplier"`
	RandomizationFactor float64       `yaml:"randomization_factor"`
}

type RelayConfig struct {
	MaxAttempts        uint           `yaml:"max_attempts"`
	Backoff            *BackoffConfig `yaml:"backoff"`
	RestartBackoff     *BackoffConfig `yaml:"restart_backoff"`
	ReceiptTimeout     time.Duration  `yaml:"receipt_timeout"`
	ReservationTimeout time.Duration  `yaml:"reservation_timeout"`
	MaxConcurrency     int            `yaml:"max_concurrency"`
}

type BridgeAlertConfig struct {
	Threshold time.Duration `yaml:"threshold"`
}

type BridgeConfig struct {
	ID           string                        `yaml:"-"`
	Source       *SourceConfig                 `yaml:"source"`
	Destinations []*DestinationConfig          `yaml:"destinations"`
	Relay        *RelayConfig                  `yaml:"relay"`
	Alerts       map[string]*BridgeAlertConfig `yaml:"alerts"`
}

type DBConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

type NotifierConfig struct {
	Kafka *KafkaConfig `yaml:"kafka"`
}

type PresenterConfig struct {
	Host string `yaml:"host"`
}

type Config struct {
	Chains          map[string]*ChainConfig  `yaml:"chains"`
	Bridges         map[string]*BridgeConfig `yaml:"bridges"`
	DBConfig        *DBConfig                `yaml:"postgres"`
	Redis           *RedisConfig             `yaml:"redis"`
	Notifier        *NotifierConfig          `yaml:"notifier"`
	LogLevel        logrus.Level             `yaml:"log_level"`
	MetricsHost     string                   `yaml:"metrics_host"`
	ShutdownTimeout time.Duration            `yaml:"shutdown_timeout"`
	DisabledBridges []string                 `yaml:"disabled_bridges"`
	EnabledBridges  []string                 `yaml:"enabled_bridges"`
	Presenter       *PresenterConfig         `yaml:"presenter"`
}

// Destination returns the destination side configured for the given chain id.
func (cfg *BridgeConfig) Destination(chainID string) *DestinationConfig {
	for _, dest := range cfg.Destinations {
		if dest.Chain.ChainID == chainID {
			return dest
		}
	}
	return nil
}

func (cfg *Config) init() error {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MetricsHost == "" {
		cfg.MetricsHost = ":2112"
	}
	for _, chain := range cfg.Chains {
		if chain.BlockIndexInterval == 0 {
			chain.BlockIndexInterval = chain.BlockTime
		}
		if chain.BlockIndexInterval == 0 {
			chain.BlockIndexInterval = defaultBlockIndexInterval
		}
	}
	for id, bridge := range cfg.Bridges {
		bridge.ID = id
		if err := cfg.initBridge(bridge); err != nil {
			return fmt.Errorf("invalid bridge %s config: %w", id, err)
		}
	}
	return nil
}

func (cfg *Config) initBridge(bridge *BridgeConfig) error {
	var ok bool
	if bridge.Source.Chain, ok = cfg.Chains[bridge.Source.ChainName]; !ok {
		return fmt.Errorf("source chain %s: %w", bridge.Source.ChainName, ErrUnknownChain)
	}
	if bridge.Source.MaxBlockRangeSize == 0 {
		bridge.Source.MaxBlockRangeSize = defaultMaxBlockRangeSize
	}
	if len(bridge.Destinations) == 0 {
		return ErrNoDestinations
	}
	seen := make(map[string]bool, len(bridge.Destinations))
	for _, dest := range bridge.Destinations {
		if dest.Chain, ok = cfg.Chains[dest.ChainName]; !ok {
			return fmt.Errorf("destination chain %s: %w", dest.ChainName, ErrUnknownChain)
		}
		if seen[dest.Chain.ChainID] {
			return fmt.Errorf("chain id %s: %w", dest.Chain.ChainID, ErrDuplicateDestination)
		}
		seen[dest.Chain.ChainID] = true
		if dest.Signer == "" {
			return fmt.Errorf("destination chain %s: %w", dest.ChainName, ErrMissingSigner)
		}
		if dest.GasLimitMultiplier == 0 {
			dest.GasLimitMultiplier = defaultGasLimitMultiplier
		}
	}
	if bridge.Relay == nil {
		bridge.Relay = new(RelayConfig)
	}
	relay := bridge.Relay
	if relay.MaxAttempts == 0 {
		relay.MaxAttempts = defaultMaxAttempts
	}
	if relay.ReceiptTimeout == 0 {
		relay.ReceiptTimeout = defaultReceiptTimeout
	}
	if relay.ReservationTimeout == 0 {
		relay.ReservationTimeout = defaultReservationTimeout
	}
	if relay.MaxConcurrency == 0 {
		relay.MaxConcurrency = defaultMaxConcurrency
	}
	relay.Backoff = withBackoffDefaults(relay.Backoff)
	relay.RestartBackoff = withBackoffDefaults(relay.RestartBackoff)
	for name, alert := range bridge.Alerts {
		if alert == nil {
			bridge.Alerts[name] = new(BridgeAlertConfig)
		}
	}
	return nil
}

func withBackoffDefaults(cfg *BackoffConfig) *BackoffConfig {
	if cfg == nil {
		cfg = new(BackoffConfig)
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = defaultBackoffInitial
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = defaultBackoffMax
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = defaultBackoffMultiplier
	}
	if cfg.RandomizationFactor == 0 {
		cfg.RandomizationFactor = defaultBackoffRandomFactor
	}
	return cfg
}

func ReadConfig(blob []byte) (*Config, error) {
	cfg := new(Config)
	if err := parseYaml(cfg, blob); err != nil {
		return nil, err
	}
	if err := cfg.init(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ReadConfigWithEnv(blob []byte) (*Config, error) {
	return ReadConfig([]byte(os.ExpandEnv(string(blob))))
}

func ReadConfigFromFile(path string) (*Config, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read config file: %w", err)
	}
	return ReadConfigWithEnv(blob)
}
