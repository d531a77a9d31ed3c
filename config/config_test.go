package config_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/poanetwork/tokenbridge-relayer/config"
)

const testCfg = `
chains:
  mainnet:
    rpc:
      host: https://mainnet.infura.io/v3/${INFURA_PROJECT_KEY}
      timeout: 30s
      rps: 10
    chain_id: 1
    block_time: 15s
    block_index_interval: 60s
  xdai:
    rpc:
      host: https://rpc.ankr.com/gnosis
      timeout: 20s
      rps: 10
    chain_id: 100
    block_time: 5s
    safe_logs_request: true
bridges:
  eth-xdai:
    source:
      chain: mainnet
      address: 0x4aa42145Aa6Ebf72e164C9bBC74fbD3788045016
      start_block: 6478411
      required_block_confirmations: 12
    destinations:
      - chain: xdai
        address: 0x7301CFA0e1756B71869E93d4e4Dca5c7d0eb0AA6
        signer: env://RELAYER_KEY
        max_gas_price: 200000000000
        gas_limit_multiplier: 1.5
        required_block_confirmations: 6
    relay:
      max_attempts: 3
      backoff:
        initial_interval: 2s
      receipt_timeout: 1m
      max_concurrency: 8
    alerts:
      failed_unlocks:
      stuck_unlocks:
        threshold: 30m
postgres:
  user: test_user
  password: test_password
  host: test_host
  port: 5432
  database: test_db
redis:
  addr: localhost:6379
notifier:
  kafka:
    brokers:
      - localhost:9092
    topic: relayer-events
log_level: info
shutdown_timeout: 10s
presenter:
  host: 0.0.0.0:3333
`

//nolint:paralleltest
func TestReadConfigWithEnv(t *testing.T) {
	t.Setenv("INFURA_PROJECT_KEY", "12345678")
	cfg, err := config.ReadConfigWithEnv([]byte(testCfg))
	require.NoError(t, err)
	mainnetChainCfg := &config.ChainConfig{
		RPC: &config.RPCConfig{
			Host:    "https://mainnet.infura.io/v3/12345678",
			Timeout: 30 * time.Second,
			RPS:     10,
		},
		ChainID:            "1",
		BlockTime:          15 * time.Second,
		BlockIndexInterval: 60 * time.Second,
		SafeLogsRequest:    false,
	}
	xdaiChainCfg := &config.ChainConfig{
		RPC: &config.RPCConfig{
			Host:    "https://rpc.ankr.com/gnosis",
			Timeout: 20 * time.Second,
			RPS:     10,
		},
		ChainID:            "100",
		BlockTime:          5 * time.Second,
		BlockIndexInterval: 5 * time.Second,
		SafeLogsRequest:    true,
	}
	require.Equal(t, &config.Config{
		Chains: map[string]*config.ChainConfig{
			"mainnet": mainnetChainCfg,
			"xdai":    xdaiChainCfg,
		},
		Bridges: map[string]*config.BridgeConfig{
			"eth-xdai": {
				ID: "eth-xdai",
				Source: &config.SourceConfig{
					ChainName:          "mainnet",
					Chain:              mainnetChainCfg,
					Address:            common.HexToAddress("0x4aa42145Aa6Ebf72e164C9bBC74fbD3788045016"),
					StartBlock:         6478411,
					BlockConfirmations: 12,
					MaxBlockRangeSize:  1000,
				},
				Destinations: []*config.DestinationConfig{
					{
						ChainName:          "xdai",
						Chain:              xdaiChainCfg,
						Address:            common.HexToAddress("0x7301CFA0e1756B71869E93d4e4Dca5c7d0eb0AA6"),
						Signer:             "env://RELAYER_KEY",
						MaxGasPrice:        big.NewInt(200000000000),
						GasLimitMultiplier: 1.5,
						BlockConfirmations: 6,
					},
				},
				Relay: &config.RelayConfig{
					MaxAttempts: 3,
					Backoff: &config.BackoffConfig{
						InitialInterval:     2 * time.Second,
						MaxInterval:         time.Minute,
						Multiplier:          2,
						RandomizationFactor: 0.5,
					},
					RestartBackoff: &config.BackoffConfig{
						InitialInterval:     time.Second,
						MaxInterval:         time.Minute,
						Multiplier:          2,
						RandomizationFactor: 0.5,
					},
					ReceiptTimeout:     time.Minute,
					ReservationTimeout: 10 * time.Minute,
					MaxConcurrency:     8,
				},
				Alerts: map[string]*config.BridgeAlertConfig{
					"failed_unlocks": {},
					"stuck_unlocks":  {Threshold: 30 * time.Minute},
				},
			},
		},
		DBConfig: &config.DBConfig{
			User:     "test_user",
			Password: "test_password",
			Host:     "test_host",
			Port:     5432,
			DB:       "test_db",
		},
		Redis: &config.RedisConfig{
			Addr: "localhost:6379",
		},
		Notifier: &config.NotifierConfig{
			Kafka: &config.KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "relayer-events",
			},
		},
		LogLevel:        logrus.InfoLevel,
		MetricsHost:     ":2112",
		ShutdownTimeout: 10 * time.Second,
		DisabledBridges: nil,
		EnabledBridges:  nil,
		Presenter: &config.PresenterConfig{
			Host: "0.0.0.0:3333",
		},
	}, cfg)
}

func TestBridgeConfig_Destination(t *testing.T) {
	t.Parallel()
	cfg, err := config.ReadConfig([]byte(testCfg))
	require.NoError(t, err)
	bridge := cfg.Bridges["eth-xdai"]
	require.NotNil(t, bridge.Destination("100"))
	require.Equal(t, "xdai", bridge.Destination("100").ChainName)
	require.Nil(t, bridge.Destination("1"))
}

func TestReadConfig_Invalid(t *testing.T) {
	t.Parallel()
	const chains = `
chains:
  a:
    chain_id: 1
  b:
    chain_id: 2
`
	for _, test := range []struct {
		Name string
		Cfg  string
		Err  error
	}{
		{
			Name: "unknown source chain",
			Cfg: chains + `
bridges:
  x:
    source:
      chain: c
    destinations:
      - chain: b
        signer: env://KEY
`,
			Err: config.ErrUnknownChain,
		},
		{
			Name: "unknown destination chain",
			Cfg: chains + `
bridges:
  x:
    source:
      chain: a
    destinations:
      - chain: c
        signer: env://KEY
`,
			Err: config.ErrUnknownChain,
		},
		{
			Name: "duplicate destination",
			Cfg: chains + `
bridges:
  x:
    source:
      chain: a
    destinations:
      - chain: b
        signer: env://KEY
      - chain: b
        signer: env://KEY2
`,
			Err: config.ErrDuplicateDestination,
		},
		{
			Name: "missing signer",
			Cfg: chains + `
bridges:
  x:
    source:
      chain: a
    destinations:
      - chain: b
`,
			Err: config.ErrMissingSigner,
		},
		{
			Name: "no destinations",
			Cfg: chains + `
bridges:
  x:
    source:
      chain: a
`,
			Err: config.ErrNoDestinations,
		},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()
			_, err := config.ReadConfig([]byte(test.Cfg))
			require.ErrorIs(t, err, test.Err)
		})
	}
}

func TestReadConfig_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.ReadConfig([]byte("unknown_field: 1\n"))
	require.Error(t, err)
}

func TestReadConfig_Empty(t *testing.T) {
	t.Parallel()
	_, err := config.ReadConfig([]byte(""))
	require.ErrorIs(t, err, config.ErrEmptyConfig)
}
