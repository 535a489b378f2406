package params

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const envPrefix = "hyperport"

type Node struct {
	ChainID           uint64 `mapstructure:"chain_id"`
	EngineAddress     string `mapstructure:"engine_address"`
	ControllerAddress string `mapstructure:"controller_address"`
	DataDir           string `mapstructure:"data_dir"`
	// EventWAL, when set, mirrors every committed event to a JSON-lines file.
	EventWAL        string        `mapstructure:"event_wal"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type API struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Conduit is created at startup with the engine's channel opened. The first
// 20 bytes of Key must be Owner.
type Conduit struct {
	Key   string `mapstructure:"key"`
	Owner string `mapstructure:"owner"`
}

type Config struct {
	Node     Node      `mapstructure:"node"`
	API      API       `mapstructure:"api"`
	Log      Log       `mapstructure:"log"`
	Conduits []Conduit `mapstructure:"conduits"`
}

// Load reads .env (if present), then the optional YAML file at configPath,
// then HYPERPORT_* environment variables, over the defaults.
// Priority: ENV > config file > defaults
func Load(configPath, envPath string) (*Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("node.chain_id", d.Node.ChainID)
	v.SetDefault("node.engine_address", d.Node.EngineAddress)
	v.SetDefault("node.controller_address", d.Node.ControllerAddress)
	v.SetDefault("node.data_dir", d.Node.DataDir)
	v.SetDefault("node.event_wal", d.Node.EventWAL)
	v.SetDefault("node.shutdown_timeout", d.Node.ShutdownTimeout.String())

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.addr", d.API.Addr)
	v.SetDefault("api.allowed_origins", d.API.AllowedOrigins)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Default is a single-node devnet on chain 31337 with the canonical
// deployment addresses.
func Default() Config {
	return Config{
		Node: Node{
			ChainID:           31337,
			EngineAddress:     "0x00000000000000ADc04C56Bf30aC9d3c0aAF14dC",
			ControllerAddress: "0x00000000F9490004C11Cef243f5400493c00Ad63",
			DataDir:           "data/hyperport",
			ShutdownTimeout:   5 * time.Second,
		},
		API: API{
			Enabled:        true,
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Log: Log{
			Level: "info",
			File:  "data/node.log",
		},
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if c.Node.ChainID == 0 {
		err = multierr.Append(err, errors.New("node.chain_id must be positive"))
	}
	if !common.IsHexAddress(c.Node.EngineAddress) {
		err = multierr.Append(err, fmt.Errorf("node.engine_address %q is not an address", c.Node.EngineAddress))
	}
	if !common.IsHexAddress(c.Node.ControllerAddress) {
		err = multierr.Append(err, fmt.Errorf("node.controller_address %q is not an address", c.Node.ControllerAddress))
	}
	if c.Node.DataDir == "" {
		err = multierr.Append(err, errors.New("node.data_dir must not be empty"))
	}
	if c.Node.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("node.shutdown_timeout must be positive"))
	}
	if c.API.Enabled && c.API.Addr == "" {
		err = multierr.Append(err, errors.New("api.addr must not be empty when the api is enabled"))
	}
	if c.Log.Level == "" {
		err = multierr.Append(err, errors.New("log.level must not be empty"))
	}
	for i, cd := range c.Conduits {
		key, kerr := hexutil.Decode(cd.Key)
		switch {
		case kerr != nil || len(key) != common.HashLength:
			err = multierr.Append(err, fmt.Errorf("conduits[%d].key %q is not 32 bytes of hex", i, cd.Key))
		case !common.IsHexAddress(cd.Owner):
			err = multierr.Append(err, fmt.Errorf("conduits[%d].owner %q is not an address", i, cd.Owner))
		case common.BytesToAddress(key[:20]) != common.HexToAddress(cd.Owner):
			err = multierr.Append(err, fmt.Errorf("conduits[%d].key does not start with its owner", i))
		}
	}
	return err
}

func (n Node) Engine() common.Address     { return common.HexToAddress(n.EngineAddress) }
func (n Node) Controller() common.Address { return common.HexToAddress(n.ControllerAddress) }
func (n Node) Chain() *big.Int            { return new(big.Int).SetUint64(n.ChainID) }

func (c Conduit) ConduitKey() common.Hash { return common.HexToHash(c.Key) }
func (c Conduit) OwnerAddress() common.Address {
	return common.HexToAddress(c.Owner)
}
