package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ethbank/internal/ledger"
)

//go:embed schema.cue
var schemaCUE string

const (
	// DefaultFile is read when no explicit config path is given and it exists.
	DefaultFile = "ethbank.yaml"

	// DefaultEnvFile is read when no explicit env file is given and it exists.
	DefaultEnvFile = ".env"

	envPrefix = "ETHBANK_"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the merged configuration.
type Config struct {
	Store   StoreConfig      `yaml:"store" json:"store"`
	Server  ServerConfig     `yaml:"server" json:"server"`
	Ledger  LedgerConfig     `yaml:"ledger" json:"ledger"`
	Events  EventsConfig     `yaml:"events" json:"events"`
	Genesis []GenesisAccount `yaml:"genesis" json:"genesis"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

type LedgerConfig struct {
	// MaxMessageBytes bounds transfer notes. Zero disables the bound.
	MaxMessageBytes int `yaml:"max_message_bytes" json:"max_message_bytes"`
}

type EventsConfig struct {
	// Buffer is the per-subscriber event buffer.
	Buffer int         `yaml:"buffer" json:"buffer"`
	Kafka  KafkaConfig `yaml:"kafka" json:"kafka"`
}

// KafkaConfig enables the Kafka forwarder when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

// GenesisAccount is an opening allocation applied to an empty ledger.
type GenesisAccount struct {
	Address      string `yaml:"address" json:"address"`
	Balance      string `yaml:"balance" json:"balance"`
	RefusesFunds bool   `yaml:"refuses_funds" json:"refuses_funds"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "ethbank.db",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Ledger: LedgerConfig{
			MaxMessageBytes: 4096,
		},
		Events: EventsConfig{
			Buffer: 64,
			Kafka: KafkaConfig{
				Topic: "ethbank.transfers",
			},
		},
	}
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// File is an explicit YAML path. It must exist. When empty, DefaultFile
	// is read if present.
	File string

	// EnvFile is an explicit .env path. It must exist. When empty,
	// DefaultEnvFile is read if present.
	EnvFile string

	// LookupEnv reads process variables. Defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// Load merges every source and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if err := cfg.readYAML(opts.File); err != nil {
		return nil, err
	}

	vars, err := readEnvFile(opts.EnvFile)
	if err != nil {
		return nil, err
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, key := range envKeys {
		if v, ok := lookup(key); ok {
			vars[key] = v
		}
	}

	if err := cfg.applyEnv(vars); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readYAML(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func readEnvFile(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	vars, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return vars, nil
}

// Environment variables recognized by applyEnv.
const (
	EnvStoreDriver     = envPrefix + "STORE_DRIVER"
	EnvStorePath       = envPrefix + "STORE_PATH"
	EnvStoreDSN        = envPrefix + "STORE_DSN"
	EnvServerAddr      = envPrefix + "SERVER_ADDR"
	EnvMaxMessageBytes = envPrefix + "MAX_MESSAGE_BYTES"
	EnvEventsBuffer    = envPrefix + "EVENTS_BUFFER"
	EnvKafkaBrokers    = envPrefix + "KAFKA_BROKERS"
	EnvKafkaTopic      = envPrefix + "KAFKA_TOPIC"
)

var envKeys = []string{
	EnvStoreDriver,
	EnvStorePath,
	EnvStoreDSN,
	EnvServerAddr,
	EnvMaxMessageBytes,
	EnvEventsBuffer,
	EnvKafkaBrokers,
	EnvKafkaTopic,
}

func (c *Config) applyEnv(vars map[string]string) error {
	for key, v := range vars {
		switch key {
		case EnvStoreDriver:
			c.Store.Driver = v
		case EnvStorePath:
			c.Store.Path = v
		case EnvStoreDSN:
			c.Store.DSN = v
		case EnvServerAddr:
			c.Server.Addr = v
		case EnvMaxMessageBytes:
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			c.Ledger.MaxMessageBytes = n
		case EnvEventsBuffer:
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			c.Events.Buffer = n
		case EnvKafkaBrokers:
			c.Events.Kafka.Brokers = splitList(v)
		case EnvKafkaTopic:
			c.Events.Kafka.Topic = v
		}
	}
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks c against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	// Lists are encoded as [] rather than null.
	norm := *c
	if norm.Genesis == nil {
		norm.Genesis = []GenesisAccount{}
	}
	if norm.Events.Kafka.Brokers == nil {
		norm.Events.Kafka.Brokers = []string{}
	}

	val := ctx.Encode(norm)
	if err := val.Err(); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// KafkaEnabled reports whether events should be forwarded to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.Events.Kafka.Brokers) > 0
}

// GenesisAccounts converts the genesis section to ledger accounts.
func (c *Config) GenesisAccounts() ([]ledger.Account, error) {
	accts := make([]ledger.Account, 0, len(c.Genesis))
	for i, g := range c.Genesis {
		addr, err := ledger.ParseAddress(g.Address)
		if err != nil {
			return nil, fmt.Errorf("config: genesis[%d]: %w", i, err)
		}
		bal, err := ledger.ParseAmount(g.Balance)
		if err != nil {
			return nil, fmt.Errorf("config: genesis[%d]: %w", i, err)
		}
		accts = append(accts, ledger.Account{
			Address:      addr,
			Balance:      bal,
			Initial:      bal,
			RefusesFunds: g.RefusesFunds,
		})
	}
	return accts, nil
}
