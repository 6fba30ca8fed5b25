package cfg

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ConfirmationPolicy decides when rows for a slot are handed to storage.
type ConfirmationPolicy string

const (
	// PolicyHoldThenRelease buffers rows until the slot is Confirmed. Rows
	// for a slot that dies are never written.
	PolicyHoldThenRelease ConfirmationPolicy = "hold-then-release"
	// PolicyWriteThenCompensate writes speculatively at Processed and
	// enqueues tombstones if the slot later dies.
	PolicyWriteThenCompensate ConfirmationPolicy = "write-then-compensate"
)

// BigtableConfiguration identifies the backend instance and tables.
type BigtableConfiguration struct {
	Project        string `toml:"project"`
	Instance       string `toml:"instance"`
	CredentialPath string `toml:"credential_path"`
	AppProfile     string `toml:"app_profile"`
	AccountsTable  string `toml:"accounts_table"`
	TxTable        string `toml:"tx_table"`
	BlocksTable    string `toml:"blocks_table"`
	// MaxCellBytes is the ceiling for a single cell value after compression.
	MaxCellBytes int `toml:"max_cell_bytes"`
	// CompressThresholdBytes is the account-data size above which values are
	// stored zstd-compressed. 0 disables compression.
	CompressThresholdBytes int `toml:"compress_threshold_bytes"`
}

// BatcherConfiguration controls batch accumulation and backpressure.
type BatcherConfiguration struct {
	MaxBatchSize int `toml:"max_batch_size"`
	// StartupBatchSize applies while the host replays its startup snapshot.
	StartupBatchSize int `toml:"startup_batch_size"`
	MaxLatencyMS     int `toml:"max_latency_ms"`
	// MaxInflightFlushes bounds concurrent flushes; Enqueue blocks once the
	// bound is reached. This is the primary backpressure mechanism.
	MaxInflightFlushes int `toml:"max_inflight_flushes"`
	DrainTimeoutMS     int `toml:"drain_timeout_ms"`
}

// WriterConfiguration controls retry behavior for storage writes.
type WriterConfiguration struct {
	MaxRetries       int     `toml:"max_retries"`
	RetryInitialMS   int     `toml:"retry_initial_ms"`
	RetryMaxMS       int     `toml:"retry_max_ms"`
	RetryMultiplier  float64 `toml:"retry_multiplier"`
	RetryCeilingMS   int     `toml:"retry_ceiling_ms"`
	RequestTimeoutMS int     `toml:"request_timeout_ms"`
}

// ConfirmationConfiguration controls the slot confirmation tracker.
type ConfirmationConfiguration struct {
	Policy ConfirmationPolicy `toml:"policy"`
	// StaleSlotTimeoutS is how long a slot may sit without a terminal status
	// before it is reported stale.
	StaleSlotTimeoutS int `toml:"stale_slot_timeout_seconds"`
	SweepIntervalS    int `toml:"sweep_interval_seconds"`
	// TerminalHistorySize bounds the memory of recently finished slots used
	// to classify late events.
	TerminalHistorySize int `toml:"terminal_history_size"`
}

// SelectorConfiguration mirrors the host-side account/transaction selection.
// Patterns are globs over base58 ids; "*" selects everything and
// "all_votes" in Mentions selects only vote transactions.
type SelectorConfiguration struct {
	Accounts []string `toml:"accounts"`
	Owners   []string `toml:"owners"`
	Mentions []string `toml:"mentions"`
}

// PublisherConfiguration controls the optional rooted-slot commit stream.
type PublisherConfiguration struct {
	Enabled      bool     `toml:"enabled"`
	Sink         string   `toml:"sink"` // "nats" or "kafka"
	Topic        string   `toml:"topic"`
	NatsURL      string   `toml:"nats_url"`
	KafkaBrokers []string `toml:"kafka_brokers"`
	BufferSize   int      `toml:"buffer_size"`
}

// AdminConfiguration controls the health/stats/metrics HTTP listener.
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// LoggingConfiguration controls logging behavior.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics.
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure.
type Configuration struct {
	// InstanceID labels metrics and commit records. Defaults to a
	// machine-derived id.
	InstanceID string `toml:"instance_id"`

	Bigtable     BigtableConfiguration     `toml:"bigtable"`
	Batcher      BatcherConfiguration      `toml:"batcher"`
	Writer       WriterConfiguration       `toml:"writer"`
	Confirmation ConfirmationConfiguration `toml:"confirmation"`
	Selector     SelectorConfiguration     `toml:"selector"`
	Publisher    PublisherConfiguration    `toml:"publisher"`
	Admin        AdminConfiguration        `toml:"admin"`
	Logging      LoggingConfiguration      `toml:"logging"`
	Prometheus   PrometheusConfiguration   `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "ledgersink.toml", "Path to configuration file")
	ReplayPathFlag = flag.String("replay", "-", "NDJSON event stream to ingest ('-' for stdin)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	Bigtable: BigtableConfiguration{
		AccountsTable:          "accounts",
		TxTable:                "tx",
		BlocksTable:            "blocks",
		MaxCellBytes:           10 << 20,
		CompressThresholdBytes: 64 << 10,
	},

	Batcher: BatcherConfiguration{
		MaxBatchSize:       1000,
		StartupBatchSize:   5000,
		MaxLatencyMS:       200,
		MaxInflightFlushes: 3,
		DrainTimeoutMS:     10000,
	},

	Writer: WriterConfiguration{
		MaxRetries:       10,
		RetryInitialMS:   100,
		RetryMaxMS:       30000,
		RetryMultiplier:  2.0,
		RetryCeilingMS:   120000,
		RequestTimeoutMS: 10000,
	},

	Confirmation: ConfirmationConfiguration{
		Policy:              PolicyHoldThenRelease,
		StaleSlotTimeoutS:   300,
		SweepIntervalS:      30,
		TerminalHistorySize: 8192,
	},

	Selector: SelectorConfiguration{
		Accounts: []string{"*"},
		Mentions: []string{"*"},
	},

	Publisher: PublisherConfiguration{
		Enabled:    false,
		Sink:       "nats",
		Topic:      "ledgersink.commits",
		BufferSize: 1024,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        8321,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides.
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if Config.InstanceID == "" {
		id, err := machineid.ProtectedID("ledgersink")
		if err != nil {
			log.Warn().Err(err).Msg("Unable to derive machine id, using hostname")
			host, _ := os.Hostname()
			id = host
		}
		if len(id) > 12 {
			id = id[:12]
		}
		Config.InstanceID = id
	}

	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func Validate() error {
	c := Config
	if c.Bigtable.Project == "" || c.Bigtable.Instance == "" {
		return fmt.Errorf("bigtable.project and bigtable.instance are required")
	}
	if c.Bigtable.AccountsTable == "" || c.Bigtable.TxTable == "" || c.Bigtable.BlocksTable == "" {
		return fmt.Errorf("bigtable table names must not be empty")
	}
	if c.Batcher.MaxBatchSize <= 0 {
		return fmt.Errorf("batcher.max_batch_size must be positive, got %d", c.Batcher.MaxBatchSize)
	}
	if c.Batcher.MaxInflightFlushes <= 0 {
		return fmt.Errorf("batcher.max_inflight_flushes must be positive, got %d", c.Batcher.MaxInflightFlushes)
	}
	if c.Writer.RetryMultiplier < 1.0 {
		return fmt.Errorf("writer.retry_multiplier must be >= 1.0, got %f", c.Writer.RetryMultiplier)
	}
	switch c.Confirmation.Policy {
	case PolicyHoldThenRelease, PolicyWriteThenCompensate:
	default:
		return fmt.Errorf("unknown confirmation policy %q", c.Confirmation.Policy)
	}
	if c.Publisher.Enabled {
		switch c.Publisher.Sink {
		case "nats":
			if c.Publisher.NatsURL == "" {
				return fmt.Errorf("publisher.nats_url is required for the nats sink")
			}
		case "kafka":
			if len(c.Publisher.KafkaBrokers) == 0 {
				return fmt.Errorf("publisher.kafka_brokers is required for the kafka sink")
			}
		default:
			return fmt.Errorf("unknown publisher sink %q", c.Publisher.Sink)
		}
	}
	return nil
}

// MaxLatency returns the batcher flush latency bound as a duration.
func (b BatcherConfiguration) MaxLatency() time.Duration {
	return time.Duration(b.MaxLatencyMS) * time.Millisecond
}

// DrainTimeout returns the shutdown drain bound as a duration.
func (b BatcherConfiguration) DrainTimeout() time.Duration {
	return time.Duration(b.DrainTimeoutMS) * time.Millisecond
}

// StaleSlotTimeout returns the stale reporting threshold as a duration.
func (c ConfirmationConfiguration) StaleSlotTimeout() time.Duration {
	return time.Duration(c.StaleSlotTimeoutS) * time.Second
}

// SweepInterval returns the stale sweep cadence as a duration.
func (c ConfirmationConfiguration) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalS) * time.Second
}
