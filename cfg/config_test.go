package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Configuration {
	c := *Config // copy defaults
	c.Bigtable.Project = "test-project"
	c.Bigtable.Instance = "test-instance"
	return &c
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_MissingBigtableIdentity(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Bigtable.Project = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for missing bigtable project")
	}

	Config = validConfig()
	Config.Bigtable.Instance = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for missing bigtable instance")
	}
}

func TestValidate_EmptyTableNames(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Bigtable.TxTable = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for empty table name")
	}
}

func TestValidate_BatcherBounds(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Batcher.MaxBatchSize = 0
	if err := Validate(); err == nil {
		t.Error("Expected error for zero max_batch_size")
	}

	Config = validConfig()
	Config.Batcher.MaxInflightFlushes = -1
	if err := Validate(); err == nil {
		t.Error("Expected error for negative max_inflight_flushes")
	}
}

func TestValidate_RetryMultiplier(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Writer.RetryMultiplier = 0.5
	if err := Validate(); err == nil {
		t.Error("Expected error for retry_multiplier below 1.0")
	}
}

func TestValidate_ConfirmationPolicy(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Confirmation.Policy = "optimistic-yolo"
	if err := Validate(); err == nil {
		t.Error("Expected error for unknown confirmation policy")
	}

	Config = validConfig()
	Config.Confirmation.Policy = PolicyWriteThenCompensate
	if err := Validate(); err != nil {
		t.Errorf("Expected write-then-compensate to validate, got: %v", err)
	}
}

func TestValidate_PublisherSink(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Publisher.Enabled = true
	Config.Publisher.Sink = "nats"
	Config.Publisher.NatsURL = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for nats sink without url")
	}

	Config = validConfig()
	Config.Publisher.Enabled = true
	Config.Publisher.Sink = "kafka"
	if err := Validate(); err == nil {
		t.Error("Expected error for kafka sink without brokers")
	}

	Config = validConfig()
	Config.Publisher.Enabled = true
	Config.Publisher.Sink = "kafka"
	Config.Publisher.KafkaBrokers = []string{"localhost:9092"}
	if err := Validate(); err != nil {
		t.Errorf("Expected kafka config to validate, got: %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = validConfig()

	dir := t.TempDir()
	path := filepath.Join(dir, "ledgersink.toml")
	content := `
instance_id = "test-node"

[bigtable]
project = "proj"
instance = "inst"

[batcher]
max_batch_size = 250

[confirmation]
policy = "write-then-compensate"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if Config.InstanceID != "test-node" {
		t.Errorf("Expected instance_id test-node, got %q", Config.InstanceID)
	}
	if Config.Bigtable.Project != "proj" {
		t.Errorf("Expected project proj, got %q", Config.Bigtable.Project)
	}
	if Config.Batcher.MaxBatchSize != 250 {
		t.Errorf("Expected max_batch_size 250, got %d", Config.Batcher.MaxBatchSize)
	}
	if Config.Confirmation.Policy != PolicyWriteThenCompensate {
		t.Errorf("Expected write-then-compensate, got %q", Config.Confirmation.Policy)
	}
	// Untouched sections keep their defaults.
	if Config.Batcher.MaxLatencyMS != 200 {
		t.Errorf("Expected default max_latency_ms 200, got %d", Config.Batcher.MaxLatencyMS)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = validConfig()

	if err := Load("/nonexistent/ledgersink.toml"); err != nil {
		t.Fatalf("Load of missing file should fall back to defaults, got: %v", err)
	}
	if Config.InstanceID == "" {
		t.Error("Expected a derived instance id")
	}
}

func TestDurationHelpers(t *testing.T) {
	b := BatcherConfiguration{MaxLatencyMS: 200, DrainTimeoutMS: 10000}
	if b.MaxLatency() != 200*time.Millisecond {
		t.Errorf("MaxLatency = %v", b.MaxLatency())
	}
	if b.DrainTimeout() != 10*time.Second {
		t.Errorf("DrainTimeout = %v", b.DrainTimeout())
	}

	c := ConfirmationConfiguration{StaleSlotTimeoutS: 300, SweepIntervalS: 30}
	if c.StaleSlotTimeout() != 5*time.Minute {
		t.Errorf("StaleSlotTimeout = %v", c.StaleSlotTimeout())
	}
	if c.SweepInterval() != 30*time.Second {
		t.Errorf("SweepInterval = %v", c.SweepInterval())
	}
}
