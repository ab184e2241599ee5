// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/globalsign/mgo"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pbnjay/memory"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/retry"
)

// Root is the YAML root key. Environment overrides use the DGAWATCH_ prefix it implies.
const Root = "dgawatch"

// CaptureFilter is the BPF expression installed on every capture source.
const CaptureFilter = "udp port 53"

// Config is the immutable pipeline configuration.
// Maps to the `dgawatch:` root key in YAML.
type Config struct {
	Interface string `mapstructure:"interface" yaml:"interface"`
	MemoryMB  int    `mapstructure:"memory_mb" yaml:"memory_mb"` // 0 = auto
	DryRun    bool   `mapstructure:"dry_run" yaml:"dry_run"`

	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Extract  ExtractConfig  `mapstructure:"extract" yaml:"extract"`
	Lookup   LookupConfig   `mapstructure:"lookup" yaml:"lookup"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Broker   BrokerConfig   `mapstructure:"broker" yaml:"broker"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Control  ControlConfig  `mapstructure:"control" yaml:"control"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ─── Capture ───

// CaptureConfig selects and tunes the capture source.
type CaptureConfig struct {
	Source      string        `mapstructure:"source" yaml:"source"` // pcap | afpacket | file
	PcapFile    string        `mapstructure:"pcap_file" yaml:"pcap_file"`
	Snaplen     int           `mapstructure:"snaplen" yaml:"snaplen"`
	BufferMB    int           `mapstructure:"buffer_mb" yaml:"buffer_mb"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Promiscuous bool          `mapstructure:"promiscuous" yaml:"promiscuous"`
	Immediate   bool          `mapstructure:"immediate" yaml:"immediate"`

	// AF_PACKET ring geometry.
	FrameSize int `mapstructure:"frame_size" yaml:"frame_size"`
	BlockSize int `mapstructure:"block_size" yaml:"block_size"`
	NumBlocks int `mapstructure:"num_blocks" yaml:"num_blocks"`
}

// ─── Extract ───

// ExtractConfig controls DNS extraction and the batch flush policy.
type ExtractConfig struct {
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`         // 0 disables the size trigger
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"` // 0 disables the age trigger
	ResponsesOnly bool          `mapstructure:"responses_only" yaml:"responses_only"`
}

// ─── Lookup / Store ───

// LookupConfig controls the reputation lookup stage.
type LookupConfig struct {
	CaseSensitive   bool         `mapstructure:"case_sensitive" yaml:"case_sensitive"`
	ForwardUnlisted bool         `mapstructure:"forward_unlisted" yaml:"forward_unlisted"`
	Retry           retry.Policy `mapstructure:"retry" yaml:"retry"`
}

// StoreConfig locates the reputation store.
type StoreConfig struct {
	Type       string        `mapstructure:"type" yaml:"type"` // mongo | memory
	URI        string        `mapstructure:"uri" yaml:"uri"`
	Database   string        `mapstructure:"database" yaml:"database"`
	Blacklist  string        `mapstructure:"blacklist" yaml:"blacklist"`
	Whitelist  string        `mapstructure:"whitelist" yaml:"whitelist"`
	Results    string        `mapstructure:"results" yaml:"results"`
	MatchField string        `mapstructure:"match_field" yaml:"match_field"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Seeds for the memory store.
	Blacklisted []string `mapstructure:"blacklisted" yaml:"blacklisted,omitempty"`
	Whitelisted []string `mapstructure:"whitelisted" yaml:"whitelisted,omitempty"`
}

// ─── Broker ───

// BrokerConfig locates the message broker.
type BrokerConfig struct {
	Type           string        `mapstructure:"type" yaml:"type"` // amqp | kafka | memory
	URL            string        `mapstructure:"url" yaml:"url"`
	Queue          string        `mapstructure:"queue" yaml:"queue"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	Retry          retry.Policy  `mapstructure:"retry" yaml:"retry"`
	Kafka          KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaConfig configures the Kafka publisher. The topic is the broker queue name.
type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers" yaml:"brokers"`
	Compression string   `mapstructure:"compression" yaml:"compression"` // none | gzip | snappy | lz4 | zstd
}

// ─── Pipeline ───

// PipelineConfig tunes the queues between stages.
type PipelineConfig struct {
	QueueKind    string        `mapstructure:"queue_kind" yaml:"queue_kind"` // ring | chan
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ─── Control ───

// ControlConfig contains local process control settings.
type ControlConfig struct {
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	Path            string        `mapstructure:"path" yaml:"path"`
	CollectInterval time.Duration `mapstructure:"collect_interval" yaml:"collect_interval"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `dgawatch: ...`.
type configRoot struct {
	Dgawatch Config `mapstructure:"dgawatch" yaml:"dgawatch"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"interface":   "interface",
	"memory":      "memory_mb",
	"dry-run":     "dry_run",
	"db":          "store.uri",
	"db-name":     "store.database",
	"amqp":        "broker.url",
	"queue":       "broker.queue",
	"broker-type": "broker.type",
	"source":      "capture.source",
	"pcap-file":   "capture.pcap_file",
	"log-level":   "log.level",
}

// Load builds the configuration from defaults, the optional YAML file at path,
// DGAWATCH_* environment variables and flags, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `dgawatch.` key prefix maps to `DGAWATCH_` in env vars via the key replacer
	// (e.g., key "dgawatch.store.uri" → env "DGAWATCH_STORE_URI").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(Root+"."+key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var root configRoot
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&root, hooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w: %w", core.ErrConfigInvalid, err)
	}
	cfg := root.Dgawatch

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// Every key is registered so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper) {
	d := func(key string, value any) { v.SetDefault(Root+"."+key, value) }

	d("interface", "")
	d("memory_mb", 0)
	d("dry_run", false)

	// Capture defaults
	d("capture.source", "pcap")
	d("capture.pcap_file", "")
	d("capture.snaplen", 65535)
	d("capture.buffer_mb", 32)
	d("capture.timeout", "100ms")
	d("capture.promiscuous", true)
	d("capture.immediate", true)
	d("capture.frame_size", 4096)
	d("capture.block_size", 1<<20)
	d("capture.num_blocks", 32)

	// Extract defaults
	d("extract.batch_size", 1000)
	d("extract.flush_interval", "1s")
	d("extract.responses_only", true)

	// Lookup / store defaults
	d("lookup.case_sensitive", false)
	d("lookup.forward_unlisted", false)
	d("lookup.retry.attempts", retry.StorePolicy.Attempts)
	d("lookup.retry.delay", retry.StorePolicy.Delay.String())
	d("store.type", "mongo")
	d("store.uri", "")
	d("store.database", "")
	d("store.blacklist", "Blacklist")
	d("store.whitelist", "Whitelist")
	d("store.results", "Results")
	d("store.match_field", "element")
	d("store.timeout", "10s")
	d("store.blacklisted", []string{})
	d("store.whitelisted", []string{})

	// Broker defaults
	d("broker.type", "amqp")
	d("broker.url", "")
	d("broker.queue", "")
	d("broker.confirm_timeout", "5s")
	d("broker.retry.attempts", retry.BrokerPolicy.Attempts)
	d("broker.retry.delay", retry.BrokerPolicy.Delay.String())
	d("broker.kafka.brokers", []string{})
	d("broker.kafka.compression", "snappy")

	// Pipeline defaults
	d("pipeline.queue_kind", "ring")
	d("pipeline.poll_interval", "100ms")

	d("control.pid_file", "/var/run/dgawatch.pid")

	// Metrics defaults
	d("metrics.enabled", true)
	d("metrics.listen", ":9091")
	d("metrics.path", "/metrics")
	d("metrics.collect_interval", "5s")

	// Log defaults
	d("log.level", "info")
	d("log.format", "json")
	d("log.outputs.file.enabled", false)
	d("log.outputs.file.path", "/var/log/dgawatch/dgawatch.log")
	d("log.outputs.file.rotation.max_size_mb", 100)
	d("log.outputs.file.rotation.max_age_days", 30)
	d("log.outputs.file.rotation.max_backups", 5)
	d("log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
// Every returned error matches core.ErrConfigInvalid.
func (cfg *Config) ValidateAndApplyDefaults() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
	}

	// ── Log ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Dry run swaps external collaborators for in-process doubles ──
	if cfg.DryRun {
		cfg.Store.Type = "memory"
		cfg.Broker.Type = "memory"
	}

	// ── Capture ──
	switch cfg.Capture.Source {
	case "pcap", "afpacket":
		if cfg.Interface == "" {
			return invalid("interface is required for capture.source=%s", cfg.Capture.Source)
		}
	case "file":
		if cfg.Capture.PcapFile == "" {
			return invalid("capture.pcap_file is required for capture.source=file")
		}
	default:
		return invalid("unsupported capture.source: %s (must be pcap/afpacket/file)", cfg.Capture.Source)
	}
	if cfg.Capture.Snaplen <= 0 {
		return invalid("capture.snaplen must be positive")
	}
	if cfg.Capture.BufferMB < 1 {
		cfg.Capture.BufferMB = 1
	}
	if cfg.Capture.Timeout <= 0 {
		cfg.Capture.Timeout = 100 * time.Millisecond
	}

	if cfg.MemoryMB < 0 {
		return invalid("memory_mb must not be negative")
	}

	// ── Extract ──
	if cfg.Extract.BatchSize < 0 || cfg.Extract.FlushInterval < 0 {
		return invalid("extract.batch_size and extract.flush_interval must not be negative")
	}
	if cfg.Extract.BatchSize == 0 && cfg.Extract.FlushInterval == 0 {
		return invalid("extract.batch_size and extract.flush_interval cannot both be disabled")
	}

	// ── Store ──
	switch cfg.Store.Type {
	case "mongo":
		if cfg.Store.URI == "" {
			return invalid("store.uri is required for store.type=mongo")
		}
		if cfg.Store.Database == "" {
			return invalid("store.database is required for store.type=mongo")
		}
		if _, err := mgo.ParseURL(cfg.Store.URI); err != nil {
			return fmt.Errorf("store.uri: %w: %w", core.ErrConfigInvalid, err)
		}
	case "memory":
	default:
		return invalid("unsupported store.type: %s (must be mongo/memory)", cfg.Store.Type)
	}
	if cfg.Store.MatchField == "" {
		cfg.Store.MatchField = "element"
	}
	if err := cfg.Lookup.Retry.Validate(); err != nil {
		return fmt.Errorf("lookup.retry: %w", err)
	}

	// ── Broker ──
	switch cfg.Broker.Type {
	case "amqp":
		if cfg.Broker.Queue == "" {
			return invalid("broker.queue is required")
		}
		if cfg.Broker.URL == "" {
			return invalid("broker.url is required for broker.type=amqp")
		}
		if _, err := ParseConnString(cfg.Broker.URL); err != nil {
			return fmt.Errorf("broker.url: %w: %w", core.ErrConfigInvalid, err)
		}
	case "kafka":
		if cfg.Broker.Queue == "" {
			return invalid("broker.queue is required")
		}
		if len(cfg.Broker.Kafka.Brokers) == 0 {
			return invalid("broker.kafka.brokers is required for broker.type=kafka")
		}
	case "memory":
	default:
		return invalid("unsupported broker.type: %s (must be amqp/kafka/memory)", cfg.Broker.Type)
	}
	if cfg.Broker.ConfirmTimeout <= 0 {
		cfg.Broker.ConfirmTimeout = 5 * time.Second
	}
	if err := cfg.Broker.Retry.Validate(); err != nil {
		return fmt.Errorf("broker.retry: %w", err)
	}

	// ── Pipeline ──
	if cfg.Pipeline.QueueKind != "ring" && cfg.Pipeline.QueueKind != "chan" {
		return invalid("unsupported pipeline.queue_kind: %s (must be ring/chan)", cfg.Pipeline.QueueKind)
	}
	if cfg.Pipeline.PollInterval <= 0 {
		cfg.Pipeline.PollInterval = 100 * time.Millisecond
	}

	return nil
}

const (
	mib              = 1 << 20
	maxDefaultBudget = 256 * mib
)

// MemoryBudget returns the byte budget for pipeline queues. An unset budget defaults to
// min(256 MiB, total system memory / 8).
func (cfg *Config) MemoryBudget() uint64 {
	if cfg.MemoryMB > 0 {
		return uint64(cfg.MemoryMB) * mib
	}
	return defaultBudget(memory.TotalMemory())
}

func defaultBudget(total uint64) uint64 {
	if total == 0 {
		return maxDefaultBudget
	}
	return min(total/8, maxDefaultBudget)
}
