package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	NetRisk NetRiskConfig `yaml:"netrisk"`
}

// NetRiskConfig is the project configuration.
type NetRiskConfig struct {
	Input         InputConfig         `yaml:"input"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Anomaly       AnomalyConfig       `yaml:"anomaly"`
	Features      FeaturesConfig      `yaml:"features"`
	Model         ModelConfig         `yaml:"model"`
	Output        OutputConfig        `yaml:"output"`
	ReplayCapture ReplayCaptureConfig `yaml:"replay_capture"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// InputConfig controls the input reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls the streaming runner.
type PipelineConfig struct {
	Workers         int           `yaml:"workers"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	DedupeCacheSize int           `yaml:"dedupe_cache_size"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// AnomalyConfig controls log anomaly detection.
type AnomalyConfig struct {
	InvalidIPSentinel string      `yaml:"invalid_ip_sentinel"`
	Workers           int         `yaml:"workers"`
	Rules             RulesConfig `yaml:"rules"`
}

// RulesConfig controls operator Sigma threat rules.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// FeaturesConfig controls telemetry aggregation.
type FeaturesConfig struct {
	Windows []int `yaml:"windows"`
	Workers int   `yaml:"workers"`
}

// ModelConfig controls risk scoring.
type ModelConfig struct {
	Mode                  string           `yaml:"mode"`
	Seed                  int64            `yaml:"seed"`
	Trees                 int              `yaml:"trees"`
	SampleSize            int              `yaml:"sample_size"`
	PseudoLabelPercentile float64          `yaml:"pseudo_label_percentile"`
	TopN                  int              `yaml:"top_n"`
	Thresholds            ThresholdsConfig `yaml:"thresholds"`
	Store                 ModelStoreConfig `yaml:"store"`
}

// ThresholdsConfig holds rule model limits.
type ThresholdsConfig struct {
	CPU          float64 `yaml:"cpu"`
	Mem          float64 `yaml:"mem"`
	IfUtil       float64 `yaml:"if_util"`
	PktErr       float64 `yaml:"pkt_err"`
	LatencyMS    float64 `yaml:"latency_ms"`
	TrendWindows []int   `yaml:"trend_windows"`
	TrendChange  float64 `yaml:"trend_change"`
}

// ModelStoreConfig selects where trained models live.
type ModelStoreConfig struct {
	Mode  string                `yaml:"mode"` // file|redis
	Dir   string                `yaml:"dir"`
	Redis ModelRedisStoreConfig `yaml:"redis"`
}

// ModelRedisStoreConfig controls the Redis model store.
type ModelRedisStoreConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// OutputConfig controls output sinks.
type OutputConfig struct {
	Findings FindingsOutputConfig `yaml:"findings"`
	Risk     RiskOutputConfig     `yaml:"risk"`
}

// FindingsOutputConfig controls the findings sink.
type FindingsOutputConfig struct {
	Mode       string                 `yaml:"mode"` // file|clickhouse
	File       FileOutputConfig       `yaml:"file"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
}

// RiskOutputConfig controls the risk assessment sink.
type RiskOutputConfig struct {
	Mode string           `yaml:"mode"` // file|http
	File FileOutputConfig `yaml:"file"`
	HTTP HTTPOutputConfig `yaml:"http"`
}

// ReplayCaptureConfig controls raw message capture for replay.
type ReplayCaptureConfig struct {
	Enabled bool             `yaml:"enabled"`
	File    FileOutputConfig `yaml:"file"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL      string            `yaml:"url"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
	MaxBatch int               `yaml:"max_batch"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LoadConfig reads, parses, defaults and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	n := &cfg.NetRisk

	if n.Input.Redis.Addr == "" {
		n.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if n.Input.Redis.Key == "" {
		n.Input.Redis.Key = "netrisk:firewall_logs"
	}
	if n.Input.Redis.BlockTimeout <= 0 {
		n.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if n.Pipeline.Workers <= 0 {
		n.Pipeline.Workers = 8
	}
	if n.Pipeline.BatchSize <= 0 {
		n.Pipeline.BatchSize = 1000
	}
	if n.Pipeline.FlushInterval <= 0 {
		n.Pipeline.FlushInterval = 2 * time.Second
	}
	if n.Pipeline.DedupeCacheSize < 0 {
		n.Pipeline.DedupeCacheSize = 0
	}
	if n.Pipeline.RetryDelay <= 0 {
		n.Pipeline.RetryDelay = time.Second
	}

	if n.Anomaly.InvalidIPSentinel == "" {
		n.Anomaly.InvalidIPSentinel = "999.999.999.999"
	}
	if n.Anomaly.Rules.Enabled && n.Anomaly.Rules.Path == "" {
		n.Anomaly.Rules.Path = "rules"
	}

	if len(n.Features.Windows) == 0 {
		n.Features.Windows = []int{5, 15, 30}
	}

	m := &n.Model
	if m.Mode == "" {
		m.Mode = "rule"
	}
	if m.Seed == 0 {
		m.Seed = 42
	}
	if m.Trees <= 0 {
		m.Trees = 100
	}
	if m.SampleSize <= 0 {
		m.SampleSize = 256
	}
	if m.PseudoLabelPercentile <= 0 {
		m.PseudoLabelPercentile = 20
	}
	if m.TopN <= 0 {
		m.TopN = 3
	}
	t := &m.Thresholds
	if t.CPU <= 0 {
		t.CPU = 0.85
	}
	if t.Mem <= 0 {
		t.Mem = 0.90
	}
	if t.IfUtil <= 0 {
		t.IfUtil = 0.80
	}
	if t.PktErr <= 0 {
		t.PktErr = 0.05
	}
	if t.LatencyMS <= 0 {
		t.LatencyMS = 100
	}
	if len(t.TrendWindows) == 0 {
		t.TrendWindows = []int{5, 15, 30}
	}
	if t.TrendChange <= 0 {
		t.TrendChange = 0.2
	}
	if m.Store.Mode == "" {
		m.Store.Mode = "file"
	}
	if m.Store.Dir == "" {
		m.Store.Dir = "models"
	}
	if m.Store.Redis.Addr == "" {
		m.Store.Redis.Addr = n.Input.Redis.Addr
	}
	if m.Store.Redis.KeyPrefix == "" {
		m.Store.Redis.KeyPrefix = "netrisk:models"
	}

	if n.Output.Findings.Mode == "" {
		n.Output.Findings.Mode = "file"
	}
	if n.Output.Findings.File.Path == "" {
		n.Output.Findings.File.Path = "output/findings.jsonl"
	}
	if n.Output.Risk.Mode == "" {
		n.Output.Risk.Mode = "file"
	}
	if n.Output.Risk.File.Path == "" {
		n.Output.Risk.File.Path = "output/risk.jsonl"
	}
	if n.ReplayCapture.Enabled && n.ReplayCapture.File.Path == "" {
		n.ReplayCapture.File.Path = "output/raw.jsonl"
	}

	if n.Metrics.Addr == "" {
		n.Metrics.Addr = ":9464"
	}
	if n.Logging.Level == "" {
		n.Logging.Level = "info"
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	n := &c.NetRisk
	switch strings.ToLower(n.Model.Mode) {
	case "rule", "ml", "statistical":
	default:
		return fmt.Errorf("unknown model mode: %s", n.Model.Mode)
	}
	switch n.Model.Store.Mode {
	case "file", "redis":
	default:
		return fmt.Errorf("unsupported model store mode: %s", n.Model.Store.Mode)
	}
	switch n.Output.Findings.Mode {
	case "file":
	case "clickhouse":
		if n.Output.Findings.ClickHouse.URL == "" {
			return fmt.Errorf("output.findings.clickhouse.url is required")
		}
	default:
		return fmt.Errorf("unsupported findings output mode: %s", n.Output.Findings.Mode)
	}
	switch n.Output.Risk.Mode {
	case "file":
	case "http":
		if n.Output.Risk.HTTP.URL == "" {
			return fmt.Errorf("output.risk.http.url is required")
		}
	default:
		return fmt.Errorf("unsupported risk output mode: %s", n.Output.Risk.Mode)
	}
	for _, w := range n.Features.Windows {
		if w <= 0 {
			return fmt.Errorf("feature window must be positive, got %d", w)
		}
	}
	if n.Model.PseudoLabelPercentile >= 100 {
		return fmt.Errorf("pseudo_label_percentile must be below 100, got %v", n.Model.PseudoLabelPercentile)
	}
	return nil
}
