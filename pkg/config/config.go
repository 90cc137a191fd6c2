// Package config loads the master's YAML configuration file into the
// Hypertable.* surface recognized by the daemon, following the same
// yaml.Unmarshal-into-a-struct pattern cmd/rangemasterctl's apply command
// uses for its resource manifests.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the Hypertable.* configuration tree. Dotted names
// in the YAML file map onto nested sections rather than a flat map, since
// the dotted keys are a file-format convention from the original rather
// than a runtime lookup need.
type Config struct {
	Hypertable HypertableConfig `yaml:"Hypertable"`
}

type HypertableConfig struct {
	Request      RequestConfig      `yaml:"Request"`
	Failover     FailoverConfig     `yaml:"Failover"`
	Master       MasterConfig       `yaml:"Master"`
	LoadBalancer LoadBalancerConfig `yaml:"LoadBalancer"`
	RangeServer  RangeServerConfig  `yaml:"RangeServer"`
}

type RequestConfig struct {
	// Timeout is the default timeout, in milliseconds, for client-initiated
	// operations.
	Timeout int `yaml:"Timeout"`
}

type FailoverConfig struct {
	GracePeriod int          `yaml:"GracePeriod"`
	Timeout     int          `yaml:"Timeout"`
	Quorum      QuorumConfig `yaml:"Quorum"`
}

type QuorumConfig struct {
	Percentage float64 `yaml:"Percentage"`
}

type MasterConfig struct {
	DiskThreshold DiskThresholdConfig `yaml:"DiskThreshold"`
}

type DiskThresholdConfig struct {
	Percentage float64 `yaml:"Percentage"`
}

type LoadBalancerConfig struct {
	Enable            bool    `yaml:"Enable"`
	Schedule          string  `yaml:"Schedule"`
	InitialDelay      int     `yaml:"InitialDelay"`
	PerNewServerDelay int     `yaml:"PerNewServerDelay"`
	LoadAvgThreshold  float64 `yaml:"LoadAvgThreshold"`
}

type RangeServerConfig struct {
	Maintenance MaintenanceConfig `yaml:"Maintenance"`
	CommitLog   CommitLogConfig   `yaml:"CommitLog"`
	ClockSkew   ClockSkewConfig   `yaml:"ClockSkew"`
}

type MaintenanceConfig struct {
	Interval                   int     `yaml:"Interval"`
	MergingCompactionDelay     int     `yaml:"MergingCompaction.Delay"`
	MergesPerInterval          int     `yaml:"MergesPerInterval"`
	MoveCompactionsPerInterval int     `yaml:"MoveCompactionsPerInterval"`
	LowMemoryLimitPercentage   float64 `yaml:"LowMemoryLimit.Percentage"`
	MemoryLimit                int64   `yaml:"MemoryLimit"`
	MemoryLimitPercentage      float64 `yaml:"MemoryLimit.Percentage"`
}

type CommitLogConfig struct {
	PruneThreshold PruneThresholdConfig `yaml:"PruneThreshold"`
}

type PruneThresholdConfig struct {
	Min int64 `yaml:"Min"`
	Max int64 `yaml:"Max"`
}

type ClockSkewConfig struct {
	// Max is the registration clock-skew ceiling in microseconds.
	Max int64 `yaml:"Max"`
}

// Default returns the configuration the daemon starts from before a file
// is applied on top of it.
func Default() *Config {
	return &Config{
		Hypertable: HypertableConfig{
			Request: RequestConfig{Timeout: 30000},
			Failover: FailoverConfig{
				GracePeriod: 30000,
				Timeout:     120000,
				Quorum:      QuorumConfig{Percentage: 0.5},
			},
			Master: MasterConfig{
				DiskThreshold: DiskThresholdConfig{Percentage: 0.90},
			},
			LoadBalancer: LoadBalancerConfig{
				Enable:            true,
				InitialDelay:      300,
				PerNewServerDelay: 60,
				LoadAvgThreshold:  0.3,
			},
			RangeServer: RangeServerConfig{
				Maintenance: MaintenanceConfig{
					Interval:                   60000,
					MergingCompactionDelay:     3600000,
					MergesPerInterval:          1,
					MoveCompactionsPerInterval: 1,
					LowMemoryLimitPercentage:   0.05,
					MemoryLimitPercentage:      0.70,
				},
				CommitLog: CommitLogConfig{
					PruneThreshold: PruneThresholdConfig{Min: 1 << 23, Max: 1 << 26},
				},
				ClockSkew: ClockSkewConfig{Max: 1000000},
			},
		},
	}
}

// Load reads path and merges it over Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequestTimeout returns Hypertable.Request.Timeout as a time.Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Hypertable.Request.Timeout) * time.Millisecond
}

// MaintenanceInterval returns Hypertable.RangeServer.Maintenance.Interval
// as a time.Duration.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Hypertable.RangeServer.Maintenance.Interval) * time.Millisecond
}

// MergingCompactionDelay returns the configured merging-compaction delay as
// a time.Duration.
func (c *Config) MergingCompactionDelay() time.Duration {
	return time.Duration(c.Hypertable.RangeServer.Maintenance.MergingCompactionDelay) * time.Millisecond
}
