package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/flowscore/internal/cycle"
	"github.com/danmuck/flowscore/internal/provider"
)

type fileConfig struct {
	ID               string  `toml:"id"`
	Document         string  `toml:"document"`
	Role             string  `toml:"role"`
	MinMeasures      int     `toml:"min_measures"`
	MaxMeasures      int     `toml:"max_measures"`
	MinDelay         string  `toml:"min_delay"`
	MaxDelay         string  `toml:"max_delay"`
	RetryBackoff     string  `toml:"retry_backoff"`
	BackoffFactor    float64 `toml:"retry_backoff_multiplier"`
	BackoffMax       string  `toml:"retry_backoff_max"`
	BackoffJitter    bool    `toml:"retry_backoff_jitter"`
	MaxAttempts      int     `toml:"max_attempts"`
	Mode             string  `toml:"mode"`
	Cycles           int     `toml:"cycles"`
	Precompute       bool    `toml:"precompute"`
	BrokerURL        string  `toml:"broker_url"`
	BrokerHost       string  `toml:"broker_host"`
	BrokerPort       int     `toml:"broker_port"`
	BrokerPath       string  `toml:"broker_path"`
	Discover         bool    `toml:"discover"`
	DiscoveryTimeout string  `toml:"discovery_timeout"`
	WriteTimeout     string  `toml:"write_timeout"`
	Heartbeat        string  `toml:"heartbeat_interval"`
	AdminListenAddr  string  `toml:"admin_listen_addr"`
}

func loadServiceConfig(path string) (provider.ServiceConfig, error) {
	cfg := provider.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return provider.ServiceConfig{}, fmt.Errorf("load provider config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return provider.ServiceConfig{}, fmt.Errorf("load provider config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ProviderID = id
		}
	}
	if meta.IsDefined("document") {
		cfg.DocumentPath = strings.TrimSpace(raw.Document)
	}
	if meta.IsDefined("role") {
		cfg.Role = strings.TrimSpace(raw.Role)
	}

	if meta.IsDefined("min_measures") {
		cfg.Cycle.MinMeasures = raw.MinMeasures
	}
	if meta.IsDefined("max_measures") {
		cfg.Cycle.MaxMeasures = raw.MaxMeasures
	}
	if meta.IsDefined("mode") {
		mode, err := cycle.ParseMode(raw.Mode)
		if err != nil {
			return provider.ServiceConfig{}, err
		}
		cfg.Cycle.Mode = mode
	}
	if meta.IsDefined("cycles") {
		cfg.Cycle.Cycles = raw.Cycles
	}
	if meta.IsDefined("precompute") {
		cfg.Cycle.Precompute = raw.Precompute
	}

	if meta.IsDefined("min_delay") {
		d, err := parseDuration("min_delay", raw.MinDelay)
		if err != nil {
			return provider.ServiceConfig{}, err
		}
		cfg.Delivery.MinDelay = d
	}
	if meta.IsDefined("max_delay") {
		d, err := parseDuration("max_delay", raw.MaxDelay)
		if err != nil {
			return provider.ServiceConfig{}, err
		}
		cfg.Delivery.MaxDelay = d
	}
	if meta.IsDefined("retry_backoff") {
		d, err := parseDuration("retry_backoff", raw.RetryBackoff)
		if err != nil {
			return provider.ServiceConfig{}, err
		}
		cfg.Delivery.Backoff.InitialDelay = d
	}
	if meta.IsDefined("retry_backoff_multiplier") {
		cfg.Delivery.Backoff.Multiplier = raw.BackoffFactor
	}
	if meta.IsDefined("retry_backoff_max") {
		d, err := parseDuration("retry_backoff_max", raw.BackoffMax)
		if err != nil {
			return provider.ServiceConfig{}, err
		}
		cfg.Delivery.Backoff.MaxDelay = d
	}
	if meta.IsDefined("retry_backoff_jitter") {
		cfg.Delivery.Backoff.Jitter = raw.BackoffJitter
	}
	if meta.IsDefined("max_attempts") {
		cfg.Delivery.MaxAttempts = raw.MaxAttempts
	}

	if meta.IsDefined("broker_url") {
		cfg.Broker.URL = strings.TrimSpace(raw.BrokerURL)
	}
	if meta.IsDefined("broker_host") {
		cfg.Broker.Endpoint.Host = strings.TrimSpace(raw.BrokerHost)
	}
	if meta.IsDefined("broker_port") {
		cfg.Broker.Endpoint.Port = raw.BrokerPort
	}
	if meta.IsDefined("broker_path") {
		cfg.Broker.Endpoint.Path = strings.TrimSpace(raw.BrokerPath)
	}
	if meta.IsDefined("discover") {
		cfg.Broker.Discover = raw.Discover
	}
	if meta.IsDefined("discovery_timeout") {
		d, err := parseDuration("discovery_timeout", raw.DiscoveryTimeout)
		if err != nil {
			return provider.ServiceConfig{}, err
		}
		cfg.Broker.DiscoveryTimeout = d
	}

	if meta.IsDefined("write_timeout") {
		d, err := parseDuration("write_timeout", raw.WriteTimeout)
		if err != nil {
			return provider.ServiceConfig{}, err
		}
		cfg.Transport.WriteTimeout = d
	}
	if meta.IsDefined("heartbeat_interval") {
		d, err := parseDuration("heartbeat_interval", raw.Heartbeat)
		if err != nil {
			return provider.ServiceConfig{}, err
		}
		cfg.HeartbeatInterval = d
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
