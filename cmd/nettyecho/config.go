package main

import (
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk shape of nettyecho's config file, loaded with
// BurntSushi/toml the way danmuck-edgectl loads its own service config.
type fileConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	DiscoveryTimeout string `toml:"discovery_timeout"`
}

type config struct {
	ListenAddr       string
	DiscoveryTimeout time.Duration
}

func defaultConfig() config {
	return config{
		ListenAddr:       "127.0.0.1:9191",
		DiscoveryTimeout: 2 * time.Second,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return cfg, err
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.DiscoveryTimeout != "" {
		d, err := time.ParseDuration(fc.DiscoveryTimeout)
		if err != nil {
			return cfg, err
		}
		cfg.DiscoveryTimeout = d
	}
	return cfg, nil
}
