package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	ResultsOnly    bool
	RPCURL         string
	Timeout        string
	AdapterTimeout string
	Retries        int
	DataDir        string
	NoCache        bool
	NoPrices       bool
	Categories     string
}

type Settings struct {
	OutputMode         string
	ResultsOnly        bool
	Timeout            time.Duration
	AdapterTimeout     time.Duration
	Retries            int
	RPCURL             string
	DataDir            string
	CacheEnabled       bool
	PriceCachePath     string
	PriceCacheLockPath string
	PriceCacheTTL      time.Duration
	IncludePrices      bool
	Categories         []string
	DefaultAddress     string
	Aliases            map[string]string
	LogLevel           string
}

type fileConfig struct {
	Output         string `yaml:"output"`
	Timeout        string `yaml:"timeout"`
	AdapterTimeout string `yaml:"adapter_timeout"`
	Retries        *int   `yaml:"retries"`
	RPCURL         string `yaml:"rpc_url"`
	DataDir        string `yaml:"data_dir"`
	PriceCache     struct {
		Enabled  *bool  `yaml:"enabled"`
		TTL      string `yaml:"ttl"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"price_cache"`
	Addresses struct {
		Default string            `yaml:"default"`
		Aliases map[string]string `yaml:"aliases"`
	} `yaml:"addresses"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.AdapterTimeout <= 0 {
		settings.AdapterTimeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.PriceCacheTTL <= 0 {
		settings.PriceCacheTTL = 2 * time.Minute
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:         "json",
		Timeout:            30 * time.Second,
		AdapterTimeout:     10 * time.Second,
		Retries:            2,
		RPCURL:             "https://flare-api.flare.network/ext/C/rpc",
		DataDir:            dataDir,
		CacheEnabled:       true,
		PriceCachePath:     cachePath,
		PriceCacheLockPath: lockPath,
		PriceCacheTTL:      2 * time.Minute,
		IncludePrices:      true,
		LogLevel:           "warn",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "portfolio", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "portfolio")
	return filepath.Join(dir, "prices.db"), filepath.Join(dir, "prices.lock"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "portfolio", "snapshots"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.AdapterTimeout != "" {
		d, err := time.ParseDuration(cfg.AdapterTimeout)
		if err != nil {
			return fmt.Errorf("config adapter_timeout: %w", err)
		}
		settings.AdapterTimeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.DataDir != "" {
		settings.DataDir = cfg.DataDir
	}
	if cfg.PriceCache.Enabled != nil {
		settings.CacheEnabled = *cfg.PriceCache.Enabled
	}
	if cfg.PriceCache.TTL != "" {
		d, err := time.ParseDuration(cfg.PriceCache.TTL)
		if err != nil {
			return fmt.Errorf("config price_cache.ttl: %w", err)
		}
		settings.PriceCacheTTL = d
	}
	if cfg.PriceCache.Path != "" {
		settings.PriceCachePath = cfg.PriceCache.Path
	}
	if cfg.PriceCache.LockPath != "" {
		settings.PriceCacheLockPath = cfg.PriceCache.LockPath
	}
	if cfg.Addresses.Default != "" {
		settings.DefaultAddress = cfg.Addresses.Default
	}
	if len(cfg.Addresses.Aliases) > 0 {
		settings.Aliases = cfg.Addresses.Aliases
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("PORTFOLIO_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("PORTFOLIO_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("PORTFOLIO_ADAPTER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.AdapterTimeout = d
		}
	}
	if v := os.Getenv("PORTFOLIO_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("PORTFOLIO_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("PORTFOLIO_DATA_DIR"); v != "" {
		settings.DataDir = v
	}
	if v := os.Getenv("PORTFOLIO_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("PORTFOLIO_ADDRESS"); v != "" {
		settings.DefaultAddress = v
	}
	if v := os.Getenv("PORTFOLIO_LOG"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("use either --json or --plain, not both")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.ResultsOnly {
		settings.ResultsOnly = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.AdapterTimeout != "" {
		d, err := time.ParseDuration(flags.AdapterTimeout)
		if err != nil {
			return fmt.Errorf("--adapter-timeout: %w", err)
		}
		settings.AdapterTimeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.RPCURL != "" {
		settings.RPCURL = flags.RPCURL
	}
	if flags.DataDir != "" {
		settings.DataDir = flags.DataDir
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.NoPrices {
		settings.IncludePrices = false
	}
	if flags.Categories != "" {
		parts := strings.Split(flags.Categories, ",")
		settings.Categories = settings.Categories[:0]
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				settings.Categories = append(settings.Categories, trimmed)
			}
		}
	}
	return nil
}

// ResolveAddress maps CLI input to a normalizable address: an explicit
// argument wins, aliases (e.g. "dao") resolve to their configured target,
// and the configured default covers the empty case.
func (s Settings) ResolveAddress(input string) (string, error) {
	candidate := strings.TrimSpace(input)
	if candidate == "" {
		candidate = s.DefaultAddress
	}
	if candidate == "" {
		return "", fmt.Errorf("no address given and no default configured")
	}
	if alias, ok := s.Aliases[strings.ToLower(candidate)]; ok {
		candidate = alias
	}
	return candidate, nil
}
